package core

// engine.go -- the deterministic conversation engine. Engine owns every
// piece of mutable state the conversation model requires: a map of
// Conversation by id, a PeerSession pool, the identity manager, and the
// ratchet state cache. It never performs I/O; handle_message, author_node
// and tick each return an Effect list for engine_runtime.go to apply.
import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Engine is the single entry point for all conversation-level state
// transitions. It is driven from one goroutine: mu guards the conversation
// and ratchet maps, but the sequence tracker and the Conversation fields
// read by the dispatch handlers are not locked, so the exported methods are
// not safe for concurrent use.
type Engine struct {
	mu            sync.RWMutex
	conversations map[ConversationId]*Conversation
	ratchets      map[ratchetKey]*ratchetState

	store    Storage
	identity *IdentityManager
	sessions *sessionPool
	seqs     *seqTracker
	powTrack *powDifficultyTracker
	rng      *splitMix64

	log *logrus.Logger
}

type ratchetKey struct {
	cid    ConversationId
	device PhysicalDevicePk
}

// EngineConfig bundles the engine's constructor dependencies.
type EngineConfig struct {
	Store      Storage
	Identity   *IdentityManager
	Logger     *logrus.Logger
	RNGSeed    uint64
}

// NewEngine wires an Engine from its dependencies, creating a fresh
// in-memory session pool and sequence tracker.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.Identity == nil {
		cfg.Identity = NewIdentityManager()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Engine{
		conversations: make(map[ConversationId]*Conversation),
		ratchets:      make(map[ratchetKey]*ratchetState),
		store:         cfg.Store,
		identity:      cfg.Identity,
		sessions:      newSessionPool(0),
		seqs:          newSeqTracker(),
		powTrack:      newPowDifficultyTracker(),
		rng:           newSplitMix64(cfg.RNGSeed),
		log:           cfg.Logger,
	}
}

// conversation returns the conversation for cid, creating a pending one if
// this is the first time it has been seen.
func (e *Engine) conversation(cid ConversationId) *Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.conversations[cid]
	if !ok {
		c = newConversation(cid)
		e.conversations[cid] = c
	}
	return c
}

// ConversationSnapshot returns a copy of the engine's current view of a
// conversation, for read-only inspection by callers (CLI, tests).
func (e *Engine) ConversationSnapshot(cid ConversationId) (Conversation, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.conversations[cid]
	if !ok {
		return Conversation{}, false
	}
	return *c, true
}

// HandleIncomingNode runs a received node through the verification pipeline
// and returns the Effect list for the runtime to apply. This is the
// "handle_message" entry point for MsgMerkleNode (§4.1).
func (e *Engine) HandleIncomingNode(peer PhysicalDevicePk, cid ConversationId, claimedHash Hash32, wire []byte, now int64) []Effect {
	conv := e.conversation(cid)
	result := verifyNode(conv, e.identity, e.store, claimedHash, wire, now)

	switch result.outcome {
	case outcomeRejected:
		e.log.WithFields(logrus.Fields{"peer": peer, "cid": cid, "err": result.err}).Warn("node rejected")
		return nil

	case outcomeSpeculative:
		n := result.witness.node
		h := result.witness.hash
		effects := []Effect{effWriteStore(cid, n, h, false)}
		for _, p := range result.missing {
			e.store.AddReverseDependency(p, h)
			effects = append(effects, effSend(peer, ProtocolMessage{Kind: MsgFetchBatchReq, CID: cid, Hashes: []Hash32{p}}))
		}
		effects = append(effects, effNotify(cid, NodeEvent{Kind: EventNodeSpeculative, CID: cid, Hash: h, Peer: peer}))
		return effects

	default: // outcomeVerified
		return e.commitVerified(conv, peer, result.witness.node, result.witness.hash, wire, now)
	}
}

// commitVerified builds the full effect list for a newly-verified node:
// persist it, advance heads, advance the sender's ratchet, roll the
// conversation epoch if due, and recursively re-attempt any speculative
// children that were waiting on it (§4.1 step 6 resolution, §9).
func (e *Engine) commitVerified(conv *Conversation, peer PhysicalDevicePk, n *MerkleNode, h Hash32, wire []byte, now int64) []Effect {
	if !e.seqs.check(conv.ID, n.SenderPK, n.SequenceNumber) {
		e.log.WithFields(logrus.Fields{"cid": conv.ID, "sender": n.SenderPK}).Warn("sequence regression, dropping")
		return nil
	}

	var effects []Effect
	effects = append(effects, effWriteStore(conv.ID, n, h, true), Effect{Kind: EffectWriteWireNode, CID: conv.ID, Hash: h, WireBytes: wire})

	isGenesis := len(n.Parents) == 0
	e.mu.Lock()
	if isGenesis && conv.Phase == PhasePending {
		var key ConversationKey
		if n.Authentication.Kind == AuthMAC {
			key = ConversationKey{Epoch: 0, Key: nil} // 1-on-1: key material supplied out of band by the pairing flow
		}
		conv.establish(key)
	}
	if isAdminAction(n) {
		conv.AdminHeads = advanceHeads(conv.AdminHeads, n, h)
		effects = append(effects, effUpdateHeads(conv.ID, conv.AdminHeads))
	} else {
		conv.Heads = advanceHeads(conv.Heads, n, h)
		effects = append(effects, effUpdateHeads(conv.ID, conv.Heads))
	}
	conv.MessageCount++
	e.mu.Unlock()

	rk := ratchetKey{cid: conv.ID, device: n.SenderPK}
	e.mu.Lock()
	cur := e.ratchets[rk]
	next, hot := advanceRatchet(n.SenderPK, conv.Epoch, cur, h)
	e.ratchets[rk] = next
	e.mu.Unlock()
	effects = append(effects, Effect{Kind: EffectWriteRatchetKey, CID: conv.ID, RatchetKey: hot})

	effects = append(effects, effNotify(conv.ID, NodeEvent{Kind: EventNodeVerified, CID: conv.ID, Hash: h, Peer: peer}))

	if conv.rotationDue(defaultMaxRotationMessages, defaultMaxRotationAgeMs, now) {
		effects = append(effects, e.rotateEpoch(conv, now)...)
	}

	effects = append(effects, e.retrySpeculativeChildren(conv, h, now)...)
	return effects
}

// defaultMaxRotationMessages / defaultMaxRotationAgeMs are the only
// rotation thresholds commitVerified passes to rotationDue. Both are zero,
// so epoch rotation never triggers; pkg/config's Merkletox.KeyRotation*
// fields are not read by the engine or the runtime.
const (
	defaultMaxRotationMessages = uint64(0) // 0 disables message-count rotation
	defaultMaxRotationAgeMs    = int64(0)  // 0 disables age-based rotation
)

// rotateEpoch installs a freshly-derived conversation key and emits the
// effects to persist and announce it.
func (e *Engine) rotateEpoch(conv *Conversation, now int64) []Effect {
	e.mu.Lock()
	next := conv.nextEpochKey()
	conv.Keys = append(conv.Keys, next)
	conv.Epoch = next.Epoch
	conv.MessageCount = 0
	conv.LastRotationMs = now
	e.mu.Unlock()
	return []Effect{
		{Kind: EffectWriteConversationKey, CID: conv.ID, ConvKey: next},
		{Kind: EffectWriteEpochMetadata, CID: conv.ID, MessageCount: 0, LastRotationMs: now},
	}
}

// retrySpeculativeChildren re-verifies any speculative node that was
// waiting on parentHash, recursing through commitVerified for each child
// that now verifies cleanly (§4.1 step 6, §9 "reverse dependency").
func (e *Engine) retrySpeculativeChildren(conv *Conversation, parentHash Hash32, now int64) []Effect {
	children := e.store.TakeReverseDependents(parentHash)
	var effects []Effect
	for _, childHash := range children {
		wire, ok := e.store.GetWireNode(childHash)
		if !ok {
			continue
		}
		result := verifyNode(conv, e.identity, e.store, childHash, wire, now)
		if result.outcome == outcomeVerified {
			effects = append(effects, e.commitVerified(conv, PhysicalDevicePk{}, result.witness.node, result.witness.hash, wire, now)...)
		}
	}
	return effects
}

// AuthorNode commits a locally-built, already-authenticated node (and, for
// a group genesis, already PoW-solved) into cid's conversation state
// exactly as an incoming node would be on successful verification, and
// returns the resulting effects plus the node's hash for the caller to
// broadcast to peers.
func (e *Engine) AuthorNode(cid ConversationId, n *MerkleNode, now int64) (Hash32, []Effect) {
	conv := e.conversation(cid)
	h := hashNode(n)
	effects := e.commitVerified(conv, PhysicalDevicePk{}, n, h, EncodeMerkleNode(n), now)
	return h, effects
}

// Tick runs the engine's periodic maintenance: session reaping and, in a
// full deployment, reconciliation scheduling (engine_runtime.go drives the
// wall-clock timer that calls this).
func (e *Engine) Tick(now int64) []Effect {
	dropped := e.sessions.sweep(timeFromMillis(now))
	var effects []Effect
	for _, key := range dropped {
		effects = append(effects, effNotify(key.cid, NodeEvent{Kind: EventPeerHandshakeComplete, CID: key.cid, Peer: key.peer}))
	}
	return effects
}
