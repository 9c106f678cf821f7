package core

// engine_verify.go -- the incoming-node verification pipeline (§4.1).
//
// verifyNode is the path through which received nodes are marked verified.
// The returned verifiedWitness (unexported type, unexported fields) carries
// the node and hash that passed the pipeline. commitVerified, which emits
// EffectWriteStore with verified=true, head updates and the ratchet
// advance, takes the node and hash directly rather than a witness, and
// Engine.AuthorNode calls it for locally-built nodes without running
// verifyNode.
type verifiedWitness struct {
	node *MerkleNode
	hash Hash32
}

// verifyOutcome is the result of running a node through the pipeline.
type verifyOutcome uint8

const (
	outcomeVerified verifyOutcome = iota
	outcomeSpeculative
	outcomeRejected
)

type verifyResult struct {
	outcome verifyOutcome
	witness *verifiedWitness
	missing []Hash32 // parents not yet present, when outcomeSpeculative
	err     error
}

// verifyNode runs steps 1-7 of §4.1 against wire, the as-received bytes for
// a claimed hash. conv must be the Conversation the node claims to belong
// to; im is consulted for authorization (step 5).
func verifyNode(conv *Conversation, im *IdentityManager, store Storage, claimedHash Hash32, wire []byte, now int64) verifyResult {
	// Step 1: deserialize.
	n, err := DecodeMerkleNode(wire)
	if err != nil {
		return verifyResult{outcome: outcomeRejected, err: newErr(ErrProtocol, "malformed node", err)}
	}

	// Step 2: recompute hash.
	h := hashNode(n)
	if h != claimedHash {
		return verifyResult{outcome: outcomeRejected, err: newErr(ErrIntegrity, "hash mismatch", nil)}
	}
	if store.IsInvalid(conv.ID, h) {
		return verifyResult{outcome: outcomeRejected, err: newErr(ErrIntegrity, "node marked invalid", nil)}
	}

	// Step 3: authentication.
	if n.Authentication.Kind == AuthMAC {
		key := conv.keyForEpoch(currentEpochFor(n, conv))
		if key == nil {
			return verifyResult{outcome: outcomeRejected, err: newErr(ErrAuthentication, "unknown epoch for mac node", nil)}
		}
		if !verifyMAC(key.Key, canonicalPreAuth(n), n.Authentication.MAC[:]) {
			return verifyResult{outcome: outcomeRejected, err: newErr(ErrAuthentication, "mac invalid", nil)}
		}
	} else {
		if !Verify(n.SenderPK[:], canonicalPreAuth(n), n.Authentication.Signature[:]) {
			return verifyResult{outcome: outcomeRejected, err: newErr(ErrAuthentication, "signature invalid", nil)}
		}
	}

	// Step 4: group genesis PoW.
	isGenesis := len(n.Parents) == 0
	isGroupGenesis := isGenesis && n.Authentication.Kind == AuthSignature &&
		n.Content.Kind == ContentControl && n.Content.Control != nil && n.Content.Control.Kind == ControlGenesis
	if isGroupGenesis && !validatePoW(h[:], groupGenesisDifficulty) {
		return verifyResult{outcome: outcomeRejected, err: newErr(ErrAuthentication, "group genesis missing valid pow", nil)}
	}

	// Step 5: sender authorized by author at network_timestamp.
	if n.AuthorPK != n.SenderPK && !isGenesis {
		if !im.IsAuthorized(conv.ID, n.SenderPK, n.AuthorPK, n.NetworkTsMillis) {
			return verifyResult{outcome: outcomeRejected, err: newErr(ErrAuthorization, "sender not authorized", nil)}
		}
	}

	// Step 6: parents present and verified.
	var missing []Hash32
	parentRanks := make([]uint64, 0, len(n.Parents))
	for _, p := range n.Parents {
		pn, verified, _ := store.GetNode(p)
		if pn == nil || !verified {
			missing = append(missing, p)
			continue
		}
		parentRanks = append(parentRanks, pn.TopologicalRank)
	}
	if len(missing) > 0 {
		return verifyResult{outcome: outcomeSpeculative, missing: missing, witness: &verifiedWitness{node: n, hash: h}}
	}

	// Step 7: rank.
	if n.TopologicalRank != rankOf(parentRanks) {
		return verifyResult{outcome: outcomeRejected, err: newErr(ErrIntegrity, "rank mismatch", nil)}
	}

	// Step 8: sequence monotonicity is not checked here. It is tracked per
	// (cid, sender) via the highest verified sequence number seen, by the
	// engine's seqTracker in engine.go's commitVerified.
	return verifyResult{outcome: outcomeVerified, witness: &verifiedWitness{node: n, hash: h}}
}

// currentEpochFor picks which conversation-key epoch a MAC node should be
// checked against. In the absence of an explicit epoch field on 1-on-1
// nodes, the engine checks against the conversation's *current* epoch key
// only; a MAC node that fails under it is rejected, and historical epoch
// keys are not tried.
func currentEpochFor(n *MerkleNode, conv *Conversation) uint64 {
	return conv.Epoch
}

// seqTracker records the highest verified sequence number per (cid,
// sender), rejecting any node whose sequence number has already been seen
// or gone backwards.
type seqTracker struct {
	highest map[seqKey]uint64
}

type seqKey struct {
	cid    ConversationId
	sender PhysicalDevicePk
}

func newSeqTracker() *seqTracker {
	return &seqTracker{highest: make(map[seqKey]uint64)}
}

// check reports whether seq is strictly greater than every previously
// accepted sequence for (cid, sender), and if so records it.
func (t *seqTracker) check(cid ConversationId, sender PhysicalDevicePk, seq uint64) bool {
	k := seqKey{cid: cid, sender: sender}
	prev, seen := t.highest[k]
	if seen && seq <= prev {
		return false
	}
	t.highest[k] = seq
	return true
}
