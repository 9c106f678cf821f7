package core

// effects.go -- the engine's side-effect list (§4.1, §9). handle_message,
// author_node and tick never touch storage or the network directly; they
// return a slice of Effect for an outer runtime (engine_runtime.go) to
// apply in order.

// EffectKind tags the variant of an Effect.
type EffectKind uint8

const (
	EffectWriteStore EffectKind = iota
	EffectWriteWireNode
	EffectDeleteWireNode
	EffectWriteRatchetKey
	EffectDeleteRatchetKey
	EffectUpdateHeads
	EffectUpdateAdminHeads
	EffectWriteConversationKey
	EffectWriteEpochMetadata
	EffectSendPacket
	EffectNotify
)

// NodeEventKind tags the variant of a Notify effect's payload.
type NodeEventKind uint8

const (
	EventNodeVerified NodeEventKind = iota
	EventNodeSpeculative
	EventNodeInvalidated
	EventPeerHandshakeComplete
	EventBlobAvailable
)

// NodeEvent is a public, application-visible notification.
type NodeEvent struct {
	Kind NodeEventKind
	CID  ConversationId
	Hash Hash32
	Peer PhysicalDevicePk
}

// Effect is a single action the engine wants its runtime to perform.
// Exactly one of the typed fields is meaningful, selected by Kind -- a
// tagged-variant struct (see ControlAction) rather than an interface{}
// payload, so switch exhaustiveness is checkable by inspection.
type Effect struct {
	Kind EffectKind

	CID ConversationId

	// EffectWriteStore
	Node      *MerkleNode
	Hash      Hash32
	Verified  bool

	// EffectWriteWireNode / EffectDeleteWireNode
	WireBytes []byte

	// EffectWriteRatchetKey / EffectDeleteRatchetKey
	RatchetKey *HotRatchetKey

	// EffectUpdateHeads / EffectUpdateAdminHeads
	Heads []Hash32

	// EffectWriteConversationKey
	ConvKey ConversationKey

	// EffectWriteEpochMetadata
	MessageCount   uint64
	LastRotationMs int64

	// EffectSendPacket
	Peer    PhysicalDevicePk
	Message ProtocolMessage

	// EffectNotify
	Event NodeEvent
}

func effWriteStore(cid ConversationId, n *MerkleNode, h Hash32, verified bool) Effect {
	return Effect{Kind: EffectWriteStore, CID: cid, Node: n, Hash: h, Verified: verified}
}

func effUpdateHeads(cid ConversationId, heads []Hash32) Effect {
	return Effect{Kind: EffectUpdateHeads, CID: cid, Heads: heads}
}

func effSend(peer PhysicalDevicePk, msg ProtocolMessage) Effect {
	return Effect{Kind: EffectSendPacket, Peer: peer, Message: msg}
}

func effNotify(cid ConversationId, ev NodeEvent) Effect {
	return Effect{Kind: EffectNotify, CID: cid, Event: ev}
}
