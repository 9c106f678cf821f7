package core

// protocol_messages.go -- the closed set of application-level protocol
// messages exchanged once a transport session is Active (§4.1, §6).

// MessageKind tags the variant of a ProtocolMessage.
type MessageKind uint8

const (
	MsgCapsAnnounce MessageKind = iota
	MsgCapsAck
	MsgSyncHeads
	MsgSyncSketch
	MsgSyncShardChecksums
	MsgSyncReconFail
	MsgReconPowChallenge
	MsgReconPowSolution
	MsgFetchBatchReq
	MsgMerkleNode
	MsgBlobQuery
	MsgBlobAvail
	MsgBlobReq
	MsgBlobData
)

// syncHeadsMaxEntries and fetchBatchMaxHashes bound sync burst sizes to the
// ≤2-packet framing budget described in §6.
const (
	syncHeadsMaxEntries  = 64
	fetchBatchMaxHashes  = 64
)

// ProtocolMessage is the tagged union of everything the conversation engine
// dispatches on in handle_message.
type ProtocolMessage struct {
	Kind MessageKind
	CID  ConversationId

	// MsgCapsAnnounce / MsgCapsAck
	Version  uint32
	Features uint32

	// MsgSyncHeads
	Heads []Hash32
	Flags uint32

	// MsgSyncSketch
	Sketch *IBLTSketch

	// MsgSyncShardChecksums
	ShardChecksums [][32]byte

	// MsgSyncReconFail
	FailRangeLo uint64
	FailRangeHi uint64

	// MsgReconPowChallenge
	PowNonce      []byte
	PowDifficulty uint8

	// MsgReconPowSolution
	PowSolution []byte

	// MsgFetchBatchReq
	Hashes []Hash32

	// MsgMerkleNode
	NodeHash Hash32
	NodeWire []byte

	// Blob subprotocol
	BlobHash  Hash32
	BlobBytes []byte
	BlobChunk uint64
}
