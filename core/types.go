package core

// types.go -- centralised struct definitions referenced across the engine,
// reconciliation and transport modules. This file declares data structures
// only (no methods beyond trivial accessors) so the rest of the package can
// depend on a single, dependency-light source of truth.

import (
	"time"
)

// ---------------------------------------------------------------------
// Identity
// ---------------------------------------------------------------------

// LogicalIdentityPk is the stable, cross-device verifying key of a user.
type LogicalIdentityPk [32]byte

// PhysicalDevicePk is a per-device verifying key.
type PhysicalDevicePk [32]byte

// Permission is a bitflag set of actions a certificate authorizes.
type Permission uint32

const (
	PermPost Permission = 1 << iota
	PermReact
	PermRedact
	PermInviteAdmin
	PermRevoke
	PermRotateKey
)

// Certificate authorizes subject_device_pk to act on behalf of issuer_pk
// within a conversation between IssuedAt and ExpiresAt.
type Certificate struct {
	IssuerPK    LogicalIdentityPk
	SubjectPK   PhysicalDevicePk
	Permissions Permission
	IssuedAt    int64 // unix millis
	ExpiresAt   int64 // unix millis
	Signature   []byte
}

func (c *Certificate) signingBytes() []byte {
	buf := make([]byte, 0, 32+32+4+8+8)
	buf = append(buf, c.IssuerPK[:]...)
	buf = append(buf, c.SubjectPK[:]...)
	buf = appendU32(buf, uint32(c.Permissions))
	buf = appendI64(buf, c.IssuedAt)
	buf = appendI64(buf, c.ExpiresAt)
	return buf
}

const maxCertChainDepth = 16

// ---------------------------------------------------------------------
// DAG node
// ---------------------------------------------------------------------

// ContentKind tags the variant stored in a MerkleNode's Content field.
type ContentKind uint8

const (
	ContentText ContentKind = iota
	ContentBlob
	ContentReaction
	ContentRedaction
	ContentControl
	ContentKeyWrap
	ContentRatchetSnapshot
)

// ControlActionKind tags the variant of a Content_Control payload.
type ControlActionKind uint8

const (
	ControlGenesis ControlActionKind = iota
	ControlInvite
	ControlRevoke
)

// ControlAction is the payload of Content::Control(...).
type ControlAction struct {
	Kind ControlActionKind

	// Genesis
	Title   string
	Creator LogicalIdentityPk

	// Invite
	Cert *Certificate

	// Revoke
	RevokedIssuedAt int64 // identifies the certificate being revoked
	Reason          string
}

// Content is the tagged union carried by every MerkleNode.
type Content struct {
	Kind ContentKind

	Text string // ContentText

	BlobName string // ContentBlob
	BlobHash Hash32
	BlobSize uint64

	ReactionEmoji  string // ContentReaction
	ReactionTarget Hash32

	RedactionReason string // ContentRedaction
	RedactionTarget Hash32

	Control *ControlAction // ContentControl

	KeyWrapEpoch      uint64 // ContentKeyWrap
	KeyWrapNonce      []byte
	KeyWrapCiphertext []byte
	KeyWrapRecipient  PhysicalDevicePk

	RatchetSnapshotEpoch uint64 // ContentRatchetSnapshot
	RatchetSnapshotBlob  []byte

	Extension []byte // forward-compatible escape hatch
}

// AuthKind tags whether a node carries a MAC or a signature.
type AuthKind uint8

const (
	AuthMAC AuthKind = iota
	AuthSignature
)

// Authentication is the tagged union of a node's authenticity proof.
type Authentication struct {
	Kind      AuthKind
	MAC       [32]byte // AuthMAC
	Signature [64]byte // AuthSignature
}

// MerkleNode is an immutable DAG event. hash(node) is the Blake3 digest of
// its canonical serialization including Authentication (see wire.go).
type MerkleNode struct {
	Parents         []Hash32
	AuthorPK        LogicalIdentityPk
	SenderPK        PhysicalDevicePk
	SequenceNumber  uint64
	TopologicalRank uint64
	NetworkTsMillis int64
	Content         Content
	Metadata        []byte
	Authentication  Authentication
}

// ---------------------------------------------------------------------
// Conversation
// ---------------------------------------------------------------------

// ConversationId is a 32-byte conversation identifier. For 1-on-1
// conversations it is derived deterministically from the two sorted
// logical identity keys (see NewOneOnOneConversationId).
type ConversationId [32]byte

// ConversationPhase tracks whether a conversation has a genesis yet.
type ConversationPhase uint8

const (
	PhasePending ConversationPhase = iota
	PhaseEstablished
)

// ConversationKey is one epoch's conversation key, from which the MAC key
// and padding/AEAD key are derived.
type ConversationKey struct {
	Epoch uint64
	Key   []byte
}

// Conversation holds the mutable per-conversation state the engine owns.
type Conversation struct {
	ID         ConversationId
	Phase      ConversationPhase
	Keys       []ConversationKey // ordered by epoch, all retained
	Heads      []Hash32          // unordered current tips
	AdminHeads []Hash32

	Epoch            uint64
	MessageCount     uint64
	LastRotationMs   int64
	GroupGenesisFlag bool // true once a Control(Genesis) has been authored/seen
}

func (c *Conversation) currentKey() *ConversationKey {
	if len(c.Keys) == 0 {
		return nil
	}
	return &c.Keys[len(c.Keys)-1]
}

func (c *Conversation) keyForEpoch(epoch uint64) *ConversationKey {
	for i := range c.Keys {
		if c.Keys[i].Epoch == epoch {
			return &c.Keys[i]
		}
	}
	return nil
}

// ---------------------------------------------------------------------
// Ratchet
// ---------------------------------------------------------------------

// HotRatchetKey is a chain key superseded by a more recent node from the
// same device, retained until compaction migrates it into a cold
// checkpoint.
type HotRatchetKey struct {
	DeviceID        PhysicalDevicePk
	Epoch           uint64
	PriorChainKey   []byte
	TriggeringNode  Hash32
}

// ---------------------------------------------------------------------
// Small helpers shared by serialization code
// ---------------------------------------------------------------------

func appendU32(buf []byte, v uint32) []byte {
	return append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func appendI64(buf []byte, v int64) []byte {
	u := uint64(v)
	return append(buf,
		byte(u>>56), byte(u>>48), byte(u>>40), byte(u>>32),
		byte(u>>24), byte(u>>16), byte(u>>8), byte(u))
}

// nowMillis reads the wall clock as unix milliseconds. The transport and
// cmd/merkletoxd call time.Now directly rather than going through it.
func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// timeFromMillis converts a unix-millis timestamp back to a time.Time for
// APIs (session.go) that are expressed in terms of time.Time rather than a
// raw millis integer.
func timeFromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}
