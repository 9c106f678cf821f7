package core

// node.go -- DAG node construction and the standalone invariant checks that
// do not require store access (rank arithmetic, PoW, hash equality). Checks
// that need the store (parent presence, sequence monotonicity, authorization)
// live in engine_verify.go, which is the only caller of these helpers during
// the verification pipeline (§4.1).

import (
	"crypto/ed25519"
	"sort"
)

// NewOneOnOneConversationId derives a deterministic conversation id for a
// 1-on-1 chat from the two participants' logical identity keys, independent
// of argument order (end-to-end scenario 1).
func NewOneOnOneConversationId(a, b LogicalIdentityPk) ConversationId {
	first, second := a, b
	if bytesGreater(first[:], second[:]) {
		first, second = second, first
	}
	buf := make([]byte, 0, 64)
	buf = append(buf, first[:]...)
	buf = append(buf, second[:]...)
	return ConversationId(hashBytes(buf))
}

func bytesGreater(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return false
}

// groupGenesisDifficulty is the leading-zero-bit requirement group genesis
// nodes must satisfy.
const groupGenesisDifficulty = 12

// rankOf returns 1 + max(rank(parent)), or 0 when parents is empty
// (genesis). parentRanks must contain exactly one entry per parent, in the
// same order as parents -- callers (engine_verify.go) are responsible for
// resolving them from the store.
func rankOf(parentRanks []uint64) uint64 {
	if len(parentRanks) == 0 {
		return 0
	}
	max := parentRanks[0]
	for _, r := range parentRanks[1:] {
		if r > max {
			max = r
		}
	}
	return max + 1
}

// buildUnauthenticated constructs a node with everything except
// Authentication populated, ready for signing or MACing.
func buildUnauthenticated(parents []Hash32, authorPK LogicalIdentityPk,
	senderPK PhysicalDevicePk, seq uint64, rank uint64, ts int64, content Content, metadata []byte) *MerkleNode {
	sorted := append([]Hash32(nil), parents...)
	sort.Slice(sorted, func(i, j int) bool { return bytesGreater(sorted[j][:], sorted[i][:]) })
	return &MerkleNode{
		Parents:         sorted,
		AuthorPK:        authorPK,
		SenderPK:        senderPK,
		SequenceNumber:  seq,
		TopologicalRank: rank,
		NetworkTsMillis: ts,
		Content:         content,
		Metadata:        metadata,
	}
}

// signNode signs a group node's pre-auth bytes with the device's Ed25519
// private key and fills in its Authentication.
func signNode(n *MerkleNode, devicePriv ed25519.PrivateKey) {
	sig := Sign(devicePriv, canonicalPreAuth(n))
	n.Authentication = Authentication{Kind: AuthSignature}
	copy(n.Authentication.Signature[:], sig)
}

// macNode authenticates a 1-on-1 node under the conversation's current
// epoch key and fills in its Authentication.
func macNode(n *MerkleNode, kConv []byte) {
	mac := computeMAC(kConv, canonicalPreAuth(n))
	n.Authentication = Authentication{Kind: AuthMAC}
	copy(n.Authentication.MAC[:], mac)
}

// solveGroupGenesisPoW mutates metadata (used as a nonce field) and
// re-signs n on every attempt until hashNode(n) satisfies
// groupGenesisDifficulty leading zero bits. hash(node) includes
// Authentication, so the nonce must be folded in and the
// node re-signed before each hash attempt -- there is no way to search for a
// PoW nonce that both precedes the signature in the encoding and leaves an
// already-computed signature valid.
func solveGroupGenesisPoW(n *MerkleNode, devicePriv ed25519.PrivateKey, maxAttempts uint64) bool {
	for attempt := uint64(0); attempt < maxAttempts; attempt++ {
		n.Metadata = appendU64(n.Metadata[:0], attempt)
		signNode(n, devicePriv)
		if validatePoW(hashNode(n)[:], groupGenesisDifficulty) {
			return true
		}
	}
	return false
}

func appendU64(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
		byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// validateGenesisPoW reports whether a received group-genesis node's hash
// satisfies the required difficulty.
func validateGenesisPoW(n *MerkleNode) bool {
	return validatePoW(hashNode(n)[:], groupGenesisDifficulty)
}

// BuildOneOnOneGenesis authors the genesis node of a 1-on-1 conversation:
// empty parents, sequence 0, rank 0, MAC-authenticated under kConv. The
// result is deterministic for identical arguments, but the node carries the
// caller's authorPK and senderPK, so two participants passing their own keys
// get different nodes; only NewOneOnOneConversationId is independent of
// argument order.
func BuildOneOnOneGenesis(authorPK LogicalIdentityPk, senderPK PhysicalDevicePk, kConv []byte, ts int64) *MerkleNode {
	n := buildUnauthenticated(nil, authorPK, senderPK, 0, 0, ts, Content{Kind: ContentControl, Control: &ControlAction{
		Kind:    ControlGenesis,
		Creator: authorPK,
	}}, nil)
	macNode(n, kConv)
	return n
}

// BuildGroupGenesis authors and proof-of-work-solves the genesis node of a
// group conversation (end-to-end scenario 2). devicePriv must correspond to
// senderPK.
func BuildGroupGenesis(authorPK LogicalIdentityPk, senderPK PhysicalDevicePk, devicePriv ed25519.PrivateKey,
	title string, ts int64, maxAttempts uint64) (*MerkleNode, bool) {
	n := buildUnauthenticated(nil, authorPK, senderPK, 0, 0, ts, Content{Kind: ContentControl, Control: &ControlAction{
		Kind:    ControlGenesis,
		Title:   title,
		Creator: authorPK,
	}}, nil)
	ok := solveGroupGenesisPoW(n, devicePriv, maxAttempts)
	return n, ok
}
