package core

// wire.go -- canonical MessagePack encoding for DAG nodes, protocol
// messages and transport packets.
//
// The node encoding here is deliberately array-tagged rather than
// map-tagged: every struct it writes encodes as a fixed-length MessagePack
// array in field-declaration order, and every tagged union it writes
// (Content, Authentication, ControlAction) encodes as a 2-element array
// `[tag, body]`. This keeps hashing and decoding independent of map key
// ordering, which vmihailenco/msgpack does not otherwise guarantee.
// ProtocolMessage and Packet are not encoded here: they go through
// msgpack's struct reflection (Packet as an array of all its fields,
// ProtocolMessage as a map keyed by field name).
//
// The encode/decode pairs hand-roll wire helpers next to the struct they
// serialize rather than relying on struct-tag reflection for anything
// hash-sensitive.

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// ---------------------------------------------------------------------
// MerkleNode canonical serialization
// ---------------------------------------------------------------------

func encodeHash(enc *msgpack.Encoder, h Hash32) error {
	return enc.EncodeBytes(h[:])
}

func decodeHash(dec *msgpack.Decoder) (Hash32, error) {
	b, err := dec.DecodeBytes()
	if err != nil {
		return Hash32{}, err
	}
	var h Hash32
	if len(b) != 32 {
		return h, fmt.Errorf("wire: expected 32-byte hash, got %d", len(b))
	}
	copy(h[:], b)
	return h, nil
}

func encodeContent(enc *msgpack.Encoder, c *Content) error {
	if err := enc.EncodeArrayLen(2); err != nil {
		return err
	}
	if err := enc.EncodeUint8(uint8(c.Kind)); err != nil {
		return err
	}
	switch c.Kind {
	case ContentText:
		return enc.EncodeString(c.Text)
	case ContentBlob:
		if err := enc.EncodeArrayLen(3); err != nil {
			return err
		}
		if err := enc.EncodeString(c.BlobName); err != nil {
			return err
		}
		if err := encodeHash(enc, c.BlobHash); err != nil {
			return err
		}
		return enc.EncodeUint64(c.BlobSize)
	case ContentReaction:
		if err := enc.EncodeArrayLen(2); err != nil {
			return err
		}
		if err := enc.EncodeString(c.ReactionEmoji); err != nil {
			return err
		}
		return encodeHash(enc, c.ReactionTarget)
	case ContentRedaction:
		if err := enc.EncodeArrayLen(2); err != nil {
			return err
		}
		if err := enc.EncodeString(c.RedactionReason); err != nil {
			return err
		}
		return encodeHash(enc, c.RedactionTarget)
	case ContentControl:
		return encodeControlAction(enc, c.Control)
	case ContentKeyWrap:
		if err := enc.EncodeArrayLen(4); err != nil {
			return err
		}
		if err := enc.EncodeUint64(c.KeyWrapEpoch); err != nil {
			return err
		}
		if err := enc.EncodeBytes(c.KeyWrapNonce); err != nil {
			return err
		}
		if err := enc.EncodeBytes(c.KeyWrapCiphertext); err != nil {
			return err
		}
		return enc.EncodeBytes(c.KeyWrapRecipient[:])
	case ContentRatchetSnapshot:
		if err := enc.EncodeArrayLen(2); err != nil {
			return err
		}
		if err := enc.EncodeUint64(c.RatchetSnapshotEpoch); err != nil {
			return err
		}
		return enc.EncodeBytes(c.RatchetSnapshotBlob)
	default:
		return enc.EncodeBytes(c.Extension)
	}
}

func decodeContent(dec *msgpack.Decoder) (Content, error) {
	var c Content
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return c, err
	}
	if n != 2 {
		return c, fmt.Errorf("wire: content envelope must be 2-tuple, got %d", n)
	}
	kind, err := dec.DecodeUint8()
	if err != nil {
		return c, err
	}
	c.Kind = ContentKind(kind)
	switch c.Kind {
	case ContentText:
		c.Text, err = dec.DecodeString()
	case ContentBlob:
		if _, err = dec.DecodeArrayLen(); err != nil {
			return c, err
		}
		if c.BlobName, err = dec.DecodeString(); err != nil {
			return c, err
		}
		if c.BlobHash, err = decodeHash(dec); err != nil {
			return c, err
		}
		c.BlobSize, err = dec.DecodeUint64()
	case ContentReaction:
		if _, err = dec.DecodeArrayLen(); err != nil {
			return c, err
		}
		if c.ReactionEmoji, err = dec.DecodeString(); err != nil {
			return c, err
		}
		c.ReactionTarget, err = decodeHash(dec)
	case ContentRedaction:
		if _, err = dec.DecodeArrayLen(); err != nil {
			return c, err
		}
		if c.RedactionReason, err = dec.DecodeString(); err != nil {
			return c, err
		}
		c.RedactionTarget, err = decodeHash(dec)
	case ContentControl:
		ca, derr := decodeControlAction(dec)
		if derr != nil {
			return c, derr
		}
		c.Control = ca
	case ContentKeyWrap:
		if _, err = dec.DecodeArrayLen(); err != nil {
			return c, err
		}
		if c.KeyWrapEpoch, err = dec.DecodeUint64(); err != nil {
			return c, err
		}
		if c.KeyWrapNonce, err = dec.DecodeBytes(); err != nil {
			return c, err
		}
		if c.KeyWrapCiphertext, err = dec.DecodeBytes(); err != nil {
			return c, err
		}
		var recip []byte
		if recip, err = dec.DecodeBytes(); err != nil {
			return c, err
		}
		if len(recip) != 32 {
			return c, fmt.Errorf("wire: bad keywrap recipient length %d", len(recip))
		}
		copy(c.KeyWrapRecipient[:], recip)
	case ContentRatchetSnapshot:
		if _, err = dec.DecodeArrayLen(); err != nil {
			return c, err
		}
		if c.RatchetSnapshotEpoch, err = dec.DecodeUint64(); err != nil {
			return c, err
		}
		c.RatchetSnapshotBlob, err = dec.DecodeBytes()
	default:
		c.Extension, err = dec.DecodeBytes()
	}
	return c, err
}

func encodeControlAction(enc *msgpack.Encoder, ca *ControlAction) error {
	if ca == nil {
		return fmt.Errorf("wire: nil control action for Content_Control")
	}
	if err := enc.EncodeArrayLen(2); err != nil {
		return err
	}
	if err := enc.EncodeUint8(uint8(ca.Kind)); err != nil {
		return err
	}
	switch ca.Kind {
	case ControlGenesis:
		if err := enc.EncodeArrayLen(2); err != nil {
			return err
		}
		if err := enc.EncodeString(ca.Title); err != nil {
			return err
		}
		return enc.EncodeBytes(ca.Creator[:])
	case ControlInvite:
		return encodeCertificate(enc, ca.Cert)
	case ControlRevoke:
		if err := enc.EncodeArrayLen(2); err != nil {
			return err
		}
		if err := enc.EncodeInt64(ca.RevokedIssuedAt); err != nil {
			return err
		}
		return enc.EncodeString(ca.Reason)
	}
	return fmt.Errorf("wire: unknown control action kind %d", ca.Kind)
}

func decodeControlAction(dec *msgpack.Decoder) (*ControlAction, error) {
	if _, err := dec.DecodeArrayLen(); err != nil {
		return nil, err
	}
	kind, err := dec.DecodeUint8()
	if err != nil {
		return nil, err
	}
	ca := &ControlAction{Kind: ControlActionKind(kind)}
	switch ca.Kind {
	case ControlGenesis:
		if _, err = dec.DecodeArrayLen(); err != nil {
			return nil, err
		}
		if ca.Title, err = dec.DecodeString(); err != nil {
			return nil, err
		}
		var creator []byte
		if creator, err = dec.DecodeBytes(); err != nil {
			return nil, err
		}
		copy(ca.Creator[:], creator)
	case ControlInvite:
		ca.Cert, err = decodeCertificate(dec)
	case ControlRevoke:
		if _, err = dec.DecodeArrayLen(); err != nil {
			return nil, err
		}
		if ca.RevokedIssuedAt, err = dec.DecodeInt64(); err != nil {
			return nil, err
		}
		ca.Reason, err = dec.DecodeString()
	default:
		return nil, fmt.Errorf("wire: unknown control action tag %d", kind)
	}
	return ca, err
}

func encodeCertificate(enc *msgpack.Encoder, c *Certificate) error {
	if err := enc.EncodeArrayLen(6); err != nil {
		return err
	}
	if err := enc.EncodeBytes(c.IssuerPK[:]); err != nil {
		return err
	}
	if err := enc.EncodeBytes(c.SubjectPK[:]); err != nil {
		return err
	}
	if err := enc.EncodeUint32(uint32(c.Permissions)); err != nil {
		return err
	}
	if err := enc.EncodeInt64(c.IssuedAt); err != nil {
		return err
	}
	if err := enc.EncodeInt64(c.ExpiresAt); err != nil {
		return err
	}
	return enc.EncodeBytes(c.Signature)
}

func decodeCertificate(dec *msgpack.Decoder) (*Certificate, error) {
	if _, err := dec.DecodeArrayLen(); err != nil {
		return nil, err
	}
	c := &Certificate{}
	issuer, err := dec.DecodeBytes()
	if err != nil {
		return nil, err
	}
	copy(c.IssuerPK[:], issuer)
	subject, err := dec.DecodeBytes()
	if err != nil {
		return nil, err
	}
	copy(c.SubjectPK[:], subject)
	perm, err := dec.DecodeUint32()
	if err != nil {
		return nil, err
	}
	c.Permissions = Permission(perm)
	if c.IssuedAt, err = dec.DecodeInt64(); err != nil {
		return nil, err
	}
	if c.ExpiresAt, err = dec.DecodeInt64(); err != nil {
		return nil, err
	}
	c.Signature, err = dec.DecodeBytes()
	return c, err
}

func encodeAuthentication(enc *msgpack.Encoder, a *Authentication) error {
	if err := enc.EncodeArrayLen(2); err != nil {
		return err
	}
	if err := enc.EncodeUint8(uint8(a.Kind)); err != nil {
		return err
	}
	if a.Kind == AuthMAC {
		return enc.EncodeBytes(a.MAC[:])
	}
	return enc.EncodeBytes(a.Signature[:])
}

func decodeAuthentication(dec *msgpack.Decoder) (Authentication, error) {
	var a Authentication
	if _, err := dec.DecodeArrayLen(); err != nil {
		return a, err
	}
	kind, err := dec.DecodeUint8()
	if err != nil {
		return a, err
	}
	a.Kind = AuthKind(kind)
	b, err := dec.DecodeBytes()
	if err != nil {
		return a, err
	}
	if a.Kind == AuthMAC {
		if len(b) != 32 {
			return a, fmt.Errorf("wire: bad mac length %d", len(b))
		}
		copy(a.MAC[:], b)
	} else {
		if len(b) != 64 {
			return a, fmt.Errorf("wire: bad signature length %d", len(b))
		}
		copy(a.Signature[:], b)
	}
	return a, nil
}

// encodeNodeFields writes every MerkleNode field except Authentication.
// Shared by the pre-auth (sign/MAC target) and full (hash target) encoders.
func encodeNodeFields(enc *msgpack.Encoder, n *MerkleNode) error {
	if err := enc.EncodeArrayLen(len(n.Parents)); err != nil {
		return err
	}
	for _, p := range n.Parents {
		if err := encodeHash(enc, p); err != nil {
			return err
		}
	}
	if err := enc.EncodeBytes(n.AuthorPK[:]); err != nil {
		return err
	}
	if err := enc.EncodeBytes(n.SenderPK[:]); err != nil {
		return err
	}
	if err := enc.EncodeUint64(n.SequenceNumber); err != nil {
		return err
	}
	if err := enc.EncodeUint64(n.TopologicalRank); err != nil {
		return err
	}
	if err := enc.EncodeInt64(n.NetworkTsMillis); err != nil {
		return err
	}
	if err := encodeContent(enc, &n.Content); err != nil {
		return err
	}
	return enc.EncodeBytes(n.Metadata)
}

// canonicalPreAuth returns the bytes a signature or MAC is computed over.
func canonicalPreAuth(n *MerkleNode) []byte {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeArrayLen(8); err != nil {
		panic(err) // buffer writes never fail
	}
	if err := encodeNodeFields(enc, n); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// canonicalFull returns the bytes hash(node) is computed over: every field
// including Authentication.
func canonicalFull(n *MerkleNode) []byte {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeArrayLen(9); err != nil {
		panic(err)
	}
	if err := encodeNodeFields(enc, n); err != nil {
		panic(err)
	}
	if err := encodeAuthentication(enc, &n.Authentication); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// hashNode computes the canonical content hash of a node.
func hashNode(n *MerkleNode) Hash32 {
	return hashBytes(canonicalFull(n))
}

// EncodeMerkleNode serializes a node to its wire form.
func EncodeMerkleNode(n *MerkleNode) []byte {
	return canonicalFull(n)
}

// DecodeMerkleNode deserializes a node from its wire form. Round-trips
// exactly with EncodeMerkleNode.
func DecodeMerkleNode(b []byte) (*MerkleNode, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	n, err := decodeNode(dec)
	if err != nil {
		return nil, newErr(ErrProtocol, "decode merkle node", err)
	}
	return n, nil
}

func decodeNode(dec *msgpack.Decoder) (*MerkleNode, error) {
	l, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	if l != 9 {
		return nil, fmt.Errorf("wire: node envelope must have 9 fields, got %d", l)
	}
	n := &MerkleNode{}
	parentsLen, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	n.Parents = make([]Hash32, parentsLen)
	for i := 0; i < parentsLen; i++ {
		if n.Parents[i], err = decodeHash(dec); err != nil {
			return nil, err
		}
	}
	author, err := dec.DecodeBytes()
	if err != nil {
		return nil, err
	}
	if len(author) != 32 {
		return nil, fmt.Errorf("wire: bad author_pk length %d", len(author))
	}
	copy(n.AuthorPK[:], author)

	sender, err := dec.DecodeBytes()
	if err != nil {
		return nil, err
	}
	if len(sender) != 32 {
		return nil, fmt.Errorf("wire: bad sender_pk length %d", len(sender))
	}
	copy(n.SenderPK[:], sender)

	if n.SequenceNumber, err = dec.DecodeUint64(); err != nil {
		return nil, err
	}
	if n.TopologicalRank, err = dec.DecodeUint64(); err != nil {
		return nil, err
	}
	if n.NetworkTsMillis, err = dec.DecodeInt64(); err != nil {
		return nil, err
	}
	if n.Content, err = decodeContent(dec); err != nil {
		return nil, err
	}
	if n.Metadata, err = dec.DecodeBytes(); err != nil {
		return nil, err
	}
	if n.Authentication, err = decodeAuthentication(dec); err != nil {
		return nil, err
	}
	return n, nil
}
