package core

import (
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

func nodeWithContent(c Content, auth Authentication) *MerkleNode {
	return &MerkleNode{
		AuthorPK:       LogicalIdentityPk{1},
		SenderPK:       PhysicalDevicePk{2},
		SequenceNumber: 5,
		Content:        c,
		Authentication: auth,
	}
}

func TestWireRoundTripBlobContent(t *testing.T) {
	n := nodeWithContent(Content{
		Kind:     ContentBlob,
		BlobName: "photo.jpg",
		BlobHash: Hash32{0x11},
		BlobSize: 4096,
	}, Authentication{Kind: AuthMAC})

	decoded, err := DecodeMerkleNode(EncodeMerkleNode(n))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Content.BlobName != "photo.jpg" || decoded.Content.BlobHash != n.Content.BlobHash || decoded.Content.BlobSize != 4096 {
		t.Fatalf("blob content mismatch after round trip: %+v", decoded.Content)
	}
}

func TestWireRoundTripReactionAndRedaction(t *testing.T) {
	reaction := nodeWithContent(Content{
		Kind:           ContentReaction,
		ReactionEmoji:  "🔥",
		ReactionTarget: Hash32{0x22},
	}, Authentication{Kind: AuthMAC})
	decoded, err := DecodeMerkleNode(EncodeMerkleNode(reaction))
	if err != nil {
		t.Fatalf("decode reaction: %v", err)
	}
	if decoded.Content.ReactionEmoji != "🔥" || decoded.Content.ReactionTarget != reaction.Content.ReactionTarget {
		t.Fatalf("reaction content mismatch: %+v", decoded.Content)
	}

	redaction := nodeWithContent(Content{
		Kind:            ContentRedaction,
		RedactionReason: "abuse",
		RedactionTarget: Hash32{0x33},
	}, Authentication{Kind: AuthMAC})
	decoded, err = DecodeMerkleNode(EncodeMerkleNode(redaction))
	if err != nil {
		t.Fatalf("decode redaction: %v", err)
	}
	if decoded.Content.RedactionReason != "abuse" || decoded.Content.RedactionTarget != redaction.Content.RedactionTarget {
		t.Fatalf("redaction content mismatch: %+v", decoded.Content)
	}
}

func TestWireRoundTripKeyWrapAndRatchetSnapshot(t *testing.T) {
	kw := nodeWithContent(Content{
		Kind:              ContentKeyWrap,
		KeyWrapEpoch:      7,
		KeyWrapNonce:      []byte{1, 2, 3},
		KeyWrapCiphertext: []byte{4, 5, 6, 7},
		KeyWrapRecipient:  PhysicalDevicePk{0x44},
	}, Authentication{Kind: AuthMAC})
	decoded, err := DecodeMerkleNode(EncodeMerkleNode(kw))
	if err != nil {
		t.Fatalf("decode keywrap: %v", err)
	}
	if decoded.Content.KeyWrapEpoch != 7 || decoded.Content.KeyWrapRecipient != kw.Content.KeyWrapRecipient {
		t.Fatalf("keywrap content mismatch: %+v", decoded.Content)
	}

	snap := nodeWithContent(Content{
		Kind:                 ContentRatchetSnapshot,
		RatchetSnapshotEpoch: 3,
		RatchetSnapshotBlob:  []byte{9, 9, 9},
	}, Authentication{Kind: AuthSignature, Signature: [64]byte{0x55}})
	decoded, err = DecodeMerkleNode(EncodeMerkleNode(snap))
	if err != nil {
		t.Fatalf("decode ratchet snapshot: %v", err)
	}
	if decoded.Content.RatchetSnapshotEpoch != 3 || decoded.Authentication.Kind != AuthSignature || decoded.Authentication.Signature != snap.Authentication.Signature {
		t.Fatalf("ratchet snapshot / signature auth mismatch: %+v %+v", decoded.Content, decoded.Authentication)
	}
}

func TestWireRoundTripControlActions(t *testing.T) {
	genesis := nodeWithContent(Content{
		Kind: ContentControl,
		Control: &ControlAction{
			Kind:    ControlGenesis,
			Title:   "Room",
			Creator: LogicalIdentityPk{0x66},
		},
	}, Authentication{Kind: AuthMAC})
	decoded, err := DecodeMerkleNode(EncodeMerkleNode(genesis))
	if err != nil {
		t.Fatalf("decode control genesis: %v", err)
	}
	if decoded.Content.Control.Kind != ControlGenesis || decoded.Content.Control.Title != "Room" || decoded.Content.Control.Creator != genesis.Content.Control.Creator {
		t.Fatalf("control genesis mismatch: %+v", decoded.Content.Control)
	}

	invite := nodeWithContent(Content{
		Kind: ContentControl,
		Control: &ControlAction{
			Kind: ControlInvite,
			Cert: &Certificate{
				IssuerPK:    LogicalIdentityPk{0x77},
				SubjectPK:   PhysicalDevicePk{0x88},
				Permissions: 0x3,
				IssuedAt:    1000,
				ExpiresAt:   2000,
				Signature:   []byte{1, 2, 3, 4},
			},
		},
	}, Authentication{Kind: AuthMAC})
	decoded, err = DecodeMerkleNode(EncodeMerkleNode(invite))
	if err != nil {
		t.Fatalf("decode control invite: %v", err)
	}
	cert := decoded.Content.Control.Cert
	if cert == nil || cert.IssuerPK != invite.Content.Control.Cert.IssuerPK || cert.Permissions != 0x3 || cert.IssuedAt != 1000 || cert.ExpiresAt != 2000 {
		t.Fatalf("invite certificate mismatch: %+v", cert)
	}

	revoke := nodeWithContent(Content{
		Kind: ContentControl,
		Control: &ControlAction{
			Kind:            ControlRevoke,
			RevokedIssuedAt: 1000,
			Reason:          "compromised device",
		},
	}, Authentication{Kind: AuthMAC})
	decoded, err = DecodeMerkleNode(EncodeMerkleNode(revoke))
	if err != nil {
		t.Fatalf("decode control revoke: %v", err)
	}
	if decoded.Content.Control.Kind != ControlRevoke || decoded.Content.Control.RevokedIssuedAt != 1000 || decoded.Content.Control.Reason != "compromised device" {
		t.Fatalf("control revoke mismatch: %+v", decoded.Content.Control)
	}
}

func TestWireRoundTripProtocolMessageSyncAndBlob(t *testing.T) {
	heads := ProtocolMessage{
		Kind:  MsgSyncHeads,
		CID:   ConversationId{0x01},
		Heads: []Hash32{{0x01}, {0x02}},
		Flags: 7,
	}
	wire, err := msgpack.Marshal(&heads)
	if err != nil {
		t.Fatalf("marshal sync heads: %v", err)
	}
	var decodedHeads ProtocolMessage
	if err := msgpack.Unmarshal(wire, &decodedHeads); err != nil {
		t.Fatalf("unmarshal sync heads: %v", err)
	}
	if decodedHeads.Kind != MsgSyncHeads || len(decodedHeads.Heads) != 2 || decodedHeads.Flags != 7 {
		t.Fatalf("sync heads mismatch: %+v", decodedHeads)
	}

	blob := ProtocolMessage{
		Kind:      MsgBlobData,
		BlobHash:  Hash32{0x09},
		BlobBytes: []byte("chunk-of-bytes"),
		BlobChunk: 3,
	}
	wire, err = msgpack.Marshal(&blob)
	if err != nil {
		t.Fatalf("marshal blob: %v", err)
	}
	var decodedBlob ProtocolMessage
	if err := msgpack.Unmarshal(wire, &decodedBlob); err != nil {
		t.Fatalf("unmarshal blob: %v", err)
	}
	if decodedBlob.BlobHash != blob.BlobHash || string(decodedBlob.BlobBytes) != "chunk-of-bytes" || decodedBlob.BlobChunk != 3 {
		t.Fatalf("blob message mismatch: %+v", decodedBlob)
	}
}
