package core

import (
	"crypto/ed25519"
	"testing"
)

func TestOneOnOneGenesisDeterminism(t *testing.T) {
	var pkA, pkB LogicalIdentityPk
	for i := range pkA {
		pkA[i] = 1
	}
	for i := range pkB {
		pkB[i] = 2
	}
	kConv := make([]byte, 32)

	nodeAB := BuildOneOnOneGenesis(pkA, PhysicalDevicePk(pkA), kConv, 123456789)
	nodeBA := BuildOneOnOneGenesis(pkA, PhysicalDevicePk(pkA), kConv, 123456789)

	if hashNode(nodeAB) != hashNode(nodeBA) {
		t.Fatalf("genesis hashes differ for identical inputs")
	}
	if len(nodeAB.Parents) != 0 {
		t.Fatalf("genesis must have empty parents, got %d", len(nodeAB.Parents))
	}
	var zero [32]byte
	if nodeAB.Authentication.Kind != AuthMAC || nodeAB.Authentication.MAC == zero {
		t.Fatalf("genesis must carry a non-zero MAC")
	}

	cidAB := NewOneOnOneConversationId(pkA, pkB)
	cidBA := NewOneOnOneConversationId(pkB, pkA)
	if cidAB != cidBA {
		t.Fatalf("conversation id must not depend on argument order")
	}
}

func TestGroupGenesisPoW(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	var creator LogicalIdentityPk
	copy(creator[:], pub)
	var device PhysicalDevicePk
	copy(device[:], pub)

	n, ok := BuildGroupGenesis(creator, device, priv, "Test Room", 123456789, 1<<20)
	if !ok {
		t.Fatalf("failed to solve group genesis PoW within attempt budget")
	}
	if !validateGenesisPoW(n) {
		t.Fatalf("solved genesis does not satisfy validatePoW")
	}
	if n.Content.Kind != ContentControl || n.Content.Control.Kind != ControlGenesis {
		t.Fatalf("expected Control(Genesis) content")
	}
	if n.Content.Control.Title != "Test Room" {
		t.Fatalf("title mismatch: %q", n.Content.Control.Title)
	}
	if n.Authentication.Kind != AuthSignature {
		t.Fatalf("group genesis must be signature-authenticated")
	}
	if !Verify(pub, canonicalPreAuth(n), n.Authentication.Signature[:]) {
		t.Fatalf("genesis signature does not verify")
	}
}

func TestHashRoundTrip(t *testing.T) {
	var pkA LogicalIdentityPk
	pkA[0] = 9
	kConv := make([]byte, 32)
	n := BuildOneOnOneGenesis(pkA, PhysicalDevicePk(pkA), kConv, 42)

	wire := EncodeMerkleNode(n)
	decoded, err := DecodeMerkleNode(wire)
	if err != nil {
		t.Fatal(err)
	}
	if hashNode(n) != hashNode(decoded) {
		t.Fatalf("decoded node hashes differently from original")
	}
	if len(EncodeMerkleNode(decoded)) != len(wire) {
		t.Fatalf("re-encoding decoded node changed wire length")
	}
}

func TestRankOf(t *testing.T) {
	if rankOf(nil) != 0 {
		t.Fatalf("genesis rank must be 0")
	}
	if rankOf([]uint64{0, 2, 1}) != 3 {
		t.Fatalf("rank must be 1+max(parent ranks)")
	}
}
