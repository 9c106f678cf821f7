package core

import (
	"os"
	"path/filepath"
	"testing"
)

func nodeWithHash(seq uint64) *MerkleNode {
	return &MerkleNode{
		SequenceNumber:  seq,
		TopologicalRank: seq,
		Content:         Content{Kind: ContentText, Text: "x"},
		Authentication:  Authentication{Kind: AuthMAC},
	}
}

// TestPackStoreSortedIndexAndMiss reproduces the mandated pack-index
// scenario: records with hashes 0x00..., 0x01..., 0xFF... inserted out of
// order stay retrievable and correctly sorted, and a lookup for an absent
// hash (0x77...) finds nothing.
func TestPackStoreSortedIndexAndMiss(t *testing.T) {
	dir := t.TempDir()
	store, err := NewPackStore(filepath.Join(dir, "pack.bin"))
	if err != nil {
		t.Fatalf("NewPackStore: %v", err)
	}
	defer store.Close()
	ps := store.(*packStore)

	var hLow, hMid, hHigh Hash32
	hLow[0] = 0x00
	hMid[0] = 0x01
	hHigh[0] = 0xFF

	var cid ConversationId
	// insert out of order: high, low, mid
	if err := ps.PutNode(cid, nodeWithHash(3), hHigh, true); err != nil {
		t.Fatalf("put high: %v", err)
	}
	if err := ps.PutNode(cid, nodeWithHash(1), hLow, true); err != nil {
		t.Fatalf("put low: %v", err)
	}
	if err := ps.PutNode(cid, nodeWithHash(2), hMid, true); err != nil {
		t.Fatalf("put mid: %v", err)
	}

	if len(ps.index) != 3 {
		t.Fatalf("expected 3 index entries, got %d", len(ps.index))
	}
	for i := 1; i < len(ps.index); i++ {
		if !bytesGreater(ps.index[i].hash[:], ps.index[i-1].hash[:]) {
			t.Fatalf("index not sorted ascending at %d: %v", i, ps.index)
		}
	}

	for _, h := range []Hash32{hLow, hMid, hHigh} {
		if !ps.HasNode(h) {
			t.Fatalf("expected HasNode true for %x", h)
		}
		n, ok, err := ps.GetNode(h)
		if err != nil || !ok || n == nil {
			t.Fatalf("GetNode(%x) failed: ok=%v err=%v", h, ok, err)
		}
		if !ps.IsVerified(h) {
			t.Fatalf("expected IsVerified true for %x", h)
		}
	}

	var hAbsent Hash32
	hAbsent[0] = 0x77
	if ps.HasNode(hAbsent) {
		t.Fatalf("expected HasNode false for absent hash")
	}
	if _, ok, _ := ps.GetNode(hAbsent); ok {
		t.Fatalf("expected GetNode false for absent hash")
	}
}

// TestPackStoreReopenReloadsIndex confirms the on-disk record format
// survives a close/reopen cycle, since loadIndex is the only path that
// reconstructs the index and bloom filter on startup.
func TestPackStoreReopenReloadsIndex(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pack.bin")
	store, err := NewPackStore(path)
	if err != nil {
		t.Fatalf("NewPackStore: %v", err)
	}
	var cid ConversationId
	var h Hash32
	h[0] = 0x42
	if err := store.(*packStore).PutNode(cid, nodeWithHash(9), h, true); err != nil {
		t.Fatalf("put: %v", err)
	}
	store.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected pack file to exist: %v", err)
	}

	reopened, err := NewPackStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if !reopened.(*packStore).HasNode(h) {
		t.Fatalf("expected reopened pack to still contain the node")
	}
}

// TestPackStoreDuplicatePutIsIdempotent confirms re-inserting a verified
// hash does not grow the index or rewrite the pack.
func TestPackStoreDuplicatePutIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	store, err := NewPackStore(filepath.Join(dir, "pack.bin"))
	if err != nil {
		t.Fatalf("NewPackStore: %v", err)
	}
	defer store.Close()
	ps := store.(*packStore)

	var cid ConversationId
	var h Hash32
	h[0] = 0x09
	if err := ps.PutNode(cid, nodeWithHash(1), h, true); err != nil {
		t.Fatalf("put 1: %v", err)
	}
	if err := ps.PutNode(cid, nodeWithHash(1), h, true); err != nil {
		t.Fatalf("put 2: %v", err)
	}
	if len(ps.index) != 1 {
		t.Fatalf("expected duplicate put to leave a single index entry, got %d", len(ps.index))
	}
}
