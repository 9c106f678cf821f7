package core

import "testing"

func TestNodeCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := newNodeCache()
	var hashes [nodeCacheSize + 1]Hash32
	for i := range hashes {
		hashes[i][0] = byte(i)
		hashes[i][1] = byte(i >> 8)
		c.put(hashes[i], nodeWithHash(uint64(i)))
	}

	if _, ok := c.get(hashes[0]); ok {
		t.Fatalf("expected the oldest entry to have been evicted")
	}
	if _, ok := c.get(hashes[len(hashes)-1]); !ok {
		t.Fatalf("expected the most recently added entry to still be cached")
	}
}

func TestNodeCacheRemove(t *testing.T) {
	c := newNodeCache()
	var h Hash32
	h[0] = 1
	c.put(h, nodeWithHash(1))
	if _, ok := c.get(h); !ok {
		t.Fatalf("expected entry to be present after put")
	}
	c.remove(h)
	if _, ok := c.get(h); ok {
		t.Fatalf("expected entry to be gone after remove")
	}
}

func TestBlockCacheKeyedByPackAndOffset(t *testing.T) {
	c := newBlockCache()
	c.put(1, 100, []byte("a"))
	c.put(2, 100, []byte("b"))

	got1, ok1 := c.get(1, 100)
	got2, ok2 := c.get(2, 100)
	if !ok1 || !ok2 || string(got1) != "a" || string(got2) != "b" {
		t.Fatalf("expected distinct entries per (pack, offset), got (%v,%s) (%v,%s)", ok1, got1, ok2, got2)
	}
	if _, ok := c.get(1, 200); ok {
		t.Fatalf("expected no entry for an unset offset")
	}
}

func TestBlockCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := newBlockCache()
	for i := 0; i < blockCacheSize+1; i++ {
		c.put(0, int64(i), []byte{byte(i)})
	}
	if _, ok := c.get(0, 0); ok {
		t.Fatalf("expected the oldest offset to have been evicted")
	}
	if _, ok := c.get(0, int64(blockCacheSize)); !ok {
		t.Fatalf("expected the most recently added offset to still be cached")
	}
}
