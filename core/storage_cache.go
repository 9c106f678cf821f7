package core

// storage_cache.go -- LRU caches fronting the packfile storage backend
// (§6), keeping hot nodes and blocks off the compaction path's read
// latency without growing memory unboundedly.

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	nodeCacheSize  = 4096
	blockCacheSize = 256
)

// nodeCache memoizes decoded *MerkleNode values by hash, avoiding a
// msgpack decode on every packfile read of a frequently-revisited node
// (e.g. a recent head during reconciliation).
type nodeCache struct {
	cache *lru.Cache[Hash32, *MerkleNode]
}

func newNodeCache() *nodeCache {
	c, _ := lru.New[Hash32, *MerkleNode](nodeCacheSize)
	return &nodeCache{cache: c}
}

func (c *nodeCache) get(h Hash32) (*MerkleNode, bool) {
	return c.cache.Get(h)
}

func (c *nodeCache) put(h Hash32, n *MerkleNode) {
	c.cache.Add(h, n)
}

func (c *nodeCache) remove(h Hash32) {
	c.cache.Remove(h)
}

// blockCache memoizes raw packfile blocks by (packIndex, blockOffset),
// since a single block holds several nodes and sequential reads during
// compaction or a fetch-batch response would otherwise re-read it once per
// node.
type blockKey struct {
	pack   uint32
	offset int64
}

type blockCache struct {
	cache *lru.Cache[blockKey, []byte]
}

func newBlockCache() *blockCache {
	c, _ := lru.New[blockKey, []byte](blockCacheSize)
	return &blockCache{cache: c}
}

func (c *blockCache) get(pack uint32, offset int64) ([]byte, bool) {
	return c.cache.Get(blockKey{pack: pack, offset: offset})
}

func (c *blockCache) put(pack uint32, offset int64, data []byte) {
	c.cache.Add(blockKey{pack: pack, offset: offset}, data)
}
