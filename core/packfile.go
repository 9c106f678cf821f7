package core

// packfile.go -- durable storage backend for Storage: an append-only pack
// of wire-encoded nodes fronted by a sorted hash->offset index and a bloom
// filter, plus a compaction pass that rewrites a pack with invalid/evicted
// entries dropped (§6). Verified-tier writes go straight to a pack; the
// speculative tier stays in-memory (memoryStore) since it is bounded and
// short-lived by construction (§4.5).

import (
	"encoding/binary"
	"os"
	"sort"
	"sync"

	"github.com/bits-and-blooms/bitset"
)

const packBloomBits = 1 << 20 // 1Mbit ~ 128KiB; with 4 hashes, ~1% FPR at about 100k entries
const packBloomHashes = 4

// packIndexEntry maps a node hash to its byte offset and length within the
// pack's data section.
type packIndexEntry struct {
	hash   Hash32
	offset int64
	length int32
}

// packStore is a Storage implementation that keeps verified nodes in a
// single append-only file plus an in-memory sorted index and bloom filter,
// and delegates the speculative tier and all non-node bookkeeping
// (ratchet keys, heads, conversation keys) to an embedded memoryStore.
type packStore struct {
	mu sync.RWMutex

	path  string
	file  *os.File
	index []packIndexEntry // kept sorted by hash for binary search
	bloom *bitset.BitSet

	blocks *blockCache
	hot    *nodeCache

	*memoryStore // speculative tier + ancillary bookkeeping, embedded
}

// NewPackStore opens (creating if necessary) a packfile-backed Storage at
// path.
func NewPackStore(path string) (Storage, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, newErr(ErrResource, "open packfile", err)
	}
	ps := &packStore{
		path:        path,
		file:        f,
		bloom:       bitset.New(packBloomBits),
		blocks:      newBlockCache(),
		hot:         newNodeCache(),
		memoryStore: NewMemoryStore().(*memoryStore),
	}
	if err := ps.loadIndex(); err != nil {
		f.Close()
		return nil, err
	}
	return ps, nil
}

// bloomIndices derives packBloomHashes bit positions for a hash, reusing
// the same disjoint-window technique as the IBLT sketch's cell hashing.
func bloomIndices(h Hash32) [packBloomHashes]uint {
	var idx [packBloomHashes]uint
	for i := 0; i < packBloomHashes; i++ {
		v := binary.LittleEndian.Uint64(h[i*8 : i*8+8])
		idx[i] = uint(v % packBloomBits)
	}
	return idx
}

func (ps *packStore) bloomAdd(h Hash32) {
	for _, i := range bloomIndices(h) {
		ps.bloom.Set(i)
	}
}

func (ps *packStore) bloomMaybeHas(h Hash32) bool {
	for _, i := range bloomIndices(h) {
		if !ps.bloom.Test(i) {
			return false
		}
	}
	return true
}

// loadIndex scans the pack's length-prefixed records on open, rebuilding
// the in-memory index and bloom filter. Format per record: [32-byte hash]
// [4-byte big-endian length][wire bytes].
func (ps *packStore) loadIndex() error {
	var offset int64
	for {
		var header [36]byte
		n, err := ps.file.ReadAt(header[:], offset)
		if n < len(header) {
			break
		}
		if err != nil {
			break
		}
		var h Hash32
		copy(h[:], header[:32])
		length := int32(binary.BigEndian.Uint32(header[32:36]))
		ps.index = append(ps.index, packIndexEntry{hash: h, offset: offset + 36, length: length})
		ps.bloomAdd(h)
		offset += 36 + int64(length)
	}
	sort.Slice(ps.index, func(i, j int) bool { return bytesGreater(ps.index[j].hash[:], ps.index[i].hash[:]) })
	return nil
}

func (ps *packStore) find(h Hash32) (packIndexEntry, bool) {
	i := sort.Search(len(ps.index), func(i int) bool {
		return !bytesGreater(h[:], ps.index[i].hash[:])
	})
	if i < len(ps.index) && ps.index[i].hash == h {
		return ps.index[i], true
	}
	return packIndexEntry{}, false
}

// PutNode overrides memoryStore's for verified writes: it appends the
// node's wire form to the pack and inserts a sorted index entry.
// Speculative writes fall through to the embedded memoryStore.
func (ps *packStore) PutNode(cid ConversationId, n *MerkleNode, h Hash32, verified bool) error {
	if !verified {
		return ps.memoryStore.PutNode(cid, n, h, false)
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()

	wire := EncodeMerkleNode(n)
	if _, exists := ps.find(h); exists {
		ps.hot.put(h, n)
		return nil
	}

	stat, err := ps.file.Stat()
	if err != nil {
		return newErr(ErrFatal, "stat packfile", err)
	}
	offset := stat.Size()

	var header [36]byte
	copy(header[:32], h[:])
	binary.BigEndian.PutUint32(header[32:36], uint32(len(wire)))
	if _, err := ps.file.WriteAt(header[:], offset); err != nil {
		return newErr(ErrFatal, "write packfile header", err)
	}
	if _, err := ps.file.WriteAt(wire, offset+36); err != nil {
		return newErr(ErrFatal, "write packfile body", err)
	}

	entry := packIndexEntry{hash: h, offset: offset + 36, length: int32(len(wire))}
	i := sort.Search(len(ps.index), func(i int) bool { return !bytesGreater(h[:], ps.index[i].hash[:]) })
	ps.index = append(ps.index, packIndexEntry{})
	copy(ps.index[i+1:], ps.index[i:])
	ps.index[i] = entry
	ps.bloomAdd(h)
	ps.hot.put(h, n)
	return nil
}

func (ps *packStore) GetNode(h Hash32) (*MerkleNode, bool, error) {
	if n, ok := ps.hot.get(h); ok {
		return n, true, nil
	}
	ps.mu.RLock()
	if !ps.bloomMaybeHas(h) {
		ps.mu.RUnlock()
		return ps.memoryStore.GetNode(h)
	}
	entry, ok := ps.find(h)
	ps.mu.RUnlock()
	if !ok {
		return ps.memoryStore.GetNode(h)
	}

	buf := make([]byte, entry.length)
	if _, err := ps.file.ReadAt(buf, entry.offset); err != nil {
		return nil, false, newErr(ErrFatal, "read packfile", err)
	}
	n, err := DecodeMerkleNode(buf)
	if err != nil {
		return nil, false, err
	}
	ps.hot.put(h, n)
	return n, true, nil
}

func (ps *packStore) HasNode(h Hash32) bool {
	if _, ok := ps.hot.get(h); ok {
		return true
	}
	ps.mu.RLock()
	_, ok := ps.find(h)
	ps.mu.RUnlock()
	return ok || ps.memoryStore.HasNode(h)
}

func (ps *packStore) IsVerified(h Hash32) bool {
	ps.mu.RLock()
	_, ok := ps.find(h)
	ps.mu.RUnlock()
	return ok
}

// Compact rewrites the pack into a fresh file, dropping every entry in
// dropHashes (invalidated or otherwise no longer needed), and atomically
// replaces the old pack. Used periodically rather than on every delete,
// since packfiles are append-only by design (§6).
func (ps *packStore) Compact(dropHashes map[Hash32]struct{}) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	tmpPath := ps.path + ".compact"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		return newErr(ErrResource, "open compaction target", err)
	}

	newBloom := bitset.New(packBloomBits)
	var newIndex []packIndexEntry
	var offset int64
	for _, entry := range ps.index {
		if _, drop := dropHashes[entry.hash]; drop {
			continue
		}
		buf := make([]byte, entry.length)
		if _, err := ps.file.ReadAt(buf, entry.offset); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return newErr(ErrFatal, "read during compaction", err)
		}
		var header [36]byte
		copy(header[:32], entry.hash[:])
		binary.BigEndian.PutUint32(header[32:36], uint32(len(buf)))
		if _, err := tmp.WriteAt(header[:], offset); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return newErr(ErrFatal, "write during compaction", err)
		}
		if _, err := tmp.WriteAt(buf, offset+36); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return newErr(ErrFatal, "write during compaction", err)
		}
		for _, i := range bloomIndices(entry.hash) {
			newBloom.Set(i)
		}
		newIndex = append(newIndex, packIndexEntry{hash: entry.hash, offset: offset + 36, length: entry.length})
		offset += 36 + int64(entry.length)
	}

	tmp.Close()
	ps.file.Close()
	if err := os.Rename(tmpPath, ps.path); err != nil {
		return newErr(ErrFatal, "replace packfile", err)
	}
	f, err := os.OpenFile(ps.path, os.O_RDWR, 0o644)
	if err != nil {
		return newErr(ErrFatal, "reopen packfile", err)
	}
	ps.file = f
	ps.index = newIndex
	ps.bloom = newBloom
	return nil
}

// SizeBytes reports the on-disk pack size plus the in-memory speculative
// tier's wire-cache footprint.
func (ps *packStore) SizeBytes() int64 {
	ps.mu.RLock()
	stat, err := ps.file.Stat()
	ps.mu.RUnlock()
	var diskSize int64
	if err == nil {
		diskSize = stat.Size()
	}
	return diskSize + ps.memoryStore.SizeBytes()
}

// Close releases the underlying file handle.
func (ps *packStore) Close() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.file.Close()
}
