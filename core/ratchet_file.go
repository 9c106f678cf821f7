package core

// ratchet_file.go -- durable cold-storage checkpoint for ratchet chain
// keys, double-buffered so a crash mid-write never corrupts the last good
// checkpoint (§9). Hot keys (ratchet.go's HotRatchetKey) migrate here once
// compaction decides they are old enough that replaying from genesis would
// be wasteful; the file always holds exactly one checkpoint per device,
// the most recent one committed.

import (
	"encoding/binary"
	"os"
	"sync"
)

const ratchetFileMagic = 0x4D544B46 // "MTKF"

// ratchetFileHeader mirrors the on-disk layout: a magic number, which of
// the two slot arrays is currently active, and how many entries each slot
// holds. Writing a new checkpoint always goes to the *inactive* slot, then
// flips Active only after the write is durable, so a torn write only ever
// corrupts the slot nothing currently points at.
type ratchetFileHeader struct {
	Magic  uint32
	Active uint8
	Count0 uint32
	Count1 uint32
}

const ratchetHeaderSize = 4 + 1 + 4 + 4

type ratchetCheckpointEntry struct {
	Device         PhysicalDevicePk
	CID            ConversationId
	Epoch          uint64
	ChainKey       [32]byte
	TriggeringNode Hash32
}

const ratchetEntrySize = 32 + 32 + 8 + 32 + 32

// RatchetFile is a double-buffered checkpoint store for one storage
// directory's worth of device ratchets.
type RatchetFile struct {
	mu   sync.Mutex
	path string
	file *os.File
	hdr  ratchetFileHeader
}

// OpenRatchetFile opens or creates the checkpoint file at path, reading its
// header if one already exists.
func OpenRatchetFile(path string) (*RatchetFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, newErr(ErrResource, "open ratchet file", err)
	}
	rf := &RatchetFile{path: path, file: f, hdr: ratchetFileHeader{Magic: ratchetFileMagic}}
	if err := rf.readHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return rf, nil
}

func (rf *RatchetFile) readHeader() error {
	buf := make([]byte, ratchetHeaderSize)
	n, err := rf.file.ReadAt(buf, 0)
	if n < ratchetHeaderSize {
		return nil // freshly created, empty file: keep the zero-value header
	}
	if err != nil {
		return newErr(ErrFatal, "read ratchet header", err)
	}
	hdr := ratchetFileHeader{
		Magic:  binary.BigEndian.Uint32(buf[0:4]),
		Active: buf[4],
		Count0: binary.BigEndian.Uint32(buf[5:9]),
		Count1: binary.BigEndian.Uint32(buf[9:13]),
	}
	if hdr.Magic != ratchetFileMagic {
		return newErr(ErrIntegrity, "ratchet file magic mismatch", nil)
	}
	rf.hdr = hdr
	return nil
}

func (rf *RatchetFile) writeHeader() error {
	buf := make([]byte, ratchetHeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], rf.hdr.Magic)
	buf[4] = rf.hdr.Active
	binary.BigEndian.PutUint32(buf[5:9], rf.hdr.Count0)
	binary.BigEndian.PutUint32(buf[9:13], rf.hdr.Count1)
	if err := rf.file.Sync(); err != nil {
		return newErr(ErrFatal, "sync ratchet slot before header flip", err)
	}
	if _, err := rf.file.WriteAt(buf, 0); err != nil {
		return newErr(ErrFatal, "write ratchet header", err)
	}
	return rf.file.Sync()
}

func slotOffset(slot uint8) int64 {
	base := int64(ratchetHeaderSize)
	maxSlotBytes := int64(65536) * ratchetEntrySize // generous fixed slot capacity
	if slot == 0 {
		return base
	}
	return base + maxSlotBytes
}

// Checkpoint persists entries to the currently-inactive slot and flips the
// header to point at it, per the double-buffer discipline described above.
func (rf *RatchetFile) Checkpoint(entries []ratchetCheckpointEntry) error {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	writeSlot := uint8(1)
	if rf.hdr.Active == 1 {
		writeSlot = 0
	}
	offset := slotOffset(writeSlot)

	for i, e := range entries {
		buf := make([]byte, ratchetEntrySize)
		copy(buf[0:32], e.Device[:])
		copy(buf[32:64], e.CID[:])
		binary.BigEndian.PutUint64(buf[64:72], e.Epoch)
		copy(buf[72:104], e.ChainKey[:])
		copy(buf[104:136], e.TriggeringNode[:])
		if _, err := rf.file.WriteAt(buf, offset+int64(i)*ratchetEntrySize); err != nil {
			return newErr(ErrFatal, "write ratchet entry", err)
		}
	}

	rf.hdr.Active = writeSlot
	if writeSlot == 0 {
		rf.hdr.Count0 = uint32(len(entries))
	} else {
		rf.hdr.Count1 = uint32(len(entries))
	}
	return rf.writeHeader()
}

// Load reads back the currently-active slot's entries.
func (rf *RatchetFile) Load() ([]ratchetCheckpointEntry, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	count := rf.hdr.Count0
	if rf.hdr.Active == 1 {
		count = rf.hdr.Count1
	}
	offset := slotOffset(rf.hdr.Active)

	entries := make([]ratchetCheckpointEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		buf := make([]byte, ratchetEntrySize)
		if _, err := rf.file.ReadAt(buf, offset+int64(i)*ratchetEntrySize); err != nil {
			return nil, newErr(ErrFatal, "read ratchet entry", err)
		}
		var e ratchetCheckpointEntry
		copy(e.Device[:], buf[0:32])
		copy(e.CID[:], buf[32:64])
		e.Epoch = binary.BigEndian.Uint64(buf[64:72])
		copy(e.ChainKey[:], buf[72:104])
		copy(e.TriggeringNode[:], buf[104:136])
		entries = append(entries, e)
	}
	return entries, nil
}

// Close releases the underlying file handle.
func (rf *RatchetFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return rf.file.Close()
}
