package core

// reassembly.go -- inbound fragment reassembly with a process-wide byte
// quota (§4.3, §8). A peer that announces an implausibly large
// FragmentCount could otherwise force unbounded buffering before the
// message is known to be legitimate; reservations are taken against the
// quota as soon as the expected size is known and released when the
// message completes or is abandoned.

import "sync"

// defaultReassemblyQuotaBytes is the fallback process-wide budget when the
// quotaBytes passed to the constructor is <= 0.
const defaultReassemblyQuotaBytes = 16 * 1024 * 1024

// reassemblyGuaranteedBytes is the per-message allowance admitted
// unconditionally regardless of priority or current quota pressure, so a
// single small message is never starved by a few large ones (§4.3).
const reassemblyGuaranteedBytes = 16 * 1024

// Rejection thresholds, expressed as the fraction of total quota that
// would be in use *after* admitting the new reservation. PriorityControl
// is exempt from both and is always admitted.
const (
	reassemblyBulkRejectFrac     = 0.70 // "Bulk rejected above 70%"
	reassemblyStandardRejectFrac = 0.90 // "Standard above 90%"
)

type reassemblyKey struct {
	peer      PhysicalDevicePk
	messageID uint64
}

type partialMessage struct {
	fragments     [][]byte
	received      []bool
	receivedCount int
	reservedBytes int64
	priority      uint8
}

// ReassemblyManager tracks in-progress fragmented messages across all
// peers and enforces the shared byte quota.
type ReassemblyManager struct {
	mu         sync.Mutex
	quotaBytes int64
	usedBytes  int64
	inProgress map[reassemblyKey]*partialMessage
	peerCount  map[PhysicalDevicePk]int
}

func NewReassemblyManager(quotaBytes int64) *ReassemblyManager {
	if quotaBytes <= 0 {
		quotaBytes = defaultReassemblyQuotaBytes
	}
	return &ReassemblyManager{
		quotaBytes: quotaBytes,
		inProgress: make(map[reassemblyKey]*partialMessage),
		peerCount:  make(map[PhysicalDevicePk]int),
	}
}

// admitsByQuota reports whether a reservation of expectedBytes at priority
// pr should be admitted given usedBytes already committed. Control is
// always admitted; anything at or under the guaranteed per-message size is
// always admitted; everything else is checked against the priority's
// rejection threshold applied to quota usage *after* the reservation.
func (m *ReassemblyManager) admitsByQuota(pr uint8, expectedBytes int64) bool {
	if pr == PriorityControl {
		return true
	}
	if expectedBytes <= reassemblyGuaranteedBytes {
		return true
	}
	if m.quotaBytes <= 0 {
		return false
	}
	projected := float64(m.usedBytes+expectedBytes) / float64(m.quotaBytes)
	if pr == PriorityBulk {
		return projected <= reassemblyBulkRejectFrac
	}
	return projected <= reassemblyStandardRejectFrac
}

// reserve attempts to admit a new fragmented message of expectedBytes total
// size from peer. Returning (nil, false) means the reservation was refused
// by quota -- transport_message.go turns that into a peer-visible
// 0-bitmask Ack rather than a silent drop (§7, Resource errors).
func (m *ReassemblyManager) reserve(peer PhysicalDevicePk, id uint64, expectedBytes int64, fragCount uint16, priority uint8) (*partialMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := reassemblyKey{peer: peer, messageID: id}
	if existing, ok := m.inProgress[key]; ok {
		return existing, true
	}

	if !m.admitsByQuota(priority, expectedBytes) {
		return nil, false
	}

	pm := &partialMessage{
		fragments:     make([][]byte, fragCount),
		received:      make([]bool, fragCount),
		reservedBytes: expectedBytes,
		priority:      priority,
	}
	m.inProgress[key] = pm
	m.usedBytes += expectedBytes
	m.peerCount[peer]++
	return pm, true
}

// ackState returns the current (base, bitmask) acknowledgment window for an
// in-progress message, for building a cumulative Ack after a fragment that
// did not complete the message. Returns ok=false once the message is no
// longer tracked (already completed or abandoned).
func (m *ReassemblyManager) ackState(peer PhysicalDevicePk, id uint64) (uint16, uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := reassemblyKey{peer: peer, messageID: id}
	pm, ok := m.inProgress[key]
	if !ok {
		return 0, 0, false
	}
	firstMissing := len(pm.received)
	for i, got := range pm.received {
		if !got {
			firstMissing = i
			break
		}
	}
	base, mask := ackBitmaskFor(pm.received, firstMissing)
	return base, mask, true
}

// addFragment records one fragment of an in-progress message, returning the
// full reassembled payload once every fragment has arrived.
func (m *ReassemblyManager) addFragment(peer PhysicalDevicePk, id uint64, index uint16, data []byte) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := reassemblyKey{peer: peer, messageID: id}
	pm, ok := m.inProgress[key]
	if !ok || int(index) >= len(pm.fragments) {
		return nil, false
	}
	if !pm.received[index] {
		pm.fragments[index] = append([]byte(nil), data...)
		pm.received[index] = true
		pm.receivedCount++
	}
	if pm.receivedCount < len(pm.fragments) {
		return nil, false
	}

	var total int
	for _, f := range pm.fragments {
		total += len(f)
	}
	out := make([]byte, 0, total)
	for _, f := range pm.fragments {
		out = append(out, f...)
	}

	delete(m.inProgress, key)
	m.usedBytes -= pm.reservedBytes
	m.peerCount[peer]--
	if m.peerCount[peer] <= 0 {
		delete(m.peerCount, peer)
	}
	return out, true
}

// abandon releases a reservation without completing it, used when a peer's
// session is torn down mid-transfer.
func (m *ReassemblyManager) abandon(peer PhysicalDevicePk, id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := reassemblyKey{peer: peer, messageID: id}
	pm, ok := m.inProgress[key]
	if !ok {
		return
	}
	delete(m.inProgress, key)
	m.usedBytes -= pm.reservedBytes
	m.peerCount[peer]--
	if m.peerCount[peer] <= 0 {
		delete(m.peerCount, peer)
	}
}
