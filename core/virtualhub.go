package core

// virtualhub.go -- an in-memory fan-in/fan-out packet bridge used by tests
// and the demo CLI to simulate a population of peers exchanging packets
// without real sockets. Every bridged packet is tagged with a one-byte
// marker (0xC9) followed by the sender's device key, so a single shared
// bus can carry traffic addressed to any participant without per-pair
// wiring, the way a hub fans a physical broadcast medium out to every
// attached node.

import "sync"

const virtualHubTag = 0xC9

// VirtualHub is a broadcast-style bus: every RegisterPeer'd participant
// receives every packet sent by any other participant, and is expected to
// ignore packets not addressed to it (mirroring an unswitched physical
// medium rather than implementing per-peer delivery itself).
type VirtualHub struct {
	mu   sync.Mutex
	subs map[PhysicalDevicePk]chan []byte
}

func NewVirtualHub() *VirtualHub {
	return &VirtualHub{subs: make(map[PhysicalDevicePk]chan []byte)}
}

// RegisterPeer attaches a participant to the bus, returning the channel it
// should drain for inbound bridged packets.
func (h *VirtualHub) RegisterPeer(device PhysicalDevicePk) <-chan []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan []byte, 256)
	h.subs[device] = ch
	return ch
}

// Unregister detaches a participant and closes its channel.
func (h *VirtualHub) Unregister(device PhysicalDevicePk) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[device]; ok {
		close(ch)
		delete(h.subs, device)
	}
}

// encodeBridged prefixes payload with the bridge tag and the sender's
// device key, so every recipient can recover who it came from without a
// side channel.
func encodeBridged(from PhysicalDevicePk, payload []byte) []byte {
	out := make([]byte, 0, 1+32+len(payload))
	out = append(out, virtualHubTag)
	out = append(out, from[:]...)
	out = append(out, payload...)
	return out
}

// decodeBridged recovers (sender, payload) from a bridged frame, rejecting
// anything not carrying the expected tag.
func decodeBridged(frame []byte) (PhysicalDevicePk, []byte, bool) {
	if len(frame) < 33 || frame[0] != virtualHubTag {
		return PhysicalDevicePk{}, nil, false
	}
	var from PhysicalDevicePk
	copy(from[:], frame[1:33])
	return from, frame[33:], true
}

// Broadcast sends payload from "from" to every other registered
// participant. Delivery is best-effort: a subscriber whose channel is full
// is skipped rather than blocking the sender, mirroring a lossy medium.
func (h *VirtualHub) Broadcast(from PhysicalDevicePk, payload []byte) {
	frame := encodeBridged(from, payload)
	h.mu.Lock()
	defer h.mu.Unlock()
	for device, ch := range h.subs {
		if device == from {
			continue
		}
		select {
		case ch <- frame:
		default:
		}
	}
}

// SendTo delivers payload to exactly one participant, used when a test
// wants to simulate a direct datagram rather than a broadcast.
func (h *VirtualHub) SendTo(from, to PhysicalDevicePk, payload []byte) bool {
	frame := encodeBridged(from, payload)
	h.mu.Lock()
	ch, ok := h.subs[to]
	h.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- frame:
		return true
	default:
		return false
	}
}
