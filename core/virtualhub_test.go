package core

import "testing"

func TestVirtualHubBroadcastReachesAllButSender(t *testing.T) {
	h := NewVirtualHub()
	a := peerKey(0x01)
	b := peerKey(0x02)
	c := peerKey(0x03)

	chB := h.RegisterPeer(b)
	chC := h.RegisterPeer(c)
	h.RegisterPeer(a)

	h.Broadcast(a, []byte("hello"))

	for _, ch := range []<-chan []byte{chB, chC} {
		select {
		case frame := <-ch:
			from, payload, ok := decodeBridged(frame)
			if !ok || from != a || string(payload) != "hello" {
				t.Fatalf("unexpected bridged frame: from=%v payload=%s ok=%v", from, payload, ok)
			}
		default:
			t.Fatalf("expected a broadcast frame to be queued")
		}
	}
}

func TestVirtualHubBroadcastSkipsSender(t *testing.T) {
	h := NewVirtualHub()
	a := peerKey(0x04)
	chA := h.RegisterPeer(a)
	h.Broadcast(a, []byte("x"))
	select {
	case frame := <-chA:
		t.Fatalf("sender should not receive its own broadcast, got %v", frame)
	default:
	}
}

func TestVirtualHubSendToUnregisteredFails(t *testing.T) {
	h := NewVirtualHub()
	a := peerKey(0x05)
	b := peerKey(0x06)
	h.RegisterPeer(a)
	if h.SendTo(a, b, []byte("x")) {
		t.Fatalf("expected SendTo an unregistered peer to fail")
	}
}

func TestVirtualHubSendToDelivers(t *testing.T) {
	h := NewVirtualHub()
	a := peerKey(0x07)
	b := peerKey(0x08)
	h.RegisterPeer(a)
	chB := h.RegisterPeer(b)

	if !h.SendTo(a, b, []byte("direct")) {
		t.Fatalf("expected SendTo to succeed")
	}
	select {
	case frame := <-chB:
		from, payload, ok := decodeBridged(frame)
		if !ok || from != a || string(payload) != "direct" {
			t.Fatalf("unexpected frame: %v %s %v", from, payload, ok)
		}
	default:
		t.Fatalf("expected b to receive the directed frame")
	}
}

func TestVirtualHubUnregisterClosesChannel(t *testing.T) {
	h := NewVirtualHub()
	a := peerKey(0x09)
	ch := h.RegisterPeer(a)
	h.Unregister(a)
	if _, open := <-ch; open {
		t.Fatalf("expected channel to be closed after Unregister")
	}
}

func TestDecodeBridgedRejectsBadTagOrShortFrame(t *testing.T) {
	if _, _, ok := decodeBridged([]byte{0x00}); ok {
		t.Fatalf("expected short/untagged frame to be rejected")
	}
	bad := make([]byte, 33)
	bad[0] = 0xAA
	if _, _, ok := decodeBridged(bad); ok {
		t.Fatalf("expected wrong tag byte to be rejected")
	}
}
