package core

import "testing"

func TestPacketRoundTripPerKind(t *testing.T) {
	packets := []Packet{
		{Kind: PacketData, MessageID: 7, FragmentIndex: 2, FragmentCount: 5, Priority: PriorityMerkleNode, Payload: []byte("hello")},
		{Kind: PacketAck, MessageID: 7, BaseIndex: 2, Bitmask: 0b1011, Rwnd: 32},
		{Kind: PacketNack, MessageID: 7, MissingIndices: []uint16{1, 3, 4}},
		{Kind: PacketDatagram, MsgType: 9, Payload: []byte("unreliable")},
		{Kind: PacketPing, T1: 123456789},
		{Kind: PacketPong, T1: 1, T2: 2, T3: 3},
	}
	for _, p := range packets {
		wire, err := encodePacket(&p)
		if err != nil {
			t.Fatalf("encode %v: %v", p.Kind, err)
		}
		got, err := decodePacket(wire)
		if err != nil {
			t.Fatalf("decode %v: %v", p.Kind, err)
		}
		if got.Kind != p.Kind {
			t.Fatalf("kind mismatch: got %v want %v", got.Kind, p.Kind)
		}
		if got.MessageID != p.MessageID || got.BaseIndex != p.BaseIndex || got.Bitmask != p.Bitmask ||
			got.Rwnd != p.Rwnd || got.T1 != p.T1 || got.T2 != p.T2 || got.T3 != p.T3 || got.MsgType != p.MsgType {
			t.Fatalf("field mismatch for kind %v: got %+v want %+v", p.Kind, got, p)
		}
		if len(got.MissingIndices) != len(p.MissingIndices) {
			t.Fatalf("missing indices length mismatch: got %v want %v", got.MissingIndices, p.MissingIndices)
		}
	}
}

func TestAckBitmaskRoundTrip(t *testing.T) {
	acked := []bool{true, true, false, true, false, true}
	base, mask := ackBitmaskFor(acked, 0)
	if base != 0 {
		t.Fatalf("expected base 0, got %d", base)
	}
	indices := bitmaskIndices(base, mask)
	want := []uint16{0, 1, 3, 5}
	if len(indices) != len(want) {
		t.Fatalf("got %v want %v", indices, want)
	}
	for i, idx := range indices {
		if idx != want[i] {
			t.Fatalf("got %v want %v", indices, want)
		}
	}
}

func TestCompletionAckSlidesWindowPastWireLimit(t *testing.T) {
	base, mask := completionAck(3)
	if base != 0 || mask != 0b111 {
		t.Fatalf("small message: got base=%d mask=%b, want base=0 mask=111", base, mask)
	}

	base, mask = completionAck(86)
	if base != 86-ackWindowBits {
		t.Fatalf("expected window to slide to the trailing ackWindowBits fragments, got base=%d", base)
	}
	if mask != ^uint64(0) {
		t.Fatalf("expected every bit in the trailing window set, got %b", mask)
	}
	indices := bitmaskIndices(base, mask)
	if len(indices) != ackWindowBits || indices[0] != base || indices[len(indices)-1] != 85 {
		t.Fatalf("unexpected trailing-window indices: %v", indices)
	}
}

func TestSplitAndFragmentCountAgree(t *testing.T) {
	payload := make([]byte, 5000)
	mtu := 1200
	frags := splitFragments(payload, mtu)
	if uint16(len(frags)) != fragmentCount(len(payload), mtu) {
		t.Fatalf("splitFragments produced %d fragments, fragmentCount says %d", len(frags), fragmentCount(len(payload), mtu))
	}
}
