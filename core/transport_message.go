package core

// transport_message.go -- the reliable fragmented-message layer on top of
// an unreliable MTU-limited packet socket (§4.3, §8): selective-repeat ARQ
// with per-peer congestion control, an outbound DRR scheduler, and inbound
// reassembly. Retransmission fires on three independent triggers: an
// explicit NACK, a fragment's RTO expiring, or a Tail-Loss-Probe when a
// message is one fragment from completion.

import (
	"sync"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
)

// RawSocket is the minimal send primitive a concrete UDP (or other
// datagram) socket must provide; Transport is socket-agnostic beyond this.
type RawSocket interface {
	WriteTo(peer PhysicalDevicePk, b []byte) error
}

// messageSendDeadline bounds how long an outbound message may remain
// unacknowledged before it is abandoned and reported via SessionEvent.
const messageSendDeadline = 30 * time.Second

// maxFragmentRetries bounds how many times a single fragment is
// retransmitted before its message is abandoned as undeliverable.
const maxFragmentRetries = 12

// outboundMessage tracks one fragmented ProtocolMessage in flight to a
// single peer, for selective-repeat retransmission. acked is a bitset
// rather than a []bool so per-fragment ack state, Ack-bitmask
// construction and population counts share one representation.
type outboundMessage struct {
	fragments [][]byte
	acked     *bitset.BitSet
	ackedN    int
	priority  uint8
	sentAt    []time.Time
	retries   []int
	createdAt time.Time
}

func newOutboundMessage(frags [][]byte, priority uint8, now time.Time) *outboundMessage {
	return &outboundMessage{
		fragments: frags,
		acked:     bitset.New(uint(len(frags))),
		priority:  priority,
		sentAt:    make([]time.Time, len(frags)),
		retries:   make([]int, len(frags)),
		createdAt: now,
	}
}

type peerTransportState struct {
	mu        sync.Mutex
	cong      CongestionController
	rtt       *rttEstimator
	nextMsgID uint64
	outbound  map[uint64]*outboundMessage
}

// Transport is the engine-facing reliable-messaging layer. One Transport
// instance is shared by all peers; per-peer state (congestion window, RTT,
// in-flight messages) is kept in peerTransportState.
type Transport struct {
	socket         RawSocket
	mtu            int
	congestionAlg  string
	scheduler      *Scheduler
	reassembly     *ReassemblyManager
	onMessage      func(peer PhysicalDevicePk, msg ProtocolMessage)
	onDatagram     func(peer PhysicalDevicePk, msgType uint8, payload []byte)
	onSessionEvent func(ev SessionEvent)
	logger         *logrus.Logger

	mu    sync.Mutex
	peers map[PhysicalDevicePk]*peerTransportState
}

// NewTransport wires a Transport around a concrete socket and the handlers
// invoked once a ProtocolMessage has been fully reassembled and decoded
// (onMessage), an unreliable Datagram arrives (onDatagram), or a
// session-level event occurs such as a message exceeding its send deadline
// (onSessionEvent). onDatagram and onSessionEvent may be nil.
func NewTransport(socket RawSocket, mtu int, quotaBytes int64, congestionAlgorithm string,
	onMessage func(peer PhysicalDevicePk, msg ProtocolMessage),
	onDatagram func(peer PhysicalDevicePk, msgType uint8, payload []byte),
	onSessionEvent func(ev SessionEvent),
	logger *logrus.Logger) *Transport {
	if mtu <= 0 {
		mtu = defaultPayloadMTU
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Transport{
		socket:         socket,
		mtu:            mtu,
		scheduler:      NewScheduler(),
		reassembly:     NewReassemblyManager(quotaBytes),
		onMessage:      onMessage,
		onDatagram:     onDatagram,
		onSessionEvent: onSessionEvent,
		logger:         logger,
		peers:          make(map[PhysicalDevicePk]*peerTransportState),
		congestionAlg:  congestionAlgorithm,
	}
}

func (t *Transport) peerState(peer PhysicalDevicePk) *peerTransportState {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[peer]
	if !ok {
		p = &peerTransportState{
			cong:     newCongestionController(t.congestionAlg),
			rtt:      newRTTEstimator(),
			outbound: make(map[uint64]*outboundMessage),
		}
		t.peers[peer] = p
	}
	return p
}

func messagePriorityOf(msg ProtocolMessage) uint8 {
	switch msg.Kind {
	case MsgCapsAnnounce, MsgCapsAck, MsgReconPowChallenge, MsgReconPowSolution:
		return PriorityControl
	case MsgMerkleNode, MsgFetchBatchReq:
		return PriorityMerkleNode
	case MsgSyncHeads:
		return PrioritySyncHeads
	case MsgSyncSketch, MsgSyncShardChecksums, MsgSyncReconFail:
		return PriorityBackgroundSync
	default:
		return PriorityBulk
	}
}

// SendMessage fragments msg, enqueues its fragments on the DRR scheduler,
// and drains as many as the peer's current congestion window allows. It
// satisfies PacketSender for engine_runtime.go.
func (t *Transport) SendMessage(peer PhysicalDevicePk, msg ProtocolMessage) error {
	payload, err := msgpack.Marshal(&msg)
	if err != nil {
		return newErr(ErrProtocol, "encode protocol message", err)
	}
	priority := messagePriorityOf(msg)
	frags := splitFragments(payload, t.mtu)

	ps := t.peerState(peer)
	ps.mu.Lock()
	id := ps.nextMsgID
	ps.nextMsgID++
	om := newOutboundMessage(frags, priority, time.Now())
	ps.outbound[id] = om
	ps.mu.Unlock()

	for i, f := range frags {
		t.scheduler.Enqueue(Packet{
			Kind:          PacketData,
			MessageID:     id,
			FragmentIndex: uint16(i),
			FragmentCount: uint16(len(frags)),
			Priority:      priority,
			Payload:       f,
		})
	}
	return t.drain(peer, ps)
}

// SendDatagram sends a single unreliable, unfragmented packet: no ack, no
// retransmission, no reassembly bookkeeping. msgType is an
// application-defined tag carried alongside the payload.
func (t *Transport) SendDatagram(peer PhysicalDevicePk, msgType uint8, payload []byte) error {
	wire, err := encodePacket(&Packet{Kind: PacketDatagram, MsgType: msgType, Payload: payload})
	if err != nil {
		return err
	}
	return t.socket.WriteTo(peer, wire)
}

// Ping sends a liveness/RTT probe carrying the sender's current timestamp.
func (t *Transport) Ping(peer PhysicalDevicePk) error {
	wire, err := encodePacket(&Packet{Kind: PacketPing, T1: uint64(time.Now().UnixNano())})
	if err != nil {
		return err
	}
	return t.socket.WriteTo(peer, wire)
}

// drain sends as many scheduled packets as the peer's congestion window
// currently allows.
func (t *Transport) drain(peer PhysicalDevicePk, ps *peerTransportState) error {
	ps.mu.Lock()
	window := ps.cong.Cwnd()
	ps.mu.Unlock()

	sent := 0
	for sent < window {
		p := t.scheduler.Next()
		if p == nil {
			break
		}
		wire, err := encodePacket(p)
		if err != nil {
			return err
		}
		if err := t.socket.WriteTo(peer, wire); err != nil {
			return err
		}
		now := time.Now()
		ps.mu.Lock()
		if om, ok := ps.outbound[p.MessageID]; ok && int(p.FragmentIndex) < len(om.sentAt) {
			om.sentAt[p.FragmentIndex] = now
		}
		ps.cong.OnFragmentSent(now)
		ps.mu.Unlock()
		sent++
	}
	return nil
}

// CheckTimeouts sweeps every peer's in-flight fragments looking for (b) an
// RTO expiry or (c) a Tail-Loss-Probe opportunity, and retransmits or gives
// up accordingly. Callers (e.g. a session's periodic tick) are expected to
// invoke this roughly once per RTO.
func (t *Transport) CheckTimeouts(now time.Time) {
	t.mu.Lock()
	peers := make([]PhysicalDevicePk, 0, len(t.peers))
	for pk := range t.peers {
		peers = append(peers, pk)
	}
	t.mu.Unlock()

	for _, peer := range peers {
		t.checkPeerTimeouts(peer, now)
	}
}

func (t *Transport) checkPeerTimeouts(peer PhysicalDevicePk, now time.Time) {
	ps := t.peerState(peer)

	ps.mu.Lock()
	var toResend []Packet
	var failedIDs []uint64
	for id, om := range ps.outbound {
		if now.Sub(om.createdAt) > messageSendDeadline {
			failedIDs = append(failedIDs, id)
			continue
		}
		remaining := len(om.fragments) - om.ackedN
		for i := range om.fragments {
			if om.acked.Test(uint(i)) || om.sentAt[i].IsZero() {
				continue
			}
			timeout := ps.rtt.backoffRTO(om.retries[i])
			if remaining == 1 {
				// Tail-Loss-Probe: a message one fragment from completion
				// gets a shorter probe interval than the full RTO so a
				// lost final fragment does not stall the whole transfer.
				timeout = timeout / 2
			}
			if now.Sub(om.sentAt[i]) < timeout {
				continue
			}
			if om.retries[i] >= maxFragmentRetries {
				failedIDs = append(failedIDs, id)
				break
			}
			om.retries[i]++
			ps.cong.OnTimeout(now)
			toResend = append(toResend, Packet{
				Kind:          PacketData,
				MessageID:     id,
				FragmentIndex: uint16(i),
				FragmentCount: uint16(len(om.fragments)),
				Priority:      om.priority,
				Payload:       om.fragments[i],
			})
		}
	}
	for _, id := range failedIDs {
		delete(ps.outbound, id)
	}
	ps.mu.Unlock()

	for _, p := range toResend {
		t.scheduler.Enqueue(p)
	}
	if len(toResend) > 0 {
		_ = t.drain(peer, ps)
	}
	for _, id := range failedIDs {
		t.fireSessionEvent(SessionEvent{Kind: SessionMessageFailed, Peer: peer, MessageID: id})
	}
}

func (t *Transport) fireSessionEvent(ev SessionEvent) {
	if t.onSessionEvent != nil {
		t.onSessionEvent(ev)
	}
}

// OnPacket processes one inbound wire packet from peer: Data packets feed
// reassembly and trigger an Ack; Ack packets advance the local
// selective-repeat window and congestion controller; Ping/Pong feed the RTT
// estimator.
func (t *Transport) OnPacket(peer PhysicalDevicePk, wire []byte) error {
	p, err := decodePacket(wire)
	if err != nil {
		return newErr(ErrProtocol, "decode packet", err)
	}

	switch p.Kind {
	case PacketData:
		return t.onData(peer, p)
	case PacketAck:
		return t.onAck(peer, p)
	case PacketNack:
		return t.onNack(peer, p)
	case PacketDatagram:
		if t.onDatagram != nil {
			t.onDatagram(peer, p.MsgType, p.Payload)
		}
		return nil
	case PacketPing:
		now := uint64(time.Now().UnixNano())
		pong := Packet{Kind: PacketPong, T1: p.T1, T2: now, T3: uint64(time.Now().UnixNano())}
		wire, err := encodePacket(&pong)
		if err != nil {
			return err
		}
		return t.socket.WriteTo(peer, wire)
	case PacketPong:
		return t.onPong(peer, p)
	default:
		return newErr(ErrProtocol, "unknown packet kind", nil)
	}
}

// onPong feeds a round-trip sample into the peer's RTT estimator. The
// sample excludes the remote side's own processing delay (T3-T2), leaving
// the two network legs (T2-T1) + (now-T3).
func (t *Transport) onPong(peer PhysicalDevicePk, p *Packet) error {
	now := uint64(time.Now().UnixNano())
	if p.T3 < p.T1 || now < p.T3 {
		return nil // clock skew or malformed timestamps; drop the sample
	}
	processing := int64(p.T3) - int64(p.T2)
	if processing < 0 {
		processing = 0
	}
	rtt := time.Duration(int64(now)-int64(p.T1)-processing) * time.Nanosecond
	if rtt <= 0 {
		return nil
	}
	ps := t.peerState(peer)
	ps.mu.Lock()
	ps.rtt.sample(rtt)
	ps.mu.Unlock()
	return nil
}

func (t *Transport) onData(peer PhysicalDevicePk, p *Packet) error {
	expected := int64(p.FragmentCount) * int64(t.mtu)
	_, ok := t.reassembly.reserve(peer, p.MessageID, expected, p.FragmentCount, p.Priority)
	if !ok {
		// Quota exhausted: a peer-visible refusal, not a silent drop, so
		// the sender's selective-repeat layer learns immediately rather
		// than waiting out a full RTO (§7, Resource errors).
		refusal := Packet{Kind: PacketAck, MessageID: p.MessageID, BaseIndex: 0, Bitmask: 0}
		if err := t.socket.WriteTo(peer, mustEncodePacket(&refusal)); err != nil {
			t.logger.Warnf("refusal ack send failed: %v", err)
		}
		return nil
	}
	complete, done := t.reassembly.addFragment(peer, p.MessageID, p.FragmentIndex, p.Payload)

	var ack Packet
	if done {
		base, mask := completionAck(p.FragmentCount)
		ack = Packet{Kind: PacketAck, MessageID: p.MessageID, BaseIndex: base, Bitmask: mask}
	} else {
		base, mask, ok2 := t.reassembly.ackState(peer, p.MessageID)
		if !ok2 {
			base, mask = 0, 0
		}
		ack = Packet{Kind: PacketAck, MessageID: p.MessageID, BaseIndex: base, Bitmask: mask}
	}
	if err := t.socket.WriteTo(peer, mustEncodePacket(&ack)); err != nil {
		t.logger.Warnf("ack send failed: %v", err)
	}

	if !done {
		return nil
	}
	var msg ProtocolMessage
	if err := msgpack.Unmarshal(complete, &msg); err != nil {
		return newErr(ErrProtocol, "decode reassembled message", err)
	}
	if t.onMessage != nil {
		t.onMessage(peer, msg)
	}
	return nil
}

func (t *Transport) onAck(peer PhysicalDevicePk, p *Packet) error {
	ps := t.peerState(peer)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	om, ok := ps.outbound[p.MessageID]
	if !ok {
		return nil
	}
	now := time.Now()
	indices := bitmaskIndices(p.BaseIndex, p.Bitmask)
	for idx := uint16(0); idx < p.BaseIndex; idx++ {
		indices = append(indices, idx) // every index below BaseIndex has been received
	}
	var ackedBytes int
	var sampled time.Duration
	for _, idx := range indices {
		if int(idx) >= len(om.fragments) || om.acked.Test(uint(idx)) {
			continue
		}
		om.acked.Set(uint(idx))
		om.ackedN++
		ackedBytes += len(om.fragments[idx])
		if !om.sentAt[idx].IsZero() {
			if rtt := now.Sub(om.sentAt[idx]); sampled == 0 || rtt < sampled {
				sampled = rtt
			}
			ps.rtt.sample(now.Sub(om.sentAt[idx]))
		}
	}
	if ackedBytes > 0 {
		ps.cong.OnAck(ackedBytes, sampled, now)
	}
	if om.ackedN == len(om.fragments) {
		delete(ps.outbound, p.MessageID)
	}
	return nil
}

func (t *Transport) onNack(peer PhysicalDevicePk, p *Packet) error {
	ps := t.peerState(peer)
	ps.mu.Lock()
	om, ok := ps.outbound[p.MessageID]
	ps.cong.OnNack(time.Now())
	ps.mu.Unlock()
	if !ok {
		return nil
	}
	for _, idx := range p.MissingIndices {
		if int(idx) >= len(om.fragments) {
			continue
		}
		t.scheduler.Enqueue(Packet{
			Kind:          PacketData,
			MessageID:     p.MessageID,
			FragmentIndex: idx,
			FragmentCount: uint16(len(om.fragments)),
			Priority:      om.priority,
			Payload:       om.fragments[idx],
		})
	}
	return t.drain(peer, ps)
}

func encodePacket(p *Packet) ([]byte, error) {
	b, err := msgpack.Marshal(p)
	if err != nil {
		return nil, newErr(ErrProtocol, "encode packet", err)
	}
	return b, nil
}

func mustEncodePacket(p *Packet) []byte {
	b, err := encodePacket(p)
	if err != nil {
		return nil
	}
	return b
}

func decodePacket(b []byte) (*Packet, error) {
	var p Packet
	if err := msgpack.Unmarshal(b, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
