package core

// session.go -- per-(peer_device, cid) synchronization session state
// machine (§4.1): Handshake (awaiting CapsAck) -> Active (may exchange
// sync) -> Draining (peer lost) -> removed after grace.

import "time"

type SessionState uint8

const (
	SessionHandshake SessionState = iota
	SessionActive
	SessionDraining
)

const (
	handshakeRetryBase = 500 * time.Millisecond
	handshakeRetryMax  = 30 * time.Second
	drainingGrace      = 60 * time.Second
	livenessWindow     = 20 * time.Second
)

// peerSessionKey indexes the engine's session map.
type peerSessionKey struct {
	peer PhysicalDevicePk
	cid  ConversationId
}

// PeerSession is a cyclic session<->conversation reference modeled as an
// index into engine-owned maps (§9) rather than an owning back-pointer.
type PeerSession struct {
	Peer  PhysicalDevicePk
	CID   ConversationId
	State SessionState

	retries     int
	lastAttempt time.Time

	drainStarted time.Time
	lastPong     time.Time

	// reconTier is the IBLT tier currently in play for this session's sync
	// exchanges (§4.2); it escalates on decode failure and resets to Tiny
	// when handleSyncSketch decodes a difference sketch cleanly.
	reconTier       IBLTTier
	reconFailCount  int
	pendingPowNonce []byte
}

func newPeerSession(peer PhysicalDevicePk, cid ConversationId) *PeerSession {
	return &PeerSession{Peer: peer, CID: cid, State: SessionHandshake, reconTier: TierTiny}
}

// backoffDue reports whether enough time has elapsed since the last
// handshake retry attempt, using exponential backoff bounded at
// handshakeRetryMax.
func (s *PeerSession) backoffDue(now time.Time) bool {
	if s.lastAttempt.IsZero() {
		return true
	}
	delay := handshakeRetryBase << uint(min(s.retries, 6))
	if delay > handshakeRetryMax {
		delay = handshakeRetryMax
	}
	return now.Sub(s.lastAttempt) >= delay
}

// markDraining transitions an Active session to Draining, recording when
// the grace period started.
func (s *PeerSession) markDraining(now time.Time) {
	if s.State == SessionDraining {
		return
	}
	s.State = SessionDraining
	s.drainStarted = now
}

// expired reports whether a Draining session has exceeded its grace period
// and should be removed.
func (s *PeerSession) expired(now time.Time) bool {
	return s.State == SessionDraining && now.Sub(s.drainStarted) >= drainingGrace
}

// livenessLost reports whether no Pong has been seen within livenessWindow
// of an Active session, meaning the session should be reported dead (§4.3).
func (s *PeerSession) livenessLost(now time.Time) bool {
	if s.State != SessionActive || s.lastPong.IsZero() {
		return false
	}
	return now.Sub(s.lastPong) >= livenessWindow
}
