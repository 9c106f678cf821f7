package core

// session_pool.go -- the engine's map of active per-(peer, conversation)
// sessions, with a reaper loop that sweeps expired Draining sessions.
//
// Keys on (peer_device, cid) rather than a dial address; "idle past TTL"
// becomes "Draining past drainingGrace".
import (
	"sync"
	"time"
)

// sessionPool owns every PeerSession the engine is tracking and runs the
// periodic sweep that flags a liveness-lost session as Draining and finally
// drops a session whose grace period has elapsed. Sessions still in
// Handshake are not touched by the sweep.
type sessionPool struct {
	mu       sync.Mutex
	sessions map[peerSessionKey]*PeerSession

	reapInterval time.Duration
	stop         chan struct{}
	stopped      bool
}

func newSessionPool(reapInterval time.Duration) *sessionPool {
	if reapInterval <= 0 {
		reapInterval = 5 * time.Second
	}
	return &sessionPool{
		sessions:     make(map[peerSessionKey]*PeerSession),
		reapInterval: reapInterval,
		stop:         make(chan struct{}),
	}
}

// getOrCreate returns the existing session for (peer, cid), creating a
// fresh Handshake-state one if none exists.
func (p *sessionPool) getOrCreate(peer PhysicalDevicePk, cid ConversationId) *PeerSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := peerSessionKey{peer: peer, cid: cid}
	s, ok := p.sessions[key]
	if !ok {
		s = newPeerSession(peer, cid)
		p.sessions[key] = s
	}
	return s
}

// get returns the session for (peer, cid) if one exists.
func (p *sessionPool) get(peer PhysicalDevicePk, cid ConversationId) (*PeerSession, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[peerSessionKey{peer: peer, cid: cid}]
	return s, ok
}

// remove drops a session outright, used once a Draining session's grace
// period has elapsed.
func (p *sessionPool) remove(peer PhysicalDevicePk, cid ConversationId) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, peerSessionKey{peer: peer, cid: cid})
}

// forEach applies fn to a snapshot of the current sessions, safe for fn to
// call back into the pool.
func (p *sessionPool) forEach(fn func(*PeerSession)) {
	p.mu.Lock()
	snapshot := make([]*PeerSession, 0, len(p.sessions))
	for _, s := range p.sessions {
		snapshot = append(snapshot, s)
	}
	p.mu.Unlock()
	for _, s := range snapshot {
		fn(s)
	}
}

// sweep runs one reaper pass: marks liveness-lost Active sessions Draining,
// and drops Draining sessions whose grace period has elapsed. It returns
// the keys of sessions that were dropped, so the caller can emit
// EventPeerHandshakeComplete-style teardown notifications.
func (p *sessionPool) sweep(now time.Time) []peerSessionKey {
	p.mu.Lock()
	defer p.mu.Unlock()

	var dropped []peerSessionKey
	for key, s := range p.sessions {
		if s.livenessLost(now) {
			s.markDraining(now)
		}
		if s.expired(now) {
			dropped = append(dropped, key)
			delete(p.sessions, key)
		}
	}
	return dropped
}

// run starts the periodic reaper as a ticker-driven goroutine. Stop via
// close().
func (p *sessionPool) run(onDropped func([]peerSessionKey)) {
	ticker := time.NewTicker(p.reapInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case t := <-ticker.C:
				dropped := p.sweep(t)
				if len(dropped) > 0 && onDropped != nil {
					onDropped(dropped)
				}
			}
		}
	}()
}

// close stops the reaper goroutine. Calls after the first do nothing.
func (p *sessionPool) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	close(p.stop)
}
