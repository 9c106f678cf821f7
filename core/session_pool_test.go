package core

import (
	"testing"
	"time"
)

func TestSessionPoolSweepDrainingExpiry(t *testing.T) {
	pool := newSessionPool(time.Second)
	var peer PhysicalDevicePk
	var cid ConversationId
	s := pool.getOrCreate(peer, cid)
	s.State = SessionActive
	s.lastPong = time.Now().Add(-livenessWindow - time.Second)

	now := time.Now()
	dropped := pool.sweep(now)
	if len(dropped) != 0 {
		t.Fatalf("expected no drops on the round that only transitions to Draining")
	}
	if s.State != SessionDraining {
		t.Fatalf("expected liveness-lost session to become Draining")
	}

	later := now.Add(drainingGrace + time.Second)
	dropped = pool.sweep(later)
	if len(dropped) != 1 {
		t.Fatalf("expected the expired Draining session to be dropped, got %d drops", len(dropped))
	}
	if _, ok := pool.get(peer, cid); ok {
		t.Fatalf("expected session to be removed from the pool after expiry")
	}
}

func TestSessionPoolGetOrCreateIsIdempotent(t *testing.T) {
	pool := newSessionPool(time.Second)
	var peer PhysicalDevicePk
	var cid ConversationId
	a := pool.getOrCreate(peer, cid)
	b := pool.getOrCreate(peer, cid)
	if a != b {
		t.Fatalf("expected getOrCreate to return the same session on repeat calls")
	}
}
