package core

import (
	"testing"
	"time"
)

func TestRTOClampedToSpecBounds(t *testing.T) {
	e := newRTTEstimator()
	e.sample(1 * time.Millisecond)
	if e.currentRTO() < rttMinRTO {
		t.Fatalf("RTO below floor: %v", e.currentRTO())
	}
	for i := 0; i < 50; i++ {
		e.sample(10 * time.Second)
	}
	if e.currentRTO() > rttMaxRTO {
		t.Fatalf("RTO above ceiling: %v, want <= %v", e.currentRTO(), rttMaxRTO)
	}
	if rttMaxRTO != 5*time.Second {
		t.Fatalf("rttMaxRTO changed from the 5s bound: %v", rttMaxRTO)
	}
}

func TestBackoffRTODoublesUpToCap(t *testing.T) {
	e := newRTTEstimator()
	e.sample(100 * time.Millisecond)
	base := e.currentRTO()
	if got := e.backoffRTO(0); got != base {
		t.Fatalf("retries=0 should equal base RTO: got %v want %v", got, base)
	}
	if got := e.backoffRTO(1); got != clampRTO(base*2) {
		t.Fatalf("retries=1 should double: got %v want %v", got, clampRTO(base*2))
	}
	capped := e.backoffRTO(rttMaxBackoffShift + 5)
	if capped > rttMaxRTO {
		t.Fatalf("backoff exceeded rttMaxRTO: %v", capped)
	}
	if e.backoffRTO(rttMaxBackoffShift) != e.backoffRTO(rttMaxBackoffShift+1) {
		t.Fatalf("backoff shift should saturate at rttMaxBackoffShift")
	}
}
