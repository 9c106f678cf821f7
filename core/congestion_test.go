package core

import (
	"testing"
	"time"
)

func TestNewCongestionControllerDispatch(t *testing.T) {
	cases := map[string]interface{}{
		"":       &aimdController{},
		"aimd":   &aimdController{},
		"cubic":  &cubicController{},
		"bbr":    &bbrController{},
		"bbrv1":  &bbrController{},
		"bbrv2":  &bbrController{},
		"bogus":  &aimdController{},
	}
	for name, want := range cases {
		got := newCongestionController(name)
		switch want.(type) {
		case *aimdController:
			if _, ok := got.(*aimdController); !ok {
				t.Errorf("algorithm %q: got %T, want *aimdController", name, got)
			}
		case *cubicController:
			if _, ok := got.(*cubicController); !ok {
				t.Errorf("algorithm %q: got %T, want *cubicController", name, got)
			}
		case *bbrController:
			if _, ok := got.(*bbrController); !ok {
				t.Errorf("algorithm %q: got %T, want *bbrController", name, got)
			}
		}
	}
	v1 := newCongestionController("bbrv1").(*bbrController)
	v2 := newCongestionController("bbrv2").(*bbrController)
	if v1.gen == v2.gen {
		t.Fatalf("bbrv1 and bbrv2 should select distinct generations")
	}
}

func TestAIMDSlowStartThenCongestionAvoidance(t *testing.T) {
	c := newAIMDController()
	now := time.Unix(0, 0)
	for i := 0; i < 10; i++ {
		c.OnAck(1200, 50*time.Millisecond, now)
	}
	if c.Cwnd() <= int(aimdInitialWindow) {
		t.Fatalf("expected window growth, got %d", c.Cwnd())
	}

	before := c.Cwnd()
	c.OnNack(now)
	if c.Cwnd() >= before {
		t.Fatalf("expected window to shrink after NACK: before=%d after=%d", before, c.Cwnd())
	}
}

func TestAIMDTimeoutResetsToSlowStart(t *testing.T) {
	c := newAIMDController()
	now := time.Unix(0, 0)
	for i := 0; i < 20; i++ {
		c.OnAck(1200, 50*time.Millisecond, now)
	}
	c.OnTimeout(now)
	if c.Cwnd() != int(aimdMinWindow) {
		t.Fatalf("expected reset to min window after timeout, got %d", c.Cwnd())
	}
}

func TestCubicGrowsPastSavedWindowAfterLoss(t *testing.T) {
	c := newCubicController()
	now := time.Unix(0, 0)
	for i := 0; i < 30; i++ {
		now = now.Add(20 * time.Millisecond)
		c.OnAck(1200, 30*time.Millisecond, now)
	}
	peak := c.Cwnd()
	c.OnNack(now)
	if c.Cwnd() >= peak {
		t.Fatalf("expected cubic window to drop after loss: peak=%d after=%d", peak, c.Cwnd())
	}
	for i := 0; i < 60; i++ {
		now = now.Add(20 * time.Millisecond)
		c.OnAck(1200, 30*time.Millisecond, now)
	}
	if c.Cwnd() < peak {
		t.Fatalf("expected cubic to recover towards/past prior peak, got %d want >= %d", c.Cwnd(), peak)
	}
}

// TestBBRBandwidthDropDecaysPacingRate reproduces the mandated end-to-end
// shape of a sudden link bandwidth drop: pacing_rate should fall as soon as
// the windowed bandwidth filter has been refreshed with enough low-rate
// samples, instead of latching the pre-drop maximum forever.
func TestBBRBandwidthDropDecaysPacingRate(t *testing.T) {
	c := newBBRController(bbrGen1)
	now := time.Unix(0, 0)
	highRTT := 20 * time.Millisecond

	// Fill the bandwidth filter at a high rate: ~1 MB/s.
	for i := 0; i < bbrBtlBwWindow; i++ {
		now = now.Add(highRTT)
		c.OnAck(20_000, highRTT, now)
	}
	highRate := c.PacingRate()
	if highRate <= 0 {
		t.Fatalf("expected nonzero pacing rate after startup samples")
	}

	// Link drops to ~100 kB/s; once every sample in the window has been
	// replaced, the max-filter estimate must fall with it.
	lowRTT := 20 * time.Millisecond
	for i := 0; i < bbrBtlBwWindow; i++ {
		now = now.Add(lowRTT)
		c.OnAck(2_000, lowRTT, now)
	}
	lowRate := c.PacingRate()
	if lowRate >= highRate {
		t.Fatalf("expected pacing rate to decay after bandwidth drop: high=%v low=%v", highRate, lowRate)
	}
}

func TestBBRCwndUsesGenerationSpecificGain(t *testing.T) {
	now := time.Unix(0, 0)
	mk := func(gen bbrGeneration) *bbrController {
		c := newBBRController(gen)
		for i := 0; i < bbrBtlBwWindow; i++ {
			now = now.Add(20 * time.Millisecond)
			c.OnAck(20_000, 20*time.Millisecond, now)
		}
		return c
	}
	v1 := mk(bbrGen1)
	v2 := mk(bbrGen2)
	if v1.Cwnd() <= v2.Cwnd() {
		t.Fatalf("expected bbrv1's flatter 2x BDP gain to yield a larger window than bbrv2's trimmed gain: v1=%d v2=%d", v1.Cwnd(), v2.Cwnd())
	}
}
