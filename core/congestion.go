package core

// congestion.go -- pluggable congestion control behind the capability set
// {on_ack, on_nack, on_timeout, on_fragment_sent, cwnd, pacing_rate,
// min_rtt} (§4.3, §9), selected by the algorithm name NewTransport is
// given. All four named variants (AIMD, CUBIC,
// BBRv1, BBRv2) are implemented; dispatch stays monomorphic through the
// CongestionController interface rather than a type switch per packet.

import (
	"math"
	"time"
)

// CongestionController tracks a sender's congestion state and reacts to
// fragment-level send/ack/loss/timeout events.
type CongestionController interface {
	// OnFragmentSent is called once per fragment actually written to the
	// socket, before any ack is expected.
	OnFragmentSent(now time.Time)
	// OnAck is called once per call to onAck with the number of bytes the
	// newly-acknowledged fragments carried and, if available, a fresh RTT
	// sample covering one of them.
	OnAck(ackedBytes int, rttSample time.Duration, now time.Time)
	// OnNack is called once per explicit NACK (a peer naming a fragment it
	// never received).
	OnNack(now time.Time)
	// OnTimeout is called once per fragment whose in-flight entry exceeded
	// the current RTO without being acked.
	OnTimeout(now time.Time)
	// Cwnd returns the current congestion window in fragments.
	Cwnd() int
	// PacingRate returns the current pacing rate in bytes/second.
	PacingRate() float64
	// MinRTT returns the smallest RTT sample observed so far.
	MinRTT() time.Duration
}

// approxFragmentBytes converts a fragment-denominated window into a
// byte-denominated pacing rate when no better per-fragment size is known;
// it is only a scaling constant, not a framing limit (transport_packet.go
// owns the real MTU).
const approxFragmentBytes = float64(defaultPayloadMTU)

// ---------------------------------------------------------------------
// AIMD
// ---------------------------------------------------------------------

const (
	aimdMinWindow       = 2.0
	aimdInitialWindow   = 4.0
	aimdInitialSSThresh = 64.0
)

// aimdController implements additive-increase/multiplicative-decrease: the
// window grows by one fragment per round-trip while in congestion
// avoidance, halves (floored at aimdMinWindow) on loss, and resets to
// slow-start on an RTO per §4.3.
type aimdController struct {
	window       float64
	ssthresh     float64
	ackedInRound int
	minRTT       time.Duration
}

func newAIMDController() *aimdController {
	return &aimdController{window: aimdInitialWindow, ssthresh: aimdInitialSSThresh}
}

func (c *aimdController) OnFragmentSent(now time.Time) {}

func (c *aimdController) OnAck(ackedBytes int, rttSample time.Duration, now time.Time) {
	if rttSample > 0 && (c.minRTT == 0 || rttSample < c.minRTT) {
		c.minRTT = rttSample
	}
	if c.window < c.ssthresh {
		c.window++
		return
	}
	c.ackedInRound++
	if float64(c.ackedInRound) >= c.window {
		c.window++
		c.ackedInRound = 0
	}
}

func (c *aimdController) OnNack(now time.Time) {
	c.ssthresh = c.window / 2
	if c.ssthresh < aimdMinWindow {
		c.ssthresh = aimdMinWindow
	}
	c.window = c.ssthresh
	c.ackedInRound = 0
}

func (c *aimdController) OnTimeout(now time.Time) {
	c.ssthresh = c.window / 2
	if c.ssthresh < aimdMinWindow {
		c.ssthresh = aimdMinWindow
	}
	c.window = aimdMinWindow
	c.ackedInRound = 0
}

func (c *aimdController) Cwnd() int {
	if c.window < aimdMinWindow {
		return int(aimdMinWindow)
	}
	return int(c.window)
}

func (c *aimdController) PacingRate() float64 {
	rtt := c.minRTT
	if rtt <= 0 {
		rtt = rttInitialRTO
	}
	return c.window * approxFragmentBytes / rtt.Seconds()
}

func (c *aimdController) MinRTT() time.Duration { return c.minRTT }

// ---------------------------------------------------------------------
// CUBIC
// ---------------------------------------------------------------------

const (
	cubicBeta      = 0.7  // multiplicative decrease factor on loss
	cubicC         = 0.4  // window-growth aggressiveness constant
	cubicMinWindow = 2.0
)

// cubicController implements the CUBIC window-growth function
// W(t) = C*(t-K)^3 + Wmax, re-anchored at each loss event, per RFC 8312's
// shape (simplified: no TCP-friendly region, no Hystart).
type cubicController struct {
	window     float64
	wMax       float64
	k          float64
	epochStart time.Time
	minRTT     time.Duration
}

func newCubicController() *cubicController {
	return &cubicController{window: aimdInitialWindow, wMax: aimdInitialWindow}
}

func (c *cubicController) OnFragmentSent(now time.Time) {}

func (c *cubicController) OnAck(ackedBytes int, rttSample time.Duration, now time.Time) {
	if rttSample > 0 && (c.minRTT == 0 || rttSample < c.minRTT) {
		c.minRTT = rttSample
	}
	if c.epochStart.IsZero() {
		c.epochStart = now
		c.k = math.Cbrt(c.wMax * (1 - cubicBeta) / cubicC)
	}
	t := now.Sub(c.epochStart).Seconds()
	target := cubicC*math.Pow(t-c.k, 3) + c.wMax
	if target > c.window {
		c.window = target
	} else {
		// Already at or above the cubic target: creep forward additively so
		// the window never stalls while the curve catches up.
		c.window += 1 / c.window
	}
}

func (c *cubicController) OnNack(now time.Time) {
	c.wMax = c.window
	c.window *= cubicBeta
	if c.window < cubicMinWindow {
		c.window = cubicMinWindow
	}
	c.epochStart = time.Time{}
}

func (c *cubicController) OnTimeout(now time.Time) {
	c.wMax = c.window
	c.window = cubicMinWindow
	c.epochStart = time.Time{}
}

func (c *cubicController) Cwnd() int {
	if c.window < cubicMinWindow {
		return int(cubicMinWindow)
	}
	return int(c.window)
}

func (c *cubicController) PacingRate() float64 {
	rtt := c.minRTT
	if rtt <= 0 {
		rtt = rttInitialRTO
	}
	return c.window * approxFragmentBytes / rtt.Seconds()
}

func (c *cubicController) MinRTT() time.Duration { return c.minRTT }

// ---------------------------------------------------------------------
// BBR (v1 / v2)
// ---------------------------------------------------------------------

// bbrBtlBwWindow is how many delivery-rate samples the max-filter keeps;
// once a link's true bandwidth drops, the estimate only falls once every
// sample in the window has been replaced by a post-drop measurement,
// mirroring BBR's windowed-max bandwidth filter.
const bbrBtlBwWindow = 10

// bbrPacingGainCycle is the steady-state ProbeBW gain cycle: one round of
// higher gain to probe for more bandwidth, one round of lower gain to
// drain any queue that probe built, then cruise at unity.
var bbrPacingGainCycle = [8]float64{1.25, 0.75, 1, 1, 1, 1, 1, 1}

const bbrStartupGain = 2.0 // "pacing gain ~2 during startup for BBR-family" (§4.3)
const bbrMinCwndFragments = 4

type bbrGeneration uint8

const (
	bbrGen1 bbrGeneration = 1
	bbrGen2 bbrGeneration = 2
)

// bbrController is a simplified model-based controller: it estimates
// bottleneck bandwidth (windowed max delivery rate) and min RTT, and
// derives cwnd/pacing_rate from that model rather than reacting to loss
// directly -- the defining trait of the BBR family. BBRv1 and BBRv2 share
// the same bandwidth/RTT model here and differ only in how much of the
// bandwidth-delay product they allow in flight (BBRv2 trims inflight
// towards the delivery-rate estimate rather than a flat 2x BDP).
type bbrController struct {
	gen bbrGeneration

	samples   [bbrBtlBwWindow]float64
	sampleIdx int
	filled    int
	btlBw     float64

	minRTT time.Duration

	roundAcks int
	cycleIdx  int
}

func newBBRController(gen bbrGeneration) *bbrController {
	return &bbrController{gen: gen}
}

const bbrRoundAcksPerPhase = 4 // crude proxy for "about one RTT" of acks per gain-cycle phase

func (c *bbrController) OnFragmentSent(now time.Time) {}

func (c *bbrController) OnAck(ackedBytes int, rttSample time.Duration, now time.Time) {
	if rttSample <= 0 {
		return
	}
	if c.minRTT == 0 || rttSample < c.minRTT {
		c.minRTT = rttSample
	}
	rate := float64(ackedBytes) / rttSample.Seconds()
	c.samples[c.sampleIdx] = rate
	c.sampleIdx = (c.sampleIdx + 1) % len(c.samples)
	if c.filled < len(c.samples) {
		c.filled++
	}
	max := 0.0
	for i := 0; i < c.filled; i++ {
		if c.samples[i] > max {
			max = c.samples[i]
		}
	}
	c.btlBw = max

	c.roundAcks++
	if c.roundAcks >= bbrRoundAcksPerPhase {
		c.roundAcks = 0
		c.cycleIdx = (c.cycleIdx + 1) % len(bbrPacingGainCycle)
	}
}

func (c *bbrController) pacingGain() float64 {
	if c.filled < len(c.samples) {
		return bbrStartupGain
	}
	return bbrPacingGainCycle[c.cycleIdx]
}

func (c *bbrController) OnNack(now time.Time) {
	// BBR is model-based, not loss-reactive: an isolated NACK does not cut
	// cwnd the way AIMD/CUBIC do. The bandwidth/RTT model absorbs it.
}

func (c *bbrController) OnTimeout(now time.Time) {
	// A full RTO means the bandwidth model is stale; drop back to Startup
	// so the filter rebuilds from fresh samples instead of pacing against
	// a stale windowed maximum.
	c.filled = 0
	c.sampleIdx = 0
	c.btlBw = 0
	c.roundAcks = 0
	c.cycleIdx = 0
}

func (c *bbrController) Cwnd() int {
	bdp := c.btlBw * c.minRTT.Seconds()
	cwndGain := 2.0
	if c.gen == bbrGen2 {
		cwndGain = 1.5
	}
	frags := bdp * cwndGain / approxFragmentBytes
	if frags < bbrMinCwndFragments {
		return bbrMinCwndFragments
	}
	return int(frags)
}

func (c *bbrController) PacingRate() float64 {
	return c.btlBw * c.pacingGain()
}

func (c *bbrController) MinRTT() time.Duration { return c.minRTT }

// ---------------------------------------------------------------------
// Factory
// ---------------------------------------------------------------------

// newCongestionController selects a controller by name, falling back to
// AIMD for an empty or unrecognized name.
func newCongestionController(algorithm string) CongestionController {
	switch algorithm {
	case "cubic":
		return newCubicController()
	case "bbr", "bbrv1":
		return newBBRController(bbrGen1)
	case "bbrv2":
		return newBBRController(bbrGen2)
	default:
		return newAIMDController()
	}
}
