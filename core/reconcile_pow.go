package core

// reconcile_pow.go -- proof-of-work gating for reconciliation rebuilds
// (§4.2). A peer that repeatedly fails to reconcile (SyncReconFail) is
// asked to spend CPU before the local side commits to rebuilding a larger
// sketch for it, bounding the cost of a peer that just keeps claiming
// divergence to force expensive rebuilds.

import (
	"crypto/rand"
	"sync"
)

// reconPowMinFailures is how many consecutive SyncReconFail rounds are
// tolerated before a challenge is issued; a first failure is assumed to be
// ordinary packet loss and never gated (see DESIGN.md).
const reconPowMinFailures = 2

// reconPowBaseDifficulty and reconPowMaxDifficulty bound the leading-zero-bit
// requirement issued to a peer; difficulty escalates by one bit per further
// run of failures past reconPowMinFailures, capped to keep solve time
// bounded on low-power devices.
const (
	reconPowBaseDifficulty = 16
	reconPowMaxDifficulty  = 24
)

// powDifficultyTracker holds the escalating challenge difficulty issued per
// peer session, guarded by a mutex around a single mutable counter rather
// than atomics, since updates are always read-modify-write under
// contention from at most one dispatcher goroutine per session.
type powDifficultyTracker struct {
	mu         sync.Mutex
	difficulty map[peerSessionKey]uint8
}

func newPowDifficultyTracker() *powDifficultyTracker {
	return &powDifficultyTracker{difficulty: make(map[peerSessionKey]uint8)}
}

// shouldChallenge reports whether the session's consecutive failure count
// warrants issuing a PoW challenge, per reconPowMinFailures.
func shouldChallenge(failCount int) bool {
	return failCount >= reconPowMinFailures
}

// nextDifficulty returns the difficulty to issue for a session's next
// challenge, escalating from the base on repeated failures past the
// minimum; reset clears it after a clean reconciliation.
func (t *powDifficultyTracker) nextDifficulty(key peerSessionKey, failCount int) uint8 {
	t.mu.Lock()
	defer t.mu.Unlock()
	d := t.difficulty[key]
	if d == 0 {
		d = reconPowBaseDifficulty
	}
	if failCount > reconPowMinFailures {
		d++
	}
	if d > reconPowMaxDifficulty {
		d = reconPowMaxDifficulty
	}
	t.difficulty[key] = d
	return d
}

// reset clears the escalation state for a session, called once reconciliation
// succeeds cleanly.
func (t *powDifficultyTracker) reset(key peerSessionKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.difficulty, key)
}

// newChallengeNonce generates the random challenge a peer must append a
// solving nonce to, analogous to the group-genesis PoW but keyed to a
// single reconciliation round rather than a node hash.
func newChallengeNonce() ([]byte, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return nonce, nil
}

// solveReconPow searches for a solution nonce such that
// blake3(challenge || solution) has at least difficulty leading zero bits.
// Unlike group-genesis PoW this has no signature to invalidate per attempt,
// so the search is a plain incrementing counter.
func solveReconPow(challenge []byte, difficulty uint8) []byte {
	for i := uint64(0); ; i++ {
		solution := appendU64(nil, i)
		buf := append(append([]byte(nil), challenge...), solution...)
		if validatePoW(hashBytes(buf)[:], difficulty) {
			return solution
		}
	}
}

// verifyReconPow checks a peer-supplied solution against the challenge this
// side issued.
func verifyReconPow(challenge, solution []byte, difficulty uint8) bool {
	buf := append(append([]byte(nil), challenge...), solution...)
	return validatePoW(hashBytes(buf)[:], difficulty)
}
