package core

// ratchet.go -- forward-secret per-(conversation, device) chain key
// evolution (§3, §9). On receipt of a valid node from a device, the chain
// key advances; the previous chain key and triggering node hash are kept as
// a hot ratchet key until compaction migrates them into a cold checkpoint
// (ratchet_file.go).

import (
	"crypto/hmac"
	"crypto/sha256"
)

// ratchetAdvance derives the next chain key from the current one and the
// hash of the node that triggered the advance, binding each step to a
// specific DAG event the way a double-ratchet binds to message ciphertext.
func ratchetAdvance(chainKey []byte, triggeringHash Hash32) []byte {
	mac := hmac.New(sha256.New, chainKey)
	mac.Write([]byte("merkle-tox/ratchet/v1"))
	mac.Write(triggeringHash[:])
	return mac.Sum(nil)
}

// ratchetState is the engine's in-memory view of one device's chain,
// independent of how many hot keys storage has accumulated for it.
type ratchetState struct {
	chainKey []byte
}

// advanceRatchet derives the next chain key and returns both the new state
// and the superseded key as a HotRatchetKey, which the caller is expected to
// persist via an EffectWriteRatchetKey.
func advanceRatchet(device PhysicalDevicePk, epoch uint64,
	cur *ratchetState, triggeringHash Hash32) (*ratchetState, *HotRatchetKey) {
	var prior []byte
	if cur != nil {
		prior = cur.chainKey
	} else {
		prior = make([]byte, 32) // first node from this device: zero chain key
	}
	next := ratchetAdvance(prior, triggeringHash)
	hot := &HotRatchetKey{
		DeviceID:       device,
		Epoch:          epoch,
		PriorChainKey:  prior,
		TriggeringNode: triggeringHash,
	}
	return &ratchetState{chainKey: next}, hot
}
