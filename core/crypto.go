// Package core implements the merkle-tox conversation engine, reconciliation
// protocol and reliable transport.
//
// crypto.go -- shared cryptographic primitives.
//
// Exposes:
//   - hashBytes / hashNode   -- Blake3 content hashing.
//   - Sign / Verify          -- Ed25519 (device and logical identity keys).
//   - deriveMACKey / computeMAC -- HMAC-SHA256 derived conversation MAC (1-on-1).
//   - sealKeyWrap / openKeyWrap -- XChaCha20-Poly1305 AEAD for KeyWrap nodes.
//   - validatePoW            -- leading-zero-bit proof-of-work check (solvers
//     live in node.go and reconcile_pow.go).
package core

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
	"lukechampine.com/blake3"
)

// Hash32 is a 32-byte Blake3 digest, used for node hashes, conversation ids
// and IBLT cell ids alike.
type Hash32 [32]byte

func (h Hash32) IsZero() bool {
	var z Hash32
	return h == z
}

func hashBytes(b []byte) Hash32 {
	return Hash32(blake3.Sum256(b))
}

// Sign produces an Ed25519 signature over msg using priv.
func Sign(priv ed25519.PrivateKey, msg []byte) []byte {
	return ed25519.Sign(priv, msg)
}

// Verify checks an Ed25519 signature over msg under pub.
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

// deriveMACKey derives the per-epoch MAC key from the conversation key. The
// derivation is a single HMAC-SHA256 application with a fixed domain label,
// kept separate from the KeyWrap AEAD key derivation (deriveAEADKey) so that
// compromising one does not compromise the other.
func deriveMACKey(kConv []byte) []byte {
	mac := hmac.New(sha256.New, kConv)
	mac.Write([]byte("merkle-tox/mac/v1"))
	return mac.Sum(nil)
}

// computeMAC returns the keyed hash of msg under the conversation's current
// epoch key. Used to authenticate 1-on-1 nodes.
func computeMAC(kConv, msg []byte) []byte {
	key := deriveMACKey(kConv)
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return mac.Sum(nil)
}

// verifyMAC reports whether mac is the correct authentication tag for msg
// under kConv, using a constant-time comparison.
func verifyMAC(kConv, msg, mac []byte) bool {
	want := computeMAC(kConv, msg)
	return subtle.ConstantTimeCompare(want, mac) == 1
}

// deriveAEADKey derives the XChaCha20-Poly1305 key used to seal KeyWrap
// payloads from the conversation key of the *issuing* epoch.
func deriveAEADKey(kConv []byte) []byte {
	mac := hmac.New(sha256.New, kConv)
	mac.Write([]byte("merkle-tox/keywrap/v1"))
	sum := mac.Sum(nil)
	return sum[:chacha20poly1305.KeySize]
}

// sealKeyWrap encrypts plaintext (a fresh k_conv for the new epoch) for one
// recipient device using a key derived from the previous epoch's key plus a
// random nonce prefix.
func sealKeyWrap(prevKConv, plaintext, nonce []byte) ([]byte, error) {
	key := deriveAEADKey(prevKConv)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != chacha20poly1305.NonceSizeX {
		return nil, errors.New("keywrap: bad nonce size")
	}
	return aead.Seal(nil, nonce, plaintext, nil), nil
}

// openKeyWrap is the inverse of sealKeyWrap.
func openKeyWrap(prevKConv, nonce, ciphertext []byte) ([]byte, error) {
	key := deriveAEADKey(prevKConv)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, ciphertext, nil)
}

// validatePoW reports whether hash has at least difficulty leading zero
// bits, used both for group-genesis PoW and for
// reconciliation rebuild challenges (§4.2).
func validatePoW(hash []byte, difficulty uint8) bool {
	need := int(difficulty)
	for _, b := range hash {
		if need <= 0 {
			return true
		}
		if need >= 8 {
			if b != 0 {
				return false
			}
			need -= 8
			continue
		}
		if b>>(8-need) != 0 {
			return false
		}
		return true
	}
	return need <= 0
}

// countLeadingZeroBits returns how many leading zero bits hash has, capped
// at len(hash)*8.
func countLeadingZeroBits(hash []byte) int {
	count := 0
	for _, b := range hash {
		if b == 0 {
			count += 8
			continue
		}
		for i := 7; i >= 0; i-- {
			if b&(1<<uint(i)) != 0 {
				return count
			}
			count++
		}
	}
	return count
}
