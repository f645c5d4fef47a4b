package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
)

// FingerprintOf derives the stable peer identity fingerprint from a
// static Ed25519 verification key (spec §3: "a peer's Fingerprint is the
// SHA-256 hash of its long-term Ed25519 public key").
func FingerprintOf(pub ed25519.PublicKey) Fingerprint {
	return Fingerprint(sha256.Sum256(pub))
}

// SignAnnounce signs an ANNOUNCE body with the local static signing key,
// so relays and recipients can authenticate the sender of a broadcast
// frame without an established session (spec §4.6).
func SignAnnounce(local *StaticIdentity, body []byte) []byte {
	return ed25519.Sign(local.SigningPriv, body)
}

// VerifyAnnounce checks an ANNOUNCE body's signature against the claimed
// sender's public key.
func VerifyAnnounce(pub ed25519.PublicKey, body, signature []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, body, signature)
}
