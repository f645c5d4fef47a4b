// Package crypto is the mesh's CryptoCore: a Noise XX-style mutual
// handshake over X25519 producing per-peer AES-256-GCM transport sessions,
// Ed25519 announce signatures, and Argon2id channel key derivation.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

const (
	// X25519KeySize is the size in bytes of an X25519 public or private key.
	X25519KeySize = 32
)

// StaticIdentity is a peer's long-term key material: an Ed25519 signing
// key (whose public half, hashed, is the peer's Fingerprint) and an X25519
// key agreement key used by the handshake.
type StaticIdentity struct {
	SigningPriv ed25519.PrivateKey
	SigningPub  ed25519.PublicKey

	DHPriv [X25519KeySize]byte
	DHPub  [X25519KeySize]byte
}

// Fingerprint is the stable SHA-256 identity derived from a static Ed25519
// verification key (spec §3).
type Fingerprint [32]byte

// GenerateStaticIdentity creates a fresh Ed25519 signing key and X25519
// agreement key pair.
func GenerateStaticIdentity() (*StaticIdentity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate ed25519 key: %w", err)
	}
	id := &StaticIdentity{SigningPriv: priv, SigningPub: pub}
	if _, err := rand.Read(id.DHPriv[:]); err != nil {
		return nil, fmt.Errorf("crypto: generate x25519 key: %w", err)
	}
	clampX25519(&id.DHPriv)
	pk, err := curve25519.X25519(id.DHPriv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("crypto: derive x25519 public key: %w", err)
	}
	copy(id.DHPub[:], pk)
	return id, nil
}

// StaticIdentityFromSeeds reconstructs a StaticIdentity from a raw
// Ed25519 seed and raw X25519 private scalar, as unsealed from a
// persisted keyfile.
func StaticIdentityFromSeeds(ed25519Seed, x25519Priv []byte) (*StaticIdentity, error) {
	if len(ed25519Seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("crypto: ed25519 seed must be %d bytes", ed25519.SeedSize)
	}
	if len(x25519Priv) != X25519KeySize {
		return nil, fmt.Errorf("crypto: x25519 private key must be %d bytes", X25519KeySize)
	}
	priv := ed25519.NewKeyFromSeed(ed25519Seed)
	id := &StaticIdentity{
		SigningPriv: priv,
		SigningPub:  priv.Public().(ed25519.PublicKey),
	}
	copy(id.DHPriv[:], x25519Priv)
	pk, err := curve25519.X25519(id.DHPriv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("crypto: derive x25519 public key: %w", err)
	}
	copy(id.DHPub[:], pk)
	return id, nil
}

// SigningSeed returns the raw 32-byte Ed25519 seed this identity's
// signing key was derived from, for sealing into a keyfile.
func (id *StaticIdentity) SigningSeed() []byte {
	return id.SigningPriv.Seed()
}

// DHPrivate returns the raw X25519 private scalar, for sealing into a
// keyfile.
func (id *StaticIdentity) DHPrivate() []byte {
	return append([]byte(nil), id.DHPriv[:]...)
}

func clampX25519(k *[X25519KeySize]byte) {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
}

// ephemeralKeypair is a handshake-scoped X25519 key pair, freshly generated
// for every handshake attempt and never persisted.
type ephemeralKeypair struct {
	priv [X25519KeySize]byte
	pub  [X25519KeySize]byte
}

func newEphemeralKeypair() (*ephemeralKeypair, error) {
	kp := &ephemeralKeypair{}
	if _, err := rand.Read(kp.priv[:]); err != nil {
		return nil, err
	}
	clampX25519(&kp.priv)
	pub, err := curve25519.X25519(kp.priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	copy(kp.pub[:], pub)
	return kp, nil
}

func dh(priv [X25519KeySize]byte, pub [X25519KeySize]byte) ([]byte, error) {
	secret, err := curve25519.X25519(priv[:], pub[:])
	if err != nil {
		return nil, errors.New("crypto: degenerate DH result")
	}
	return secret, nil
}
