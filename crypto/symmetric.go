package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"hash"
	"io"

	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/hkdf"
)

// protocolName seeds the initial chaining key and hash, the way the
// teacher seeds its transcript with NoiseConstruction (device/noise-protocol.go).
const protocolName = "meshcore-noise-xx-x25519-aesgcm-blake2s-1"

func newHash() hash.Hash {
	h, _ := blake2s.New256(nil)
	return h
}

// symmetricState tracks the running chaining key and transcript hash of an
// in-progress handshake, mirroring the mixHash/mixKey pattern in the
// teacher's noise-protocol.go but generalized to HKDF instead of the
// Noise-spec's hand-rolled KDF1/KDF2.
type symmetricState struct {
	ck [32]byte // chaining key
	h  [32]byte // transcript hash
}

func newSymmetricState() *symmetricState {
	ss := &symmetricState{}
	h := newHash()
	h.Write([]byte(protocolName))
	h.Sum(ss.h[:0])
	ss.ck = ss.h
	return ss
}

func (ss *symmetricState) mixHash(data []byte) {
	h := newHash()
	h.Write(ss.h[:])
	h.Write(data)
	h.Sum(ss.h[:0])
}

// mixKey absorbs new key material (typically a DH output) into the chain
// key and returns a fresh 32-byte AEAD key derived alongside it.
func (ss *symmetricState) mixKey(ikm []byte) (aeadKey [32]byte) {
	r := hkdf.New(newHash, ikm, ss.ck[:], nil)
	var newCK [32]byte
	io.ReadFull(r, newCK[:])
	io.ReadFull(r, aeadKey[:])
	ss.ck = newCK
	return aeadKey
}

func newAEAD(key [32]byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// nonceFromCounter renders a monotonic counter into a 12-byte AES-GCM
// nonce, zero-padded in the high bytes the way the teacher renders its
// transport counter into the low 8 bytes of a 12-byte nonce
// (device/send.go's MessageTransportOffsetCounter framing).
func nonceFromCounter(counter uint64) [12]byte {
	var nonce [12]byte
	for i := 0; i < 8; i++ {
		nonce[4+i] = byte(counter >> (8 * i))
	}
	return nonce
}

// encryptAndHash seals plaintext under the current transcript hash as
// associated data, then mixes the ciphertext into the transcript.
func (ss *symmetricState) encryptAndHash(key [32]byte, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	nonce := nonceFromCounter(0)
	ct := aead.Seal(nil, nonce[:], plaintext, ss.h[:])
	ss.mixHash(ct)
	return ct, nil
}

func (ss *symmetricState) decryptAndHash(key [32]byte, ciphertext []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	nonce := nonceFromCounter(0)
	pt, err := aead.Open(nil, nonce[:], ciphertext, ss.h[:])
	if err != nil {
		return nil, ErrHandshakeFailed
	}
	ss.mixHash(ciphertext)
	return pt, nil
}

// split derives the final send/recv transport keys from the chaining key,
// per spec §4.2 ("Transport keys are derived by HKDF into two 32-byte
// keys (tx, rx)").
func (ss *symmetricState) split() (tx, rx [32]byte) {
	r := hkdf.New(newHash, nil, ss.ck[:], []byte("meshcore-transport-split"))
	io.ReadFull(r, tx[:])
	io.ReadFull(r, rx[:])
	return tx, rx
}
