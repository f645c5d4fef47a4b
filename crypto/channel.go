package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// ErrChannelDecrypt is returned when a channel-encrypted payload fails to
// open, typically because the supplied password derives the wrong key.
var ErrChannelDecrypt = errors.New("crypto: channel decryption failed")

// SealChannel encrypts plaintext under key (from DeriveChannelKey) using
// AES-256-GCM with a fresh random nonce prepended to the ciphertext.
// Unlike the handshake transport's monotonic counter nonces, a channel
// key is shared indefinitely across many senders with no coordinated
// counter, so the nonce must be random per spec's implicit requirement
// that channel messages need no session state to decrypt.
func SealChannel(key [32]byte, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: channel cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("crypto: channel nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// OpenChannel decrypts a payload produced by SealChannel.
func OpenChannel(key [32]byte, payload []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: channel cipher: %w", err)
	}
	if len(payload) < aead.NonceSize() {
		return nil, ErrChannelDecrypt
	}
	nonce, ct := payload[:aead.NonceSize()], payload[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrChannelDecrypt
	}
	return pt, nil
}
