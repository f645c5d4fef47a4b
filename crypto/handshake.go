package crypto

import (
	"crypto/ed25519"
	"fmt"
)

// SessionState mirrors the per-peer state machine in spec §3: a session
// moves Idle -> HandshakeInProgress -> Established -> Rekeying -> Closed.
type SessionState int

const (
	StateIdle SessionState = iota
	StateHandshakeInProgress
	StateEstablished
	StateRekeying
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateHandshakeInProgress:
		return "HandshakeInProgress"
	case StateEstablished:
		return "Established"
	case StateRekeying:
		return "Rekeying"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

const (
	identityPayloadSize = ed25519.PublicKeySize + ed25519.SignatureSize // 32 + 64
	aeadTagSize         = 16

	// Msg1Size is a bare ephemeral public key.
	Msg1Size = X25519KeySize
	// Msg2Size is ephemeral || enc(static) || enc(identity payload).
	Msg2Size = X25519KeySize + (X25519KeySize + aeadTagSize) + (identityPayloadSize + aeadTagSize)
	// Msg3Size is enc(static) || enc(identity payload).
	Msg3Size = (X25519KeySize + aeadTagSize) + (identityPayloadSize + aeadTagSize)
)

// HandshakeState drives the three-message Noise XX-style exchange as a
// pure, step-driven state machine (Design Notes §9: no task is spawned to
// run it, so it can be advanced synchronously from within a PeerActor).
type HandshakeState struct {
	ss          *symmetricState
	isInitiator bool
	step        int

	local      *StaticIdentity
	ephemeral  *ephemeralKeypair
	remoteEph  [X25519KeySize]byte
	remoteDH   [X25519KeySize]byte
	remoteSign ed25519.PublicKey

	// cachedKey holds the AEAD key derived after the "es" DH, needed again
	// one wire message later (responder decrypting message 3's static key
	// uses the same key message 2's identity payload was encrypted with).
	cachedKey [32]byte
}

// NewInitiator begins a handshake as the party that opens the connection,
// returning the HandshakeState and the first wire message to send.
func NewInitiator(local *StaticIdentity) (*HandshakeState, []byte, error) {
	eph, err := newEphemeralKeypair()
	if err != nil {
		return nil, nil, fmt.Errorf("crypto: initiate: %w", err)
	}
	hs := &HandshakeState{
		ss:          newSymmetricState(),
		isInitiator: true,
		local:       local,
		ephemeral:   eph,
	}
	hs.ss.mixHash(eph.pub[:])
	hs.step = 1
	return hs, eph.pub[:], nil
}

// NewResponder begins a handshake as the party waiting for an incoming
// connection. Step must be called with the peer's first message.
func NewResponder(local *StaticIdentity) *HandshakeState {
	return &HandshakeState{
		ss:          newSymmetricState(),
		isInitiator: false,
		local:       local,
	}
}

// StepResult is what driving the handshake one message forward produces.
type StepResult struct {
	// Outgoing is the next wire message to send, or nil if there is none.
	Outgoing []byte
	// Session is non-nil once the handshake completes.
	Session *Session
}

// Step advances the handshake with one incoming wire message. Any failure
// (malformed message, signature mismatch, wrong step) closes the
// handshake; the caller must not retry this HandshakeState and should let
// the peer initiate again.
func (hs *HandshakeState) Step(incoming []byte) (*StepResult, error) {
	if hs.isInitiator {
		return hs.stepInitiator(incoming)
	}
	return hs.stepResponder(incoming)
}

func (hs *HandshakeState) stepResponder(incoming []byte) (*StepResult, error) {
	switch hs.step {
	case 0:
		if len(incoming) != Msg1Size {
			return nil, ErrHandshakeFailed
		}
		copy(hs.remoteEph[:], incoming)
		hs.ss.mixHash(hs.remoteEph[:])

		eph, err := newEphemeralKeypair()
		if err != nil {
			return nil, fmt.Errorf("crypto: responder step: %w", err)
		}
		hs.ephemeral = eph
		hs.ss.mixHash(eph.pub[:])

		// ee
		ee, err := dh(eph.priv, hs.remoteEph)
		if err != nil {
			return nil, ErrHandshakeFailed
		}
		key := hs.ss.mixKey(ee)
		encStatic, err := hs.ss.encryptAndHash(key, hs.local.DHPub[:])
		if err != nil {
			return nil, err
		}

		// es: responder's static priv with initiator's ephemeral pub
		es, err := dh(hs.local.DHPriv, hs.remoteEph)
		if err != nil {
			return nil, ErrHandshakeFailed
		}
		key = hs.ss.mixKey(es)
		hs.cachedKey = key

		preHash := hs.ss.h
		payload := hs.signIdentity(preHash)
		encPayload, err := hs.ss.encryptAndHash(key, payload)
		if err != nil {
			return nil, err
		}

		out := make([]byte, 0, Msg2Size)
		out = append(out, eph.pub[:]...)
		out = append(out, encStatic...)
		out = append(out, encPayload...)
		hs.step = 1
		return &StepResult{Outgoing: out}, nil

	case 1:
		if len(incoming) != Msg3Size {
			return nil, ErrHandshakeFailed
		}
		encStatic := incoming[:X25519KeySize+aeadTagSize]
		encPayload := incoming[X25519KeySize+aeadTagSize:]

		// the initiator encrypted its static key with the same key this
		// side derived after "es", before either side performs "se".
		staticPub, err := hs.ss.decryptAndHash(hs.cachedKey, encStatic)
		if err != nil {
			return nil, err
		}
		copy(hs.remoteDH[:], staticPub)

		// se: responder's ephemeral priv with initiator's static pub
		se, err := dh(hs.ephemeral.priv, hs.remoteDH)
		if err != nil {
			return nil, ErrHandshakeFailed
		}
		key := hs.ss.mixKey(se)
		preHash := hs.ss.h
		payload, err := hs.ss.decryptAndHash(key, encPayload)
		if err != nil {
			return nil, err
		}
		if err := hs.verifyIdentity(payload, preHash); err != nil {
			return nil, err
		}

		session := hs.finalize()
		hs.step = 2
		return &StepResult{Session: session}, nil
	default:
		return nil, ErrWrongStep
	}
}

func (hs *HandshakeState) stepInitiator(incoming []byte) (*StepResult, error) {
	switch hs.step {
	case 1:
		if len(incoming) != Msg2Size {
			return nil, ErrHandshakeFailed
		}
		copy(hs.remoteEph[:], incoming[:X25519KeySize])
		encStatic := incoming[X25519KeySize : X25519KeySize+X25519KeySize+aeadTagSize]
		encPayload := incoming[X25519KeySize+X25519KeySize+aeadTagSize:]
		hs.ss.mixHash(hs.remoteEph[:])

		// ee
		ee, err := dh(hs.ephemeral.priv, hs.remoteEph)
		if err != nil {
			return nil, ErrHandshakeFailed
		}
		key := hs.ss.mixKey(ee)
		staticPub, err := hs.ss.decryptAndHash(key, encStatic)
		if err != nil {
			return nil, err
		}
		copy(hs.remoteDH[:], staticPub)

		// es: initiator's ephemeral priv with responder's static pub
		es, err := dh(hs.ephemeral.priv, hs.remoteDH)
		if err != nil {
			return nil, ErrHandshakeFailed
		}
		key = hs.ss.mixKey(es)
		preHash := hs.ss.h
		payload, err := hs.ss.decryptAndHash(key, encPayload)
		if err != nil {
			return nil, err
		}
		if err := hs.verifyIdentity(payload, preHash); err != nil {
			return nil, err
		}

		encStatic2, err := hs.ss.encryptAndHash(key, hs.local.DHPub[:])
		if err != nil {
			return nil, err
		}

		// se: initiator's static priv with responder's ephemeral pub
		se, err := dh(hs.local.DHPriv, hs.remoteEph)
		if err != nil {
			return nil, ErrHandshakeFailed
		}
		key = hs.ss.mixKey(se)
		myPreHash := hs.ss.h
		myPayload := hs.signIdentity(myPreHash)
		encPayload2, err := hs.ss.encryptAndHash(key, myPayload)
		if err != nil {
			return nil, err
		}

		out := make([]byte, 0, Msg3Size)
		out = append(out, encStatic2...)
		out = append(out, encPayload2...)

		session := hs.finalize()
		hs.step = 2
		return &StepResult{Outgoing: out, Session: session}, nil
	default:
		return nil, ErrWrongStep
	}
}

// signIdentity signs transcriptHash (the transcript hash as it stood
// immediately before this identity payload is mixed in) with the local
// Ed25519 static key, binding the signature to this exact handshake.
func (hs *HandshakeState) signIdentity(transcriptHash [32]byte) []byte {
	payload := make([]byte, 0, identityPayloadSize)
	payload = append(payload, hs.local.SigningPub...)
	sig := ed25519.Sign(hs.local.SigningPriv, transcriptHash[:])
	payload = append(payload, sig...)
	return payload
}

func (hs *HandshakeState) verifyIdentity(payload []byte, transcriptHash [32]byte) error {
	if len(payload) != identityPayloadSize {
		return ErrHandshakeFailed
	}
	pub := ed25519.PublicKey(append(ed25519.PublicKey(nil), payload[:ed25519.PublicKeySize]...))
	sig := payload[ed25519.PublicKeySize:]
	if !ed25519.Verify(pub, transcriptHash[:], sig) {
		return ErrSignatureInvalid
	}
	hs.remoteSign = pub
	return nil
}

func (hs *HandshakeState) finalize() *Session {
	tx, rx := hs.ss.split()
	s := newSession(hs.isInitiator, hs.remoteDH, hs.remoteSign)
	var err error
	if hs.isInitiator {
		s.send, err = newAEAD(tx)
		if err == nil {
			s.recv, err = newAEAD(rx)
		}
	} else {
		s.recv, err = newAEAD(tx)
		if err == nil {
			s.send, err = newAEAD(rx)
		}
	}
	if err != nil {
		s.state.Store(int32(StateClosed))
	}
	return s
}

// Fingerprint returns the SHA-256 fingerprint of the remote identity
// learned during this handshake, valid only after Step has returned a
// non-nil Session.
func (hs *HandshakeState) Fingerprint() Fingerprint {
	return FingerprintOf(hs.remoteSign)
}
