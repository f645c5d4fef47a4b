package crypto

import (
	"crypto/cipher"
	"crypto/ed25519"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bitmesh/meshcore/internal/replay"
)

// nowFunc is the clock hook transport sessions use for rekey-age checks.
// It is a package variable so it can be replaced; it defaults to time.Now.
var nowFunc = time.Now

// RekeyAge is the maximum lifetime of a session before SessionManager must
// rotate it, independent of how many messages were exchanged (spec §4.2:
// "rekey on nonce exhaustion OR 24h of age, whichever comes first").
const RekeyAge = 24 * time.Hour

// maxNonce bounds the 64-bit send counter to the range AES-GCM can safely
// use with a per-message random-free nonce derivation; spec §4.2 requires
// rekeying well before this is reached.
const maxNonce = (1 << 63) - 1

// rekeyNonce is the send count at which NeedsRekey starts reporting true,
// far below maxNonce.
const rekeyNonce = 1 << 32

// Session is an established, bidirectional encrypted channel to one peer,
// produced by HandshakeState.finalize. All exported methods are
// goroutine-safe, though in practice each Session is only ever touched
// from its owning PeerActor.
type Session struct {
	mu sync.Mutex

	send cipher.AEAD
	recv cipher.AEAD

	sendCounter uint64
	recvFilter  *replay.Filter

	state atomic.Int32

	isInitiator      bool
	createdAt        time.Time
	remoteDH         [X25519KeySize]byte
	remoteSigningPub ed25519.PublicKey
}

func newSession(isInitiator bool, remoteDH [X25519KeySize]byte, remoteSigningPub ed25519.PublicKey) *Session {
	s := &Session{
		isInitiator:      isInitiator,
		createdAt:        nowFunc(),
		remoteDH:         remoteDH,
		remoteSigningPub: remoteSigningPub,
		recvFilter:       replay.New(),
	}
	s.state.Store(int32(StateEstablished))
	return s
}

// State returns the session's current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// RemoteSigningPub returns the remote peer's long-term Ed25519 public key.
func (s *Session) RemoteSigningPub() ed25519.PublicKey {
	return s.remoteSigningPub
}

// RemoteFingerprint returns the stable identity fingerprint of the peer
// this session was established with.
func (s *Session) RemoteFingerprint() Fingerprint {
	return FingerprintOf(s.remoteSigningPub)
}

// Age reports how long ago the session was established.
func (s *Session) Age() time.Duration {
	return nowFunc().Sub(s.createdAt)
}

// NeedsRekey reports whether the session has crossed the age or nonce
// exhaustion threshold and SessionManager should initiate a fresh
// handshake in the background while this session keeps serving traffic.
func (s *Session) NeedsRekey() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Age() >= RekeyAge {
		return true
	}
	return s.sendCounter >= rekeyNonce
}

// Seal encrypts plaintext for transport, returning the ciphertext and the
// nonce counter used (the wire frame carries the counter explicitly so
// the receiver need not guess it, mirroring the teacher's transport
// header carrying MessageTransportOffsetCounter in device/send.go).
func (s *Session) Seal(plaintext []byte) (ciphertext []byte, counter uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if SessionState(s.state.Load()) != StateEstablished && SessionState(s.state.Load()) != StateRekeying {
		return nil, 0, ErrSessionClosed
	}
	if s.sendCounter >= maxNonce {
		s.state.Store(int32(StateClosed))
		return nil, 0, ErrNonceExhaustion
	}

	counter = s.sendCounter
	s.sendCounter++

	nonce := nonceFromCounter(counter)
	ct := s.send.Seal(nil, nonce[:], plaintext, nil)
	return ct, counter, nil
}

// Open decrypts and replay-checks an inbound transport message. A forged
// or replayed counter poisons the session rather than merely returning an
// error, since a receiver cannot distinguish "attacker noise" from
// "desync with peer" and spec §7 requires forcing a fresh handshake in
// either case.
func (s *Session) Open(ciphertext []byte, counter uint64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := SessionState(s.state.Load())
	if st == StateClosed || st == StateIdle || st == StateHandshakeInProgress {
		return nil, ErrSessionClosed
	}

	nonce := nonceFromCounter(counter)
	pt, err := s.recv.Open(nil, nonce[:], ciphertext, nil)
	if err != nil {
		s.state.Store(int32(StateClosed))
		return nil, ErrAEAD
	}
	if !s.recvFilter.Validate(counter) {
		s.state.Store(int32(StateClosed))
		return nil, ErrReplay
	}
	return pt, nil
}

// MarkRekeying flags the session as mid-rotation; it keeps serving Seal
// and Open until the replacement session from a fresh handshake takes
// over, avoiding a gap in service during rekey.
func (s *Session) MarkRekeying() {
	s.state.CompareAndSwap(int32(StateEstablished), int32(StateRekeying))
}

// Close tears the session down permanently. A closed session can never
// Seal or Open again; SessionManager must start a new handshake.
func (s *Session) Close() {
	s.state.Store(int32(StateClosed))
}
