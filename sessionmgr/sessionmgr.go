// Package sessionmgr implements SessionManager: handshake orchestration,
// outbound queueing while a handshake is in flight, rekey triggers, and
// teardown. Grounded on device/peer.go's timers struct
// (retransmitHandshake/newHandshake/zeroKeyMaterial), reimplemented with
// timers from an injected clock.Clock instead of
// the teacher's own Timer wrapper (not present in this retrieval pack).
package sessionmgr

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/bitmesh/meshcore/crypto"
	"github.com/bitmesh/meshcore/internal/clock"
	"github.com/bitmesh/meshcore/peer"
	"github.com/bitmesh/meshcore/storeforward"
	"github.com/bitmesh/meshcore/wire"
)

// HandshakeTimeout is how long an in-flight handshake may take before it
// is abandoned (spec §4.6).
const HandshakeTimeout = 10 * time.Second

// ErrNoSession is returned when a NOISE_ENCRYPTED frame arrives for a
// peer with no established session (never negotiated, or already torn
// down) — distinct from crypto.ErrSessionClosed, which OnTransportFrame
// surfaces when a session exists but its AEAD state rejects the frame
// (replay, exhausted nonce space, bad tag).
var ErrNoSession = errors.New("sessionmgr: no established session for peer")

// Transport is what SessionManager needs from the rest of the mesh to
// emit wire frames; mesh.Service supplies the real implementation backed
// by FrameCodec + LinkLayer.
type Transport interface {
	SendFrame(id peer.Id, f *wire.Frame) error
}

// Delivered is a plaintext payload recovered from a NOISE_ENCRYPTED
// frame, handed back to the caller for application dispatch.
type Delivered struct {
	From      peer.Id
	Plaintext []byte
}

type attempt struct {
	hs        *crypto.HandshakeState
	fp        crypto.Fingerprint
	hasFP     bool
	timer     clock.Timer
	stop      chan struct{}
	isInitiator bool
}

// Manager is the SessionManager.
type Manager struct {
	mu         sync.Mutex
	identity   *crypto.StaticIdentity
	clock      clock.Clock
	peers      *peer.Table
	store      *storeforward.Store
	transport  Transport
	attempts   map[peer.Id]*attempt
	pending    map[peer.Id][][]byte
}

// New returns a Manager. transport is used to emit handshake and
// already-sealed transport frames.
func New(identity *crypto.StaticIdentity, clk clock.Clock, peers *peer.Table, store *storeforward.Store, transport Transport) *Manager {
	return &Manager{
		identity:  identity,
		clock:     clk,
		peers:     peers,
		store:     store,
		transport: transport,
		attempts:  make(map[peer.Id]*attempt),
		pending:   make(map[peer.Id][][]byte),
	}
}

// SendPrivate sends (or queues, pending handshake) a plaintext message to
// recipient. fp, if known, lets a handshake-timeout failure hand the
// message to StoreAndForward.
func (m *Manager) SendPrivate(recipient peer.Id, fp crypto.Fingerprint, hasFP bool, plaintext []byte) error {
	m.mu.Lock()

	if rec, ok := m.peers.Lookup(recipient); ok && rec.Session != nil && rec.Session.State() == crypto.StateEstablished {
		sess := rec.Session
		m.mu.Unlock()
		return m.sealAndSend(recipient, sess, plaintext)
	}

	m.pending[recipient] = append(m.pending[recipient], plaintext)
	_, inFlight := m.attempts[recipient]
	m.mu.Unlock()

	if !inFlight {
		return m.initiate(recipient, fp, hasFP)
	}
	return nil
}

func (m *Manager) sealAndSend(recipient peer.Id, sess *crypto.Session, plaintext []byte) error {
	ciphertext, counter, err := sess.Seal(plaintext)
	if err != nil {
		return err
	}
	payload := make([]byte, 8+len(ciphertext))
	binary.BigEndian.PutUint64(payload[:8], counter)
	copy(payload[8:], ciphertext)

	f := &wire.Frame{
		Version:   wire.CurrentVersion,
		Type:      wire.TypeNoiseEncrypted,
		TTL:       wire.InitialTTL,
		Timestamp: uint64(m.clock.Now().UnixMilli()),
		Flags:     wire.FlagHasRecipient,
		RecipientID: recipient,
		Payload:   payload,
	}
	return m.transport.SendFrame(recipient, f)
}

// initiate starts a fresh handshake as initiator toward recipient.
func (m *Manager) initiate(recipient peer.Id, fp crypto.Fingerprint, hasFP bool) error {
	hs, msg1, err := crypto.NewInitiator(m.identity)
	if err != nil {
		return err
	}

	m.mu.Lock()
	a := &attempt{hs: hs, fp: fp, hasFP: hasFP, isInitiator: true, stop: make(chan struct{})}
	a.timer = m.clock.NewTimer(HandshakeTimeout)
	m.attempts[recipient] = a
	m.mu.Unlock()

	go m.watchTimeout(recipient, a)

	f := &wire.Frame{
		Version:     wire.CurrentVersion,
		Type:        wire.TypeNoiseHandshake,
		TTL:         wire.InitialTTL,
		Timestamp:   uint64(m.clock.Now().UnixMilli()),
		Flags:       wire.FlagHasRecipient,
		RecipientID: recipient,
		Payload:     msg1,
	}
	return m.transport.SendFrame(recipient, f)
}

func (m *Manager) watchTimeout(recipient peer.Id, a *attempt) {
	select {
	case <-a.timer.C():
		m.failAttempt(recipient)
	case <-a.stop:
	}
}

// failAttempt abandons an in-flight handshake and moves its queued
// messages to StoreAndForward if the recipient's Fingerprint is known.
func (m *Manager) failAttempt(recipient peer.Id) {
	m.mu.Lock()
	a, ok := m.attempts[recipient]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.attempts, recipient)
	queued := m.pending[recipient]
	delete(m.pending, recipient)
	m.mu.Unlock()

	if a.hasFP {
		for _, pt := range queued {
			m.store.Enqueue(a.fp, &wire.Frame{
				Version:   wire.CurrentVersion,
				Type:      wire.TypeMessage,
				TTL:       wire.InitialTTL,
				Timestamp: uint64(m.clock.Now().UnixMilli()),
				Payload:   pt,
			})
		}
	}
}

// OnHandshakeFrame drives the handshake state machine with an incoming
// TypeNoiseHandshake frame from sender.
func (m *Manager) OnHandshakeFrame(sender peer.Id, f *wire.Frame) error {
	m.mu.Lock()
	a, ok := m.attempts[sender]
	if !ok {
		a = &attempt{hs: crypto.NewResponder(m.identity), stop: make(chan struct{})}
		a.timer = m.clock.NewTimer(HandshakeTimeout)
		m.attempts[sender] = a
		m.mu.Unlock()
		go m.watchTimeout(sender, a)
	} else {
		m.mu.Unlock()
	}

	result, err := a.hs.Step(f.Payload)
	if err != nil {
		m.teardownAttempt(sender)
		return err
	}

	if result.Outgoing != nil {
		out := &wire.Frame{
			Version:     wire.CurrentVersion,
			Type:        wire.TypeNoiseHandshake,
			TTL:         wire.InitialTTL,
			Timestamp:   uint64(m.clock.Now().UnixMilli()),
			Flags:       wire.FlagHasRecipient,
			RecipientID: sender,
			Payload:     result.Outgoing,
		}
		if sendErr := m.transport.SendFrame(sender, out); sendErr != nil {
			return sendErr
		}
	}

	if result.Session != nil {
		m.establish(sender, a, result.Session)
	}
	return nil
}

// establish finalizes a completed handshake: binds the session into the
// PeerTable, flushes any application messages queued during the
// handshake, and replays StoreAndForward backlog for this Fingerprint.
func (m *Manager) establish(id peer.Id, a *attempt, sess *crypto.Session) {
	close(a.stop)
	fp := sess.RemoteFingerprint()

	m.peers.BindFingerprint(id, fp)
	m.peers.SetSession(id, sess)

	m.mu.Lock()
	queued := m.pending[id]
	delete(m.pending, id)
	delete(m.attempts, id)
	m.mu.Unlock()

	for _, pt := range queued {
		m.sealAndSend(id, sess, pt)
	}

	for _, f := range m.store.Drain(fp) {
		m.sealAndSend(id, sess, f.Payload)
	}
}

func (m *Manager) teardownAttempt(id peer.Id) {
	m.mu.Lock()
	a, ok := m.attempts[id]
	if ok {
		delete(m.attempts, id)
	}
	delete(m.pending, id)
	m.mu.Unlock()
	if ok {
		close(a.stop)
	}
}

// OnTransportFrame decrypts an inbound TypeNoiseEncrypted frame using the
// session already bound to sender in the PeerTable.
func (m *Manager) OnTransportFrame(sender peer.Id, f *wire.Frame) (*Delivered, error) {
	rec, ok := m.peers.Lookup(sender)
	if !ok || rec.Session == nil {
		return nil, ErrNoSession
	}
	if len(f.Payload) < 8 {
		return nil, wire.ErrTruncated
	}
	counter := binary.BigEndian.Uint64(f.Payload[:8])
	pt, err := rec.Session.Open(f.Payload[8:], counter)
	if err != nil {
		return nil, err
	}
	return &Delivered{From: sender, Plaintext: pt}, nil
}

// CheckRekey inspects id's established session and, if it needs
// rotation, marks it Rekeying. SendPrivate seals only with an Established
// session, so its next call queues the message and starts a fresh
// handshake; the old session still opens inbound traffic until the new
// one replaces it in the PeerTable.
func (m *Manager) CheckRekey(id peer.Id) {
	rec, ok := m.peers.Lookup(id)
	if !ok || rec.Session == nil {
		return
	}
	if rec.Session.NeedsRekey() {
		rec.Session.MarkRekeying()
	}
}

// Teardown closes id's session and abandons any in-flight handshake.
func (m *Manager) Teardown(id peer.Id) {
	m.teardownAttempt(id)
	if rec, ok := m.peers.Lookup(id); ok && rec.Session != nil {
		rec.Session.Close()
	}
	m.peers.SetSession(id, nil)
}
