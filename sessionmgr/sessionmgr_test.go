package sessionmgr

import (
	"sync"
	"testing"
	"time"

	"github.com/bitmesh/meshcore/crypto"
	"github.com/bitmesh/meshcore/internal/clock"
	"github.com/bitmesh/meshcore/peer"
	"github.com/bitmesh/meshcore/storeforward"
	"github.com/bitmesh/meshcore/wire"
)

// wireTransport pipes frames directly between two Managers' OnHandshakeFrame
// /OnTransportFrame entry points, standing in for FrameCodec+LinkLayer.
type wireTransport struct {
	mu        sync.Mutex
	peer      *Manager
	self      peer.Id
	delivered [][]byte // plaintexts the peer Manager decrypted
}

func (w *wireTransport) SendFrame(to peer.Id, f *wire.Frame) error {
	switch f.Type {
	case wire.TypeNoiseHandshake:
		return w.peer.OnHandshakeFrame(w.self, f)
	case wire.TypeNoiseEncrypted:
		d, err := w.peer.OnTransportFrame(w.self, f)
		if err == nil {
			w.mu.Lock()
			w.delivered = append(w.delivered, d.Plaintext)
			w.mu.Unlock()
		}
		return err
	}
	return nil
}

func TestSendPrivateQueuesThenDeliversAfterHandshake(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))

	idA, _ := crypto.GenerateStaticIdentity()
	idB, _ := crypto.GenerateStaticIdentity()
	peerOfA := peer.Id{0xA} // how B refers to A
	peerOfB := peer.Id{0xB} // how A refers to B

	tblA := peer.New(fc, nil)
	tblB := peer.New(fc, nil)
	storeA := storeforward.New(fc)
	storeB := storeforward.New(fc)

	trA := &wireTransport{self: peerOfA}
	trB := &wireTransport{self: peerOfB}
	mgrA := New(idA, fc, tblA, storeA, trB)
	mgrB := New(idB, fc, tblB, storeB, trA)
	trA.peer = mgrA
	trB.peer = mgrB

	if err := mgrA.SendPrivate(peerOfB, crypto.Fingerprint{}, false, []byte("hi bob")); err != nil {
		t.Fatalf("SendPrivate: %v", err)
	}

	recA, ok := tblA.Lookup(peerOfB)
	if !ok || recA.Session == nil || recA.Session.State() != crypto.StateEstablished {
		t.Fatalf("expected A to have an established session with B, got %+v", recA)
	}
	recB, ok := tblB.Lookup(peerOfA)
	if !ok || recB.Session == nil || recB.Session.State() != crypto.StateEstablished {
		t.Fatalf("expected B to have an established session with A, got %+v", recB)
	}
	trB.mu.Lock()
	defer trB.mu.Unlock()
	if len(trB.delivered) != 1 || string(trB.delivered[0]) != "hi bob" {
		t.Fatalf("expected B to decrypt the queued message once, got %q", trB.delivered)
	}
}

func TestHandshakeTimeoutMovesQueueToStoreForward(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	idA, _ := crypto.GenerateStaticIdentity()
	tblA := peer.New(fc, nil)
	storeA := storeforward.New(fc)

	// no responder wired up; the handshake will never complete.
	mgrA := New(idA, fc, tblA, storeA, noopTransport{})
	fp := crypto.Fingerprint{9, 9, 9}
	recipient := peer.Id{0xC}

	if err := mgrA.SendPrivate(recipient, fp, true, []byte("unreachable")); err != nil {
		t.Fatalf("SendPrivate: %v", err)
	}

	fc.Advance(HandshakeTimeout + time.Second)
	time.Sleep(20 * time.Millisecond) // let the timeout goroutine run

	if storeA.Len(fp) != 1 {
		t.Fatalf("expected queued message to move to StoreAndForward, got len=%d", storeA.Len(fp))
	}
}

type noopTransport struct{}

func (noopTransport) SendFrame(to peer.Id, f *wire.Frame) error { return nil }
