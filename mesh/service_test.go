package mesh

import (
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bitmesh/meshcore/abuse"
	"github.com/bitmesh/meshcore/internal/clock"
	"github.com/bitmesh/meshcore/internal/identitystore"
	"github.com/bitmesh/meshcore/link/simlink"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return log
}

func newTestNode(t *testing.T, name string, l *simlink.Link, clk clock.Clock) *Service {
	t.Helper()
	store, err := identitystore.Generate([]byte("secret-" + name))
	if err != nil {
		t.Fatalf("generating identity for %s: %v", name, err)
	}
	cfg := Config{
		Nickname:   name,
		DeviceInfo: abuse.DeviceInfo{StableID: "test-" + name},
		Logger:     testLogger(),
	}
	return New(cfg, l, store, clk)
}

func drainUntil(t *testing.T, ch <-chan Event, kind EventKind, timeout time.Duration) *Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == kind {
				e := ev
				return &e
			}
		case <-deadline:
			return nil
		}
	}
}

// TestThreeNodeRelayDeliversPublicMessage exercises a line topology
// A-B-C with no direct A-C link: a broadcast MESSAGE from A must reach C
// via B's relay.
func TestThreeNodeRelayDeliversPublicMessage(t *testing.T) {
	fabric := simlink.NewMesh()
	linkA := fabric.NewNode("A")
	linkB := fabric.NewNode("B")
	linkC := fabric.NewNode("C")
	fabric.Connect("A", "B")
	fabric.Connect("B", "C")

	clk := clock.System{}
	a := newTestNode(t, "a", linkA, clk)
	b := newTestNode(t, "b", linkB, clk)
	c := newTestNode(t, "c", linkC, clk)

	for _, s := range []*Service{a, b, c} {
		if err := s.Start(); err != nil {
			t.Fatalf("start: %v", err)
		}
		defer s.Stop()
	}

	if err := a.SendPublic("", "hello via relay", nil, "m1"); err != nil {
		t.Fatalf("send public: %v", err)
	}

	ev := drainUntil(t, c.Observe(), MessageReceived, 2*time.Second)
	if ev == nil {
		t.Fatal("expected C to receive the relayed broadcast message")
	}
	if ev.Text != "hello via relay" {
		t.Fatalf("unexpected text: %q", ev.Text)
	}
}

// TestPrivateMessageDeliveredDirectly exercises a two-node direct link: a
// private message from A to B should trigger a handshake and deliver.
func TestPrivateMessageDeliveredDirectly(t *testing.T) {
	fabric := simlink.NewMesh()
	linkA := fabric.NewNode("A")
	linkB := fabric.NewNode("B")
	fabric.Connect("A", "B")

	clk := clock.System{}
	a := newTestNode(t, "a", linkA, clk)
	b := newTestNode(t, "b", linkB, clk)

	for _, s := range []*Service{a, b} {
		if err := s.Start(); err != nil {
			t.Fatalf("start: %v", err)
		}
		defer s.Stop()
	}

	if err := a.SendBroadcastAnnounce(); err != nil {
		t.Fatalf("announce: %v", err)
	}
	if ev := drainUntil(t, b.Observe(), PeerSeen, 2*time.Second); ev == nil {
		t.Fatal("expected B to see A's announce")
	}
	if err := b.SendBroadcastAnnounce(); err != nil {
		t.Fatalf("announce: %v", err)
	}
	if ev := drainUntil(t, a.Observe(), PeerSeen, 2*time.Second); ev == nil {
		t.Fatal("expected A to see B's announce")
	}

	if err := a.SendPrivate(b.MyPeerID(), "just for you", "m2"); err != nil {
		t.Fatalf("send private: %v", err)
	}

	ev := drainUntil(t, b.Observe(), MessageReceived, 2*time.Second)
	if ev == nil {
		t.Fatal("expected B to receive the private message")
	}
	if ev.Text != "just for you" {
		t.Fatalf("unexpected text: %q", ev.Text)
	}
}

// TestLargeBroadcastFragmentsAndReassembles sends a broadcast MESSAGE
// long enough that FrameCodec must fragment it at the wire MTU floor,
// and checks the two-hop relay reassembles it correctly before
// delivering it whole.
func TestLargeBroadcastFragmentsAndReassembles(t *testing.T) {
	fabric := simlink.NewMesh()
	linkA := fabric.NewNode("A")
	linkB := fabric.NewNode("B")
	linkC := fabric.NewNode("C")
	fabric.Connect("A", "B")
	fabric.Connect("B", "C")

	clk := clock.System{}
	a := newTestNode(t, "a", linkA, clk)
	b := newTestNode(t, "b", linkB, clk)
	c := newTestNode(t, "c", linkC, clk)

	for _, s := range []*Service{a, b, c} {
		if err := s.Start(); err != nil {
			t.Fatalf("start: %v", err)
		}
		defer s.Stop()
	}

	longText := strings.Repeat("mesh fragmentation round trip. ", 40) // well over the MTU floor
	if err := a.SendPublic("", longText, nil, "m-long"); err != nil {
		t.Fatalf("send public: %v", err)
	}

	ev := drainUntil(t, c.Observe(), MessageReceived, 2*time.Second)
	if ev == nil {
		t.Fatal("expected C to receive the fragmented broadcast message")
	}
	if ev.Text != longText {
		t.Fatalf("reassembled text mismatch: got %d bytes, want %d bytes", len(ev.Text), len(longText))
	}
}

// TestMutePersistsAcrossRestart rebuilds a Service backed by the same
// abuse.KVStore and checks a mute recorded before the restart still
// blocks outbound sends after it.
func TestMutePersistsAcrossRestart(t *testing.T) {
	fabric := simlink.NewMesh()
	linkA := fabric.NewNode("A")

	clk := clock.System{}
	store, err := identitystore.Generate([]byte("secret-restart"))
	if err != nil {
		t.Fatalf("generating identity: %v", err)
	}
	kv := abuse.NewMemKVStore()

	cfg := Config{Nickname: "a", DeviceInfo: abuse.DeviceInfo{StableID: "test-restart"}, Logger: testLogger(), MuteKV: kv}
	first := New(cfg, linkA, store, clk)
	if err := first.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := first.Mute(first.deviceFPHex, "test mute", time.Hour); err != nil {
		t.Fatalf("mute: %v", err)
	}
	if err := first.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	second := New(cfg, linkA, store, clk)
	if err := second.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer second.Stop()

	if err := second.SendPublic("", "should be muted", nil, "m-muted"); err == nil {
		t.Fatal("expected outbound send to fail for a mute that survived restart")
	}
}
