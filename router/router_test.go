package router

import (
	"testing"
	"time"

	"github.com/bitmesh/meshcore/internal/clock"
	"github.com/bitmesh/meshcore/peer"
	"github.com/bitmesh/meshcore/wire"
)

type fixedSelf struct{ id peer.Id }

func (s fixedSelf) IsSelf(id peer.Id) bool { return id == s.id }

func newTestFrame(sender [8]byte, recipient [8]byte, ttl uint8, ts uint64, broadcast bool) *wire.Frame {
	f := &wire.Frame{
		Version:   wire.CurrentVersion,
		Type:      wire.TypeMessage,
		TTL:       ttl,
		Timestamp: ts,
		SenderID:  sender,
		Payload:   []byte("hello"),
	}
	if !broadcast {
		f.Flags |= wire.FlagHasRecipient
		f.RecipientID = recipient
	}
	return f
}

func TestRouteDeliversBroadcastAndRelays(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	dedup := NewDedupSet(fc)
	tbl := peer.New(fc, nil)
	rt := New(dedup, tbl, fixedSelf{id: peer.Id{0xFF}})

	f := newTestFrame([8]byte{1}, [8]byte{}, 3, 1, true)
	d := rt.Route(f)
	if !d.Deliver || !d.Relay {
		t.Fatalf("broadcast should deliver and relay, got %+v", d)
	}
	if d.Frame.TTL != 2 {
		t.Fatalf("TTL should decrement, got %d", d.Frame.TTL)
	}
}

func TestRouteDedupDropsSecondCopy(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	dedup := NewDedupSet(fc)
	tbl := peer.New(fc, nil)
	rt := New(dedup, tbl, fixedSelf{id: peer.Id{0xFF}})

	f := newTestFrame([8]byte{1}, [8]byte{}, 3, 1, true)
	rt.Route(f)
	d := rt.Route(f)
	if d.Deliver || d.Relay {
		t.Fatalf("duplicate frame should be dropped, got %+v", d)
	}
}

func TestRouteTTLZeroStopsRelay(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	dedup := NewDedupSet(fc)
	tbl := peer.New(fc, nil)
	rt := New(dedup, tbl, fixedSelf{id: peer.Id{0xFF}})

	f := newTestFrame([8]byte{1}, [8]byte{}, 0, 1, true)
	d := rt.Route(f)
	if !d.Deliver {
		t.Fatal("ttl=0 broadcast should still deliver locally")
	}
	if d.Relay {
		t.Fatal("ttl=0 should never relay")
	}
}

func TestRouteAddressedToSelfNeverRelays(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	dedup := NewDedupSet(fc)
	tbl := peer.New(fc, nil)
	self := peer.Id{0xFF}
	rt := New(dedup, tbl, fixedSelf{id: self})

	f := newTestFrame([8]byte{1}, self, 5, 1, false)
	d := rt.Route(f)
	if !d.Deliver || d.Relay {
		t.Fatalf("frame addressed to self should deliver only, got %+v", d)
	}
}

func TestRouteSmartTargetingPrefersDirectNeighbor(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	dedup := NewDedupSet(fc)
	tbl := peer.New(fc, nil)
	recipient := peer.Id{0xAB}
	tbl.Touch(recipient, -50)

	rt := New(dedup, tbl, fixedSelf{id: peer.Id{0xFF}})
	f := newTestFrame([8]byte{1}, recipient, 5, 1, false)
	d := rt.Route(f)
	if !d.Relay || !d.HasDirectTo || d.DirectTo != recipient {
		t.Fatalf("expected direct targeting to %v, got %+v", recipient, d)
	}
}

func TestRouteFloodsWhenRecipientNotConnected(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	dedup := NewDedupSet(fc)
	tbl := peer.New(fc, nil)
	rt := New(dedup, tbl, fixedSelf{id: peer.Id{0xFF}})

	f := newTestFrame([8]byte{1}, peer.Id{0xAB}, 5, 1, false)
	d := rt.Route(f)
	if !d.Relay || d.HasDirectTo {
		t.Fatalf("expected flood relay, got %+v", d)
	}
}

func TestTTLBoundedRelayCount(t *testing.T) {
	// Invariant 3: a frame with initial TTL n is relayed at most n times
	// along any path. Simulate a chain of n+1 routers each forwarding the
	// previous hop's output.
	fc := clock.NewFake(time.Unix(0, 0))
	const initialTTL = 4
	f := newTestFrame([8]byte{1}, [8]byte{}, initialTTL, 1, true)

	hops := 0
	for {
		dedup := NewDedupSet(fc)
		tbl := peer.New(fc, nil)
		rt := New(dedup, tbl, fixedSelf{id: peer.Id{0xFF}})
		d := rt.Route(f)
		if !d.Relay {
			break
		}
		hops++
		f = d.Frame
	}
	if hops != initialTTL {
		t.Fatalf("expected exactly %d relay hops, got %d", initialTTL, hops)
	}
}
