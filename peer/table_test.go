package peer

import (
	"testing"
	"time"

	"github.com/bitmesh/meshcore/crypto"
	"github.com/bitmesh/meshcore/internal/clock"
)

func TestTouchCreatesAndUpdatesRecord(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	tbl := New(fc, nil)

	id := Id{1}
	tbl.Touch(id, -40)
	r, ok := tbl.Lookup(id)
	if !ok {
		t.Fatal("expected record to exist")
	}
	if r.RSSI != -40 {
		t.Fatalf("rssi = %d, want -40", r.RSSI)
	}

	fc.Advance(time.Second)
	tbl.Touch(id, -35)
	r, _ = tbl.Lookup(id)
	if r.RSSI != -35 {
		t.Fatalf("rssi = %d, want -35", r.RSSI)
	}
}

func TestBindFingerprintNewestWins(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	tbl := New(fc, nil)

	fp := crypto.Fingerprint{1, 2, 3}
	idA := Id{0xA}
	idB := Id{0xB}
	tbl.Touch(idA, 0)
	tbl.Touch(idB, 0)
	tbl.BindFingerprint(idA, fp)
	tbl.BindFingerprint(idB, fp)

	got, ok := tbl.LookupByFingerprint(fp)
	if !ok || got != idB {
		t.Fatalf("expected newest binding idB, got %v ok=%v", got, ok)
	}
}

func TestSweepEvictsIdlePeers(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	var evicted []Id
	tbl := New(fc, func(r *Record) { evicted = append(evicted, r.Id) })

	id := Id{9}
	tbl.Touch(id, 0)
	fc.Advance(IdleTimeout + time.Second)
	tbl.Sweep()

	if _, ok := tbl.Lookup(id); ok {
		t.Fatal("expected peer to be evicted")
	}
	if len(evicted) != 1 || evicted[0] != id {
		t.Fatalf("onIdle not invoked correctly: %v", evicted)
	}
}

func TestSweepKeepsFreshPeers(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	tbl := New(fc, nil)
	id := Id{3}
	tbl.Touch(id, 0)
	fc.Advance(IdleTimeout - time.Second)
	tbl.Sweep()
	if _, ok := tbl.Lookup(id); !ok {
		t.Fatal("fresh peer should not be evicted")
	}
}
