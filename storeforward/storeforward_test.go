package storeforward

import (
	"testing"
	"time"

	"github.com/bitmesh/meshcore/crypto"
	"github.com/bitmesh/meshcore/internal/clock"
	"github.com/bitmesh/meshcore/wire"
)

func TestEnqueueAndDrainPreservesOrder(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	s := New(fc)
	fp := crypto.Fingerprint{1}

	for i := uint64(0); i < 5; i++ {
		s.Enqueue(fp, &wire.Frame{Timestamp: i})
	}
	got := s.Drain(fp)
	if len(got) != 5 {
		t.Fatalf("expected 5 frames, got %d", len(got))
	}
	for i, f := range got {
		if f.Timestamp != uint64(i) {
			t.Fatalf("out of order at %d: got %d", i, f.Timestamp)
		}
	}
	if s.Len(fp) != 0 {
		t.Fatal("queue should be empty after drain")
	}
}

func TestEnqueueEvictsOldestPerRecipientAtCap(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	s := New(fc)
	fp := crypto.Fingerprint{1}

	for i := uint64(0); i < PerRecipientCap+10; i++ {
		s.Enqueue(fp, &wire.Frame{Timestamp: i})
	}
	if s.Len(fp) != PerRecipientCap {
		t.Fatalf("expected queue capped at %d, got %d", PerRecipientCap, s.Len(fp))
	}
	got := s.Drain(fp)
	if got[0].Timestamp != 10 {
		t.Fatalf("expected oldest surviving entry to be #10, got #%d", got[0].Timestamp)
	}
}

func TestDrainSkipsExpiredEntries(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	s := New(fc)
	fp := crypto.Fingerprint{2}

	s.Enqueue(fp, &wire.Frame{Timestamp: 1})
	fc.Advance(EntryTTL + time.Minute)
	s.Enqueue(fp, &wire.Frame{Timestamp: 2})

	got := s.Drain(fp)
	if len(got) != 1 || got[0].Timestamp != 2 {
		t.Fatalf("expected only the fresh entry to survive, got %+v", got)
	}
}

func TestSweepPurgesExpiredWithoutDrain(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	s := New(fc)
	fp := crypto.Fingerprint{3}
	s.Enqueue(fp, &wire.Frame{Timestamp: 1})
	fc.Advance(EntryTTL + time.Minute)
	s.Sweep()
	if s.Len(fp) != 0 {
		t.Fatal("expired entry should have been purged by Sweep")
	}
}
