package abuse

import (
	"testing"
	"time"

	"github.com/bitmesh/meshcore/internal/clock"
)

func TestCheckInboundAllowsWithinBudget(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	g := New(fc, NewMuteStore(NewMemKVStore()))

	for i := 0; i < newPeerBudget; i++ {
		if !g.CheckInbound("peerA", []byte("hello there friend "+string(rune('a'+i)))) {
			t.Fatalf("message %d should be allowed within budget", i)
		}
		fc.Advance(2 * time.Second)
	}
}

func TestCheckInboundRateLimitExceeded(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	g := New(fc, NewMuteStore(NewMemKVStore()))

	allowed := 0
	for i := 0; i < newPeerBudget+5; i++ {
		if g.CheckInbound("peerB", []byte("distinct message number "+string(rune('a'+i)))) {
			allowed++
		}
		fc.Advance(2 * time.Second)
	}
	if allowed > newPeerBudget {
		t.Fatalf("expected at most %d allowed, got %d", newPeerBudget, allowed)
	}
}

func TestRapidFireDetection(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	g := New(fc, NewMuteStore(NewMemKVStore()))

	blockedAny := false
	for i := 0; i < rapidFireLimit+2; i++ {
		if !g.CheckInbound("peerC", []byte("unique text here "+string(rune('a'+i)))) {
			blockedAny = true
		}
		fc.Advance(time.Second)
	}
	if !blockedAny {
		t.Fatal("expected rapid-fire to eventually trip")
	}
}

func TestDuplicateContentDetection(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	g := New(fc, NewMuteStore(NewMemKVStore()))

	msg := []byte("the quick brown fox jumps")
	var blocked bool
	for i := 0; i < exactDupThreshold+warningsBeforeMute; i++ {
		if !g.CheckInbound("peerD", msg) {
			blocked = true
		}
	}
	if !blocked {
		t.Fatal("expected exact duplicate flood to be blocked eventually")
	}
}

func TestGraduatedMuteEscalation(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	mutes := NewMuteStore(NewMemKVStore())
	g := New(fc, mutes)

	// the repeated identical "flood message" trips the duplicate-content
	// rule in the first round; its warnings accumulate to
	// warningsBeforeMute and a mute fires.
	for round := 0; round < warningsBeforeMute; round++ {
		for i := 0; i <= newPeerBudget; i++ {
			g.CheckInbound("peerE", []byte("flood message"))
		}
		fc.Advance(windowDuration + time.Second)
	}

	g.CheckInbound("peerE", []byte("should still be checked"))
	if _, _, muted := mutes.Get("peerE"); !muted {
		t.Fatal("expected peerE to be muted after repeated violations")
	}
}

func TestMuteBlocksOutboundDuringWindow(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	mutes := NewMuteStore(NewMemKVStore())
	g := New(fc, mutes)

	mutes.Put("deviceX", fc.Now().Add(shortMuteDuration), "deviceX", "test")
	if err := g.CheckOutbound("deviceX"); err == nil {
		t.Fatal("expected outbound send to be blocked during mute")
	}

	fc.Advance(shortMuteDuration + time.Second)
	if err := g.CheckOutbound("deviceX"); err != nil {
		t.Fatalf("expected outbound send to succeed after mute expires, got %v", err)
	}
}

func TestMuteSurvivesPartialKeyClear(t *testing.T) {
	kv := NewMemKVStore()
	mutes := NewMuteStore(kv)
	until := time.Unix(1000, 0)
	mutes.Put("deviceY", until, "deviceY", "test")

	// clear only the primary key
	kv.Delete(muteKeyPrefixes[0] + "deviceY")

	_, _, ok := mutes.Get("deviceY")
	if !ok {
		t.Fatal("mute should survive clearing a single replica key")
	}
}
