package peeractor

import (
	"sync"
	"testing"
	"time"

	"github.com/bitmesh/meshcore/peer"
	"github.com/bitmesh/meshcore/wire"
)

func TestActorProcessesInOrder(t *testing.T) {
	var mu sync.Mutex
	var order []uint64

	handler := func(id peer.Id, in Inbound) {
		mu.Lock()
		order = append(order, in.Frame.Timestamp)
		mu.Unlock()
	}

	a := New(peer.Id{1}, handler, nil)
	for i := uint64(0); i < 50; i++ {
		a.Enqueue(Inbound{Frame: &wire.Frame{Timestamp: i}})
	}
	a.Close()
	a.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 50 {
		t.Fatalf("expected 50 processed frames, got %d", len(order))
	}
	for i, v := range order {
		if v != uint64(i) {
			t.Fatalf("out of order at %d: got %d", i, v)
		}
	}
}

func TestActorDropsOldestUnderBackpressure(t *testing.T) {
	block := make(chan struct{})
	var mu sync.Mutex
	var seen []uint64
	first := true

	handler := func(id peer.Id, in Inbound) {
		if first {
			first = false
			<-block // stall the processor so the queue can fill up
		}
		mu.Lock()
		seen = append(seen, in.Frame.Timestamp)
		mu.Unlock()
	}

	var dropped int
	a := New(peer.Id{2}, handler, func(id peer.Id, n int) { dropped += n })

	a.Enqueue(Inbound{Frame: &wire.Frame{Timestamp: 0}}) // stalls the processor
	time.Sleep(20 * time.Millisecond)

	for i := uint64(1); i <= MaxQueueDepth+10; i++ {
		a.Enqueue(Inbound{Frame: &wire.Frame{Timestamp: i}})
	}
	if got := a.QueueLen(); got != MaxQueueDepth {
		t.Fatalf("queue depth = %d, want %d", got, MaxQueueDepth)
	}
	close(block)
	a.Close()
	a.Wait()

	if dropped == 0 {
		t.Fatal("expected some frames to be dropped under backpressure")
	}
}
