// Package peeractor implements one goroutine per PeerId, processing that
// peer's inbound frames strictly in order. This is the central
// concurrency invariant of the mesh: two goroutines must never step the
// same handshake or transport session state machine concurrently. The
// shape generalizes the teacher's per-peer queue.inbound/queue.outbound
// channels in device/peer.go into a single drop-oldest-on-overflow queue.
package peeractor

import (
	"sync"

	"github.com/bitmesh/meshcore/peer"
	"github.com/bitmesh/meshcore/wire"
)

// MaxQueueDepth is the backpressure limit: once an actor's pending queue
// holds this many frames, the oldest are dropped to make room (spec
// §4.4).
const MaxQueueDepth = 1024

// Inbound is one received frame together with the link it arrived on and
// the observed signal strength, the unit PeerActor processes.
type Inbound struct {
	LinkID string
	RSSI   int8
	Frame  *wire.Frame
}

// Handler processes one Inbound in order. It must not block on anything
// but its own work; Router/AntiAbuseGate calls happen inline here,
// matching spec §5's "within a PeerActor, handshake messages and
// transport messages are processed in wire order".
type Handler func(id peer.Id, in Inbound)

// DropLogger is called whenever backpressure forces an old frame out of
// an actor's queue, naming the peer and how many frames were dropped.
type DropLogger func(id peer.Id, dropped int)

// Actor is a single peer's serialized frame processor.
type Actor struct {
	id      peer.Id
	handler Handler
	onDrop  DropLogger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Inbound
	closed bool

	done chan struct{}
}

// New creates an actor for id and immediately starts its processing
// goroutine. Actors are created lazily by whatever owns the peer table on
// first inbound frame (spec §4.4).
func New(id peer.Id, handler Handler, onDrop DropLogger) *Actor {
	a := &Actor{
		id:      id,
		handler: handler,
		onDrop:  onDrop,
		done:    make(chan struct{}),
	}
	a.cond = sync.NewCond(&a.mu)
	go a.run()
	return a
}

// Enqueue adds a frame to the actor's queue, dropping the oldest pending
// frame(s) if the queue is already at MaxQueueDepth.
func (a *Actor) Enqueue(in Inbound) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	if len(a.queue) >= MaxQueueDepth {
		drop := len(a.queue) - MaxQueueDepth + 1
		a.queue = a.queue[drop:]
		if a.onDrop != nil {
			a.onDrop(a.id, drop)
		}
	}
	a.queue = append(a.queue, in)
	a.cond.Signal()
}

func (a *Actor) run() {
	defer close(a.done)
	for {
		a.mu.Lock()
		for len(a.queue) == 0 && !a.closed {
			a.cond.Wait()
		}
		if a.closed && len(a.queue) == 0 {
			a.mu.Unlock()
			return
		}
		next := a.queue[0]
		a.queue = a.queue[1:]
		a.mu.Unlock()

		a.handler(a.id, next)
	}
}

// Close stops the actor once its current queue has drained (spec §5:
// "the PeerActor drains its queue to the gate ... and exits"). It does
// not block; Wait can be used to observe completion.
func (a *Actor) Close() {
	a.mu.Lock()
	a.closed = true
	a.cond.Broadcast()
	a.mu.Unlock()
}

// Wait blocks until the actor's goroutine has exited.
func (a *Actor) Wait() {
	<-a.done
}

// QueueLen reports the current pending queue depth, for diagnostics/tests.
func (a *Actor) QueueLen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queue)
}
