package peeractor

import (
	"sync"

	"github.com/bitmesh/meshcore/peer"
)

// Registry owns the set of live Actors, one per currently-active PeerId,
// and lazily creates them on first inbound frame.
type Registry struct {
	mu      sync.Mutex
	actors  map[peer.Id]*Actor
	handler Handler
	onDrop  DropLogger
}

// NewRegistry returns an empty Registry. handler/onDrop are shared by
// every actor it creates.
func NewRegistry(handler Handler, onDrop DropLogger) *Registry {
	return &Registry{
		actors:  make(map[peer.Id]*Actor),
		handler: handler,
		onDrop:  onDrop,
	}
}

// Dispatch routes in to id's actor, creating it if this is the first
// frame seen from that peer.
func (r *Registry) Dispatch(id peer.Id, in Inbound) {
	r.mu.Lock()
	a, ok := r.actors[id]
	if !ok {
		a = New(id, r.handler, r.onDrop)
		r.actors[id] = a
	}
	r.mu.Unlock()

	a.Enqueue(in)
}

// Terminate closes and removes id's actor, if one exists. Intended to be
// called by the PeerTable sweeper's onIdle hook.
func (r *Registry) Terminate(id peer.Id) {
	r.mu.Lock()
	a, ok := r.actors[id]
	if ok {
		delete(r.actors, id)
	}
	r.mu.Unlock()

	if ok {
		a.Close()
	}
}

// Len reports the number of currently live actors, for diagnostics/tests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actors)
}

// Shutdown closes every currently live actor and empties the registry.
// Intended for the owning Service's Stop, so no per-peer goroutine
// outlives the process that spawned it.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	actors := r.actors
	r.actors = make(map[peer.Id]*Actor)
	r.mu.Unlock()

	for _, a := range actors {
		a.Close()
	}
}
