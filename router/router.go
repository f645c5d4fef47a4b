package router

import (
	"github.com/bitmesh/meshcore/peer"
	"github.com/bitmesh/meshcore/wire"
)

// Decision is what the Router tells its caller to do with a frame after
// applying dedup, TTL, and targeting rules. The zero value means "drop
// silently", matching spec §4.5's no-error contract.
type Decision struct {
	// Deliver is true if the frame should be handed to local application
	// dispatch (CryptoCore for private, channel layer for channel
	// traffic, command dispatch for ANNOUNCE/LEAVE).
	Deliver bool

	// Relay is true if the (TTL-decremented) frame should be re-emitted.
	Relay bool
	// Frame is the frame to relay, valid only when Relay is true.
	Frame *wire.Frame
	// DirectTo names a single neighbor to relay to instead of flooding,
	// set only when smart targeting found the recipient directly
	// connected. Zero value means flood to every connected neighbor.
	DirectTo    peer.Id
	HasDirectTo bool
}

// SelfLookup resolves whether a given PeerId names this node.
type SelfLookup interface {
	IsSelf(id peer.Id) bool
}

// Router implements spec §4.5: dedup, TTL decrement, deliver/relay
// decision, and smart targeting (direct delivery preferred over flood
// when the recipient is a currently-connected neighbor).
type Router struct {
	dedup *DedupSet
	peers *peer.Table
	self  SelfLookup
}

// New returns a Router backed by dedup and peers, checking recipient
// identity against self.
func New(dedup *DedupSet, peers *peer.Table, self SelfLookup) *Router {
	return &Router{dedup: dedup, peers: peers, self: self}
}

// Route applies the full decision procedure to an inbound, already
// validated and decoded frame. Route is not told which link the frame
// arrived on, so a flood relay goes to every connected neighbor,
// including the one the frame came from.
func (r *Router) Route(f *wire.Frame) Decision {
	key := ComputeDedupKey(f)
	if r.dedup.CheckAndInsert(key) {
		return Decision{}
	}

	recipient := peer.Id(f.RecipientID)
	broadcast := f.IsBroadcast()
	addressedToSelf := !broadcast && r.self.IsSelf(recipient)

	deliver := broadcast || addressedToSelf

	if addressedToSelf {
		// Reached its destination; never decrypted here for private
		// traffic (that happens above the Router), and never relayed
		// further.
		return Decision{Deliver: true}
	}

	if f.TTL == 0 {
		if deliver {
			return Decision{Deliver: true}
		}
		return Decision{}
	}

	relayed := *f
	relayed.TTL--

	d := Decision{Deliver: deliver, Relay: true, Frame: &relayed}

	if !broadcast {
		if _, connected := r.peers.Lookup(recipient); connected {
			d.DirectTo = recipient
			d.HasDirectTo = true
		}
	}
	return d
}
