package mesh

import (
	"time"

	"github.com/bitmesh/meshcore/crypto"
	"github.com/bitmesh/meshcore/peer"
)

// EventKind tags the variant of an Event, the Go equivalent of the
// tagged union spec §6's observe() stream describes.
type EventKind int

const (
	MessageReceived EventKind = iota
	PeerSeen
	PeerLost
	DeliveryAck
	Muted
)

func (k EventKind) String() string {
	switch k {
	case MessageReceived:
		return "MessageReceived"
	case PeerSeen:
		return "PeerSeen"
	case PeerLost:
		return "PeerLost"
	case DeliveryAck:
		return "DeliveryAck"
	case Muted:
		return "Muted"
	default:
		return "Unknown"
	}
}

// Event is the single tagged struct emitted on the observe() stream.
// Only the fields relevant to Kind are populated; this mirrors a closed
// sum type more closely than a family of callback registrations would
// (Design Notes §9).
type Event struct {
	Kind EventKind

	From           peer.Id
	Fingerprint    crypto.Fingerprint
	HasFingerprint bool
	Nickname       string
	RSSI           int8

	Channel   string
	Text      string
	MessageID string
	Mentions  []string

	Reason string
	Until  time.Time
}

// Observe returns the event stream. A single channel is shared by all
// callers; if nobody is draining it, events are dropped (logged) rather
// than blocking the mesh's processing goroutines.
func (s *Service) Observe() <-chan Event {
	return s.events
}

func (s *Service) emit(e Event) {
	select {
	case s.events <- e:
	default:
		s.log.WithField("kind", e.Kind.String()).Warn("event stream full, dropping event")
	}
}
