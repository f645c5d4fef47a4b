package mesh

import (
	"fmt"

	"github.com/bitmesh/meshcore/link"
	"github.com/bitmesh/meshcore/peer"
	"github.com/bitmesh/meshcore/wire"
)

// transportAdapter implements sessionmgr.Transport on top of FrameCodec +
// LinkLayer: it prefers a direct send to a known neighbor, falling back
// to a flood so a handshake/transport frame addressed to a peer this
// node only knows about indirectly still makes progress toward it one
// relay hop at a time (spec §4.5's smart targeting is a preference, not
// a correctness requirement).
type transportAdapter struct{ s *Service }

func (t transportAdapter) SendFrame(id peer.Id, f *wire.Frame) error {
	return t.s.sendFrame(id, f)
}

func (s *Service) sendFrame(directTo peer.Id, f *wire.Frame) error {
	packets, err := s.codec.EncodeOutbound(f)
	if err != nil {
		return fmt.Errorf("mesh: encoding outbound frame: %w", err)
	}

	if neighbor, ok := s.lookupNeighbor(directTo); ok {
		if err := s.sendPacketsTo(neighbor, packets); err == nil {
			return nil
		}
		s.log.WithField("peer", fmt.Sprintf("%x", directTo)).
			Debug("direct send failed, falling back to flood")
	}
	return s.floodPackets(packets)
}

func (s *Service) sendPacketsTo(neighbor link.NeighborID, packets [][]byte) error {
	for _, p := range packets {
		if err := s.link.Send(neighbor, p); err != nil {
			return err
		}
	}
	return nil
}

// floodPackets sends packets to every currently connected neighbor,
// best-effort: a failure against one neighbor does not abort delivery to
// the rest.
func (s *Service) floodPackets(packets [][]byte) error {
	neighbors := s.link.ConnectedNeighbors()
	var firstErr error
	for _, n := range neighbors {
		for _, p := range packets {
			if err := s.link.Send(n, p); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	if len(neighbors) == 0 {
		return link.ErrLink
	}
	return firstErr
}

// bindNeighbor records that id was last heard directly over neighbor,
// last-heard-wins, consistent with PeerTable's newest-binding-wins rule
// for Fingerprint (spec §4.3). A relayed frame transiently rebinds its
// origin's PeerId to whichever neighbor relayed it; the cost is a
// spurious direct-send attempt that falls back to flood on failure, not
// a correctness violation.
func (s *Service) bindNeighbor(id peer.Id, neighbor link.NeighborID) {
	s.neighborsMu.Lock()
	defer s.neighborsMu.Unlock()
	s.peerNeighbor[id] = neighbor
}

func (s *Service) lookupNeighbor(id peer.Id) (link.NeighborID, bool) {
	s.neighborsMu.RLock()
	defer s.neighborsMu.RUnlock()
	n, ok := s.peerNeighbor[id]
	return n, ok
}
