package mesh

import (
	"fmt"

	"github.com/bitmesh/meshcore/crypto"
	"github.com/bitmesh/meshcore/link"
	"github.com/bitmesh/meshcore/peer"
	"github.com/bitmesh/meshcore/peeractor"
	"github.com/bitmesh/meshcore/router"
	"github.com/bitmesh/meshcore/wire"
)

// onLinkFrame is registered as the LinkLayer's FrameCallback. It resolves
// a PeerId for the raw bytes' origin, reassembles fragments, and hands a
// complete logical Frame to that peer's PeerActor for strictly-ordered
// processing (spec §4.4).
func (s *Service) onLinkFrame(from link.NeighborID, rssi int8, raw []byte) {
	reassembler := s.reassemblerFor(peerIDPlaceholder(from))

	f, complete, err := s.codec.DecodeInbound(reassembler, raw)
	if err != nil {
		s.log.WithError(err).Debug("dropping malformed inbound packet")
		return
	}
	if !complete {
		return
	}

	id := peer.Id(f.SenderID)
	s.bindNeighbor(id, from)
	s.actors.Dispatch(id, peeractor.Inbound{LinkID: string(from), RSSI: rssi, Frame: f})
}

// peerIDPlaceholder gives every distinct neighbor its own reassembly
// state before its first frame's SenderID is known, so fragments from
// two different neighbors are never accidentally merged.
func peerIDPlaceholder(from link.NeighborID) peer.Id {
	var id peer.Id
	copy(id[:], []byte(from))
	return id
}

func (s *Service) reassemblerFor(id peer.Id) *wire.Reassembler {
	s.reassemblersMu.Lock()
	defer s.reassemblersMu.Unlock()
	r, ok := s.reassemblers[id]
	if !ok {
		r = wire.NewReassembler()
		s.reassemblers[id] = r
	}
	return r
}

// handleInbound is the PeerActor Handler: every frame from a given
// PeerId is processed strictly in arrival order.
func (s *Service) handleInbound(id peer.Id, in peeractor.Inbound) {
	if id == s.MyPeerID() {
		// Our own broadcast, bounced back by a relaying neighbor. Never
		// reprocess or re-relay gossip we originated.
		return
	}
	if !s.limiter.Allow(id) {
		return
	}

	f := in.Frame
	s.peers.Touch(id, in.RSSI)

	switch f.Type {
	case wire.TypeAnnounce:
		s.handleAnnounce(id, f, in.RSSI)
	case wire.TypeLeave:
		s.peers.Remove(id)
		s.emit(Event{Kind: PeerLost, From: id})
	case wire.TypeMessage:
		s.handleMessage(id, f)
	case wire.TypeNoiseHandshake:
		s.handleHandshake(id, f)
	case wire.TypeNoiseEncrypted:
		s.handleTransport(id, f)
	default:
		s.log.WithField("type", f.Type.String()).Debug("dropping unknown frame type")
	}
}

func (s *Service) handleAnnounce(id peer.Id, f *wire.Frame, rssi int8) {
	body, err := wire.UnmarshalAnnounceBody(f.Payload)
	if err != nil {
		s.log.WithError(err).Debug("dropping malformed announce")
		return
	}
	if f.Flags.Has(wire.FlagHasSignature) {
		if !crypto.VerifyAnnounce(body.SigningPub[:], f.Payload, f.Signature[:]) {
			s.log.Debug("dropping announce with invalid signature")
			return
		}
	}

	fp := crypto.FingerprintOf(body.SigningPub[:])
	s.peers.BindFingerprint(id, fp)
	s.peers.SetNickname(id, body.Nickname)

	s.emit(Event{
		Kind: PeerSeen, From: id, Fingerprint: fp, HasFingerprint: true,
		Nickname: body.Nickname, RSSI: rssi,
	})

	for _, frame := range s.store.Drain(fp) {
		if rec, ok := s.peers.Lookup(id); ok && rec.Session != nil && rec.Session.State() == crypto.StateEstablished {
			s.sessions.SendPrivate(id, fp, true, frame.Payload)
		}
	}
}

func (s *Service) handleMessage(id peer.Id, f *wire.Frame) {
	s.gateAndRoute(id, f)
}

func (s *Service) handleHandshake(id peer.Id, f *wire.Frame) {
	decision := s.rt.Route(f)
	if decision.Deliver {
		if err := s.sessions.OnHandshakeFrame(id, f); err != nil {
			s.log.WithError(err).Debug("handshake step failed")
		}
	}
	if decision.Relay {
		s.relay(decision)
	}
}

func (s *Service) handleTransport(id peer.Id, f *wire.Frame) {
	decision := s.rt.Route(f)
	if decision.Deliver {
		delivered, err := s.sessions.OnTransportFrame(id, f)
		if err != nil {
			s.log.WithError(err).Debug("transport decrypt failed")
		} else {
			s.deliverPlaintext(delivered.From, delivered.Plaintext)
		}
	}
	if decision.Relay {
		s.relay(decision)
	}
}

// deliverPlaintext decodes a nested MESSAGE frame recovered from a
// NOISE_ENCRYPTED private delivery and emits it as MessageReceived.
func (s *Service) deliverPlaintext(from peer.Id, plaintext []byte) {
	inner, err := wire.Decode(plaintext)
	if err != nil {
		s.log.WithError(err).Debug("dropping malformed private payload")
		return
	}
	env, err := wire.UnmarshalMessageEnvelope(inner.Payload)
	if err != nil {
		s.log.WithError(err).Debug("dropping malformed private envelope")
		return
	}
	body, err := wire.UnmarshalMessageBody(env.Body)
	if err != nil {
		s.log.WithError(err).Debug("dropping malformed private message body")
		return
	}
	s.emit(Event{
		Kind: MessageReceived, From: from, Channel: env.Channel,
		Text: body.Text, MessageID: body.MessageID, Mentions: body.Mentions,
	})
}

// gateAndRoute applies AntiAbuseGate before Router for broadcast/channel
// MESSAGE traffic (spec §4.8: "a gating pass between PeerActor ingest and
// Router").
func (s *Service) gateAndRoute(id peer.Id, f *wire.Frame) {
	key := s.abuseKeyFor(id)
	if !s.gate.CheckInbound(key, f.Payload) {
		return
	}

	decision := s.rt.Route(f)
	if decision.Deliver {
		s.deliverMessage(id, f)
	}
	if decision.Relay {
		s.relay(decision)
	}
}

func (s *Service) abuseKeyFor(id peer.Id) string {
	if rec, ok := s.peers.Lookup(id); ok && rec.HasFingerprint {
		return fmt.Sprintf("%x", rec.Fingerprint)
	}
	return fmt.Sprintf("%x", id)
}

func (s *Service) deliverMessage(id peer.Id, f *wire.Frame) {
	env, err := wire.UnmarshalMessageEnvelope(f.Payload)
	if err != nil {
		s.log.WithError(err).Debug("dropping malformed message envelope")
		return
	}

	body := env.Body
	if key, ok := s.channelKey(env.Channel); ok {
		pt, err := crypto.OpenChannel(key, env.Body)
		if err != nil {
			return // not for us / wrong password; silent per spec gate semantics
		}
		body = pt
	}

	mb, err := wire.UnmarshalMessageBody(body)
	if err != nil {
		s.log.WithError(err).Debug("dropping malformed message body")
		return
	}

	s.emit(Event{
		Kind: MessageReceived, From: id, Channel: env.Channel,
		Text: mb.Text, MessageID: mb.MessageID, Mentions: mb.Mentions,
	})
}

// relay re-emits a frame the Router decided to forward: a direct send to
// a known neighbor if smart targeting applies, otherwise a flood to
// every connected neighbor.
func (s *Service) relay(decision router.Decision) {
	packets, err := s.codec.EncodeOutbound(decision.Frame)
	if err != nil {
		s.log.WithError(err).Debug("failed to re-encode relay frame")
		return
	}
	if decision.HasDirectTo {
		if neighbor, ok := s.lookupNeighbor(decision.DirectTo); ok {
			if err := s.sendPacketsTo(neighbor, packets); err == nil {
				return
			}
		}
	}
	s.floodPackets(packets)
}
