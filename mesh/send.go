package mesh

import (
	"fmt"

	"github.com/bitmesh/meshcore/crypto"
	"github.com/bitmesh/meshcore/peer"
	"github.com/bitmesh/meshcore/wire"
)

// SendBroadcastAnnounce floods a signed ANNOUNCE carrying this node's
// identity and current nickname to every connected neighbor (spec §6).
func (s *Service) SendBroadcastAnnounce() error {
	if !s.isStarted() {
		return ErrNotStarted
	}

	s.mu.RLock()
	nickname := s.nickname
	selfID := s.selfID
	s.mu.RUnlock()

	id := s.identity.Identity()
	var signingPub [32]byte
	copy(signingPub[:], id.SigningPub)

	body := &wire.AnnounceBody{SigningPub: signingPub, Nickname: nickname, Caps: wire.CapStoreAndForward}
	payload, err := body.Marshal()
	if err != nil {
		return fmt.Errorf("mesh: marshaling announce: %w", err)
	}

	f := &wire.Frame{
		Version:   wire.CurrentVersion,
		Type:      wire.TypeAnnounce,
		TTL:       wire.InitialTTL,
		Timestamp: s.nowMillis(),
		Flags:     wire.FlagHasSignature,
		SenderID:  selfID,
		Payload:   payload,
	}
	copy(f.Signature[:], crypto.SignAnnounce(id, payload))

	packets, err := s.codec.EncodeOutbound(f)
	if err != nil {
		return fmt.Errorf("mesh: encoding announce: %w", err)
	}
	return s.floodPackets(packets)
}

// SendPublic broadcasts a plaintext MESSAGE to channel (spec §6). An
// empty channel means the unnamed public feed.
func (s *Service) SendPublic(channel, text string, mentions []string, messageID string) error {
	if !s.isStarted() {
		return ErrNotStarted
	}

	body := &wire.MessageBody{MessageID: messageID, Mentions: mentions, Text: text}
	bodyBytes, err := body.Marshal()
	if err != nil {
		return fmt.Errorf("mesh: marshaling message body: %w", err)
	}

	env := &wire.MessageEnvelope{Channel: channel, Body: bodyBytes}
	payload, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("mesh: marshaling message envelope: %w", err)
	}

	return s.broadcastMessage(payload)
}

// SendChannelEncrypted broadcasts a MESSAGE whose body is AEAD-sealed
// under the channel's Argon2id-derived key (spec §6, uses
// derive_channel_key). The channel's password must already be known via
// Config.ChannelPasswords.
func (s *Service) SendChannelEncrypted(channel, text, messageID string) error {
	if !s.isStarted() {
		return ErrNotStarted
	}

	key, ok := s.channelKey(channel)
	if !ok {
		return fmt.Errorf("mesh: no password configured for channel %q", channel)
	}

	body := &wire.MessageBody{MessageID: messageID, Text: text}
	bodyBytes, err := body.Marshal()
	if err != nil {
		return fmt.Errorf("mesh: marshaling message body: %w", err)
	}

	ciphertext, err := crypto.SealChannel(key, bodyBytes)
	if err != nil {
		return fmt.Errorf("mesh: sealing channel message: %w", err)
	}

	env := &wire.MessageEnvelope{Channel: channel, Body: ciphertext}
	payload, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("mesh: marshaling message envelope: %w", err)
	}
	return s.broadcastMessage(payload)
}

func (s *Service) broadcastMessage(payload []byte) error {
	if err := s.gate.CheckOutbound(s.deviceFPHex); err != nil {
		return err
	}

	s.mu.RLock()
	selfID := s.selfID
	s.mu.RUnlock()

	f := &wire.Frame{
		Version:   wire.CurrentVersion,
		Type:      wire.TypeMessage,
		TTL:       wire.InitialTTL,
		Timestamp: s.nowMillis(),
		SenderID:  selfID,
		Payload:   payload,
	}
	packets, err := s.codec.EncodeOutbound(f)
	if err != nil {
		return fmt.Errorf("mesh: encoding message: %w", err)
	}
	return s.floodPackets(packets)
}

// SendPrivate sends (or queues pending a handshake) a one-to-one message
// to recipientPeerID, nested inside a NOISE_ENCRYPTED frame (spec §6).
func (s *Service) SendPrivate(recipientPeerID peer.Id, text, messageID string) error {
	if !s.isStarted() {
		return ErrNotStarted
	}
	if err := s.gate.CheckOutbound(s.deviceFPHex); err != nil {
		return err
	}

	body := &wire.MessageBody{MessageID: messageID, Text: text}
	bodyBytes, err := body.Marshal()
	if err != nil {
		return fmt.Errorf("mesh: marshaling message body: %w", err)
	}
	env := &wire.MessageEnvelope{Body: bodyBytes}
	envBytes, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("mesh: marshaling message envelope: %w", err)
	}

	inner := &wire.Frame{
		Version:   wire.CurrentVersion,
		Type:      wire.TypeMessage,
		TTL:       wire.InitialTTL,
		Timestamp: s.nowMillis(),
		Payload:   envBytes,
	}
	innerBytes, err := wire.Encode(inner)
	if err != nil {
		return fmt.Errorf("mesh: encoding nested message frame: %w", err)
	}

	fp, hasFP := crypto.Fingerprint{}, false
	if rec, ok := s.peers.Lookup(recipientPeerID); ok && rec.HasFingerprint {
		fp, hasFP = rec.Fingerprint, true
	}
	return s.sessions.SendPrivate(recipientPeerID, fp, hasFP, innerBytes)
}

func (s *Service) isStarted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// channelKey returns the cached Argon2id-derived key for channel,
// deriving and caching it on first use from Config.ChannelPasswords.
func (s *Service) channelKey(channel string) ([32]byte, bool) {
	s.channelKeysMu.Lock()
	defer s.channelKeysMu.Unlock()

	if k, ok := s.channelKeys[channel]; ok {
		return k, true
	}
	password, ok := s.cfg.ChannelPasswords[channel]
	if !ok {
		return [32]byte{}, false
	}
	key := crypto.DeriveChannelKey(password, channel)
	s.channelKeys[channel] = key
	return key, true
}
