package wire

import "errors"

// AnnounceBody is the signed payload carried inside a TypeAnnounce frame:
// the sender's static Ed25519 public key, a display nickname, and a
// capability flags byte, all under one signature (spec §6 wire table).
type AnnounceBody struct {
	SigningPub [32]byte
	Nickname   string
	Caps       AnnounceCaps
}

// AnnounceCaps are advertised capability bits; unknown bits are preserved
// on decode and ignored rather than rejected, so future capabilities can
// be added without breaking older relays.
type AnnounceCaps uint8

const (
	CapChannels AnnounceCaps = 1 << iota
	CapStoreAndForward
)

const (
	announceMaxNickname = 255
	announceFixedSize   = 32 + 1 + 1 // pub ‖ nickname-len ‖ caps, nickname appended
)

var ErrNicknameTooLong = errors.New("wire: nickname exceeds 255 bytes")

// Marshal renders an AnnounceBody as pub(32) || len(1) || nickname || caps(1).
func (a *AnnounceBody) Marshal() ([]byte, error) {
	if len(a.Nickname) > announceMaxNickname {
		return nil, ErrNicknameTooLong
	}
	out := make([]byte, 0, announceFixedSize+len(a.Nickname))
	out = append(out, a.SigningPub[:]...)
	out = append(out, byte(len(a.Nickname)))
	out = append(out, a.Nickname...)
	out = append(out, byte(a.Caps))
	return out, nil
}

// UnmarshalAnnounceBody parses the wire form produced by Marshal.
func UnmarshalAnnounceBody(b []byte) (*AnnounceBody, error) {
	if len(b) < 32+1+1 {
		return nil, ErrTruncated
	}
	a := &AnnounceBody{}
	copy(a.SigningPub[:], b[:32])
	nickLen := int(b[32])
	rest := b[33:]
	if len(rest) < nickLen+1 {
		return nil, ErrTruncated
	}
	a.Nickname = string(rest[:nickLen])
	a.Caps = AnnounceCaps(rest[nickLen])
	return a, nil
}
