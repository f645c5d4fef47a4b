package wire

import (
	"encoding/binary"
	"errors"
)

// ErrMessageTruncated is returned when a MESSAGE payload is shorter than
// its declared fields require.
var ErrMessageTruncated = errors.New("wire: truncated message body")

const maxChannelNameLen = 255

// MessageEnvelope is the MESSAGE frame payload layout from spec §3:
// channel name length, channel name bytes, then an opaque body — plaintext
// for public channels, AEAD ciphertext (crypto.SealChannel output) for
// password-protected ones, or a marshaled MessageBody directly when Channel
// is empty (private one-to-one delivery nested inside a NOISE_ENCRYPTED frame).
type MessageEnvelope struct {
	Channel string
	Body    []byte
}

// Marshal serializes e as channel_len(1) ‖ channel ‖ body.
func (e *MessageEnvelope) Marshal() ([]byte, error) {
	if len(e.Channel) > maxChannelNameLen {
		return nil, errors.New("wire: channel name too long")
	}
	buf := make([]byte, 0, 1+len(e.Channel)+len(e.Body))
	buf = append(buf, byte(len(e.Channel)))
	buf = append(buf, e.Channel...)
	buf = append(buf, e.Body...)
	return buf, nil
}

// UnmarshalMessageEnvelope parses a MESSAGE frame payload.
func UnmarshalMessageEnvelope(b []byte) (*MessageEnvelope, error) {
	if len(b) < 1 {
		return nil, ErrMessageTruncated
	}
	n := int(b[0])
	if len(b) < 1+n {
		return nil, ErrMessageTruncated
	}
	e := &MessageEnvelope{
		Channel: string(b[1 : 1+n]),
		Body:    append([]byte(nil), b[1+n:]...),
	}
	return e, nil
}

// MessageBody is the application-level content carried inside a
// MessageEnvelope's Body, before any channel or session encryption is
// applied: a message id for delivery acknowledgement, an optional
// mentions list, and the message text.
type MessageBody struct {
	MessageID string
	Mentions  []string
	Text      string
}

// Marshal serializes b as id_len(1) ‖ id ‖ mention_count(1) ‖
// (mention_len(1) ‖ mention)* ‖ text_len(2) ‖ text.
func (b *MessageBody) Marshal() ([]byte, error) {
	if len(b.MessageID) > 255 {
		return nil, errors.New("wire: message id too long")
	}
	if len(b.Mentions) > 255 {
		return nil, errors.New("wire: too many mentions")
	}
	out := make([]byte, 0, 64+len(b.Text))
	out = append(out, byte(len(b.MessageID)))
	out = append(out, b.MessageID...)
	out = append(out, byte(len(b.Mentions)))
	for _, m := range b.Mentions {
		if len(m) > 255 {
			return nil, errors.New("wire: mention too long")
		}
		out = append(out, byte(len(m)))
		out = append(out, m...)
	}
	textLen := make([]byte, 2)
	binary.BigEndian.PutUint16(textLen, uint16(len(b.Text)))
	out = append(out, textLen...)
	out = append(out, b.Text...)
	return out, nil
}

// UnmarshalMessageBody parses bytes produced by MessageBody.Marshal.
func UnmarshalMessageBody(raw []byte) (*MessageBody, error) {
	if len(raw) < 1 {
		return nil, ErrMessageTruncated
	}
	off := 0
	idLen := int(raw[off])
	off++
	if len(raw) < off+idLen+1 {
		return nil, ErrMessageTruncated
	}
	id := string(raw[off : off+idLen])
	off += idLen

	mentionCount := int(raw[off])
	off++
	mentions := make([]string, 0, mentionCount)
	for i := 0; i < mentionCount; i++ {
		if len(raw) < off+1 {
			return nil, ErrMessageTruncated
		}
		mLen := int(raw[off])
		off++
		if len(raw) < off+mLen {
			return nil, ErrMessageTruncated
		}
		mentions = append(mentions, string(raw[off:off+mLen]))
		off += mLen
	}

	if len(raw) < off+2 {
		return nil, ErrMessageTruncated
	}
	textLen := int(binary.BigEndian.Uint16(raw[off:]))
	off += 2
	if len(raw) < off+textLen {
		return nil, ErrMessageTruncated
	}
	text := string(raw[off : off+textLen])

	return &MessageBody{MessageID: id, Mentions: mentions, Text: text}, nil
}
