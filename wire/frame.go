// Package wire implements the binary frame format exchanged between mesh
// peers: fixed-header encode/decode, fragmentation for payloads larger than
// the wire MTU floor, and reassembly of fragment groups back into frames.
package wire

import (
	"encoding/binary"
	"errors"
)

// Type identifies the kind of payload a Frame carries.
type Type uint8

const (
	TypeAnnounce       Type = 0x01
	TypeLeave          Type = 0x02
	TypeMessage        Type = 0x03
	TypeFragment       Type = 0x04
	TypeNoiseHandshake Type = 0x05
	TypeNoiseEncrypted Type = 0x06
)

func (t Type) String() string {
	switch t {
	case TypeAnnounce:
		return "ANNOUNCE"
	case TypeLeave:
		return "LEAVE"
	case TypeMessage:
		return "MESSAGE"
	case TypeFragment:
		return "FRAGMENT"
	case TypeNoiseHandshake:
		return "NOISE_HANDSHAKE"
	case TypeNoiseEncrypted:
		return "NOISE_ENCRYPTED"
	default:
		return "UNKNOWN"
	}
}

// Flags is the single-byte flag field in the frame header.
type Flags uint8

const (
	FlagHasRecipient Flags = 1 << iota
	FlagHasSignature
	FlagIsCompressed
	FlagIsFragment
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

const (
	CurrentVersion = 1

	// SenderIDSize is the length in bytes of a PeerId.
	SenderIDSize = 8
	// RecipientIDSize is the length in bytes of an optional recipient PeerId.
	RecipientIDSize = 8
	// SignatureSize is the length in bytes of an Ed25519 signature.
	SignatureSize = 64

	// fixedHeaderSize is version+type+ttl+timestamp+flags+payload_len+sender_id,
	// i.e. everything before the optional recipient_id and payload.
	fixedHeaderSize = 1 + 1 + 1 + 8 + 1 + 2 + SenderIDSize

	// InitialTTL is the TTL a freshly originated frame is stamped with.
	InitialTTL = 7

	// MTUFloor is the largest serialized frame size that is sent
	// unfragmented. Chosen conservatively below typical BLE MTUs to
	// tolerate peripheral-role limits on constrained neighbors.
	MTUFloor = 150
)

var (
	ErrTruncated       = errors.New("wire: truncated frame")
	ErrVersionMismatch = errors.New("wire: unsupported version")
	ErrInvalidFlags    = errors.New("wire: invalid flag combination")
)

// Frame is the atomic wire unit described in spec §3.
type Frame struct {
	Version     uint8
	Type        Type
	TTL         uint8
	Timestamp   uint64 // sender's monotonic ms
	Flags       Flags
	SenderID    [SenderIDSize]byte
	RecipientID [RecipientIDSize]byte // valid only if Flags.Has(FlagHasRecipient)
	Payload     []byte
	Signature   [SignatureSize]byte // valid only if Flags.Has(FlagHasSignature)
}

// IsBroadcast reports whether the frame has no specific recipient, either
// because the recipient flag is unset or the recipient id is all-zero.
func (f *Frame) IsBroadcast() bool {
	if !f.Flags.Has(FlagHasRecipient) {
		return true
	}
	return f.RecipientID == [RecipientIDSize]byte{}
}

// EncodedLen returns the number of bytes Encode will produce for f.
func (f *Frame) EncodedLen() int {
	n := fixedHeaderSize + len(f.Payload)
	if f.Flags.Has(FlagHasRecipient) {
		n += RecipientIDSize
	}
	if f.Flags.Has(FlagHasSignature) {
		n += SignatureSize
	}
	return n
}

// Encode serializes f into a newly allocated byte slice.
func Encode(f *Frame) ([]byte, error) {
	if f.Flags.Has(FlagIsFragment) && f.Flags.Has(FlagIsCompressed) {
		// a fragment descriptor is never itself compressed; the
		// reassembled frame is what gets (de)compressed.
		return nil, ErrInvalidFlags
	}
	buf := make([]byte, f.EncodedLen())
	off := 0
	buf[off] = f.Version
	off++
	buf[off] = uint8(f.Type)
	off++
	buf[off] = f.TTL
	off++
	binary.BigEndian.PutUint64(buf[off:], f.Timestamp)
	off += 8
	buf[off] = uint8(f.Flags)
	off++
	binary.BigEndian.PutUint16(buf[off:], uint16(len(f.Payload)))
	off += 2
	copy(buf[off:], f.SenderID[:])
	off += SenderIDSize
	if f.Flags.Has(FlagHasRecipient) {
		copy(buf[off:], f.RecipientID[:])
		off += RecipientIDSize
	}
	copy(buf[off:], f.Payload)
	off += len(f.Payload)
	if f.Flags.Has(FlagHasSignature) {
		copy(buf[off:], f.Signature[:])
		off += SignatureSize
	}
	return buf, nil
}

// Decode parses a Frame from b. On any malformed input it returns one of
// ErrTruncated, ErrVersionMismatch, or ErrInvalidFlags; callers must treat
// a decode failure as a silent drop, never propagate it upward.
func Decode(b []byte) (*Frame, error) {
	if len(b) < fixedHeaderSize {
		return nil, ErrTruncated
	}
	f := &Frame{}
	off := 0
	f.Version = b[off]
	off++
	if f.Version != CurrentVersion {
		return nil, ErrVersionMismatch
	}
	f.Type = Type(b[off])
	off++
	f.TTL = b[off]
	off++
	f.Timestamp = binary.BigEndian.Uint64(b[off:])
	off += 8
	f.Flags = Flags(b[off])
	off++
	if f.Flags&^(FlagHasRecipient|FlagHasSignature|FlagIsCompressed|FlagIsFragment) != 0 {
		return nil, ErrInvalidFlags
	}
	payloadLen := int(binary.BigEndian.Uint16(b[off:]))
	off += 2
	copy(f.SenderID[:], b[off:off+SenderIDSize])
	off += SenderIDSize

	need := off + payloadLen
	if f.Flags.Has(FlagHasRecipient) {
		need += RecipientIDSize
	}
	if f.Flags.Has(FlagHasSignature) {
		need += SignatureSize
	}
	if len(b) < need {
		return nil, ErrTruncated
	}

	if f.Flags.Has(FlagHasRecipient) {
		copy(f.RecipientID[:], b[off:off+RecipientIDSize])
		off += RecipientIDSize
	}
	f.Payload = append([]byte(nil), b[off:off+payloadLen]...)
	off += payloadLen
	if f.Flags.Has(FlagHasSignature) {
		copy(f.Signature[:], b[off:off+SignatureSize])
		off += SignatureSize
	}
	return f, nil
}
