package wire

// Codec encodes logical Frames into one or more wire packets (fragmenting
// when necessary) and decodes wire packets back into logical Frames
// (reassembling and decompressing as needed). One Codec is shared
// process-wide; reassembly state is per-peer and lives in a Reassembler
// owned by the caller (typically one per PeerActor).
type Codec struct {
	Compressor Compressor
}

// NewCodec returns a Codec using LZ4Compressor.
func NewCodec() *Codec {
	return &Codec{Compressor: LZ4Compressor{}}
}

// EncodeOutbound serializes f, compressing the payload first when it
// qualifies, and splits the result into wire packets. A frame whose
// serialized form is at or under MTUFloor is returned as the single
// element of the result; a larger frame is split into TypeFragment frames
// each carrying at most MaxChunkPayload bytes.
func (c *Codec) EncodeOutbound(f *Frame) ([][]byte, error) {
	f.Flags &^= FlagIsCompressed
	if c.Compressor != nil && !f.Flags.Has(FlagIsFragment) {
		if compressed, ok := c.Compressor.Compress(f.Payload); ok {
			f.Payload = compressed
			f.Flags |= FlagIsCompressed
		}
	}

	encoded, err := Encode(f)
	if err != nil {
		return nil, err
	}
	if len(encoded) <= MTUFloor {
		return [][]byte{encoded}, nil
	}

	chunks, err := Fragment(encoded)
	if err != nil {
		return nil, err
	}
	packets := make([][]byte, 0, len(chunks))
	for _, d := range chunks {
		fragFrame := &Frame{
			Version:   CurrentVersion,
			Type:      TypeFragment,
			TTL:       f.TTL,
			Timestamp: f.Timestamp,
			Flags:     FlagIsFragment,
			SenderID:  f.SenderID,
			Payload:   d.Marshal(),
		}
		b, err := Encode(fragFrame)
		if err != nil {
			return nil, err
		}
		packets = append(packets, b)
	}
	return packets, nil
}

// DecodeInbound decodes one wire packet. If the packet is a complete,
// non-fragment frame it is returned immediately (decompressed if
// flagged). If it is a fragment chunk, reassembler accumulates it and
// DecodeInbound returns (nil, false, nil) until the group completes, at
// which point the reassembled inner frame is decoded, decompressed, and
// returned.
func (c *Codec) DecodeInbound(reassembler *Reassembler, raw []byte) (*Frame, bool, error) {
	f, err := Decode(raw)
	if err != nil {
		return nil, false, err
	}

	if f.Type == TypeFragment {
		desc, err := UnmarshalFragment(f.Payload)
		if err != nil {
			return nil, false, err
		}
		payload, complete := reassembler.Add(f.SenderID, desc)
		if !complete {
			return nil, false, nil
		}
		inner, err := Decode(payload)
		if err != nil {
			return nil, false, err
		}
		f = inner
	}

	if f.Flags.Has(FlagIsCompressed) {
		decompressed, err := c.Compressor.Decompress(f.Payload)
		if err != nil {
			return nil, false, err
		}
		f.Payload = decompressed
		f.Flags &^= FlagIsCompressed
	}
	return f, true, nil
}
