package wire

import (
	"bytes"
	"testing"
)

func TestCodecRoundTripSmall(t *testing.T) {
	c := NewCodec()
	f := &Frame{
		Version:   CurrentVersion,
		Type:      TypeMessage,
		TTL:       InitialTTL,
		Timestamp: 42,
		SenderID:  [SenderIDSize]byte{7},
		Payload:   []byte("short body"),
	}
	packets, err := c.EncodeOutbound(f)
	if err != nil {
		t.Fatal(err)
	}
	if len(packets) != 1 {
		t.Fatalf("expected single packet, got %d", len(packets))
	}

	r := NewReassembler()
	got, complete, err := c.DecodeInbound(r, packets[0])
	if err != nil {
		t.Fatal(err)
	}
	if !complete {
		t.Fatal("expected immediate completion for unfragmented frame")
	}
	if !bytes.Equal(got.Payload, []byte("short body")) {
		t.Fatalf("payload mismatch: %q", got.Payload)
	}
}

func TestCodecRoundTripFragmented(t *testing.T) {
	c := NewCodec()
	c.Compressor = nil // isolate fragmentation from compression in this test
	body := bytes.Repeat([]byte("0123456789"), 120) // 1200 bytes
	f := &Frame{
		Version:   CurrentVersion,
		Type:      TypeMessage,
		TTL:       InitialTTL,
		Timestamp: 42,
		SenderID:  [SenderIDSize]byte{7},
		Payload:   body,
	}
	packets, err := c.EncodeOutbound(f)
	if err != nil {
		t.Fatal(err)
	}
	if len(packets) != 9 {
		t.Fatalf("expected 9 fragment packets for a 1200-byte body, got %d", len(packets))
	}

	r := NewReassembler()
	var final *Frame
	for i, p := range packets {
		got, complete, err := c.DecodeInbound(r, p)
		if err != nil {
			t.Fatalf("packet %d: %v", i, err)
		}
		if complete {
			final = got
		}
	}
	if final == nil {
		t.Fatal("never completed reassembly")
	}
	if !bytes.Equal(final.Payload, body) {
		t.Fatal("reassembled payload does not match original body")
	}
	if final.Type != TypeMessage {
		t.Fatalf("reassembled type = %v, want TypeMessage", final.Type)
	}
}

func TestCodecCompressionSkippedWhenNotSmaller(t *testing.T) {
	c := NewCodec()
	// random-looking incompressible-ish but still >=100 bytes; LZ4 on
	// highly repetitive data compresses, so use a payload designed not to
	// shrink: already-compressed-looking noise is approximated here by
	// forcing the compressor's floor via a custom stub.
	c.Compressor = stubCompressor{}
	f := &Frame{Version: CurrentVersion, Type: TypeMessage, TTL: InitialTTL, Payload: bytes.Repeat([]byte{0xAB}, 200)}
	packets, err := c.EncodeOutbound(f)
	if err != nil {
		t.Fatal(err)
	}
	got, _, err := c.DecodeInbound(NewReassembler(), packets[0])
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Payload, f.Payload) {
		t.Fatal("payload should decode unchanged when compression was skipped")
	}
}

// stubCompressor always reports compression as not worthwhile, exercising
// the "skip when not smaller" path deterministically.
type stubCompressor struct{}

func (stubCompressor) Compress(src []byte) ([]byte, bool) { return nil, false }
func (stubCompressor) Decompress(src []byte) ([]byte, error) {
	return src, nil
}
