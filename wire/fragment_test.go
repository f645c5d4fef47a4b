package wire

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestFragmentReassemblyRoundTrip(t *testing.T) {
	sizes := []int{1, 2, 100, 140, 141, 1200, 64 * 1024}
	for _, size := range sizes {
		original := make([]byte, size)
		if _, err := rand.Read(original); err != nil {
			t.Fatal(err)
		}
		descs, err := Fragment(original)
		if err != nil {
			t.Fatalf("size %d: Fragment: %v", size, err)
		}

		r := NewReassembler()
		var sender [SenderIDSize]byte
		var got []byte
		var complete bool
		for _, d := range descs {
			got, complete = r.Add(sender, d)
		}
		if !complete {
			t.Fatalf("size %d: reassembly did not complete", size)
		}
		if !bytes.Equal(got, original) {
			t.Fatalf("size %d: reassembled payload mismatch", size)
		}
	}
}

func TestFragmentThresholdBoundary(t *testing.T) {
	c := NewCodec()
	c.Compressor = nil // isolate the fragmentation boundary from compression

	atThreshold := &Frame{
		Version:  CurrentVersion,
		Type:     TypeMessage,
		TTL:      InitialTTL,
		SenderID: [SenderIDSize]byte{1},
	}
	// pad payload so the encoded frame lands exactly at MTUFloor.
	headerSize := atThreshold.EncodedLen() // header only, payload is still nil
	atThreshold.Payload = make([]byte, MTUFloor-headerSize)
	packets, err := c.EncodeOutbound(atThreshold)
	if err != nil {
		t.Fatal(err)
	}
	if len(packets) != 1 {
		t.Fatalf("frame at exactly MTUFloor should be unfragmented, got %d packets", len(packets))
	}

	overThreshold := &Frame{
		Version:  CurrentVersion,
		Type:     TypeMessage,
		TTL:      InitialTTL,
		SenderID: [SenderIDSize]byte{1},
	}
	overThreshold.Payload = make([]byte, len(atThreshold.Payload)+1)
	packets, err = c.EncodeOutbound(overThreshold)
	if err != nil {
		t.Fatal(err)
	}
	if len(packets) < 2 {
		t.Fatalf("frame one byte over MTUFloor should fragment, got %d packets", len(packets))
	}
}

func TestReassemblyDuplicateIndexLastWriteWins(t *testing.T) {
	r := NewReassembler()
	var sender [SenderIDSize]byte
	id, _ := newFragmentID()
	d0 := &FragmentDescriptor{FragmentID: id, Index: 0, Total: 2, Chunk: []byte("AAAA")}
	d0dup := &FragmentDescriptor{FragmentID: id, Index: 0, Total: 2, Chunk: []byte("BBBB")}
	d1 := &FragmentDescriptor{FragmentID: id, Index: 1, Total: 2, Chunk: []byte("CCCC")}

	r.Add(sender, d0)
	r.Add(sender, d0dup)
	got, complete := r.Add(sender, d1)
	if !complete {
		t.Fatal("expected completion")
	}
	if string(got) != "BBBBCCCC" {
		t.Fatalf("got %q, want last-write-wins BBBBCCCC", got)
	}
}

func TestReassemblyGroupCapacity(t *testing.T) {
	r := NewReassembler()
	var sender [SenderIDSize]byte
	for i := 0; i < MaxInFlightGroups+1; i++ {
		id, _ := newFragmentID()
		r.Add(sender, &FragmentDescriptor{FragmentID: id, Index: 0, Total: 2, Chunk: []byte("x")})
	}
	if len(r.groups) > MaxInFlightGroups {
		t.Fatalf("groups = %d, want <= %d", len(r.groups), MaxInFlightGroups)
	}
}
