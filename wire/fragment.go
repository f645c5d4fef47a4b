package wire

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"
)

const (
	// FragmentIDSize is the length in bytes of a fragment group id.
	FragmentIDSize = 8

	// fragmentHeaderSize is fragment_id(8) + index(2) + total(2).
	fragmentHeaderSize = FragmentIDSize + 2 + 2

	// MaxChunkPayload is the upper bound of payload bytes carried by a
	// single fragment chunk (§4.1).
	MaxChunkPayload = 140

	// MaxInFlightGroups bounds per-peer concurrent reassembly groups.
	MaxInFlightGroups = 64

	// ReassemblyTimeout is how long an incomplete group is held before
	// being silently discarded.
	ReassemblyTimeout = 30 * time.Second
)

// FragmentDescriptor is the payload shape carried by a TypeFragment frame.
type FragmentDescriptor struct {
	FragmentID [FragmentIDSize]byte
	Index      uint16
	Total      uint16
	Chunk      []byte
}

func (d *FragmentDescriptor) Marshal() []byte {
	buf := make([]byte, fragmentHeaderSize+len(d.Chunk))
	copy(buf, d.FragmentID[:])
	binary.BigEndian.PutUint16(buf[FragmentIDSize:], d.Index)
	binary.BigEndian.PutUint16(buf[FragmentIDSize+2:], d.Total)
	copy(buf[fragmentHeaderSize:], d.Chunk)
	return buf
}

func UnmarshalFragment(b []byte) (*FragmentDescriptor, error) {
	if len(b) < fragmentHeaderSize {
		return nil, ErrTruncated
	}
	d := &FragmentDescriptor{}
	copy(d.FragmentID[:], b[:FragmentIDSize])
	d.Index = binary.BigEndian.Uint16(b[FragmentIDSize:])
	d.Total = binary.BigEndian.Uint16(b[FragmentIDSize+2:])
	d.Chunk = append([]byte(nil), b[fragmentHeaderSize:]...)
	return d, nil
}

// newFragmentID returns FragmentIDSize bytes of cryptographic randomness.
func newFragmentID() ([FragmentIDSize]byte, error) {
	var id [FragmentIDSize]byte
	_, err := rand.Read(id[:])
	return id, err
}

// groupKey identifies one in-flight reassembly group.
type groupKey struct {
	sender     [SenderIDSize]byte
	fragmentID [FragmentIDSize]byte
}

type group struct {
	total   uint16
	chunks  map[uint16][]byte
	created time.Time
	timer   *time.Timer
}

// Reassembler buffers fragment groups for one peer and emits a complete
// reassembled payload once every index has arrived, or silently discards a
// group ReassemblyTimeout after its first chunk.
//
// A single Reassembler instance is meant to be owned by one PeerActor, so
// its internal lock only ever guards against the actor's own timer
// goroutines racing the ingest path — it is not shared across peers.
type Reassembler struct {
	mu     sync.Mutex
	groups map[groupKey]*group

	// onExpire, if set, is invoked (outside the lock) whenever a group is
	// discarded for timing out.
	onExpire func(groupKey)
}

func NewReassembler() *Reassembler {
	return &Reassembler{groups: make(map[groupKey]*group)}
}

// Add ingests one fragment chunk from sender. It returns the reassembled
// payload and true once the group identified by (sender, fragmentID) is
// complete; duplicate indices within a group are tolerated (last write
// wins).
func (r *Reassembler) Add(sender [SenderIDSize]byte, d *FragmentDescriptor) ([]byte, bool) {
	key := groupKey{sender: sender, fragmentID: d.FragmentID}

	r.mu.Lock()
	g, ok := r.groups[key]
	if !ok {
		if len(r.groups) >= MaxInFlightGroups {
			r.mu.Unlock()
			return nil, false
		}
		g = &group{
			total:   d.Total,
			chunks:  make(map[uint16][]byte),
			created: time.Now(),
		}
		g.timer = time.AfterFunc(ReassemblyTimeout, func() { r.expire(key) })
		r.groups[key] = g
	}
	g.chunks[d.Index] = append([]byte(nil), d.Chunk...)
	complete := len(g.chunks) >= int(g.total)
	var payload []byte
	if complete {
		payload = make([]byte, 0, int(g.total)*MaxChunkPayload)
		for i := uint16(0); i < g.total; i++ {
			chunk, have := g.chunks[i]
			if !have {
				// missing index at "completion" (stale Total claim):
				// treat as incomplete rather than emit a gap.
				complete = false
				break
			}
			payload = append(payload, chunk...)
		}
		if complete {
			g.timer.Stop()
			delete(r.groups, key)
		}
	}
	r.mu.Unlock()

	if !complete {
		return nil, false
	}
	return payload, true
}

func (r *Reassembler) expire(key groupKey) {
	r.mu.Lock()
	g, ok := r.groups[key]
	if ok {
		delete(r.groups, key)
	}
	r.mu.Unlock()
	if ok && r.onExpire != nil {
		_ = g
		r.onExpire(key)
	}
}

// Fragment splits payload into a sequence of FragmentDescriptors no larger
// than MaxChunkPayload bytes each, sharing one fresh random fragment id.
func Fragment(payload []byte) ([]*FragmentDescriptor, error) {
	id, err := newFragmentID()
	if err != nil {
		return nil, err
	}
	total := (len(payload) + MaxChunkPayload - 1) / MaxChunkPayload
	if total == 0 {
		total = 1
	}
	descs := make([]*FragmentDescriptor, 0, total)
	for i := 0; i < total; i++ {
		start := i * MaxChunkPayload
		end := start + MaxChunkPayload
		if end > len(payload) {
			end = len(payload)
		}
		descs = append(descs, &FragmentDescriptor{
			FragmentID: id,
			Index:      uint16(i),
			Total:      uint16(total),
			Chunk:      payload[start:end],
		})
	}
	return descs, nil
}
