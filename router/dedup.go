package router

import (
	"container/list"
	"encoding/binary"
	"sync"
	"time"

	"lukechampine.com/blake3"

	"github.com/bitmesh/meshcore/internal/clock"
	"github.com/bitmesh/meshcore/wire"
)

// DedupRetention is how long a dedup key is remembered (spec §3
// DedupSet).
const DedupRetention = 10 * time.Minute

// DedupSoftCap is the soft entry-count limit; past this, the oldest
// entries are evicted LRU-style regardless of their remaining retention
// window.
const DedupSoftCap = 4096

// dedupKeyPrefixLen is how many leading payload bytes feed the dedup key,
// per spec §4.5 ("first-32-bytes-of-payload").
const dedupKeyPrefixLen = 32

// DedupKey identifies a frame for relay-loop suppression.
type DedupKey [32]byte

// ComputeDedupKey hashes type || sender_id || timestamp || first 32
// payload bytes with BLAKE3, exactly the fields spec §4.5 names.
func ComputeDedupKey(f *wire.Frame) DedupKey {
	h := blake3.New(32, nil)
	h.Write([]byte{byte(f.Type)})
	h.Write(f.SenderID[:])
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], f.Timestamp)
	h.Write(ts[:])
	prefixLen := dedupKeyPrefixLen
	if len(f.Payload) < prefixLen {
		prefixLen = len(f.Payload)
	}
	h.Write(f.Payload[:prefixLen])
	var key DedupKey
	copy(key[:], h.Sum(nil))
	return key
}

type dedupEntry struct {
	key     DedupKey
	expires time.Time
	elem    *list.Element
}

// DedupSet is the mesh's flood-relay loop suppressor: a bounded,
// time-expiring set of recently-seen frame keys, sharded to avoid
// contention under fan-in from many simultaneously-active PeerActors
// (spec §5: "DedupSet uses a sharded lock to avoid contention").
type DedupSet struct {
	shards [dedupShardCount]*dedupShard
	clock  clock.Clock
}

const dedupShardCount = 16

type dedupShard struct {
	mu      sync.Mutex
	entries map[DedupKey]*dedupEntry
	order   *list.List // front = oldest
}

// NewDedupSet returns an empty DedupSet.
func NewDedupSet(clk clock.Clock) *DedupSet {
	d := &DedupSet{clock: clk}
	for i := range d.shards {
		d.shards[i] = &dedupShard{
			entries: make(map[DedupKey]*dedupEntry),
			order:   list.New(),
		}
	}
	return d
}

func (d *DedupSet) shardFor(key DedupKey) *dedupShard {
	return d.shards[key[0]%dedupShardCount]
}

// CheckAndInsert reports whether key has been seen before (within its
// retention window); if not, it inserts key and returns false.
func (d *DedupSet) CheckAndInsert(key DedupKey) (seen bool) {
	s := d.shardFor(key)
	now := d.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok {
		if now.Before(e.expires) {
			return true
		}
		// expired: treat as unseen, refresh it below
		s.order.Remove(e.elem)
		delete(s.entries, key)
	}

	e := &dedupEntry{key: key, expires: now.Add(DedupRetention)}
	e.elem = s.order.PushBack(e)
	s.entries[key] = e

	perShardCap := DedupSoftCap / dedupShardCount
	for len(s.entries) > perShardCap {
		oldest := s.order.Front()
		if oldest == nil {
			break
		}
		s.order.Remove(oldest)
		delete(s.entries, oldest.Value.(*dedupEntry).key)
	}
	return false
}
