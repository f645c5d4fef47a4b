// Package storeforward implements StoreAndForward: a bounded cache of
// frames undelivered to a peer that is not currently reachable, keyed by
// the recipient's stable Fingerprint rather than its ephemeral PeerId.
// Grounded on ratelimiter/ratelimiter.go's map-of-entries-with-background-GC
// shape, repurposed here for a FIFO-per-key cache instead of a token
// bucket.
package storeforward

import (
	"container/list"
	"sync"
	"time"

	"github.com/bitmesh/meshcore/crypto"
	"github.com/bitmesh/meshcore/internal/clock"
	"github.com/bitmesh/meshcore/wire"
)

// PerRecipientCap is the maximum queued frames per Fingerprint (spec §3
// UndeliveredQueue).
const PerRecipientCap = 100

// TotalCap is the maximum queued frames across all recipients combined.
const TotalCap = 10000

// EntryTTL is how long a queued frame is retained before it expires
// unreplayed.
const EntryTTL = 24 * time.Hour

// SweepInterval is how often expired entries are purged.
const SweepInterval = 5 * time.Minute

type entry struct {
	frame    *wire.Frame
	expires  time.Time
	elem     *list.Element
}

// Store is the StoreAndForward cache.
type Store struct {
	mu    sync.Mutex
	byFP  map[crypto.Fingerprint]*list.List
	total int
	clock clock.Clock
}

// New returns an empty Store.
func New(clk clock.Clock) *Store {
	return &Store{
		byFP:  make(map[crypto.Fingerprint]*list.List),
		clock: clk,
	}
}

// Enqueue queues f for later delivery to fp. If the recipient's queue is
// at PerRecipientCap, the oldest queued frame for that recipient is
// dropped. If the store's TotalCap is reached, the globally oldest entry
// (across all recipients) is dropped to make room.
func (s *Store) Enqueue(fp crypto.Fingerprint, f *wire.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.byFP[fp]
	if !ok {
		q = list.New()
		s.byFP[fp] = q
	}

	if q.Len() >= PerRecipientCap {
		front := q.Front()
		q.Remove(front)
		s.total--
	}

	e := &entry{frame: f, expires: s.clock.Now().Add(EntryTTL)}
	e.elem = q.PushBack(e)
	s.total++

	if s.total > TotalCap {
		s.evictGlobalOldest()
	}
}

// evictGlobalOldest drops the single oldest entry across every
// recipient's queue. Must be called with mu held.
func (s *Store) evictGlobalOldest() {
	var oldestFP crypto.Fingerprint
	var oldestQ *list.List
	var oldestTime time.Time
	first := true

	for fp, q := range s.byFP {
		if q.Len() == 0 {
			continue
		}
		e := q.Front().Value.(*entry)
		if first || e.expires.Before(oldestTime) {
			oldestFP, oldestQ, oldestTime, first = fp, q, e.expires, false
		}
	}
	if oldestQ != nil {
		oldestQ.Remove(oldestQ.Front())
		s.total--
		if oldestQ.Len() == 0 {
			delete(s.byFP, oldestFP)
		}
	}
}

// Drain removes and returns every currently-queued, non-expired frame for
// fp, in original enqueue order, clearing its queue. Called once the
// recipient's session reaches Established.
func (s *Store) Drain(fp crypto.Fingerprint) []*wire.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.byFP[fp]
	if !ok {
		return nil
	}
	now := s.clock.Now()
	var out []*wire.Frame
	for e := q.Front(); e != nil; e = e.Next() {
		ent := e.Value.(*entry)
		if ent.expires.After(now) {
			out = append(out, ent.frame)
		}
		s.total--
	}
	delete(s.byFP, fp)
	return out
}

// Sweep purges expired entries across all recipients.
func (s *Store) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	for fp, q := range s.byFP {
		var next *list.Element
		for e := q.Front(); e != nil; e = next {
			next = e.Next()
			if e.Value.(*entry).expires.Before(now) {
				q.Remove(e)
				s.total--
			}
		}
		if q.Len() == 0 {
			delete(s.byFP, fp)
		}
	}
}

// Run drives periodic sweeping until done is closed.
func (s *Store) Run(done <-chan struct{}) {
	ticker := s.clock.NewTicker(SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C():
			s.Sweep()
		}
	}
}

// Len reports the number of queued frames for fp, for diagnostics/tests.
func (s *Store) Len(fp crypto.Fingerprint) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.byFP[fp]
	if !ok {
		return 0
	}
	return q.Len()
}
