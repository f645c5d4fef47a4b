// Package peer holds the mesh's identity-to-session mapping: PeerTable
// tracks every currently-known PeerId, its (optionally still-unknown)
// Fingerprint, last-seen time, and signal strength, the way the teacher's
// Device tracks NoisePublicKey -> Peer in device/device.go's peers field.
package peer

import (
	"sync"
	"time"

	"github.com/bitmesh/meshcore/crypto"
	"github.com/bitmesh/meshcore/internal/clock"
)

// Id is an 8-byte opaque, ephemeral, per-session peer identifier (spec §3).
type Id [8]byte

// IdleTimeout is how long a peer may go unseen before the sweeper removes
// it and closes its session.
const IdleTimeout = 90 * time.Second

// SweepInterval is how often the sweeper scans for idle peers.
const SweepInterval = 15 * time.Second

// Record is what the table holds per PeerId. Fingerprint and Nickname are
// soft: both are unset until the peer's ANNOUNCE is received and
// validated.
type Record struct {
	Id          Id
	Fingerprint crypto.Fingerprint
	HasFingerprint bool
	Nickname    string
	RSSI        int8
	LastSeen    time.Time
	Session     *crypto.Session
}

// Table is the PeerTable: a single short-critical-section lock guarding a
// map, exactly the shape spec §5 mandates ("PeerTable is the only
// cross-task mutable structure ... guarded by a single lock held only
// across short O(1) updates").
type Table struct {
	mu    sync.RWMutex
	peers map[Id]*Record
	clock clock.Clock

	// onIdle is invoked (outside the lock) for every record the sweeper
	// evicts, so callers can close sessions / terminate actors.
	onIdle func(*Record)
}

// New returns an empty Table using clk for timestamps.
func New(clk clock.Clock, onIdle func(*Record)) *Table {
	return &Table{
		peers:  make(map[Id]*Record),
		clock:  clk,
		onIdle: onIdle,
	}
}

// Touch records a successful, validated frame from id, creating the
// record on first contact. Malformed input must never reach here (spec
// §4.3: "last_seen is updated only on successful delivery of a validated
// frame").
func (t *Table) Touch(id Id, rssi int8) *Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.peers[id]
	if !ok {
		r = &Record{Id: id}
		t.peers[id] = r
	}
	r.RSSI = rssi
	r.LastSeen = t.clock.Now()
	return r
}

// BindFingerprint records the stable identity learned from a validated
// ANNOUNCE or completed handshake. Two concurrent PeerIds may bind the
// same Fingerprint; the newest binding wins, and the older PeerId's record
// loses its Fingerprint.
func (t *Table) BindFingerprint(id Id, fp crypto.Fingerprint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for otherID, other := range t.peers {
		if otherID != id && other.HasFingerprint && other.Fingerprint == fp {
			other.Fingerprint, other.HasFingerprint = crypto.Fingerprint{}, false
		}
	}
	r, ok := t.peers[id]
	if !ok {
		r = &Record{Id: id}
		t.peers[id] = r
	}
	r.Fingerprint = fp
	r.HasFingerprint = true
}

// SetSession attaches (or clears, with nil) the crypto session for id.
func (t *Table) SetSession(id Id, s *crypto.Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.peers[id]; ok {
		r.Session = s
	}
}

// SetNickname records a display nickname learned from ANNOUNCE.
func (t *Table) SetNickname(id Id, nickname string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.peers[id]; ok {
		r.Nickname = nickname
	}
}

// Lookup returns a copy of the record for id, if known.
func (t *Table) Lookup(id Id) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.peers[id]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// LookupByFingerprint finds the PeerId currently bound to fp, if the peer
// is presently connected.
func (t *Table) LookupByFingerprint(fp crypto.Fingerprint) (Id, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for id, r := range t.peers {
		if r.HasFingerprint && r.Fingerprint == fp {
			return id, true
		}
	}
	return Id{}, false
}

// All returns a snapshot of every currently-known peer id.
func (t *Table) All() []Id {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Id, 0, len(t.peers))
	for id := range t.peers {
		out = append(out, id)
	}
	return out
}

// Remove deletes id from the table unconditionally.
func (t *Table) Remove(id Id) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peers, id)
}

// Sweep evicts every peer whose LastSeen is older than IdleTimeout,
// invoking onIdle for each outside the lock.
func (t *Table) Sweep() {
	cutoff := t.clock.Now().Add(-IdleTimeout)

	t.mu.Lock()
	var evicted []*Record
	for id, r := range t.peers {
		if r.LastSeen.Before(cutoff) {
			evicted = append(evicted, r)
			delete(t.peers, id)
		}
	}
	t.mu.Unlock()

	if t.onIdle != nil {
		for _, r := range evicted {
			t.onIdle(r)
		}
	}
}

// Run drives periodic sweeping until done is closed. Intended to be started
// as the mesh's single sweeper task (spec §5: "a small pool of tasks for
// LinkLayer I/O, and a single sweeper").
func (t *Table) Run(done <-chan struct{}) {
	ticker := t.clock.NewTicker(SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C():
			t.Sweep()
		}
	}
}
