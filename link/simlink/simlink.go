// Package simlink is an in-process, channel-based fake Layer for tests
// and the demo binary, standing in for real BLE the way the teacher
// ships bind_std.go alongside its production UDP bind in conn/.
package simlink

import (
	"errors"
	"sync"

	"github.com/bitmesh/meshcore/link"
)

// Mesh is a shared adjacency fabric: a set of simlink.Link instances
// wired together explicitly, so tests can construct arbitrary topologies
// (including partitions and asymmetric links) without any real radio.
type Mesh struct {
	mu    sync.Mutex
	links map[link.NeighborID]*Link
	// adjacency[a][b] == true means a and b are connected neighbors.
	adjacency map[link.NeighborID]map[link.NeighborID]bool
}

// NewMesh returns an empty Mesh.
func NewMesh() *Mesh {
	return &Mesh{
		links:     make(map[link.NeighborID]*Link),
		adjacency: make(map[link.NeighborID]map[link.NeighborID]bool),
	}
}

// NewNode creates and registers a new Link identified by id.
func (m *Mesh) NewNode(id link.NeighborID) *Link {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := &Link{id: id, mesh: m}
	m.links[id] = l
	m.adjacency[id] = make(map[link.NeighborID]bool)
	return l
}

// Connect makes a and b mutual neighbors.
func (m *Mesh) Connect(a, b link.NeighborID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adjacency[a][b] = true
	m.adjacency[b][a] = true
}

// Disconnect removes the adjacency between a and b.
func (m *Mesh) Disconnect(a, b link.NeighborID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.adjacency[a], b)
	delete(m.adjacency[b], a)
}

func (m *Mesh) neighborsOf(id link.NeighborID) []link.NeighborID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]link.NeighborID, 0, len(m.adjacency[id]))
	for n, ok := range m.adjacency[id] {
		if ok {
			out = append(out, n)
		}
	}
	return out
}

func (m *Mesh) connected(a, b link.NeighborID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adjacency[a][b]
}

func (m *Mesh) linkFor(id link.NeighborID) *Link {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.links[id]
}

// Link is one node's Layer implementation within a Mesh.
type Link struct {
	id   link.NeighborID
	mesh *Mesh

	mu sync.Mutex
	cb link.FrameCallback
}

// ScanAndAdvertise is a no-op: adjacency in simlink is wired explicitly
// via Mesh.Connect, not discovered.
func (l *Link) ScanAndAdvertise() error { return nil }

// ConnectedNeighbors returns this node's current adjacency list.
func (l *Link) ConnectedNeighbors() []link.NeighborID {
	return l.mesh.neighborsOf(l.id)
}

// Send delivers raw directly to to's registered callback if to is a
// currently connected neighbor, simulating a one-hop BLE characteristic
// write.
func (l *Link) Send(to link.NeighborID, raw []byte) error {
	if len(raw) > link.MaxFrameSize {
		return errors.New("simlink: frame exceeds MaxFrameSize")
	}
	if !l.mesh.connected(l.id, to) {
		return link.ErrLink
	}
	dst := l.mesh.linkFor(to)
	if dst == nil {
		return link.ErrLink
	}
	dst.mu.Lock()
	cb := dst.cb
	dst.mu.Unlock()
	if cb != nil {
		cb(l.id, 0, append([]byte(nil), raw...))
	}
	return nil
}

// OnFrame registers cb as this node's inbound frame handler.
func (l *Link) OnFrame(cb link.FrameCallback) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cb = cb
}

// Close is a no-op for simlink.
func (l *Link) Close() error { return nil }

var _ link.Layer = (*Link)(nil)
