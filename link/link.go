// Package link defines LinkLayer: the abstract BLE transport primitive
// the rest of the mesh is built against, so CryptoCore/Router/PeerActor
// never depend on a concrete radio stack. Grounded on device/device.go's
// conn.Bind injection (the Device never constructs its own socket; a
// Bind implementation is passed in) — Layer is injected into mesh.Service
// the same way.
package link

import "errors"

// ServiceUUID and CharacteristicUUID are the fixed 128-bit identifiers a
// reference implementation on another platform also uses; they must be
// reproduced bit-for-bit for interoperability (spec §6).
const (
	ServiceUUID        = "F47B5E2D-4A9E-4C5A-9B3F-8E1D2C3A4B5C"
	CharacteristicUUID = "A3D8E1F2-5B6C-4D7E-8F9A-0B1C2D3E4F5A"
)

// MaxFrameSize is the BLE MTU upper bound assumption a Send call's bytes
// must respect (spec §6).
const MaxFrameSize = 244

// ErrLink is a transient link failure; the core does not retry sends on
// this error (spec §7), the application may.
var ErrLink = errors.New("link: send failed")

// NeighborID identifies a directly connected neighbor at the link layer.
// The mesh layers above map this to a PeerId once a frame from it has
// been decoded.
type NeighborID string

// FrameCallback is invoked for every raw frame received from a neighbor,
// carrying the observed RSSI alongside the bytes.
type FrameCallback func(from NeighborID, rssi int8, raw []byte)

// Layer is the LinkLayer trait from spec §6, translated to Go.
type Layer interface {
	// ScanAndAdvertise begins scanning for and advertising the fixed
	// service/characteristic pair. Idempotent.
	ScanAndAdvertise() error
	// ConnectedNeighbors returns the currently connected neighbor set.
	ConnectedNeighbors() []NeighborID
	// Send delivers raw (already MTU-floor-fragmented) bytes to a single
	// connected neighbor. len(raw) must not exceed MaxFrameSize.
	Send(to NeighborID, raw []byte) error
	// OnFrame registers the callback invoked for every inbound frame.
	// Only one callback is active at a time; a later call replaces the
	// earlier one.
	OnFrame(cb FrameCallback)
	// Close releases the underlying radio resources.
	Close() error
}
