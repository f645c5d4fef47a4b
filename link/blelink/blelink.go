// Package blelink implements link.Layer over a real BlueZ adapter via
// D-Bus, dual-role: it advertises a GATT peripheral (TX/RX
// characteristics under the fixed service UUID) for other scanners to
// connect to, and it scans/connects outward as a central to advertise
// neighbors of its own. Grounded on device/device.go's conn.Bind
// injection pattern (a Bind is handed to the Device, never constructed
// by it) and on the BitChat Linux mesh provider's adapter-wrapper shape
// (other_examples' platform/linux/mesh.go): one struct owning the
// adapter, a discovered/connected neighbor map, and Start/Stop driving
// background scan-and-advertise loops. Linux-only: BlueZ is a
// Linux-specific system service reached over the session/system D-Bus.
//
//go:build linux

package blelink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/muka/go-bluetooth/api"
	"github.com/muka/go-bluetooth/api/service"
	"github.com/muka/go-bluetooth/bluez/profile/adapter"
	"github.com/muka/go-bluetooth/bluez/profile/gatt"

	"github.com/bitmesh/meshcore/link"
)

// rescanInterval is how often the central role restarts discovery, to
// pick up neighbors that came into range since the last pass.
const rescanInterval = 10 * time.Second

// Link is a link.Layer backed by a BlueZ adapter.
type Link struct {
	adapterID string
	a         *adapter.Adapter1
	app       *service.App

	mu        sync.Mutex
	cb        link.FrameCallback
	neighbors map[link.NeighborID]*neighborConn

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// neighborConn holds the connected GATT characteristic this node
// writes outbound frames to for one discovered neighbor.
type neighborConn struct {
	devicePath dbus.ObjectPath
	txChar     *gatt.GattCharacteristic1
	rssi       int8
}

// New opens the named local adapter (e.g. "hci0") and prepares (but
// does not yet start) the mesh GATT service.
func New(adapterID string) (*Link, error) {
	a, err := api.GetAdapter(adapterID)
	if err != nil {
		return nil, fmt.Errorf("blelink: opening adapter %s: %w", adapterID, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Link{
		adapterID: adapterID,
		a:         a,
		neighbors: make(map[link.NeighborID]*neighborConn),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// ScanAndAdvertise registers the mesh GATT service, starts advertising
// it, and begins the background scan loop that discovers and connects
// to other mesh peripherals.
func (l *Link) ScanAndAdvertise() error {
	if err := l.publishGATTService(); err != nil {
		return fmt.Errorf("blelink: publishing gatt service: %w", err)
	}
	if err := l.a.StartDiscovery(); err != nil {
		return fmt.Errorf("blelink: starting discovery: %w", err)
	}

	l.wg.Add(1)
	go l.scanLoop()

	return nil
}

// publishGATTService registers the fixed ServiceUUID with one writable
// RX characteristic (inbound frames arrive here as characteristic
// writes) and one notify TX characteristic (outbound frames are pushed
// as notifications once a central subscribes).
func (l *Link) publishGATTService() error {
	app, err := service.NewApp(service.AppOptions{
		AdapterID:  l.adapterID,
		AgentCaps:  "NoInputNoOutput",
		UUIDSuffix: link.ServiceUUID,
	})
	if err != nil {
		return err
	}
	l.app = app

	svc, err := app.NewService(link.ServiceUUID)
	if err != nil {
		return err
	}
	if err := app.AddService(svc); err != nil {
		return err
	}

	rx, err := svc.NewChar(link.CharacteristicUUID)
	if err != nil {
		return err
	}
	rx.Properties.Flags = []string{gatt.FlagCharacteristicWrite, gatt.FlagCharacteristicWriteWithoutResponse}
	rx.OnWrite(func(c *service.Char, value []byte) ([]byte, error) {
		l.deliverInbound(c.GetProperties().Service, value)
		return nil, nil
	})
	if err := svc.AddChar(rx); err != nil {
		return err
	}

	if err := app.Run(); err != nil {
		return err
	}
	return app.Expose()
}

// deliverInbound hands a raw characteristic write up to the registered
// FrameCallback. The originating neighbor is identified by the D-Bus
// connection the write arrived on; BlueZ's GATT server API surfaces
// this as the characteristic's associated device path, which this
// module uses directly as the NeighborID.
func (l *Link) deliverInbound(devicePath dbus.ObjectPath, raw []byte) {
	l.mu.Lock()
	cb := l.cb
	rssi := int8(0)
	if n, ok := l.neighbors[link.NeighborID(devicePath)]; ok {
		rssi = n.rssi
	}
	l.mu.Unlock()
	if cb != nil {
		cb(link.NeighborID(devicePath), rssi, raw)
	}
}

// scanLoop periodically restarts discovery and connects to any newly
// discovered device advertising the mesh service UUID.
func (l *Link) scanLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(rescanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			l.connectDiscovered()
		}
	}
}

func (l *Link) connectDiscovered() {
	devices, err := l.a.GetDevices()
	if err != nil {
		return
	}
	for _, dev := range devices {
		if !dev.Properties.Connected {
			if !serviceAdvertised(dev, link.ServiceUUID) {
				continue
			}
			if err := dev.Connect(); err != nil {
				continue
			}
		}
		l.attachNeighbor(dev)
	}
}

func serviceAdvertised(dev *gatt.Device1, uuid string) bool {
	for _, u := range dev.Properties.UUIDs {
		if u == uuid {
			return true
		}
	}
	return false
}

func (l *Link) attachNeighbor(dev *gatt.Device1) {
	txChar, err := dev.GetCharByUUID(link.CharacteristicUUID)
	if err != nil || txChar == nil {
		return
	}
	id := link.NeighborID(dev.Path)
	l.mu.Lock()
	l.neighbors[id] = &neighborConn{devicePath: dev.Path, txChar: txChar, rssi: dev.Properties.RSSI}
	l.mu.Unlock()
}

// ConnectedNeighbors returns the currently attached neighbor set.
func (l *Link) ConnectedNeighbors() []link.NeighborID {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]link.NeighborID, 0, len(l.neighbors))
	for id := range l.neighbors {
		out = append(out, id)
	}
	return out
}

// Send writes raw to the given neighbor's RX characteristic.
func (l *Link) Send(to link.NeighborID, raw []byte) error {
	if len(raw) > link.MaxFrameSize {
		return fmt.Errorf("blelink: frame of %d bytes exceeds MaxFrameSize %d", len(raw), link.MaxFrameSize)
	}
	l.mu.Lock()
	n, ok := l.neighbors[to]
	l.mu.Unlock()
	if !ok {
		return link.ErrLink
	}
	if err := n.txChar.WriteValue(raw, nil); err != nil {
		return fmt.Errorf("%w: %v", link.ErrLink, err)
	}
	return nil
}

// OnFrame registers the inbound frame callback.
func (l *Link) OnFrame(cb link.FrameCallback) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cb = cb
}

// Close stops discovery/advertising and releases the adapter.
func (l *Link) Close() error {
	l.cancel()
	l.wg.Wait()
	if l.app != nil {
		l.app.Close()
	}
	return l.a.StopDiscovery()
}

var _ link.Layer = (*Link)(nil)
