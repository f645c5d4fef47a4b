// Package mesh is the MeshService facade: the single composition root
// wiring FrameCodec, PeerTable, PeerActor, AntiAbuseGate, Router,
// CryptoCore/SessionManager, StoreAndForward, and LinkLayer into the
// public surface external collaborators consume. Grounded on
// device/device.go's Device struct as the top-level composition root
// (grouped-struct field layout, one constructor, explicit Up/Down
// lifecycle) and on Design Notes §9's preference for a single tagged
// event enum over the teacher's callback-heavy uapi.go/webui.go surface.
package mesh

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/bitmesh/meshcore/abuse"
	"github.com/bitmesh/meshcore/crypto"
	"github.com/bitmesh/meshcore/internal/clock"
	"github.com/bitmesh/meshcore/internal/identitystore"
	"github.com/bitmesh/meshcore/internal/ratelimiter"
	"github.com/bitmesh/meshcore/link"
	"github.com/bitmesh/meshcore/peer"
	"github.com/bitmesh/meshcore/peeractor"
	"github.com/bitmesh/meshcore/router"
	"github.com/bitmesh/meshcore/sessionmgr"
	"github.com/bitmesh/meshcore/storeforward"
	"github.com/bitmesh/meshcore/wire"
)

// ErrNotStarted is returned by send operations invoked before Start.
var ErrNotStarted = errors.New("mesh: service not started")

// Config holds the operator-supplied parameters of a Service, the
// MeshService equivalent of the teacher's device.Config passed to
// IpcSetOperation, reduced to what this facade actually needs at
// construction time.
type Config struct {
	Nickname         string
	DeviceInfo       abuse.DeviceInfo
	ChannelPasswords map[string]string // channel name -> password, for decrypting/encrypting channel traffic
	Logger           *logrus.Logger    // optional; a default is created if nil
	MuteKV           abuse.KVStore     // optional; a fresh in-memory store is used if nil. Inject a
	// persistent KVStore so mutes (spec §6 persisted state) survive a process restart.
}

// Service is the MeshService facade (spec §6).
type Service struct {
	cfg   Config
	link  link.Layer
	clock clock.Clock
	log   *logrus.Logger

	identity *identitystore.Store

	mu       sync.RWMutex
	selfID   peer.Id
	nickname string
	started  bool

	codec *wire.Codec

	peers     *peer.Table
	dedup     *router.DedupSet
	rt        *router.Router
	sessions  *sessionmgr.Manager
	store     *storeforward.Store
	gate      *abuse.Gate
	mutes     *abuse.MuteStore
	limiter   *ratelimiter.Limiter
	actors    *peeractor.Registry

	reassemblersMu sync.Mutex
	reassemblers   map[peer.Id]*wire.Reassembler

	neighborsMu    sync.RWMutex
	peerNeighbor   map[peer.Id]link.NeighborID

	channelKeysMu sync.Mutex
	channelKeys   map[string][32]byte

	favoritesMu sync.Mutex
	favorites   map[crypto.Fingerprint]bool

	deviceFPHex string

	events chan Event

	done chan struct{}
	wg   sync.WaitGroup
}

// New constructs a Service. The identity store and link layer are
// injected singletons, per Design Notes §9: no package-level global
// state anywhere in the module.
func New(cfg Config, l link.Layer, identity *identitystore.Store, clk clock.Clock) *Service {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	kv := cfg.MuteKV
	if kv == nil {
		kv = abuse.NewMemKVStore()
	}
	mutes := abuse.NewMuteStore(kv)
	deviceFP := abuse.DeviceFingerprint(cfg.DeviceInfo)

	s := &Service{
		cfg:          cfg,
		link:         l,
		clock:        clk,
		log:          cfg.Logger,
		identity:     identity,
		nickname:     cfg.Nickname,
		codec:        wire.NewCodec(),
		gate:         abuse.New(clk, mutes),
		mutes:        mutes,
		limiter:      ratelimiter.New(clk),
		reassemblers: make(map[peer.Id]*wire.Reassembler),
		peerNeighbor: make(map[peer.Id]link.NeighborID),
		channelKeys:  make(map[string][32]byte),
		favorites:    make(map[crypto.Fingerprint]bool),
		deviceFPHex:  fmt.Sprintf("%x", deviceFP),
		events:       make(chan Event, 256),
		done:         make(chan struct{}),
	}

	s.peers = peer.New(clk, s.onPeerIdle)
	s.dedup = router.NewDedupSet(clk)
	s.rt = router.New(s.dedup, s.peers, selfLookup{s})
	s.store = storeforward.New(clk)
	s.sessions = sessionmgr.New(identity.Identity(), clk, s.peers, s.store, transportAdapter{s})
	s.actors = peeractor.NewRegistry(s.handleInbound, s.onActorDrop)

	return s
}

type selfLookup struct{ s *Service }

func (sl selfLookup) IsSelf(id peer.Id) bool {
	sl.s.mu.RLock()
	defer sl.s.mu.RUnlock()
	return sl.s.started && id == sl.s.selfID
}

// Start generates this run's ephemeral PeerId, wires the link callback,
// begins scanning/advertising, and starts the background sweepers.
func (s *Service) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	var id peer.Id
	if _, err := rand.Read(id[:]); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("mesh: generating peer id: %w", err)
	}
	s.selfID = id
	s.started = true
	s.mu.Unlock()

	s.link.OnFrame(s.onLinkFrame)
	if err := s.link.ScanAndAdvertise(); err != nil {
		return fmt.Errorf("mesh: scan/advertise: %w", err)
	}

	s.wg.Add(2)
	go func() { defer s.wg.Done(); s.peers.Run(s.done) }()
	go func() { defer s.wg.Done(); s.store.Run(s.done) }()

	s.log.WithField("peer_id", fmt.Sprintf("%x", s.selfID)).Info("mesh service started")
	return nil
}

// Stop releases link resources and halts background workers.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()
	s.actors.Shutdown()
	s.limiter.Close()
	return s.link.Close()
}

// MyPeerID returns this run's ephemeral PeerId.
func (s *Service) MyPeerID() peer.Id {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selfID
}

// SetNickname updates the nickname advertised in subsequent ANNOUNCE frames.
func (s *Service) SetNickname(n string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nickname = n
}

func (s *Service) nowMillis() uint64 {
	return uint64(s.clock.Now().UnixMilli())
}

func (s *Service) onPeerIdle(rec *peer.Record) {
	s.sessions.Teardown(rec.Id)
	s.actors.Terminate(rec.Id)
	s.emit(Event{Kind: PeerLost, From: rec.Id, Fingerprint: rec.Fingerprint, HasFingerprint: rec.HasFingerprint})
}

func (s *Service) onActorDrop(id peer.Id, dropped int) {
	s.log.WithFields(logrus.Fields{"peer": fmt.Sprintf("%x", id), "dropped": dropped}).
		Warn("peer actor queue overflow, dropping oldest frames")
}
