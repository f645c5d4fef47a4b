// Package ratelimiter implements a token-bucket packet-admission filter
// keyed by link-layer peer.Id instead of a netip.Addr, sitting ahead of
// abuse.Gate as ingress pacing against raw link-layer flood (not content
// abuse, which is Gate's job). Grounded on ratelimiter/ratelimiter.go's
// token-bucket-plus-background-GC shape, generalized to accept an
// injected clock.Clock instead of a bare timeNow func so it can share a
// fake clock with the rest of a test's mesh.Service.
package ratelimiter

import (
	"sync"
	"time"

	"github.com/bitmesh/meshcore/internal/clock"
	"github.com/bitmesh/meshcore/peer"
)

const (
	packetsPerSecond   = 20
	packetsBurstable   = 5
	garbageCollectTime = time.Second
	packetCost         = int64(time.Second) / packetsPerSecond
	maxTokens          = packetCost * packetsBurstable
)

type entry struct {
	mu       sync.Mutex
	lastTime time.Time
	tokens   int64
}

// Limiter bounds the rate of inbound link-layer frames accepted per
// peer.Id before they ever reach Router or abuse.Gate.
type Limiter struct {
	mu    sync.RWMutex
	clock clock.Clock
	table map[peer.Id]*entry

	stopGC chan struct{}
}

// New returns a Limiter and starts its background garbage collector,
// which must be stopped with Close.
func New(clk clock.Clock) *Limiter {
	l := &Limiter{
		clock:  clk,
		table:  make(map[peer.Id]*entry),
		stopGC: make(chan struct{}),
	}
	go l.gcLoop()
	return l
}

// Close stops the garbage-collection goroutine.
func (l *Limiter) Close() {
	close(l.stopGC)
}

func (l *Limiter) gcLoop() {
	ticker := l.clock.NewTicker(garbageCollectTime)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopGC:
			return
		case <-ticker.C():
			l.cleanup()
		}
	}
}

func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	for key, e := range l.table {
		e.mu.Lock()
		stale := now.Sub(e.lastTime) > garbageCollectTime
		e.mu.Unlock()
		if stale {
			delete(l.table, key)
		}
	}
}

// Allow reports whether a frame from id may be admitted, consuming one
// packetCost worth of tokens from id's bucket.
func (l *Limiter) Allow(id peer.Id) bool {
	l.mu.RLock()
	e := l.table[id]
	l.mu.RUnlock()

	now := l.clock.Now()

	if e == nil {
		e = &entry{tokens: maxTokens - packetCost, lastTime: now}
		l.mu.Lock()
		l.table[id] = e
		l.mu.Unlock()
		return true
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.tokens += now.Sub(e.lastTime).Nanoseconds()
	e.lastTime = now
	if e.tokens > maxTokens {
		e.tokens = maxTokens
	}
	if e.tokens > packetCost {
		e.tokens -= packetCost
		return true
	}
	return false
}
