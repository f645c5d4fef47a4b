// Package abuse implements AntiAbuseGate: sliding-window rate limiting,
// rapid-fire/duplicate/content-heuristic scoring, a decaying trust score,
// graduated muting, and device-fingerprint-keyed mute persistence.
// Grounded on ratelimiter/ratelimiter.go's per-key-entry-plus-background-GC
// shape, adapted from a token bucket into sliding counters because spec
// §4.8 specifies fixed per-minute budgets rather than burst/refill.
package abuse

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/bitmesh/meshcore/internal/clock"
)

const (
	windowDuration   = 60 * time.Second
	newPeerBudget    = 10
	trustedBudget    = 30
	trustThreshold   = 0.8 // trust score at/above this uses the trusted budget

	rapidFireWindow = 10 * time.Second
	rapidFireLimit  = 6

	recentMessageDepth = 15
	exactDupThreshold  = 3
	nearDupThreshold   = 3
	jaccardCutoff      = 0.8

	trustStart = 0.5
	trustMax   = 1.0
	trustGain  = 0.02

	warningsBeforeMute = 3
	shortMuteDuration  = 30 * time.Minute
	longMuteDuration   = 12 * time.Hour
)

type recentMessage struct {
	at   time.Time
	hash string
	text string
}

type peerState struct {
	trust       float64
	windowStart time.Time
	windowCount int

	rapidFire []time.Time
	recent    []recentMessage

	warnings  int
	muteCount int
}

// Gate is the AntiAbuseGate.
type Gate struct {
	mu       sync.Mutex
	states   map[string]*peerState
	clock    clock.Clock
	patterns []Pattern
	mutes    *MuteStore
}

// New returns a Gate backed by mutes for mute persistence.
func New(clk clock.Clock, mutes *MuteStore) *Gate {
	return &Gate{
		states:   make(map[string]*peerState),
		clock:    clk,
		patterns: defaultPatterns,
		mutes:    mutes,
	}
}

func (g *Gate) stateFor(key string) *peerState {
	s, ok := g.states[key]
	if !ok {
		s = &peerState{trust: trustStart}
		g.states[key] = s
	}
	return s
}

// CheckInbound evaluates one inbound message from the peer identified by
// fpHex (hex-encoded Fingerprint). It returns allowed=false when the
// frame should be silently dropped (spec §4.8: "Gate rejections are
// silent at the wire level").
func (g *Gate) CheckInbound(fpHex string, content []byte) (allowed bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()

	if until, _, muted := g.mutes.Get(fpHex); muted && now.Before(until) {
		return false
	}

	s := g.stateFor(fpHex)
	g.rollWindow(s, now)

	budget := newPeerBudget
	if s.trust >= trustThreshold {
		budget = trustedBudget
	}
	s.windowCount++
	if s.windowCount > budget {
		g.recordViolation(fpHex, s, SeverityMedium, "rate-limit-exceeded")
		return false
	}

	g.recordRapidFire(s, now)
	if len(s.rapidFire) > rapidFireLimit {
		g.recordViolation(fpHex, s, SeverityMedium, "rapid-fire")
		return false
	}

	text := string(content)
	if g.isDuplicate(s, text) {
		blocked := g.recordViolation(fpHex, s, SeverityLow, "duplicate-content")
		g.remember(s, now, text)
		return !blocked
	}

	if sev, matched := scorePatterns(g.patterns, text); matched {
		reason := "content-heuristic"
		blocked := g.recordViolation(fpHex, s, sev, reason)
		g.remember(s, now, text)
		return !blocked
	}

	quality := qualityScore(text)
	if quality < 0.25 {
		g.recordViolation(fpHex, s, SeverityLow, "low-quality-content")
	} else {
		g.cleanGain(s)
	}

	g.remember(s, now, text)
	return true
}

// CheckOutbound evaluates an outbound send from the local device
// identified by deviceFPHex, returning ErrBlocked if currently muted.
func (g *Gate) CheckOutbound(deviceFPHex string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	until, reason, muted := g.mutes.Get(deviceFPHex)
	now := g.clock.Now()
	if muted && now.Before(until) {
		return &ErrBlocked{Reason: reason, Remaining: until.Sub(now)}
	}
	return nil
}

func (g *Gate) rollWindow(s *peerState, now time.Time) {
	if s.windowStart.IsZero() || now.Sub(s.windowStart) >= windowDuration {
		s.windowStart = now
		s.windowCount = 0
	}
}

func (g *Gate) recordRapidFire(s *peerState, now time.Time) {
	cutoff := now.Add(-rapidFireWindow)
	kept := s.rapidFire[:0]
	for _, t := range s.rapidFire {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.rapidFire = append(kept, now)
}

func (g *Gate) isDuplicate(s *peerState, text string) bool {
	exact := 0
	near := 0
	h := contentHash(text)
	for _, m := range s.recent {
		if m.hash == h {
			exact++
		} else if jaccardWordSimilarity(m.text, text) > jaccardCutoff {
			near++
		}
	}
	return exact >= exactDupThreshold || near >= nearDupThreshold
}

func (g *Gate) remember(s *peerState, now time.Time, text string) {
	s.recent = append(s.recent, recentMessage{at: now, hash: contentHash(text), text: text})
	if len(s.recent) > recentMessageDepth {
		s.recent = s.recent[len(s.recent)-recentMessageDepth:]
	}
}

func (g *Gate) cleanGain(s *peerState) {
	s.trust += trustGain
	if s.trust > trustMax {
		s.trust = trustMax
	}
}

// recordViolation applies the trust penalty for sev, tracks warnings, and
// escalates to a mute per the graduated-penalty rule. It returns true if
// this violation resulted in an immediate mute.
func (g *Gate) recordViolation(fpHex string, s *peerState, sev Severity, reason string) (muted bool) {
	s.trust -= sev.trustPenalty()
	if s.trust < 0 {
		s.trust = 0
	}

	if sev == SeverityCritical {
		g.applyMute(fpHex, s, reason)
		return true
	}

	s.warnings++
	if s.warnings >= warningsBeforeMute {
		g.applyMute(fpHex, s, reason)
		return true
	}
	return false
}

func (g *Gate) applyMute(fpHex string, s *peerState, reason string) {
	s.muteCount++
	s.warnings = 0

	duration := shortMuteDuration
	if s.muteCount >= 2 {
		duration = longMuteDuration
	}

	until := g.clock.Now().Add(duration)
	g.mutes.Put(fpHex, until, fpHex, reason)
}

func contentHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Trust returns the current trust score for fpHex, for diagnostics/tests.
func (g *Gate) Trust(fpHex string) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stateFor(fpHex).trust
}
