package mesh

import (
	"time"

	"github.com/bitmesh/meshcore/crypto"
)

// Mute records a manual, operator-initiated mute of fpHex (spec §6
// persisted state) for dur, independent of the AntiAbuseGate's own
// graduated-mute scoring. Durable if Config.MuteKV is backed by
// persistent storage.
func (s *Service) Mute(fpHex, reason string, dur time.Duration) error {
	return s.mutes.Put(fpHex, s.clock.Now().Add(dur), s.deviceFPHex, reason)
}

// AddFavorite marks fp as a favorite, part of the persisted state spec §6
// names alongside the identity keyfile and mute records.
func (s *Service) AddFavorite(fp crypto.Fingerprint) {
	s.favoritesMu.Lock()
	defer s.favoritesMu.Unlock()
	s.favorites[fp] = true
}

// RemoveFavorite clears fp's favorite marking.
func (s *Service) RemoveFavorite(fp crypto.Fingerprint) {
	s.favoritesMu.Lock()
	defer s.favoritesMu.Unlock()
	delete(s.favorites, fp)
}

// IsFavorite reports whether fp is currently marked as a favorite.
func (s *Service) IsFavorite(fp crypto.Fingerprint) bool {
	s.favoritesMu.Lock()
	defer s.favoritesMu.Unlock()
	return s.favorites[fp]
}

// Favorites returns a snapshot of all favorited fingerprints.
func (s *Service) Favorites() []crypto.Fingerprint {
	s.favoritesMu.Lock()
	defer s.favoritesMu.Unlock()
	out := make([]crypto.Fingerprint, 0, len(s.favorites))
	for fp := range s.favorites {
		out = append(out, fp)
	}
	return out
}
