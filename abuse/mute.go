package abuse

import (
	"encoding/json"
	"time"
)

// muteKeyReplicas is how many distinct storage keys each mute record is
// written under (spec §4.8: "replicated across several distinct storage
// keys so that clearing one does not clear all").
const muteKeyReplicas = 4

var muteKeyPrefixes = [muteKeyReplicas]string{
	"meshcore.mute.primary.",
	"meshcore.mute.shadow1.",
	"meshcore.mute.shadow2.",
	"meshcore.mute.shadow3.",
}

// KVStore is the minimal persistence interface mute records are written
// through; production wiring points this at on-disk or OS-keychain
// storage, tests use an in-memory map.
type KVStore interface {
	Set(key string, value []byte) error
	Get(key string) ([]byte, bool, error)
	Delete(key string) error
}

// MemKVStore is an in-memory KVStore, sufficient for tests and for a
// single-process demo.
type MemKVStore struct {
	data map[string][]byte
}

// NewMemKVStore returns an empty MemKVStore.
func NewMemKVStore() *MemKVStore {
	return &MemKVStore{data: make(map[string][]byte)}
}

func (m *MemKVStore) Set(key string, value []byte) error {
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemKVStore) Get(key string) ([]byte, bool, error) {
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemKVStore) Delete(key string) error {
	delete(m.data, key)
	return nil
}

// muteRecord is the persisted shape: fingerprint -> (mute_until_ms,
// salted_device_fp_hash, reason) per spec §6.
type muteRecord struct {
	MuteUntilMs  int64  `json:"mute_until_ms"`
	DeviceFPHash string `json:"salted_device_fp_hash"`
	Reason       string `json:"reason"`
}

// MuteStore persists mute records keyed by a fingerprint hex string,
// replicated across muteKeyReplicas distinct keys.
type MuteStore struct {
	kv KVStore
}

// NewMuteStore wraps kv.
func NewMuteStore(kv KVStore) *MuteStore {
	return &MuteStore{kv: kv}
}

func muteKeys(fpHex string) [muteKeyReplicas]string {
	var out [muteKeyReplicas]string
	for i, prefix := range muteKeyPrefixes {
		out[i] = prefix + fpHex
	}
	return out
}

// Put writes a mute record under every replica key.
func (s *MuteStore) Put(fpHex string, until time.Time, deviceFPHash, reason string) error {
	rec := muteRecord{MuteUntilMs: until.UnixMilli(), DeviceFPHash: deviceFPHash, Reason: reason}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	var firstErr error
	for _, key := range muteKeys(fpHex) {
		if err := s.kv.Set(key, raw); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Get reads the mute record for fpHex, trying each replica key in order
// until one succeeds, so clearing a subset of keys doesn't defeat the
// mute.
func (s *MuteStore) Get(fpHex string) (until time.Time, reason string, ok bool) {
	for _, key := range muteKeys(fpHex) {
		raw, found, err := s.kv.Get(key)
		if err != nil || !found {
			continue
		}
		var rec muteRecord
		if json.Unmarshal(raw, &rec) != nil {
			continue
		}
		return time.UnixMilli(rec.MuteUntilMs), rec.Reason, true
	}
	return time.Time{}, "", false
}

// Clear removes every replica key for fpHex.
func (s *MuteStore) Clear(fpHex string) {
	for _, key := range muteKeys(fpHex) {
		s.kv.Delete(key)
	}
}
