package abuse

import "crypto/sha256"

// deviceFingerprintSalt is a fixed, non-secret salt mixed into every
// device fingerprint so fingerprints are not directly comparable to a
// bare hash of host identifiers (spec §6).
const deviceFingerprintSalt = "meshcore-device-fingerprint-v1"

// DeviceInfo names the stable host identifiers the device fingerprint is
// derived from. Populating these is platform-specific (machine-id on
// Linux, IDFV on iOS, ANDROID_ID-derived value on Android); the gate only
// consumes the already-collected strings.
type DeviceInfo struct {
	StableID    string // platform-stable device identifier
	Model       string
	Brand       string
	Board       string
	OSBuild     string
	DisplayGeom string
}

// DeviceFingerprint derives the stable local identity used to key mute
// persistence: SHA-256 over the concatenation of every DeviceInfo field
// plus a fixed salt (spec §6). Used only locally; never transmitted.
func DeviceFingerprint(info DeviceInfo) [32]byte {
	h := sha256.New()
	h.Write([]byte(info.StableID))
	h.Write([]byte(info.Model))
	h.Write([]byte(info.Brand))
	h.Write([]byte(info.Board))
	h.Write([]byte(info.OSBuild))
	h.Write([]byte(info.DisplayGeom))
	h.Write([]byte(deviceFingerprintSalt))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
