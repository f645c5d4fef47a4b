package crypto

import "errors"

// Error taxonomy for CryptoCore (spec §7). Handshake/AEAD errors are
// contained inside this package and surfaced to callers only as one of
// these sentinels; the caller (SessionManager/PeerActor) decides whether
// to close, poison, or silently drop.
var (
	ErrHandshakeFailed  = errors.New("crypto: handshake failed")
	ErrSignatureInvalid = errors.New("crypto: signature verification failed")
	ErrAEAD             = errors.New("crypto: AEAD open failed")
	ErrReplay           = errors.New("crypto: replay detected")
	ErrNonceExhaustion  = errors.New("crypto: nonce space exhausted, rekey required")
	ErrSessionClosed    = errors.New("crypto: session closed")
	ErrSessionPoisoned  = errors.New("crypto: session poisoned, new handshake required")
	ErrWrongStep        = errors.New("crypto: handshake message received out of order")
)
