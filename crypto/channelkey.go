package crypto

import "golang.org/x/crypto/argon2"

// Argon2id parameters for channel key derivation (spec §4.7): memory cost
// at least 64 MiB, at least 3 iterations, single-threaded, 32-byte output.
const (
	argonMemoryKiB  = 64 * 1024
	argonIterations = 3
	argonParallel   = 1
	argonKeyLen     = 32
)

// DeriveChannelKey derives a symmetric channel key from a user-chosen
// password, salted with the channel name itself so that the same
// password used on two differently-named channels yields unrelated keys.
func DeriveChannelKey(password, channelName string) [32]byte {
	raw := argon2.IDKey([]byte(password), []byte(channelName), argonIterations, argonMemoryKiB, argonParallel, argonKeyLen)
	var key [32]byte
	copy(key[:], raw)
	return key
}
