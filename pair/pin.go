// Package pair implements the out-of-band pairing handshake: a
// short-lived, PIN-verified key exchange that lets two peers bootstrap
// trust and exchange long-term CDGram public keys without a pre-shared
// secret. It is a separate, simpler protocol from CDGram itself — the
// session keys it derives authenticate only the public-key exchange, and
// are discarded once pairing completes.
package pair

import (
	"encoding/binary"

	"golang.org/x/crypto/argon2"
)

// saltBytes matches libsodium's argon2id13 SALTBYTES; sessionKeyBytes (32)
// from crypto_kx is always large enough to carve a salt out of.
const saltBytes = 16

// argon2id interactive limits, matching libsodium's
// OPSLIMIT_INTERACTIVE/MEMLIMIT_INTERACTIVE (2 passes, 64 MiB, single lane).
const (
	argon2Time    = 2
	argon2MemKiB  = 64 * 1024
	argon2Threads = 1
	argon2KeyLen  = 32
)

// derivePIN computes the 8-decimal-digit PIN both sides display for manual
// verification. a and b must be passed in the mirrored order described in
// spec.md: the initiator uses (tx, rx), the acceptor uses (rx, tx) — so
// that both parties hash the same key material in the same position.
func derivePIN(a, b [32]byte) uint32 {
	salt := b[:saltBytes]
	key := argon2.IDKey(a[:], salt, argon2Time, argon2MemKiB, argon2Threads, argon2KeyLen)
	n := binary.LittleEndian.Uint32(key[:4])
	return n % 100_000_000
}
