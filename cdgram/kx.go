package cdgram

import (
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/curve25519"
)

// Scalarmult computes an X25519 shared secret. Exported for packages that
// perform their own ephemeral key exchanges; pair reaches the same primitive
// through ServerSessionKeys/ClientSessionKeys.
func Scalarmult(sk, pk *[32]byte) ([32]byte, error) {
	return scalarmult(sk, pk)
}

// scalarmult computes an X25519 shared secret.
func scalarmult(sk, pk *[32]byte) ([32]byte, error) {
	var q [32]byte
	out, err := curve25519.X25519(sk[:], pk[:])
	if err != nil {
		return q, err
	}
	copy(q[:], out)
	return q, nil
}

// deriveSessionKeys turns an X25519 shared secret into a directional
// (rx, tx) pair, the way libsodium's crypto_kx does: BLAKE2b-512 keyed by
// the shared secret, over clientPK||serverPK, with the two halves of the
// digest assigned to rx/tx oppositely on each side so that one party's tx
// equals the other's rx.
func deriveSessionKeys(q, clientPK, serverPK [32]byte, forServer bool) (rx, tx [32]byte, err error) {
	h, err := blake2b.New512(q[:])
	if err != nil {
		return rx, tx, err
	}
	h.Write(clientPK[:])
	h.Write(serverPK[:])
	sum := h.Sum(nil)
	if forServer {
		copy(tx[:], sum[0:32])
		copy(rx[:], sum[32:64])
	} else {
		copy(rx[:], sum[0:32])
		copy(tx[:], sum[32:64])
	}
	return rx, tx, nil
}

func serverSessionKeys(serverSK, serverPK, clientPK *[32]byte) (rx, tx [32]byte, err error) {
	return ServerSessionKeys(serverSK, serverPK, clientPK)
}

func clientSessionKeys(clientSK, clientPK, serverPK *[32]byte) (rx, tx [32]byte, err error) {
	return ClientSessionKeys(clientSK, clientPK, serverPK)
}

// ServerSessionKeys derives the responder-side (rx, tx) session key pair
// from an ephemeral or long-term X25519 keypair and the initiator's public
// key. Exported for reuse by the pairing handshake, which runs its own
// independent kx exchange with ephemeral keys.
func ServerSessionKeys(serverSK, serverPK, clientPK *[32]byte) (rx, tx [32]byte, err error) {
	q, err := scalarmult(serverSK, clientPK)
	if err != nil {
		return rx, tx, err
	}
	return deriveSessionKeys(q, *clientPK, *serverPK, true)
}

// ClientSessionKeys derives the initiator-side (rx, tx) session key pair.
func ClientSessionKeys(clientSK, clientPK, serverPK *[32]byte) (rx, tx [32]byte, err error) {
	q, err := scalarmult(clientSK, serverPK)
	if err != nil {
		return rx, tx, err
	}
	return deriveSessionKeys(q, *clientPK, *serverPK, false)
}
