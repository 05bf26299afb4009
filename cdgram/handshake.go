package cdgram

import (
	"bytes"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

// Packet sizes from the handshake design. BOXPK/KXPK share the X25519
// point format, so both happen to be 32 bytes.
const (
	boxPublicKeyBytes = 32
	kxPublicKeyBytes  = 32
	nonceBytes        = 24
	macBytes          = 16
	challengeBytes    = 32

	packet1Len = boxPublicKeyBytes + kxPublicKeyBytes + challengeBytes
	packet2Len = challengeBytes + kxPublicKeyBytes + nonceBytes + challengeBytes + macBytes
	packet3Len = nonceBytes + challengeBytes + macBytes
)

// sessionKeys is the directional AEAD key pair produced by a completed
// handshake. rx on one side equals tx on the other, for the same peer.
type sessionKeys struct {
	rx [32]byte
	tx [32]byte
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// serverHandshake is the coroutine body run by CDGramServer for each new
// remote address. It is started with Yield(nil) already consumed by the
// caller (Turnable.Start runs the body until the first suspension, which
// is exactly this first yield_(None) point), then turned with packet 1
// and packet 3 in sequence.
func serverHandshake(ourSecret *[32]byte, y *Yielder[[]byte, []byte]) (sessionKeys, error) {
	// First packet: client_box_pk || client_kx_pk || client_challenge.
	pkt, ok := y.Yield(nil)
	if !ok {
		return sessionKeys{}, errAborted
	}
	if len(pkt) != packet1Len {
		return sessionKeys{}, fmt.Errorf("%w: initial handshake packet", ErrMalformedPacket)
	}
	var clientBoxPK, clientKXPK [32]byte
	copy(clientBoxPK[:], pkt[0:boxPublicKeyBytes])
	copy(clientKXPK[:], pkt[boxPublicKeyBytes:boxPublicKeyBytes+kxPublicKeyBytes])
	clientChallenge := append([]byte(nil), pkt[boxPublicKeyBytes+kxPublicKeyBytes:]...)

	var nonceA [24]byte
	if _, err := rand.Read(nonceA[:]); err != nil {
		return sessionKeys{}, err
	}
	response := box.Seal(nil, clientChallenge, &nonceA, &clientBoxPK, ourSecret)

	serverKXPK, serverKXSK, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return sessionKeys{}, err
	}
	serverChallenge, err := randomBytes(challengeBytes)
	if err != nil {
		return sessionKeys{}, err
	}

	// Second packet (our reply): server_challenge || server_kx_pk ||
	// nonce_A || box_seal(client_challenge, nonce_A, client_box_pk, our_sk).
	send := make([]byte, 0, packet2Len)
	send = append(send, serverChallenge...)
	send = append(send, serverKXPK[:]...)
	send = append(send, nonceA[:]...)
	send = append(send, response...)

	// Third packet: nonce_B || box_seal(server_challenge, nonce_B, server_box_pk, client_sk).
	pkt, ok = y.Yield(send)
	if !ok {
		return sessionKeys{}, errAborted
	}
	if len(pkt) != packet3Len {
		return sessionKeys{}, fmt.Errorf("%w: handshake finish packet", ErrMalformedPacket)
	}
	var nonceB [24]byte
	copy(nonceB[:], pkt[0:nonceBytes])
	opened, openOK := box.Open(nil, pkt[nonceBytes:], &nonceB, &clientBoxPK, ourSecret)
	if !openOK {
		return sessionKeys{}, fmt.Errorf("%w: client failed challenge", ErrAuthFailure)
	}
	if !bytes.Equal(opened, serverChallenge) {
		return sessionKeys{}, fmt.Errorf("%w: client response doesn't match the challenge", ErrAuthFailure)
	}

	rx, tx, err := serverSessionKeys(serverKXSK, serverKXPK, &clientKXPK)
	if err != nil {
		return sessionKeys{}, fmt.Errorf("failed to derive session keys: %w", err)
	}
	return sessionKeys{rx: rx, tx: tx}, nil
}
