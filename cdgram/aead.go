package cdgram

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// newAEAD wraps a session key as the AEAD used for payload framing:
// XChaCha20-Poly1305, a 24-byte random nonce, no associated data.
func newAEAD(key [32]byte) (cipher.AEAD, error) {
	return chacha20poly1305.NewX(key[:])
}

// sealPacket produces nonce || AEAD_seal(plaintext). The nonce is fresh
// random per call; there is no sequence counter, so replay resistance
// relies entirely on the birthday bound of 24-byte random nonces.
func sealPacket(aead cipher.AEAD, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// openPacket reverses sealPacket, requiring at least a nonce and a MAC's
// worth of bytes.
func openPacket(aead cipher.AEAD, packet []byte) ([]byte, error) {
	ns := aead.NonceSize()
	if len(packet) < ns+aead.Overhead() {
		return nil, fmt.Errorf("%w: short payload packet", ErrMalformedPacket)
	}
	nonce, ciphertext := packet[:ns], packet[ns:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthFailure, err)
	}
	return plaintext, nil
}
