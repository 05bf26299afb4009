package config

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/box"

	"github.com/entangled-hid/entangle/wire"
)

// Generate creates a fresh long-term identity keypair and an empty peer
// list, the operation the pairing tool performs on first run when no
// config file exists yet.
func Generate() (*Config, error) {
	pub, sec, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("config: generate keypair: %w", err)
	}
	var secretField [secretKeyBytes]byte
	copy(secretField[:32], sec[:])
	copy(secretField[32:], pub[:])

	return &Config{
		Public: wire.EncodeKey(pub[:]),
		Secret: wire.EncodeKey(secretField[:]),
		Peers:  nil,
	}, nil
}
