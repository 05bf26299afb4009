// Package config loads and saves the TOML configuration file shared by the
// entangled daemon and the entangle-pair tool: a peer's own long-term
// identity keypair plus the allow-list of authorized peers.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/entangled-hid/entangle/wire"
)

const (
	publicKeyBytes = 32
	// secretKeyBytes is 64 bytes on the wire: the 32-byte box secret scalar
	// followed by the matching 32-byte public key, the byte count the format
	// documents. Only the first 32 bytes are read back; the trailing half is
	// not checked against the public key.
	secretKeyBytes = 64

	// FileMode is the permission bits the config file is written with;
	// it holds a long-term secret key so group/other access is refused.
	FileMode = 0o600
)

// Peer is one entry in the authorized peer list: a long-term public key and
// an optional address the client uses to locate the server.
type Peer struct {
	Addr   string `toml:"addr,omitempty"`
	Public string `toml:"public"`
}

// PublicKey decodes the peer's base64url-no-pad public key.
func (p Peer) PublicKey() ([32]byte, error) {
	return decodeKey32(p.Public)
}

// Config is the on-disk TOML document: this peer's own identity and the
// set of peers it is willing to talk to.
type Config struct {
	Public string `toml:"public"`
	Secret string `toml:"secret"`
	Peers  []Peer `toml:"peers"`
}

// PublicKey decodes this peer's own long-term public key.
func (c Config) PublicKey() ([32]byte, error) {
	return decodeKey32(c.Public)
}

// SecretKey decodes this peer's own long-term secret key, returning only
// the 32-byte scalar (the trailing public-key half is not re-derived here).
func (c Config) SecretKey() ([32]byte, error) {
	b, err := wire.DecodeKey(c.Secret, secretKeyBytes)
	if err != nil {
		return [32]byte{}, fmt.Errorf("config: secret key: %w", err)
	}
	var out [32]byte
	copy(out[:], b[:32])
	return out, nil
}

func decodeKey32(s string) ([32]byte, error) {
	b, err := wire.DecodeKey(s, publicKeyBytes)
	if err != nil {
		return [32]byte{}, fmt.Errorf("config: public key: %w", err)
	}
	var out [32]byte
	copy(out[:], b)
	return out, nil
}

// Load reads and parses the config file at path.
func Load(path string) (*Config, error) {
	var c Config
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	return &c, nil
}

// Save writes c to path as TOML with FileMode permissions, truncating any
// existing file.
func Save(c *Config, path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, FileMode)
	if err != nil {
		return fmt.Errorf("config: save %s: %w", path, err)
	}
	defer f.Close()
	if err := os.Chmod(path, FileMode); err != nil {
		return fmt.Errorf("config: chmod %s: %w", path, err)
	}
	enc := toml.NewEncoder(f)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("config: encode %s: %w", path, err)
	}
	return nil
}

// AddPeer appends a peer entry and rewrites the file at path with FileMode
// permissions, the operation the pairing tool performs on success.
func AddPeer(path string, peer Peer) error {
	c, err := Load(path)
	if err != nil {
		return err
	}
	c.Peers = append(c.Peers, peer)
	return Save(c, path)
}
