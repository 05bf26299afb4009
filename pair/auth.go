package pair

import (
	"fmt"

	"golang.org/x/crypto/poly1305"
)

// sealAuth appends a one-time-authenticator tag over buf, keyed by tx. Each
// pairing session uses tx/rx exactly once, satisfying Poly1305's one-time
// key requirement the same way libsodium's onetimeauth binding does.
func sealAuth(buf []byte, tx [32]byte) []byte {
	var tag [16]byte
	poly1305.Sum(&tag, buf, &tx)
	return append(append([]byte{}, buf...), tag[:]...)
}

// openAuth verifies and strips a one-time-authenticator tag produced by
// sealAuth, keyed by rx.
func openAuth(buf []byte, rx [32]byte) ([]byte, error) {
	if len(buf) < poly1305.TagSize {
		return nil, fmt.Errorf("pair: authenticated message too short")
	}
	body := buf[:len(buf)-poly1305.TagSize]
	var tag [16]byte
	copy(tag[:], buf[len(buf)-poly1305.TagSize:])
	if !poly1305.Verify(&tag, body, &rx) {
		return nil, fmt.Errorf("pair: failed to verify message authenticity")
	}
	return body, nil
}
