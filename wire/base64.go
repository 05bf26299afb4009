package wire

import (
	"encoding/base64"
	"fmt"
)

// encoding is base64url with no padding, the format configuration keys
// are stored in.
var encoding = base64.RawURLEncoding

// EncodeKey renders key as base64url-no-pad.
func EncodeKey(key []byte) string { return encoding.EncodeToString(key) }

// DecodeKey parses base64url-no-pad into exactly n bytes, erroring on any
// length mismatch rather than silently truncating or zero-padding.
func DecodeKey(s string, n int) ([]byte, error) {
	b, err := encoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != n {
		return nil, fmt.Errorf("wire: decoded key is %d bytes, want %d", len(b), n)
	}
	return b, nil
}
