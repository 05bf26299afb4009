// Package cdgram implements the authenticated, encrypted datagram
// transport that carries the application protocol between an entangle
// daemon and its peers: a two-round public-key handshake against a
// server-side allow-list, followed by AEAD-framed payload delivery.
package cdgram

import "errors"

// Error kinds named in the protocol design. Wrap one of these with
// fmt.Errorf("...: %w", ...) to add context; callers should match with
// errors.Is.
var (
	// ErrMalformedPacket is returned when a handshake or payload packet
	// has the wrong length or structure for the step it arrived at.
	ErrMalformedPacket = errors.New("cdgram: malformed packet")

	// ErrAuthFailure covers AEAD open failures, challenge mismatches, and
	// sealed-box open failures during the handshake.
	ErrAuthFailure = errors.New("cdgram: authentication failed")

	// ErrNotConnected is returned by client operations attempted before a
	// handshake has completed.
	ErrNotConnected = errors.New("cdgram: client not connected yet")

	// ErrHandshakeInProgress is returned when Server.Send targets a peer
	// whose handshake hasn't completed yet.
	ErrHandshakeInProgress = errors.New("cdgram: handshake in progress")

	// ErrUnknownClient is returned by Server.Send for an address with no
	// auth state (never handshaked, or already closed).
	ErrUnknownClient = errors.New("cdgram: unknown client")

	// ErrResolveFailure is returned when address resolution yields no
	// usable result.
	ErrResolveFailure = errors.New("cdgram: failed to resolve address")

	// errAborted is internal: it unwinds a handshake coroutine whose
	// Turnable was aborted (the peer's auth state was closed mid-handshake)
	// rather than failed or completed normally. It never reaches a caller.
	errAborted = errors.New("cdgram: handshake aborted")
)
