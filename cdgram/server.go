package cdgram

import (
	"crypto/cipher"
	"fmt"
	"net"
	"sync"

	"github.com/VictoriaMetrics/metrics"
	"github.com/rs/zerolog"
)

// authState is a server-side peer's position in the handshake: either a
// live coroutine (Initiated) or a completed AEAD key pair (Completed).
// Exactly one of the two halves is populated at a time.
type authState struct {
	coroutine *Turnable[[]byte, []byte, sessionKeys]
	rxAEAD    cipher.AEAD
	txAEAD    cipher.AEAD
	completed bool
}

// serverMetrics are optional, nil-safe counters. A CDGramServer built
// without a metrics set (the zero value) simply doesn't record anything.
type serverMetrics struct {
	handshakeStarted   *metrics.Counter
	handshakeCompleted *metrics.Counter
	handshakeFailed    *metrics.Counter
	unauthorized       *metrics.Counter
	openFailed         *metrics.Counter
}

func newServerMetrics(set *metrics.Set) *serverMetrics {
	if set == nil {
		return nil
	}
	return &serverMetrics{
		handshakeStarted:   set.NewCounter(`entangle_cdgram_handshakes_started_total`),
		handshakeCompleted: set.NewCounter(`entangle_cdgram_handshakes_completed_total`),
		handshakeFailed:    set.NewCounter(`entangle_cdgram_handshakes_failed_total`),
		unauthorized:       set.NewCounter(`entangle_cdgram_unauthorized_total`),
		openFailed:         set.NewCounter(`entangle_cdgram_open_failed_total`),
	}
}

func (m *serverMetrics) incHandshakeStarted() {
	if m != nil {
		m.handshakeStarted.Inc()
	}
}

func (m *serverMetrics) incHandshakeCompleted() {
	if m != nil {
		m.handshakeCompleted.Inc()
	}
}

func (m *serverMetrics) incHandshakeFailed() {
	if m != nil {
		m.handshakeFailed.Inc()
	}
}

func (m *serverMetrics) incUnauthorized() {
	if m != nil {
		m.unauthorized.Inc()
	}
}

func (m *serverMetrics) incOpenFailed() {
	if m != nil {
		m.openFailed.Inc()
	}
}

// CDGramServer owns the long-term identity, the authorized-peer
// allow-list, the socket, and the per-address auth state map described
// in the protocol design.
type CDGramServer struct {
	secret     [32]byte
	authorized map[[32]byte]struct{}
	socket     Socket
	logger     zerolog.Logger
	metrics    *serverMetrics

	mu         sync.Mutex
	authStates map[string]*authState
}

// NewCDGramServer constructs a server. metricsSet may be nil to disable
// instrumentation.
func NewCDGramServer(public, secret [32]byte, authorizedKeys [][32]byte, socket Socket, logger zerolog.Logger, metricsSet *metrics.Set) *CDGramServer {
	_ = public // retained for symmetry with the key pair; never transmitted
	authorized := make(map[[32]byte]struct{}, len(authorizedKeys))
	for _, k := range authorizedKeys {
		authorized[k] = struct{}{}
	}
	return &CDGramServer{
		secret:     secret,
		authorized: authorized,
		socket:     socket,
		logger:     logger,
		metrics:    newServerMetrics(metricsSet),
		authStates: make(map[string]*authState),
	}
}

// Recv blocks until an authenticated payload is available, internally
// looping over handshake packets, drops, and demultiplexing.
func (s *CDGramServer) Recv() (net.Addr, []byte, error) {
	for {
		addr, buf, err := s.socket.Recv()
		if err != nil {
			return nil, nil, err
		}

		key := addr.String()
		s.mu.Lock()
		st, exists := s.authStates[key]
		if !exists {
			if len(buf) < boxPublicKeyBytes {
				s.mu.Unlock()
				s.logger.Debug().Str("addr", key).Msg("malformed handshake: packet too short")
				continue
			}
			var clientPK [32]byte
			copy(clientPK[:], buf[:boxPublicKeyBytes])
			if _, ok := s.authorized[clientPK]; !ok {
				s.mu.Unlock()
				s.logger.Info().Str("addr", key).Msg("dropped first packet: unauthorized public key")
				s.metrics.incUnauthorized()
				continue
			}

			t := NewTurnable[[]byte, []byte, sessionKeys]()
			secret := s.secret
			t.Start(func(y *Yielder[[]byte, []byte]) (sessionKeys, error) {
				return serverHandshake(&secret, y)
			})
			st = &authState{coroutine: t}
			s.authStates[key] = st
			s.logger.Info().Str("addr", key).Msg("new handshake")
			s.metrics.incHandshakeStarted()
		}
		s.mu.Unlock()

		if !st.completed {
			reply, done, result, herr := st.coroutine.Turn(buf)
			if !done {
				if reply != nil {
					if _, err := s.socket.SendTo(reply, addr); err != nil {
						return nil, nil, err
					}
				}
				continue
			}

			s.mu.Lock()
			if herr != nil {
				delete(s.authStates, key)
				s.mu.Unlock()
				s.logger.Error().Err(herr).Str("addr", key).Msg("handshake failed")
				s.metrics.incHandshakeFailed()
				continue
			}
			rxAEAD, err := newAEAD(result.rx)
			if err != nil {
				delete(s.authStates, key)
				s.mu.Unlock()
				s.logger.Error().Err(err).Str("addr", key).Msg("failed to wrap session key")
				continue
			}
			txAEAD, err := newAEAD(result.tx)
			if err != nil {
				delete(s.authStates, key)
				s.mu.Unlock()
				s.logger.Error().Err(err).Str("addr", key).Msg("failed to wrap session key")
				continue
			}
			st.coroutine = nil
			st.rxAEAD, st.txAEAD, st.completed = rxAEAD, txAEAD, true
			s.mu.Unlock()
			s.logger.Info().Str("addr", key).Msg("handshake completed")
			s.metrics.incHandshakeCompleted()
			continue
		}

		plaintext, err := openPacket(st.rxAEAD, buf)
		if err != nil {
			s.metrics.incOpenFailed()
			return addr, nil, fmt.Errorf("%s: %w", key, err)
		}
		return addr, plaintext, nil
	}
}

// Send seals plaintext under addr's session tx key and sends it.
// Initiated (handshake in progress) and unknown addresses are errors.
func (s *CDGramServer) Send(addr net.Addr, plaintext []byte) (int, error) {
	key := addr.String()
	s.mu.Lock()
	st, ok := s.authStates[key]
	s.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownClient, key)
	}
	if !st.completed {
		return 0, fmt.Errorf("%w: %s", ErrHandshakeInProgress, key)
	}
	packet, err := sealPacket(st.txAEAD, plaintext)
	if err != nil {
		return 0, err
	}
	return s.socket.SendTo(packet, addr)
}

// SendHostPort resolves hostport (first resolution result) and sends to
// it; ErrResolveFailure if resolution yields nothing.
func (s *CDGramServer) SendHostPort(hostport string, plaintext []byte) (int, error) {
	addr, err := resolveUDPAddr(hostport)
	if err != nil {
		return 0, err
	}
	return s.Send(addr, plaintext)
}

// Close removes addr's auth state, aborting its handshake coroutine if
// one is still running, and releases any socket-level state for it. A
// subsequent packet from addr starts a fresh handshake.
func (s *CDGramServer) Close(addr net.Addr) error {
	key := addr.String()
	s.mu.Lock()
	st, ok := s.authStates[key]
	delete(s.authStates, key)
	s.mu.Unlock()
	if ok && !st.completed && st.coroutine != nil {
		st.coroutine.Abort()
	}
	return s.socket.Close(addr)
}
