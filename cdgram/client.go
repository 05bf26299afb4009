package cdgram

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/nacl/box"
)

// CDGramClient drives the mirror handshake synchronously (there is only
// ever one peer to talk to, so no coroutine multiplexing is needed), then
// offers authenticated send/recv over the resulting session keys.
type CDGramClient struct {
	public       [32]byte
	secret       [32]byte
	serverPublic [32]byte
	socket       Socket
	logger       zerolog.Logger

	mu     sync.Mutex
	rxAEAD cipher.AEAD
	txAEAD cipher.AEAD
}

// NewCDGramClient constructs a client bound to a single server identity.
func NewCDGramClient(public, secret, serverPublic [32]byte, socket Socket, logger zerolog.Logger) *CDGramClient {
	return &CDGramClient{
		public:       public,
		secret:       secret,
		serverPublic: serverPublic,
		socket:       socket,
		logger:       logger,
	}
}

// Connect performs the three-packet handshake against hostport and, on
// success, derives the session AEAD keys.
func (c *CDGramClient) Connect(hostport string) error {
	kxPK, kxSK, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	challenge, err := randomBytes(challengeBytes)
	if err != nil {
		return err
	}

	send := make([]byte, 0, packet1Len)
	send = append(send, c.public[:]...)
	send = append(send, kxPK[:]...)
	send = append(send, challenge...)

	if err := c.socket.Connect(hostport); err != nil {
		return err
	}
	if _, err := c.socket.Send(send); err != nil {
		return err
	}
	c.logger.Debug().Str("server", hostport).Msg("sent handshake packet 1")

	_, reply, err := c.socket.Recv()
	if err != nil {
		return err
	}
	if len(reply) != packet2Len {
		return fmt.Errorf("%w: server handshake reply", ErrMalformedPacket)
	}

	serverChallenge := reply[0:challengeBytes]
	var serverKXPK [32]byte
	copy(serverKXPK[:], reply[challengeBytes:challengeBytes+kxPublicKeyBytes])
	var nonceA [24]byte
	copy(nonceA[:], reply[challengeBytes+kxPublicKeyBytes:challengeBytes+kxPublicKeyBytes+nonceBytes])
	sealed := reply[challengeBytes+kxPublicKeyBytes+nonceBytes:]

	opened, ok := box.Open(nil, sealed, &nonceA, &c.serverPublic, &c.secret)
	if !ok {
		return fmt.Errorf("%w: server failed challenge", ErrAuthFailure)
	}
	if !bytes.Equal(opened, challenge) {
		return fmt.Errorf("%w: server response doesn't match the challenge", ErrAuthFailure)
	}

	var nonceB [24]byte
	if _, err := rand.Read(nonceB[:]); err != nil {
		return err
	}
	response := box.Seal(nil, serverChallenge, &nonceB, &c.serverPublic, &c.secret)
	send2 := make([]byte, 0, packet3Len)
	send2 = append(send2, nonceB[:]...)
	send2 = append(send2, response...)
	if _, err := c.socket.Send(send2); err != nil {
		return err
	}
	c.logger.Debug().Msg("sent handshake finish")

	rx, tx, err := clientSessionKeys(kxSK, kxPK, &serverKXPK)
	if err != nil {
		return err
	}
	rxAEAD, err := newAEAD(rx)
	if err != nil {
		return err
	}
	txAEAD, err := newAEAD(tx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.rxAEAD, c.txAEAD = rxAEAD, txAEAD
	c.mu.Unlock()
	return nil
}

// Send seals and sends buf over the established session. ErrNotConnected
// if Connect hasn't succeeded yet.
func (c *CDGramClient) Send(buf []byte) (int, error) {
	c.mu.Lock()
	tx := c.txAEAD
	c.mu.Unlock()
	if tx == nil {
		return 0, ErrNotConnected
	}
	packet, err := sealPacket(tx, buf)
	if err != nil {
		return 0, err
	}
	return c.socket.Send(packet)
}

// Recv receives and opens the next packet from the server.
func (c *CDGramClient) Recv() ([]byte, error) {
	c.mu.Lock()
	rx := c.rxAEAD
	c.mu.Unlock()
	if rx == nil {
		return nil, ErrNotConnected
	}
	_, packet, err := c.socket.Recv()
	if err != nil {
		return nil, err
	}
	return openPacket(rx, packet)
}
