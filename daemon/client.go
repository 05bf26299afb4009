package daemon

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/entangled-hid/entangle/cdgram"
	"github.com/entangled-hid/entangle/config"
	"github.com/entangled-hid/entangle/daemon/hiddev"
	"github.com/entangled-hid/entangle/proto"
)

// ErrConnectionTimedOut is returned from Client.Run when the server goes
// silent past the liveness deadline (spec.md §4.6, §7).
var ErrConnectionTimedOut = errors.New("daemon: connection timed out")

const (
	clientRecvTimeout    = 1000 * time.Millisecond
	clientPongTimeout    = 200 * time.Millisecond
	clientKeepAliveDelay = 50 * time.Millisecond
)

// Client runs the device-recreation and liveness loop against one server.
type Client struct {
	cdgram *cdgram.CDGramClient
	writer hiddev.DeviceWriter
	logger zerolog.Logger
}

// NewClient binds an ephemeral UDP socket and builds a Client that expects
// serverPub as the server identity. It does not contact the server; call
// Connect for that.
func NewClient(cfg *config.Config, serverPub [32]byte, writer hiddev.DeviceWriter, logger zerolog.Logger) (*Client, error) {
	sock, err := cdgram.ListenUDP(0)
	if err != nil {
		return nil, fmt.Errorf("daemon: bind client socket: %w", err)
	}
	return newClientWithSocket(cfg, serverPub, writer, logger, sock)
}

// newClientWithSocket builds a Client over an already-bound socket, the
// seam tests use to substitute an in-memory cdgram.MemSocket.
func newClientWithSocket(cfg *config.Config, serverPub [32]byte, writer hiddev.DeviceWriter, logger zerolog.Logger, sock cdgram.Socket) (*Client, error) {
	pub, err := cfg.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("daemon: client public key: %w", err)
	}
	sec, err := cfg.SecretKey()
	if err != nil {
		return nil, fmt.Errorf("daemon: client secret key: %w", err)
	}

	return &Client{
		cdgram: cdgram.NewCDGramClient(pub, sec, serverPub, sock, logger),
		writer: writer,
		logger: logger,
	}, nil
}

// Connect performs the CDGram handshake against serverAddr and announces
// empty device knowledge, as spec.md §4.6 prescribes.
func (c *Client) Connect(serverAddr string) error {
	if err := c.cdgram.Connect(serverAddr); err != nil {
		return fmt.Errorf("daemon: handshake with %s: %w", serverAddr, err)
	}
	return c.send(proto.ClientSync{Devices: map[uint32]proto.InputDevice{}})
}

func (c *Client) send(msg proto.ClientMessage) error {
	_, err := c.cdgram.Send(proto.EncodeClientMessage(msg))
	return err
}

type clientRecvResult struct {
	msg proto.ServerMessage
	err error
}

// Run executes the receive/ping/keep-alive loop until a fatal error
// occurs (including ErrConnectionTimedOut). Callers restart Run (subject
// to their own rate limit) on any returned error.
func (c *Client) Run() error {
	recvCh := make(chan clientRecvResult)
	stop := make(chan struct{})
	defer close(stop)
	go c.recvLoop(recvCh, stop)

	devices := make(map[uint32]bool)
	pongPending := false
	keepAlive := newCancellableTimer()

	for {
		timeout := clientRecvTimeout
		if pongPending {
			timeout = clientPongTimeout
		}

		select {
		case result := <-recvCh:
			if result.err != nil {
				return fmt.Errorf("daemon: recv: %w", result.err)
			}
			keepAlive.Reset(clientKeepAliveDelay)
			switch msg := result.msg.(type) {
			case proto.ServerSync:
				c.applySync(msg, devices)
			case proto.ServerEvent:
				c.applyEvent(msg)
			case proto.ServerPong:
				pongPending = false
			}

		case <-keepAlive.C():
			if err := c.send(proto.ClientKeepAlive{}); err != nil {
				c.logger.Debug().Err(err).Msg("keep-alive send failed")
			}

		case <-time.After(timeout):
			if pongPending {
				return ErrConnectionTimedOut
			}
			pongPending = true
			if err := c.send(proto.ClientPing{}); err != nil {
				return fmt.Errorf("daemon: send ping: %w", err)
			}
		}
	}
}

func (c *Client) recvLoop(out chan<- clientRecvResult, stop <-chan struct{}) {
	for {
		buf, err := c.cdgram.Recv()
		if err != nil {
			select {
			case out <- clientRecvResult{err: err}:
			case <-stop:
			}
			return
		}
		msg, err := proto.DecodeServerMessage(buf)
		if err != nil {
			c.logger.Debug().Err(err).Msg("malformed server message")
			continue
		}
		select {
		case out <- clientRecvResult{msg: msg}:
		case <-stop:
			return
		}
	}
}

func (c *Client) applySync(msg proto.ServerSync, known map[uint32]bool) {
	for id, update := range msg.Updates {
		if update.Dropped {
			if known[id] {
				delete(known, id)
				if err := c.writer.Drop(id); err != nil {
					c.logger.Debug().Err(err).Uint32("id", id).Msg("failed to drop device")
				}
			}
			continue
		}
		if err := c.writer.Create(id, update.Device); err != nil {
			c.logger.Warn().Err(err).Uint32("id", id).Msg("failed to create device")
			continue
		}
		known[id] = true
	}
}

func (c *Client) applyEvent(msg proto.ServerEvent) {
	if err := c.writer.Write(msg.DeviceID, msg.Event); err != nil {
		c.logger.Debug().Err(err).Uint32("id", msg.DeviceID).Msg("failed to write event")
		return
	}
	if msg.Event.Type == hiddev.EVSyn && msg.Event.Code == hiddev.EVSynReport {
		if err := c.writer.Flush(msg.DeviceID); err != nil {
			c.logger.Debug().Err(err).Uint32("id", msg.DeviceID).Msg("failed to flush device")
		}
	}
}
