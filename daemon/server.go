// Package daemon implements ENTANGLE's application-level protocol: the
// server-side device registry and per-client synchronization loop, and the
// client-side device-recreation and liveness loop, both layered on top of
// a cdgram session.
package daemon

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/entangled-hid/entangle/cdgram"
	"github.com/entangled-hid/entangle/config"
	"github.com/entangled-hid/entangle/daemon/hiddev"
	"github.com/entangled-hid/entangle/proto"
)

// clientTimeout is the inactivity window after which the server drops a
// client's synchronized state, per spec.md §4.5.
const clientTimeout = 200 * time.Millisecond

// ServerPort is ENTANGLE's well-known UDP port.
const ServerPort = 3241

// clientState tracks what one connected client has been told, the same
// role the original's ClientStates struct plays.
type clientState struct {
	addr          net.Addr
	syncedDevices map[uint32]struct{}
	timeout       *time.Timer
}

func newClientState(addr net.Addr) *clientState {
	return &clientState{addr: addr, syncedDevices: make(map[uint32]struct{})}
}

// handleEvent computes the optional reply to event given the server's
// current device table, mirroring spec.md §4.5's dispatch table exactly.
func (c *clientState) handleEvent(event serverEvent, devices map[uint32]proto.InputDevice) (proto.ServerMessage, bool) {
	switch e := event.(type) {
	case clientPacketEvent:
		switch msg := e.msg.(type) {
		case proto.ClientSync:
			updates := make(map[uint32]proto.InputDeviceUpdate)
			for id, dev := range msg.Devices {
				cur, ok := devices[id]
				if !ok {
					updates[id] = proto.InputDeviceUpdate{Dropped: true}
				} else if !dev.Equal(cur) {
					updates[id] = proto.InputDeviceUpdate{Device: cur}
				}
			}
			for id, dev := range devices {
				if _, mentioned := msg.Devices[id]; !mentioned {
					updates[id] = proto.InputDeviceUpdate{Device: dev}
				}
			}
			c.syncedDevices = make(map[uint32]struct{}, len(devices))
			for id := range devices {
				c.syncedDevices[id] = struct{}{}
			}
			return proto.ServerSync{Updates: updates}, true
		case proto.ClientKeepAlive:
			return nil, false
		case proto.ClientPing:
			return proto.ServerPong{}, true
		}
	case removeDeviceEvent:
		return proto.ServerSync{Updates: map[uint32]proto.InputDeviceUpdate{
			e.id: {Dropped: true},
		}}, true
	case newDeviceEvent:
		return proto.ServerSync{Updates: map[uint32]proto.InputDeviceUpdate{
			e.id: {Device: e.dev},
		}}, true
	case inputEvent:
		if _, ok := c.syncedDevices[e.id]; !ok {
			return nil, false
		}
		return proto.ServerEvent{DeviceID: e.id, Event: e.ev}, true
	}
	return nil, false
}

// serverEvent is the sum type the main loop dispatches, mirroring the
// original's internal Event enum.
type serverEvent interface{ isServerEvent() }

type clientPacketEvent struct{ msg proto.ClientMessage }
type removeDeviceEvent struct{ id uint32 }
type newDeviceEvent struct {
	id  uint32
	dev proto.InputDevice
}
type inputEvent struct {
	id uint32
	ev proto.InputEvent
}
type timeoutEvent struct{ addr string }

func (clientPacketEvent) isServerEvent() {}
func (removeDeviceEvent) isServerEvent() {}
func (newDeviceEvent) isServerEvent()    {}
func (inputEvent) isServerEvent()        {}
func (timeoutEvent) isServerEvent()      {}

// Server runs the device registry and per-client synchronization loop.
type Server struct {
	cdgram *cdgram.CDGramServer
	reader hiddev.DeviceReader
	logger zerolog.Logger

	mu      sync.Mutex
	devices map[uint32]proto.InputDevice
	nextID  uint32
	clients map[string]*clientState

	events chan serverEvent
	stop   chan struct{}
}

// NewServer binds the well-known port and constructs a Server authorized
// for the peers in cfg.
func NewServer(cfg *config.Config, reader hiddev.DeviceReader, logger zerolog.Logger) (*Server, error) {
	sock, err := cdgram.ListenUDP(ServerPort)
	if err != nil {
		return nil, fmt.Errorf("daemon: bind server socket: %w", err)
	}
	return newServerWithSocket(cfg, reader, logger, sock)
}

// newServerWithSocket builds a Server over an already-bound socket, the
// seam tests use to substitute an in-memory cdgram.MemSocket.
func newServerWithSocket(cfg *config.Config, reader hiddev.DeviceReader, logger zerolog.Logger, sock cdgram.Socket) (*Server, error) {
	pub, err := cfg.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("daemon: server public key: %w", err)
	}
	sec, err := cfg.SecretKey()
	if err != nil {
		return nil, fmt.Errorf("daemon: server secret key: %w", err)
	}

	authorized := make([][32]byte, 0, len(cfg.Peers))
	for _, peer := range cfg.Peers {
		pk, err := peer.PublicKey()
		if err != nil {
			return nil, fmt.Errorf("daemon: peer public key: %w", err)
		}
		authorized = append(authorized, pk)
	}

	cserver := cdgram.NewCDGramServer(pub, sec, authorized, sock, logger, nil)

	return &Server{
		cdgram:  cserver,
		reader:  reader,
		logger:  logger,
		devices: make(map[uint32]proto.InputDevice),
		clients: make(map[string]*clientState),
		events:  make(chan serverEvent, 1024),
		stop:    make(chan struct{}),
	}, nil
}

// Run enumerates existing devices, starts a reader goroutine for each,
// starts the incremental monitor (if any), and runs the main event loop
// until a fatal error occurs.
func (s *Server) Run(monitor hiddev.Monitor) error {
	initial, err := s.reader.Enumerate()
	if err != nil {
		return fmt.Errorf("daemon: enumerate devices: %w", err)
	}
	for _, dev := range initial {
		s.registerDevice(dev, false)
	}

	if monitor != nil {
		go s.runMonitor(monitor)
	}

	go s.runSocketReceiver()

	for {
		select {
		case ev := <-s.events:
			if err := s.dispatch(ev); err != nil {
				return err
			}
		case <-s.stop:
			return nil
		}
	}
}

// Close stops the main loop.
func (s *Server) Close() { close(s.stop) }

// registerDevice adds dev to the registry and starts a reader task for it.
// broadcastNew controls whether already-connected clients are proactively
// told about it via a NewDevice event: initial startup enumeration doesn't
// (no client has connected yet to tell), but devices discovered later via
// the monitor do, matching spec.md §4.5.
func (s *Server) registerDevice(dev hiddev.Device, broadcastNew bool) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.devices[id] = dev.Info
	s.mu.Unlock()

	s.logger.Debug().Uint32("id", id).Str("name", dev.Info.Name).Msg("registered device")
	go s.runDeviceReader(id, dev.Path)

	if broadcastNew {
		s.events <- newDeviceEvent{id: id, dev: dev.Info}
	}
}

func (s *Server) runDeviceReader(id uint32, path string) {
	stop := make(chan struct{})
	ch, err := s.reader.Open(path, stop)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("failed to open device")
		s.events <- removeDeviceEvent{id: id}
		return
	}
	for ev := range ch {
		s.events <- inputEvent{id: id, ev: ev}
	}
	s.events <- removeDeviceEvent{id: id}
}

func (s *Server) runMonitor(monitor hiddev.Monitor) {
	for ev := range monitor.Events() {
		if ev.Removed {
			continue
		}
		dev, err := describeMonitoredDevice(s.reader, ev.Path)
		if err != nil {
			s.logger.Warn().Err(err).Str("path", ev.Path).Msg("failed to describe new device")
			continue
		}
		s.registerDevice(dev, true)
	}
}

// describeMonitoredDevice re-enumerates to find the descriptor for a
// newly appeared path; kept as a seam so tests can substitute a reader
// whose Enumerate result changes between calls.
func describeMonitoredDevice(reader hiddev.DeviceReader, path string) (hiddev.Device, error) {
	all, err := reader.Enumerate()
	if err != nil {
		return hiddev.Device{}, err
	}
	for _, d := range all {
		if d.Path == path {
			return d, nil
		}
	}
	return hiddev.Device{}, fmt.Errorf("daemon: device %s not found after monitor event", path)
}

func (s *Server) runSocketReceiver() {
	for {
		addr, payload, err := s.cdgram.Recv()
		if err != nil {
			s.logger.Debug().Err(err).Msg("recv error")
			continue
		}
		msg, err := proto.DecodeClientMessage(payload)
		if err != nil {
			s.logger.Debug().Err(err).Str("addr", addr.String()).Msg("malformed client message")
			continue
		}
		s.events <- clientAddrEvent{addr: addr, msg: msg}
	}
}

// clientAddrEvent carries the originating address alongside a decoded
// client packet; kept separate from clientPacketEvent so dispatch (which
// needs the address to find/create client state) doesn't have to thread
// it through handleEvent's generic event sum type.
type clientAddrEvent struct {
	addr net.Addr
	msg  proto.ClientMessage
}

func (clientAddrEvent) isServerEvent() {}

func (s *Server) dispatch(ev serverEvent) error {
	if pkt, ok := ev.(clientAddrEvent); ok {
		return s.dispatchClientPacket(pkt)
	}

	if to, ok := ev.(timeoutEvent); ok {
		s.mu.Lock()
		client, exists := s.clients[to.addr]
		if exists {
			client.timeout.Stop()
			delete(s.clients, to.addr)
		}
		s.mu.Unlock()
		if exists {
			s.logger.Debug().Str("addr", to.addr).Msg("client timed out")
			_ = s.cdgram.Close(client.addr)
		}
		return nil
	}

	s.mu.Lock()
	devicesCopy := make(map[uint32]proto.InputDevice, len(s.devices))
	for id, dev := range s.devices {
		devicesCopy[id] = dev
	}
	clients := make([]*clientState, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, client := range clients {
		if reply, ok := client.handleEvent(ev, devicesCopy); ok {
			if err := s.sendTo(client, reply); err != nil {
				s.logger.Debug().Err(err).Str("addr", client.addr.String()).Msg("send to client failed")
			}
		}
	}
	return nil
}

func (s *Server) dispatchClientPacket(ev clientAddrEvent) error {
	s.mu.Lock()
	client, ok := s.clients[ev.addr.String()]
	if !ok {
		client = newClientState(ev.addr)
		client.timeout = time.AfterFunc(clientTimeout, func() {
			s.events <- timeoutEvent{addr: ev.addr.String()}
		})
		s.clients[ev.addr.String()] = client
	}
	devicesCopy := make(map[uint32]proto.InputDevice, len(s.devices))
	for id, dev := range s.devices {
		devicesCopy[id] = dev
	}
	s.mu.Unlock()

	reply, hasReply := client.handleEvent(clientPacketEvent{msg: ev.msg}, devicesCopy)
	if !hasReply {
		return nil
	}
	return s.sendTo(client, reply)
}

// sendTo serializes and sends reply to client, then rearms its timeout —
// spec.md §4.5's "cancel previous, arm new 200ms timeout" rule.
func (s *Server) sendTo(client *clientState, reply proto.ServerMessage) error {
	buf := proto.EncodeServerMessage(reply)
	if _, err := s.cdgram.Send(client.addr, buf); err != nil {
		return err
	}
	client.timeout.Reset(clientTimeout)
	return nil
}
