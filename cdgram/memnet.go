package cdgram

import (
	"errors"
	"fmt"
	"net"
	"sync"
)

// MemNetwork is an in-memory datagram fabric used by cdgram's own tests
// and exported so other packages can do the same: every MemSocket
// registered on it can SendTo any other by address string, standing in
// for "the concrete UDP socket implementation" that Socket abstracts over.
// Exported so other packages (daemon) can drive end-to-end tests without a
// real network.
type MemNetwork struct {
	mu    sync.Mutex
	boxes map[string]chan memDatagram
}

type memDatagram struct {
	from string
	data []byte
}

func NewMemNetwork() *MemNetwork {
	return &MemNetwork{boxes: make(map[string]chan memDatagram)}
}

// NewSocket registers a new socket at addr on the fabric.
func (n *MemNetwork) NewSocket(addr string) *MemSocket {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch := make(chan memDatagram, 64)
	n.boxes[addr] = ch
	return &MemSocket{self: addr, net: n, inbox: ch}
}

// MemAddr is the net.Addr implementation MemSocket reports and accepts.
type MemAddr string

func (m MemAddr) Network() string { return "mem" }
func (m MemAddr) String() string  { return string(m) }

// MemSocket is an in-memory Socket implementation for tests.
type MemSocket struct {
	self  string
	net   *MemNetwork
	inbox chan memDatagram

	mu   sync.Mutex
	dest string
}

var _ Socket = (*MemSocket)(nil)

func (s *MemSocket) Recv() (net.Addr, []byte, error) {
	d, ok := <-s.inbox
	if !ok {
		return nil, nil, errors.New("memsocket: closed")
	}
	return MemAddr(d.from), d.data, nil
}

func (s *MemSocket) Connect(hostport string) error {
	s.mu.Lock()
	s.dest = hostport
	s.mu.Unlock()
	return nil
}

func (s *MemSocket) Send(buf []byte) (int, error) {
	s.mu.Lock()
	dest := s.dest
	s.mu.Unlock()
	return s.SendTo(buf, MemAddr(dest))
}

func (s *MemSocket) SendTo(buf []byte, addr net.Addr) (int, error) {
	s.net.mu.Lock()
	ch, ok := s.net.boxes[addr.String()]
	s.net.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("memsocket: no such peer %s", addr)
	}
	cp := append([]byte(nil), buf...)
	select {
	case ch <- memDatagram{from: s.self, data: cp}:
	default:
		return 0, errors.New("memsocket: inbox full")
	}
	return len(buf), nil
}

func (s *MemSocket) Close(net.Addr) error { return nil }
