package cdgram

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/nacl/box"
)

func discardLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func genKeyPair(t *testing.T) (pub, sec [32]byte) {
	t.Helper()
	p, s, err := box.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return *p, *s
}

func recvWithTimeout(t *testing.T, fn func() ([]byte, error), d time.Duration) ([]byte, error) {
	t.Helper()
	type res struct {
		buf []byte
		err error
	}
	ch := make(chan res, 1)
	go func() {
		buf, err := fn()
		ch <- res{buf, err}
	}()
	select {
	case r := <-ch:
		return r.buf, r.err
	case <-time.After(d):
		return nil, errTestTimeout
	}
}

var errTestTimeout = errors.New("test: timed out waiting for result")

func TestHappyPath(t *testing.T) {
	net := NewMemNetwork()
	serverPub, serverSec := genKeyPair(t)
	clientPub, clientSec := genKeyPair(t)

	serverSock := net.NewSocket("server:3241")
	clientSock := net.NewSocket("client:1")

	server := NewCDGramServer(serverPub, serverSec, [][32]byte{clientPub}, serverSock, discardLogger(), nil)
	client := NewCDGramClient(clientPub, clientSec, serverPub, clientSock, discardLogger())

	serverDone := make(chan struct {
		addr string
		err  error
	}, 1)
	go func() {
		addr, pkt, err := server.Recv()
		if err != nil {
			serverDone <- struct {
				addr string
				err  error
			}{"", err}
			return
		}
		if !bytes.Equal(pkt, []byte{1, 2, 3, 4, 5}) {
			t.Errorf("server got %v, want [1 2 3 4 5]", pkt)
		}
		if _, err := server.Send(addr, []byte{5, 4, 3, 2, 1}); err != nil {
			t.Errorf("server.Send: %v", err)
		}
		serverDone <- struct {
			addr string
			err  error
		}{addr.String(), nil}
	}()

	if err := client.Connect("server:3241"); err != nil {
		t.Fatalf("client.Connect: %v", err)
	}
	if _, err := client.Send([]byte{1, 2, 3, 4, 5}); err != nil {
		t.Fatalf("client.Send: %v", err)
	}

	reply, err := recvWithTimeout(t, client.Recv, time.Second)
	if err != nil {
		t.Fatalf("client.Recv: %v", err)
	}
	if !bytes.Equal(reply, []byte{5, 4, 3, 2, 1}) {
		t.Fatalf("client got %v, want [5 4 3 2 1]", reply)
	}

	select {
	case r := <-serverDone:
		if r.err != nil {
			t.Fatalf("server.Recv: %v", r.err)
		}
	case <-time.After(time.Second):
		t.Fatal("server never completed")
	}
}

func TestUnauthorizedPeerIsSilentlyDropped(t *testing.T) {
	net := NewMemNetwork()
	serverPub, serverSec := genKeyPair(t)
	clientPub, clientSec := genKeyPair(t)

	serverSock := net.NewSocket("server:3241")
	clientSock := net.NewSocket("client:1")

	// Authorized set is empty: the client's key is never allow-listed.
	server := NewCDGramServer(serverPub, serverSec, nil, serverSock, discardLogger(), nil)
	client := NewCDGramClient(clientPub, clientSec, serverPub, clientSock, discardLogger())

	go server.Recv()

	connectErr := make(chan error, 1)
	go func() { connectErr <- client.Connect("server:3241") }()

	// The server silently drops the unauthorized first packet and never
	// replies, so Connect (which blocks on a bare socket Recv with no
	// timeout of its own) never returns; a bounded wait stands in for the
	// application layer's handshake timeout.
	select {
	case err := <-connectErr:
		t.Fatalf("expected Connect to hang, got %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTamperedPacketAfterSessionPreservesState(t *testing.T) {
	net := NewMemNetwork()
	serverPub, serverSec := genKeyPair(t)
	clientPub, clientSec := genKeyPair(t)

	serverSock := net.NewSocket("server:3241")
	clientSock := net.NewSocket("client:1")

	server := NewCDGramServer(serverPub, serverSec, [][32]byte{clientPub}, serverSock, discardLogger(), nil)
	client := NewCDGramClient(clientPub, clientSec, serverPub, clientSock, discardLogger())

	type recvResult struct {
		addr interface{ String() string }
		pkt  []byte
		err  error
	}
	recvd := make(chan recvResult, 4)
	go func() {
		for {
			addr, pkt, err := server.Recv()
			recvd <- recvResult{addr, pkt, err}
			if err != nil && addr == nil {
				return
			}
		}
	}()

	if err := client.Connect("server:3241"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := client.Send([]byte("hello")); err != nil {
		t.Fatalf("send: %v", err)
	}

	var r recvResult
	select {
	case r = <-recvd:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first payload")
	}
	if r.err != nil {
		t.Fatalf("unexpected error on legitimate packet: %v", r.err)
	}
	if string(r.pkt) != "hello" {
		t.Fatalf("got %q, want %q", r.pkt, "hello")
	}

	// A third party injects a random datagram claiming to be from the
	// client's address: the session is not evicted, only this one
	// datagram is rejected.
	attacker := &MemSocket{self: "client:1", net: net}
	tampered := make([]byte, 40)
	if _, err := rand.Read(tampered); err != nil {
		t.Fatalf("rand: %v", err)
	}
	if _, err := attacker.SendTo(tampered, MemAddr("server:3241")); err != nil {
		t.Fatalf("attacker send: %v", err)
	}

	select {
	case r = <-recvd:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for tampered-packet result")
	}
	if !errors.Is(r.err, ErrAuthFailure) {
		t.Fatalf("tampered packet: got err=%v, want ErrAuthFailure", r.err)
	}

	// The session must still be alive: a legitimate follow-up decrypts fine.
	if _, err := client.Send([]byte("still here")); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case r = <-recvd:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for post-tamper payload")
	}
	if r.err != nil {
		t.Fatalf("unexpected error after tamper: %v", r.err)
	}
	if string(r.pkt) != "still here" {
		t.Fatalf("got %q, want %q", r.pkt, "still here")
	}
}

func TestPacket1BoundaryLength(t *testing.T) {
	net := NewMemNetwork()
	serverPub, serverSec := genKeyPair(t)
	clientPub, _ := genKeyPair(t)

	serverSock := net.NewSocket("server:3241")
	attackerSock := net.NewSocket("attacker:1")

	server := NewCDGramServer(serverPub, serverSec, [][32]byte{clientPub}, serverSock, discardLogger(), nil)

	serverResults := make(chan error, 1)
	go func() {
		_, _, err := server.Recv()
		serverResults <- err
	}()

	// One byte short of packet1Len: must be dropped, no reply, no state.
	short := make([]byte, packet1Len-1)
	if _, err := attackerSock.SendTo(short, MemAddr("server:3241")); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case err := <-serverResults:
		t.Fatalf("server.Recv should not have returned yet, got err=%v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCloseThenSendIsUnknownClient(t *testing.T) {
	net := NewMemNetwork()
	serverPub, serverSec := genKeyPair(t)
	clientPub, clientSec := genKeyPair(t)

	serverSock := net.NewSocket("server:3241")
	clientSock := net.NewSocket("client:1")

	server := NewCDGramServer(serverPub, serverSec, [][32]byte{clientPub}, serverSock, discardLogger(), nil)
	client := NewCDGramClient(clientPub, clientSec, serverPub, clientSock, discardLogger())

	var addrCh = make(chan interface{ String() string }, 1)
	go func() {
		addr, _, _ := server.Recv()
		addrCh <- addr
	}()

	if err := client.Connect("server:3241"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := client.Send([]byte("hi")); err != nil {
		t.Fatalf("send: %v", err)
	}

	addr := <-addrCh
	if err := server.Close(MemAddr(addr.String())); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := server.Send(MemAddr(addr.String()), []byte("bye")); !errors.Is(err, ErrUnknownClient) {
		t.Fatalf("got %v, want ErrUnknownClient", err)
	}
}
