package pair

import (
	"bufio"
	"crypto/rand"
	"fmt"
	"io"
	"net"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/curve25519"

	"github.com/entangled-hid/entangle/cdgram"
	"github.com/entangled-hid/entangle/config"
	"github.com/entangled-hid/entangle/wire"
)

// Prompt asks the user to visually confirm a PIN displayed on both ends
// before the exchange of long-term keys is trusted. Implementations should
// display pin and return whether the user confirmed it.
type Prompt func(pin uint32) (bool, error)

// ConsolePrompt is the default Prompt: it prints the PIN and reads a
// y/n answer from r, writing prompts to w.
func ConsolePrompt(r io.Reader, w io.Writer) Prompt {
	reader := bufio.NewReader(r)
	return func(pin uint32) (bool, error) {
		fmt.Fprintf(w, "Please verify the other side displays the same number as below\n\t%08d\nPair? (y/n) ", pin)
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return false, err
		}
		return len(line) > 0 && (line[0] == 'y' || line[0] == 'Y'), nil
	}
}

func genKXKeypair() (pub, sec [32]byte, err error) {
	if _, err = io.ReadFull(rand.Reader, sec[:]); err != nil {
		return pub, sec, err
	}
	out, err := curve25519.X25519(sec[:], curve25519.Basepoint)
	if err != nil {
		return pub, sec, err
	}
	copy(pub[:], out)
	return pub, sec, nil
}

// maxMessageSize bounds the buffer used to receive an authenticated
// message; long-term public keys are fixed-size so this is generous.
const maxMessageSize = 128

// Listen waits for a single client to initiate pairing, exchanges
// ephemeral keys, displays a confirmation PIN via prompt, and on
// confirmation appends the client's long-term public key to cfg's peer
// list (with no address, mirroring the original tool's behavior since the
// server does not know which address the client will connect from). ready,
// if non-nil, receives the bound ephemeral address once listening starts
// (tests use it to learn the port before the client dials in).
func Listen(cfg *config.Config, prompt Prompt, logger zerolog.Logger, ready chan<- string) (*config.Config, error) {
	sock, err := cdgram.ListenUDP(0)
	if err != nil {
		return nil, fmt.Errorf("pair: listen: %w", err)
	}

	pub, sec, err := genKXKeypair()
	if err != nil {
		return nil, fmt.Errorf("pair: generate ephemeral keypair: %w", err)
	}
	logger.Info().Str("addr", sock.LocalAddr().String()).Msg("waiting for client contact")
	if ready != nil {
		ready <- sock.LocalAddr().String()
	}

	clientAddr, buf, err := sock.Recv()
	if err != nil {
		return nil, fmt.Errorf("pair: recv: %w", err)
	}
	if len(buf) != 32 {
		return nil, fmt.Errorf("pair: malformed handshake packet")
	}
	var clientPK [32]byte
	copy(clientPK[:], buf)

	if err := sock.Connect(clientAddr.String()); err != nil {
		return nil, fmt.Errorf("pair: connect to %s: %w", clientAddr, err)
	}
	if _, err := sock.Send(pub[:]); err != nil {
		return nil, fmt.Errorf("pair: send ephemeral key: %w", err)
	}

	rx, tx, err := cdgram.ServerSessionKeys(&sec, &pub, &clientPK)
	if err != nil {
		return nil, fmt.Errorf("pair: derive session keys: %w", err)
	}
	pin := derivePIN(rx, tx)
	ok, err := prompt(pin)
	if err != nil {
		return nil, fmt.Errorf("pair: prompt: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("pair: user declined to pair")
	}

	clientPubBuf := make([]byte, maxMessageSize)
	_, authed, err := recvAuth(sock, clientPubBuf, rx)
	if err != nil {
		return nil, fmt.Errorf("pair: receive client public key: %w", err)
	}
	if len(authed) != 32 {
		return nil, fmt.Errorf("pair: malformed client public key")
	}

	ourPK, err := cfg.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("pair: own public key: %w", err)
	}
	if _, err := sock.Send(sealAuth(ourPK[:], tx)); err != nil {
		return nil, fmt.Errorf("pair: send server public key: %w", err)
	}

	cfg.Peers = append(cfg.Peers, config.Peer{Public: wire.EncodeKey(authed)})
	return cfg, nil
}

// Connect initiates pairing with a listening peer at serverAddr, displays
// a confirmation PIN via prompt, and on confirmation appends the server's
// long-term public key (and address, with the well-known port forced) to
// cfg's peer list.
func Connect(cfg *config.Config, serverAddr string, prompt Prompt, logger zerolog.Logger) (*config.Config, error) {
	sock, err := cdgram.ListenUDP(0)
	if err != nil {
		return nil, fmt.Errorf("pair: listen: %w", err)
	}

	pub, sec, err := genKXKeypair()
	if err != nil {
		return nil, fmt.Errorf("pair: generate ephemeral keypair: %w", err)
	}
	if err := sock.Connect(serverAddr); err != nil {
		return nil, fmt.Errorf("pair: connect to %s: %w", serverAddr, err)
	}
	logger.Info().Str("server", serverAddr).Msg("contacting server")
	if _, err := sock.Send(pub[:]); err != nil {
		return nil, fmt.Errorf("pair: send ephemeral key: %w", err)
	}

	_, buf, err := sock.Recv()
	if err != nil {
		return nil, fmt.Errorf("pair: recv: %w", err)
	}
	if len(buf) != 32 {
		return nil, fmt.Errorf("pair: malformed handshake packet")
	}
	var serverPK [32]byte
	copy(serverPK[:], buf)

	rx, tx, err := cdgram.ClientSessionKeys(&sec, &pub, &serverPK)
	if err != nil {
		return nil, fmt.Errorf("pair: derive session keys: %w", err)
	}
	pin := derivePIN(tx, rx)
	ok, err := prompt(pin)
	if err != nil {
		return nil, fmt.Errorf("pair: prompt: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("pair: user declined to pair")
	}

	ourPK, err := cfg.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("pair: own public key: %w", err)
	}
	if _, err := sock.Send(sealAuth(ourPK[:], tx)); err != nil {
		return nil, fmt.Errorf("pair: send client public key: %w", err)
	}

	serverPubBuf := make([]byte, maxMessageSize)
	_, authed, err := recvAuth(sock, serverPubBuf, rx)
	if err != nil {
		return nil, fmt.Errorf("pair: receive server public key: %w", err)
	}
	if len(authed) != 32 {
		return nil, fmt.Errorf("pair: malformed server public key")
	}

	host, _, err := net.SplitHostPort(serverAddr)
	if err != nil {
		host = serverAddr
	}
	peerAddr := net.JoinHostPort(host, "3241")

	cfg.Peers = append(cfg.Peers, config.Peer{Addr: peerAddr, Public: wire.EncodeKey(authed)})
	return cfg, nil
}

// recvAuth reads one datagram into buf and verifies/strips its
// one-time-authenticator tag under rx, returning the bytes actually read
// and the authenticated payload.
func recvAuth(sock cdgram.Socket, buf []byte, rx [32]byte) (int, []byte, error) {
	_, data, err := sock.Recv()
	if err != nil {
		return 0, nil, err
	}
	n := copy(buf, data)
	payload, err := openAuth(buf[:n], rx)
	if err != nil {
		return n, nil, err
	}
	return n, payload, nil
}
