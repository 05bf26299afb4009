package pair

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/entangled-hid/entangle/config"
)

func alwaysYes(uint32) (bool, error) { return true, nil }

func TestDerivePINSymmetric(t *testing.T) {
	a := [32]byte{1, 2, 3}
	b := [32]byte{4, 5, 6}
	// Client computes with (tx, rx); server computes with (rx, tx); with
	// client.tx == server.rx and client.rx == server.tx, both calls must
	// land on the same arguments in the same positions.
	clientTX, clientRX := a, b
	serverRX, serverTX := clientTX, clientRX
	clientPIN := derivePIN(clientTX, clientRX)
	serverPIN := derivePIN(serverRX, serverTX)
	if clientPIN != serverPIN {
		t.Fatalf("client and server PINs differ: %d vs %d", clientPIN, serverPIN)
	}
	if clientPIN >= 100_000_000 {
		t.Fatalf("PIN %d has more than 8 digits", clientPIN)
	}
}

func TestSealOpenAuthRoundTrip(t *testing.T) {
	var key [32]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))
	msg := []byte("a 32-byte-ish public key payload")

	sealed := sealAuth(msg, key)
	opened, err := openAuth(sealed, key)
	if err != nil {
		t.Fatalf("openAuth: %v", err)
	}
	if string(opened) != string(msg) {
		t.Fatalf("round trip mismatch: %q vs %q", opened, msg)
	}
}

func TestOpenAuthRejectsTamperedTag(t *testing.T) {
	var key [32]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))
	sealed := sealAuth([]byte("hello"), key)
	sealed[len(sealed)-1] ^= 0xFF

	if _, err := openAuth(sealed, key); err == nil {
		t.Fatalf("expected tampered tag to fail verification")
	}
}

func TestListenConnectExchangesKeys(t *testing.T) {
	serverCfg, err := config.Generate()
	if err != nil {
		t.Fatalf("Generate server cfg: %v", err)
	}
	clientCfg, err := config.Generate()
	if err != nil {
		t.Fatalf("Generate client cfg: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)

	addrCh := make(chan string, 1)
	var serverResult *config.Config
	var serverErr error
	go func() {
		defer wg.Done()
		updated, err := Listen(serverCfg, alwaysYes, zerolog.Nop(), addrCh)
		serverResult, serverErr = updated, err
	}()

	addr := <-addrCh

	var clientResult *config.Config
	var clientErr error
	go func() {
		defer wg.Done()
		clientResult, clientErr = Connect(clientCfg, addr, alwaysYes, zerolog.Nop())
	}()

	wg.Wait()

	if serverErr != nil {
		t.Fatalf("Listen: %v", serverErr)
	}
	if clientErr != nil {
		t.Fatalf("Connect: %v", clientErr)
	}

	if len(serverResult.Peers) != 1 || serverResult.Peers[0].Public != clientCfg.Public {
		t.Fatalf("server did not learn client's public key: %+v", serverResult.Peers)
	}
	if len(clientResult.Peers) != 1 || clientResult.Peers[0].Public != serverCfg.Public {
		t.Fatalf("client did not learn server's public key: %+v", clientResult.Peers)
	}
}
