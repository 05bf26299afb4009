// Command entangled is the ENTANGLE daemon: "server" shares this host's
// input devices with authorized peers; "client" recreates a remote peer's
// devices locally.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/entangled-hid/entangle/config"
	"github.com/entangled-hid/entangle/daemon"
)

const defaultConfigPath = "/etc/entangle.conf"

var opt struct {
	Config  string
	Server  string
	Verbose bool
	Help    bool
}

func init() {
	pflag.StringVarP(&opt.Config, "config", "c", defaultConfigPath, "Path to the configuration file")
	pflag.StringVarP(&opt.Server, "server", "s", "", "Server address to connect to (client mode only)")
	pflag.BoolVarP(&opt.Verbose, "verbose", "v", false, "Enable debug logging")
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [options] server|client\n\noptions:\n%s", os.Args[0], pflag.CommandLine.FlagUsages())
}

func main() {
	pflag.Parse()

	if opt.Help || pflag.NArg() != 1 {
		usage()
		if opt.Help {
			os.Exit(0)
		}
		os.Exit(2)
	}

	level := zerolog.InfoLevel
	if opt.Verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	cfg, err := config.Load(opt.Config)
	if err != nil {
		logger.Error().Err(err).Str("path", opt.Config).Msg("failed to load config")
		os.Exit(1)
	}

	switch pflag.Arg(0) {
	case "server":
		err = runServer(cfg, logger)
	case "client":
		if opt.Server == "" {
			fmt.Fprintln(os.Stderr, "error: client mode requires -s/--server")
			os.Exit(2)
		}
		err = runClient(cfg, opt.Server, logger)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		logger.Error().Err(err).Msg("exiting")
		os.Exit(1)
	}
}

func runServer(cfg *config.Config, logger zerolog.Logger) error {
	srv, err := daemon.NewServer(cfg, newDeviceReader(), logger)
	if err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- srv.Run(newMonitor()) }()

	term := make(chan os.Signal, 1)
	signal.Notify(term, os.Interrupt, syscall.SIGTERM)

	select {
	case <-term:
		srv.Close()
		return nil
	case err := <-done:
		return err
	}
}

// runClient runs the connect/liveness loop against serverAddr, restarting it
// on failure subject to a token-bucket rate limit matching the original
// daemon's governor::RateLimiter::direct(Quota::per_second(1).allow_burst(5)).
func runClient(cfg *config.Config, serverAddr string, logger zerolog.Logger) error {
	// A bare host or IP selects the well-known server port.
	if _, _, err := net.SplitHostPort(serverAddr); err != nil {
		serverAddr = net.JoinHostPort(serverAddr, fmt.Sprint(daemon.ServerPort))
	}

	serverPub, err := singlePeerKey(cfg)
	if err != nil {
		return err
	}

	limiter := rate.NewLimiter(rate.Limit(1), 5)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := limiter.Wait(ctx); err != nil {
			return nil
		}

		client, err := daemon.NewClient(cfg, serverPub, newDeviceWriter(), logger)
		if err != nil {
			logger.Error().Err(err).Msg("failed to create client")
			continue
		}
		if err := client.Connect(serverAddr); err != nil {
			logger.Warn().Err(err).Str("server", serverAddr).Msg("connect failed, retrying")
			continue
		}
		logger.Info().Str("server", serverAddr).Msg("connected")

		if err := client.Run(); err != nil {
			logger.Warn().Err(err).Msg("connection lost, reconnecting")
		}
	}
}

// singlePeerKey returns the only configured peer's public key: in client
// mode the config file names exactly one server to trust.
func singlePeerKey(cfg *config.Config) ([32]byte, error) {
	if len(cfg.Peers) != 1 {
		return [32]byte{}, fmt.Errorf("client mode requires exactly one configured peer, found %d", len(cfg.Peers))
	}
	return cfg.Peers[0].PublicKey()
}
