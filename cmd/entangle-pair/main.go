// Command entangle-pair performs ENTANGLE's out-of-band pairing exchange:
// one side runs with -l and waits, the other connects to it with -s. Both
// sides display the same PIN; confirming it on both adds the peer to the
// local configuration file.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/entangled-hid/entangle/config"
	"github.com/entangled-hid/entangle/pair"
)

const defaultConfigPath = "/etc/entangle.conf"

var opt struct {
	Config string
	Listen bool
	Server string
	Help   bool
}

func init() {
	pflag.StringVarP(&opt.Config, "config", "c", defaultConfigPath, "Path to the configuration file")
	pflag.BoolVarP(&opt.Listen, "listen", "l", false, "Wait for a peer to initiate pairing")
	pflag.StringVarP(&opt.Server, "server", "s", "", "Address of the peer to pair with")
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s (-l | -s ADDR) [options]\n\noptions:\n%s", os.Args[0], pflag.CommandLine.FlagUsages())
}

func main() {
	pflag.Parse()

	if opt.Help || opt.Listen == (opt.Server != "") {
		usage()
		if opt.Help {
			os.Exit(0)
		}
		os.Exit(2)
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := loadOrInit(opt.Config, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	prompt := pair.ConsolePrompt(os.Stdin, os.Stdout)

	if opt.Listen {
		cfg, err = pair.Listen(cfg, prompt, logger, nil)
	} else {
		cfg, err = pair.Connect(cfg, opt.Server, prompt, logger)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: pairing failed: %v\n", err)
		os.Exit(1)
	}

	if err := config.Save(cfg, opt.Config); err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to save %s: %v\n", opt.Config, err)
		os.Exit(1)
	}
	fmt.Printf("paired successfully, peer added to %s\n", opt.Config)
}

// loadOrInit loads the config at path, generating and saving a fresh
// identity there first if it does not yet exist.
func loadOrInit(path string, logger zerolog.Logger) (*config.Config, error) {
	if _, err := os.Stat(path); err == nil {
		return config.Load(path)
	}

	logger.Info().Str("path", path).Msg("no existing config found, generating a new identity")
	cfg, err := config.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate identity: %w", err)
	}
	if err := config.Save(cfg, path); err != nil {
		return nil, fmt.Errorf("save new identity: %w", err)
	}
	return cfg, nil
}
