// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ColdFireHunter/HS-PROJECT-INFO2/pkg/config"
	"github.com/ColdFireHunter/HS-PROJECT-INFO2/pkg/logging"
)

// Exit codes
const (
	exitOK         = 0
	exitProtocol   = 1 // NACK, BUSY, timeout or bad reply
	exitConnection = 2
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	configPath string
	logLevel   string

	// cfg is loaded before any command runs
	cfg *config.Config
)

// serviceAnnotation marks long-running commands that log at info by default
const serviceAnnotation = "service"

var rootCmd = &cobra.Command{
	Use:   "lumen",
	Short: "Lumen fixture network tool",
	Long: `Lumen - operator tool, gateway and node for the Lumen fixture network.

A client talks to the gateway over a serial or WebSocket link. The gateway
relays each command to one fixture node over a shared broadcast medium and
answers with OKAY, NACK, BUSY or the node's data.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the LUMEN_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.

Settings are read from the config file (see --config) and overridden by flags.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/lumen/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default silent for client commands)")
}

func setup(cmd *cobra.Command, args []string) error {
	fallback := ""
	if _, ok := cmd.Annotations[serviceAnnotation]; ok {
		fallback = "info"
	}
	if err := logging.Initialize(logLevel, fallback); err != nil {
		return err
	}

	var err error
	if cfg, err = config.Load(configPath); err != nil {
		return err
	}

	// flags win over the file
	flags := cmd.Flags()
	if flags.Changed("port") || cfg.Link.Port == "" {
		cfg.Link.Port = portName
	}
	if flags.Changed("baud") {
		cfg.Link.Baud = baudRate
	}
	if flags.Changed("url") || cfg.Link.URL == "" {
		cfg.Link.URL = wsURL
	}
	if flags.Changed("username") || cfg.Link.Username == "" {
		cfg.Link.Username = wsUsername
	}
	if flags.Changed("no-ssl-verify") {
		cfg.Link.NoSSLVerify = wsNoSSLVerify
	}
	return nil
}

// Execute runs the root command
func Execute() error {
	defer logging.Sync()
	return rootCmd.Execute()
}

// exitWith prints err and exits with code
func exitWith(code int, format string, err error) {
	fmt.Fprintf(os.Stderr, format+": %v\n", err)
	logging.Sync()
	os.Exit(code)
}
