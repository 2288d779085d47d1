// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ColdFireHunter/HS-PROJECT-INFO2/pkg/capture"
	"github.com/ColdFireHunter/HS-PROJECT-INFO2/pkg/gateway"
	"github.com/ColdFireHunter/HS-PROJECT-INFO2/pkg/logging"
	"github.com/ColdFireHunter/HS-PROJECT-INFO2/pkg/transport"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the gateway between the client link and the mesh",
	Long: `Run the discovery and relay gateway.

The client link is the serial port given by --port, or a WebSocket endpoint
served on --listen. The mesh is the hub at --mesh, or the first hub found
over mDNS.

One command is relayed at a time. A second request while one is in flight
is answered BUSY; a node that never answers is reported NACK after the
deadline.

For a WebSocket link, basic auth is enabled when --username is set; the
password comes from LUMEN_PASSWORD.`,
	Annotations: map[string]string{serviceAnnotation: ""},
	RunE:        runGateway,
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
	gatewayCmd.Flags().String("listen", "", "Serve the client link over WebSocket on this address")
	gatewayCmd.Flags().String("mesh", "", "Mesh hub URL (default: browse mDNS)")
	gatewayCmd.Flags().String("address", "", "Gateway mesh address")
	gatewayCmd.Flags().String("capture", "", "Record all traffic to this file")
	gatewayCmd.Flags().String("buttons", "", "Static button state, e.g. 0,1,0,0")
}

// applyGatewayFlags merges command flags into cfg.Gateway
func applyGatewayFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	for name, dst := range map[string]*string{
		"listen":  &cfg.Gateway.Listen,
		"mesh":    &cfg.Gateway.Mesh,
		"address": &cfg.Gateway.Address,
		"capture": &cfg.Gateway.Capture,
	} {
		if flags.Lookup(name) == nil {
			continue
		}
		if v, _ := flags.GetString(name); v != "" {
			*dst = v
		}
	}
	if flags.Lookup("buttons") != nil {
		if v, _ := flags.GetString("buttons"); v != "" {
			state, err := parseButtons(v)
			if err != nil {
				return err
			}
			cfg.Gateway.Buttons = state
		}
	}
	return cfg.Validate()
}

func parseButtons(s string) ([]bool, error) {
	var state []bool
	for _, field := range strings.Split(s, ",") {
		switch strings.TrimSpace(field) {
		case "0":
			state = append(state, false)
		case "1":
			state = append(state, true)
		default:
			return nil, fmt.Errorf("button state %q must be a comma separated list of 0 and 1", s)
		}
	}
	return state, nil
}

// newGateway builds a gateway from cfg.Gateway
func newGateway(link io.Writer, mesh gateway.Broadcaster, rec *capture.Writer, log *zap.Logger) (*gateway.Gateway, error) {
	return gateway.New(link, mesh, gateway.Options{
		Address:      cfg.Gateway.Address,
		Deadline:     cfg.Gateway.Deadline.Std(),
		BusyDeadline: cfg.Gateway.BusyDeadline.Std(),
		PollInterval: cfg.Gateway.PollInterval.Std(),
		SendInterval: cfg.Gateway.SendInterval.Std(),
		StatsEvery:   cfg.Gateway.StatsInterval.Std(),
		Buttons:      gateway.NewStaticButtons(cfg.Gateway.Buttons),
		Logger:       log,
		Capture:      rec,
	})
}

// serveLink serves the client link over WebSocket on addr
func serveLink(ctx context.Context, addr string, log *zap.Logger) (*transport.Session, <-chan error, error) {
	password := ""
	if cfg.Link.Username != "" {
		var err error
		if password, err = transport.GetPassword(); err != nil {
			return nil, nil, err
		}
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}
	session := transport.NewSession()
	srv := transport.NewServer(session, cfg.Link.Username, password, log)
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ctx, ln) }()
	return session, errc, nil
}

// errListenerStopped reports a link listener that ended without an error
var errListenerStopped = errors.New("listener stopped")

// runWithListener runs the gateway until it returns or the link listener
// fails. A nil serveErr (serial link) is never ready.
func runWithListener(ctx context.Context, run func(context.Context) error, serveErr <-chan error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- run(ctx) }()

	select {
	case err := <-runErr:
		return err
	case err := <-serveErr:
		if ctx.Err() != nil {
			return <-runErr
		}
		cancel()
		<-runErr
		if err == nil {
			err = errListenerStopped
		}
		return fmt.Errorf("link listener: %w", err)
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	if err := applyGatewayFlags(cmd); err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	log := logging.Named("gateway")

	var link transport.Link
	var linkInfo string
	var serveErr <-chan error
	if cfg.Gateway.Listen != "" {
		session, errc, err := serveLink(ctx, cfg.Gateway.Listen, log.Named("link"))
		if err != nil {
			exitWith(exitConnection, "Listen error", err)
		}
		link, linkInfo, serveErr = session, fmt.Sprintf("WebSocket: %s", cfg.Gateway.Listen), errc
	} else {
		if cfg.Link.Port == "" {
			return fmt.Errorf("either --port or --listen must be specified")
		}
		serialLink, err := transport.OpenSerial(cfg.Link.Port, cfg.Link.Baud)
		if err != nil {
			exitWith(exitConnection, "Connection error", err)
		}
		link, linkInfo = serialLink, fmt.Sprintf("Serial: %s @ %d baud", cfg.Link.Port, cfg.Link.Baud)
	}
	defer link.Close()

	mesh, err := dialMesh(ctx, cfg.Gateway.Mesh, log)
	if err != nil {
		exitWith(exitConnection, "Mesh error", err)
	}
	defer mesh.Close()

	rec, err := openCapture(cfg.Gateway.Capture)
	if err != nil {
		return err
	}
	defer rec.Close()

	g, err := newGateway(link, mesh, rec, log)
	if err != nil {
		return err
	}

	fmt.Printf("Lumen - Gateway %s\n", cfg.Gateway.Address)
	fmt.Printf("Link: %s\n", linkInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	// reads blocked in the link and mesh end when they are closed
	go func() {
		<-ctx.Done()
		link.Close()
		mesh.Close()
	}()

	err = runWithListener(ctx, func(ctx context.Context) error {
		return g.Run(ctx, link, mesh)
	}, serveErr)
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		log.Info("gateway stopped", zap.String("statistics", g.Statistics().String()))
		return nil
	}
	return err
}
