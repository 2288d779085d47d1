// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ColdFireHunter/HS-PROJECT-INFO2/pkg/logging"
	"github.com/ColdFireHunter/HS-PROJECT-INFO2/pkg/medium"
)

var hubCmd = &cobra.Command{
	Use:   "hub",
	Short: "Run a WebSocket broadcast hub for the mesh",
	Long: `Run the shared broadcast medium over WebSocket.

Every binary message a station sends is relayed to all other stations, so a
gateway and any number of nodes on different hosts hear each other as they
would on a radio channel. The hub is announced over mDNS as ` + medium.ServiceType + `
unless --advertise=false.`,
	Annotations: map[string]string{serviceAnnotation: ""},
	RunE:        runHub,
}

func init() {
	rootCmd.AddCommand(hubCmd)
	hubCmd.Flags().String("listen", "", "Listen address (default from config, :7420)")
	hubCmd.Flags().Bool("advertise", true, "Announce the hub over mDNS")
	hubCmd.Flags().String("instance", "", "mDNS instance name (default from config)")
}

func runHub(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	if v, _ := flags.GetString("listen"); v != "" {
		cfg.Hub.Listen = v
	}
	if flags.Changed("advertise") {
		cfg.Hub.Advertise, _ = flags.GetBool("advertise")
	}
	if v, _ := flags.GetString("instance"); v != "" {
		cfg.Hub.Instance = v
	}

	ctx, cancel := signalContext()
	defer cancel()

	log := logging.Named("hub")
	ln, err := net.Listen("tcp", cfg.Hub.Listen)
	if err != nil {
		exitWith(exitConnection, "Listen error", err)
	}

	if cfg.Hub.Advertise {
		port := ln.Addr().(*net.TCPAddr).Port
		adv, err := medium.Advertise(cfg.Hub.Instance, port)
		if err != nil {
			// the hub is still reachable by URL
			log.Warn("mDNS advertisement failed", zap.Error(err))
		} else {
			defer adv.Shutdown()
			log.Info("advertising hub", zap.String("instance", cfg.Hub.Instance), zap.Int("port", port))
		}
	}

	fmt.Printf("Lumen - Mesh Hub\n")
	fmt.Printf("Listening: ws://%s/\n", ln.Addr())
	fmt.Printf("Press Ctrl+C to exit\n\n")

	if err := medium.NewHub(log).Serve(ctx, ln); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// dialMesh joins the hub at url, or the first hub found over mDNS
func dialMesh(ctx context.Context, url string, log *zap.Logger) (*medium.Conn, error) {
	if url == "" {
		log.Info("browsing for mesh hub", zap.String("service", medium.ServiceType))
		found, err := medium.Browse(ctx, cfg.Hub.Instance, medium.DefaultBrowseTimeout)
		if err != nil {
			return nil, fmt.Errorf("no --mesh URL given and %w", err)
		}
		url = found
	}
	conn, err := medium.Dial(ctx, url)
	if err != nil {
		return nil, err
	}
	log.Info("joined mesh", zap.String("hub", url))
	return conn, nil
}
