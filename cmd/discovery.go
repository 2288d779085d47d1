// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var discoveryCmd = &cobra.Command{
	Use:   "discovery",
	Short: "Search for fixture nodes",
	Long: `Ask the gateway to search the mesh for fixture nodes.

The gateway clears its registry, broadcasts a search and collects replies
until its deadline. Each node found is listed with the index used to address
it in later commands. Finding no nodes is a valid outcome.

Indices are only valid until the next discovery.

Exit codes:
  0 - Discovery finished (with or without nodes)
  1 - Gateway busy or no reply
  2 - Connection error`,
	RunE: runDiscovery,
}

func init() {
	rootCmd.AddCommand(discoveryCmd)
}

// signalContext ends on Ctrl+C or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runDiscovery(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	d, link, connInfo := connect(ctx)
	defer link.Close()

	fmt.Printf("Lumen - Discovery\n")
	fmt.Printf("Connection: %s\n\n", connInfo)

	devices, err := d.Discover(ctx)
	exitOnProtocol(err)

	if len(devices) == 0 {
		fmt.Println("No devices found.")
		return nil
	}
	fmt.Printf("Found %d device(s):\n", len(devices))
	for _, dev := range devices {
		fmt.Printf("  %d: %s\n", dev.Index, dev.Address)
	}
	return nil
}
