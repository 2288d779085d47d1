// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ColdFireHunter/HS-PROJECT-INFO2/pkg/logging"
	"github.com/ColdFireHunter/HS-PROJECT-INFO2/pkg/node"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Run a simulated fixture node on the mesh",
	Long: `Run a fixture node with simulated sensors, light output, buzzer and
status light. The node joins the hub at --mesh, or the first hub found over
mDNS, and answers discovery and commands from the gateway.`,
	Annotations: map[string]string{serviceAnnotation: ""},
	RunE:        runNode,
}

func init() {
	rootCmd.AddCommand(nodeCmd)
	nodeCmd.Flags().String("mesh", "", "Mesh hub URL (default: browse mDNS)")
	nodeCmd.Flags().String("address", "", "Node mesh address (default: random, locally administered)")
	nodeCmd.Flags().Int64("seed", 0, "Sensor simulation seed (default: time based)")
	nodeCmd.Flags().Bool("lux", true, "Include a light sensor reading")
	nodeCmd.Flags().Float64("tempo", 1, "Song duration multiplier, 0 plays instantly")
}

// randomAddress returns a locally administered unicast MAC address
func randomAddress() string {
	id := uuid.New()
	return fmt.Sprintf("02:%02x:%02x:%02x:%02x:%02x", id[0], id[1], id[2], id[3], id[4])
}

type simOptions struct {
	address string
	seed    int64
	lux     bool
	tempo   float64
}

// newSimNode builds a node with simulated hardware
func newSimNode(send func([]byte) error, opts simOptions, log *zap.Logger) (*node.Node, error) {
	return node.New(send, node.Options{
		Address:   opts.address,
		Sensors:   node.NewSimSensors(opts.seed, opts.lux),
		Output:    &node.SimOutput{},
		Buzzer:    node.NewSimBuzzer(opts.tempo),
		Indicator: &node.SimIndicator{},
		JitterMin: cfg.Node.JitterMin.Std(),
		JitterMax: cfg.Node.JitterMax.Std(),
		Logger:    log,
	})
}

func runNode(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	if v, _ := flags.GetString("mesh"); v != "" {
		cfg.Node.Mesh = v
	}
	if v, _ := flags.GetString("address"); v != "" {
		cfg.Node.Address = v
	}
	if cfg.Node.Address == "" {
		cfg.Node.Address = randomAddress()
	}
	opts := simOptions{address: cfg.Node.Address}
	opts.seed, _ = flags.GetInt64("seed")
	if opts.seed == 0 {
		opts.seed = time.Now().UnixNano()
	}
	opts.lux, _ = flags.GetBool("lux")
	opts.tempo, _ = flags.GetFloat64("tempo")

	ctx, cancel := signalContext()
	defer cancel()

	log := logging.Named("node")
	mesh, err := dialMesh(ctx, cfg.Node.Mesh, log)
	if err != nil {
		exitWith(exitConnection, "Mesh error", err)
	}
	defer mesh.Close()

	n, err := newSimNode(mesh.Broadcast, opts, log)
	if err != nil {
		return err
	}

	fmt.Printf("Lumen - Node %s\n", n.Address())
	fmt.Printf("Press Ctrl+C to exit\n\n")

	if err := n.Run(ctx, mesh); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
