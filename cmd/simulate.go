// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ColdFireHunter/HS-PROJECT-INFO2/pkg/logging"
	"github.com/ColdFireHunter/HS-PROJECT-INFO2/pkg/medium"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a gateway and simulated nodes in one process",
	Long: `Run a complete fixture network on this host.

A gateway and --nodes simulated nodes share an in-process broadcast medium.
The gateway's client link is served over WebSocket on --listen, so every
client command works against it:

  lumen simulate --nodes 3
  lumen --url ws://127.0.0.1:7421/ discovery
  lumen --url ws://127.0.0.1:7421/ console`,
	Annotations: map[string]string{serviceAnnotation: ""},
	RunE:        runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().Int("nodes", 3, "Number of simulated nodes")
	simulateCmd.Flags().String("listen", "127.0.0.1:7421", "Serve the client link over WebSocket on this address")
	simulateCmd.Flags().Int64("seed", 1, "Sensor simulation seed")
	simulateCmd.Flags().Float64("tempo", 1, "Song duration multiplier, 0 plays instantly")
	simulateCmd.Flags().String("capture", "", "Record gateway traffic to this file")
	simulateCmd.Flags().String("buttons", "", "Static button state, e.g. 0,1,0,0")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	if err := applyGatewayFlags(cmd); err != nil {
		return err
	}
	flags := cmd.Flags()
	count, _ := flags.GetInt("nodes")
	if count < 0 {
		return fmt.Errorf("--nodes must not be negative")
	}
	listen, _ := flags.GetString("listen")
	seed, _ := flags.GetInt64("seed")
	tempo, _ := flags.GetFloat64("tempo")

	ctx, cancel := signalContext()
	defer cancel()

	log := logging.Named("simulate")
	bus := medium.NewBus(0)

	session, serveErr, err := serveLink(ctx, listen, log.Named("link"))
	if err != nil {
		exitWith(exitConnection, "Listen error", err)
	}
	defer session.Close()

	rec, err := openCapture(cfg.Gateway.Capture)
	if err != nil {
		return err
	}
	defer rec.Close()

	gwPort := bus.Port()
	g, err := newGateway(session, gwPort, rec, log.Named("gateway"))
	if err != nil {
		return err
	}

	// the first task to stop ends the simulation
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	errc := make(chan error, count+2)
	spawn := func(task func() error) {
		go func() { errc <- task() }()
	}
	spawn(func() error { return g.Run(ctx, session, gwPort) })
	spawn(func() error { return <-serveErr })

	fmt.Printf("Lumen - Simulation\n")
	fmt.Printf("Gateway: %s\n", cfg.Gateway.Address)
	for i := 0; i < count; i++ {
		port := bus.Port()
		address := fmt.Sprintf("02:00:00:00:01:%02x", i)
		n, err := newSimNode(port.Broadcast, simOptions{
			address: address,
			seed:    seed + int64(i),
			lux:     i%2 == 0,
			tempo:   tempo,
		}, log.Named("node").With(zap.Int("sim", i)))
		if err != nil {
			return err
		}
		spawn(func() error { return n.Run(ctx, port) })
		fmt.Printf("Node %d: %s\n", i, address)
	}
	fmt.Printf("Link: ws://%s/\n", listen)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	// ports unblock their receivers when closed
	go func() {
		<-ctx.Done()
		session.Close()
		gwPort.Close()
	}()

	err = <-errc
	stop()
	if errors.Is(err, context.Canceled) || errors.Is(err, medium.ErrClosed) {
		fmt.Println()
		fmt.Print(g.Statistics().String())
		return nil
	}
	return err
}
