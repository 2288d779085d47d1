// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ColdFireHunter/HS-PROJECT-INFO2/pkg/lumen"
)

var (
	frameTestTimeout int
	frameTestMesh    string
	frameTestProbe   bool
)

var frameTestCmd = &cobra.Command{
	Use:   "frame_test",
	Short: "Test connection by waiting for a valid Lumen frame",
	Long: `Wait for a valid Lumen frame on the connection until timeout.

On the link the gateway only speaks when asked, so the command first sends a
button read (disable with --probe=false). With --mesh it joins a mesh hub and
waits for any valid mesh frame instead. Invalid bytes are ignored.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error`,
	RunE: runFrameTest,
}

func init() {
	rootCmd.AddCommand(frameTestCmd)
	frameTestCmd.Flags().IntVar(&frameTestTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
	frameTestCmd.Flags().StringVar(&frameTestMesh, "mesh", "", "Mesh hub URL to listen on instead of the link")
	frameTestCmd.Flags().BoolVar(&frameTestProbe, "probe", true, "Send a button read to the gateway first")
}

func runFrameTest(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, time.Duration(frameTestTimeout)*time.Second)
	defer cancelTimeout()

	events, errc, connInfo, conn, err := openTap(ctx, frameTestMesh)
	if err != nil {
		exitWith(exitConnection, "Connection error", err)
	}
	defer conn.Close()

	// the link tap is writable, a mesh tap only listens
	var probe io.Writer
	if w, ok := conn.(io.Writer); ok && frameTestMesh == "" && frameTestProbe {
		probe = w
	}

	fmt.Printf("Lumen - Frame Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", frameTestTimeout)
	fmt.Printf("Waiting for valid Lumen frame...\n\n")

	if probe != nil {
		if _, err := probe.Write(lumen.NewReadButtonsRequest().Bytes()); err != nil {
			exitWith(exitConnection, "Write error", err)
		}
	}

	invalidBytes := 0
	for ev := range events {
		if ev.err != nil {
			invalidBytes += len(ev.raw)
			continue
		}
		if invalidBytes > 0 {
			fmt.Printf("(skipped %d invalid bytes before sync)\n", invalidBytes)
		}
		f := ev.frame
		fmt.Printf("SUCCESS: Received valid frame\n")
		fmt.Printf("  Kind: %s\n", f.Kind())
		fmt.Printf("  Direction: %s\n", f.Direction())
		if f.Kind() == lumen.KindMesh {
			fmt.Printf("  Address: %s\n", f.Address())
		}
		fmt.Printf("  Command: %s\n", lumen.FormatCommand(f.Command()))
		fmt.Printf("  Checksum: 0x%02X\n", f.Checksum())
		os.Exit(exitOK)
	}

	if ctx.Err() != nil {
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", frameTestTimeout)
		os.Exit(exitProtocol)
	}
	select {
	case err := <-errc:
		exitWith(exitConnection, "Read error", err)
	default:
	}
	exitWith(exitConnection, "Read error", fmt.Errorf("connection closed"))
	return nil
}
