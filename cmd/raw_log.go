// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ColdFireHunter/HS-PROJECT-INFO2/pkg/capture"
	"github.com/ColdFireHunter/HS-PROJECT-INFO2/pkg/lumen"
	"github.com/ColdFireHunter/HS-PROJECT-INFO2/pkg/medium"
)

var (
	tapMesh     string
	capturePath string
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw frame log in human-readable format",
	Long: `Continuously decode and display Lumen frames as they arrive.

By default the client link is read (serial or WebSocket). With --mesh the
command joins a mesh hub instead and shows every frame broadcast between the
gateway and its nodes.

Use --capture to also record every frame and decode error to a file that
the replay command can read back.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().StringVar(&tapMesh, "mesh", "", "Mesh hub URL to observe instead of the link")
	rawLogCmd.Flags().StringVar(&capturePath, "capture", "", "Record traffic to this file")
}

// tapEvent is one decoded frame or decode failure
type tapEvent struct {
	kind  lumen.Kind
	frame *lumen.Frame
	raw   []byte
	err   error
}

// openTap starts reading the link or a mesh hub. The events channel closes
// when the source fails or ctx ends; the error is then available on errc.
func openTap(ctx context.Context, meshURL string) (<-chan tapEvent, <-chan error, string, io.Closer, error) {
	events := make(chan tapEvent, 100)
	errc := make(chan error, 1)

	if meshURL != "" {
		conn, err := medium.Dial(ctx, meshURL)
		if err != nil {
			return nil, nil, "", nil, err
		}
		go func() {
			defer close(events)
			defer conn.Close()
			for {
				raw, err := conn.Receive(ctx)
				if err != nil {
					errc <- err
					return
				}
				f, decodeErr := lumen.DecodeMesh(raw)
				events <- tapEvent{kind: lumen.KindMesh, frame: f, raw: raw, err: decodeErr}
			}
		}()
		return events, errc, fmt.Sprintf("Mesh hub: %s", meshURL), conn, nil
	}

	conn, connInfo, err := OpenConnection(ctx)
	if err != nil {
		return nil, nil, "", nil, err
	}
	// unblock the pending read on Ctrl+C
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go func() {
		defer close(events)
		decoder := lumen.NewDecoder(lumen.KindLink)
		buf := make([]byte, 128)
		for {
			n, err := conn.Read(buf)
			for i := 0; i < n; i++ {
				f, decodeErr := decoder.DecodeByte(buf[i])
				if decodeErr != nil {
					events <- tapEvent{kind: lumen.KindLink, raw: decoder.GetRawBytes(), err: decodeErr}
					continue
				}
				if f != nil {
					events <- tapEvent{kind: lumen.KindLink, frame: f, raw: f.Bytes()}
				}
			}
			if err != nil {
				errc <- err
				return
			}
		}
	}()
	return events, errc, connInfo, conn, nil
}

func openCapture(path string) (*capture.Writer, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}
	return capture.NewWriter(f), nil
}

func runRawLog(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	rec, err := openCapture(capturePath)
	if err != nil {
		return err
	}
	defer rec.Close()

	events, errc, connInfo, conn, err := openTap(ctx, tapMesh)
	if err != nil {
		exitWith(exitConnection, "Connection error", err)
	}
	defer conn.Close()
	defer cancel()

	fmt.Printf("Lumen - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	if capturePath != "" {
		fmt.Printf("Capture: %s\n", capturePath)
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	for ev := range events {
		if err := rec.Record(ev.kind, false, ev.raw, ev.err); err != nil {
			return err
		}
		if ev.err != nil {
			if !lumen.IsNoise(ev.err) {
				fmt.Printf("[ERROR] %v\n", ev.err)
			}
			continue
		}
		fmt.Println(lumen.FormatFrame(ev.frame))
	}

	select {
	case err := <-errc:
		if ctx.Err() == nil {
			fmt.Printf("Connection closed: %v\n", err)
		}
	default:
	}
	if rec != nil {
		fmt.Printf("\nCaptured %d records\n", rec.Count())
	}
	return nil
}
