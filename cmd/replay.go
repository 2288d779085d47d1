// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ColdFireHunter/HS-PROJECT-INFO2/pkg/capture"
	"github.com/ColdFireHunter/HS-PROJECT-INFO2/pkg/lumen"
)

var replayErrorsOnly bool

var replayCmd = &cobra.Command{
	Use:   "replay FILE",
	Short: "Decode a capture file",
	Long: `Print every record of a capture written by raw_log --capture or the
gateway's capture option, followed by frame statistics.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().BoolVar(&replayErrorsOnly, "errors-only", false, "Only show records that failed to decode")
}

func runReplay(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	defer f.Close()

	stats := lumen.NewStatistics()
	r := capture.NewReader(f)
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		frame, decodeErr := rec.Frame()
		if rec.Error != "" && decodeErr == nil {
			decodeErr = errors.New(rec.Error)
		}
		stats.Update(frame, decodeErr)

		dir := "rx"
		if rec.Outbound {
			dir = "tx"
		}
		timestamp := rec.Time().Format("2006-01-02 15:04:05.000")
		if decodeErr != nil {
			fmt.Printf("[%s] %s %s ERROR %v: %s\n", timestamp, rec.FrameKind(), dir, decodeErr, lumen.FormatRaw(rec.Raw))
			continue
		}
		if !replayErrorsOnly {
			fmt.Printf("[%s] %s %s\n", timestamp, dir, lumen.FormatFrame(frame))
		}
	}

	fmt.Println()
	fmt.Print(stats.String())
	return nil
}
