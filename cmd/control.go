// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ColdFireHunter/HS-PROJECT-INFO2/pkg/client"
	"github.com/ColdFireHunter/HS-PROJECT-INFO2/pkg/lumen"
)

var (
	colorPreset string
	colorOff    bool
	toneFollow  bool
)

var heartbeatCmd = &cobra.Command{
	Use:   "heartbeat INDEX",
	Short: "Check that a node answers",
	Long: `Send a heartbeat to the node at INDEX. The node toggles its status light
and the gateway answers OKAY.`,
	Args: cobra.ExactArgs(1),
	RunE: runHeartbeat,
}

var colorCmd = &cobra.Command{
	Use:   "color INDEX [R G B W A UV]",
	Short: "Set a node's six light channels",
	Long: `Set the R, G, B, W, A and UV channels (0-255) of the node at INDEX.

Missing trailing channels are set to 0. Use --preset for a named colour or
--off to turn every channel off.`,
	Args: cobra.RangeArgs(1, 1+lumen.ColorChannels),
	RunE: runColor,
}

var sensorsCmd = &cobra.Command{
	Use:   "sensors INDEX",
	Short: "Read a node's environmental sensors",
	Args:  cobra.ExactArgs(1),
	RunE:  runSensors,
}

var toneCmd = &cobra.Command{
	Use:   "tone INDEX NAME",
	Short: "Play a named tone on a node",
	Long: `Play tone NAME ([A-Z0-9_]+) on the node at INDEX.

The node reports BUSY while it plays. Without --follow that ends the command;
with --follow the command waits for the final OKAY.`,
	Args: cobra.ExactArgs(2),
	RunE: runTone,
}

var buttonsCmd = &cobra.Command{
	Use:   "buttons",
	Short: "Read the gateway's buttons",
	Args:  cobra.NoArgs,
	RunE:  runButtons,
}

func init() {
	for _, c := range []*cobra.Command{heartbeatCmd, colorCmd, sensorsCmd, toneCmd, buttonsCmd} {
		addNackFlag(c)
		rootCmd.AddCommand(c)
	}

	presets := make([]string, 0, len(lumen.ColorPresets))
	for _, p := range lumen.ColorPresets {
		presets = append(presets, p.Name)
	}
	colorCmd.Flags().StringVar(&colorPreset, "preset", "", "Preset colour: "+strings.Join(presets, ", "))
	colorCmd.Flags().BoolVar(&colorOff, "off", false, "Turn every channel off")
	toneCmd.Flags().BoolVar(&toneFollow, "follow", false, "Wait through BUSY for the final result")
}

func parseIndex(arg string) (int, error) {
	index, err := strconv.Atoi(arg)
	if err != nil || index < 0 || index >= lumen.MaxDevices {
		return 0, fmt.Errorf("index %q must be 0-%d", arg, lumen.MaxDevices-1)
	}
	return index, nil
}

func runHeartbeat(cmd *cobra.Command, args []string) error {
	index, err := parseIndex(args[0])
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	d, link, _ := connect(ctx)
	defer link.Close()

	exitOnProtocol(d.Heartbeat(ctx, index))
	fmt.Println("Command acknowledged successfully.")
	return nil
}

// colorFromArgs builds the colour from --off, --preset or channel values
func colorFromArgs(values []string) (lumen.Color, error) {
	var c lumen.Color
	switch {
	case colorOff:
		if colorPreset != "" || len(values) > 0 {
			return c, fmt.Errorf("--off cannot be combined with other colours")
		}
		return c, nil
	case colorPreset != "":
		if len(values) > 0 {
			return c, fmt.Errorf("--preset cannot be combined with channel values")
		}
		preset, ok := lumen.LookupPreset(colorPreset)
		if !ok {
			return c, fmt.Errorf("unknown preset %q", colorPreset)
		}
		return preset, nil
	case len(values) == 0:
		return c, fmt.Errorf("give channel values, --preset or --off")
	}
	for i, v := range values {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 255 {
			return c, fmt.Errorf("%s value %q must be 0-255", lumen.ChannelNames[i], v)
		}
		c[i] = uint8(n)
	}
	return c, nil
}

func runColor(cmd *cobra.Command, args []string) error {
	index, err := parseIndex(args[0])
	if err != nil {
		return err
	}
	color, err := colorFromArgs(args[1:])
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	d, link, _ := connect(ctx)
	defer link.Close()

	exitOnProtocol(d.SetColor(ctx, index, color))
	fmt.Printf("Colour set: %s\n", lumen.FormatColor(color))
	return nil
}

func runSensors(cmd *cobra.Command, args []string) error {
	index, err := parseIndex(args[0])
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	d, link, _ := connect(ctx)
	defer link.Close()

	r, err := d.ReadSensors(ctx, index)
	exitOnProtocol(err)

	fmt.Printf("Temperature: %.2f °C\n", r.Temperature)
	fmt.Printf("Humidity: %.2f %%\n", r.Humidity)
	fmt.Printf("TVOC: %d ppb\n", r.TVOC)
	if r.HasLux {
		fmt.Printf("LUX: %.2f lux\n", r.Lux)
	}
	return nil
}

func runTone(cmd *cobra.Command, args []string) error {
	index, err := parseIndex(args[0])
	if err != nil {
		return err
	}
	name := strings.ToUpper(strings.TrimSpace(args[1]))
	if !lumen.ValidToneName(name) {
		return fmt.Errorf("tone name %q must match [A-Z0-9_]+", args[1])
	}
	ctx, cancel := signalContext()
	defer cancel()

	d, link, _ := connect(ctx)
	defer link.Close()

	err = d.PlayTone(ctx, index, name, toneFollow)
	if errors.Is(err, client.ErrBusy) {
		// usually the node has started playing
		fmt.Println("Device is busy. Please wait!")
		return nil
	}
	exitOnProtocol(err)
	fmt.Println("Tone command acknowledged successfully.")
	return nil
}

func runButtons(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	d, link, _ := connect(ctx)
	defer link.Close()

	state, err := d.ReadButtons(ctx)
	exitOnProtocol(err)

	fmt.Println("Button States:")
	for i, pressed := range state {
		v := 0
		if pressed {
			v = 1
		}
		fmt.Printf("STATE%d: %d\n", i+1, v)
	}
	return nil
}
