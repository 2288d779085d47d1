// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lumen

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// FormatFrame formats a frame into a human-readable line
func FormatFrame(f *Frame) string {
	timestamp := f.timestamp.Format("15:04:05.000")
	arrow := "->"
	if f.direction == FromGateway {
		arrow = "<-"
	}

	result := fmt.Sprintf("[%s] %s %s %s", timestamp, f.kind, arrow, FormatCommand(f.command))
	if f.kind == KindMesh {
		result += fmt.Sprintf(" addr=%s", f.address)
	}
	if detail := FormatPayload(f.command, f.payload); detail != "" {
		result += " " + detail
	}
	return result
}

// FormatCommand returns the human-readable name for a command code
func FormatCommand(cmd string) string {
	switch cmd {
	case CmdSearch:
		return "SEARCH"
	case CmdResponse:
		return "SEARCH_RESPONSE"
	case CmdNoDevices:
		return "NO_DEVICES"
	case CmdHeartbeat:
		return "HEARTBEAT"
	case CmdColor:
		return "COLOR"
	case CmdSensors:
		return "SENSORS"
	case CmdTone:
		return "TONE"
	case CmdReadButtons:
		return "READ_BUTTONS"
	case CmdButtons:
		return "BUTTONS"
	case CmdOkay:
		return "OKAY"
	case CmdNack:
		return "NACK"
	case CmdBusy:
		return "BUSY"
	}
	if i, ok := ParseDeviceCommand(cmd); ok {
		return fmt.Sprintf("DEVICE[%d]", i)
	}
	return fmt.Sprintf("UNKNOWN(%s)", cmd)
}

// FormatPayload decodes payloads whose shape is known from the command.
// Payloads that do not decode are shown raw.
func FormatPayload(cmd, payload string) string {
	if payload == "" {
		return ""
	}
	switch cmd {
	case CmdSensors:
		if r, err := ParseSensorReading(payload); err == nil {
			return r.String()
		}
		if i, err := ParseIndex(payload); err == nil {
			return fmt.Sprintf("index=%d", i)
		}
	case CmdColor:
		if c, err := ParseColorCommand(payload); err == nil {
			return fmt.Sprintf("index=%d %s", c.Index, FormatColor(c.Color))
		}
		if c, err := ParseMeshColor(payload); err == nil {
			return FormatColor(c)
		}
	case CmdTone:
		if t, err := ParseToneCommand(payload); err == nil {
			return fmt.Sprintf("index=%d tone=%s", t.Index, t.Name)
		}
		return fmt.Sprintf("tone=%s", payload)
	case CmdButtons:
		if b, err := ParseButtonState(payload); err == nil {
			return FormatButtons(b)
		}
	case CmdHeartbeat:
		if i, err := ParseIndex(payload); err == nil {
			return fmt.Sprintf("index=%d", i)
		}
	}
	return fmt.Sprintf("payload=%q", payload)
}

// FormatColor renders channel values with their labels
func FormatColor(c Color) string {
	parts := make([]string, ColorChannels)
	for i, v := range c {
		parts[i] = fmt.Sprintf("%s=%d", ChannelNames[i], v)
	}
	return strings.Join(parts, " ")
}

// FormatButtons renders a button bitmap as pressed/released markers
func FormatButtons(b ButtonState) string {
	parts := make([]string, len(b))
	for i, pressed := range b {
		mark := "up"
		if pressed {
			mark = "DOWN"
		}
		parts[i] = fmt.Sprintf("btn%d=%s", i, mark)
	}
	return strings.Join(parts, " ")
}

// FormatRaw renders raw bytes for diagnostics
func FormatRaw(raw []byte) string {
	return fmt.Sprintf("%q (%s)", raw, hex.EncodeToString(raw))
}
