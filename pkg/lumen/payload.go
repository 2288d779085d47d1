// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lumen

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FieldSeparator joins typed reply fields
const FieldSeparator = "$"

// ColorChannels is the number of output channels (R, G, B, W, A, UV)
const ColorChannels = 6

// ChannelNames labels the colour channels in order
var ChannelNames = [ColorChannels]string{"R", "G", "B", "W", "A", "UV"}

// Color holds one 0-255 value per output channel
type Color [ColorChannels]uint8

// ColorPresets are the named colours offered by operator tools
var ColorPresets = []struct {
	Name  string
	Color Color
}{
	{"RED", Color{255, 0, 0, 0, 0, 0}},
	{"ORANGE", Color{255, 165, 0, 0, 0, 0}},
	{"YELLOW", Color{255, 255, 0, 0, 0, 0}},
	{"GREEN", Color{0, 255, 0, 0, 0, 0}},
	{"BLUE", Color{0, 0, 255, 0, 0, 0}},
	{"PURPLE", Color{128, 0, 128, 0, 0, 0}},
	{"WHITE", Color{0, 0, 0, 255, 0, 0}},
	{"UV", Color{0, 0, 0, 0, 0, 255}},
}

// LookupPreset finds a preset colour by case-insensitive name
func LookupPreset(name string) (Color, bool) {
	for _, p := range ColorPresets {
		if strings.EqualFold(p.Name, name) {
			return p.Color, true
		}
	}
	return Color{}, false
}

// ============================================================
// Target index
// ============================================================

// ParseIndex parses a payload consisting of exactly one decimal digit
func ParseIndex(payload string) (int, error) {
	if len(payload) != 1 || payload[0] < '0' || payload[0] > '9' {
		return 0, fmt.Errorf("%w: index %q must be a single digit", ErrPayload, payload)
	}
	return int(payload[0] - '0'), nil
}

// FormatIndex renders a registry index as its single digit payload
func FormatIndex(index int) (string, error) {
	if index < 0 || index >= MaxDevices {
		return "", fmt.Errorf("%w: index %d out of range 0-%d", ErrPayload, index, MaxDevices-1)
	}
	return strconv.Itoa(index), nil
}

// ============================================================
// Colour
// ============================================================

// ColorCommand is a link COLR request: target index plus channel values
type ColorCommand struct {
	Index int
	Color Color
}

// ParseColorCommand decodes "I" followed by 3-digit channel values.
// The full form carries six channels. Shorter forms carry the leading
// channels and the rest are zero.
func ParseColorCommand(payload string) (ColorCommand, error) {
	var cmd ColorCommand
	if len(payload) < 4 || (len(payload)-1)%3 != 0 || (len(payload)-1)/3 > ColorChannels {
		return cmd, fmt.Errorf("%w: colour payload %q has bad length %d", ErrPayload, payload, len(payload))
	}
	index, err := ParseIndex(payload[:1])
	if err != nil {
		return cmd, err
	}
	cmd.Index = index

	values := payload[1:]
	for ch := 0; ch*3 < len(values); ch++ {
		field := values[ch*3 : ch*3+3]
		v, ok := parseDigits(field)
		if !ok || v > 255 {
			return ColorCommand{}, fmt.Errorf("%w: channel %s value %q not in 000-255", ErrPayload, ChannelNames[ch], field)
		}
		cmd.Color[ch] = uint8(v)
	}
	return cmd, nil
}

// Payload renders the full-form link payload
func (c ColorCommand) Payload() string {
	var b strings.Builder
	b.WriteByte(byte('0' + c.Index))
	for _, v := range c.Color {
		fmt.Fprintf(&b, "%03d", v)
	}
	return b.String()
}

// MeshColor renders the node colour payload: "0x" and 12 uppercase hex digits
func MeshColor(c Color) string {
	var b strings.Builder
	b.WriteString("0x")
	for _, v := range c {
		fmt.Fprintf(&b, "%02X", v)
	}
	return b.String()
}

// ParseMeshColor validates and decodes a node colour payload
func ParseMeshColor(payload string) (Color, error) {
	var c Color
	if len(payload) != 2+ColorChannels*2 {
		return c, fmt.Errorf("%w: colour code %q must be 0x plus %d hex digits", ErrPayload, payload, ColorChannels*2)
	}
	if payload[:2] != "0x" && payload[:2] != "0X" {
		return c, fmt.Errorf("%w: colour code %q must start with 0x", ErrPayload, payload)
	}
	for ch := 0; ch < ColorChannels; ch++ {
		v, err := strconv.ParseUint(payload[2+ch*2:4+ch*2], 16, 8)
		if err != nil {
			return Color{}, fmt.Errorf("%w: colour code %q has invalid hex", ErrPayload, payload)
		}
		c[ch] = uint8(v)
	}
	return c, nil
}

// ============================================================
// Tone
// ============================================================

// ToneCommand is a link TONE request: target index plus tone name
type ToneCommand struct {
	Index int
	Name  string
}

// ValidToneName reports whether name is a non-empty [A-Z0-9_] identifier
// that fits a payload.
func ValidToneName(name string) bool {
	if name == "" || len(name) > PayloadSize-1 {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if !(c >= 'A' && c <= 'Z') && !(c >= '0' && c <= '9') && c != '_' {
			return false
		}
	}
	return true
}

// ParseToneCommand decodes "I" followed by an uppercase tone name
func ParseToneCommand(payload string) (ToneCommand, error) {
	if len(payload) < 2 {
		return ToneCommand{}, fmt.Errorf("%w: tone payload %q too short", ErrPayload, payload)
	}
	index, err := ParseIndex(payload[:1])
	if err != nil {
		return ToneCommand{}, err
	}
	name := payload[1:]
	if !ValidToneName(name) {
		return ToneCommand{}, fmt.Errorf("%w: tone name %q must match [A-Z0-9_]+", ErrPayload, name)
	}
	return ToneCommand{Index: index, Name: name}, nil
}

// Payload renders the link payload
func (t ToneCommand) Payload() string {
	return string(rune('0'+t.Index)) + t.Name
}

// ============================================================
// Sensors
// ============================================================

// SensorReading is the typed SENS reply: temperature$humidity$tvoc[$lux]
type SensorReading struct {
	Temperature float64 // degrees C
	Humidity    float64 // %RH
	TVOC        int     // ppb
	Lux         float64
	HasLux      bool
}

// ParseSensorReading decodes and validates a SENS reply payload
func ParseSensorReading(payload string) (SensorReading, error) {
	var r SensorReading
	fields := strings.Split(payload, FieldSeparator)
	if len(fields) != 3 && len(fields) != 4 {
		return r, fmt.Errorf("%w: sensor payload %q needs 3 or 4 fields, got %d", ErrPayload, payload, len(fields))
	}

	var err error
	if r.Temperature, err = parseFinite(fields[0]); err != nil {
		return SensorReading{}, fmt.Errorf("%w: temperature %q", ErrPayload, fields[0])
	}
	if r.Humidity, err = parseFinite(fields[1]); err != nil {
		return SensorReading{}, fmt.Errorf("%w: humidity %q", ErrPayload, fields[1])
	}
	if r.TVOC, err = strconv.Atoi(fields[2]); err != nil || r.TVOC < 0 {
		return SensorReading{}, fmt.Errorf("%w: tvoc %q", ErrPayload, fields[2])
	}
	if len(fields) == 4 {
		if r.Lux, err = parseFinite(fields[3]); err != nil {
			return SensorReading{}, fmt.Errorf("%w: lux %q", ErrPayload, fields[3])
		}
		r.HasLux = true
	}
	return r, nil
}

// Payload renders the canonical SENS payload
func (r SensorReading) Payload() string {
	s := fmt.Sprintf("%.2f$%.2f$%d", r.Temperature, r.Humidity, r.TVOC)
	if r.HasLux {
		s += fmt.Sprintf("$%.2f", r.Lux)
	}
	return s
}

func (r SensorReading) String() string {
	s := fmt.Sprintf("temp=%.2fC humidity=%.2f%% tvoc=%dppb", r.Temperature, r.Humidity, r.TVOC)
	if r.HasLux {
		s += fmt.Sprintf(" lux=%.2f", r.Lux)
	}
	return s
}

// ============================================================
// Buttons
// ============================================================

// ButtonState is the BUTS reply bitmap, one entry per button
type ButtonState []bool

// ParseButtonState decodes a "$"-joined 0/1 bitmap
func ParseButtonState(payload string) (ButtonState, error) {
	if payload == "" {
		return nil, fmt.Errorf("%w: empty button bitmap", ErrPayload)
	}
	fields := strings.Split(payload, FieldSeparator)
	state := make(ButtonState, len(fields))
	for i, f := range fields {
		switch f {
		case "0":
		case "1":
			state[i] = true
		default:
			return nil, fmt.Errorf("%w: button %d value %q must be 0 or 1", ErrPayload, i, f)
		}
	}
	return state, nil
}

// Payload renders the bitmap
func (b ButtonState) Payload() string {
	fields := make([]string, len(b))
	for i, pressed := range b {
		if pressed {
			fields[i] = "1"
		} else {
			fields[i] = "0"
		}
	}
	return strings.Join(fields, FieldSeparator)
}

func parseDigits(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	v := 0
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
		v = v*10 + int(s[i]-'0')
	}
	return v, true
}

func parseFinite(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite value %q", s)
	}
	return v, nil
}
