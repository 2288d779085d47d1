// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package node

// Sensors reads the environmental sensors. The result is the SENS payload,
// temperature$humidity$tvoc with an optional $lux.
type Sensors interface {
	ReadSensors() (string, error)
}

// Output applies a colour payload ("0x" and 12 hex digits) to the lamp
// channels. A rejected payload must leave the output unchanged.
type Output interface {
	SetOutput(payload string) error
}

// Buzzer plays named tones. PlayTone blocks until playback ends.
type Buzzer interface {
	ToneExists(name string) bool
	PlayTone(name string) error
}

// Indicator is the status light toggled on every heartbeat
type Indicator interface {
	Toggle()
}
