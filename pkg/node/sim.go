// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package node

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/ColdFireHunter/HS-PROJECT-INFO2/pkg/lumen"
)

// Simulated hardware lets a node run on any host.

// ============================================================
// Sensors
// ============================================================

// SimSensors produces a slowly drifting reading
type SimSensors struct {
	mu      sync.Mutex
	rng     *rand.Rand
	reading lumen.SensorReading
}

// NewSimSensors creates simulated sensors. withLux adds the light field.
func NewSimSensors(seed int64, withLux bool) *SimSensors {
	return &SimSensors{
		rng: rand.New(rand.NewSource(seed)),
		reading: lumen.SensorReading{
			Temperature: 21.0,
			Humidity:    45.0,
			TVOC:        120,
			Lux:         320.0,
			HasLux:      withLux,
		},
	}
}

// ReadSensors implements Sensors
func (s *SimSensors) ReadSensors() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := &s.reading
	r.Temperature = clamp(r.Temperature+s.rng.NormFloat64()*0.1, -20, 60)
	r.Humidity = clamp(r.Humidity+s.rng.NormFloat64()*0.5, 0, 100)
	r.TVOC = int(clamp(float64(r.TVOC)+s.rng.NormFloat64()*5, 0, 60000))
	if r.HasLux {
		r.Lux = clamp(r.Lux+s.rng.NormFloat64()*10, 0, 100000)
	}
	return r.Payload(), nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// ============================================================
// Output
// ============================================================

// MaxDuty is the PWM range the 0-255 channel values are mapped onto
const MaxDuty = 1023

// SimOutput mirrors six PWM channels
type SimOutput struct {
	mu    sync.Mutex
	color lumen.Color
	duty  [lumen.ColorChannels]int
}

// SetOutput implements Output
func (o *SimOutput) SetOutput(payload string) error {
	c, err := lumen.ParseMeshColor(payload)
	if err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.color = c
	for i, v := range c {
		o.duty[i] = int(v) * MaxDuty / 255
	}
	return nil
}

// Color returns the last applied colour
func (o *SimOutput) Color() lumen.Color {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.color
}

// Duty returns the PWM duty per channel
func (o *SimOutput) Duty() [lumen.ColorChannels]int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.duty
}

// ============================================================
// Buzzer
// ============================================================

// Note is one step of a song. An empty pitch is a pause.
type Note struct {
	Pitch    string
	Duration time.Duration
}

var noteOffsets = map[string]int{
	"C": 0, "C#": 1, "Db": 1, "D": 2, "D#": 3, "Eb": 3, "E": 4, "F": 5,
	"F#": 6, "Gb": 6, "G": 7, "G#": 8, "Ab": 8, "A": 9, "A#": 10, "Bb": 10, "B": 11,
}

// NoteFrequency returns the equal-tempered frequency in Hz for names like
// "A4" or "C#5", rounded to the nearest integer. Octaves 1-7 are supported.
func NoteFrequency(pitch string) (int, error) {
	if len(pitch) < 2 {
		return 0, fmt.Errorf("invalid note %q", pitch)
	}
	octave := int(pitch[len(pitch)-1] - '0')
	offset, ok := noteOffsets[pitch[:len(pitch)-1]]
	if !ok || octave < 1 || octave > 7 {
		return 0, fmt.Errorf("invalid note %q", pitch)
	}
	// MIDI numbering: A4 = 69
	midi := (octave+1)*12 + offset
	return int(math.Round(440 * math.Pow(2, float64(midi-69)/12))), nil
}

// DefaultSongs are the tones every simulated node knows
var DefaultSongs = map[string][]Note{
	"STARTUP": {
		{"C5", 120 * time.Millisecond},
		{"E5", 120 * time.Millisecond},
		{"G5", 120 * time.Millisecond},
		{"C6", 240 * time.Millisecond},
	},
	"ALARM": {
		{"A5", 200 * time.Millisecond},
		{"", 100 * time.Millisecond},
		{"A5", 200 * time.Millisecond},
		{"", 100 * time.Millisecond},
		{"A5", 200 * time.Millisecond},
	},
}

// SimBuzzer plays songs by sleeping through each note
type SimBuzzer struct {
	mu     sync.Mutex
	songs  map[string][]Note
	tempo  float64 // duration multiplier, 0 plays instantly
	played []string
	sleep  func(time.Duration)
}

// NewSimBuzzer creates a buzzer with the default songs
func NewSimBuzzer(tempo float64) *SimBuzzer {
	b := &SimBuzzer{songs: make(map[string][]Note), tempo: tempo, sleep: time.Sleep}
	for name, notes := range DefaultSongs {
		b.songs[name] = notes
	}
	return b
}

// AddSong registers a song, validating every pitch
func (b *SimBuzzer) AddSong(name string, notes []Note) error {
	if !lumen.ValidToneName(name) {
		return fmt.Errorf("invalid song name %q", name)
	}
	for _, n := range notes {
		if n.Pitch == "" {
			continue
		}
		if _, err := NoteFrequency(n.Pitch); err != nil {
			return err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.songs[name] = notes
	return nil
}

// ToneExists implements Buzzer
func (b *SimBuzzer) ToneExists(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.songs[name]
	return ok
}

// PlayTone implements Buzzer
func (b *SimBuzzer) PlayTone(name string) error {
	b.mu.Lock()
	notes, ok := b.songs[name]
	tempo := b.tempo
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown tone %q", name)
	}

	for _, n := range notes {
		if d := time.Duration(float64(n.Duration) * tempo); d > 0 {
			b.sleep(d)
		}
	}

	b.mu.Lock()
	b.played = append(b.played, name)
	b.mu.Unlock()
	return nil
}

// Played returns the names of songs played so far
func (b *SimBuzzer) Played() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.played...)
}

// ============================================================
// Indicator
// ============================================================

// SimIndicator is a debug light
type SimIndicator struct {
	mu      sync.Mutex
	on      bool
	toggles int
}

// Toggle implements Indicator
func (i *SimIndicator) Toggle() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.on = !i.on
	i.toggles++
}

// On reports the light state
func (i *SimIndicator) On() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.on
}
