// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ColdFireHunter/HS-PROJECT-INFO2/pkg/client"
	"github.com/ColdFireHunter/HS-PROJECT-INFO2/pkg/lumen"
)

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func discovered(t *testing.T) consoleModel {
	t.Helper()
	m := initialConsoleModel(nil, "test", nil, 0, "STARTUP")
	m.handleResult(consoleResultMsg{action: "Discovery", devices: []client.Device{
		{Index: 0, Address: "02:00:00:00:01:00"},
		{Index: 1, Address: "02:00:00:00:01:01"},
	}})
	return m
}

func lastLog(m consoleModel) consoleLogEntry {
	return m.log[len(m.log)-1]
}

// ============================================================
// Console Model
// ============================================================

func TestConsoleDiscoveryFillsList(t *testing.T) {
	m := discovered(t)

	if len(m.devices) != 2 {
		t.Fatalf("devices = %d, want 2", len(m.devices))
	}
	selected, ok := m.selected()
	if !ok || selected.Address != "02:00:00:00:01:00" {
		t.Errorf("selected = %+v, %v", selected, ok)
	}
	if got := lastLog(m).message; got != "Discovery complete: 2 node(s)" {
		t.Errorf("log = %q", got)
	}
	if !strings.Contains(m.View(), "02:00:00:00:01:00") {
		t.Error("view does not list the first node")
	}
}

func TestConsoleNoSelection(t *testing.T) {
	m := initialConsoleModel(nil, "test", nil, 0, "STARTUP")

	for _, k := range []string{"h", "c", "o", "s", "t"} {
		next, cmd := m.handleKeyMsg(key(k))
		cm := next.(consoleModel)
		if cmd != nil {
			t.Errorf("%s: expected no command without a node", k)
		}
		if cm.pending != 0 {
			t.Errorf("%s: pending = %d", k, cm.pending)
		}
		if got := lastLog(cm); got.message != "No node selected" || !got.isError {
			t.Errorf("%s: log = %+v", k, got)
		}
	}
}

func TestConsolePresetCycle(t *testing.T) {
	m := discovered(t)

	next, cmd := m.handleKeyMsg(key("c"))
	m = next.(consoleModel)
	if cmd == nil {
		t.Fatal("expected a colour command")
	}
	if m.preset != 0 || m.pending != 1 {
		t.Errorf("preset = %d, pending = %d", m.preset, m.pending)
	}

	for i := 0; i < len(lumen.ColorPresets); i++ {
		next, _ = m.handleKeyMsg(key("c"))
		m = next.(consoleModel)
	}
	if m.preset != 0 {
		t.Errorf("preset did not wrap: %d", m.preset)
	}

	// Without a driver the command reports a closed link
	msg, ok := cmd().(consoleResultMsg)
	if !ok || !errors.Is(msg.err, client.ErrClosed) {
		t.Errorf("command result = %+v", msg)
	}
}

func TestConsoleResults(t *testing.T) {
	m := discovered(t)
	m.pending = 1

	color := lumen.Color{255, 165, 0, 0, 0, 0}
	m.handleResult(consoleResultMsg{action: "Colour 0", index: 0, color: &color})
	if m.colors[0] != color {
		t.Errorf("colour = %v", m.colors[0])
	}
	if m.pending != 0 {
		t.Errorf("pending = %d", m.pending)
	}

	reading := lumen.SensorReading{Temperature: 21.5, Humidity: 40, TVOC: 12}
	m.handleResult(consoleResultMsg{action: "Sensors 0", index: 0, reading: &reading})
	if m.sensors[0] != reading {
		t.Errorf("sensors = %+v", m.sensors[0])
	}
	view := m.View()
	if !strings.Contains(view, "21.50 °C") {
		t.Error("view does not show the temperature")
	}

	m.handleResult(consoleResultMsg{action: "Buttons", buttons: lumen.ButtonState{true, false}})
	if len(m.buttons) != 2 || !m.buttons[0] {
		t.Errorf("buttons = %v", m.buttons)
	}

	m.handleResult(consoleResultMsg{action: "Heartbeat 0"})
	if got := lastLog(m).message; got != "Heartbeat 0: acknowledged" {
		t.Errorf("log = %q", got)
	}
}

func TestConsoleErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"busy", client.ErrBusy, "Tone: device is busy, please wait"},
		{"nack", client.ErrNack, "Tone: not acknowledged"},
		{"timeout", client.ErrTimeout, "Tone: " + client.ErrTimeout.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := discovered(t)
			m.handleResult(consoleResultMsg{action: "Tone", err: tt.err})
			got := lastLog(m)
			if got.message != tt.want || !got.isError {
				t.Errorf("log = %+v, want %q", got, tt.want)
			}
		})
	}
}

func TestConsoleDiscoveryBusyKeepsNodes(t *testing.T) {
	m := discovered(t)
	m.handleResult(consoleResultMsg{action: "Discovery", err: client.ErrBusy})

	if len(m.devices) != 2 {
		t.Errorf("devices = %d, want 2", len(m.devices))
	}
}

func TestConsoleFrameTrace(t *testing.T) {
	m := initialConsoleModel(nil, "test", nil, 0, "STARTUP")
	f, err := lumen.NewLinkFrame(lumen.ToGateway, lumen.CmdHeartbeat, "3")
	if err != nil {
		t.Fatal(err)
	}

	next, _ := m.Update(consoleFrameMsg{frame: f, outbound: true})
	m = next.(consoleModel)
	if got := lastLog(m).message; !strings.HasPrefix(got, "-> ") {
		t.Errorf("log = %q", got)
	}
}

func TestConsoleLogTrim(t *testing.T) {
	m := initialConsoleModel(nil, "test", nil, 0, "STARTUP")
	for i := 0; i < consoleMaxLogEntries+20; i++ {
		m.addLogEntry(fmt.Sprintf("entry %d", i), false)
	}
	if len(m.log) != consoleMaxLogEntries {
		t.Errorf("log length = %d", len(m.log))
	}
	if m.log[0].message != "entry 20" {
		t.Errorf("oldest = %q", m.log[0].message)
	}
}

// ============================================================
// Argument Helpers
// ============================================================

func TestParseIndex(t *testing.T) {
	tests := []struct {
		arg     string
		want    int
		wantErr bool
	}{
		{"0", 0, false},
		{"9", 9, false},
		{"10", 0, true},
		{"-1", 0, true},
		{"x", 0, true},
	}

	for _, tt := range tests {
		got, err := parseIndex(tt.arg)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseIndex(%q) = %d, %v", tt.arg, got, err)
		}
	}
}

func TestColorFromArgs(t *testing.T) {
	defer func() { colorPreset, colorOff = "", false }()

	tests := []struct {
		name    string
		preset  string
		off     bool
		values  []string
		want    lumen.Color
		wantErr bool
	}{
		{"channels", "", false, []string{"255", "0", "10"}, lumen.Color{255, 0, 10}, false},
		{"all channels", "", false, []string{"1", "2", "3", "4", "5", "6"}, lumen.Color{1, 2, 3, 4, 5, 6}, false},
		{"preset", "orange", false, nil, lumen.Color{255, 165, 0, 0, 0, 0}, false},
		{"off", "", true, nil, lumen.Color{}, false},
		{"out of range", "", false, []string{"256"}, lumen.Color{}, true},
		{"not a number", "", false, []string{"red"}, lumen.Color{}, true},
		{"unknown preset", "pink", false, nil, lumen.Color{}, true},
		{"preset with values", "red", false, []string{"1"}, lumen.Color{}, true},
		{"off with preset", "red", true, nil, lumen.Color{}, true},
		{"nothing", "", false, nil, lumen.Color{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			colorPreset, colorOff = tt.preset, tt.off
			got, err := colorFromArgs(tt.values)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("colour = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseButtons(t *testing.T) {
	got, err := parseButtons("0, 1,0,1")
	if err != nil {
		t.Fatal(err)
	}
	want := []bool{false, true, false, true}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("buttons = %v, want %v", got, want)
	}

	for _, bad := range []string{"", "2", "0,,1", "on"} {
		if _, err := parseButtons(bad); err == nil {
			t.Errorf("parseButtons(%q) should fail", bad)
		}
	}
}

func TestRandomAddress(t *testing.T) {
	a, b := randomAddress(), randomAddress()
	if len(a) != lumen.AddressSize || !strings.HasPrefix(a, "02:") {
		t.Errorf("address = %q", a)
	}
	if a == b {
		t.Error("addresses should differ")
	}
}
