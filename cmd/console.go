// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/ColdFireHunter/HS-PROJECT-INFO2/pkg/client"
	"github.com/ColdFireHunter/HS-PROJECT-INFO2/pkg/logging"
	"github.com/ColdFireHunter/HS-PROJECT-INFO2/pkg/lumen"
)

var consoleTone string

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive fixture console",
	Long: `Interactive terminal console for a fixture network.

Runs a discovery on start, lists the nodes found and sends commands to the
selected node:

  d  discover          h  heartbeat
  c  next preset       o  all channels off
  s  read sensors      t  play tone
  b  read gateway buttons
  q  quit

NACK replies are not resent; the console logs them and stays open.`,
	Args: cobra.NoArgs,
	RunE: runConsole,
}

func init() {
	consoleCmd.Flags().StringVar(&consoleTone, "tone", "STARTUP", "Tone played with t")
	rootCmd.AddCommand(consoleCmd)
}

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	consoleMaxLogEntries = 100
	consoleFrameBuffer   = 256
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// nodeItem is a discovered node in the device list
type nodeItem struct {
	client.Device
}

func (n nodeItem) Title() string       { return fmt.Sprintf("Node %d", n.Index) }
func (n nodeItem) Description() string { return n.Address }
func (n nodeItem) FilterValue() string { return n.Address }

type consoleLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// consoleModel is the Bubble Tea model for the console
type consoleModel struct {
	driver   *client.Driver
	connInfo string
	frames   <-chan consoleFrameMsg
	timeout  time.Duration

	deviceList list.Model
	devices    []client.Device
	sensors    map[int]lumen.SensorReading
	colors     map[int]lumen.Color
	buttons    lumen.ButtonState
	preset     int
	tone       string

	stats   lumen.StatisticsSnapshot
	log     []consoleLogEntry
	pending int

	width    int
	height   int
	quitting bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type consoleTickMsg time.Time

type consoleFrameMsg struct {
	frame    *lumen.Frame
	outbound bool
}

// consoleResultMsg carries the outcome of one driver call
type consoleResultMsg struct {
	action  string
	index   int
	err     error
	devices []client.Device
	reading *lumen.SensorReading
	color   *lumen.Color
	buttons lumen.ButtonState
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialConsoleModel(d *client.Driver, connInfo string, frames <-chan consoleFrameMsg, timeout time.Duration, tone string) consoleModel {
	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	deviceList := list.New([]list.Item{}, delegate, 28, 10)
	deviceList.Title = "Nodes"
	deviceList.SetShowStatusBar(false)
	deviceList.SetShowHelp(false)
	deviceList.SetFilteringEnabled(false)

	return consoleModel{
		driver:     d,
		connInfo:   connInfo,
		frames:     frames,
		timeout:    timeout,
		deviceList: deviceList,
		sensors:    make(map[int]lumen.SensorReading),
		colors:     make(map[int]lumen.Color),
		preset:     -1,
		tone:       tone,
		width:      80,
		height:     24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m consoleModel) Init() tea.Cmd {
	return tea.Batch(consoleTickCmd(), m.waitForFrame(), m.discover())
}

func consoleTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return consoleTickMsg(t)
	})
}

// waitForFrame delivers the next traced frame
func (m consoleModel) waitForFrame() tea.Cmd {
	if m.frames == nil {
		return nil
	}
	frames := m.frames
	return func() tea.Msg {
		f, ok := <-frames
		if !ok {
			return nil
		}
		return f
	}
}

func (m consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		listHeight := m.height / 3
		if listHeight < 5 {
			listHeight = 5
		}
		m.deviceList.SetSize(26, listHeight)

	case consoleTickMsg:
		if m.driver != nil {
			m.stats = m.driver.Statistics().Snapshot()
		}
		return m, consoleTickCmd()

	case consoleFrameMsg:
		direction := "<-"
		if msg.outbound {
			direction = "->"
		}
		m.addLogEntry(fmt.Sprintf("%s %s %s", direction, lumen.FormatCommand(msg.frame.Command()),
			lumen.FormatPayload(msg.frame.Command(), msg.frame.Payload())), false)
		return m, m.waitForFrame()

	case consoleResultMsg:
		m.handleResult(msg)
	}

	var cmd tea.Cmd
	m.deviceList, cmd = m.deviceList.Update(msg)
	return m, cmd
}

func (m consoleModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "d":
		m.pending++
		return m, m.discover()

	case "b":
		m.pending++
		return m, m.readButtons()

	case "h", "c", "o", "s", "t":
		selected, ok := m.selected()
		if !ok {
			m.addLogEntry("No node selected", true)
			return m, nil
		}
		m.pending++
		switch msg.String() {
		case "h":
			return m, m.heartbeat(selected.Index)
		case "c":
			m.preset = (m.preset + 1) % len(lumen.ColorPresets)
			return m, m.setColor(selected.Index, lumen.ColorPresets[m.preset].Color)
		case "o":
			return m, m.setColor(selected.Index, lumen.Color{})
		case "s":
			return m, m.readSensors(selected.Index)
		case "t":
			return m, m.playTone(selected.Index)
		}
	}

	var cmd tea.Cmd
	m.deviceList, cmd = m.deviceList.Update(msg)
	return m, cmd
}

func (m *consoleModel) handleResult(msg consoleResultMsg) {
	if m.pending > 0 {
		m.pending--
	}

	if msg.err != nil {
		switch {
		case errors.Is(msg.err, client.ErrBusy):
			m.addLogEntry(fmt.Sprintf("%s: device is busy, please wait", msg.action), true)
		case errors.Is(msg.err, client.ErrNack):
			m.addLogEntry(fmt.Sprintf("%s: not acknowledged", msg.action), true)
		default:
			m.addLogEntry(fmt.Sprintf("%s: %v", msg.action, msg.err), true)
		}
		if msg.devices == nil {
			return
		}
	}

	switch {
	case msg.devices != nil:
		m.devices = msg.devices
		m.sensors = make(map[int]lumen.SensorReading)
		m.colors = make(map[int]lumen.Color)
		items := make([]list.Item, len(m.devices))
		for i, d := range m.devices {
			items[i] = nodeItem{d}
		}
		m.deviceList.SetItems(items)
		if msg.err == nil {
			m.addLogEntry(fmt.Sprintf("Discovery complete: %d node(s)", len(m.devices)), false)
		}
	case msg.reading != nil:
		m.sensors[msg.index] = *msg.reading
		m.addLogEntry(fmt.Sprintf("Node %d: %s", msg.index, msg.reading), false)
	case msg.color != nil:
		m.colors[msg.index] = *msg.color
		m.addLogEntry(fmt.Sprintf("Node %d colour: %s", msg.index, lumen.FormatColor(*msg.color)), false)
	case msg.buttons != nil:
		m.buttons = msg.buttons
		m.addLogEntry(fmt.Sprintf("Buttons: %s", lumen.FormatButtons(msg.buttons)), false)
	default:
		m.addLogEntry(fmt.Sprintf("%s: acknowledged", msg.action), false)
	}
}

//////////////////////////////////////////////////////////////
// Commands
//////////////////////////////////////////////////////////////

// call runs fn against the driver with the configured timeout
func (m consoleModel) call(fn func(ctx context.Context) consoleResultMsg) tea.Cmd {
	d, timeout := m.driver, m.timeout
	return func() tea.Msg {
		if d == nil {
			return consoleResultMsg{action: "command", err: client.ErrClosed}
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return fn(ctx)
	}
}

func (m consoleModel) discover() tea.Cmd {
	d := m.driver
	return m.call(func(ctx context.Context) consoleResultMsg {
		devices, err := d.Discover(ctx)
		return consoleResultMsg{action: "Discovery", err: err, devices: devices}
	})
}

func (m consoleModel) heartbeat(index int) tea.Cmd {
	d := m.driver
	return m.call(func(ctx context.Context) consoleResultMsg {
		return consoleResultMsg{action: fmt.Sprintf("Heartbeat %d", index), index: index, err: d.Heartbeat(ctx, index)}
	})
}

func (m consoleModel) setColor(index int, color lumen.Color) tea.Cmd {
	d := m.driver
	return m.call(func(ctx context.Context) consoleResultMsg {
		msg := consoleResultMsg{action: fmt.Sprintf("Colour %d", index), index: index}
		if msg.err = d.SetColor(ctx, index, color); msg.err == nil {
			msg.color = &color
		}
		return msg
	})
}

func (m consoleModel) readSensors(index int) tea.Cmd {
	d := m.driver
	return m.call(func(ctx context.Context) consoleResultMsg {
		msg := consoleResultMsg{action: fmt.Sprintf("Sensors %d", index), index: index}
		r, err := d.ReadSensors(ctx, index)
		if msg.err = err; err == nil {
			msg.reading = &r
		}
		return msg
	})
}

func (m consoleModel) playTone(index int) tea.Cmd {
	d, tone := m.driver, m.tone
	return m.call(func(ctx context.Context) consoleResultMsg {
		return consoleResultMsg{action: fmt.Sprintf("Tone %s on %d", tone, index), index: index, err: d.PlayTone(ctx, index, tone, true)}
	})
}

func (m consoleModel) readButtons() tea.Cmd {
	d := m.driver
	return m.call(func(ctx context.Context) consoleResultMsg {
		b, err := d.ReadButtons(ctx)
		return consoleResultMsg{action: "Buttons", err: err, buttons: b}
	})
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

func (m consoleModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	s.WriteString(titleStyle.Render("LUMEN CONSOLE"))
	s.WriteString(" ")
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | d h c o s t b q", m.connInfo)))
	if m.pending > 0 {
		s.WriteString(" ")
		s.WriteString(warningStyle.Render("working..."))
	}
	s.WriteString("\n\n")

	leftWidth := 28
	rightWidth := m.width - leftWidth - 6
	if rightWidth < 30 {
		rightWidth = 30
	}

	var nodes string
	if len(m.devices) == 0 {
		nodes = headerStyle.Render("No nodes found.\nPress d to discover.")
	} else {
		nodes = m.deviceList.View()
	}
	devicePanel := boxStyle.Width(leftWidth).Render(nodes)
	detailPanel := boxStyle.Width(rightWidth).Render(m.renderDetail(labelStyle, valueStyle, headerStyle))
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, devicePanel, " ", detailPanel))
	s.WriteString("\n\n")

	stats := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s",
		labelStyle.Render("Frames:"), valueStyle.Render(fmt.Sprintf("%d", m.stats.TotalFrames)),
		labelStyle.Render("Valid:"), valueStyle.Render(fmt.Sprintf("%d", m.stats.ValidFrames)),
		labelStyle.Render("Checksum:"), errorStyle.Render(fmt.Sprintf("%d", m.stats.ChecksumErrors)),
		labelStyle.Render("Noise:"), errorStyle.Render(fmt.Sprintf("%d", m.stats.NoiseErrors)))
	s.WriteString(boxStyle.Render(stats))
	s.WriteString("\n\n")

	s.WriteString(m.renderLog(labelStyle, errorStyle, boxStyle))
	return s.String()
}

func (m consoleModel) renderDetail(labelStyle, valueStyle, headerStyle lipgloss.Style) string {
	var s strings.Builder

	if m.buttons != nil {
		s.WriteString(fmt.Sprintf("%s %s\n\n", labelStyle.Render("Gateway buttons:"), valueStyle.Render(lumen.FormatButtons(m.buttons))))
	}

	selected, ok := m.selected()
	if !ok {
		s.WriteString(headerStyle.Render("No node selected"))
		return s.String()
	}

	s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Index:"), valueStyle.Render(fmt.Sprintf("%d", selected.Index))))
	s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Address:"), valueStyle.Render(selected.Address)))
	if c, ok := m.colors[selected.Index]; ok {
		s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Colour:"), valueStyle.Render(lumen.FormatColor(c))))
	}
	if r, ok := m.sensors[selected.Index]; ok {
		s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Temperature:"), valueStyle.Render(fmt.Sprintf("%.2f °C", r.Temperature))))
		s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Humidity:"), valueStyle.Render(fmt.Sprintf("%.2f %%", r.Humidity))))
		s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("TVOC:"), valueStyle.Render(fmt.Sprintf("%d ppb", r.TVOC))))
		if r.HasLux {
			s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("LUX:"), valueStyle.Render(fmt.Sprintf("%.2f lux", r.Lux))))
		}
	}
	if m.preset >= 0 {
		s.WriteString(fmt.Sprintf("\n%s %s", labelStyle.Render("Last preset:"), valueStyle.Render(lumen.ColorPresets[m.preset].Name)))
	}
	return s.String()
}

func (m consoleModel) renderLog(labelStyle, errorStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(labelStyle.Render("Event Log"))
	s.WriteString("\n")

	// Show as many recent entries as fit below the panels
	visible := m.height - 20
	if visible < 5 {
		visible = 5
	}
	start := len(m.log) - visible
	if start < 0 {
		start = 0
	}
	for _, e := range m.log[start:] {
		line := fmt.Sprintf("[%s] %s", e.timestamp.Format("15:04:05"), e.message)
		if e.isError {
			line = errorStyle.Render(line)
		}
		s.WriteString(line)
		s.WriteString("\n")
	}
	return boxStyle.Render(strings.TrimRight(s.String(), "\n"))
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

func (m *consoleModel) addLogEntry(message string, isError bool) {
	m.log = append(m.log, consoleLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(m.log) > consoleMaxLogEntries {
		m.log = m.log[len(m.log)-consoleMaxLogEntries:]
	}
}

func (m consoleModel) selected() (client.Device, bool) {
	idx := m.deviceList.Index()
	if idx < 0 || idx >= len(m.devices) {
		return client.Device{}, false
	}
	return m.devices[idx], true
}

//////////////////////////////////////////////////////////////
// Entry Point
//////////////////////////////////////////////////////////////

func runConsole(cmd *cobra.Command, args []string) error {
	tone := strings.ToUpper(consoleTone)
	if !lumen.ValidToneName(tone) {
		return fmt.Errorf("tone name %q must match [A-Z0-9_]+", consoleTone)
	}

	ctx, cancel := signalContext()
	defer cancel()

	link, connInfo, err := OpenConnection(ctx)
	if err != nil {
		exitWith(exitConnection, "Connection error", err)
	}
	defer link.Close()

	// Drop trace frames when the console falls behind
	frames := make(chan consoleFrameMsg, consoleFrameBuffer)
	d := client.New(link, client.Options{
		Timeout:    cfg.Client.Timeout.Std(),
		MaxResends: cfg.Client.MaxResends,
		Logger:     logging.Named("client"),
		OnFrame: func(f *lumen.Frame, outbound bool) {
			select {
			case frames <- consoleFrameMsg{frame: f, outbound: outbound}:
			default:
			}
		},
	})

	m := initialConsoleModel(d, connInfo, frames, cfg.Client.Timeout.Std(), tone)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("console: %w", err)
	}
	return nil
}
