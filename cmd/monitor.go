// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/ColdFireHunter/HS-PROJECT-INFO2/pkg/lumen"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
	monitorMesh   string
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Detect and analyze malformed frames and errors",
	Long: `Track frame errors and traffic with statistics.

This command decodes every frame on the link (or, with --mesh, on a mesh hub)
and detects:
  - Checksum mismatches
  - Bad delimiters and lengths (line noise)
  - Unknown command codes
  - Statistics and trends (frame rate, error rate, success rate)

Decode errors before the first valid frame are counted as skipped bytes, not
errors. By default, only errors are displayed in text mode. Use --show-all to
display valid frames too.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all frames (not just errors)")
	monitorCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	monitorCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
	monitorCmd.Flags().StringVar(&monitorMesh, "mesh", "", "Mesh hub URL to observe instead of the link")
}

//////////////////////////////////////////////////////////////
// Sync tracking
//////////////////////////////////////////////////////////////

// syncTracker ignores decode errors until the first valid frame
type syncTracker struct {
	synchronized bool
	skipped      int
}

// observe reports whether ev should be counted, and whether it is the
// first valid frame.
func (t *syncTracker) observe(ev tapEvent) (count, synced bool) {
	if t.synchronized {
		return true, false
	}
	if ev.err != nil {
		t.skipped += len(ev.raw)
		return false, false
	}
	t.synchronized = true
	return true, true
}

//////////////////////////////////////////////////////////////
// TUI
//////////////////////////////////////////////////////////////

// nodeActivity is the last traffic seen for one mesh address or link command
type nodeActivity struct {
	key      string
	command  string
	payload  string
	frames   uint64
	lastSeen time.Time
}

type monitorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

type monitorModel struct {
	connInfo      string
	events        <-chan tapEvent
	stats         *lumen.Statistics
	sync          syncTracker
	activity      map[string]*nodeActivity
	log           []monitorLogEntry
	maxLogEntries int
	showAll       bool
	closed        bool
	width         int
	height        int
	quitting      bool
}

type monitorTickMsg time.Time

type monitorEventMsg struct {
	ev tapEvent
}

type monitorClosedMsg struct{}

func initialMonitorModel(connInfo string, events <-chan tapEvent, showAll bool) monitorModel {
	return monitorModel{
		connInfo:      connInfo,
		events:        events,
		stats:         lumen.NewStatistics(),
		activity:      make(map[string]*nodeActivity),
		maxLogEntries: 100,
		showAll:       showAll,
		width:         80,
		height:        24,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(monitorTickCmd(), m.waitForEvent())
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) waitForEvent() tea.Cmd {
	events := m.events
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return monitorClosedMsg{}
		}
		return monitorEventMsg{ev: ev}
	}
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "c":
			m.stats = lumen.NewStatistics()
			m.activity = make(map[string]*nodeActivity)
			m.addLogEntry("Statistics cleared", false)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case monitorTickMsg:
		m.stats.CalculateRates()
		return m, monitorTickCmd()

	case monitorEventMsg:
		m.handleEvent(msg.ev)
		return m, m.waitForEvent()

	case monitorClosedMsg:
		if !m.closed {
			m.closed = true
			m.addLogEntry("Connection closed", true)
		}
	}
	return m, nil
}

func (m *monitorModel) handleEvent(ev tapEvent) {
	count, synced := m.sync.observe(ev)
	if synced {
		if m.sync.skipped > 0 {
			m.addLogEntry(fmt.Sprintf("Synchronized after skipping %d invalid bytes", m.sync.skipped), false)
		} else {
			m.addLogEntry("Synchronized", false)
		}
	}
	if !count {
		return
	}

	m.stats.Update(ev.frame, ev.err)
	if ev.err != nil {
		m.addLogEntry(fmt.Sprintf("%s: %v", ev.kind, ev.err), true)
		return
	}

	f := ev.frame
	key := fmt.Sprintf("%s link", f.Direction())
	if f.Kind() == lumen.KindMesh {
		key = f.Address()
	}
	a, ok := m.activity[key]
	if !ok {
		a = &nodeActivity{key: key}
		m.activity[key] = a
	}
	a.command = f.Command()
	a.payload = f.Payload()
	a.frames++
	a.lastSeen = f.Timestamp()

	if !lumen.KnownCommand(f.Command()) {
		m.addLogEntry(fmt.Sprintf("%s: unknown command %q", key, f.Command()), true)
		return
	}
	if m.showAll {
		m.addLogEntry(lumen.FormatFrame(f), false)
	}
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	m.log = append(m.log, monitorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(m.log) > m.maxLogEntries {
		m.log = m.log[len(m.log)-m.maxLogEntries:]
	}
}

// sortedActivity returns the activity table ordered by key
func (m monitorModel) sortedActivity() []*nodeActivity {
	rows := make([]*nodeActivity, 0, len(m.activity))
	for _, a := range m.activity {
		rows = append(rows, a)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].key < rows[j].key })
	return rows
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
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

	var s strings.Builder
	s.WriteString(titleStyle.Render("LUMEN - MONITOR"))
	s.WriteString("\n")
	mode := "Errors only"
	if m.showAll {
		mode = "All frames"
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Mode: %s | 'c' clear, 'q' quit", m.connInfo, mode)))
	s.WriteString("\n\n")

	switch {
	case m.closed:
		s.WriteString(errorStyle.Render("Connection closed"))
	case !m.sync.synchronized:
		s.WriteString(warningStyle.Render("⏳ Waiting for synchronization..."))
	default:
		s.WriteString(statsValueStyle.Render("✓ Synchronized"))
		if m.sync.skipped > 0 {
			s.WriteString(headerStyle.Render(fmt.Sprintf(" (skipped %d invalid bytes)", m.sync.skipped)))
		}
	}
	s.WriteString("\n\n")

	st := m.stats.Snapshot()
	var validPercent, errorPercent float64
	totalErrors := st.ChecksumErrors + st.NoiseErrors + st.OtherErrors
	if st.TotalFrames > 0 {
		validPercent = float64(st.ValidFrames) * 100.0 / float64(st.TotalFrames)
		errorPercent = float64(totalErrors) * 100.0 / float64(st.TotalFrames)
	}

	var stats strings.Builder
	stats.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Total:"), statsValueStyle.Render(fmt.Sprintf("%d", st.TotalFrames)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", st.ValidFrames, validPercent)),
		statsLabelStyle.Render("Errors:"), errorStyle.Render(fmt.Sprintf("%d (%.1f%%)", totalErrors, errorPercent)),
	))
	if totalErrors > 0 || st.UnknownCommands > 0 {
		stats.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s   %s %s\n",
			statsLabelStyle.Render("Checksum:"), errorStyle.Render(fmt.Sprintf("%d", st.ChecksumErrors)),
			statsLabelStyle.Render("Noise:"), errorStyle.Render(fmt.Sprintf("%d", st.NoiseErrors)),
			statsLabelStyle.Render("Other:"), errorStyle.Render(fmt.Sprintf("%d", st.OtherErrors)),
			statsLabelStyle.Render("Unknown:"), errorStyle.Render(fmt.Sprintf("%d", st.UnknownCommands)),
		))
	}
	errorRate := statsValueStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
	if st.ErrorRate > 0 {
		errorRate = errorStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
	}
	stats.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Frame Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f frames/s", st.FrameRate)),
		statsLabelStyle.Render("Error Rate:"), errorRate,
	))
	s.WriteString(boxStyle.Render(stats.String()))
	s.WriteString("\n\n")

	if rows := m.sortedActivity(); len(rows) > 0 {
		var table strings.Builder
		table.WriteString(statsLabelStyle.Render(fmt.Sprintf("%-18s %-14s %-8s %s", "Source", "Last", "Frames", "Seen")))
		for _, a := range rows {
			table.WriteString(fmt.Sprintf("\n%-18s %-14s %-8d %s",
				a.key, lumen.FormatCommand(a.command), a.frames, a.lastSeen.Format("15:04:05")))
		}
		s.WriteString(boxStyle.Render(table.String()))
		s.WriteString("\n\n")
	}

	s.WriteString(statsLabelStyle.Render("Event Log:"))
	s.WriteString("\n")
	visible := m.height - 18 - len(m.activity)
	if visible < 5 {
		visible = 5
	}
	start := len(m.log) - visible
	if start < 0 {
		start = 0
	}
	for _, e := range m.log[start:] {
		line := fmt.Sprintf("[%s] %s", e.timestamp.Format("15:04:05.000"), e.message)
		if e.isError {
			line = errorStyle.Render(line)
		}
		s.WriteString(line)
		s.WriteString("\n")
	}
	return s.String()
}

//////////////////////////////////////////////////////////////
// Entry Point
//////////////////////////////////////////////////////////////

func runMonitor(cmd *cobra.Command, args []string) error {
	if statsInterval <= 0 {
		return fmt.Errorf("--stats-interval must be positive")
	}
	ctx, cancel := signalContext()
	defer cancel()

	events, errc, connInfo, conn, err := openTap(ctx, monitorMesh)
	if err != nil {
		exitWith(exitConnection, "Connection error", err)
	}
	defer conn.Close()
	defer cancel()

	if useTUI {
		m := initialMonitorModel(connInfo, events, showAll)
		p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
		if _, err := p.Run(); err != nil && ctx.Err() == nil {
			return fmt.Errorf("TUI error: %w", err)
		}
		return nil
	}
	return runMonitorText(connInfo, events, errc)
}

// runMonitorText prints errors as they happen and statistics periodically
func runMonitorText(connInfo string, events <-chan tapEvent, errc <-chan error) error {
	fmt.Printf("Lumen - Monitor\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All frames\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	stats := lumen.NewStatistics()
	var tracker syncTracker

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				select {
				case err := <-errc:
					fmt.Printf("Connection closed: %v\n", err)
				default:
				}
				fmt.Println()
				fmt.Print(stats.String())
				return nil
			}
			count, synced := tracker.observe(ev)
			if synced {
				if tracker.skipped > 0 {
					fmt.Printf("[SYNC] Synchronized after skipping %d invalid bytes\n\n", tracker.skipped)
				} else {
					fmt.Printf("[SYNC] Synchronized\n\n")
				}
			}
			if !count {
				continue
			}
			stats.Update(ev.frame, ev.err)
			timestamp := time.Now().Format("15:04:05.000")
			if ev.err != nil {
				fmt.Printf("[%s] \033[1;31mDECODE ERROR:\033[0m %v\n", timestamp, ev.err)
				fmt.Printf("  Raw: %s\n", lumen.FormatRaw(ev.raw))
				fmt.Printf("  >>> FRAME REJECTED <<<\n\n")
				continue
			}
			if !lumen.KnownCommand(ev.frame.Command()) {
				fmt.Printf("[%s] \033[1;33mUNKNOWN COMMAND:\033[0m %q\n", timestamp, ev.frame.Command())
				fmt.Printf("  %s\n\n", lumen.FormatFrame(ev.frame))
				continue
			}
			if showAll {
				fmt.Println(lumen.FormatFrame(ev.frame))
			}

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()
		}
	}
}
