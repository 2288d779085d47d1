// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"testing"

	"github.com/ColdFireHunter/HS-PROJECT-INFO2/pkg/lumen"
)

func meshEvent(t *testing.T, address, command string) tapEvent {
	t.Helper()
	f, err := lumen.NewMeshFrame(lumen.FromGateway, address, command, "")
	if err != nil {
		t.Fatal(err)
	}
	return tapEvent{kind: lumen.KindMesh, frame: f, raw: f.Bytes()}
}

func noiseEvent(n int) tapEvent {
	return tapEvent{
		kind: lumen.KindMesh,
		raw:  make([]byte, n),
		err:  fmt.Errorf("decode: %w", lumen.ErrChecksum),
	}
}

// ============================================================
// Sync Tracking
// ============================================================

func TestSyncTracker(t *testing.T) {
	var tr syncTracker

	count, synced := tr.observe(noiseEvent(5))
	if count || synced {
		t.Error("errors before sync should not count")
	}
	count, synced = tr.observe(noiseEvent(3))
	if count || synced || tr.skipped != 8 {
		t.Errorf("skipped = %d", tr.skipped)
	}

	count, synced = tr.observe(meshEvent(t, "02:00:00:00:01:00", lumen.CmdHeartbeat))
	if !count || !synced {
		t.Error("first valid frame should sync")
	}

	count, synced = tr.observe(noiseEvent(1))
	if !count || synced {
		t.Error("errors after sync should count")
	}
	if tr.skipped != 8 {
		t.Errorf("skipped changed after sync: %d", tr.skipped)
	}
}

// ============================================================
// Monitor Model
// ============================================================

func TestMonitorCountsAfterSync(t *testing.T) {
	m := initialMonitorModel("test", nil, false)

	m.handleEvent(noiseEvent(4))
	m.handleEvent(meshEvent(t, "02:00:00:00:01:00", lumen.CmdHeartbeat))
	m.handleEvent(meshEvent(t, "02:00:00:00:01:00", lumen.CmdColor))
	m.handleEvent(meshEvent(t, "02:00:00:00:01:01", lumen.CmdSensors))
	m.handleEvent(noiseEvent(4))

	st := m.stats.Snapshot()
	if st.TotalFrames != 4 || st.ValidFrames != 3 || st.ChecksumErrors != 1 {
		t.Errorf("stats = total %d valid %d checksum %d", st.TotalFrames, st.ValidFrames, st.ChecksumErrors)
	}
	if st.MeshFrames != 3 {
		t.Errorf("mesh frames = %d", st.MeshFrames)
	}

	rows := m.sortedActivity()
	if len(rows) != 2 {
		t.Fatalf("activity rows = %d", len(rows))
	}
	if rows[0].key != "02:00:00:00:01:00" || rows[0].frames != 2 || rows[0].command != lumen.CmdColor {
		t.Errorf("first row = %+v", rows[0])
	}

	if m.log[0].message != "Synchronized after skipping 4 invalid bytes" {
		t.Errorf("log = %q", m.log[0].message)
	}
	if !m.log[len(m.log)-1].isError {
		t.Error("decode error should be logged as error")
	}
}

func TestMonitorUnknownCommand(t *testing.T) {
	m := initialMonitorModel("test", nil, true)
	m.handleEvent(meshEvent(t, "02:00:00:00:01:00", lumen.CmdHeartbeat))
	m.handleEvent(meshEvent(t, "02:00:00:00:01:00", "ZZZZ"))

	st := m.stats.Snapshot()
	if st.ValidFrames != 2 || st.UnknownCommands != 1 {
		t.Errorf("valid %d unknown %d, want 2 and 1", st.ValidFrames, st.UnknownCommands)
	}
	got := m.log[len(m.log)-1]
	if !got.isError || !strings.Contains(got.message, `unknown command "ZZZZ"`) {
		t.Errorf("log = %+v", got)
	}
	if !strings.Contains(m.View(), "Unknown:") {
		t.Error("view should show the unknown command count")
	}
}

func TestMonitorShowAll(t *testing.T) {
	quiet := initialMonitorModel("test", nil, false)
	loud := initialMonitorModel("test", nil, true)
	ev := meshEvent(t, "02:00:00:00:01:00", lumen.CmdHeartbeat)

	quiet.handleEvent(ev)
	loud.handleEvent(ev)

	// both log the sync line, only show-all logs the frame
	if len(quiet.log) != 1 || len(loud.log) != 2 {
		t.Errorf("log lengths = %d, %d", len(quiet.log), len(loud.log))
	}
}

func TestMonitorClearAndClose(t *testing.T) {
	m := initialMonitorModel("test", nil, false)
	m.handleEvent(meshEvent(t, "02:00:00:00:01:00", lumen.CmdHeartbeat))

	next, _ := m.Update(key("c"))
	m = next.(monitorModel)
	if m.stats.Snapshot().TotalFrames != 0 || len(m.activity) != 0 {
		t.Error("c should clear statistics")
	}

	next, _ = m.Update(monitorClosedMsg{})
	m = next.(monitorModel)
	next, _ = m.Update(monitorClosedMsg{})
	m = next.(monitorModel)
	closed := 0
	for _, e := range m.log {
		if e.message == "Connection closed" {
			closed++
		}
	}
	if !m.closed || closed != 1 {
		t.Errorf("closed = %v, entries = %d", m.closed, closed)
	}
	if !strings.Contains(m.View(), "Connection closed") {
		t.Error("view should show the closed connection")
	}
}
