// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gateway

import (
	"testing"
	"time"

	"github.com/ColdFireHunter/HS-PROJECT-INFO2/pkg/lumen"
)

// ============================================================
// Construction
// ============================================================

func TestNew_Validation(t *testing.T) {
	mesh := newMeshRecorder()
	link := &linkRecorder{t: t}
	if _, err := New(link, mesh, Options{Address: "short"}); err == nil {
		t.Error("short address should fail")
	}
	if _, err := New(nil, mesh, Options{Address: gatewayAddr}); err == nil {
		t.Error("nil link should fail")
	}
	g, err := New(link, mesh, Options{Address: gatewayAddr})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if g.deadline != DefaultDeadline || g.busyDeadline != DefaultBusyDeadline {
		t.Errorf("defaults = %v/%v", g.deadline, g.busyDeadline)
	}
	if g.State() != StateIdle || g.Pending() != nil {
		t.Error("new gateway should be idle")
	}
}

// ============================================================
// Discovery
// ============================================================

func TestDiscovery_CollectsUntilDeadline(t *testing.T) {
	h := newHarness(t)

	h.request(lumen.CmdSearch, "")
	if h.g.State() != StateLocked {
		t.Fatalf("state = %v, want LOCKED", h.g.State())
	}

	h.g.Flush()
	sent := h.mesh.sent()
	if len(sent) != 1 {
		t.Fatalf("broadcasts = %d, want 1", len(sent))
	}
	if sent[0].Command() != lumen.CmdSearch || sent[0].Address() != gatewayAddr || sent[0].Direction() != lumen.FromGateway {
		t.Errorf("search frame = %s", sent[0])
	}

	// Second tick has nothing left to send
	h.g.Flush()
	if len(h.mesh.sent()) != 1 {
		t.Error("search broadcast more than once")
	}

	h.nodeReply(gatewayAddr, lumen.CmdResponse, nodeA)
	h.nodeReply(gatewayAddr, lumen.CmdResponse, nodeB)
	h.nodeReply(gatewayAddr, lumen.CmdResponse, nodeA) // duplicate

	// Still collecting
	if h.g.State() != StateLocked {
		t.Errorf("state = %v, want LOCKED while collecting", h.g.State())
	}
	expectReplies(t, h.link.take())

	h.clock.Advance(DefaultDeadline)
	expectReplies(t, h.link.take(), "MAC0:"+nodeA, "MAC1:"+nodeB, "OKAY:")
	if h.g.State() != StateIdle || h.g.Pending() != nil {
		t.Error("discovery should return to IDLE")
	}
	if h.g.Registry().Len() != 2 {
		t.Errorf("registry = %d, want 2", h.g.Registry().Len())
	}
}

func TestDiscovery_EmptyReportsNoDevices(t *testing.T) {
	h := newHarness(t)
	h.request(lumen.CmdSearch, "")
	h.g.Flush()
	h.clock.Advance(DefaultDeadline)
	expectReplies(t, h.link.take(), "MACN:")
	if h.g.State() != StateIdle {
		t.Errorf("state = %v", h.g.State())
	}
}

func TestDiscovery_ClearsPreviousRound(t *testing.T) {
	h := newHarness(t)
	h.discover(nodeA, nodeB)

	h.request(lumen.CmdSearch, "")
	if h.g.Registry().Len() != 0 {
		t.Error("new round should clear the registry")
	}
	h.nodeReply(gatewayAddr, lumen.CmdResponse, nodeB)
	h.clock.Advance(DefaultDeadline)
	expectReplies(t, h.link.take(), "MAC0:"+nodeB, "OKAY:")
}

func TestDiscovery_IgnoresForeignResponses(t *testing.T) {
	h := newHarness(t)
	h.request(lumen.CmdSearch, "")
	// Reply to some other gateway's search
	h.nodeReply("02:00:00:00:00:99", lumen.CmdResponse, nodeA)
	// Malformed payload
	h.nodeReply(gatewayAddr, lumen.CmdResponse, "nope")
	h.clock.Advance(DefaultDeadline)
	expectReplies(t, h.link.take(), "MACN:")
}

func TestDiscovery_RejectsPayload(t *testing.T) {
	h := newHarness(t)
	h.request(lumen.CmdSearch, "1")
	expectReplies(t, h.link.take(), "NACK:")
	if h.g.State() != StateIdle {
		t.Errorf("state = %v", h.g.State())
	}
}

// ============================================================
// Lockout
// ============================================================

func TestLockout_SecondRequestGetsBusy(t *testing.T) {
	h := newHarness(t)
	h.discover(nodeA)

	h.request(lumen.CmdHeartbeat, "0")
	before := h.g.Pending()

	h.request(lumen.CmdColor, "0255000000000000000")
	h.request(lumen.CmdSearch, "")
	h.request(lumen.CmdReadButtons, "")
	expectReplies(t, h.link.take(), "BUSY:", "BUSY:", "BUSY:")

	after := h.g.Pending()
	if after == nil || *after != *before {
		t.Errorf("pending changed: %+v -> %+v", before, after)
	}
	if h.g.Registry().Len() != 1 {
		t.Error("rejected SRCH must not clear the registry")
	}
}

// ============================================================
// Relay
// ============================================================

func TestRelay_HeartbeatAck(t *testing.T) {
	h := newHarness(t)
	h.discover(nodeA)

	h.request(lumen.CmdHeartbeat, "0")
	h.g.Flush()
	sent := h.mesh.sent()
	hb := sent[len(sent)-1]
	if hb.Command() != lumen.CmdHeartbeat || hb.Address() != nodeA || hb.Payload() != "" {
		t.Errorf("heartbeat frame = %s", hb)
	}

	h.nodeReply(nodeA, lumen.CmdHeartbeat, "")
	expectReplies(t, h.link.take(), "OKAY:")
	if h.g.State() != StateIdle {
		t.Errorf("state = %v", h.g.State())
	}
	if h.clock.active() != 0 {
		t.Error("deadline should be cancelled after ack")
	}

	// Nothing fires later
	h.clock.Advance(DefaultBusyDeadline)
	expectReplies(t, h.link.take())
}

func TestRelay_ColorTranslatesPayload(t *testing.T) {
	h := newHarness(t)
	h.discover(nodeA, nodeB)

	h.request(lumen.CmdColor, "1255000000000000")
	h.g.Flush()
	sent := h.mesh.sent()
	colr := sent[len(sent)-1]
	if colr.Address() != nodeB || colr.Payload() != "0xFF0000000000" {
		t.Errorf("colour frame = %s", colr)
	}

	h.nodeReply(nodeB, lumen.CmdOkay, "")
	expectReplies(t, h.link.take(), "OKAY:")
}

func TestRelay_ValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		command string
		payload string
	}{
		{"index out of range", lumen.CmdHeartbeat, "5"},
		{"missing index", lumen.CmdSensors, ""},
		{"bad colour", lumen.CmdColor, "0999000000000000000"},
		{"ragged colour", lumen.CmdColor, "02550"},
		{"lowercase tone", lumen.CmdTone, "0alarm"},
		{"unknown command", "ZZZZ", ""},
		{"button payload", lumen.CmdReadButtons, "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.discover(nodeA)
			h.request(tt.command, tt.payload)
			expectReplies(t, h.link.take(), "NACK:")
			if h.g.State() != StateIdle || h.g.Pending() != nil {
				t.Error("validation failure must not change state")
			}
			h.g.Flush()
			if len(h.mesh.sent()) != 1 { // only the discovery search
				t.Error("nothing should be broadcast")
			}
		})
	}
}

func TestRelay_SensorReading(t *testing.T) {
	h := newHarness(t)
	h.discover(nodeA)

	h.request(lumen.CmdSensors, "0")
	h.g.Flush()
	h.nodeReply(nodeA, lumen.CmdSensors, "21.5$40$120$300")
	expectReplies(t, h.link.take(), "SENS:21.50$40.00$120$300.00")
}

func TestRelay_InvalidSensorReading(t *testing.T) {
	h := newHarness(t)
	h.discover(nodeA)

	h.request(lumen.CmdSensors, "0")
	h.nodeReply(nodeA, lumen.CmdSensors, "hot$wet$0")
	expectReplies(t, h.link.take(), "NACK:")
	if h.g.State() != StateIdle {
		t.Errorf("state = %v", h.g.State())
	}
}

func TestRelay_UnknownToneNackPropagates(t *testing.T) {
	h := newHarness(t)
	h.discover(nodeA)

	h.request(lumen.CmdTone, "0NOPE")
	h.g.Flush()
	sent := h.mesh.sent()
	if p := sent[len(sent)-1].Payload(); p != "NOPE" {
		t.Errorf("tone payload = %q, want name only", p)
	}

	h.nodeReply(nodeA, lumen.CmdNack, "")
	expectReplies(t, h.link.take(), "NACK:")
	if h.g.Pending() != nil || h.g.State() != StateIdle {
		t.Error("NACK should clear the pending command")
	}
}

func TestRelay_IgnoresOtherTargets(t *testing.T) {
	h := newHarness(t)
	h.discover(nodeA, nodeB)

	h.request(lumen.CmdHeartbeat, "0")
	h.nodeReply(nodeB, lumen.CmdHeartbeat, "")
	h.nodeReply(nodeB, lumen.CmdNack, "")
	expectReplies(t, h.link.take())
	if h.g.State() != StateLocked {
		t.Errorf("state = %v, want LOCKED", h.g.State())
	}
}

func TestRelay_IgnoresOwnEcho(t *testing.T) {
	h := newHarness(t)
	h.discover(nodeA)
	h.request(lumen.CmdHeartbeat, "0")

	echo, _ := lumen.NewMeshFrame(lumen.FromGateway, nodeA, lumen.CmdHeartbeat, "")
	h.g.HandleMeshFrame(echo)
	expectReplies(t, h.link.take())
	if h.g.State() != StateLocked {
		t.Errorf("state = %v", h.g.State())
	}
}

func TestRelay_UnsolicitedReplyIgnored(t *testing.T) {
	h := newHarness(t)
	h.nodeReply(nodeA, lumen.CmdOkay, "")
	expectReplies(t, h.link.take())
}

// ============================================================
// Deadlines
// ============================================================

func TestTimeout_ReportsNack(t *testing.T) {
	h := newHarness(t)
	h.discover(nodeA)

	h.request(lumen.CmdHeartbeat, "0")
	h.clock.Advance(DefaultDeadline - time.Millisecond)
	expectReplies(t, h.link.take())

	h.clock.Advance(time.Millisecond)
	expectReplies(t, h.link.take(), "NACK:")
	if h.g.State() != StateIdle || h.g.Pending() != nil {
		t.Error("timeout should return to IDLE")
	}

	// A late reply is unsolicited
	h.nodeReply(nodeA, lumen.CmdHeartbeat, "")
	expectReplies(t, h.link.take())
}

func TestBusy_ExtendsDeadline(t *testing.T) {
	h := newHarness(t)
	h.discover(nodeA)

	h.request(lumen.CmdTone, "0STARTUP")
	h.g.Flush()
	h.clock.Advance(time.Second)
	h.nodeReply(nodeA, lumen.CmdBusy, "")
	expectReplies(t, h.link.take(), "BUSY:")
	if h.g.State() != StateExtended {
		t.Fatalf("state = %v, want EXTENDED", h.g.State())
	}
	if h.g.Pending() == nil {
		t.Fatal("BUSY must not clear the pending command")
	}
	if h.clock.active() != 1 {
		t.Errorf("active timers = %d, want exactly 1", h.clock.active())
	}

	// The original deadline has passed but was replaced
	h.clock.Advance(5 * time.Second)
	expectReplies(t, h.link.take())

	// Client requests are still refused
	h.request(lumen.CmdHeartbeat, "0")
	expectReplies(t, h.link.take(), "BUSY:")

	h.nodeReply(nodeA, lumen.CmdOkay, "")
	expectReplies(t, h.link.take(), "OKAY:")
	if h.g.State() != StateIdle {
		t.Errorf("state = %v", h.g.State())
	}
}

func TestBusy_ExtendedTimeout(t *testing.T) {
	h := newHarness(t)
	h.discover(nodeA)

	h.request(lumen.CmdTone, "0ALARM")
	h.nodeReply(nodeA, lumen.CmdBusy, "")
	h.link.take()

	h.clock.Advance(DefaultBusyDeadline)
	expectReplies(t, h.link.take(), "NACK:")
	if h.g.State() != StateIdle {
		t.Errorf("state = %v", h.g.State())
	}
}

func TestStaleTimerIgnored(t *testing.T) {
	h := newHarness(t)
	h.discover(nodeA)

	h.request(lumen.CmdHeartbeat, "0")
	stale := h.g.epoch
	h.nodeReply(nodeA, lumen.CmdHeartbeat, "")
	h.request(lumen.CmdHeartbeat, "0")
	h.link.take()

	// A callback from the first command must not resolve the second
	h.g.onDeadline(stale)
	expectReplies(t, h.link.take())
	if h.g.State() != StateLocked {
		t.Errorf("state = %v, want LOCKED", h.g.State())
	}
}

// ============================================================
// Local buttons
// ============================================================

func TestReadButtons_Local(t *testing.T) {
	h := newHarness(t)
	h.request(lumen.CmdReadButtons, "")
	expectReplies(t, h.link.take(), "BUTS:0$1$0$0")
	if h.g.State() != StateIdle {
		t.Error("button read must never lock")
	}
	h.g.Flush()
	if len(h.mesh.sent()) != 0 {
		t.Error("button read must not reach the mesh")
	}

	h.btns.Set([]bool{true, true, false, true})
	h.request(lumen.CmdReadButtons, "")
	expectReplies(t, h.link.take(), "BUTS:1$1$0$1")
}

func TestLinkFrameWrongDirectionIgnored(t *testing.T) {
	h := newHarness(t)
	f, _ := lumen.NewLinkReply(lumen.CmdSearch, "")
	h.g.HandleLinkFrame(f)
	expectReplies(t, h.link.take())
	if h.g.State() != StateIdle {
		t.Error("reply-direction frame must not start a command")
	}
}

func TestStateString(t *testing.T) {
	if StateExtended.String() != "EXTENDED" || State(9).String() != "State(9)" {
		t.Error("unexpected State strings")
	}
}
