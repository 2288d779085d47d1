// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package node

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/ColdFireHunter/HS-PROJECT-INFO2/pkg/lumen"
)

const (
	gatewayAddr = "02:00:00:00:00:01"
	selfAddr    = "a4:cf:12:9b:00:0a"
	otherAddr   = "a4:cf:12:9b:00:0b"
)

type sentLog struct {
	mu     sync.Mutex
	frames []*lumen.Frame
}

func (s *sentLog) send(raw []byte) error {
	f, err := lumen.DecodeMesh(raw)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.frames = append(s.frames, f)
	s.mu.Unlock()
	return nil
}

func (s *sentLog) take() []*lumen.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.frames
	s.frames = nil
	return out
}

type fixture struct {
	t      *testing.T
	n      *Node
	sent   *sentLog
	out    *SimOutput
	buzzer *SimBuzzer
	light  *SimIndicator
	sleeps []time.Duration
}

func newFixture(t *testing.T) *fixture {
	fx := &fixture{
		t:      t,
		sent:   &sentLog{},
		out:    &SimOutput{},
		buzzer: NewSimBuzzer(0),
		light:  &SimIndicator{},
	}
	n, err := New(fx.sent.send, Options{
		Address:   selfAddr,
		Sensors:   NewSimSensors(1, true),
		Output:    fx.out,
		Buzzer:    fx.buzzer,
		Indicator: fx.light,
		Rand:      rand.New(rand.NewSource(7)),
		Sleep: func(ctx context.Context, d time.Duration) error {
			fx.sleeps = append(fx.sleeps, d)
			return nil
		},
		Logger: zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	fx.n = n
	return fx
}

func (fx *fixture) gateway(address, cmd, payload string) {
	fx.t.Helper()
	f, err := lumen.NewMeshFrame(lumen.FromGateway, address, cmd, payload)
	if err != nil {
		fx.t.Fatalf("NewMeshFrame() error = %v", err)
	}
	if err := fx.n.Handle(context.Background(), f); err != nil {
		fx.t.Fatalf("Handle(%s) error = %v", cmd, err)
	}
}

func (fx *fixture) bind() {
	fx.gateway(gatewayAddr, lumen.CmdSearch, "")
	fx.sent.take()
}

func expectSent(t *testing.T, got []*lumen.Frame, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("sent %d frames %v, want %v", len(got), got, want)
	}
	for i, f := range got {
		if f.Command() != want[i] {
			t.Errorf("frame %d = %s, want %s", i, f.Command(), want[i])
		}
		if f.Direction() != lumen.ToGateway {
			t.Errorf("frame %d travels the wrong way", i)
		}
	}
}

// ============================================================
// Discovery
// ============================================================

func TestSearch_RepliesWithAddressAfterJitter(t *testing.T) {
	fx := newFixture(t)
	fx.gateway(gatewayAddr, lumen.CmdSearch, "")

	sent := fx.sent.take()
	expectSent(t, sent, lumen.CmdResponse)
	if sent[0].Address() != gatewayAddr || sent[0].Payload() != selfAddr {
		t.Errorf("RESP = %s", sent[0])
	}
	if len(fx.sleeps) != 1 || fx.sleeps[0] < DefaultJitterMin || fx.sleeps[0] > DefaultJitterMax {
		t.Errorf("sleeps = %v, want one in [50ms, 500ms]", fx.sleeps)
	}
	if bound, gw := fx.n.Bound(); !bound || gw != gatewayAddr {
		t.Errorf("Bound() = %v, %q", bound, gw)
	}
}

func TestCommandsIgnoredBeforeDiscovery(t *testing.T) {
	fx := newFixture(t)
	fx.gateway(selfAddr, lumen.CmdHeartbeat, "")
	expectSent(t, fx.sent.take())
}

func TestCommandsForOtherNodesIgnored(t *testing.T) {
	fx := newFixture(t)
	fx.bind()
	fx.gateway(otherAddr, lumen.CmdHeartbeat, "")
	fx.gateway(otherAddr, "ZZZZ", "")
	expectSent(t, fx.sent.take())
}

func TestRepliesFromOtherNodesIgnored(t *testing.T) {
	fx := newFixture(t)
	fx.bind()
	f, _ := lumen.NewMeshFrame(lumen.ToGateway, selfAddr, lumen.CmdHeartbeat, "")
	if err := fx.n.Handle(context.Background(), f); err != nil {
		t.Fatal(err)
	}
	expectSent(t, fx.sent.take())
}

// ============================================================
// Commands
// ============================================================

func TestHeartbeat_TogglesIndicator(t *testing.T) {
	fx := newFixture(t)
	fx.bind()
	fx.gateway(selfAddr, lumen.CmdHeartbeat, "")
	sent := fx.sent.take()
	expectSent(t, sent, lumen.CmdHeartbeat)
	if sent[0].Address() != selfAddr {
		t.Errorf("reply address = %q, want request's address", sent[0].Address())
	}
	if !fx.light.On() {
		t.Error("indicator should be on after one heartbeat")
	}
	if fx.n.State() != StateIdle {
		t.Error("dispatcher should return to IDLE")
	}
}

func TestColor_AppliesValidPayload(t *testing.T) {
	fx := newFixture(t)
	fx.bind()
	fx.gateway(selfAddr, lumen.CmdColor, "0xFF8000000000")
	expectSent(t, fx.sent.take(), lumen.CmdOkay)
	if fx.out.Color() != (lumen.Color{255, 128, 0, 0, 0, 0}) {
		t.Errorf("Color() = %v", fx.out.Color())
	}
	if d := fx.out.Duty(); d[0] != 1023 || d[1] != 513 {
		t.Errorf("Duty() = %v", d)
	}
}

func TestColor_RejectsMalformedWithoutApplying(t *testing.T) {
	fx := newFixture(t)
	fx.bind()
	fx.gateway(selfAddr, lumen.CmdColor, "0x010203040506")
	fx.sent.take()

	for _, bad := range []string{"0xFF", "FF8000000000", "0xGG8000000000", ""} {
		fx.gateway(selfAddr, lumen.CmdColor, bad)
		expectSent(t, fx.sent.take(), lumen.CmdNack)
	}
	if fx.out.Color() != (lumen.Color{1, 2, 3, 4, 5, 6}) {
		t.Errorf("rejected payload changed output to %v", fx.out.Color())
	}
}

func TestSensors_ReplyIsValidReading(t *testing.T) {
	fx := newFixture(t)
	fx.bind()
	fx.gateway(selfAddr, lumen.CmdSensors, "")
	sent := fx.sent.take()
	expectSent(t, sent, lumen.CmdSensors)
	r, err := lumen.ParseSensorReading(sent[0].Payload())
	if err != nil {
		t.Fatalf("reply %q does not parse: %v", sent[0].Payload(), err)
	}
	if !r.HasLux {
		t.Error("sim sensors were created with lux")
	}
}

type failingSensors struct{}

func (failingSensors) ReadSensors() (string, error) { return "", errors.New("i2c timeout") }

func TestSensors_FailureNacks(t *testing.T) {
	fx := newFixture(t)
	fx.n.sensors = failingSensors{}
	fx.bind()
	fx.gateway(selfAddr, lumen.CmdSensors, "")
	expectSent(t, fx.sent.take(), lumen.CmdNack)
}

func TestTone_BusyThenOkay(t *testing.T) {
	fx := newFixture(t)
	fx.bind()
	fx.gateway(selfAddr, lumen.CmdTone, "STARTUP")
	expectSent(t, fx.sent.take(), lumen.CmdBusy, lumen.CmdOkay)
	if played := fx.buzzer.Played(); len(played) != 1 || played[0] != "STARTUP" {
		t.Errorf("Played() = %v", played)
	}
}

func TestTone_UnknownNacks(t *testing.T) {
	fx := newFixture(t)
	fx.bind()
	fx.gateway(selfAddr, lumen.CmdTone, "NOPE")
	expectSent(t, fx.sent.take(), lumen.CmdNack)
	if len(fx.buzzer.Played()) != 0 {
		t.Error("nothing should play")
	}
}

func TestUnknownCommandNacks(t *testing.T) {
	fx := newFixture(t)
	fx.bind()
	fx.gateway(selfAddr, "ZZZZ", "")
	expectSent(t, fx.sent.take(), lumen.CmdNack)
}

func TestMissingCapabilityNacks(t *testing.T) {
	sent := &sentLog{}
	n, err := New(sent.send, Options{
		Address: selfAddr,
		Sleep:   func(context.Context, time.Duration) error { return nil },
	})
	if err != nil {
		t.Fatal(err)
	}
	search, _ := lumen.NewMeshFrame(lumen.FromGateway, gatewayAddr, lumen.CmdSearch, "")
	n.Handle(context.Background(), search)
	sent.take()

	for _, cmd := range []string{lumen.CmdSensors, lumen.CmdTone, lumen.CmdColor} {
		payload := ""
		if cmd == lumen.CmdColor {
			payload = "0x000000000000"
		}
		if cmd == lumen.CmdTone {
			payload = "ALARM"
		}
		f, _ := lumen.NewMeshFrame(lumen.FromGateway, selfAddr, cmd, payload)
		n.Handle(context.Background(), f)
		expectSent(t, sent.take(), lumen.CmdNack)
	}
}

// ============================================================
// Run loop
// ============================================================

type chanMedium struct {
	rx   chan []byte
	sent *sentLog
}

func (m *chanMedium) Broadcast(raw []byte) error { return m.sent.send(raw) }

func (m *chanMedium) Receive(ctx context.Context) ([]byte, error) {
	select {
	case raw := <-m.rx:
		return raw, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestRun_DispatchesFromMedium(t *testing.T) {
	sent := &sentLog{}
	m := &chanMedium{rx: make(chan []byte, 4), sent: sent}
	n, _ := New(m.Broadcast, Options{
		Address:   selfAddr,
		JitterMin: time.Millisecond,
		JitterMax: 2 * time.Millisecond,
		Logger:    zaptest.NewLogger(t),
	})

	search, _ := lumen.EncodeMesh(lumen.FromGateway, gatewayAddr, lumen.CmdSearch, "")
	m.rx <- []byte("noise")
	m.rx <- search

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx, m) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if bound, _ := n.Bound(); bound {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v", err)
	}
	expectSent(t, sent.take(), lumen.CmdResponse)
}

// ============================================================
// Simulated hardware
// ============================================================

func TestNoteFrequency(t *testing.T) {
	tests := []struct {
		pitch string
		want  int
	}{
		{"A4", 440},
		{"C4", 262},
		{"A5", 880},
		{"C#5", 554},
		{"Bb3", 233},
	}
	for _, tt := range tests {
		got, err := NoteFrequency(tt.pitch)
		if err != nil || got != tt.want {
			t.Errorf("NoteFrequency(%q) = %d, %v, want %d", tt.pitch, got, err, tt.want)
		}
	}
	for _, bad := range []string{"", "H4", "A9", "A"} {
		if _, err := NoteFrequency(bad); err == nil {
			t.Errorf("NoteFrequency(%q) should fail", bad)
		}
	}
}

func TestSimBuzzer_AddSong(t *testing.T) {
	b := NewSimBuzzer(0)
	if err := b.AddSong("CHIME", []Note{{"E5", time.Millisecond}, {"", time.Millisecond}}); err != nil {
		t.Fatalf("AddSong() error = %v", err)
	}
	if !b.ToneExists("CHIME") {
		t.Error("CHIME should exist")
	}
	if err := b.AddSong("bad name", nil); err == nil {
		t.Error("lowercase name should fail")
	}
	if err := b.AddSong("BROKEN", []Note{{"Z9", time.Millisecond}}); err == nil {
		t.Error("invalid pitch should fail")
	}
}

func TestSimBuzzer_Tempo(t *testing.T) {
	b := NewSimBuzzer(0.5)
	var total time.Duration
	b.sleep = func(d time.Duration) { total += d }
	if err := b.PlayTone("STARTUP"); err != nil {
		t.Fatal(err)
	}
	if total != 300*time.Millisecond {
		t.Errorf("slept %v, want 300ms at half tempo", total)
	}
}

func TestSimSensors_StayInRange(t *testing.T) {
	s := NewSimSensors(42, false)
	for i := 0; i < 500; i++ {
		payload, _ := s.ReadSensors()
		r, err := lumen.ParseSensorReading(payload)
		if err != nil {
			t.Fatalf("reading %d %q: %v", i, payload, err)
		}
		if r.HasLux || r.Humidity < 0 || r.Humidity > 100 || r.TVOC < 0 {
			t.Fatalf("reading %d out of range: %+v", i, r)
		}
		if len(payload) > lumen.PayloadSize {
			t.Fatalf("payload %q too long", payload)
		}
	}
}
