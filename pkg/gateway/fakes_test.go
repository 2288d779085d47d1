// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gateway

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/ColdFireHunter/HS-PROJECT-INFO2/pkg/lumen"
)

const (
	gatewayAddr = "02:00:00:00:00:01"
	nodeA       = "a4:cf:12:9b:00:0a"
	nodeB       = "a4:cf:12:9b:00:0b"
)

// ============================================================
// Fake clock
// ============================================================

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	when    time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, when: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance moves time forward and runs due timers in deadline order
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.when.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].when.Before(due[j].when) })
	for _, t := range due {
		t.f()
	}
}

// active counts timers that have neither fired nor been stopped
func (c *fakeClock) active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// ============================================================
// Fake link and medium
// ============================================================

type linkRecorder struct {
	mu     sync.Mutex
	frames []*lumen.Frame
	t      *testing.T
}

func (l *linkRecorder) Write(p []byte) (int, error) {
	f, err := lumen.DecodeLink(p)
	if err != nil {
		l.t.Errorf("gateway wrote invalid link frame %q: %v", p, err)
		return len(p), nil
	}
	l.mu.Lock()
	l.frames = append(l.frames, f)
	l.mu.Unlock()
	return len(p), nil
}

// take returns and clears the recorded replies as "CMD:payload" strings
func (l *linkRecorder) take() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.frames))
	for i, f := range l.frames {
		out[i] = f.Command() + ":" + f.Payload()
		if f.Direction() != lumen.FromGateway {
			l.t.Errorf("reply %s has wrong direction", out[i])
		}
	}
	l.frames = nil
	return out
}

type meshRecorder struct {
	mu     sync.Mutex
	frames []*lumen.Frame
	rx     chan []byte
}

func newMeshRecorder() *meshRecorder {
	return &meshRecorder{rx: make(chan []byte, 16)}
}

func (m *meshRecorder) Broadcast(raw []byte) error {
	f, err := lumen.DecodeMesh(raw)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.frames = append(m.frames, f)
	m.mu.Unlock()
	return nil
}

func (m *meshRecorder) Receive(ctx context.Context) ([]byte, error) {
	select {
	case raw := <-m.rx:
		return raw, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *meshRecorder) sent() []*lumen.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*lumen.Frame(nil), m.frames...)
}

// ============================================================
// Harness
// ============================================================

type harness struct {
	t     *testing.T
	g     *Gateway
	clock *fakeClock
	link  *linkRecorder
	mesh  *meshRecorder
	btns  *StaticButtons
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		t:     t,
		clock: newFakeClock(),
		link:  &linkRecorder{t: t},
		mesh:  newMeshRecorder(),
		btns:  NewStaticButtons([]bool{false, true, false, false}),
	}
	g, err := New(h.link, h.mesh, Options{
		Address: gatewayAddr,
		Buttons: h.btns,
		Clock:   h.clock,
		Logger:  zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.g = g
	return h
}

func (h *harness) request(cmd, payload string) {
	h.t.Helper()
	f, err := lumen.NewLinkFrame(lumen.ToGateway, cmd, payload)
	if err != nil {
		h.t.Fatalf("NewLinkFrame(%s, %q) error = %v", cmd, payload, err)
	}
	h.g.HandleLinkFrame(f)
}

func (h *harness) nodeReply(address, cmd, payload string) {
	h.t.Helper()
	f, err := lumen.NewMeshFrame(lumen.ToGateway, address, cmd, payload)
	if err != nil {
		h.t.Fatalf("NewMeshFrame(%s, %q) error = %v", cmd, payload, err)
	}
	h.g.HandleMeshFrame(f)
}

// discover runs a full discovery round that finds the given nodes
func (h *harness) discover(nodes ...string) {
	h.t.Helper()
	h.request(lumen.CmdSearch, "")
	h.g.Flush()
	for _, n := range nodes {
		h.nodeReply(gatewayAddr, lumen.CmdResponse, n)
	}
	h.clock.Advance(DefaultDeadline)
	h.link.take()
	if h.g.State() != StateIdle {
		h.t.Fatalf("state after discovery = %v", h.g.State())
	}
}

func expectReplies(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("replies = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("replies = %v, want %v", got, want)
		}
	}
}
