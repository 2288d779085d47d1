// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package gateway bridges one link-framed client session to the mesh.
//
// The gateway owns a single Pending Command slot. While a command is in
// flight every other client request is answered BUSY. Each command resolves
// by a matching node reply or by its deadline, and every path returns the
// state machine to idle.
package gateway

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ColdFireHunter/HS-PROJECT-INFO2/pkg/capture"
	"github.com/ColdFireHunter/HS-PROJECT-INFO2/pkg/lumen"
	"github.com/ColdFireHunter/HS-PROJECT-INFO2/pkg/registry"
)

// State of the relay state machine
type State int

const (
	StateIdle State = iota
	StateLocked
	StateExtended // a node reported BUSY and the longer deadline is armed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateLocked:
		return "LOCKED"
	case StateExtended:
		return "EXTENDED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Defaults
const (
	DefaultDeadline     = 2500 * time.Millisecond
	DefaultBusyDeadline = 10 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
	DefaultSendInterval = 100 * time.Millisecond
)

// Broadcaster transmits a mesh frame to every node on the medium
type Broadcaster interface {
	Broadcast(frame []byte) error
}

// PendingCommand is the single in-flight mesh request
type PendingCommand struct {
	Kind         string // request command code
	TargetIndex  int    // -1 for discovery
	Target       string // mesh address placed in the frame
	Payload      string // mesh payload
	StartedAt    time.Time
	Acknowledged bool

	sendNow bool
}

// Options configures a Gateway
type Options struct {
	Address      string // own mesh address, carried by SRCH
	Deadline     time.Duration
	BusyDeadline time.Duration
	PollInterval time.Duration
	SendInterval time.Duration
	StatsEvery   time.Duration // 0 disables periodic statistics logging
	Buttons      ButtonReader
	Clock        Clock
	Logger       *zap.Logger
	Capture      *capture.Writer
	Stats        *lumen.Statistics
}

// Gateway is the discovery and relay state machine
type Gateway struct {
	address      string
	deadline     time.Duration
	busyDeadline time.Duration
	pollInterval time.Duration
	sendInterval time.Duration
	statsEvery   time.Duration
	buttons      ButtonReader
	clock        Clock
	log          *zap.Logger
	capture      *capture.Writer
	stats        *lumen.Statistics

	link     io.Writer
	mesh     Broadcaster
	registry *registry.Registry

	mu      sync.Mutex
	state   State
	pending *PendingCommand
	timer   Timer
	epoch   uint64
}

// New creates a gateway replying on link and broadcasting on mesh
func New(link io.Writer, mesh Broadcaster, opts Options) (*Gateway, error) {
	if len(opts.Address) != lumen.AddressSize {
		return nil, fmt.Errorf("%w: gateway address %q", lumen.ErrAddress, opts.Address)
	}
	if link == nil || mesh == nil {
		return nil, errors.New("gateway needs a link and a mesh")
	}
	g := &Gateway{
		address:      opts.Address,
		deadline:     opts.Deadline,
		busyDeadline: opts.BusyDeadline,
		pollInterval: opts.PollInterval,
		sendInterval: opts.SendInterval,
		statsEvery:   opts.StatsEvery,
		buttons:      opts.Buttons,
		clock:        opts.Clock,
		log:          opts.Logger,
		capture:      opts.Capture,
		stats:        opts.Stats,
		link:         link,
		mesh:         mesh,
		registry:     registry.New(),
	}
	if g.deadline <= 0 {
		g.deadline = DefaultDeadline
	}
	if g.busyDeadline <= 0 {
		g.busyDeadline = DefaultBusyDeadline
	}
	if g.pollInterval <= 0 {
		g.pollInterval = DefaultPollInterval
	}
	if g.sendInterval <= 0 {
		g.sendInterval = DefaultSendInterval
	}
	if g.buttons == nil {
		g.buttons = NewStaticButtons(make([]bool, 4))
	}
	if g.clock == nil {
		g.clock = RealClock
	}
	if g.log == nil {
		g.log = zap.NewNop()
	}
	if g.stats == nil {
		g.stats = lumen.NewStatistics()
	}
	return g, nil
}

// Registry returns the discovery registry
func (g *Gateway) Registry() *registry.Registry {
	return g.registry
}

// Statistics returns the frame counters
func (g *Gateway) Statistics() *lumen.Statistics {
	return g.stats
}

// State returns the current state
func (g *Gateway) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Pending returns a copy of the in-flight command, or nil
func (g *Gateway) Pending() *PendingCommand {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending == nil {
		return nil
	}
	p := *g.pending
	return &p
}

// ============================================================
// Client requests
// ============================================================

// HandleLinkFrame routes one decoded client request
func (g *Gateway) HandleLinkFrame(f *lumen.Frame) {
	if f.Direction() != lumen.ToGateway {
		g.log.Debug("ignoring link frame travelling away from gateway", zap.String("command", f.Command()))
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != StateIdle {
		g.log.Info("request rejected, command in flight",
			zap.String("command", f.Command()),
			zap.String("pending", g.pending.Kind),
			zap.Stringer("state", g.state))
		g.reply(lumen.CmdBusy, "")
		return
	}

	pending, err := g.prepare(f)
	if err != nil {
		g.log.Info("request rejected", zap.String("command", f.Command()), zap.Error(err))
		g.reply(lumen.CmdNack, "")
		return
	}
	if pending == nil {
		// answered locally
		return
	}

	if pending.Kind == lumen.CmdSearch {
		g.registry.Reset()
	}
	pending.StartedAt = g.clock.Now()
	pending.sendNow = true
	g.pending = pending
	g.state = StateLocked
	g.arm(g.deadline)

	g.log.Info("command accepted",
		zap.String("command", pending.Kind),
		zap.Int("index", pending.TargetIndex),
		zap.String("target", pending.Target))
}

// prepare validates a request and builds its pending command.
// A nil command with nil error means the request was answered locally.
func (g *Gateway) prepare(f *lumen.Frame) (*PendingCommand, error) {
	payload := f.Payload()

	switch f.Command() {
	case lumen.CmdSearch:
		if payload != "" {
			return nil, fmt.Errorf("%w: SRCH takes no payload", lumen.ErrPayload)
		}
		return &PendingCommand{Kind: lumen.CmdSearch, TargetIndex: -1, Target: g.address}, nil

	case lumen.CmdReadButtons:
		if payload != "" {
			return nil, fmt.Errorf("%w: RBUT takes no payload", lumen.ErrPayload)
		}
		state, err := g.buttons.ReadButtons()
		if err != nil {
			return nil, fmt.Errorf("read buttons: %w", err)
		}
		g.reply(lumen.CmdButtons, state)
		return nil, nil

	case lumen.CmdHeartbeat, lumen.CmdSensors:
		index, err := lumen.ParseIndex(payload)
		if err != nil {
			return nil, err
		}
		return g.target(f.Command(), index, "")

	case lumen.CmdColor:
		cmd, err := lumen.ParseColorCommand(payload)
		if err != nil {
			return nil, err
		}
		return g.target(lumen.CmdColor, cmd.Index, lumen.MeshColor(cmd.Color))

	case lumen.CmdTone:
		cmd, err := lumen.ParseToneCommand(payload)
		if err != nil {
			return nil, err
		}
		return g.target(lumen.CmdTone, cmd.Index, cmd.Name)

	default:
		return nil, fmt.Errorf("%w: unsupported request %q", lumen.ErrCommand, f.Command())
	}
}

func (g *Gateway) target(kind string, index int, meshPayload string) (*PendingCommand, error) {
	address, ok := g.registry.Lookup(index)
	if !ok {
		return nil, fmt.Errorf("%w: index %d not in registry (%d entries)", lumen.ErrPayload, index, g.registry.Len())
	}
	return &PendingCommand{Kind: kind, TargetIndex: index, Target: address, Payload: meshPayload}, nil
}

// ============================================================
// Send tick
// ============================================================

// Flush broadcasts the pending command if it has not been sent yet.
// At most one frame is broadcast per call.
func (g *Gateway) Flush() {
	g.mu.Lock()
	if g.pending == nil || !g.pending.sendNow {
		g.mu.Unlock()
		return
	}
	g.pending.sendNow = false
	raw, err := lumen.EncodeMesh(lumen.FromGateway, g.pending.Target, g.pending.Kind, g.pending.Payload)
	kind := g.pending.Kind
	g.mu.Unlock()

	if err != nil {
		// Unreachable for validated requests; the deadline still clears the slot.
		g.log.Error("failed to encode mesh frame", zap.String("command", kind), zap.Error(err))
		return
	}
	g.record(lumen.KindMesh, true, raw, nil)
	if err := g.mesh.Broadcast(raw); err != nil {
		g.log.Warn("broadcast failed", zap.String("command", kind), zap.Error(err))
		return
	}
	g.log.Debug("broadcast", zap.String("command", kind), zap.ByteString("frame", raw))
}

// ============================================================
// Node replies
// ============================================================

// HandleMeshFrame routes one decoded node reply
func (g *Gateway) HandleMeshFrame(f *lumen.Frame) {
	if f.Direction() != lumen.ToGateway {
		// own broadcast echoed by the medium
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	p := g.pending
	if p == nil {
		g.log.Debug("unsolicited node frame", zap.String("command", f.Command()), zap.String("address", f.Address()))
		return
	}

	if p.Kind == lumen.CmdSearch {
		g.collect(f)
		return
	}

	if f.Address() != p.Target {
		g.log.Debug("reply for another target",
			zap.String("address", f.Address()),
			zap.String("target", p.Target))
		return
	}

	switch f.Command() {
	case lumen.CmdBusy:
		g.state = StateExtended
		g.arm(g.busyDeadline)
		g.log.Info("node busy, deadline extended",
			zap.String("command", p.Kind),
			zap.Duration("deadline", g.busyDeadline))
		g.reply(lumen.CmdBusy, "")

	case lumen.CmdNack:
		g.log.Info("node rejected command", zap.String("command", p.Kind))
		g.reply(lumen.CmdNack, "")
		g.resolve()

	default:
		g.acknowledge(f)
	}
}

// collect adds a discovery response to the registry. Discovery keeps
// collecting until its deadline.
func (g *Gateway) collect(f *lumen.Frame) {
	if f.Command() != lumen.CmdResponse || f.Address() != g.address {
		return
	}
	node := f.Payload()
	index, added, err := g.registry.Add(node)
	if err != nil {
		g.log.Warn("discovery response dropped", zap.String("node", node), zap.Error(err))
		return
	}
	if added {
		g.log.Info("node discovered", zap.Int("index", index), zap.String("node", node))
	}
}

func (g *Gateway) acknowledge(f *lumen.Frame) {
	p := g.pending
	switch p.Kind {
	case lumen.CmdHeartbeat:
		if f.Command() != lumen.CmdHeartbeat && f.Command() != lumen.CmdOkay {
			return
		}
		g.reply(lumen.CmdOkay, "")

	case lumen.CmdColor, lumen.CmdTone:
		if f.Command() != lumen.CmdOkay && f.Command() != p.Kind {
			return
		}
		g.reply(lumen.CmdOkay, "")

	case lumen.CmdSensors:
		if f.Command() != lumen.CmdSensors {
			return
		}
		reading, err := lumen.ParseSensorReading(f.Payload())
		if err != nil {
			g.log.Warn("invalid sensor reply", zap.String("payload", f.Payload()), zap.Error(err))
			g.reply(lumen.CmdNack, "")
			g.resolve()
			return
		}
		g.reply(lumen.CmdSensors, reading.Payload())

	default:
		return
	}

	p.Acknowledged = true
	g.log.Info("command acknowledged",
		zap.String("command", p.Kind),
		zap.Duration("elapsed", g.clock.Now().Sub(p.StartedAt)))
	g.resolve()
}

// ============================================================
// Deadlines
// ============================================================

// arm replaces any running deadline. Caller holds g.mu.
func (g *Gateway) arm(d time.Duration) {
	if g.timer != nil {
		g.timer.Stop()
	}
	g.epoch++
	epoch := g.epoch
	g.timer = g.clock.AfterFunc(d, func() { g.onDeadline(epoch) })
}

// resolve clears the pending command. Caller holds g.mu.
func (g *Gateway) resolve() {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.epoch++
	g.pending = nil
	g.state = StateIdle
}

func (g *Gateway) onDeadline(epoch uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if epoch != g.epoch || g.pending == nil {
		// superseded by a re-arm or a reply
		return
	}

	p := g.pending
	if p.Kind == lumen.CmdSearch {
		g.finishDiscovery()
	} else {
		g.log.Warn("command timed out",
			zap.String("command", p.Kind),
			zap.Int("index", p.TargetIndex),
			zap.Stringer("state", g.state))
		g.reply(lumen.CmdNack, "")
	}
	g.resolve()
}

// finishDiscovery reports the registry: MAC0..MACn then OKAY, or MACN
func (g *Gateway) finishDiscovery() {
	entries := g.registry.Snapshot()
	g.log.Info("discovery finished", zap.Int("nodes", len(entries)))
	if len(entries) == 0 {
		g.reply(lumen.CmdNoDevices, "")
		return
	}
	for _, e := range entries {
		g.reply(lumen.DeviceCommand(e.Index), e.Address)
	}
	g.reply(lumen.CmdOkay, "")
}

// reply writes a link frame to the client. Caller holds g.mu so replies
// keep state-machine order.
func (g *Gateway) reply(command, payload string) {
	f, err := lumen.NewLinkReply(command, payload)
	if err != nil {
		g.log.Error("failed to encode reply", zap.String("command", command), zap.Error(err))
		if command == lumen.CmdNack {
			return
		}
		f, _ = lumen.NewLinkReply(lumen.CmdNack, "")
	}
	raw := f.Bytes()
	g.record(lumen.KindLink, true, raw, nil)
	if _, err := g.link.Write(raw); err != nil {
		g.log.Warn("link write failed", zap.String("command", command), zap.Error(err))
		return
	}
	g.log.Debug("reply", zap.String("command", command), zap.String("payload", payload))
}

func (g *Gateway) record(kind lumen.Kind, outbound bool, raw []byte, decodeErr error) {
	if err := g.capture.Record(kind, outbound, raw, decodeErr); err != nil {
		g.log.Warn("capture failed", zap.Error(err))
	}
}
