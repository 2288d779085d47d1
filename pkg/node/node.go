// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package node implements the fixture node dispatcher.
//
// A node listens for gateway frames on the mesh, executes the requested
// capability and answers with a reply frame carrying the request's address
// field. Before its first discovery a node only answers SRCH; afterwards it
// accepts commands addressed to its own address.
package node

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ColdFireHunter/HS-PROJECT-INFO2/pkg/lumen"
)

// Defaults for the discovery reply delay
const (
	DefaultJitterMin = 50 * time.Millisecond
	DefaultJitterMax = 500 * time.Millisecond
)

// Medium is the shared broadcast channel
type Medium interface {
	Broadcast(frame []byte) error
	Receive(ctx context.Context) ([]byte, error)
}

// State of the dispatcher
type State int

const (
	StateIdle State = iota
	StateExecuting
)

func (s State) String() string {
	if s == StateExecuting {
		return "EXECUTING"
	}
	return "IDLE"
}

// Options configures a Node. Missing capabilities answer NACK.
type Options struct {
	Address   string
	Sensors   Sensors
	Output    Output
	Buzzer    Buzzer
	Indicator Indicator
	JitterMin time.Duration
	JitterMax time.Duration
	Rand      *rand.Rand
	Sleep     func(ctx context.Context, d time.Duration) error
	Logger    *zap.Logger
}

// Node dispatches mesh requests to local capabilities
type Node struct {
	address   string
	sensors   Sensors
	output    Output
	buzzer    Buzzer
	indicator Indicator
	jitterMin time.Duration
	jitterMax time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
	log       *zap.Logger
	send      func([]byte) error

	mu      sync.Mutex
	rng     *rand.Rand
	bound   bool   // discovery completed at least once
	gateway string // address of the gateway that last discovered us
	state   State
}

// New creates a node that replies through send
func New(send func([]byte) error, opts Options) (*Node, error) {
	if len(opts.Address) != lumen.AddressSize {
		return nil, fmt.Errorf("%w: node address %q", lumen.ErrAddress, opts.Address)
	}
	if send == nil {
		return nil, errors.New("node needs a send function")
	}
	n := &Node{
		address:   opts.Address,
		sensors:   opts.Sensors,
		output:    opts.Output,
		buzzer:    opts.Buzzer,
		indicator: opts.Indicator,
		jitterMin: opts.JitterMin,
		jitterMax: opts.JitterMax,
		sleep:     opts.Sleep,
		log:       opts.Logger,
		send:      send,
		rng:       opts.Rand,
	}
	if n.jitterMin <= 0 && n.jitterMax <= 0 {
		n.jitterMin, n.jitterMax = DefaultJitterMin, DefaultJitterMax
	}
	if n.jitterMax < n.jitterMin {
		n.jitterMax = n.jitterMin
	}
	if n.sleep == nil {
		n.sleep = sleepContext
	}
	if n.log == nil {
		n.log = zap.NewNop()
	}
	if n.rng == nil {
		n.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	n.log = n.log.With(zap.String("node", n.address))
	return n, nil
}

// Address returns the node's mesh address
func (n *Node) Address() string {
	return n.address
}

// Bound reports whether the node has answered a discovery and the gateway
// that sent it
func (n *Node) Bound() (bool, string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.bound, n.gateway
}

// State returns the dispatcher state
func (n *Node) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Run dispatches frames from the medium until ctx ends or receiving fails
func (n *Node) Run(ctx context.Context, medium Medium) error {
	n.log.Info("node running")
	for {
		raw, err := medium.Receive(ctx)
		if err != nil {
			return err
		}
		f, err := lumen.DecodeMesh(raw)
		if err != nil {
			if !lumen.IsNoise(err) {
				n.log.Debug("discarding frame", zap.Error(err))
			}
			continue
		}
		if err := n.Handle(ctx, f); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			n.log.Warn("handling failed", zap.String("command", f.Command()), zap.Error(err))
		}
	}
}

// Handle executes one gateway frame. Frames travelling toward the gateway
// (other nodes' replies, our own echoes) are ignored.
func (n *Node) Handle(ctx context.Context, f *lumen.Frame) error {
	if f.Direction() != lumen.FromGateway {
		return nil
	}

	if f.Command() == lumen.CmdSearch {
		return n.answerSearch(ctx, f)
	}

	n.mu.Lock()
	accept := n.bound && f.Address() == n.address
	if accept {
		n.state = StateExecuting
	}
	n.mu.Unlock()
	if !accept {
		return nil
	}
	defer func() {
		n.mu.Lock()
		n.state = StateIdle
		n.mu.Unlock()
	}()

	reply := func(cmd, payload string) error {
		return n.reply(f.Address(), cmd, payload)
	}

	switch f.Command() {
	case lumen.CmdHeartbeat:
		if n.indicator != nil {
			n.indicator.Toggle()
		}
		return reply(lumen.CmdHeartbeat, "")

	case lumen.CmdColor:
		if _, err := lumen.ParseMeshColor(f.Payload()); err != nil {
			n.log.Info("rejecting colour", zap.String("payload", f.Payload()), zap.Error(err))
			return reply(lumen.CmdNack, "")
		}
		if n.output == nil {
			return reply(lumen.CmdNack, "")
		}
		if err := n.output.SetOutput(f.Payload()); err != nil {
			n.log.Warn("output failed", zap.Error(err))
			return reply(lumen.CmdNack, "")
		}
		return reply(lumen.CmdOkay, "")

	case lumen.CmdSensors:
		if n.sensors == nil {
			return reply(lumen.CmdNack, "")
		}
		payload, err := n.sensors.ReadSensors()
		if err != nil {
			n.log.Warn("sensor read failed", zap.Error(err))
			return reply(lumen.CmdNack, "")
		}
		return reply(lumen.CmdSensors, payload)

	case lumen.CmdTone:
		name := f.Payload()
		if n.buzzer == nil || !n.buzzer.ToneExists(name) {
			n.log.Info("unknown tone", zap.String("tone", name))
			return reply(lumen.CmdNack, "")
		}
		if err := reply(lumen.CmdBusy, ""); err != nil {
			return err
		}
		if err := n.buzzer.PlayTone(name); err != nil {
			n.log.Warn("tone playback failed", zap.String("tone", name), zap.Error(err))
			return reply(lumen.CmdNack, "")
		}
		return reply(lumen.CmdOkay, "")

	default:
		return reply(lumen.CmdNack, "")
	}
}

// answerSearch replies with our address after a random delay so many nodes
// answering the same broadcast are spread out.
func (n *Node) answerSearch(ctx context.Context, f *lumen.Frame) error {
	delay := n.jitter()
	n.log.Debug("answering search", zap.String("gateway", f.Address()), zap.Duration("delay", delay))
	if err := n.sleep(ctx, delay); err != nil {
		return err
	}
	if err := n.reply(f.Address(), lumen.CmdResponse, n.address); err != nil {
		return err
	}

	n.mu.Lock()
	n.bound = true
	n.gateway = f.Address()
	n.mu.Unlock()
	return nil
}

func (n *Node) jitter() time.Duration {
	span := n.jitterMax - n.jitterMin
	if span <= 0 {
		return n.jitterMin
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.jitterMin + time.Duration(n.rng.Int63n(int64(span)+1))
}

func (n *Node) reply(address, cmd, payload string) error {
	raw, err := lumen.EncodeMesh(lumen.ToGateway, address, cmd, payload)
	if err != nil {
		if cmd == lumen.CmdNack {
			return err
		}
		// capability produced something unencodable
		n.log.Warn("reply not encodable", zap.String("command", cmd), zap.Error(err))
		return n.reply(address, lumen.CmdNack, "")
	}
	if err := n.send(raw); err != nil {
		return fmt.Errorf("send %s: %w", cmd, err)
	}
	n.log.Debug("reply", zap.String("command", cmd), zap.String("payload", payload))
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
