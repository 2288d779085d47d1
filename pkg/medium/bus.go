// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package medium provides the shared broadcast channel between a gateway and
// its fixture nodes.
//
// Every transmission reaches every other attached station. Delivery is best
// effort: a station that falls behind loses frames, as it would on a radio
// link.
package medium

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by operations on a closed port or connection
var ErrClosed = errors.New("medium closed")

// DefaultQueueSize is the per-station receive backlog
const DefaultQueueSize = 64

// Bus is an in-process medium
type Bus struct {
	mu    sync.Mutex
	ports map[*Port]struct{}
	queue int
}

// NewBus creates a bus whose ports queue up to queue frames. Zero selects
// DefaultQueueSize.
func NewBus(queue int) *Bus {
	if queue <= 0 {
		queue = DefaultQueueSize
	}
	return &Bus{ports: make(map[*Port]struct{}), queue: queue}
}

// Port attaches a new station
func (b *Bus) Port() *Port {
	p := &Port{bus: b, rx: make(chan []byte, b.queue), done: make(chan struct{})}
	b.mu.Lock()
	b.ports[p] = struct{}{}
	b.mu.Unlock()
	return p
}

func (b *Bus) deliver(from *Port, frame []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for p := range b.ports {
		if p == from {
			continue
		}
		msg := append([]byte(nil), frame...)
		select {
		case p.rx <- msg:
		default:
			p.mu.Lock()
			p.dropped++
			p.mu.Unlock()
		}
	}
}

func (b *Bus) detach(p *Port) {
	b.mu.Lock()
	delete(b.ports, p)
	b.mu.Unlock()
}

// Port is one station on a Bus
type Port struct {
	bus  *Bus
	rx   chan []byte
	done chan struct{}
	once sync.Once

	mu      sync.Mutex
	dropped int
}

// Broadcast sends frame to every other port
func (p *Port) Broadcast(frame []byte) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	p.bus.deliver(p, frame)
	return nil
}

// Receive blocks until a frame arrives, ctx ends or the port is closed
func (p *Port) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-p.rx:
		return frame, nil
	case <-p.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dropped counts frames lost to a full queue
func (p *Port) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Close detaches the port. Blocked receivers return ErrClosed.
func (p *Port) Close() error {
	p.once.Do(func() {
		p.bus.detach(p)
		close(p.done)
	})
	return nil
}
