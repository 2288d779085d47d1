// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gateway

import (
	"sync"

	"github.com/ColdFireHunter/HS-PROJECT-INFO2/pkg/lumen"
)

// ButtonReader samples the gateway's local buttons.
// The result is the BUTS payload, one 0/1 per button joined by '$'.
type ButtonReader interface {
	ReadButtons() (string, error)
}

// StaticButtons reports a fixed bitmap for hosts without button hardware.
// Set changes the bitmap, so a console or test can simulate presses.
type StaticButtons struct {
	mu    sync.Mutex
	state lumen.ButtonState
}

// NewStaticButtons creates a reader with the given initial state
func NewStaticButtons(state []bool) *StaticButtons {
	return &StaticButtons{state: append(lumen.ButtonState(nil), state...)}
}

// Set replaces the reported state
func (b *StaticButtons) Set(state []bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = append(b.state[:0], state...)
}

// ReadButtons implements ButtonReader
func (b *StaticButtons) ReadButtons() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.Payload(), nil
}
