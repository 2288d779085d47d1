// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package registry holds the ordered table of node addresses found by the
// current discovery round. Upstream commands refer to nodes by index only.
package registry

import (
	"fmt"
	"sync"

	"github.com/ColdFireHunter/HS-PROJECT-INFO2/pkg/lumen"
)

// Entry is one discovered node
type Entry struct {
	Index   int
	Address string
}

// Registry is an append-only list during a round, cleared by Reset.
// Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	addresses []string
	capacity  int
}

// New creates a registry holding at most lumen.MaxDevices entries
func New() *Registry {
	return &Registry{capacity: lumen.MaxDevices}
}

// Reset clears the registry at the start of a discovery round
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addresses = r.addresses[:0]
}

// Add appends address unless it is already present.
// Returns the entry index and whether the address was newly added.
func (r *Registry) Add(address string) (int, bool, error) {
	if len(address) != lumen.AddressSize {
		return 0, false, fmt.Errorf("%w: %q", lumen.ErrAddress, address)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i, a := range r.addresses {
		if a == address {
			return i, false, nil
		}
	}
	if len(r.addresses) >= r.capacity {
		return 0, false, fmt.Errorf("registry full (%d entries)", r.capacity)
	}
	r.addresses = append(r.addresses, address)
	return len(r.addresses) - 1, true, nil
}

// Lookup resolves an index to its address
func (r *Registry) Lookup(index int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if index < 0 || index >= len(r.addresses) {
		return "", false
	}
	return r.addresses[index], true
}

// Len returns the number of entries
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.addresses)
}

// Snapshot returns a copy of the entries in discovery order
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]Entry, len(r.addresses))
	for i, a := range r.addresses {
		entries[i] = Entry{Index: i, Address: a}
	}
	return entries
}
