// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lumen

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Statistics tracks frame counts and error rates. Safe for concurrent use.
type Statistics struct {
	mu             sync.Mutex
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames     uint64
	ValidFrames     uint64
	ChecksumErrors  uint64
	NoiseErrors     uint64 // delimiter and length failures
	OtherErrors     uint64
	LinkFrames      uint64
	MeshFrames      uint64
	UnknownCommands uint64 // valid frames with an undefined command code

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update records one decode attempt
func (s *Statistics) Update(frame *Frame, decodeErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.TotalFrames++
	s.LastUpdateTime = time.Now()

	if decodeErr != nil {
		switch {
		case errors.Is(decodeErr, ErrChecksum):
			s.ChecksumErrors++
		case IsNoise(decodeErr):
			s.NoiseErrors++
		default:
			s.OtherErrors++
		}
		return
	}

	s.ValidFrames++
	if frame != nil {
		switch frame.Kind() {
		case KindLink:
			s.LinkFrames++
		case KindMesh:
			s.MeshFrames++
		}
		if !KnownCommand(frame.Command()) {
			s.UnknownCommands++
		}
	}
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calculateRates()
}

func (s *Statistics) calculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		s.ErrorRate = float64(s.ChecksumErrors+s.NoiseErrors+s.OtherErrors) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calculateRates()

	var validPercent, checksumPercent, noisePercent float64
	if s.TotalFrames > 0 {
		validPercent = float64(s.ValidFrames) * 100.0 / float64(s.TotalFrames)
		checksumPercent = float64(s.ChecksumErrors) * 100.0 / float64(s.TotalFrames)
		noisePercent = float64(s.NoiseErrors) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, validPercent)
	if s.LinkFrames > 0 {
		result += fmt.Sprintf("  Link:             %5d\n", s.LinkFrames)
	}
	if s.MeshFrames > 0 {
		result += fmt.Sprintf("  Mesh:             %5d\n", s.MeshFrames)
	}
	if s.ChecksumErrors > 0 {
		result += fmt.Sprintf("Checksum Errors: %8d (%.1f%%)\n", s.ChecksumErrors, checksumPercent)
	}
	if s.NoiseErrors > 0 {
		result += fmt.Sprintf("Noise:           %8d (%.1f%%)\n", s.NoiseErrors, noisePercent)
	}
	if s.OtherErrors > 0 {
		result += fmt.Sprintf("Other Errors:    %8d\n", s.OtherErrors)
	}
	if s.UnknownCommands > 0 {
		result += fmt.Sprintf("Unknown Command: %8d\n", s.UnknownCommands)
	}
	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	return result
}

// StatisticsSnapshot is a point-in-time copy of Statistics without its lock
type StatisticsSnapshot struct {
	StartTime       time.Time
	LastUpdateTime  time.Time
	TotalFrames     uint64
	ValidFrames     uint64
	ChecksumErrors  uint64
	NoiseErrors     uint64
	OtherErrors     uint64
	LinkFrames      uint64
	MeshFrames      uint64
	UnknownCommands uint64
	FrameRate       float64
	ErrorRate       float64
}

// Snapshot returns a copy of the counters for display
func (s *Statistics) Snapshot() StatisticsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calculateRates()
	return StatisticsSnapshot{
		StartTime:       s.StartTime,
		LastUpdateTime:  s.LastUpdateTime,
		TotalFrames:     s.TotalFrames,
		ValidFrames:     s.ValidFrames,
		ChecksumErrors:  s.ChecksumErrors,
		NoiseErrors:     s.NoiseErrors,
		OtherErrors:     s.OtherErrors,
		LinkFrames:      s.LinkFrames,
		MeshFrames:      s.MeshFrames,
		UnknownCommands: s.UnknownCommands,
		FrameRate:       s.FrameRate,
		ErrorRate:       s.ErrorRate,
	}
}
