// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/ColdFireHunter/HS-PROJECT-INFO2/pkg/logging"
	"github.com/ColdFireHunter/HS-PROJECT-INFO2/pkg/lumen"
)

// Receiver yields whole mesh frames from the medium
type Receiver interface {
	Receive(ctx context.Context) ([]byte, error)
}

// Run serves one client session until ctx is cancelled or a transport fails.
//
// Reader goroutines decode link and mesh bytes into queues. The poll task
// routes queued frames into the state machine on every poll tick and the
// send task issues at most one broadcast per send tick. The two tasks share
// only the guarded pending command.
//
// Closing the link or the medium is the caller's job; reads blocked in them
// end when they are closed.
func (g *Gateway) Run(ctx context.Context, link io.Reader, mesh Receiver) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	linkFrames := make(chan *lumen.Frame, 32)
	meshFrames := make(chan *lumen.Frame, 64)
	errCh := make(chan error, 3)

	go func() { errCh <- g.readLink(ctx, link, linkFrames) }()
	go func() { errCh <- g.readMesh(ctx, mesh, meshFrames) }()
	go func() { errCh <- g.sendLoop(ctx) }()

	poll := time.NewTicker(g.pollInterval)
	defer poll.Stop()

	var statsC <-chan time.Time
	if g.statsEvery > 0 {
		statsTicker := time.NewTicker(g.statsEvery)
		defer statsTicker.Stop()
		statsC = statsTicker.C
	}

	g.log.Info("gateway running",
		zap.String("address", g.address),
		zap.Duration("deadline", g.deadline),
		zap.Duration("poll", g.pollInterval),
		zap.Duration("send", g.sendInterval))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-poll.C:
			g.route(linkFrames, meshFrames)
		case <-statsC:
			g.logStats()
		}
	}
}

// route drains every frame queued since the last tick
func (g *Gateway) route(linkFrames, meshFrames <-chan *lumen.Frame) {
	for {
		select {
		case f := <-linkFrames:
			g.HandleLinkFrame(f)
		case f := <-meshFrames:
			g.HandleMeshFrame(f)
		default:
			return
		}
	}
}

func (g *Gateway) sendLoop(ctx context.Context) error {
	ticker := time.NewTicker(g.sendInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			g.Flush()
		}
	}
}

func (g *Gateway) readLink(ctx context.Context, link io.Reader, out chan<- *lumen.Frame) error {
	decoder := lumen.NewDecoder(lumen.KindLink)
	buf := make([]byte, 256)
	for {
		n, err := link.Read(buf)
		for _, b := range buf[:n] {
			f, decodeErr := decoder.DecodeByte(b)
			if decodeErr != nil {
				g.discard(lumen.KindLink, decoder.GetRawBytes(), decodeErr)
				continue
			}
			if f == nil {
				continue
			}
			g.stats.Update(f, nil)
			g.record(lumen.KindLink, false, f.Bytes(), nil)
			logging.LogRawBytes(g.log, "link rx", f.Bytes())
			select {
			case out <- f:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("link closed: %w", err)
			}
			return fmt.Errorf("link read: %w", err)
		}
	}
}

func (g *Gateway) readMesh(ctx context.Context, mesh Receiver, out chan<- *lumen.Frame) error {
	for {
		raw, err := mesh.Receive(ctx)
		if err != nil {
			return fmt.Errorf("mesh receive: %w", err)
		}
		f, decodeErr := lumen.DecodeMesh(raw)
		if decodeErr != nil {
			g.discard(lumen.KindMesh, raw, decodeErr)
			continue
		}
		g.stats.Update(f, nil)
		if f.Direction() != lumen.ToGateway {
			// our own broadcast echoed back
			continue
		}
		g.record(lumen.KindMesh, false, raw, nil)
		select {
		case out <- f:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// discard accounts for a frame that failed to decode. Noise is expected on
// a shared medium and only logged at debug level.
func (g *Gateway) discard(kind lumen.Kind, raw []byte, err error) {
	g.stats.Update(nil, err)
	g.record(kind, false, raw, err)
	if lumen.IsNoise(err) {
		g.log.Debug("discarding noise", zap.Stringer("layer", kind), zap.Error(err))
		return
	}
	g.log.Warn("discarding frame", zap.Stringer("layer", kind), zap.Error(err))
}

func (g *Gateway) logStats() {
	s := g.stats.Snapshot()
	g.log.Info("frame statistics",
		zap.Uint64("total", s.TotalFrames),
		zap.Uint64("valid", s.ValidFrames),
		zap.Uint64("checksum_errors", s.ChecksumErrors),
		zap.Uint64("noise", s.NoiseErrors),
		zap.Float64("frames_per_sec", s.FrameRate),
		zap.Int("registry", g.registry.Len()),
		zap.Stringer("state", g.State()))
}
