// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package client drives a gateway over the Link.
//
// A Driver issues one request at a time and blocks until the gateway
// answers with OKAY, NACK, BUSY or a data reply. BUSY ends the call; the
// caller decides whether to try again later. On NACK an optional policy
// chooses between resending the identical frame and giving up.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ColdFireHunter/HS-PROJECT-INFO2/pkg/logging"
	"github.com/ColdFireHunter/HS-PROJECT-INFO2/pkg/lumen"
)

// Sentinel errors for the typed helpers
var (
	ErrNack       = errors.New("gateway replied NACK")
	ErrBusy       = errors.New("gateway replied BUSY")
	ErrTimeout    = errors.New("no reply from gateway")
	ErrClosed     = errors.New("link closed")
	ErrUnexpected = errors.New("unexpected reply")
)

// DefaultTimeout bounds the wait for one reply
const DefaultTimeout = 15 * time.Second

// NackFunc decides whether to resend after a NACK. attempt counts resends
// already made, starting at 0.
type NackFunc func(req *lumen.Frame, attempt int) bool

// ResendAlways resends until MaxResends is reached
func ResendAlways(*lumen.Frame, int) bool { return true }

// Reply is the gateway's answer to a request
type Reply struct {
	Command string
	Payload string
	Devices []Device // MACi results collected for a SRCH request
}

// Err maps NACK and BUSY to the sentinel errors
func (r Reply) Err() error {
	switch r.Command {
	case lumen.CmdNack:
		return ErrNack
	case lumen.CmdBusy:
		return ErrBusy
	}
	return nil
}

// Options configures a Driver
type Options struct {
	Timeout    time.Duration // per reply, zero selects DefaultTimeout
	MaxResends int           // NACK resends per request
	OnNack     NackFunc      // nil never resends
	OnFrame    func(f *lumen.Frame, outbound bool)
	Logger     *zap.Logger
}

// Driver is the client end of the Link
type Driver struct {
	link       io.Writer
	timeout    time.Duration
	maxResends int
	onNack     NackFunc
	onFrame    func(*lumen.Frame, bool)
	log        *zap.Logger
	stats      *lumen.Statistics

	frames chan *lumen.Frame
	done   chan struct{}
	errMu  sync.Mutex
	err    error

	// one outstanding request
	callMu sync.Mutex
}

// New starts reading replies from link. The driver stops when link reads
// fail; closing link is the caller's job.
func New(link io.ReadWriter, opts Options) *Driver {
	d := &Driver{
		link:       link,
		timeout:    opts.Timeout,
		maxResends: opts.MaxResends,
		onNack:     opts.OnNack,
		onFrame:    opts.OnFrame,
		log:        opts.Logger,
		stats:      lumen.NewStatistics(),
		frames:     make(chan *lumen.Frame, 32),
		done:       make(chan struct{}),
	}
	if d.timeout <= 0 {
		d.timeout = DefaultTimeout
	}
	if d.log == nil {
		d.log = zap.NewNop()
	}
	go d.readLoop(link)
	return d
}

// Statistics returns the counters for received link traffic
func (d *Driver) Statistics() *lumen.Statistics {
	return d.stats
}

func (d *Driver) readLoop(r io.Reader) {
	decoder := lumen.NewDecoder(lumen.KindLink)
	buf := make([]byte, 256)
	for {
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			f, decodeErr := decoder.DecodeByte(b)
			if decodeErr != nil {
				d.stats.Update(nil, decodeErr)
				if !lumen.IsNoise(decodeErr) {
					d.log.Warn("discarding reply", zap.Error(decodeErr))
				}
				continue
			}
			if f == nil {
				continue
			}
			d.stats.Update(f, nil)
			if f.Direction() != lumen.FromGateway {
				continue
			}
			logging.LogRawBytes(d.log, "link rx", f.Bytes())
			if d.onFrame != nil {
				d.onFrame(f, false)
			}
			select {
			case d.frames <- f:
			default:
				d.log.Warn("reply queue full, dropping", zap.String("command", f.Command()))
			}
		}
		if err != nil {
			d.errMu.Lock()
			d.err = err
			d.errMu.Unlock()
			close(d.done)
			return
		}
	}
}

func (d *Driver) closedErr() error {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	return fmt.Errorf("%w: %v", ErrClosed, d.err)
}

// drain drops replies left over from an earlier call
func (d *Driver) drain() {
	for {
		select {
		case f := <-d.frames:
			d.log.Debug("dropping stale reply", zap.String("command", f.Command()))
		default:
			return
		}
	}
}

func (d *Driver) write(f *lumen.Frame) error {
	raw := f.Bytes()
	if _, err := d.link.Write(raw); err != nil {
		return fmt.Errorf("write %s: %w", f.Command(), err)
	}
	logging.LogRawBytes(d.log, "link tx", raw)
	if d.onFrame != nil {
		d.onFrame(f, true)
	}
	return nil
}

// next waits for the next reply
func (d *Driver) next(ctx context.Context) (*lumen.Frame, error) {
	timer := time.NewTimer(d.timeout)
	defer timer.Stop()
	select {
	case f := <-d.frames:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrTimeout
	case <-d.done:
		// replies decoded before the link closed are still valid
		select {
		case f := <-d.frames:
			return f, nil
		default:
		}
		return nil, d.closedErr()
	}
}

func terminal(cmd string) bool {
	switch cmd {
	case lumen.CmdOkay, lumen.CmdNack, lumen.CmdBusy, lumen.CmdSensors, lumen.CmdButtons, lumen.CmdNoDevices:
		return true
	}
	return false
}

// Send issues req and blocks until a terminal reply. A NACK is returned to
// the caller once the resend policy declines or MaxResends is used up. The
// returned error is non-nil only when no terminal reply arrived.
//
// For SRCH the MACi results are collected into Reply.Devices and the reply
// ends with OKAY or MACN.
func (d *Driver) Send(ctx context.Context, req *lumen.Frame) (Reply, error) {
	d.callMu.Lock()
	defer d.callMu.Unlock()
	if req.Command() == lumen.CmdSearch {
		return d.search(ctx, req)
	}
	return d.send(ctx, req)
}

// search collects discovery results until a terminal reply
func (d *Driver) search(ctx context.Context, req *lumen.Frame) (Reply, error) {
	d.drain()
	reply := Reply{Devices: []Device{}}
	if err := d.write(req); err != nil {
		return reply, err
	}
	for {
		f, err := d.next(ctx)
		if err != nil {
			return reply, err
		}
		if index, ok := lumen.ParseDeviceCommand(f.Command()); ok {
			reply.Devices = append(reply.Devices, Device{Index: index, Address: f.Payload()})
			continue
		}
		if !terminal(f.Command()) {
			d.log.Debug("ignoring reply during discovery", zap.String("command", f.Command()))
			continue
		}
		reply.Command = f.Command()
		reply.Payload = f.Payload()
		return reply, nil
	}
}

func (d *Driver) send(ctx context.Context, req *lumen.Frame) (Reply, error) {
	d.drain()
	if err := d.write(req); err != nil {
		return Reply{}, err
	}

	attempt := 0
	for {
		f, err := d.next(ctx)
		if err != nil {
			return Reply{}, err
		}
		if !terminal(f.Command()) {
			d.log.Debug("ignoring reply", zap.String("command", f.Command()))
			continue
		}
		reply := Reply{Command: f.Command(), Payload: f.Payload()}
		if reply.Command != lumen.CmdNack {
			return reply, nil
		}
		if d.onNack == nil || attempt >= d.maxResends || !d.onNack(req, attempt) {
			return reply, nil
		}
		attempt++
		d.log.Info("resending after NACK", zap.String("command", req.Command()), zap.Int("attempt", attempt))
		if err := d.write(req); err != nil {
			return Reply{}, err
		}
	}
}

// expect sends req and requires the reply command want
func (d *Driver) expect(ctx context.Context, req *lumen.Frame, want string) (Reply, error) {
	reply, err := d.Send(ctx, req)
	if err != nil {
		return reply, err
	}
	if err := reply.Err(); err != nil {
		return reply, err
	}
	if reply.Command != want {
		return reply, fmt.Errorf("%w: %s, want %s", ErrUnexpected, reply.Command, want)
	}
	return reply, nil
}

// Heartbeat checks that the node at index answers
func (d *Driver) Heartbeat(ctx context.Context, index int) error {
	req, err := lumen.NewHeartbeatRequest(index)
	if err != nil {
		return err
	}
	_, err = d.expect(ctx, req, lumen.CmdOkay)
	return err
}

// SetColor sets all six channels of the node at index
func (d *Driver) SetColor(ctx context.Context, index int, color lumen.Color) error {
	req, err := lumen.NewColorRequest(index, color)
	if err != nil {
		return err
	}
	_, err = d.expect(ctx, req, lumen.CmdOkay)
	return err
}

// ReadSensors reads the environmental sensors of the node at index
func (d *Driver) ReadSensors(ctx context.Context, index int) (lumen.SensorReading, error) {
	req, err := lumen.NewSensorRequest(index)
	if err != nil {
		return lumen.SensorReading{}, err
	}
	reply, err := d.expect(ctx, req, lumen.CmdSensors)
	if err != nil {
		return lumen.SensorReading{}, err
	}
	return lumen.ParseSensorReading(reply.Payload)
}

// ReadButtons reads the gateway's local buttons
func (d *Driver) ReadButtons(ctx context.Context) (lumen.ButtonState, error) {
	reply, err := d.expect(ctx, lumen.NewReadButtonsRequest(), lumen.CmdButtons)
	if err != nil {
		return nil, err
	}
	return lumen.ParseButtonState(reply.Payload)
}

// PlayTone plays a named tone on the node at index. With follow set, a BUSY
// reply is not terminal: the call keeps waiting for the final OKAY or NACK
// the gateway sends when playback ends.
func (d *Driver) PlayTone(ctx context.Context, index int, name string, follow bool) error {
	req, err := lumen.NewToneRequest(index, name)
	if err != nil {
		return err
	}

	d.callMu.Lock()
	defer d.callMu.Unlock()

	reply, err := d.send(ctx, req)
	if err != nil {
		return err
	}
	for follow && reply.Command == lumen.CmdBusy {
		f, err := d.next(ctx)
		if err != nil {
			return err
		}
		reply = Reply{Command: f.Command(), Payload: f.Payload()}
	}
	if err := reply.Err(); err != nil {
		return err
	}
	if reply.Command != lumen.CmdOkay {
		return fmt.Errorf("%w: %s, want %s", ErrUnexpected, reply.Command, lumen.CmdOkay)
	}
	return nil
}

// Device is a discovered node
type Device struct {
	Index   int
	Address string
}

// Discover runs a discovery and returns the nodes found in registry order.
// No nodes is a valid outcome and returns an empty slice.
func (d *Driver) Discover(ctx context.Context) ([]Device, error) {
	reply, err := d.Send(ctx, lumen.NewSearchRequest())
	if err != nil {
		return reply.Devices, err
	}
	if err := reply.Err(); err != nil {
		return reply.Devices, err
	}
	switch reply.Command {
	case lumen.CmdOkay, lumen.CmdNoDevices:
		return reply.Devices, nil
	}
	return reply.Devices, fmt.Errorf("%w: %s, want %s or %s", ErrUnexpected, reply.Command, lumen.CmdOkay, lumen.CmdNoDevices)
}
