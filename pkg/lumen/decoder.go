// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lumen

import "fmt"

// Decoder reassembles fixed-size frames of one kind from a byte stream.
// It resynchronises on delimiter bytes, so reads that start mid-frame or
// carry foreign traffic recover on the next frame boundary.
type Decoder struct {
	kind      Kind
	buffer    []byte
	rawBuffer []byte // every byte seen since the last completed frame
}

// NewDecoder creates a stream decoder for the given frame kind
func NewDecoder(kind Kind) *Decoder {
	return &Decoder{
		kind:      kind,
		buffer:    make([]byte, 0, kind.Size()),
		rawBuffer: make([]byte, 0, kind.Size()*2),
	}
}

// Reset discards any partial frame
func (d *Decoder) Reset() {
	d.buffer = d.buffer[:0]
	d.rawBuffer = d.rawBuffer[:0]
}

// GetRawBytes returns the bytes accumulated since the last completed frame
func (d *Decoder) GetRawBytes() []byte {
	return d.rawBuffer
}

// DecodeByte processes a single byte.
// Returns a completed frame, or nil if the frame is incomplete.
// Returns an error when a candidate frame is discarded.
func (d *Decoder) DecodeByte(b byte) (*Frame, error) {
	d.rawBuffer = append(d.rawBuffer, b)
	if len(d.rawBuffer) > 4*d.kind.Size() {
		d.rawBuffer = append(d.rawBuffer[:0], d.rawBuffer[len(d.rawBuffer)-d.kind.Size():]...)
	}
	_, isDelim := DirectionOf(b)

	if len(d.buffer) == 0 {
		if isDelim {
			d.buffer = append(d.buffer, b)
		}
		return nil, nil
	}

	size := d.kind.Size()
	if len(d.buffer) < size-1 {
		if isDelim {
			// Encoded fields never contain delimiters, so this starts a new frame.
			partial := len(d.buffer)
			d.buffer = append(d.buffer[:0], b)
			if partial > 1 {
				return nil, fmt.Errorf("%w: truncated frame after %d bytes", ErrLength, partial)
			}
			return nil, nil
		}
		d.buffer = append(d.buffer, b)
		return nil, nil
	}

	// Final byte
	first := d.buffer[0]
	d.buffer = append(d.buffer, b)
	frame, err := decode(d.kind, d.buffer)
	if err != nil {
		d.buffer = d.buffer[:0]
		if isDelim && b != first {
			// Mismatched closing delimiter may open the next frame.
			d.buffer = append(d.buffer, b)
		}
		return nil, err
	}
	d.Reset()
	return frame, nil
}
