// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package capture records raw link and mesh traffic as a CBOR sequence so a
// session can be replayed and decoded later.
//
// Each record is a CBOR array: [unix_nanos, kind, outbound, raw, error].
package capture

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/ColdFireHunter/HS-PROJECT-INFO2/pkg/lumen"
)

// Record is one captured frame or discarded read
type Record struct {
	_        struct{} `cbor:",toarray"`
	UnixNano int64
	Kind     uint8 // lumen.Kind
	Outbound bool  // written by the recording process
	Raw      []byte
	Error    string // decode error, empty for valid frames
}

// Time returns the capture timestamp
func (r Record) Time() time.Time {
	return time.Unix(0, r.UnixNano)
}

// FrameKind returns the frame layout of the record
func (r Record) FrameKind() lumen.Kind {
	return lumen.Kind(r.Kind)
}

// Writer appends records to a stream. Safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	enc    *cbor.Encoder
	closer io.Closer
	count  uint64
}

// NewWriter creates a writer. If w is an io.Closer, Close closes it.
func NewWriter(w io.Writer) *Writer {
	cw := &Writer{enc: cbor.NewEncoder(w)}
	if c, ok := w.(io.Closer); ok {
		cw.closer = c
	}
	return cw
}

// Record captures raw bytes with an optional decode error
func (w *Writer) Record(kind lumen.Kind, outbound bool, raw []byte, decodeErr error) error {
	if w == nil {
		return nil
	}
	rec := Record{
		UnixNano: time.Now().UnixNano(),
		Kind:     uint8(kind),
		Outbound: outbound,
		Raw:      append([]byte(nil), raw...),
	}
	if decodeErr != nil {
		rec.Error = decodeErr.Error()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(rec); err != nil {
		return fmt.Errorf("capture write: %w", err)
	}
	w.count++
	return nil
}

// Count returns the number of records written
func (w *Writer) Count() uint64 {
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Close closes the underlying stream when it is closable
func (w *Writer) Close() error {
	if w == nil || w.closer == nil {
		return nil
	}
	return w.closer.Close()
}

// Reader iterates over a capture stream
type Reader struct {
	dec *cbor.Decoder
}

// NewReader creates a reader
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: cbor.NewDecoder(r)}
}

// Next returns the next record, or io.EOF at the end of the stream
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("capture read: %w", err)
	}
	return rec, nil
}

// Frame decodes the record's raw bytes
func (r Record) Frame() (*lumen.Frame, error) {
	switch r.FrameKind() {
	case lumen.KindLink:
		return lumen.DecodeLink(r.Raw)
	case lumen.KindMesh:
		return lumen.DecodeMesh(r.Raw)
	default:
		return lumen.Decode(r.Raw)
	}
}
