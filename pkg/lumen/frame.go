// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lumen

import (
	"fmt"
	"strings"
	"time"
)

// Frame represents a decoded or to-be-encoded Lumen frame
type Frame struct {
	kind      Kind
	direction Direction
	address   string // mesh only
	command   string
	payload   string // fill characters stripped
	checksum  uint8
	timestamp time.Time
}

// NewLinkFrame builds a validated link frame
func NewLinkFrame(dir Direction, command, payload string) (*Frame, error) {
	if err := validateFields(command, payload); err != nil {
		return nil, err
	}
	f := &Frame{
		kind:      KindLink,
		direction: dir,
		command:   command,
		payload:   payload,
		timestamp: time.Now(),
	}
	f.checksum = Checksum(command, padPayload(payload))
	return f, nil
}

// NewMeshFrame builds a validated mesh frame
func NewMeshFrame(dir Direction, address, command, payload string) (*Frame, error) {
	if len(address) != AddressSize || !printable(address) {
		return nil, fmt.Errorf("%w: %q must be %d printable characters", ErrAddress, address, AddressSize)
	}
	if err := validateFields(command, payload); err != nil {
		return nil, err
	}
	f := &Frame{
		kind:      KindMesh,
		direction: dir,
		address:   address,
		command:   command,
		payload:   payload,
		timestamp: time.Now(),
	}
	f.checksum = Checksum(address, command, padPayload(payload))
	return f, nil
}

// Kind returns the frame layout
func (f *Frame) Kind() Kind {
	return f.kind
}

// Direction returns the direction encoded by the delimiter
func (f *Frame) Direction() Direction {
	return f.direction
}

// Address returns the mesh address field, empty for link frames
func (f *Frame) Address() string {
	return f.address
}

// Command returns the 4 character command code
func (f *Frame) Command() string {
	return f.command
}

// Payload returns the payload with trailing fill removed
func (f *Frame) Payload() string {
	return f.payload
}

// Checksum returns the frame checksum
func (f *Frame) Checksum() uint8 {
	return f.checksum
}

// Timestamp returns when the frame was built or decoded
func (f *Frame) Timestamp() time.Time {
	return f.timestamp
}

// Bytes returns the wire encoding of the frame
func (f *Frame) Bytes() []byte {
	delim := f.direction.Delimiter()
	buf := make([]byte, 0, f.kind.Size())
	buf = append(buf, delim)
	if f.kind == KindMesh {
		buf = append(buf, f.address...)
	}
	buf = append(buf, f.command...)
	buf = append(buf, padPayload(f.payload)...)
	buf = append(buf, formatChecksum(f.kind, f.checksum)...)
	buf = append(buf, delim)
	return buf
}

func (f *Frame) String() string {
	return string(f.Bytes())
}

// EncodeLink encodes a link frame
func EncodeLink(dir Direction, command, payload string) ([]byte, error) {
	f, err := NewLinkFrame(dir, command, payload)
	if err != nil {
		return nil, err
	}
	return f.Bytes(), nil
}

// EncodeMesh encodes a mesh frame
func EncodeMesh(dir Direction, address, command, payload string) ([]byte, error) {
	f, err := NewMeshFrame(dir, address, command, payload)
	if err != nil {
		return nil, err
	}
	return f.Bytes(), nil
}

// Decode decodes a complete frame, choosing the layout by length
func Decode(raw []byte) (*Frame, error) {
	switch len(raw) {
	case LinkFrameSize:
		return DecodeLink(raw)
	case MeshFrameSize:
		return DecodeMesh(raw)
	default:
		return nil, fmt.Errorf("%w: %d bytes", ErrLength, len(raw))
	}
}

// DecodeLink decodes a 41 byte link frame
func DecodeLink(raw []byte) (*Frame, error) {
	return decode(KindLink, raw)
}

// DecodeMesh decodes a 57 byte mesh frame
func DecodeMesh(raw []byte) (*Frame, error) {
	return decode(KindMesh, raw)
}

func decode(kind Kind, raw []byte) (*Frame, error) {
	if len(raw) != kind.Size() {
		return nil, fmt.Errorf("%w: %s frame is %d bytes, got %d", ErrLength, kind, kind.Size(), len(raw))
	}
	first, last := raw[0], raw[len(raw)-1]
	dir, ok := DirectionOf(first)
	if !ok || first != last {
		return nil, fmt.Errorf("%w: %q...%q", ErrDelimiter, first, last)
	}

	body := raw[1 : len(raw)-1]
	var address string
	if kind == KindMesh {
		address = string(body[:AddressSize])
		body = body[AddressSize:]
	}
	command := string(body[:CommandSize])
	padded := string(body[CommandSize : CommandSize+PayloadSize])
	declared, ok := parseChecksum(kind, body[CommandSize+PayloadSize:])
	if !ok {
		return nil, fmt.Errorf("%w: unreadable checksum field %q", ErrChecksum, body[CommandSize+PayloadSize:])
	}

	var computed uint8
	if kind == KindMesh {
		computed = Checksum(address, command, padded)
	} else {
		computed = Checksum(command, padded)
	}
	if computed != declared {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrChecksum,
			formatChecksum(kind, computed), formatChecksum(kind, declared))
	}

	return &Frame{
		kind:      kind,
		direction: dir,
		address:   address,
		command:   command,
		payload:   strings.TrimRight(padded, string(FillChar)),
		checksum:  computed,
		timestamp: time.Now(),
	}, nil
}

func padPayload(payload string) string {
	return payload + strings.Repeat(string(FillChar), PayloadSize-len(payload))
}

func validateFields(command, payload string) error {
	if len(command) != CommandSize || !printable(command) {
		return fmt.Errorf("%w: %q must be %d printable characters", ErrCommand, command, CommandSize)
	}
	if len(payload) > PayloadSize {
		return fmt.Errorf("%w: %d characters exceeds %d", ErrPayload, len(payload), PayloadSize)
	}
	if !printable(payload) {
		return fmt.Errorf("%w: %q contains reserved or non-printable characters", ErrPayload, payload)
	}
	if strings.HasSuffix(payload, string(FillChar)) {
		return fmt.Errorf("%w: trailing %q is indistinguishable from fill", ErrPayload, FillChar)
	}
	return nil
}

// printable accepts visible ASCII except the two delimiters
func printable(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x20 || c > 0x7E || c == DelimToGateway || c == DelimFromGateway {
			return false
		}
	}
	return true
}
