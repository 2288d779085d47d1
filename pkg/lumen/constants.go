// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package lumen implements the Lumen fixture-control framing.
//
// Lumen uses two fixed-size ASCII frame layouts. Link frames travel between
// the operator client and the gateway over a point-to-point serial link.
// Mesh frames travel between the gateway and fixture nodes over a shared
// broadcast medium and additionally carry a 17 character address.
//
// The delimiter byte encodes direction: '#' frames travel toward the gateway
// and '*' frames travel away from it. Nodes rely on this to ignore their own
// echoed broadcasts, so it must be preserved exactly.
package lumen

// Framing characters
const (
	DelimToGateway   = '#'
	DelimFromGateway = '*'
	FillChar         = '@'
)

// Field sizes
const (
	CommandSize      = 4
	PayloadSize      = 32
	AddressSize      = 17
	LinkChecksumSize = 3 // decimal, zero padded
	MeshChecksumSize = 2 // hex

	LinkFrameSize = 1 + CommandSize + PayloadSize + LinkChecksumSize + 1
	MeshFrameSize = 1 + AddressSize + CommandSize + PayloadSize + MeshChecksumSize + 1
)

// MaxDevices is the registry capacity. Indices travel as a single decimal digit.
const MaxDevices = 10

// Command codes - requests
const (
	CmdSearch      = "SRCH"
	CmdHeartbeat   = "HRBT"
	CmdColor       = "COLR"
	CmdSensors     = "SENS"
	CmdTone        = "TONE"
	CmdReadButtons = "RBUT"
)

// Command codes - replies
const (
	CmdResponse  = "RESP" // node discovery reply, payload is the node address
	CmdNoDevices = "MACN" // discovery finished with an empty registry
	CmdButtons   = "BUTS"
	CmdOkay      = "OKAY"
	CmdNack      = "NACK"
	CmdBusy      = "BUSY"

	// Discovery results are MAC0..MAC9, one per registry entry.
	deviceCommandPrefix = "MAC"
)

// Kind identifies the frame layout
type Kind uint8

const (
	KindLink Kind = iota + 1
	KindMesh
)

func (k Kind) String() string {
	switch k {
	case KindLink:
		return "LINK"
	case KindMesh:
		return "MESH"
	default:
		return "UNKNOWN"
	}
}

// Size returns the fixed wire length for the frame kind
func (k Kind) Size() int {
	switch k {
	case KindLink:
		return LinkFrameSize
	case KindMesh:
		return MeshFrameSize
	default:
		return 0
	}
}

// Direction of travel relative to the gateway
type Direction uint8

const (
	ToGateway Direction = iota + 1
	FromGateway
)

// Delimiter returns the framing byte for the direction
func (d Direction) Delimiter() byte {
	if d == ToGateway {
		return DelimToGateway
	}
	return DelimFromGateway
}

func (d Direction) String() string {
	switch d {
	case ToGateway:
		return "TO_GATEWAY"
	case FromGateway:
		return "FROM_GATEWAY"
	default:
		return "UNKNOWN"
	}
}

// DirectionOf maps a delimiter byte to its direction
func DirectionOf(delim byte) (Direction, bool) {
	switch delim {
	case DelimToGateway:
		return ToGateway, true
	case DelimFromGateway:
		return FromGateway, true
	default:
		return 0, false
	}
}

// DeviceCommand returns the discovery result code for a registry index
func DeviceCommand(index int) string {
	if index < 0 || index >= MaxDevices {
		return ""
	}
	return deviceCommandPrefix + string(rune('0'+index))
}

// ParseDeviceCommand extracts the registry index from a MAC0..MAC9 code
func ParseDeviceCommand(cmd string) (int, bool) {
	if len(cmd) != CommandSize || cmd[:3] != deviceCommandPrefix {
		return 0, false
	}
	c := cmd[3]
	if c < '0' || c > '9' {
		return 0, false
	}
	return int(c - '0'), true
}

// KnownCommand reports whether cmd is a defined request or reply code
func KnownCommand(cmd string) bool {
	switch cmd {
	case CmdSearch, CmdHeartbeat, CmdColor, CmdSensors, CmdTone, CmdReadButtons,
		CmdResponse, CmdNoDevices, CmdButtons, CmdOkay, CmdNack, CmdBusy:
		return true
	}
	_, ok := ParseDeviceCommand(cmd)
	return ok
}

// IsAck reports whether cmd is one of the universal replies
func IsAck(cmd string) bool {
	return cmd == CmdOkay || cmd == CmdNack || cmd == CmdBusy
}
