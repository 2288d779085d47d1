// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lumen

import "fmt"

// Request builders create client-to-gateway link frames with the payload
// shapes the gateway validates.

// NewSearchRequest creates an SRCH request. The gateway clears its registry,
// broadcasts a search and reports MAC0..MAC9 then OKAY, or MACN.
func NewSearchRequest() *Frame {
	return mustLink(ToGateway, CmdSearch, "")
}

// NewHeartbeatRequest creates an HRBT request for a registry index
func NewHeartbeatRequest(index int) (*Frame, error) {
	return indexedRequest(CmdHeartbeat, index, "")
}

// NewSensorRequest creates a SENS request for a registry index.
// The reply carries a SensorReading payload.
func NewSensorRequest(index int) (*Frame, error) {
	return indexedRequest(CmdSensors, index, "")
}

// NewColorRequest creates a COLR request with all six channels
func NewColorRequest(index int, color Color) (*Frame, error) {
	if _, err := FormatIndex(index); err != nil {
		return nil, err
	}
	return NewLinkFrame(ToGateway, CmdColor, ColorCommand{Index: index, Color: color}.Payload())
}

// NewToneRequest creates a TONE request. The node replies BUSY while playing.
func NewToneRequest(index int, name string) (*Frame, error) {
	if !ValidToneName(name) {
		return nil, fmt.Errorf("%w: tone name %q must match [A-Z0-9_]+", ErrPayload, name)
	}
	return indexedRequest(CmdTone, index, name)
}

// NewReadButtonsRequest creates an RBUT request. It is answered by the
// gateway itself and never reaches the mesh.
func NewReadButtonsRequest() *Frame {
	return mustLink(ToGateway, CmdReadButtons, "")
}

// NewLinkReply creates a gateway-to-client reply
func NewLinkReply(command, payload string) (*Frame, error) {
	return NewLinkFrame(FromGateway, command, payload)
}

func indexedRequest(command string, index int, suffix string) (*Frame, error) {
	digit, err := FormatIndex(index)
	if err != nil {
		return nil, err
	}
	return NewLinkFrame(ToGateway, command, digit+suffix)
}

func mustLink(dir Direction, command, payload string) *Frame {
	f, err := NewLinkFrame(dir, command, payload)
	if err != nil {
		panic(err)
	}
	return f
}
