// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lumen

import "errors"

// Decode errors. Delimiter and length errors are ordinary transport noise.
var (
	ErrDelimiter = errors.New("bad frame delimiter")
	ErrLength    = errors.New("bad frame length")
	ErrChecksum  = errors.New("checksum mismatch")
)

// Encode and payload errors
var (
	ErrCommand = errors.New("invalid command code")
	ErrPayload = errors.New("invalid payload")
	ErrAddress = errors.New("invalid address")
)

// IsNoise reports whether err describes a malformed, partial or foreign read
// rather than a damaged Lumen frame.
func IsNoise(err error) bool {
	return errors.Is(err, ErrDelimiter) || errors.Is(err, ErrLength)
}
