// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lumen

import (
	"fmt"
	"strconv"
)

// Checksum XOR-folds every byte of the given fields.
//
// Link frames protect command+padded payload. Mesh frames protect
// address+command+padded payload. The two domains must not be mixed.
func Checksum(fields ...string) uint8 {
	var sum uint8
	for _, f := range fields {
		for i := 0; i < len(f); i++ {
			sum ^= f[i]
		}
	}
	return sum
}

func formatChecksum(kind Kind, sum uint8) string {
	if kind == KindLink {
		return fmt.Sprintf("%03d", sum)
	}
	return fmt.Sprintf("%02x", sum)
}

// parseChecksum reads the declared checksum field. Mesh checksums are
// accepted in either hex case.
func parseChecksum(kind Kind, field []byte) (uint8, bool) {
	if kind == KindLink {
		v := 0
		for _, c := range field {
			if c < '0' || c > '9' {
				return 0, false
			}
			v = v*10 + int(c-'0')
		}
		if v > 0xFF {
			return 0, false
		}
		return uint8(v), true
	}
	v, err := strconv.ParseUint(string(field), 16, 8)
	if err != nil {
		return 0, false
	}
	return uint8(v), true
}
