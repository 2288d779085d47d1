// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Lumen - Fixture Network Tools
//
// Operator client, gateway relay, mesh hub and simulated fixture nodes for
// the Lumen lighting protocol.

package main

import (
	"os"

	"github.com/ColdFireHunter/HS-PROJECT-INFO2/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
