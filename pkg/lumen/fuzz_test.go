// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lumen

import (
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

const fieldAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789$_.:-abcdefxyz "

func randomField(rng *rand.Rand, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = fieldAlphabet[rng.Intn(len(fieldAlphabet))]
	}
	return string(b)
}

// ============================================================
// Codec Fuzz Tests
// ============================================================

func TestFuzz_RoundTrip(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		dir := Direction(rng.Intn(2) + 1)
		cmd := randomField(rng, CommandSize)
		payload := randomField(rng, rng.Intn(PayloadSize+1))

		var raw []byte
		var err error
		var addr string
		if rng.Intn(2) == 0 {
			raw, err = EncodeLink(dir, cmd, payload)
		} else {
			addr = randomField(rng, AddressSize)
			raw, err = EncodeMesh(dir, addr, cmd, payload)
		}
		if err != nil {
			t.Fatalf("round %d: encode(%q, %q) error = %v", i, cmd, payload, err)
		}

		f, err := Decode(raw)
		if err != nil {
			t.Fatalf("round %d: Decode(%q) error = %v", i, raw, err)
		}
		if f.Command() != cmd || f.Payload() != payload || f.Address() != addr || f.Direction() != dir {
			t.Fatalf("round %d: got %q/%q/%q, want %q/%q/%q", i, f.Address(), f.Command(), f.Payload(), addr, cmd, payload)
		}
	}
}

func TestFuzz_DecodeRandomBytes(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		n := rng.Intn(MeshFrameSize + 10)
		raw := make([]byte, n)
		rng.Read(raw)
		if n > 0 && rng.Intn(2) == 0 {
			raw[0], raw[n-1] = '#', '#'
		}
		// Must never panic
		_, _ = Decode(raw)
	}
}

func TestFuzz_StreamDecoderCorruption(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()
	d := NewDecoder(KindLink)

	delivered := 0
	for i := 0; i < rounds; i++ {
		raw, _ := EncodeLink(FromGateway, CmdSensors, "21.00$40.00$5")
		corrupt := rng.Intn(4) == 0
		if corrupt {
			raw[1+rng.Intn(LinkFrameSize-2)] ^= byte(1 + rng.Intn(0x3F))
		}
		for _, b := range raw {
			f, _ := d.DecodeByte(b)
			if f != nil {
				delivered++
				if f.Payload() != "21.00$40.00$5" {
					t.Fatalf("round %d: corrupted frame delivered: %q", i, f.String())
				}
			}
		}
	}
	if delivered == 0 {
		t.Error("no frames delivered")
	}
}
