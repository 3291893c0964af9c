// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package bfloat16

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	// Every non-NaN bfloat16 must survive widening and narrowing unchanged.
	for bits := 0; bits <= math.MaxUint16; bits++ {
		b := FromBits(uint16(bits))
		if b.IsNaN() {
			assert.True(t, FromFloat32(b.Float32()).IsNaN(), "bits=0x%04x", bits)
			continue
		}
		require.Equal(t, b, FromFloat32(b.Float32()), "bits=0x%04x", bits)
	}
}

func TestRoundToNearestEven(t *testing.T) {
	// 1.0 is 0x3F800000; halfway to the next bf16 is 0x3F808000.
	assert.Equal(t, uint16(0x3F80), FromFloat32(math.Float32frombits(0x3F808000)).Bits(), "tie rounds to even (down)")
	assert.Equal(t, uint16(0x3F82), FromFloat32(math.Float32frombits(0x3F818000)).Bits(), "tie rounds to even (up)")
	assert.Equal(t, uint16(0x3F81), FromFloat32(math.Float32frombits(0x3F808001)).Bits(), "above tie rounds up")
	assert.Equal(t, uint16(0x3F80), FromFloat32(math.Float32frombits(0x3F807FFF)).Bits(), "below tie rounds down")
	assert.Equal(t, Inf(1), FromFloat32(math.MaxFloat32))
	assert.Equal(t, Inf(-1), FromFloat32(float32(math.Inf(-1))))
	assert.Equal(t, float32(-2.5), FromFloat64(-2.5).Float32())
	assert.Equal(t, "0.5", FromFloat32(0.5).String())
}

func TestNaN(t *testing.T) {
	// Signaling NaN with payload only in the low bits must not become Inf.
	snan := math.Float32frombits(0x7F800001)
	got := FromFloat32(snan)
	assert.True(t, got.IsNaN())
	assert.Equal(t, uint16(0x7FC0), got.Bits())
	neg := FromFloat32(math.Float32frombits(0xFFC12345))
	assert.True(t, neg.IsNaN())
	assert.Equal(t, uint16(0xFFC1), neg.Bits())
}
