// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package convert

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/gomlx/primitives/pkg/core/dtypes/bfloat16"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func allBFloat16Patterns() []bfloat16.BFloat16 {
	all := make([]bfloat16.BFloat16, math.MaxUint16+1)
	for i := range all {
		all[i] = bfloat16.FromBits(uint16(i))
	}
	return all
}

func TestRoundTripAllPatterns(t *testing.T) {
	all := allBFloat16Patterns()
	wide := make([]float32, len(all))
	require.Equal(t, len(all), ConvertUp(wide, all))
	for _, convertDown := range []func([]bfloat16.BFloat16, []float32) int{ConvertDown, EmulatedConvertDown} {
		narrow := make([]bfloat16.BFloat16, len(all))
		require.Equal(t, len(all), convertDown(narrow, wide))
		for i := range all {
			if all[i].IsNaN() {
				require.True(t, narrow[i].IsNaN(), "pattern 0x%04x", i)
				continue
			}
			require.Equal(t, all[i], narrow[i], "pattern 0x%04x", i)
		}
	}
}

func TestEmulatedMatchesNative(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))
	src := make([]float32, 1001)
	for i := range src {
		src[i] = math.Float32frombits(rng.Uint32())
	}
	src[3] = float32(math.NaN())
	src[4] = float32(math.Inf(-1))
	want := make([]bfloat16.BFloat16, len(src))
	got := make([]bfloat16.BFloat16, len(src))
	ConvertDown(want, src)
	EmulatedConvertDown(got, src)
	require.Equal(t, want, got)
}

func TestCopySemantics(t *testing.T) {
	dst := make([]bfloat16.BFloat16, 5)
	assert.Equal(t, 3, ConvertDown(dst, []float32{1, 2, 3}))
	assert.Equal(t, bfloat16.BFloat16(0), dst[3])
	assert.Equal(t, 0, ConvertDown(nil, []float32{1}))
	assert.Equal(t, 2, FusedAddConvertDown(dst, []float32{1, 2, 3}, []float32{0.5, 0.25}))
	assert.Equal(t, float32(1.5), dst[0].Float32())
	assert.Equal(t, float32(2.25), dst[1].Float32())
}

func TestFusedAddConvertDown(t *testing.T) {
	// The sum is narrowed, not the operands: 1 + 2^-8 + 2^-9 is above the tie and must round up,
	// while narrowing each operand first would lose the 2^-9.
	a := make([]float32, 37)
	b := make([]float32, 37)
	for i := range a {
		a[i] = 1 + 1.0/256
		b[i] = 1.0 / 512
	}
	dst := make([]bfloat16.BFloat16, 37)
	require.Equal(t, 37, FusedAddConvertDown(dst, a, b))
	for i := range dst {
		require.Equal(t, float32(1+1.0/128), dst[i].Float32(), "element %d", i)
	}
}

func TestAddInto(t *testing.T) {
	dst := []float32{1, 2, 3}
	assert.Equal(t, 3, AddInto(dst, []float32{1, 1, 1, 1}))
	assert.Equal(t, []float32{2, 3, 4}, dst)
}

func TestFloat16(t *testing.T) {
	src := []float32{1, -2.5, 65504, 1e-8}
	narrow := make([]float16.Float16, len(src))
	require.Equal(t, 4, ConvertDownF16(narrow, src))
	wide := make([]float32, len(src))
	require.Equal(t, 4, ConvertUpF16(wide, narrow))
	assert.Equal(t, []float32{1, -2.5, 65504, 0}, wide)
	require.Equal(t, 1, FusedAddConvertDownF16(narrow, []float32{1}, []float32{2}))
	assert.Equal(t, float32(3), narrow[0].Float32())
}

func TestSaturate(t *testing.T) {
	assert.Equal(t, int8(127), Saturate[int8](300))
	assert.Equal(t, int8(-128), Saturate[int8](-1e9))
	assert.Equal(t, uint8(0), Saturate[uint8](-3))
	assert.Equal(t, uint8(2), Saturate[uint8](2.5))
	assert.Equal(t, uint8(4), Saturate[uint8](3.5))
	assert.Equal(t, int32(0), Saturate[int32](float32(math.NaN())))
	assert.Equal(t, int32(2147483520), Saturate[int32](1e20))
	dst := make([]int8, 3)
	assert.Equal(t, 3, SaturateSlice(dst, []float32{-0.5, 1.5, 1000}))
	assert.Equal(t, []int8{0, 2, 127}, dst)
}
