// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package convert

import (
	"math"

	"golang.org/x/exp/constraints"
)

// Limits returns the representable range of the integer type T as float32 bounds suitable for clamping
// before the float to integer conversion.
//
// The upper bound of int32 is the largest float32 below 2^31, so the conversion never overflows.
func Limits[T constraints.Integer]() (lowest, highest float32) {
	var zero T
	switch any(zero).(type) {
	case int8:
		return math.MinInt8, math.MaxInt8
	case uint8:
		return 0, math.MaxUint8
	case int16:
		return math.MinInt16, math.MaxInt16
	case uint16:
		return 0, math.MaxUint16
	case int32:
		return math.MinInt32, 2147483520
	}
	return float32(math.Inf(-1)), float32(math.Inf(1))
}

// Saturate rounds x half-to-even and clamps it to the range of T. NaN converts to 0.
func Saturate[T constraints.Integer](x float32) T {
	lowest, highest := Limits[T]()
	if x != x {
		return 0
	}
	x = min(max(x, lowest), highest)
	return T(math.RoundToEven(float64(x)))
}

// SaturateSlice converts src to integers with Saturate. It returns the number of converted elements.
func SaturateSlice[T constraints.Integer](dst []T, src []float32) int {
	n := min(len(dst), len(src))
	lowest, highest := Limits[T]()
	for i := range n {
		x := src[i]
		if x != x {
			dst[i] = 0
			continue
		}
		dst[i] = T(math.RoundToEven(float64(min(max(x, lowest), highest))))
	}
	return n
}
