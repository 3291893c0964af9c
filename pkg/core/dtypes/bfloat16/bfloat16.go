// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package bfloat16 is a trivial implementation for the bfloat16 type,
// based on https://github.com/x448/float16 and the pending issue in
// https://github.com/x448/float16/issues/22
//
// Conversion from float32 rounds to nearest-even, which is what hardware with native
// bfloat16 support (AVX512_BF16 VCVTNEPS2BF16) does, and NaNs are kept quiet.
package bfloat16

import (
	"math"
	"strconv"
)

// BFloat16 (brain floating point) floating-point format is a computer number format occupying 16 bits in
// computer memory; it represents a wide dynamic range of numeric values by using a floating radix point.
// This format is a shortened (16-bit) version of the 32-bit IEEE 754 single-precision floating-point format
// (binary32) with the intent of accelerating machine learning and near-sensor computing.
type BFloat16 uint16

// Float32 widens the value to float32. It is exact.
func (f BFloat16) Float32() float32 {
	return math.Float32frombits(uint32(f) << 16)
}

// FromFloat32 converts a float32 to a BFloat16, rounding to nearest-even.
//
// NaN inputs return a quiet NaN with the same sign and the upper mantissa bits preserved.
func FromFloat32(x float32) BFloat16 {
	return BFloat16(RoundBits(math.Float32bits(x)))
}

// RoundBits converts the bits of a float32 to the bits of the nearest-even bfloat16.
// It is the integer-only sequence used when the CPU has no native conversion instruction.
func RoundBits(bits uint32) uint16 {
	if bits&0x7FFFFFFF > 0x7F800000 {
		// NaN: truncate and force the quiet bit.
		return uint16(bits>>16) | 0x0040
	}
	bits += 0x7FFF + ((bits >> 16) & 1)
	return uint16(bits >> 16)
}

// FromFloat64 converts a float64 to a BFloat16 (through float32).
func FromFloat64(x float64) BFloat16 {
	return FromFloat32(float32(x))
}

// FromBits convert an uint16 to a BFloat16.
func FromBits(uint16 uint16) BFloat16 {
	return BFloat16(uint16)
}

// Bits convert BFloat16 to an uint16.
func (f BFloat16) Bits() uint16 {
	return uint16(f)
}

// IsNaN reports whether f is a "not-a-number" value.
func (f BFloat16) IsNaN() bool {
	return f&0x7F80 == 0x7F80 && f&0x007F != 0
}

// String implements fmt.Stringer, and prints a float representation of the BFloat16.
func (f BFloat16) String() string {
	return strconv.FormatFloat(float64(f.Float32()), 'f', -1, 32)
}

// Inf returns a BFloat16 with an infinity value with the specified sign.
// A sign >= returns positive infinity.
// A sign < 0 returns negative infinity.
func Inf(sign int) BFloat16 {
	if sign < 0 {
		return BFloat16(0xFF80)
	}
	return BFloat16(0x7F80)
}

// SmallestNonzero is the smallest nonzero denormal value for bfloat16 (9.1835e-41).
const SmallestNonzero = BFloat16(0x0001)

// MaxValue is the largest finite bfloat16 (3.3895e+38).
const MaxValue = BFloat16(0x7F7F)
