// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dtypes

// DType is an enum that represents the data type of a tensor element.
//
// The numeric values match the ones used by GoMLX (and XLA), so the two can be
// converted with a simple cast for the subset supported here.
type DType int32

const (
	// InvalidDType is the zero value, used as a "not set" marker.
	InvalidDType DType = 0

	// Int8 is a signed 8-bit integer, used for quantized tensors.
	Int8 DType = 2

	// Int32 is a signed 32-bit integer, used for integer accumulators.
	Int32 DType = 4

	// Uint8 is an unsigned 8-bit integer, used for quantized activations.
	Uint8 DType = 6

	// Float16 is the IEEE 754 half-precision format.
	Float16 DType = 10

	// Float32 is the IEEE 754 single-precision format.
	Float32 DType = 11

	// BFloat16 is the truncated 16-bit floating-point format: 1 sign bit, 8 exponent bits
	// (same range as Float32) and 7 mantissa bits.
	BFloat16 DType = 13
)

// Aliases.
const (
	F32  = Float32
	F16  = Float16
	BF16 = BFloat16
	S8   = Int8
	U8   = Uint8
	S32  = Int32
)

// MapOfNames to their dtypes. It includes the short aliases used in descriptors and configuration.
var MapOfNames = map[string]DType{
	"InvalidDType": InvalidDType,
	"Int8":         Int8,
	"Int32":        Int32,
	"Uint8":        Uint8,
	"Float16":      Float16,
	"Float32":      Float32,
	"BFloat16":     BFloat16,
	"s8":           Int8,
	"s32":          Int32,
	"u8":           Uint8,
	"f16":          Float16,
	"f32":          Float32,
	"bf16":         BFloat16,
}

// AllDTypes lists all valid dtypes, in enum order.
var AllDTypes = []DType{Int8, Int32, Uint8, Float16, Float32, BFloat16}

// MaxDTypes is one above the largest DType value, so it can be used to size lookup tables.
const MaxDTypes = int(BFloat16) + 1
