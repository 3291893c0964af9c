// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dtypes includes the DType enum for the element types supported by the primitives engine.
//
// It is a subset of GoMLX's dtypes package: the types used by quantized (int8/uint8), mixed precision
// (bfloat16/float16) and full precision (float32) CPU kernels, plus Int32 for integer accumulators.
//
// It includes converters from Go types and typed slices, limits used for saturation, and
// constraint interfaces to be used with generics.
package dtypes

import (
	"math"
	"reflect"
	"strconv"

	"github.com/gomlx/primitives/pkg/core/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// panicf panics with the formatted description.
//
// It is only used for "bugs in the code" -- when parameters don't follow the specifications.
func panicf(format string, args ...any) {
	panic(errors.Errorf(format, args...))
}

// Supported lists the Go types that map to a DType.
type Supported interface {
	float32 | float16.Float16 | bfloat16.BFloat16 | int8 | uint8 | int32
}

// Integer lists the integer types that map to a DType.
type Integer interface {
	int8 | uint8 | int32
}

// Float16Like are the 16-bit floating point storage types.
type Float16Like interface {
	float16.Float16 | bfloat16.BFloat16
}

// FromGenericsType returns the DType enum for the given type that this package knows about.
func FromGenericsType[T Supported]() DType {
	var t T
	switch (any(t)).(type) {
	case float32:
		return Float32
	case float16.Float16:
		return Float16
	case bfloat16.BFloat16:
		return BFloat16
	case int8:
		return Int8
	case uint8:
		return Uint8
	case int32:
		return Int32
	}
	return InvalidDType
}

var (
	float32Type  = reflect.TypeOf(float32(0))
	float16Type  = reflect.TypeOf(float16.Float16(0))
	bfloat16Type = reflect.TypeOf(bfloat16.BFloat16(0))
	int8Type     = reflect.TypeOf(int8(0))
	uint8Type    = reflect.TypeOf(uint8(0))
	int32Type    = reflect.TypeOf(int32(0))
)

// FromGoType returns the DType for the given reflect.Type, or InvalidDType if not supported.
func FromGoType(t reflect.Type) DType {
	switch t {
	case float32Type:
		return Float32
	case float16Type:
		return Float16
	case bfloat16Type:
		return BFloat16
	case int8Type:
		return Int8
	case uint8Type:
		return Uint8
	case int32Type:
		return Int32
	}
	return InvalidDType
}

// FromFlat returns the DType of the elements of a flat slice ([]float32, []bfloat16.BFloat16, etc.).
// It returns InvalidDType for anything else.
func FromFlat(flat any) DType {
	switch flat.(type) {
	case []float32:
		return Float32
	case []float16.Float16:
		return Float16
	case []bfloat16.BFloat16:
		return BFloat16
	case []int8:
		return Int8
	case []uint8:
		return Uint8
	case []int32:
		return Int32
	}
	return InvalidDType
}

// FlatLen returns the length of a flat slice of one of the supported types, or -1 if it is not one.
func FlatLen(flat any) int {
	switch s := flat.(type) {
	case []float32:
		return len(s)
	case []float16.Float16:
		return len(s)
	case []bfloat16.BFloat16:
		return len(s)
	case []int8:
		return len(s)
	case []uint8:
		return len(s)
	case []int32:
		return len(s)
	}
	return -1
}

// MakeFlat allocates a zero-initialized flat slice of the given dtype.
func (dtype DType) MakeFlat(length int) any {
	switch dtype {
	case Float32:
		return make([]float32, length)
	case Float16:
		return make([]float16.Float16, length)
	case BFloat16:
		return make([]bfloat16.BFloat16, length)
	case Int8:
		return make([]int8, length)
	case Uint8:
		return make([]uint8, length)
	case Int32:
		return make([]int32, length)
	}
	panicf("MakeFlat: invalid dtype %s", dtype)
	return nil
}

// GoType returns the Go reflect.Type corresponding to the dtype.
func (dtype DType) GoType() reflect.Type {
	switch dtype {
	case Float32:
		return float32Type
	case Float16:
		return float16Type
	case BFloat16:
		return bfloat16Type
	case Int8:
		return int8Type
	case Uint8:
		return uint8Type
	case Int32:
		return int32Type
	}
	panicf("GoType: invalid dtype %s", dtype)
	return nil
}

// Size returns the number of bytes for the given DType.
func (dtype DType) Size() int {
	switch dtype {
	case Int8, Uint8:
		return 1
	case Float16, BFloat16:
		return 2
	case Float32, Int32:
		return 4
	}
	return 0
}

// Bits returns the number of bits for the given DType.
func (dtype DType) Bits() int {
	return dtype.Size() * 8
}

// IsValid returns whether dtype is one of the supported types.
func (dtype DType) IsValid() bool {
	return dtype.Size() > 0
}

// IsFloat returns whether dtype is a floating point type.
func (dtype DType) IsFloat() bool {
	return dtype == Float32 || dtype == Float16 || dtype == BFloat16
}

// IsFloat16 returns whether dtype is one of the 16-bit floating point types, which are computed by
// widening to float32.
func (dtype DType) IsFloat16() bool {
	return dtype == Float16 || dtype == BFloat16
}

// IsInt returns whether dtype is an integer type.
func (dtype DType) IsInt() bool {
	return dtype == Int8 || dtype == Uint8 || dtype == Int32
}

// IsUnsigned returns whether dtype is an unsigned integer type.
func (dtype DType) IsUnsigned() bool {
	return dtype == Uint8
}

// String implements fmt.Stringer.
func (dtype DType) String() string {
	switch dtype {
	case InvalidDType:
		return "InvalidDType"
	case Int8:
		return "Int8"
	case Int32:
		return "Int32"
	case Uint8:
		return "Uint8"
	case Float16:
		return "Float16"
	case Float32:
		return "Float32"
	case BFloat16:
		return "BFloat16"
	}
	return "DType(" + strconv.Itoa(int(dtype)) + ")"
}

// Short returns the short name (f32, bf16, s8, ...) used in plan keys and listings.
func (dtype DType) Short() string {
	switch dtype {
	case Int8:
		return "s8"
	case Int32:
		return "s32"
	case Uint8:
		return "u8"
	case Float16:
		return "f16"
	case Float32:
		return "f32"
	case BFloat16:
		return "bf16"
	}
	return "undef"
}

// LowestValue returns the lowest finite value for the dtype, as a float64.
// Integer dtypes return their minimum, floating point types their most negative finite value.
func (dtype DType) LowestValue() float64 {
	switch dtype {
	case Int8:
		return math.MinInt8
	case Uint8:
		return 0
	case Int32:
		return math.MinInt32
	case Float16:
		return -65504
	case BFloat16:
		return float64(-bfloat16.MaxValue.Float32())
	case Float32:
		return -math.MaxFloat32
	}
	return 0
}

// HighestValue returns the highest finite value for the dtype, as a float64.
func (dtype DType) HighestValue() float64 {
	switch dtype {
	case Int8:
		return math.MaxInt8
	case Uint8:
		return math.MaxUint8
	case Int32:
		return math.MaxInt32
	case Float16:
		return 65504
	case BFloat16:
		return float64(bfloat16.MaxValue.Float32())
	case Float32:
		return math.MaxFloat32
	}
	return 0
}
