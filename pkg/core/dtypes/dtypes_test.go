// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dtypes

import (
	"reflect"
	"testing"

	"github.com/gomlx/primitives/pkg/core/dtypes/bfloat16"
	"github.com/stretchr/testify/assert"
	"github.com/x448/float16"
)

func TestSizes(t *testing.T) {
	want := map[DType]int{Int8: 1, Uint8: 1, Float16: 2, BFloat16: 2, Float32: 4, Int32: 4, InvalidDType: 0}
	for dtype, size := range want {
		assert.Equal(t, size, dtype.Size(), "dtype %s", dtype)
	}
	for _, dtype := range AllDTypes {
		assert.True(t, dtype.IsValid())
		assert.Equal(t, dtype.Size(), int(dtype.GoType().Size()))
		assert.Equal(t, dtype, FromGoType(dtype.GoType()))
		assert.Equal(t, dtype, FromFlat(dtype.MakeFlat(3)))
		assert.Equal(t, 3, FlatLen(dtype.MakeFlat(3)))
		assert.Less(t, int(dtype), MaxDTypes)
	}
	assert.Equal(t, -1, FlatLen([]float64{1}))
	assert.Equal(t, InvalidDType, FromGoType(reflect.TypeOf(1.0)))
}

func TestFromGenericsType(t *testing.T) {
	assert.Equal(t, Float32, FromGenericsType[float32]())
	assert.Equal(t, BFloat16, FromGenericsType[bfloat16.BFloat16]())
	assert.Equal(t, Float16, FromGenericsType[float16.Float16]())
	assert.Equal(t, Int8, FromGenericsType[int8]())
	assert.Equal(t, Uint8, FromGenericsType[uint8]())
	assert.Equal(t, Int32, FromGenericsType[int32]())
}

func TestNamesAndLimits(t *testing.T) {
	assert.Equal(t, "BFloat16", BFloat16.String())
	assert.Equal(t, "bf16", BFloat16.Short())
	assert.Equal(t, "DType(99)", DType(99).String())
	assert.Equal(t, Uint8, MapOfNames["u8"])
	assert.Equal(t, 255.0, Uint8.HighestValue())
	assert.Equal(t, -128.0, Int8.LowestValue())
	assert.True(t, Float32.IsFloat() && BFloat16.IsFloat16() && !Float32.IsFloat16())
	assert.True(t, Int32.IsInt() && Uint8.IsUnsigned() && !Int8.IsUnsigned())
}
