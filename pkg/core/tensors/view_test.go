// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"testing"

	"github.com/gomlx/primitives/pkg/core/dtypes"
	"github.com/gomlx/primitives/pkg/core/dtypes/bfloat16"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestView_Validate(t *testing.T) {
	v := FromFlat([]float32{0, 1, 2, 3, 4, 5}, 2, 3)
	require.NoError(t, v.Validate())
	assert.True(t, v.IsDense())
	assert.Equal(t, 6, v.Extent())

	// Offset pushes the view out of the storage.
	v.Offset = 1
	require.Error(t, v.Validate())

	// Storage type mismatch.
	bad := v
	bad.Offset = 0
	bad.DType = dtypes.BFloat16
	require.Error(t, bad.Validate())

	// Negative strides are not supported.
	bad = FromFlat([]float32{0, 1}, 2)
	bad.Strides = []int{-1}
	require.Error(t, bad.Validate())

	// Empty views are valid even with empty storage.
	empty := FromFlat([]float32{}, 0, 4)
	require.NoError(t, empty.Validate())
	assert.True(t, empty.IsEmpty())
	assert.Equal(t, 0, empty.Extent())
}

func TestView_PermuteAndGather(t *testing.T) {
	v := FromFlat([]int32{0, 1, 2, 3, 4, 5}, 2, 3)
	transposed := v.Permute(1, 0)
	require.NoError(t, transposed.Validate())
	assert.Equal(t, []int{3, 2}, transposed.Dimensions)
	assert.Equal(t, []int{1, 3}, transposed.Strides)
	assert.False(t, transposed.IsDense())
	assert.False(t, transposed.InnerContiguous())
	assert.Equal(t, []float32{0, 3, 1, 4, 2, 5}, transposed.ToFloat32())
	assert.Equal(t, []float32{0, 1, 2, 3, 4, 5}, v.Reshape(3, 2).ToFloat32())
	assert.Panics(t, func() { transposed.Reshape(6) })
}

func TestView_New(t *testing.T) {
	v := NewPadded(dtypes.BFloat16, 16, 3, 5)
	require.NoError(t, v.Validate())
	assert.Equal(t, 15+16, v.FlatLen())
	flat := Flat[bfloat16.BFloat16](v)
	assert.Len(t, flat, 31)
	assert.Panics(t, func() { Flat[float32](v) })
	assert.Contains(t, v.String(), "(BFloat16)[3 5]")
}

func TestView_Summary(t *testing.T) {
	v := FromFlat([]int32{0, 1, 2, 3, 4, 5}, 2, 3)
	assert.Equal(t, "[2][3]s32{\n {0, 1, 2},\n {3, 4, 5}}", v.Summary(3))
	assert.Equal(t, "[3][2]s32{\n {0, 3},\n {1, 4},\n {2, 5}}", v.Permute(1, 0).Summary(3))

	long := FromFlat([]float32{0.5, 1, 2, 3, 4, 5, 6, 7.25}, 8)
	assert.Equal(t, "[8]f32{0.5, 1, 2, ..., 5, 6, 7.25}", long.Summary(3))

	rows := New(dtypes.Uint8, 8, 1)
	assert.Equal(t, "[8][1]u8{\n {0},\n {0},\n {0},\n ...,\n {0},\n {0},\n {0}}", rows.Summary(2))
	assert.Equal(t, "(Float32)[0 4]", FromFlat([]float32{}, 0, 4).Summary(2))
}
