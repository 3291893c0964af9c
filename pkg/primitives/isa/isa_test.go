// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package isa

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for l := Scalar; l <= NEON; l++ {
		got, err := ParseLevel(l.String())
		require.NoError(t, err)
		assert.Equal(t, l, got)
	}
	got, err := ParseLevel(" AVX2 ")
	require.NoError(t, err)
	assert.Equal(t, AVX2, got)
	_, err = ParseLevel("avx1024")
	require.Error(t, err)
}

func TestCapabilities(t *testing.T) {
	c := ForLevel(AVX512Core)
	assert.Equal(t, 16, c.F32Lanes())
	assert.False(t, c.NativeBF16)
	assert.Equal(t, "avx512_core(bf16 emulated)", c.String())
	assert.True(t, ForLevel(AVX512CoreBF16).NativeBF16)
	assert.False(t, ForLevel(Scalar).HasVectors())

	capped, err := ForLevel(AVX512CoreBF16).Cap(AVX2)
	require.NoError(t, err)
	assert.Equal(t, ForLevel(AVX2), capped)
	same, err := ForLevel(AVX2).Cap(AVX512Core)
	require.NoError(t, err)
	assert.Equal(t, AVX2, same.Level)
	_, err = ForLevel(AVX2).Cap(NEON)
	require.Error(t, err)
	scalar, err := ForLevel(NEON).Cap(Scalar)
	require.NoError(t, err)
	assert.False(t, scalar.HasVectors())
}

func TestDetect(t *testing.T) {
	// Detection is stable across calls.
	assert.Equal(t, Detect(), Detect())
}
