// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package convert

import (
	"github.com/x448/float16"
)

// ConvertDownF16 narrows src to IEEE half-precision, rounding to nearest-even.
func ConvertDownF16(dst []float16.Float16, src []float32) int {
	n := min(len(dst), len(src))
	for i := range n {
		dst[i] = float16.Fromfloat32(src[i])
	}
	return n
}

// ConvertUpF16 widens src to float32. It is exact.
func ConvertUpF16(dst []float32, src []float16.Float16) int {
	n := min(len(dst), len(src))
	for i := range n {
		dst[i] = src[i].Float32()
	}
	return n
}

// FusedAddConvertDownF16 computes dst[i] = float16(a[i] + b[i]).
func FusedAddConvertDownF16(dst []float16.Float16, a, b []float32) int {
	n := min(len(dst), len(a), len(b))
	for i := range n {
		dst[i] = float16.Fromfloat32(a[i] + b[i])
	}
	return n
}
