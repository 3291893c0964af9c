// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package convert implements the precision conversions used by kernels and reductions: float32 to/from
// bfloat16 and float16, and float32 to saturated integers.
//
// The slice functions follow the semantics of Go's copy: they process min(len(dst), len(src), ...)
// elements and return that count. They are pure, never allocate, and are safe to call concurrently on
// disjoint sub-slices.
package convert

import (
	"math"

	"github.com/gomlx/primitives/pkg/core/dtypes/bfloat16"
)

// BlockLanes is the number of elements converted per unrolled block: one 512-bit vector of float32.
const BlockLanes = 16

// ConvertDown narrows src to bfloat16 with round-to-nearest-even. NaNs are kept quiet.
func ConvertDown(dst []bfloat16.BFloat16, src []float32) int {
	n := min(len(dst), len(src))
	i := 0
	for ; i+BlockLanes <= n; i += BlockLanes {
		d := (*[BlockLanes]bfloat16.BFloat16)(dst[i : i+BlockLanes])
		s := (*[BlockLanes]float32)(src[i : i+BlockLanes])
		for lane := range BlockLanes {
			d[lane] = bfloat16.FromFloat32(s[lane])
		}
	}
	for ; i < n; i++ {
		dst[i] = bfloat16.FromFloat32(src[i])
	}
	return n
}

// EmulatedConvertDown is ConvertDown implemented with the integer-only sequence used on CPUs without a
// native conversion instruction: per lane, add 0x7FFF plus the lowest kept mantissa bit, shift right by 16,
// and blend the quieted NaNs back in. It is bit-identical to ConvertDown.
func EmulatedConvertDown(dst []bfloat16.BFloat16, src []float32) int {
	n := min(len(dst), len(src))
	var bits, rounded [BlockLanes]uint32
	for i := 0; i < n; i += BlockLanes {
		count := min(BlockLanes, n-i)
		for lane := range count {
			bits[lane] = math.Float32bits(src[i+lane])
		}
		for lane := range count {
			rounded[lane] = (bits[lane] + 0x7FFF + ((bits[lane] >> 16) & 1)) >> 16
		}
		for lane := range count {
			if bits[lane]&0x7FFFFFFF > 0x7F800000 {
				rounded[lane] = (bits[lane] >> 16) | 0x0040
			}
			dst[i+lane] = bfloat16.BFloat16(rounded[lane])
		}
	}
	return n
}

// ConvertUp widens src to float32. It is exact.
func ConvertUp(dst []float32, src []bfloat16.BFloat16) int {
	n := min(len(dst), len(src))
	i := 0
	for ; i+BlockLanes <= n; i += BlockLanes {
		d := (*[BlockLanes]float32)(dst[i : i+BlockLanes])
		s := (*[BlockLanes]bfloat16.BFloat16)(src[i : i+BlockLanes])
		for lane := range BlockLanes {
			d[lane] = math.Float32frombits(uint32(s[lane]) << 16)
		}
	}
	for ; i < n; i++ {
		dst[i] = math.Float32frombits(uint32(src[i]) << 16)
	}
	return n
}

// FusedAddConvertDown computes dst[i] = bfloat16(a[i] + b[i]) without an intermediate buffer: the sum is
// rounded to float32, then narrowed to bfloat16.
func FusedAddConvertDown(dst []bfloat16.BFloat16, a, b []float32) int {
	n := min(len(dst), len(a), len(b))
	i := 0
	for ; i+BlockLanes <= n; i += BlockLanes {
		d := (*[BlockLanes]bfloat16.BFloat16)(dst[i : i+BlockLanes])
		sa := (*[BlockLanes]float32)(a[i : i+BlockLanes])
		sb := (*[BlockLanes]float32)(b[i : i+BlockLanes])
		for lane := range BlockLanes {
			d[lane] = bfloat16.FromFloat32(sa[lane] + sb[lane])
		}
	}
	for ; i < n; i++ {
		dst[i] = bfloat16.FromFloat32(a[i] + b[i])
	}
	return n
}

// AddInto accumulates dst[i] += src[i], the float32 step of multi-threaded reductions.
func AddInto(dst, src []float32) int {
	n := min(len(dst), len(src))
	i := 0
	for ; i+BlockLanes <= n; i += BlockLanes {
		d := (*[BlockLanes]float32)(dst[i : i+BlockLanes])
		s := (*[BlockLanes]float32)(src[i : i+BlockLanes])
		for lane := range BlockLanes {
			d[lane] += s[lane]
		}
	}
	for ; i < n; i++ {
		dst[i] += src[i]
	}
	return n
}
