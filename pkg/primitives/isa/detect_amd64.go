// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

//go:build amd64

package isa

import "golang.org/x/sys/cpu"

func detectLevel() Level {
	switch {
	case cpu.X86.HasAVX512F && cpu.X86.HasAVX512BW && cpu.X86.HasAVX512VL && cpu.X86.HasAVX512DQ:
		if cpu.X86.HasAVX512BF16 {
			return AVX512CoreBF16
		}
		return AVX512Core
	case cpu.X86.HasAVX2 && cpu.X86.HasFMA:
		return AVX2
	case cpu.X86.HasSSE41:
		return SSE41
	}
	return Scalar
}
