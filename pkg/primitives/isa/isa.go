// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package isa describes the vector capabilities of the CPU that kernels are specialized for.
//
// The capabilities are detected once per process (see Detect) and are immutable afterwards. Plans take
// a Capabilities value explicitly, so tests (and the "isa" engine option) can target lower levels.
package isa

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Level is an instruction set level, ordered by capability within an architecture family.
type Level int

const (
	// Scalar means no vector instruction set: no primitive kernel is available.
	Scalar Level = iota

	// SSE41 is the 128-bit x86 baseline (16 vector registers).
	SSE41

	// AVX2 is 256-bit x86 with FMA (16 vector registers).
	AVX2

	// AVX512Core is 512-bit x86 with BW/VL/DQ (32 vector registers, opmasks).
	AVX512Core

	// AVX512CoreBF16 adds native float32 to bfloat16 conversion (VCVTNEPS2BF16).
	AVX512CoreBF16

	// NEON is the 128-bit ARM64 baseline (32 vector registers).
	NEON
)

// String returns the name of the level, as accepted by ParseLevel.
func (l Level) String() string {
	switch l {
	case Scalar:
		return "scalar"
	case SSE41:
		return "sse41"
	case AVX2:
		return "avx2"
	case AVX512Core:
		return "avx512_core"
	case AVX512CoreBF16:
		return "avx512_core_bf16"
	case NEON:
		return "neon"
	default:
		return "unknown"
	}
}

// ParseLevel parses the name of a level (case-insensitive).
func ParseLevel(name string) (Level, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for l := Scalar; l <= NEON; l++ {
		if l.String() == name {
			return l, nil
		}
	}
	return Scalar, errors.Errorf("unknown ISA level %q, valid values are scalar, sse41, avx2, avx512_core, "+
		"avx512_core_bf16 and neon", name)
}

// IsX86 returns whether the level belongs to the x86 family.
func (l Level) IsX86() bool {
	return l >= SSE41 && l <= AVX512CoreBF16
}

// Capabilities describes what the kernel generator can use.
type Capabilities struct {
	Level Level

	// VectorBytes is the width of a vector register in bytes (0 for Scalar).
	VectorBytes int

	// NumVRegs is the number of architectural vector registers, the budget for unrolling.
	NumVRegs int

	// NativeBF16 is set if float32 to bfloat16 narrowing is a single instruction.
	NativeBF16 bool

	// HasMasks is set if the ISA has per-lane predication (opmasks), otherwise masked loads/stores
	// are emulated with blends.
	HasMasks bool
}

// ForLevel returns the capabilities of a CPU supporting exactly the given level.
func ForLevel(level Level) Capabilities {
	switch level {
	case SSE41:
		return Capabilities{Level: level, VectorBytes: 16, NumVRegs: 16}
	case AVX2:
		return Capabilities{Level: level, VectorBytes: 32, NumVRegs: 16}
	case AVX512Core:
		return Capabilities{Level: level, VectorBytes: 64, NumVRegs: 32, HasMasks: true}
	case AVX512CoreBF16:
		return Capabilities{Level: level, VectorBytes: 64, NumVRegs: 32, HasMasks: true, NativeBF16: true}
	case NEON:
		return Capabilities{Level: level, VectorBytes: 16, NumVRegs: 32}
	default:
		return Capabilities{Level: Scalar}
	}
}

// F32Lanes returns the number of float32 lanes in a vector register.
func (c Capabilities) F32Lanes() int {
	return c.VectorBytes / 4
}

// HasVectors returns whether there is any vector instruction set.
func (c Capabilities) HasVectors() bool {
	return c.Level != Scalar && c.VectorBytes > 0
}

// Cap returns the capabilities limited to the given level. Capping to a level of a different architecture
// family is an error; capping to a higher level than available returns c unchanged.
func (c Capabilities) Cap(level Level) (Capabilities, error) {
	if level == Scalar {
		return ForLevel(Scalar), nil
	}
	if c.Level == Scalar {
		return c, nil
	}
	if level.IsX86() != c.Level.IsX86() {
		return c, errors.Errorf("cannot target ISA %s on a CPU with %s", level, c.Level)
	}
	if level >= c.Level {
		return c, nil
	}
	return ForLevel(level), nil
}

// String implements fmt.Stringer.
func (c Capabilities) String() string {
	s := c.Level.String()
	if c.HasVectors() && !c.NativeBF16 {
		s += "(bf16 emulated)"
	}
	return s
}

// Detect returns the capabilities of the running CPU. It is computed once per process.
var Detect = sync.OnceValue(func() Capabilities {
	return ForLevel(detectLevel())
})
