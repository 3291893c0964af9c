// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

//go:build arm64

package isa

import "golang.org/x/sys/cpu"

func detectLevel() Level {
	// ASIMD is part of the ARMv8-A baseline, the check is for consistency.
	if cpu.ARM64.HasASIMD {
		return NEON
	}
	return Scalar
}
