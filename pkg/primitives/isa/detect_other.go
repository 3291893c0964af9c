// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

//go:build !amd64 && !arm64

package isa

func detectLevel() Level {
	return Scalar
}
