// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/primitives/pkg/core/dtypes"
)

// DTypeMap maps a dtype to the implementation of a class of functions (loaders, storers, ...).
//
// Functions are registered in init() and looked up when a kernel is generated, so the kernel body
// never dispatches on the dtype.
type DTypeMap struct {
	Name  string
	fnMap [dtypes.MaxDTypes]any
}

// NewDTypeMap creates a new map for a class of functions.
func NewDTypeMap(name string) *DTypeMap {
	return &DTypeMap{Name: name}
}

// Register the function that handles dtype. It overwrites any previous registration.
func (d *DTypeMap) Register(dtype dtypes.DType, fn any) {
	if dtype < 0 || int(dtype) >= dtypes.MaxDTypes {
		exceptions.Panicf("dtype %s not supported by %s", dtype, d.Name)
	}
	d.fnMap[dtype] = fn
}

// Has returns whether a function is registered for dtype.
func (d *DTypeMap) Has(dtype dtypes.DType) bool {
	return dtype >= 0 && int(dtype) < dtypes.MaxDTypes && d.fnMap[dtype] != nil
}

// Get returns the function registered for dtype. It panics if there is none.
func (d *DTypeMap) Get(dtype dtypes.DType) any {
	if !d.Has(dtype) {
		exceptions.Panicf("dtype %s not supported by %s", dtype, d.Name)
	}
	return d.fnMap[dtype]
}
