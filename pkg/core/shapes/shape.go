// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapes defines Shape, the dtype and dimensions of a dense tensor, and related utilities.
//
// Unlike GoMLX's graph shapes, dimensions equal to 0 are allowed here: a zero-sized tensor is a valid
// (empty) argument to a primitive, and executing over it is a no-op.
package shapes

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/primitives/pkg/core/dtypes"
	"github.com/pkg/errors"
)

// Shape represents the shape of a tensor: its dtype and the dimensions of each axis.
//
// Use Make to create a new shape. The zero value is an invalid shape (see Ok).
type Shape struct {
	DType      dtypes.DType
	Dimensions []int
}

// Make returns a Shape structure filled with the values given.
// It panics if any dimension is negative.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	s := Shape{DType: dtype, Dimensions: slices.Clone(dimensions)}
	for _, dim := range dimensions {
		if dim < 0 {
			panic(errors.Errorf("shapes.Make(%s): cannot create a shape with an axis with dimension < 0", s))
		}
	}
	return s
}

// Scalar returns a scalar Shape for the given dtype.
func Scalar(dtype dtypes.DType) Shape {
	return Shape{DType: dtype}
}

// Ok returns whether this is a valid Shape.
func (s Shape) Ok() bool { return s.DType != dtypes.InvalidDType }

// Rank of the shape, that is, the number of axes.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether the shape represents a scalar.
func (s Shape) IsScalar() bool { return s.Ok() && s.Rank() == 0 }

// Dim returns the dimension of the given axis. Negative axes are counted from the end.
func (s Shape) Dim(axis int) int {
	adjusted := axis
	if adjusted < 0 {
		adjusted += s.Rank()
	}
	if adjusted < 0 || adjusted >= s.Rank() {
		panic(errors.Errorf("Shape.Dim(%d) out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s))
	}
	return s.Dimensions[adjusted]
}

// Size returns the number of elements of the shape.
func (s Shape) Size() int {
	return Product(s.Dimensions)
}

// IsZeroSize returns whether any of the dimensions is 0, in which case the tensor holds no elements.
func (s Shape) IsZeroSize() bool {
	return slices.Contains(s.Dimensions, 0)
}

// Memory returns the number of bytes used to store a dense tensor of this shape.
func (s Shape) Memory() uintptr {
	return uintptr(s.Size() * s.DType.Size())
}

// Equal compares two shapes for equality: dtype and dimensions are compared.
func (s Shape) Equal(s2 Shape) bool {
	return s.DType == s2.DType && slices.Equal(s.Dimensions, s2.Dimensions)
}

// EqualDimensions compares two shapes for equality of dimensions. Dtypes can be different.
func (s Shape) EqualDimensions(s2 Shape) bool {
	return slices.Equal(s.Dimensions, s2.Dimensions)
}

// Clone returns a new deep copy of the shape.
func (s Shape) Clone() Shape {
	return Shape{DType: s.DType, Dimensions: slices.Clone(s.Dimensions)}
}

// String implements fmt.Stringer and pretty-prints the shape, e.g. "(Float32)[2 3]".
func (s Shape) String() string {
	if s.Rank() == 0 {
		return fmt.Sprintf("(%s)", s.DType)
	}
	parts := make([]string, len(s.Dimensions))
	for i, dim := range s.Dimensions {
		parts[i] = fmt.Sprintf("%d", dim)
	}
	return fmt.Sprintf("(%s)[%s]", s.DType, strings.Join(parts, " "))
}

// Product returns the product of the given dimensions (1 for an empty list).
func Product(dimensions []int) int {
	size := 1
	for _, dim := range dimensions {
		size *= dim
	}
	return size
}
