// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors defines View, a typed window over caller-owned flat storage with arbitrary
// (non-negative) strides, the tensor argument type of the primitives engine.
package tensors

import (
	"fmt"
	"slices"

	"github.com/gomlx/primitives/pkg/core/dtypes"
	"github.com/gomlx/primitives/pkg/core/dtypes/bfloat16"
	"github.com/gomlx/primitives/pkg/core/shapes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// View of a tensor: a base (Flat[Offset]), dimensions and strides, all in elements.
//
// The storage is owned by the caller, and must not be resized or reallocated while the view is in use.
// A nil Strides means dense row-major.
type View struct {
	// Flat is a slice of one of the supported types: []float32, []bfloat16.BFloat16, []float16.Float16,
	// []int8, []uint8 or []int32.
	Flat any

	// Offset in elements of the first element of the view in Flat.
	Offset int

	DType      dtypes.DType
	Dimensions []int

	// Strides per axis, in elements. If nil the view is dense row-major.
	Strides []int
}

// FromFlat creates a dense View over the given flat data.
func FromFlat[T dtypes.Supported](flat []T, dimensions ...int) View {
	return View{Flat: flat, DType: dtypes.FromGenericsType[T](), Dimensions: slices.Clone(dimensions)}
}

// New allocates zero-initialized storage and returns a dense View over it.
func New(dtype dtypes.DType, dimensions ...int) View {
	return View{
		Flat:       dtype.MakeFlat(shapes.Product(dimensions)),
		DType:      dtype,
		Dimensions: slices.Clone(dimensions),
	}
}

// NewPadded allocates storage with extra trailing padding elements, and returns a dense View over it.
func NewPadded(dtype dtypes.DType, padding int, dimensions ...int) View {
	v := New(dtype, dimensions...)
	v.Flat = dtype.MakeFlat(shapes.Product(dimensions) + padding)
	return v
}

// Shape returns the shape (dtype and dimensions) of the view.
func (v View) Shape() shapes.Shape {
	return shapes.Shape{DType: v.DType, Dimensions: v.Dimensions}
}

// Rank returns the number of axes.
func (v View) Rank() int { return len(v.Dimensions) }

// Size returns the number of logical elements.
func (v View) Size() int { return shapes.Product(v.Dimensions) }

// IsEmpty returns whether the view holds no elements.
func (v View) IsEmpty() bool { return v.Size() == 0 }

// EffectiveStrides returns the strides of the view, computing the dense ones if Strides is nil.
func (v View) EffectiveStrides() []int {
	if v.Strides == nil {
		return shapes.RowMajorStrides(v.Dimensions)
	}
	return v.Strides
}

// IsDense returns whether the view is laid out densely in row-major order.
func (v View) IsDense() bool {
	if v.Strides == nil {
		return true
	}
	dense := shapes.RowMajorStrides(v.Dimensions)
	for axis, dim := range v.Dimensions {
		if dim > 1 && v.Strides[axis] != dense[axis] {
			return false
		}
	}
	return true
}

// InnerContiguous returns whether the last axis has stride 1 (or the view is a scalar).
func (v View) InnerContiguous() bool {
	if v.Rank() == 0 {
		return true
	}
	return v.Dimensions[v.Rank()-1] <= 1 || v.EffectiveStrides()[v.Rank()-1] == 1
}

// Extent returns one past the largest element offset addressed by the view, relative to Offset.
// It is 0 for an empty view.
func (v View) Extent() int {
	if v.IsEmpty() {
		return 0
	}
	strides := v.EffectiveStrides()
	extent := 1
	for axis, dim := range v.Dimensions {
		extent += (dim - 1) * strides[axis]
	}
	return extent
}

// FlatLen returns the length of the underlying storage, or -1 if Flat is not a supported slice type.
func (v View) FlatLen() int {
	return dtypes.FlatLen(v.Flat)
}

// Validate checks that the view is consistent: the storage type matches DType, strides are non-negative
// and match the rank, and every addressed element is within the storage.
func (v View) Validate() error {
	if !v.DType.IsValid() {
		return errors.Errorf("tensors.View: invalid dtype %s", v.DType)
	}
	if flatDType := dtypes.FromFlat(v.Flat); flatDType != v.DType {
		return errors.Errorf("tensors.View: storage of type %T doesn't match dtype %s", v.Flat, v.DType)
	}
	for axis, dim := range v.Dimensions {
		if dim < 0 {
			return errors.Errorf("tensors.View: negative dimension %d for axis %d", dim, axis)
		}
	}
	if v.Strides != nil {
		if len(v.Strides) != v.Rank() {
			return errors.Errorf("tensors.View: %d strides given for rank %d", len(v.Strides), v.Rank())
		}
		for axis, stride := range v.Strides {
			if stride < 0 {
				return errors.Errorf("tensors.View: negative stride %d for axis %d", stride, axis)
			}
		}
	}
	if v.Offset < 0 {
		return errors.Errorf("tensors.View: negative offset %d", v.Offset)
	}
	if end := v.Offset + v.Extent(); end > v.FlatLen() {
		return errors.Errorf("tensors.View: view %s addresses up to element %d, but storage has only %d elements",
			v.Shape(), end, v.FlatLen())
	}
	return nil
}

// Permute returns a view with the axes reordered: new axis i is the old axis axes[i].
// The storage is shared, only the strides change.
func (v View) Permute(axes ...int) View {
	if len(axes) != v.Rank() {
		panic(errors.Errorf("View.Permute: %d axes given for rank %d", len(axes), v.Rank()))
	}
	strides := v.EffectiveStrides()
	out := v
	out.Dimensions = make([]int, len(axes))
	out.Strides = make([]int, len(axes))
	for i, axis := range axes {
		out.Dimensions[i] = v.Dimensions[axis]
		out.Strides[i] = strides[axis]
	}
	return out
}

// Reshape returns a dense view with new dimensions over the same storage. The view must be dense and
// the number of elements must match.
func (v View) Reshape(dimensions ...int) View {
	if !v.IsDense() || shapes.Product(dimensions) != v.Size() {
		panic(errors.Errorf("View.Reshape: cannot reshape %s (dense=%v) to %v", v.Shape(), v.IsDense(), dimensions))
	}
	out := v
	out.Dimensions = slices.Clone(dimensions)
	out.Strides = nil
	return out
}

// String implements fmt.Stringer.
func (v View) String() string {
	return fmt.Sprintf("View%s{offset=%d, strides=%v}", v.Shape(), v.Offset, v.EffectiveStrides())
}

// Flat returns the typed storage of the view. It panics if the type doesn't match.
func Flat[T dtypes.Supported](v View) []T {
	flat, ok := v.Flat.([]T)
	if !ok {
		panic(errors.Errorf("tensors.Flat[%s]: view storage is %T", dtypes.FromGenericsType[T](), v.Flat))
	}
	return flat
}

// ToFloat32 gathers the logical elements of the view, in row-major order, converted to float32.
// It's meant for tests and debugging.
func (v View) ToFloat32() []float32 {
	out := make([]float32, 0, v.Size())
	for offset := range shapes.IterStrided(v.Dimensions, v.EffectiveStrides(), nil) {
		out = append(out, ElementAsFloat32(v.Flat, v.Offset+offset))
	}
	return out
}

// ElementAsFloat32 reads the element at position idx of a flat slice and converts it to float32.
func ElementAsFloat32(flat any, idx int) float32 {
	switch s := flat.(type) {
	case []float32:
		return s[idx]
	case []bfloat16.BFloat16:
		return s[idx].Float32()
	case []float16.Float16:
		return s[idx].Float32()
	case []int8:
		return float32(s[idx])
	case []uint8:
		return float32(s[idx])
	case []int32:
		return float32(s[idx])
	}
	panic(errors.Errorf("ElementAsFloat32: unsupported storage type %T", flat))
}
