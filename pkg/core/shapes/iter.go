// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"iter"

	"github.com/pkg/errors"
)

// Strides returns the strides for each axis of the shape, assuming a "row-major" layout
// in memory.
//
// Notice the strides are **not in bytes**, but in elements.
func (s Shape) Strides() (strides []int) {
	return RowMajorStrides(s.Dimensions)
}

// RowMajorStrides returns the dense row-major strides (in elements) for the given dimensions.
// Axes of dimension 0 still get the stride they would have with dimension 1.
func RowMajorStrides(dimensions []int) []int {
	rank := len(dimensions)
	if rank == 0 {
		return nil
	}
	strides := make([]int, rank)
	currentStride := 1
	for axis := rank - 1; axis >= 0; axis-- {
		strides[axis] = currentStride
		currentStride *= max(dimensions[axis], 1)
	}
	return strides
}

// Iter iterates sequentially over all possible indices of the given shape, in row-major order.
//
// It yields the flat index (counter) and a slice of indices for each axis.
//
// To avoid allocating the slice of indices, the yielded indices is owned by the Iter() method:
// don't change it inside the loop.
func (s Shape) Iter() iter.Seq2[int, []int] {
	return IterStrided(s.Dimensions, nil, make([]int, s.Rank()))
}

// IterStrided iterates over all the indices of the given dimensions, in row-major order, and yields
// the offset computed with the given strides (in elements) and the current indices.
//
// If strides is nil the dense row-major strides are used, and the yielded offset is the flat index.
// Zero-sized dimensions yield nothing; rank-0 yields offset 0 once.
//
// The yielded indices slice is the one given (it's allocated if nil), and it must not be modified by the caller.
func IterStrided(dimensions, strides, indices []int) iter.Seq2[int, []int] {
	rank := len(dimensions)
	if strides == nil {
		strides = RowMajorStrides(dimensions)
	} else if len(strides) != rank {
		panic(errors.Errorf("IterStrided given len(strides) == %d, want it to be equal to the rank %d", len(strides), rank))
	}
	if indices == nil {
		indices = make([]int, rank)
	} else if len(indices) != rank {
		panic(errors.Errorf("IterStrided given len(indices) == %d, want it to be equal to the rank %d", len(indices), rank))
	}
	return func(yield func(int, []int) bool) {
		for _, dim := range dimensions {
			if dim <= 0 {
				return
			}
		}
		for i := range indices {
			indices[i] = 0
		}
		offset := 0
	yielder:
		for {
			if !yield(offset, indices) {
				return
			}
			// Increment indices (last axis changes fastest), carrying over.
			for axis := rank - 1; axis >= 0; axis-- {
				indices[axis]++
				offset += strides[axis]
				if indices[axis] < dimensions[axis] {
					continue yielder
				}
				offset -= indices[axis] * strides[axis]
				indices[axis] = 0
			}
			break
		}
	}
}
