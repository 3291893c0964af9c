// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package partition

// NDIndex walks a row-major N-dimensional iteration space by linear position.
//
// It's used to map a worker's linear Range back to the (group, batch, spatial block, ...) coordinates.
type NDIndex struct {
	Dims    []int
	Indices []int
}

// NewNDIndex returns an NDIndex positioned at the linear position start.
func NewNDIndex(start int, dims ...int) *NDIndex {
	it := &NDIndex{Dims: dims, Indices: make([]int, len(dims))}
	it.Seek(start)
	return it
}

// Init positions the iterator at start over dims, using indices (len(dims)) as storage. It's the
// non-allocating alternative to NewNDIndex.
func (it *NDIndex) Init(start int, dims, indices []int) {
	it.Dims = dims
	it.Indices = indices[:len(dims)]
	it.Seek(start)
}

// Seek sets the indices to the coordinates of the linear position pos.
func (it *NDIndex) Seek(pos int) {
	for axis := len(it.Dims) - 1; axis >= 0; axis-- {
		dim := it.Dims[axis]
		if dim <= 0 {
			it.Indices[axis] = 0
			continue
		}
		it.Indices[axis] = pos % dim
		pos /= dim
	}
}

// Step advances the indices by one position (last axis fastest). It returns false when wrapping around
// past the end of the space.
func (it *NDIndex) Step() bool {
	for axis := len(it.Dims) - 1; axis >= 0; axis-- {
		it.Indices[axis]++
		if it.Indices[axis] < it.Dims[axis] {
			return true
		}
		it.Indices[axis] = 0
	}
	return false
}

// Size returns the number of positions of the space.
func (it *NDIndex) Size() int {
	size := 1
	for _, dim := range it.Dims {
		size *= dim
	}
	return size
}
