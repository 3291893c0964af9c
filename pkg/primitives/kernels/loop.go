// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/gomlx/primitives/pkg/primitives/plan"
)

// maxMaskGroups is the largest number of lane groups in a block: 64 byte elements with 4 float32 lanes.
const maxMaskGroups = 16

// blockLoop iterates over the vectorized axis: a main loop unrolled by the largest power of two not
// above the plan's Unroll, then one block per smaller power of two (down to a single vector) for the
// remainder, and finally one partial (tail) vector.
type blockLoop struct {
	block, vlen int
	unroll      int

	// tail is the plan's tail length, tailMasks its masks.
	tail      int
	tailMasks [maxMaskGroups]uint64

	// masked is set if tail loads of padded inputs may read a full block (TailSafe).
	masked bool
}

func newBlockLoop(p *plan.Plan) blockLoop {
	l := blockLoop{
		block:  p.BlockElems,
		vlen:   p.VLen,
		unroll: 1 << (bits.Len(uint(max(p.Unroll, 1))) - 1),
		tail:   p.TailElems,
		masked: p.TailSafe,
	}
	copy(l.tailMasks[:], p.TailMasks)
	return l
}

// run calls body(pos, n, u) for each vector of [0, count): n is the number of valid elements (block
// except for the tail) and u the index of the vector within its unrolled group.
func (l *blockLoop) run(count int, body func(pos, n, u int)) {
	pos := 0
	for ur := l.unroll; ur >= 1; ur >>= 1 {
		step := ur * l.block
		for ; pos+step <= count; pos += step {
			for u := range ur {
				body(pos+u*l.block, l.block, u)
			}
		}
	}
	if pos < count {
		body(pos, count-pos, 0)
	}
}

// masks returns the lane masks enabling the first n elements of a block.
func (l *blockLoop) masks(n int) [maxMaskGroups]uint64 {
	if n == l.tail {
		return l.tailMasks
	}
	var masks [maxMaskGroups]uint64
	for g := range masks {
		lanes := min(max(n-g*l.vlen, 0), l.vlen)
		masks[g] = (uint64(1) << lanes) - 1
	}
	return masks
}

// bounds are the elements of a flat slice a partial load may read besides its own n: [lo, hi).
// The zero value allows realigned loads within the tensor and no full-block masked loads.
type bounds struct{ lo, hi int }

// inputBounds are the bounds of read-only inputs whose padding is covered by the plan's TailSafe.
func (l *blockLoop) inputBounds() bounds {
	if l.masked {
		return bounds{0, math.MaxInt}
	}
	return bounds{}
}

// load fills r[:block] with n elements of flat starting at off, zeroing the disabled lanes.
//
// Full vectors are plain loads. A partial vector is a masked load (a full block is read, then masked) if
// the block ends within b.hi; otherwise a realigned load (a full block ending at off+n, shifted down) if
// it starts at or after b.lo; otherwise the n elements are read one by one.
func (l *blockLoop) load(ld Loader, flat any, off, n int, b bounds, r []float32) {
	r = r[:l.block]
	switch {
	case n == l.block:
		ld(flat, off, r)
	case off+l.block <= b.hi:
		ld(flat, off, r)
		masks := l.masks(n)
		for i := range r {
			if masks[i/l.vlen]&(1<<(i%l.vlen)) == 0 {
				r[i] = 0
			}
		}
	case off+n-l.block >= b.lo:
		ld(flat, off+n-l.block, r)
		copy(r, r[l.block-n:])
		clear(r[n:])
	default:
		ld(flat, off, r[:n])
		clear(r[n:])
	}
}

// iload is load for int32 registers.
func (l *blockLoop) iload(ld ILoader, flat any, off, n int, b bounds, r []int32) {
	r = r[:l.block]
	switch {
	case n == l.block:
		ld(flat, off, r)
	case off+l.block <= b.hi:
		ld(flat, off, r)
		masks := l.masks(n)
		for i := range r {
			if masks[i/l.vlen]&(1<<(i%l.vlen)) == 0 {
				r[i] = 0
			}
		}
	case off+n-l.block >= b.lo:
		ld(flat, off+n-l.block, r)
		copy(r, r[l.block-n:])
		clear(r[n:])
	default:
		ld(flat, off, r[:n])
		clear(r[n:])
	}
}

// listing describes the loop structure: the unrolled main loop, O(log Unroll) smaller blocks and the tail.
func (l *blockLoop) listing() []string {
	lines := []string{fmt.Sprintf("loop x%d (%d elems/iter)", l.unroll, l.unroll*l.block)}
	for ur := l.unroll >> 1; ur >= 1; ur >>= 1 {
		lines = append(lines, fmt.Sprintf("block x%d", ur))
	}
	if l.tail > 0 {
		mode := "guarded"
		if l.masked {
			mode = "masked"
		}
		numMasks := (l.block + l.vlen - 1) / l.vlen
		lines = append(lines, fmt.Sprintf("tail %d elems %s %#x", l.tail, mode, l.tailMasks[:numMasks]))
	}
	return lines
}
