// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"fmt"

	"github.com/gomlx/primitives/pkg/core/shapes"
)

// generateReorder: when both layouts are contiguous on the last axis, each worker takes a range of
// outer rows and converts them vectorized; otherwise each worker takes a range of elements. Reorders
// between the same dtype without scales are bit-exact copies.
func (k *Kernel) generateReorder() {
	p := k.plan
	r := p.Desc.Reorder
	t := p.Desc.Types
	loop := newBlockLoop(p)
	block := p.BlockElems
	rank := len(r.Dims)
	last := rank - 1
	lastDim := r.Dims[last]
	scales := p.ScaleValues
	scaleStrides := p.ReorderScaleStrides
	scaleLastAxis := len(scales) > 0 && scaleStrides[last] != 0
	direct := t.Src == t.Dst && len(scales) == 0

	var (
		copyFn Copier
		load   Loader
		store  Storer
	)
	if direct {
		copyFn = copiers.Get(t.Src).(Copier)
	} else {
		load, store = loaderFor(t.Src), storerFor(t.Dst, p.CodePath)
	}

	// offsets returns the source, destination and scale offsets of the given (leading) indices.
	offsets := func(idx []int) (srcOff, dstOff, scaleOff int) {
		for axis, i := range idx {
			srcOff += i * r.SrcStrides[axis]
			dstOff += i * r.DstStrides[axis]
			scaleOff += i * scaleStrides[axis]
		}
		return
	}

	// Register 0 holds a common scale; each vector uses its register plus one for per-lane scales.
	reserved := boolToInt(len(scales) > 0 && !scaleLastAxis)
	perIter := 1 + boolToInt(scaleLastAxis)

	if p.ReorderVectorized {
		outer := r.Dims[:last]
		k.bodies[PhaseMain] = func(a *Args) {
			if a.Count <= 0 {
				return
			}
			a.nd.Init(a.Start, outer, a.ndIndices[:])
			for row := range a.Count {
				if row > 0 {
					a.nd.Step()
				}
				srcOff, dstOff, scaleOff := offsets(a.nd.Indices)
				srcOff += a.SrcOff
				dstOff += a.DstOff
				if direct {
					copyFn(a.Src, srcOff, a.Dst, dstOff, lastDim)
					continue
				}
				loop.run(lastDim, func(pos, cnt, u int) {
					v := vreg(a.Regs, block, reserved+u*perIter)
					loop.load(load, a.Src, srcOff+pos, cnt, loop.inputBounds(), v)
					v = v[:cnt]
					switch {
					case scaleLastAxis:
						s := scales[scaleOff+pos : scaleOff+pos+cnt]
						for i := range v {
							v[i] *= s[i]
						}
					case len(scales) > 0:
						s := scales[scaleOff]
						for i := range v {
							v[i] *= s
						}
					}
					store(v, a.Dst, dstOff+pos)
				})
			}
		}
		k.addListing("  ", fmt.Sprintf("reorder %s->%s rows of %d, direct=%v scales=%d", t.Src.Short(), t.Dst.Short(),
			lastDim, direct, len(p.Desc.Scales.Values)))
		k.addListing("  ", loop.listing()...)
		return
	}

	k.bodies[PhaseMain] = func(a *Args) {
		if a.Count <= 0 {
			return
		}
		v := vreg(a.Regs, block, 0)[:1]
		a.nd.Init(a.Start, r.Dims, a.ndIndices[:])
		for e := range a.Count {
			if e > 0 {
				a.nd.Step()
			}
			srcOff, dstOff, scaleOff := offsets(a.nd.Indices)
			if direct {
				copyFn(a.Src, a.SrcOff+srcOff, a.Dst, a.DstOff+dstOff, 1)
				continue
			}
			load(a.Src, a.SrcOff+srcOff, v)
			if len(scales) > 0 {
				v[0] *= scales[scaleOff]
			}
			store(v, a.Dst, a.DstOff+dstOff)
		}
	}
	k.addListing("  ", fmt.Sprintf("reorder %s->%s strided, %d elements, direct=%v", t.Src.Short(), t.Dst.Short(),
		shapes.Product(r.Dims), direct))
}
