// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/primitives/pkg/core/dtypes"
	"github.com/gomlx/primitives/pkg/core/dtypes/bfloat16"
	"github.com/gomlx/primitives/pkg/primitives/plan"
)

// dotFunc computes the accumulators of the flattened (mb, oc) positions [e0, e1) into a.Acc.
type dotFunc func(a *Args, e0, e1 int)

// generateInnerProduct: each worker computes the dot products of its range of the flattened MB·OC
// output, then post-processes it row segment by row segment.
func (k *Kernel) generateInnerProduct() {
	p := k.plan
	dims := p.Desc.InnerProduct
	loop := newBlockLoop(p)
	ep := newEpilogue(p, &loop, false)

	var dot dotFunc
	switch p.Desc.Types.Src {
	case dtypes.Float32:
		dot = dotFloat(dims, func(x float32) float32 { return x })
	case dtypes.BFloat16:
		dot = dotFloat(dims, bfloat16.BFloat16.Float32)
	case dtypes.Uint8:
		dot = dotInt[uint8](dims)
	case dtypes.Int8:
		dot = dotInt[int8](dims)
	default:
		exceptions.Panicf("InnerProduct: unsupported src dtype %s", p.Desc.Types.Src)
	}

	// Register allocation: [0, reserved) hold scales, the u8 zero and the sum scale; each unrolled vector
	// uses perIter registers: the accumulator, then bias and previous destination.
	reserved := boolToInt(p.Desc.Scales.IsSet()) + boolToInt(p.Desc.Types.Dst == dtypes.Uint8) +
		boolToInt(p.Fused.Sum)
	perIter := 1 + boolToInt(p.Fused.Sum) + boolToInt(p.Fused.Bias)
	block := p.BlockElems
	oc := dims.OC
	total := dims.MB * oc
	dstPadding := p.Desc.Padding.Dst

	k.bodies[PhaseMain] = func(a *Args) {
		if a.Count <= 0 {
			return
		}
		end := a.Start + a.Count
		dot(a, a.Start, end)

		// The worker owns [Start, end) of the accumulator and destination, plus their padding if it
		// holds the last element.
		accBounds := bounds{a.Start, end}
		dstBounds := bounds{a.DstOff + a.Start, a.DstOff + end}
		if end == total {
			accBounds.hi += block
			dstBounds.hi += dstPadding
		}
		for e := a.Start; e < end; {
			mb, ch := e/oc, e%oc
			n := min(oc-ch, end-e)
			rowStart := e
			loop.run(n, func(pos, cnt, u int) {
				base := reserved + u*perIter
				r := vreg(a.Regs, block, base)
				aux := a.Regs[(base+1)*block : (base+perIter)*block]
				ep.apply(a, r, aux, rowStart+pos, cnt, ch+pos, 0, a.DstOff+mb*oc+ch+pos, accBounds, dstBounds)
			})
			e += n
		}
	}
	k.addListing("  ", "dot "+p.Desc.Types.Src.Short()+"x"+p.Desc.Types.Weights.Short()+"->"+p.Acc.Short())
	k.addListing("  ", "pp: "+strings.Join(ep.stages, " -> "))
	k.addListing("  ", loop.listing()...)
}

func dotFloat[T float32 | bfloat16.BFloat16](dims plan.InnerProductDims, widen func(T) float32) dotFunc {
	ic, oc := dims.IC, dims.OC
	return func(a *Args, e0, e1 int) {
		src, wei, acc := a.Src.([]T), a.Weights.([]T), a.Acc.([]float32)
		for e := e0; e < e1; e++ {
			mb, ch := e/oc, e%oc
			s := src[a.SrcOff+mb*ic : a.SrcOff+(mb+1)*ic]
			w := wei[a.WeightsOff+ch*ic : a.WeightsOff+(ch+1)*ic]
			var sum float32
			for i := range s {
				sum += float32(widen(s[i]) * widen(w[i]))
			}
			acc[e] = sum
		}
	}
}

func dotInt[S uint8 | int8](dims plan.InnerProductDims) dotFunc {
	ic, oc := dims.IC, dims.OC
	return func(a *Args, e0, e1 int) {
		src, wei, acc := a.Src.([]S), a.Weights.([]int8), a.Acc.([]int32)
		for e := e0; e < e1; e++ {
			mb, ch := e/oc, e%oc
			s := src[a.SrcOff+mb*ic : a.SrcOff+(mb+1)*ic]
			w := wei[a.WeightsOff+ch*ic : a.WeightsOff+(ch+1)*ic]
			var sum int32
			for i := range s {
				sum += int32(s[i]) * int32(w[i])
			}
			acc[e] = sum
		}
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
