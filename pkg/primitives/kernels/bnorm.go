// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"fmt"
	"math"

	"github.com/gomlx/primitives/pkg/core/dtypes"
)

// generateBatchNorm: each worker takes a range of spatial positions (MB·D·H·W) and normalizes the
// channels of each, vectorized over C:
//
//	dst = (src - mean) / sqrt(variance + epsilon) [* gamma + beta] [relu]
func (k *Kernel) generateBatchNorm() {
	p := k.plan
	bn := p.Desc.BNorm
	t := p.Desc.Types
	loop := newBlockLoop(p)
	load, store := loaderFor(t.Src), storerFor(t.Dst, p.CodePath)
	loadF32 := loaderFor(dtypes.Float32)
	block := p.BlockElems
	eps := bn.Epsilon
	channels := bn.C

	// Register 0 holds epsilon (and 1 the zero for relu); each vector uses 3 registers.
	reserved := 1 + boolToInt(bn.FuseRelu)
	inputs := loop.inputBounds()
	k.bodies[PhaseMain] = func(a *Args) {
		for pos := a.Start; pos < a.Start+a.Count; pos++ {
			srcOff := a.SrcOff + pos*channels
			dstOff := a.DstOff + pos*channels
			loop.run(channels, func(c0, cnt, u int) {
				base := reserved + 3*u
				x, m, v := vreg(a.Regs, block, base), vreg(a.Regs, block, base+1), vreg(a.Regs, block, base+2)
				loop.load(load, a.Src, srcOff+c0, cnt, inputs, x)
				loop.load(loadF32, a.Mean, c0, cnt, bounds{0, len(a.Mean)}, m)
				loop.load(loadF32, a.Variance, c0, cnt, bounds{0, len(a.Variance)}, v)
				for i := range cnt {
					x[i] = (x[i] - m[i]) * invSqrt(v[i]+eps)
				}
				if bn.UseScaleShift {
					loop.load(loadF32, a.ScaleShift, c0, cnt, bounds{0, len(a.ScaleShift)}, m)
					loop.load(loadF32, a.ScaleShift, channels+c0, cnt, bounds{0, len(a.ScaleShift)}, v)
					for i := range cnt {
						x[i] = float32(x[i]*m[i]) + v[i]
					}
				}
				if bn.FuseRelu {
					for i := range cnt {
						if x[i] < 0 {
							x[i] = 0
						}
					}
				}
				store(x[:cnt], a.Dst, dstOff+c0)
			})
		}
	}
	k.addListing("  ", fmt.Sprintf("bnorm %s eps=%g scale_shift=%v relu=%v -> %s", t.Src.Short(), eps,
		bn.UseScaleShift, bn.FuseRelu, storeName(t.Dst, p.CodePath)))
	k.addListing("  ", loop.listing()...)
}

// invSqrt returns 1/sqrt(x) rounded to float32, as a correctly rounded sqrt followed by a division.
func invSqrt(x float32) float32 {
	return 1 / float32(math.Sqrt(float64(x)))
}
