// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"fmt"

	"github.com/gomlx/primitives/pkg/core/dtypes"
	"github.com/gomlx/primitives/pkg/primitives/plan"
)

// window is the range of valid input positions of one pooling window along each spatial axis.
type window struct {
	d0, d1, h0, h1, w0, w1 int
}

func (w window) count() int {
	return (w.d1 - w.d0) * (w.h1 - w.h0) * (w.w1 - w.w0)
}

func clampWindow(o, stride, pad, k, in int) (int, int) {
	start := o*stride - pad
	return max(start, 0), min(start+k, in)
}

// poolWindow returns the window of the output position (od, oh, ow).
func poolWindow(pd plan.PoolDims, od, oh, ow int) window {
	var w window
	w.d0, w.d1 = clampWindow(od, pd.StrideD, pd.PadD, pd.KD, pd.ID)
	w.h0, w.h1 = clampWindow(oh, pd.StrideH, pd.PadH, pd.KH, pd.IH)
	w.w0, w.w1 = clampWindow(ow, pd.StrideW, pd.PadW, pd.KW, pd.IW)
	return w
}

// divisor returns the number the window's sum is divided by for average pooling, 1 for empty windows.
func divisor(pd plan.PoolDims, w window) int {
	if pd.Alg == plan.PoolAvgIncludePadding {
		return pd.KD * pd.KH * pd.KW
	}
	return max(w.count(), 1)
}

// generatePooling: each worker takes a range of output rows (image, od, oh); for each output position
// the window is reduced vectorized over the channels. Integer types accumulate in int32 registers.
func (k *Kernel) generatePooling() {
	p := k.plan
	pd := p.Desc.Pool
	t := p.Desc.Types
	loop := newBlockLoop(p)
	block := p.BlockElems
	isMax := pd.Alg == plan.PoolMax
	rowsPerImage := pd.OD * pd.OH

	srcOffset := func(a *Args, n, id, ih, iw int) int {
		return a.SrcOff + (((n*pd.ID+id)*pd.IH+ih)*pd.IW+iw)*pd.C
	}

	if t.Src.IsInt() {
		load, storeInt := iLoaders.Get(t.Src).(ILoader), iStorers.Get(t.Dst).(IStorer)
		store := storerFor(t.Dst, p.CodePath)
		lowest := int32(t.Src.LowestValue())
		k.bodies[PhaseMain] = func(a *Args) {
			for row := a.Start; row < a.Start+a.Count; row++ {
				n, od, oh := row/rowsPerImage, (row/pd.OH)%pd.OD, row%pd.OH
				for ow := range pd.OW {
					w := poolWindow(pd, od, oh, ow)
					div := float32(divisor(pd, w))
					dstOff := a.DstOff + (((n*pd.OD+od)*pd.OH+oh)*pd.OW+ow)*pd.C
					loop.run(pd.C, func(pos, cnt, _ int) {
						acc, v := ivreg(a.IRegs, block, 0), ivreg(a.IRegs, block, 1)
						if isMax {
							for i := range acc {
								acc[i] = lowest
							}
						} else {
							clear(acc)
						}
						for id := w.d0; id < w.d1; id++ {
							for ih := w.h0; ih < w.h1; ih++ {
								for iw := w.w0; iw < w.w1; iw++ {
									loop.iload(load, a.Src, srcOffset(a, n, id, ih, iw)+pos, cnt, loop.inputBounds(), v)
									if isMax {
										for i := range cnt {
											acc[i] = max(acc[i], v[i])
										}
									} else {
										for i := range cnt {
											acc[i] += v[i]
										}
									}
								}
							}
						}
						if isMax {
							storeInt(acc[:cnt], a.Dst, dstOff+pos)
							return
						}
						r := vreg(a.Regs, block, 0)[:cnt]
						for i := range r {
							r[i] = float32(acc[i]) / div
						}
						store(r, a.Dst, dstOff+pos)
					})
				}
			}
		}
	} else {
		load, store := loaderFor(t.Src), storerFor(t.Dst, p.CodePath)
		lowest := float32(t.Src.LowestValue())
		k.bodies[PhaseMain] = func(a *Args) {
			for row := a.Start; row < a.Start+a.Count; row++ {
				n, od, oh := row/rowsPerImage, (row/pd.OH)%pd.OD, row%pd.OH
				for ow := range pd.OW {
					w := poolWindow(pd, od, oh, ow)
					div := float32(divisor(pd, w))
					dstOff := a.DstOff + (((n*pd.OD+od)*pd.OH+oh)*pd.OW+ow)*pd.C
					loop.run(pd.C, func(pos, cnt, u int) {
						acc, v := vreg(a.Regs, block, 1+2*u), vreg(a.Regs, block, 2+2*u)
						if isMax {
							for i := range acc {
								acc[i] = lowest
							}
						} else {
							clear(acc)
						}
						for id := w.d0; id < w.d1; id++ {
							for ih := w.h0; ih < w.h1; ih++ {
								for iw := w.w0; iw < w.w1; iw++ {
									loop.load(load, a.Src, srcOffset(a, n, id, ih, iw)+pos, cnt, loop.inputBounds(), v)
									if isMax {
										for i := range cnt {
											if v[i] > acc[i] {
												acc[i] = v[i]
											}
										}
									} else {
										for i := range cnt {
											acc[i] += v[i]
										}
									}
								}
							}
						}
						if !isMax {
							for i := range cnt {
								acc[i] /= div
							}
						}
						store(acc[:cnt], a.Dst, dstOff+pos)
					})
				}
			}
		}
	}
	acc := "f32"
	if t.Src.IsInt() {
		acc = dtypes.Int32.Short()
	}
	k.addListing("  ", fmt.Sprintf("pool %s %s acc=%s window=%dx%dx%d", pd.Alg, t.Src.Short(), acc, pd.KD, pd.KH, pd.KW))
	k.addListing("  ", loop.listing()...)
}
