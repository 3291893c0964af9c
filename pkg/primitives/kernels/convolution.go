// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/primitives/pkg/core/dtypes"
	"github.com/gomlx/primitives/pkg/core/dtypes/bfloat16"
	"github.com/gomlx/primitives/pkg/primitives/plan"
)

// planeFunc computes the output plane of image n, group g and output channel oc (within the group).
type planeFunc func(a *Args, n, g, oc int, acc []float32)

// generateConvForward: each worker takes a range of (image, group) rows and of output channels, computes
// one output plane at a time into its accumulator plane, and post-processes it vectorized over the
// output spatial positions.
func (k *Kernel) generateConvForward() {
	p := k.plan
	c := p.Desc.Conv
	loop := newBlockLoop(p)
	ep := newEpilogue(p, &loop, true)

	var plane planeFunc
	switch p.Desc.Types.Src {
	case dtypes.Float32:
		plane = convPlane(c, func(x float32) float32 { return x })
	case dtypes.BFloat16:
		plane = convPlane(c, bfloat16.BFloat16.Float32)
	default:
		exceptions.Panicf("ConvolutionForward: unsupported src dtype %s", p.Desc.Types.Src)
	}
	var loadBias Loader
	if p.Fused.Bias {
		loadBias = loaderFor(p.Desc.Types.Bias)
	}

	// Register 0 holds the broadcast bias, register 1 the sum scale.
	reserved := boolToInt(p.Fused.Bias) + boolToInt(p.Fused.Sum)
	perIter := 1 + boolToInt(p.Fused.Sum)
	block := p.BlockElems
	spatial := p.OutputSpatial
	lastPlane := c.MB*c.Groups*c.OC - 1
	accBounds := bounds{0, p.AccPlaneStride()}

	k.bodies[PhaseMain] = func(a *Args) {
		acc := a.Acc.([]float32)[:spatial]
		for row := a.Start; row < a.Start+a.Count; row++ {
			n, g := row/c.Groups, row%c.Groups
			for oc := a.Start2; oc < a.Start2+a.Count2; oc++ {
				plane(a, n, g, oc, acc)
				ch := g*c.OC + oc
				var biasValue float32
				if loadBias != nil {
					b := vreg(a.Regs, block, 0)
					loadBias(a.Bias, a.BiasOff+ch, b[:1])
					biasValue = b[0]
				}
				dstPlane := n*c.Groups*c.OC + ch
				dstBase := a.DstOff + dstPlane*spatial
				dstBounds := bounds{dstBase, dstBase + spatial}
				if dstPlane == lastPlane {
					dstBounds.hi += p.Desc.Padding.Dst
				}
				loop.run(spatial, func(pos, cnt, u int) {
					base := reserved + u*perIter
					r := vreg(a.Regs, block, base)
					aux := a.Regs[(base+1)*block : (base+perIter)*block]
					ep.apply(a, r, aux, pos, cnt, ch, biasValue, dstBase+pos, accBounds, dstBounds)
				})
			}
		}
	}
	k.addListing("  ", "direct "+p.Desc.Types.Src.Short()+"x"+p.Desc.Types.Weights.Short()+"->f32 plane")
	k.addListing("  ", "pp: "+strings.Join(ep.stages, " -> "))
	k.addListing("  ", loop.listing()...)
}

// convPlane accumulates, for each output position, the products over (ic, kd, kh, kw) in that order.
// Input positions in the padding contribute nothing.
func convPlane[T float32 | bfloat16.BFloat16](c plan.ConvDims, widen func(T) float32) planeFunc {
	inSpatial := c.ID * c.IH * c.IW
	kernelSize := c.KD * c.KH * c.KW
	return func(a *Args, n, g, oc int, acc []float32) {
		src, wei := a.Src.([]T), a.Weights.([]T)
		clear(acc)
		for ic := range c.IC {
			srcBase := a.SrcOff + (n*c.Groups*c.IC+g*c.IC+ic)*inSpatial
			wBase := a.WeightsOff + ((g*c.OC+oc)*c.IC+ic)*kernelSize
			for kd := range c.KD {
				for kh := range c.KH {
					for kw := range c.KW {
						w := widen(wei[wBase+(kd*c.KH+kh)*c.KW+kw])
						for od := range c.OD {
							id := od*c.StrideD - c.PadD + kd
							if id < 0 || id >= c.ID {
								continue
							}
							for oh := range c.OH {
								ih := oh*c.StrideH - c.PadH + kh
								if ih < 0 || ih >= c.IH {
									continue
								}
								srcRow := src[srcBase+(id*c.IH+ih)*c.IW : srcBase+(id*c.IH+ih+1)*c.IW]
								out := acc[(od*c.OH+oh)*c.OW : (od*c.OH+oh+1)*c.OW]
								for ow := range out {
									iw := ow*c.StrideW - c.PadW + kw
									if iw < 0 || iw >= c.IW {
										continue
									}
									out[ow] += float32(widen(srcRow[iw]) * w)
								}
							}
						}
					}
				}
			}
		}
	}
}

// generateConvBackwardWeights: PhaseMain computes, for the worker's groups, the partial weights gradient
// over its mini-batch range, vectorized over the output width. It's written to the worker's slot of the
// ReductionBuffer, or directly to the weights gradient when no reduction is needed.
// PhaseBiasGradient reduces diff_dst over the mini-batch and spatial positions, one channel at a time.
func (k *Kernel) generateConvBackwardWeights() {
	p := k.plan
	c := p.Desc.Conv
	t := p.Desc.Types
	loop := newBlockLoop(p)
	loadSrc, loadDiffDst := loaderFor(t.Src), loaderFor(t.Dst)
	block := p.BlockElems
	inSpatial := c.ID * c.IH * c.IW
	outSpatial := p.OutputSpatial
	groupSize := p.WeightsGroupSize

	// weightGradient returns the gradient of one weight over images [mb0, mb1).
	weightGradient := func(a *Args, g, oc, ic, kd, kh, kw, mb0, mb1 int) float32 {
		acc, dd, sv := vreg(a.Regs, block, 0), vreg(a.Regs, block, 1), vreg(a.Regs, block, 2)
		clear(acc)
		for n := mb0; n < mb1; n++ {
			ddBase := a.DstOff + (n*c.Groups*c.OC+g*c.OC+oc)*outSpatial
			srcBase := a.SrcOff + (n*c.Groups*c.IC+g*c.IC+ic)*inSpatial
			for od := range c.OD {
				id := od*c.StrideD - c.PadD + kd
				if id < 0 || id >= c.ID {
					continue
				}
				for oh := range c.OH {
					ih := oh*c.StrideH - c.PadH + kh
					if ih < 0 || ih >= c.IH {
						continue
					}
					ddRow := ddBase + (od*c.OH+oh)*c.OW
					srcRow := srcBase + (id*c.IH+ih)*c.IW
					loop.run(c.OW, func(pos, cnt, _ int) {
						loop.load(loadDiffDst, a.Dst, ddRow+pos, cnt, loop.inputBounds(), dd)
						iw0 := pos*c.StrideW - c.PadW + kw
						if c.StrideW == 1 && iw0 >= 0 && iw0+cnt <= c.IW {
							loop.load(loadSrc, a.Src, srcRow+iw0, cnt, loop.inputBounds(), sv)
						} else {
							for i := range block {
								iw := (pos+i)*c.StrideW - c.PadW + kw
								if i < cnt && iw >= 0 && iw < c.IW {
									loadSrc(a.Src, srcRow+iw, sv[i:i+1])
								} else {
									sv[i] = 0
								}
							}
						}
						for i := range cnt {
							acc[i] += float32(dd[i] * sv[i])
						}
					})
				}
			}
		}
		var sum float32
		for _, v := range acc {
			sum += v
		}
		return sum
	}

	k.bodies[PhaseMain] = func(a *Args) {
		if a.Grid.IsIdle() || a.Groups.IsEmpty() {
			return
		}
		for g := a.Groups.Start; g < a.Groups.End(); g++ {
			var target []float32
			if a.Reduction != nil {
				slot := a.Grid.MBWorker*c.Groups + g
				target = a.Reduction[slot*groupSize : (slot+1)*groupSize]
			} else {
				target = a.Weights.([]float32)[a.WeightsOff+g*groupSize : a.WeightsOff+(g+1)*groupSize]
			}
			for oc := range c.OC {
				for ic := range c.IC {
					for kd := range c.KD {
						for kh := range c.KH {
							for kw := range c.KW {
								w := ((oc*c.IC+ic)*c.KD+kd)*c.KH*c.KW + kh*c.KW + kw
								target[w] = weightGradient(a, g, oc, ic, kd, kh, kw, a.MBs.Start, a.MBs.End())
							}
						}
					}
				}
			}
		}
	}
	k.addListing("  ", "weights gradient "+t.Src.Short()+"x"+t.Dst.Short()+"->f32, vectorized over ow")
	k.addListing("    ", loop.listing()...)

	if t.Bias == dtypes.InvalidDType {
		return
	}
	storeBias := storerFor(t.Bias, p.CodePath)
	k.bodies[PhaseBiasGradient] = func(a *Args) {
		acc, dd := vreg(a.Regs, block, 0), vreg(a.Regs, block, 1)
		for ch := a.Start; ch < a.Start+a.Count; ch++ {
			clear(acc)
			for n := range c.MB {
				base := a.DstOff + (n*c.Groups*c.OC+ch)*outSpatial
				loop.run(outSpatial, func(pos, cnt, _ int) {
					loop.load(loadDiffDst, a.Dst, base+pos, cnt, bounds{}, dd)
					for i := range cnt {
						acc[i] += dd[i]
					}
				})
			}
			var sum float32
			for _, v := range acc {
				sum += v
			}
			acc[0] = sum
			storeBias(acc[:1], a.Bias, a.BiasOff+ch)
		}
	}
	k.addListing("  ", "bias gradient "+t.Dst.Short()+"->"+t.Bias.Short()+", "+storeName(t.Bias, p.CodePath))
}
