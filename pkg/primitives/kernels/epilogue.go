// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"fmt"

	"github.com/gomlx/primitives/pkg/core/dtypes"
	"github.com/gomlx/primitives/pkg/primitives/plan"
)

// epilogue post-processes accumulators and stores them in the destination, in this order:
// bias, output scales, sum, eltwise, u8 clamp, conversion.
type epilogue struct {
	loop *blockLoop

	loadAcc, loadBias, loadDst Loader
	store                      Storer

	hasBias, broadcastBias bool
	// biasEnd is the number of bias elements a load may read after BiasOff: channels plus padding.
	biasEnd int
	scales                 []float32
	perChannelScales       bool
	sum                    bool
	sumScale               float32
	eltwise                func(float32) float32
	clampU8                bool

	// sumSlot is the auxiliary register (after the bias register, if any) used to load the previous
	// destination values.
	sumSlot int

	stages []string
}

// newEpilogue resolves the post-processing of the plan. With broadcastBias, one bias value is added to
// all elements (the convolution's channel bias) instead of one per element.
func newEpilogue(p *plan.Plan, loop *blockLoop, broadcastBias bool) *epilogue {
	t := p.Desc.Types
	e := &epilogue{
		loop:          loop,
		loadAcc:       loaderFor(p.Acc),
		store:         storerFor(t.Dst, p.CodePath),
		hasBias:       p.Fused.Bias,
		broadcastBias: broadcastBias,
		scales:        p.ScaleValues,
		sum:           p.Fused.Sum,
		sumScale:      p.Fused.SumScale,
		clampU8:       t.Dst == dtypes.Uint8,
	}
	e.stages = append(e.stages, fmt.Sprintf("acc(%s)", p.Acc.Short()))
	if e.hasBias {
		e.loadBias = loaderFor(t.Bias)
		e.biasEnd = p.Desc.InnerProduct.OC + p.Desc.Padding.Bias
		if broadcastBias {
			e.stages = append(e.stages, fmt.Sprintf("bias(%s,broadcast)", t.Bias.Short()))
		} else {
			e.stages = append(e.stages, fmt.Sprintf("bias(%s)", t.Bias.Short()))
			e.sumSlot = 1
		}
	}
	if len(e.scales) > 0 {
		e.perChannelScales = p.Desc.Scales.Mask == plan.PerOCMask
		if e.perChannelScales {
			e.stages = append(e.stages, "scale(per_oc)")
		} else {
			e.stages = append(e.stages, "scale(common)")
		}
	}
	if e.sum {
		e.loadDst = loaderFor(t.Dst)
		e.stages = append(e.stages, fmt.Sprintf("sum(%g)", e.sumScale))
	}
	if p.Fused.HasEltwise {
		e.eltwise = p.Fused.Eltwise.Func()
		e.stages = append(e.stages, p.Fused.Eltwise.String())
	}
	if e.clampU8 {
		e.stages = append(e.stages, "max0")
	}
	e.stages = append(e.stages, storeName(t.Dst, p.CodePath))
	return e
}

// apply post-processes n accumulators at accOff of a.Acc into a.Dst at dstOff.
//
// r is the vector register and aux the auxiliary registers of the unrolled vector. ch is the output
// channel of the first element (per element channels for per-channel bias and scales), biasValue the
// channel's bias when it's broadcast.
//
// accBounds and dstBounds are the elements of a.Acc and a.Dst owned by the worker: partial loads never
// read outside them.
func (e *epilogue) apply(a *Args, r, aux []float32, accOff, n, ch int, biasValue float32, dstOff int,
	accBounds, dstBounds bounds) {
	l := e.loop
	block := l.block
	l.load(e.loadAcc, a.Acc, accOff, n, accBounds, r)
	r = r[:n]
	if e.hasBias {
		if e.broadcastBias {
			for i := range r {
				r[i] += biasValue
			}
		} else {
			b := aux[:block]
			l.load(e.loadBias, a.Bias, a.BiasOff+ch, n, bounds{0, a.BiasOff + e.biasEnd}, b)
			for i := range r {
				r[i] += b[i]
			}
		}
	}
	if len(e.scales) > 0 {
		if e.perChannelScales {
			s := e.scales[ch : ch+n]
			for i := range r {
				r[i] *= s[i]
			}
		} else {
			s := e.scales[0]
			for i := range r {
				r[i] *= s
			}
		}
	}
	if e.sum {
		prev := aux[e.sumSlot*block : (e.sumSlot+1)*block]
		l.load(e.loadDst, a.Dst, dstOff, n, dstBounds, prev)
		for i := range r {
			r[i] = r[i] + float32(prev[i]*e.sumScale)
		}
	}
	if e.eltwise != nil {
		for i := range r {
			r[i] = e.eltwise(r[i])
		}
	}
	if e.clampU8 {
		for i := range r {
			if r[i] < 0 {
				r[i] = 0
			}
		}
	}
	e.store(r, a.Dst, dstOff)
}
