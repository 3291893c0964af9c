// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/gomlx/primitives/pkg/core/dtypes"
	"github.com/gomlx/primitives/pkg/core/dtypes/bfloat16"
	"github.com/gomlx/primitives/pkg/primitives/convert"
	"github.com/gomlx/primitives/pkg/primitives/isa"
	"github.com/gomlx/primitives/pkg/primitives/plan"
	"github.com/gomlx/primitives/pkg/primitives/postops"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	f32  = dtypes.Float32
	bf16 = dtypes.BFloat16
	s8   = dtypes.Int8
	u8   = dtypes.Uint8
	s32  = dtypes.Int32
)

func randomFloats(rng *rand.Rand, n, padding int) []float32 {
	values := make([]float32, n+padding)
	for i := range n {
		values[i] = float32(rng.NormFloat64())
	}
	return values
}

func randomInts[T int8 | uint8](rng *rand.Rand, n, padding int) []T {
	lowest, highest := convert.Limits[T]()
	values := make([]T, n+padding)
	for i := range n {
		values[i] = T(int(lowest) + rng.IntN(int(highest-lowest)+1))
	}
	return values
}

// newArgs returns Args with the register files of one worker.
func newArgs(p *plan.Plan) *Args {
	numRegs := p.Caps.NumVRegs * p.BlockElems
	return &Args{Regs: make([]float32, numRegs), IRegs: make([]int32, numRegs)}
}

// referenceEpilogue applies the post-processing to one accumulator, in the same order and with the same
// float32 roundings as the kernel.
func referenceEpilogue(acc float32, bias float32, hasBias bool, scale float32, hasScale bool, prev float32,
	f postops.Fused, clampU8 bool) float32 {
	r := acc
	if hasBias {
		r += bias
	}
	if hasScale {
		r *= scale
	}
	if f.Sum {
		r = r + float32(prev*f.SumScale)
	}
	if f.HasEltwise {
		r = f.Eltwise.Func()(r)
	}
	if clampU8 && r < 0 {
		r = 0
	}
	return r
}

func TestInnerProductFloat32(t *testing.T) {
	const mb, ic, oc = 3, 7, 37
	chains := []postops.Chain{
		{},
		postops.MustChain(postops.Bias{}),
		postops.MustChain(postops.Sum{Scale: 0.5}),
		postops.MustChain(postops.Eltwise{Alg: postops.Relu}),
		postops.MustChain(postops.Bias{}, postops.Sum{Scale: 2}),
		postops.MustChain(postops.Bias{}, postops.Eltwise{Alg: postops.Tanh}),
		postops.MustChain(postops.Sum{Scale: 1}, postops.Eltwise{Alg: postops.Clip, Alpha: -0.5, Beta: 0.5}),
		postops.MustChain(postops.Bias{}, postops.Sum{Scale: 0.25}, postops.Eltwise{Alg: postops.Elu, Alpha: 1}),
	}
	levels := []isa.Level{isa.SSE41, isa.AVX2, isa.AVX512Core, isa.NEON}
	rng := rand.New(rand.NewPCG(1, 2))
	src, wei := randomFloats(rng, mb*ic, 0), randomFloats(rng, oc*ic, 0)
	const padding = 16
	bias, prev := randomFloats(rng, oc, padding), randomFloats(rng, mb*oc, padding)
	scales := randomFloats(rng, oc, 0)

	for _, chain := range chains {
		for _, perOC := range []bool{false, true} {
			desc := plan.Desc{
				Kind:         plan.InnerProduct,
				Types:        plan.Types{Src: f32, Weights: f32, Bias: f32, Dst: f32},
				InnerProduct: plan.InnerProductDims{MB: mb, IC: ic, OC: oc},
				PostOps:      chain,
				Threads:      1,
				Scales:       plan.Scales{Mask: 0, Values: scales[:1]},
			}
			if perOC {
				desc.Scales = plan.Scales{Mask: plan.PerOCMask, Values: scales}
			}
			f := must.M1(chain.Resolve())
			want := make([]float32, mb*oc)
			for m := range mb {
				for o := range oc {
					var acc float32
					for i := range ic {
						acc += float32(src[m*ic+i] * wei[o*ic+i])
					}
					scale := scales[0]
					if perOC {
						scale = scales[o]
					}
					want[m*oc+o] = referenceEpilogue(acc, bias[o], f.Bias, scale, true, prev[m*oc+o], f, false)
				}
			}

			for _, level := range levels {
				// The minimal padding for masked tail loads is one block minus the tail.
				desc.Padding = plan.Padding{}
				p0 := must.M1(plan.Build(desc, isa.ForLevel(level)))
				minPadding := p0.BlockElems - p0.TailElems
				for _, pad := range []int{0, minPadding, padding} {
					desc.Padding = plan.Padding{Bias: pad, Dst: pad}
					p := must.M1(plan.Build(desc, isa.ForLevel(level)))
					if pad == 0 && p.TailElems > 0 && (f.Bias || f.Sum) {
						require.False(t, p.TailSafe, "%s/%s", chain, level)
					}
					k := must.M1(Generate(p))

					// Calls over split ranges: the middle of a row, and ranges starting and ending within
					// a tail of the end of a row.
					for _, cuts := range [][]int{{50}, {oc - 2, oc + 1, 2*oc - 1}, {oc - 1, 2*oc - 3}} {
						name := fmt.Sprintf("%s/perOC=%v/%s/padding=%d/cuts=%v", chain, perOC, level, pad, cuts)
						dst := make([]float32, mb*oc+pad)
						copy(dst, prev)
						acc := make([]float32, mb*oc+p.BlockElems)
						edges := append(append([]int{0}, cuts...), mb*oc)
						for ii := range len(edges) - 1 {
							a := newArgs(p)
							a.Src, a.Weights, a.Bias, a.Dst, a.Acc = src, wei, bias[:oc+pad], dst, acc
							a.Start, a.Count = edges[ii], edges[ii+1]-edges[ii]
							require.NotPanics(t, func() { k.Call(a) }, name)
						}
						require.Equal(t, want, dst[:mb*oc], name)
					}
				}
			}
		}
	}
}

func TestInnerProductQuantized(t *testing.T) {
	const mb, ic, oc = 4, 19, 37
	rng := rand.New(rand.NewPCG(3, 4))
	src, wei := randomInts[uint8](rng, mb*ic, 0), randomInts[int8](rng, oc*ic, 0)
	bias := randomFloats(rng, oc, 0)
	scales := make([]float32, oc)
	for i := range scales {
		scales[i] = 1.0 / float32(64+i)
	}
	chain := postops.MustChain(postops.Bias{}, postops.Eltwise{Alg: postops.Relu, Alpha: 0.1})
	f := must.M1(chain.Resolve())

	for _, dstType := range []dtypes.DType{f32, s8, u8, s32, bf16} {
		desc := plan.Desc{
			Kind:         plan.InnerProduct,
			Types:        plan.Types{Src: u8, Weights: s8, Bias: f32, Dst: dstType},
			InnerProduct: plan.InnerProductDims{MB: mb, IC: ic, OC: oc},
			PostOps:      chain,
			Scales:       plan.Scales{Mask: plan.PerOCMask, Values: scales},
			Threads:      1,
		}
		p := must.M1(plan.Build(desc, isa.ForLevel(isa.AVX512Core)))
		require.Equal(t, s32, p.Acc)
		k := must.M1(Generate(p))
		dst := dstType.MakeFlat(mb * oc)
		a := newArgs(p)
		a.Src, a.Weights, a.Bias, a.Dst = src, wei, bias, dst
		a.Acc = make([]int32, mb*oc+p.BlockElems)
		a.Start, a.Count = 0, mb*oc
		k.Call(a)

		want := make([]float32, mb*oc)
		for m := range mb {
			for o := range oc {
				var acc int32
				for i := range ic {
					acc += int32(src[m*ic+i]) * int32(wei[o*ic+i])
				}
				want[m*oc+o] = referenceEpilogue(float32(acc), bias[o], true, scales[o], true, 0, f, dstType == u8)
			}
		}
		expected := dstType.MakeFlat(mb * oc)
		storerFor(dstType, p.CodePath)(want, expected, 0)
		assert.Equal(t, expected, dst, "dst=%s", dstType)
	}
}

func TestInnerProductBFloat16Paths(t *testing.T) {
	const mb, ic, oc = 2, 33, 21
	rng := rand.New(rand.NewPCG(5, 6))
	toBF16 := func(values []float32) []bfloat16.BFloat16 {
		out := make([]bfloat16.BFloat16, len(values))
		convert.ConvertDown(out, values)
		return out
	}
	src, wei := toBF16(randomFloats(rng, mb*ic, 0)), toBF16(randomFloats(rng, oc*ic, 0))
	bias := toBF16(randomFloats(rng, oc, 0))
	desc := plan.Desc{
		Kind:         plan.InnerProduct,
		Types:        plan.Types{Src: bf16, Weights: bf16, Bias: bf16, Dst: bf16},
		InnerProduct: plan.InnerProductDims{MB: mb, IC: ic, OC: oc},
		PostOps:      postops.MustChain(postops.Bias{}, postops.Eltwise{Alg: postops.Gelu}),
		Threads:      1,
	}
	run := func(level isa.Level) ([]bfloat16.BFloat16, *Kernel) {
		p := must.M1(plan.Build(desc, isa.ForLevel(level)))
		k := must.M1(Generate(p))
		dst := make([]bfloat16.BFloat16, mb*oc)
		a := newArgs(p)
		a.Src, a.Weights, a.Bias, a.Dst = src, wei, bias, dst
		a.Acc = make([]float32, mb*oc+p.BlockElems)
		a.Start, a.Count = 0, mb*oc
		k.Call(a)
		return dst, k
	}
	native, kNative := run(isa.AVX512CoreBF16)
	emulated, kEmulated := run(isa.AVX512Core)
	assert.Equal(t, native, emulated)
	assert.Contains(t, kEmulated.Listing(), "store(bf16,emulated)")
	assert.NotContains(t, kNative.Listing(), "emulated")
}

func TestInnerProductListing(t *testing.T) {
	desc := plan.Desc{
		Kind:         plan.InnerProduct,
		Types:        plan.Types{Src: u8, Weights: s8, Bias: f32, Dst: f32},
		InnerProduct: plan.InnerProductDims{MB: 16, IC: 8, OC: 37},
		PostOps:      postops.MustChain(postops.Bias{}),
		Scales:       plan.Scales{Values: []float32{0.5}},
		Padding:      plan.Padding{Bias: 16},
		Threads:      4,
	}
	k := must.M1(Generate(must.M1(plan.Build(desc, isa.ForLevel(isa.AVX512Core)))))
	listing := k.Listing()
	assert.Contains(t, listing, "pp: acc(s32) -> bias(f32) -> scale(common) -> store(f32)")
	assert.Contains(t, listing, "tail 5 elems masked [0x1f]")
	// The unroll (13) is covered by O(log unroll) blocks: x8, x4, x2, x1.
	assert.Equal(t, 3, strings.Count(listing, "block x"))
	assert.Contains(t, listing, "loop x8")
}

func TestConvForward(t *testing.T) {
	c := plan.ConvDims{MB: 2, Groups: 2, IC: 3, OC: 5, IH: 6, IW: 7, OH: 3, OW: 4, KH: 3, KW: 2,
		StrideH: 2, StrideW: 2, PadH: 1, PadW: 1}
	rng := rand.New(rand.NewPCG(7, 8))
	src := randomFloats(rng, c.MB*c.Groups*c.IC*c.IH*c.IW, 0)
	wei := randomFloats(rng, c.Groups*c.OC*c.IC*c.KH*c.KW, 0)
	bias := randomFloats(rng, c.Groups*c.OC, 0)
	prev := randomFloats(rng, c.MB*c.Groups*c.OC*c.OH*c.OW, 0)
	chain := postops.MustChain(postops.Bias{}, postops.Sum{Scale: 0.5}, postops.Eltwise{Alg: postops.Relu})
	f := must.M1(chain.Resolve())

	spatial := c.OH * c.OW
	want := make([]float32, len(prev))
	for n := range c.MB {
		for g := range c.Groups {
			for oc := range c.OC {
				ch := g*c.OC + oc
				for oh := range c.OH {
					for ow := range c.OW {
						var acc float32
						for ic := range c.IC {
							for kh := range c.KH {
								for kw := range c.KW {
									ih, iw := oh*c.StrideH-c.PadH+kh, ow*c.StrideW-c.PadW+kw
									if ih < 0 || ih >= c.IH || iw < 0 || iw >= c.IW {
										continue
									}
									x := src[((n*c.Groups*c.IC+g*c.IC+ic)*c.IH+ih)*c.IW+iw]
									w := wei[((ch*c.IC+ic)*c.KH+kh)*c.KW+kw]
									acc += float32(x * w)
								}
							}
						}
						idx := (n*c.Groups*c.OC+ch)*spatial + oh*c.OW + ow
						want[idx] = referenceEpilogue(acc, bias[ch], true, 1, false, prev[idx], f, false)
					}
				}
			}
		}
	}

	desc := plan.Desc{
		Kind:    plan.ConvolutionForward,
		Types:   plan.Types{Src: f32, Weights: f32, Bias: f32, Dst: f32},
		Conv:    c,
		PostOps: chain,
		Threads: 1,
	}
	for _, level := range []isa.Level{isa.AVX2, isa.AVX512Core} {
		p := must.M1(plan.Build(desc, isa.ForLevel(level)))
		k := must.M1(Generate(p))
		dst := append([]float32(nil), prev...)
		a := newArgs(p)
		a.Src, a.Weights, a.Bias, a.Dst = src, wei, bias, dst
		a.Acc = make([]float32, p.AccPlaneStride())
		a.Start, a.Count = 0, c.MB*c.Groups
		a.Start2, a.Count2 = 0, c.OC
		k.Call(a)
		require.Equal(t, want, dst, level.String())
	}
}

func TestConvBackwardWeights(t *testing.T) {
	c := plan.ConvDims{MB: 3, Groups: 1, IC: 2, OC: 3, IH: 5, IW: 9, OH: 5, OW: 9, KH: 3, KW: 3,
		PadH: 1, PadW: 1}
	rng := rand.New(rand.NewPCG(9, 10))
	src := randomFloats(rng, c.MB*c.IC*c.IH*c.IW, 0)
	diffDst := randomFloats(rng, c.MB*c.OC*c.OH*c.OW, 0)

	desc := plan.Desc{
		Kind:    plan.ConvolutionBackwardWeights,
		Types:   plan.Types{Src: f32, Weights: f32, Bias: f32, Dst: f32},
		Conv:    c,
		Threads: 1,
	}
	p := must.M1(plan.Build(desc, isa.ForLevel(isa.AVX2)))
	require.False(t, p.NeedsThreadReduction)
	k := must.M1(Generate(p))
	require.True(t, k.HasPhase(PhaseBiasGradient))

	diffWeights := make([]float32, c.OC*c.IC*c.KH*c.KW)
	diffBias := make([]float32, c.OC)
	a := newArgs(p)
	a.Src, a.Dst, a.Weights, a.Bias = src, diffDst, diffWeights, diffBias
	a.Grid = p.BwdGrid
	a.Groups.Count, a.MBs.Count = 1, c.MB
	k.Call(a)
	a.Phase = PhaseBiasGradient
	a.Start, a.Count = 0, c.OC
	k.Call(a)

	for oc := range c.OC {
		var wantBias float64
		for n := range c.MB {
			for i := range c.OH * c.OW {
				wantBias += float64(diffDst[(n*c.OC+oc)*c.OH*c.OW+i])
			}
		}
		assert.InDelta(t, wantBias, diffBias[oc], 1e-3)
		for ic := range c.IC {
			for kh := range c.KH {
				for kw := range c.KW {
					var want float64
					for n := range c.MB {
						for oh := range c.OH {
							for ow := range c.OW {
								ih, iw := oh-c.PadH+kh, ow-c.PadW+kw
								if ih < 0 || ih >= c.IH || iw < 0 || iw >= c.IW {
									continue
								}
								want += float64(diffDst[((n*c.OC+oc)*c.OH+oh)*c.OW+ow]) *
									float64(src[((n*c.IC+ic)*c.IH+ih)*c.IW+iw])
							}
						}
					}
					got := diffWeights[((oc*c.IC+ic)*c.KH+kh)*c.KW+kw]
					assert.InDelta(t, want, got, 1e-3)
				}
			}
		}
	}
}

func TestPooling(t *testing.T) {
	pd := plan.PoolDims{MB: 2, C: 70, IH: 5, IW: 5, OH: 3, OW: 3, KH: 3, KW: 3, StrideH: 2, StrideW: 2,
		PadH: 1, PadW: 1}
	rng := rand.New(rand.NewPCG(11, 12))
	srcF := randomFloats(rng, pd.MB*pd.IH*pd.IW*pd.C, 0)
	srcU8 := randomInts[uint8](rng, pd.MB*pd.IH*pd.IW*pd.C, 0)

	for _, alg := range []plan.PoolAlg{plan.PoolMax, plan.PoolAvgIncludePadding, plan.PoolAvgExcludePadding} {
		pd.Alg = alg
		wantF := make([]float32, pd.MB*pd.OH*pd.OW*pd.C)
		wantU8 := make([]uint8, len(wantF))
		for n := range pd.MB {
			for oh := range pd.OH {
				for ow := range pd.OW {
					for ch := range pd.C {
						maxF, sumF := float32(math.Inf(-1)), float32(0)
						maxI, sumI := int32(0), int32(0)
						count := 0
						for kh := range pd.KH {
							for kw := range pd.KW {
								ih, iw := oh*2-1+kh, ow*2-1+kw
								if ih < 0 || ih >= pd.IH || iw < 0 || iw >= pd.IW {
									continue
								}
								idx := ((n*pd.IH+ih)*pd.IW+iw)*pd.C + ch
								maxF, sumF = max(maxF, srcF[idx]), sumF+srcF[idx]
								maxI, sumI = max(maxI, int32(srcU8[idx])), sumI+int32(srcU8[idx])
								count++
							}
						}
						div := float32(count)
						if alg == plan.PoolAvgIncludePadding {
							div = float32(pd.KH * pd.KW)
						}
						out := ((n*pd.OH+oh)*pd.OW+ow)*pd.C + ch
						switch alg {
						case plan.PoolMax:
							wantF[out], wantU8[out] = maxF, uint8(maxI)
						default:
							wantF[out] = sumF / div
							wantU8[out] = convert.Saturate[uint8](float32(sumI) / div)
						}
					}
				}
			}
		}

		for _, tc := range []struct {
			dtype dtypes.DType
			src   any
			want  any
		}{{f32, srcF, wantF}, {u8, srcU8, wantU8}} {
			desc := plan.Desc{Kind: plan.Pooling, Types: plan.Types{Src: tc.dtype, Dst: tc.dtype}, Pool: pd, Threads: 1}
			p := must.M1(plan.Build(desc, isa.ForLevel(isa.AVX512Core)))
			k := must.M1(Generate(p))
			dst := tc.dtype.MakeFlat(len(wantF))
			a := newArgs(p)
			a.Src, a.Dst = tc.src, dst
			a.Start, a.Count = 0, pd.MB*pd.OH
			k.Call(a)
			assert.Equal(t, tc.want, dst, "%s %s", alg, tc.dtype)
		}
	}
}

func TestBatchNorm(t *testing.T) {
	bn := plan.BNormDims{MB: 2, C: 21, H: 2, W: 3, Epsilon: 1e-3, UseScaleShift: true, FuseRelu: true}
	rng := rand.New(rand.NewPCG(13, 14))
	positions := bn.MB * bn.H * bn.W
	src := randomFloats(rng, positions*bn.C, 0)
	mean := randomFloats(rng, bn.C, 0)
	variance := make([]float32, bn.C)
	for i := range variance {
		variance[i] = 0.5 + rng.Float32()
	}
	scaleShift := randomFloats(rng, 2*bn.C, 0)

	want := make([]float32, len(src))
	for pos := range positions {
		for ch := range bn.C {
			x := src[pos*bn.C+ch]
			r := (x - mean[ch]) * (1 / float32(math.Sqrt(float64(variance[ch]+bn.Epsilon))))
			r = float32(r*scaleShift[ch]) + scaleShift[bn.C+ch]
			want[pos*bn.C+ch] = max(r, 0)
		}
	}
	desc := plan.Desc{Kind: plan.BatchNormalization, Types: plan.Types{Src: f32, Dst: f32}, BNorm: bn, Threads: 1}
	p := must.M1(plan.Build(desc, isa.ForLevel(isa.AVX2)))
	require.False(t, p.TailSafe)
	k := must.M1(Generate(p))
	dst := make([]float32, len(src))
	a := newArgs(p)
	a.Src, a.Dst, a.Mean, a.Variance, a.ScaleShift = src, dst, mean, variance, scaleShift
	a.Start, a.Count = 0, positions
	k.Call(a)
	assert.Equal(t, want, dst)

	// Padded src makes tail loads of src masked, while the unpadded statistics stay guarded.
	desc.Padding.Src = p.BlockElems - p.TailElems
	p = must.M1(plan.Build(desc, isa.ForLevel(isa.AVX2)))
	require.True(t, p.TailSafe)
	k = must.M1(Generate(p))
	paddedSrc := make([]float32, len(src)+desc.Padding.Src)
	copy(paddedSrc, src)
	dst = make([]float32, len(src))
	a = newArgs(p)
	a.Src, a.Dst, a.Mean, a.Variance, a.ScaleShift = paddedSrc, dst, mean, variance, scaleShift
	a.Start, a.Count = 0, positions
	require.NotPanics(t, func() { k.Call(a) })
	assert.Equal(t, want, dst)
}

func TestReorder(t *testing.T) {
	t.Run("transpose with scales", func(t *testing.T) {
		// Logical [3, 5] read from a column-major source, written as int8 with per-row scales.
		src := make([]float32, 15)
		for i := range src {
			src[i] = float32(i) * 3.3
		}
		scales := []float32{0.5, 1, 2}
		desc := plan.Desc{
			Kind:    plan.Reorder,
			Types:   plan.Types{Src: f32, Dst: s8},
			Reorder: plan.ReorderDims{Dims: []int{3, 5}, SrcStrides: []int{1, 3}},
			Scales:  plan.Scales{Mask: 1, Values: scales},
			Threads: 1,
		}
		p := must.M1(plan.Build(desc, isa.ForLevel(isa.AVX2)))
		require.False(t, p.ReorderVectorized)
		k := must.M1(Generate(p))
		dst := make([]int8, 15)
		a := newArgs(p)
		a.Src, a.Dst = src, dst
		a.Start, a.Count = 0, 15
		k.Call(a)
		for i := range 3 {
			for j := range 5 {
				assert.Equal(t, convert.Saturate[int8](src[j*3+i]*scales[i]), dst[i*5+j])
			}
		}
	})

	t.Run("vectorized rows", func(t *testing.T) {
		rng := rand.New(rand.NewPCG(15, 16))
		src := randomFloats(rng, 4*19, 0)
		desc := plan.Desc{
			Kind:    plan.Reorder,
			Types:   plan.Types{Src: f32, Dst: bf16},
			Reorder: plan.ReorderDims{Dims: []int{4, 19}},
			Threads: 1,
		}
		p := must.M1(plan.Build(desc, isa.ForLevel(isa.AVX512Core)))
		require.True(t, p.ReorderVectorized)
		k := must.M1(Generate(p))
		dst := make([]bfloat16.BFloat16, len(src))
		a := newArgs(p)
		a.Src, a.Dst = src, dst
		a.Start, a.Count = 1, 3
		k.Call(a)
		a.Start, a.Count = 0, 1
		k.Call(a)
		for i, v := range src {
			assert.Equal(t, bfloat16.FromFloat32(v), dst[i])
		}
	})

	t.Run("direct copy is exact", func(t *testing.T) {
		src := []int32{math.MaxInt32, math.MinInt32, 16777217, -1}
		desc := plan.Desc{
			Kind:    plan.Reorder,
			Types:   plan.Types{Src: s32, Dst: s32},
			Reorder: plan.ReorderDims{Dims: []int{2, 2}, SrcStrides: []int{1, 2}},
			Threads: 1,
		}
		p := must.M1(plan.Build(desc, isa.ForLevel(isa.SSE41)))
		k := must.M1(Generate(p))
		dst := make([]int32, 4)
		a := newArgs(p)
		a.Src, a.Dst = src, dst
		a.Start, a.Count = 0, 4
		k.Call(a)
		assert.Equal(t, []int32{math.MaxInt32, 16777217, math.MinInt32, -1}, dst)
	})
}

func TestGenerateErrors(t *testing.T) {
	_, err := Generate(nil)
	require.Error(t, err)

	p := must.M1(plan.Build(plan.Desc{
		Kind:    plan.Reorder,
		Types:   plan.Types{Src: f32, Dst: f32},
		Reorder: plan.ReorderDims{Dims: []int{8}},
		Threads: 1,
	}, isa.ForLevel(isa.AVX2)))
	k := must.M1(Generate(p))
	require.False(t, k.HasPhase(PhaseBiasGradient))
	require.Panics(t, func() { k.Call(&Args{Phase: PhaseBiasGradient}) })
}
