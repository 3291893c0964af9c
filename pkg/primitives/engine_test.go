// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package primitives

import (
	"context"
	"flag"
	"math/rand/v2"
	"os"
	"sync"
	"testing"

	"github.com/gomlx/primitives/pkg/core/dtypes"
	"github.com/gomlx/primitives/pkg/core/tensors"
	"github.com/gomlx/primitives/pkg/primitives/driver"
	"github.com/gomlx/primitives/pkg/primitives/isa"
	"github.com/gomlx/primitives/pkg/primitives/plan"
	"github.com/gomlx/primitives/pkg/primitives/postops"
	"github.com/gomlx/primitives/pkg/primitives/status"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func TestMain(m *testing.M) {
	klog.InitFlags(nil)
	flag.Parse()
	os.Exit(m.Run())
}

// testEngine returns an engine generating AVX512 kernels, independent of the CPU running the tests.
func testEngine(t *testing.T, config string) *Engine {
	c, err := ParseConfig(config)
	require.NoError(t, err)
	return newEngine(c, isa.ForLevel(isa.AVX512Core))
}

func TestParseConfig(t *testing.T) {
	c := must.M1(ParseConfig(""))
	assert.Positive(t, c.Threads)
	assert.Nil(t, c.ISA)
	assert.Equal(t, driver.ReductionAuto, c.Reduction)
	assert.Equal(t, uint64(0), c.MaxScratch)
	assert.Equal(t, DefaultCacheSize, c.CacheSize)

	c = must.M1(ParseConfig("threads=8, isa=avx2,reduction=twopass,max_scratch=64MiB,cache=16"))
	assert.Equal(t, 8, c.Threads)
	require.NotNil(t, c.ISA)
	assert.Equal(t, isa.AVX2, *c.ISA)
	assert.Equal(t, driver.ReductionTwoPass, c.Reduction)
	assert.Equal(t, uint64(64<<20), c.MaxScratch)
	assert.Equal(t, 16, c.CacheSize)
	assert.Equal(t, "threads=8,isa=avx2,reduction=twopass,max_scratch=64 MiB,cache=16", c.String())

	for _, config := range []string{
		"threads=0", "threads=many", "isa=mmx", "reduction=tree", "max_scratch=lots", "cache=-1", "verbose=1",
		"threads",
	} {
		_, err := ParseConfig(config)
		require.ErrorIs(t, err, status.ErrInvalidArgument, config)
	}
}

func TestNewFromEnv(t *testing.T) {
	t.Setenv(GOMLX_PRIMITIVES, "threads=3,isa=scalar")
	e := must.M1(NewFromEnv())
	assert.Equal(t, 3, e.Config().Threads)
	assert.Equal(t, isa.Scalar, e.Capabilities().Level)

	// No vector ISA: every primitive is unimplemented, so the caller falls back.
	_, err := e.BuildPlanAndKernel(innerProductDesc(dtypes.Float32, dtypes.Float32, dtypes.Float32, 5))
	assert.Equal(t, status.Unimplemented, status.CodeOf(err))

	_, err = New("reduction=sideways")
	assert.Equal(t, status.InvalidArguments, status.CodeOf(err))
}

func innerProductDesc(src, weights, dst dtypes.DType, oc int) plan.Desc {
	return plan.Desc{
		Kind:         plan.InnerProduct,
		Types:        plan.Types{Src: src, Weights: weights, Dst: dst},
		InnerProduct: plan.InnerProductDims{MB: 3, IC: 7, OC: oc},
	}
}

// capabilityDesc returns a small description of kind with the given types.
func capabilityDesc(kind plan.Kind, types plan.Types) plan.Desc {
	desc := plan.Desc{Kind: kind, Types: types, Threads: 2}
	conv := plan.ConvDims{MB: 1, Groups: 1, IC: 2, OC: 3, IH: 4, IW: 4, OH: 4, OW: 4, KH: 3, KW: 3, PadH: 1, PadW: 1}
	switch kind {
	case plan.InnerProduct:
		desc.InnerProduct = plan.InnerProductDims{MB: 2, IC: 3, OC: 5}
	case plan.ConvolutionForward, plan.ConvolutionBackwardWeights:
		desc.Conv = conv
	case plan.Pooling:
		desc.Pool = plan.PoolDims{Alg: plan.PoolAvgExcludePadding, MB: 1, C: 5, IH: 4, IW: 4, OH: 2, OW: 2,
			KH: 2, KW: 2, StrideH: 2, StrideW: 2}
	case plan.BatchNormalization:
		desc.BNorm = plan.BNormDims{MB: 1, C: 5, H: 2, W: 2, Epsilon: 1e-5}
	case plan.Reorder:
		desc.Reorder = plan.ReorderDims{Dims: []int{2, 3}}
	}
	return desc
}

func TestCapabilities(t *testing.T) {
	e := testEngine(t, "threads=2")
	for kind, kindCaps := range Capabilities {
		for _, types := range kindCaps.Types {
			require.True(t, kindCaps.Supports(types))
			_, err := e.BuildPlanAndKernel(capabilityDesc(kind, types))
			require.NoError(t, err, "%s[%s]", kind, types)

			for _, bias := range kindCaps.BiasTypes[types.Src] {
				desc := capabilityDesc(kind, types)
				desc.Types.Bias = bias
				if kindCaps.PostOps {
					desc.PostOps = postops.MustChain(postops.Bias{})
				}
				_, err := e.BuildPlanAndKernel(desc)
				require.NoError(t, err, "%s[%s] with bias %s", kind, types, bias)
			}
		}
	}

	unsupported := plan.Types{Src: dtypes.Float16, Weights: dtypes.Float16, Dst: dtypes.Float16}
	assert.False(t, Capabilities[plan.InnerProduct].Supports(unsupported))
	_, err := e.BuildPlanAndKernel(capabilityDesc(plan.InnerProduct, unsupported))
	require.ErrorIs(t, err, status.ErrUnimplemented)
}

func TestBuildPlanAndKernelCache(t *testing.T) {
	e := testEngine(t, "threads=4,cache=2")
	desc := innerProductDesc(dtypes.Float32, dtypes.Float32, dtypes.Float32, 5)
	p0 := must.M1(e.BuildPlanAndKernel(desc))
	assert.Equal(t, 4, p0.Plan().Threads, "zero threads use the configured number of threads")
	assert.Same(t, p0, must.M1(e.BuildPlanAndKernel(desc)))
	assert.Equal(t, 1, e.CacheLen())

	// Concurrent builds of the same plan share one kernel.
	other := innerProductDesc(dtypes.Float32, dtypes.Float32, dtypes.Float32, 6)
	results := make([]*Primitive, 8)
	var wg sync.WaitGroup
	for ii := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[ii] = must.M1(e.BuildPlanAndKernel(other))
		}()
	}
	wg.Wait()
	for _, p := range results {
		assert.Same(t, results[0], p)
	}
	assert.Equal(t, 2, e.CacheLen())

	// A third plan evicts the oldest.
	must.M1(e.BuildPlanAndKernel(innerProductDesc(dtypes.Float32, dtypes.Float32, dtypes.Float32, 7)))
	assert.Equal(t, 2, e.CacheLen())
	assert.NotSame(t, p0, must.M1(e.BuildPlanAndKernel(desc)))
}

func TestPrepare(t *testing.T) {
	e := testEngine(t, "threads=2")
	descs := []plan.Desc{
		innerProductDesc(dtypes.Float32, dtypes.Float32, dtypes.Float32, 5),
		capabilityDesc(plan.Pooling, plan.Types{Src: dtypes.Uint8, Dst: dtypes.Uint8}),
		capabilityDesc(plan.Reorder, plan.Types{Src: dtypes.Float32, Dst: dtypes.BFloat16}),
	}
	primitives := must.M1(e.Prepare(context.Background(), descs...))
	require.Len(t, primitives, 3)
	for ii, p := range primitives {
		assert.Equal(t, descs[ii].Kind, p.Plan().Desc.Kind)
	}

	descs = append(descs, innerProductDesc(dtypes.Int32, dtypes.Int8, dtypes.Float32, 5))
	_, err := e.Prepare(context.Background(), descs...)
	require.ErrorIs(t, err, status.ErrUnimplemented)
}

// TestInnerProductThreads runs a quantized inner product with 37 output channels (a partial tail vector)
// and checks that 4 workers produce exactly the result of 1.
func TestInnerProductThreads(t *testing.T) {
	const mb, ic, oc = 16, 29, 37
	e := testEngine(t, "threads=4")
	rng := rand.New(rand.NewPCG(7, 7))
	src := make([]uint8, mb*ic)
	for i := range src {
		src[i] = uint8(rng.IntN(256))
	}
	weights := make([]int8, oc*ic)
	for i := range weights {
		weights[i] = int8(rng.IntN(256) - 128)
	}
	bias := make([]float32, oc)
	for i := range bias {
		bias[i] = float32(rng.NormFloat64())
	}
	desc := innerProductDesc(dtypes.Uint8, dtypes.Int8, dtypes.Float32, oc)
	desc.InnerProduct.MB, desc.InnerProduct.IC = mb, ic
	desc.Types.Bias = dtypes.Float32
	desc.PostOps = postops.MustChain(postops.Bias{})
	desc.Scales = plan.Scales{Values: []float32{0.5}}
	ip := must.M1(e.BuildPlanAndKernel(desc))

	run := func(threads int) []float32 {
		scratch := must.M1(e.NewScratchpad(ip, threads))
		defer scratch.Release()
		dst := tensors.New(dtypes.Float32, mb, oc)
		require.NoError(t, e.Execute(ip, driver.Tensors{
			Src:     tensors.FromFlat(src, mb, ic),
			Weights: tensors.FromFlat(weights, oc, ic),
			Bias:    tensors.FromFlat(bias, oc),
			Dst:     dst,
		}, scratch, threads))
		return dst.Flat.([]float32)
	}
	single, team := run(1), run(4)
	require.Equal(t, single, team)

	for n := range mb {
		for o := range oc {
			var acc int32
			for i := range ic {
				acc += int32(src[n*ic+i]) * int32(weights[o*ic+i])
			}
			want := (float32(acc) + bias[o]) * 0.5
			require.InDelta(t, want, team[n*oc+o], 1e-3, "dst[%d, %d]", n, o)
		}
	}
}

func TestExecuteErrors(t *testing.T) {
	e := testEngine(t, "threads=4,max_scratch=1KiB")
	desc := capabilityDesc(plan.ConvolutionBackwardWeights, plan.Types{Src: dtypes.Float32, Weights: dtypes.Float32,
		Dst: dtypes.Float32})
	desc.Conv.MB, desc.Conv.OC, desc.Conv.IW, desc.Conv.OW = 8, 32, 64, 64
	desc.Threads = 4
	bwd := must.M1(e.BuildPlanAndKernel(desc))
	assert.Greater(t, bwd.ScratchpadBytes(4), 1024)
	_, err := e.NewScratchpad(bwd, 4)
	assert.Equal(t, status.OutOfMemory, status.CodeOf(err))

	e = testEngine(t, "threads=4")
	ip := must.M1(e.BuildPlanAndKernel(innerProductDesc(dtypes.Float32, dtypes.Float32, dtypes.Float32, 5)))
	scratch := must.M1(e.NewScratchpad(ip, 0))
	defer scratch.Release()
	assert.Equal(t, status.InvalidArguments, status.CodeOf(e.Execute(nil, driver.Tensors{}, scratch, 0)))
	err = e.Execute(ip, driver.Tensors{
		Src:     tensors.New(dtypes.Float32, 3, 7),
		Weights: tensors.New(dtypes.Float32, 5, 7),
		Dst:     tensors.New(dtypes.Float32, 3, 4),
	}, scratch, 0)
	assert.Equal(t, status.InvalidArguments, status.CodeOf(err))

	// Empty mini-batch: success, nothing to do.
	empty := innerProductDesc(dtypes.Float32, dtypes.Float32, dtypes.Float32, 5)
	empty.InnerProduct.MB = 0
	emptyIP := must.M1(e.BuildPlanAndKernel(empty))
	emptyScratch := must.M1(e.NewScratchpad(emptyIP, 0))
	defer emptyScratch.Release()
	require.NoError(t, e.Execute(emptyIP, driver.Tensors{
		Src:     tensors.New(dtypes.Float32, 0, 7),
		Weights: tensors.New(dtypes.Float32, 5, 7),
		Dst:     tensors.New(dtypes.Float32, 0, 5),
	}, emptyScratch, 0))
}
