// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package plan derives, from a primitive description (Desc) and the CPU capabilities, the immutable
// configuration (Plan) a kernel is generated for: blocking, tail masks, unroll, code path and whether
// a cross-thread reduction is needed.
//
// Build decides feasibility: if it returns a Plan, a kernel can be generated for it.
package plan

import (
	"fmt"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/primitives/pkg/core/dtypes"
	"github.com/gomlx/primitives/pkg/primitives/isa"
	"github.com/gomlx/primitives/pkg/primitives/partition"
	"github.com/gomlx/primitives/pkg/primitives/postops"
	"github.com/gomlx/primitives/pkg/primitives/status"
	"k8s.io/klog/v2"
)

// CodePath selects how bfloat16 values are produced by the kernel.
type CodePath int

const (
	// Native uses the CPU's conversion instructions (or no bfloat16 is involved).
	Native CodePath = iota

	// EmulatedBF16 uses an integer instruction sequence to narrow float32 to bfloat16. It reserves
	// emulationVRegs vector registers.
	EmulatedBF16
)

// String implements fmt.Stringer.
func (c CodePath) String() string {
	if c == EmulatedBF16 {
		return "emulated_bf16"
	}
	return "native"
}

// emulationVRegs is the number of vector registers reserved by the bfloat16 emulation sequence.
const emulationVRegs = 4

// Plan is the immutable configuration of a primitive. It must not be modified after Build returns it.
type Plan struct {
	// Desc is the normalized copy of the description the plan was built from.
	Desc Desc
	Caps isa.Capabilities

	// Acc is the accumulator dtype: Int32 for integer sources (InnerProduct, integer average pooling),
	// Float32 otherwise.
	Acc   dtypes.DType
	Fused postops.Fused

	// VLen is the number of float32 lanes of a vector register.
	VLen int

	// BlockElems is the number of payload elements processed per vector iteration. It's VLen except for
	// 8-bit pooling, where one vector holds VectorBytes elements.
	BlockElems int

	// Channels is the length of the vectorized axis, TailElems = Channels mod BlockElems.
	Channels, TailElems int

	// TailMasks has one mask per group of VLen lanes (32-bit lanes) of a block: bit l of mask g enables
	// element g·VLen+l. Empty if TailElems == 0.
	TailMasks []uint64

	// TailSafe is set if every tensor read with full-vector tail loads has at least BlockElems-TailElems
	// elements of padding. Otherwise kernels use guarded (realigned) tail loads.
	TailSafe bool

	// Unroll is the maximum number of vectors processed per iteration of the main loop.
	Unroll int

	CodePath             CodePath
	NeedsThreadReduction bool
	Threads              int

	// ScaleValues are the output scales, padded with BlockElems trailing elements for per-channel scales.
	ScaleValues []float32

	// ReorderScaleStrides is, for Reorder, the stride of each axis into ScaleValues (0 for axes not in the mask).
	ReorderScaleStrides []int

	// ReorderVectorized is set for reorders whose source and destination are both contiguous on the last axis.
	ReorderVectorized bool

	// OCSplit is the xSplitFactor used by ConvolutionForward to split the (MB·Groups) × OC work.
	OCSplit int

	// OutputSpatial is OD·OH·OW for convolutions.
	OutputSpatial int

	// WeightsGroupSize is OC·IC·KD·KH·KW, the number of weights of one convolution group.
	WeightsGroupSize int

	// BwdGrid is the weights-gradient worker grid for Threads workers.
	BwdGrid partition.BwdWeights

	key string
}

// Key returns a canonical string identifying the plan: two descriptions with the same key produce identical
// kernels. It's used to memoize kernels.
func (p *Plan) Key() string { return p.key }

// String implements fmt.Stringer.
func (p *Plan) String() string {
	return fmt.Sprintf("%s[%s] %s block=%d tail=%d masks=%#x tail_safe=%v unroll=%d path=%s reduction=%v",
		p.Desc.Kind, p.Desc.Types, p.Caps.Level, p.BlockElems, p.TailElems, p.TailMasks, p.TailSafe, p.Unroll,
		p.CodePath, p.NeedsThreadReduction)
}

// Build validates the description against the capabilities and returns the Plan.
//
// Errors wrap status.ErrUnimplemented when no kernel exists for the combination (the caller should fall
// back to a reference implementation), or status.ErrInvalidArgument for malformed descriptions.
func Build(desc Desc, caps isa.Capabilities) (*Plan, error) {
	if desc.Threads < 1 {
		return nil, status.InvalidArgumentf("%s: thread count must be >= 1, got %d", desc.Kind, desc.Threads)
	}
	if !caps.HasVectors() {
		return nil, status.Unimplementedf("%s: no vector instruction set available (ISA %s)", desc.Kind, caps.Level)
	}
	fused, err := desc.PostOps.Resolve()
	if err != nil {
		return nil, err
	}
	p := &Plan{
		Desc:    desc,
		Caps:    caps,
		Fused:   fused,
		VLen:    caps.F32Lanes(),
		Threads: desc.Threads,
		Acc:     dtypes.Float32,
	}
	p.Desc.Scales.Values = slices.Clone(desc.Scales.Values)
	p.Desc.Reorder.Dims = slices.Clone(desc.Reorder.Dims)
	p.Desc.Reorder.SrcStrides = slices.Clone(desc.Reorder.SrcStrides)
	p.Desc.Reorder.DstStrides = slices.Clone(desc.Reorder.DstStrides)
	if p.involvesBF16() && !caps.NativeBF16 {
		p.CodePath = EmulatedBF16
	}

	switch desc.Kind {
	case InnerProduct:
		err = p.buildInnerProduct()
	case ConvolutionForward:
		err = p.buildConvForward()
	case ConvolutionBackwardWeights:
		err = p.buildConvBackwardWeights()
	case Pooling:
		err = p.buildPooling()
	case BatchNormalization:
		err = p.buildBatchNorm()
	case Reorder:
		err = p.buildReorder()
	default:
		err = status.InvalidArgumentf("plan.Build: invalid primitive kind %d", desc.Kind)
	}
	if err != nil {
		return nil, err
	}
	p.key = p.computeKey()
	if klog.V(1).Enabled() {
		klog.Infof("plan.Build: %s, scratchpad=%s for %d threads", p, humanize.IBytes(uint64(p.ScratchpadBytes(p.Threads))),
			p.Threads)
	}
	return p, nil
}

func (p *Plan) involvesBF16() bool {
	t := p.Desc.Types
	return t.Src == dtypes.BFloat16 || t.Weights == dtypes.BFloat16 || t.Bias == dtypes.BFloat16 ||
		t.Dst == dtypes.BFloat16
}

// setBlocking sets the vectorized axis length and derives the tail and its masks.
func (p *Plan) setBlocking(channels, blockElems int) {
	p.Channels = channels
	p.BlockElems = blockElems
	p.TailElems = channels % blockElems
	p.TailMasks = TailMasks(p.TailElems, blockElems, p.VLen)
}

// TailMasks returns one mask per group of laneGroup lanes of a block of blockElems elements, enabling the
// first tail elements. It returns nil if tail is 0.
func TailMasks(tail, blockElems, laneGroup int) []uint64 {
	if tail == 0 {
		return nil
	}
	numGroups := (blockElems + laneGroup - 1) / laneGroup
	masks := make([]uint64, numGroups)
	for g := range masks {
		lanes := min(max(tail-g*laneGroup, 0), laneGroup)
		if lanes == 64 {
			masks[g] = ^uint64(0)
		} else {
			masks[g] = (uint64(1) << lanes) - 1
		}
	}
	return masks
}

// setTailSafety sets TailSafe if all the given paddings cover a full-vector tail load.
func (p *Plan) setTailSafety(paddings ...int) {
	if p.TailElems == 0 {
		p.TailSafe = true
		return
	}
	need := p.BlockElems - p.TailElems
	p.TailSafe = true
	for _, padding := range paddings {
		if padding < need {
			p.TailSafe = false
		}
	}
}

// setUnroll computes the unroll factor from the vector register budget: registers [reserved, lastVReg]
// are available to the main loop, and each unrolled vector uses perIter of them.
func (p *Plan) setUnroll(maxUnroll, reserved, perIter int) {
	lastVReg := p.Caps.NumVRegs - 1
	if p.CodePath == EmulatedBF16 {
		lastVReg -= emulationVRegs
	}
	unroll := (lastVReg - reserved + 1) / perIter
	p.Unroll = max(min(maxUnroll, unroll), 1)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// checkTypes returns an unimplemented error if dtype is not one of the valid ones.
func checkType(kind Kind, role string, dtype dtypes.DType, valid ...dtypes.DType) error {
	if !slices.Contains(valid, dtype) {
		names := make([]string, len(valid))
		for i, v := range valid {
			names[i] = v.Short()
		}
		return status.Unimplementedf("%s: %s dtype %s not supported (supported: %s)", kind, role, dtype,
			strings.Join(names, ","))
	}
	return nil
}

func checkPositive(kind Kind, names string, values ...int) error {
	for _, v := range values {
		if v < 1 {
			return status.InvalidArgumentf("%s: dimensions (%s) must be >= 1, got %v", kind, names, values)
		}
	}
	return nil
}

func (p *Plan) noPostOpsOrScales() error {
	if p.Desc.PostOps.Len() > 0 {
		return status.Unimplementedf("%s: post-ops (%s) not supported", p.Desc.Kind, p.Desc.PostOps)
	}
	if p.Desc.Scales.IsSet() {
		return status.Unimplementedf("%s: output scales not supported", p.Desc.Kind)
	}
	return nil
}

// setScales validates common / per-channel output scales and stores them padded.
func (p *Plan) setScales(channels int) error {
	s := p.Desc.Scales
	if !s.IsSet() {
		return nil
	}
	switch s.Mask {
	case 0:
		if len(s.Values) != 1 {
			return status.InvalidArgumentf("%s: common scales (mask 0) need 1 value, got %d", p.Desc.Kind, len(s.Values))
		}
		p.ScaleValues = slices.Clone(s.Values)
	case PerOCMask:
		if len(s.Values) != channels {
			return status.InvalidArgumentf("%s: per-channel scales need %d values, got %d", p.Desc.Kind, channels,
				len(s.Values))
		}
		p.ScaleValues = make([]float32, channels+p.BlockElems)
		copy(p.ScaleValues, s.Values)
	default:
		return status.InvalidArgumentf("%s: scales mask must be 0 or %d, got %d", p.Desc.Kind, PerOCMask, s.Mask)
	}
	return nil
}

func (p *Plan) computeKey() string {
	var sb strings.Builder
	d := &p.Desc
	fmt.Fprintf(&sb, "%s|%s|%s|%s|t%d|", d.Kind, d.Types, p.Caps.Level, p.CodePath, p.Threads)
	switch d.Kind {
	case InnerProduct:
		fmt.Fprintf(&sb, "%+v", d.InnerProduct)
	case ConvolutionForward, ConvolutionBackwardWeights:
		fmt.Fprintf(&sb, "%+v", d.Conv)
	case Pooling:
		fmt.Fprintf(&sb, "%+v", d.Pool)
	case BatchNormalization:
		fmt.Fprintf(&sb, "%+v", d.BNorm)
	case Reorder:
		fmt.Fprintf(&sb, "%v/%v/%v", d.Reorder.Dims, d.Reorder.SrcStrides, d.Reorder.DstStrides)
	}
	fmt.Fprintf(&sb, "|%s|scales:%d:%v|pad:%+v", p.Fused, d.Scales.Mask, d.Scales.Values, d.Padding)
	return sb.String()
}
