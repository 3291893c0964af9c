// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plan

import (
	"fmt"

	"github.com/gomlx/primitives/pkg/core/dtypes"
	"github.com/gomlx/primitives/pkg/primitives/postops"
)

// Kind of primitive operation.
type Kind int

const (
	InvalidKind Kind = iota

	// InnerProduct (fully connected) forward: dst[mb, oc] = Σ_ic src[mb, ic] · weights[oc, ic], followed by
	// the post-processing epilogue (bias, output scales, sum, eltwise, conversion).
	InnerProduct

	// ConvolutionForward in plain NCDHW layout, with the same epilogue as InnerProduct (except scales).
	ConvolutionForward

	// ConvolutionBackwardWeights computes the weights (and optionally bias) gradients, reducing over the
	// mini-batch across workers.
	ConvolutionBackwardWeights

	// Pooling forward in NDHWC layout (max and average).
	Pooling

	// BatchNormalization forward inference in NDHWC layout.
	BatchNormalization

	// Reorder copies (and converts / quantizes) a tensor between two memory layouts.
	Reorder
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case InnerProduct:
		return "InnerProduct"
	case ConvolutionForward:
		return "ConvolutionForward"
	case ConvolutionBackwardWeights:
		return "ConvolutionBackwardWeights"
	case Pooling:
		return "Pooling"
	case BatchNormalization:
		return "BatchNormalization"
	case Reorder:
		return "Reorder"
	}
	return "InvalidKind"
}

// Types of the tensors of each role.
//
// For ConvolutionBackwardWeights the roles are: Src is the forward source, Dst the destination gradient
// (diff_dst), Weights the weights gradient and Bias the bias gradient (InvalidDType if not computed).
type Types struct {
	Src, Weights, Bias, Dst dtypes.DType
}

// String implements fmt.Stringer.
func (t Types) String() string {
	return fmt.Sprintf("src:%s,wei:%s,bia:%s,dst:%s", t.Src.Short(), t.Weights.Short(), t.Bias.Short(), t.Dst.Short())
}

// Scales are the output scales applied in the epilogue (after bias, before sum).
//
// For InnerProduct Mask 0 means one common scale (len(Values) == 1) and Mask 1<<1 one scale per output
// channel. For Reorder each bit of the mask selects an axis, and Values has one scale per element of the
// sub-tensor of the selected axes. Empty Values means no scaling.
type Scales struct {
	Mask   int
	Values []float32
}

// PerOCMask is the InnerProduct scales mask for per-output-channel scales.
const PerOCMask = 1 << 1

// IsSet returns whether there are scales to apply.
func (s Scales) IsSet() bool { return len(s.Values) > 0 }

// Padding is the number of elements each tensor's storage is guaranteed to have after the last element of
// the view. Kernels may read (never write) up to that many trailing elements in full-vector tail loads.
type Padding struct {
	Src, Weights, Bias, Dst int
}

// InnerProductDims are the dimensions of an inner product: src [MB, IC], weights [OC, IC], bias [OC] and
// dst [MB, OC].
type InnerProductDims struct {
	MB, IC, OC int
}

// ConvDims are the dimensions of a grouped convolution in NCDHW layout:
// src [MB, Groups·IC, ID, IH, IW], weights [Groups, OC, IC, KD, KH, KW], bias [Groups·OC] and
// dst [MB, Groups·OC, OD, OH, OW]. IC and OC are per group.
//
// For 2D convolutions leave the D dimensions at 0: they are normalized to 1. Zero strides are
// normalized to 1. Pads are the front paddings, out-of-range input positions are read as zero.
type ConvDims struct {
	MB, Groups, IC, OC        int
	ID, IH, IW                int
	OD, OH, OW                int
	KD, KH, KW                int
	StrideD, StrideH, StrideW int
	PadD, PadH, PadW          int
}

// PoolAlg is the pooling algorithm.
type PoolAlg int

const (
	PoolMax PoolAlg = iota
	PoolAvgIncludePadding
	PoolAvgExcludePadding
)

// String implements fmt.Stringer.
func (a PoolAlg) String() string {
	switch a {
	case PoolMax:
		return "max"
	case PoolAvgIncludePadding:
		return "avg_include_padding"
	case PoolAvgExcludePadding:
		return "avg_exclude_padding"
	}
	return "invalid"
}

// PoolDims are the dimensions of a pooling in NDHWC layout: src [MB, ID, IH, IW, C], dst [MB, OD, OH, OW, C].
// Normalization of the D dimensions and strides is the same as ConvDims.
type PoolDims struct {
	Alg                       PoolAlg
	MB, C                     int
	ID, IH, IW                int
	OD, OH, OW                int
	KD, KH, KW                int
	StrideD, StrideH, StrideW int
	PadD, PadH, PadW          int
}

// BNormDims are the dimensions and attributes of a batch normalization in NDHWC layout: src and dst
// [MB, D, H, W, C], mean and variance [C], scale-shift [2, C] (all float32).
type BNormDims struct {
	MB, C, D, H, W int
	Epsilon        float32
	UseScaleShift  bool
	FuseRelu       bool
}

// ReorderDims are the logical dimensions of a reorder, and the strides (in elements) of the source and
// destination. Nil strides mean dense row-major.
type ReorderDims struct {
	Dims                   []int
	SrcStrides, DstStrides []int
}

// Desc is the description of a primitive: everything needed to build its Plan.
//
// Only the dims field matching Kind is used.
type Desc struct {
	Kind  Kind
	Types Types

	InnerProduct InnerProductDims
	Conv         ConvDims
	Pool         PoolDims
	BNorm        BNormDims
	Reorder      ReorderDims

	PostOps postops.Chain
	Scales  Scales
	Padding Padding

	// Threads is the number of workers the primitive is planned for. It must be >= 1.
	Threads int
}
