// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package primitives

import (
	"slices"

	"github.com/gomlx/primitives/pkg/core/dtypes"
	"github.com/gomlx/primitives/pkg/primitives/plan"
)

// KindCapabilities lists what the engine supports for one primitive kind.
type KindCapabilities struct {
	// Types are the supported combinations of src, weights and dst dtypes. Bias is not part of the
	// combination: see BiasTypes.
	Types []plan.Types

	// BiasTypes are the accepted bias dtypes, per src dtype. Empty if the kind takes no bias.
	BiasTypes map[dtypes.DType][]dtypes.DType

	// PostOps is set if the kind accepts a post-op chain.
	PostOps bool

	// Scales is set if the kind accepts output scales.
	Scales bool
}

// Supports returns whether the combination of src, weights and dst dtypes in t is supported.
func (c KindCapabilities) Supports(t plan.Types) bool {
	t.Bias = dtypes.InvalidDType
	return slices.Contains(c.Types, t)
}

var (
	f32  = dtypes.Float32
	bf16 = dtypes.BFloat16
	f16  = dtypes.Float16
	s8   = dtypes.Int8
	u8   = dtypes.Uint8
	s32  = dtypes.Int32
	none = dtypes.InvalidDType
)

// Capabilities of the engine: the supported primitive kinds and data types. Plans for anything else
// fail with status.ErrUnimplemented.
var Capabilities = map[plan.Kind]KindCapabilities{
	plan.InnerProduct: {
		Types: append(
			[]plan.Types{{Src: f32, Weights: f32, Dst: f32}, {Src: bf16, Weights: bf16, Dst: f32},
				{Src: bf16, Weights: bf16, Dst: bf16}},
			crossTypes([]dtypes.DType{u8, s8}, []dtypes.DType{s8}, []dtypes.DType{f32, bf16, s32, s8, u8})...),
		BiasTypes: map[dtypes.DType][]dtypes.DType{
			f32: {f32}, bf16: {f32, bf16}, u8: {f32, bf16, s32, s8, u8}, s8: {f32, bf16, s32, s8, u8},
		},
		PostOps: true,
		Scales:  true,
	},
	plan.ConvolutionForward: {
		Types: []plan.Types{{Src: f32, Weights: f32, Dst: f32}, {Src: bf16, Weights: bf16, Dst: f32},
			{Src: bf16, Weights: bf16, Dst: bf16}},
		BiasTypes: map[dtypes.DType][]dtypes.DType{f32: {f32}, bf16: {f32, bf16}},
		PostOps:   true,
	},
	plan.ConvolutionBackwardWeights: {
		// Weights is the weights gradient, Dst the destination gradient.
		Types: []plan.Types{{Src: f32, Weights: f32, Dst: f32}, {Src: bf16, Weights: f32, Dst: bf16},
			{Src: bf16, Weights: bf16, Dst: bf16}},
		BiasTypes: map[dtypes.DType][]dtypes.DType{f32: {f32}, bf16: {f32, bf16}},
	},
	plan.Pooling: {
		Types: sameTypes(s8, u8, s32, f32, bf16),
	},
	plan.BatchNormalization: {
		Types: sameTypes(s8, f32, bf16),
	},
	plan.Reorder: {
		Types: crossTypes([]dtypes.DType{f32, bf16, f16, s8, u8, s32}, []dtypes.DType{none},
			[]dtypes.DType{f32, bf16, f16, s8, u8, s32}),
		Scales: true,
	},
}

// crossTypes returns all combinations of the given src, weights and dst dtypes.
func crossTypes(srcs, weights, dsts []dtypes.DType) []plan.Types {
	var types []plan.Types
	for _, src := range srcs {
		for _, w := range weights {
			for _, dst := range dsts {
				types = append(types, plan.Types{Src: src, Weights: w, Dst: dst})
			}
		}
	}
	return types
}

// sameTypes returns the combinations with src == dst and no weights.
func sameTypes(list ...dtypes.DType) []plan.Types {
	types := make([]plan.Types, 0, len(list))
	for _, dtype := range list {
		types = append(types, plan.Types{Src: dtype, Dst: dtype})
	}
	return types
}
