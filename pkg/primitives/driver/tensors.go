// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package driver

import (
	"github.com/gomlx/primitives/pkg/core/dtypes"
	"github.com/gomlx/primitives/pkg/core/tensors"
	"github.com/gomlx/primitives/pkg/primitives/plan"
	"github.com/gomlx/primitives/pkg/primitives/status"
)

// Tensors are the tensors of one execution, by role (see plan.Types).
//
// For ConvolutionBackwardWeights Src is the forward source, Dst the destination gradient, Weights
// and Bias the (output) weights and bias gradients. Mean, Variance and ScaleShift are only used
// by BatchNormalization. Unused roles are left as zero Views.
//
// Views must be dense, except for Reorder, whose layouts are given by the plan's strides.
type Tensors struct {
	Src, Weights, Bias, Dst    tensors.View
	Mean, Variance, ScaleShift tensors.View
}

// role describes the check of one tensor.
type role struct {
	name    string
	view    tensors.View
	dtype   dtypes.DType
	size    int
	padding int
}

// roles returns the tensors the plan reads or writes, with their expected dtypes and sizes.
func roles(p *plan.Plan, t *Tensors) []role {
	d := &p.Desc
	types, pad := d.Types, d.Padding
	switch d.Kind {
	case plan.InnerProduct:
		ip := d.InnerProduct
		rs := []role{
			{"src", t.Src, types.Src, ip.MB * ip.IC, pad.Src},
			{"weights", t.Weights, types.Weights, ip.OC * ip.IC, pad.Weights},
			{"dst", t.Dst, types.Dst, ip.MB * ip.OC, pad.Dst},
		}
		if p.Fused.Bias {
			rs = append(rs, role{"bias", t.Bias, types.Bias, ip.OC, pad.Bias})
		}
		return rs

	case plan.ConvolutionForward, plan.ConvolutionBackwardWeights:
		c := d.Conv
		srcSize := c.MB * c.Groups * c.IC * c.ID * c.IH * c.IW
		dstSize := c.MB * c.Groups * c.OC * p.OutputSpatial
		weightsSize := c.Groups * p.WeightsGroupSize
		if d.Kind == plan.ConvolutionForward {
			rs := []role{
				{"src", t.Src, types.Src, srcSize, pad.Src},
				{"weights", t.Weights, types.Weights, weightsSize, pad.Weights},
				{"dst", t.Dst, types.Dst, dstSize, pad.Dst},
			}
			if p.Fused.Bias {
				rs = append(rs, role{"bias", t.Bias, types.Bias, c.Groups * c.OC, pad.Bias})
			}
			return rs
		}
		rs := []role{
			{"src", t.Src, types.Src, srcSize, pad.Src},
			{"diff_dst", t.Dst, types.Dst, dstSize, pad.Dst},
			{"diff_weights", t.Weights, types.Weights, weightsSize, pad.Weights},
		}
		if types.Bias != dtypes.InvalidDType {
			rs = append(rs, role{"diff_bias", t.Bias, types.Bias, c.Groups * c.OC, pad.Bias})
		}
		return rs

	case plan.Pooling:
		pd := d.Pool
		return []role{
			{"src", t.Src, types.Src, pd.MB * pd.ID * pd.IH * pd.IW * pd.C, pad.Src},
			{"dst", t.Dst, types.Dst, pd.MB * pd.OD * pd.OH * pd.OW * pd.C, pad.Dst},
		}

	case plan.BatchNormalization:
		bn := d.BNorm
		size := bn.MB * bn.D * bn.H * bn.W * bn.C
		rs := []role{
			{"src", t.Src, types.Src, size, pad.Src},
			{"dst", t.Dst, types.Dst, size, pad.Dst},
			{"mean", t.Mean, dtypes.Float32, bn.C, pad.Weights},
			{"variance", t.Variance, dtypes.Float32, bn.C, pad.Weights},
		}
		if bn.UseScaleShift {
			rs = append(rs, role{"scale_shift", t.ScaleShift, dtypes.Float32, 2 * bn.C, pad.Weights})
		}
		return rs

	case plan.Reorder:
		size := 1
		for _, dim := range d.Reorder.Dims {
			size *= dim
		}
		return []role{
			{"src", t.Src, types.Src, size, pad.Src},
			{"dst", t.Dst, types.Dst, size, pad.Dst},
		}
	}
	return nil
}

// extent returns one past the largest flat index (relative to the offset) addressed by dims and strides.
func extent(dims, strides []int) int {
	last := 0
	for axis, dim := range dims {
		if dim == 0 {
			return 0
		}
		last += (dim - 1) * strides[axis]
	}
	return last + 1
}

// validate checks the tensors against the plan: dtypes, sizes, density and the declared padding.
func validate(p *plan.Plan, t *Tensors) error {
	kind := p.Desc.Kind
	for _, r := range roles(p, t) {
		v := r.view
		if v.Flat == nil {
			return status.InvalidArgumentf("%s: missing %s tensor", kind, r.name)
		}
		if err := v.Validate(); err != nil {
			return status.InvalidArgumentf("%s: invalid %s tensor: %v", kind, r.name, err)
		}
		if v.DType != r.dtype {
			return status.InvalidArgumentf("%s: %s tensor has dtype %s, the plan expects %s", kind, r.name, v.DType,
				r.dtype)
		}
		if v.Size() != r.size {
			return status.InvalidArgumentf("%s: %s tensor %v has %d elements, the plan expects %d", kind, r.name,
				v.Dimensions, v.Size(), r.size)
		}
		used := r.size
		if kind == plan.Reorder {
			strides := p.Desc.Reorder.SrcStrides
			if r.name == "dst" {
				strides = p.Desc.Reorder.DstStrides
			}
			used = extent(p.Desc.Reorder.Dims, strides)
		} else if !v.IsDense() {
			return status.InvalidArgumentf("%s: %s tensor must be dense, got strides %v", kind, r.name, v.Strides)
		}
		if available := v.FlatLen() - v.Offset; available < used+r.padding {
			return status.InvalidArgumentf("%s: %s tensor storage has %d elements after its offset, needs %d plus %d of padding",
				kind, r.name, available, used, r.padding)
		}
	}
	return nil
}
