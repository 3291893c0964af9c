// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plan

import (
	"github.com/gomlx/primitives/pkg/core/dtypes"
	"github.com/gomlx/primitives/pkg/core/shapes"
	"github.com/gomlx/primitives/pkg/primitives/partition"
	"github.com/gomlx/primitives/pkg/primitives/status"
)

const (
	maxInnerProductUnroll = 13
	maxConvUnroll         = 12
	maxDirectUnroll       = 8
	maxPoolingUnroll      = 4
)

// MaxReorderRank is the largest rank supported by Reorder.
const MaxReorderRank = 12

var (
	f32  = dtypes.Float32
	bf16 = dtypes.BFloat16
	f16  = dtypes.Float16
	s8   = dtypes.Int8
	u8   = dtypes.Uint8
	s32  = dtypes.Int32
)

func (p *Plan) buildInnerProduct() error {
	d := &p.Desc
	dims := d.InnerProduct
	if dims.MB < 0 {
		return status.InvalidArgumentf("InnerProduct: negative mini-batch %d", dims.MB)
	}
	if err := checkPositive(d.Kind, "IC, OC", dims.IC, dims.OC); err != nil {
		return err
	}
	t := d.Types
	var err error
	switch t.Src {
	case f32:
		err = firstError(
			checkType(d.Kind, "weights", t.Weights, f32),
			checkType(d.Kind, "dst", t.Dst, f32))
	case bf16:
		err = firstError(
			checkType(d.Kind, "weights", t.Weights, bf16),
			checkType(d.Kind, "dst", t.Dst, f32, bf16))
	case u8, s8:
		p.Acc = s32
		err = firstError(
			checkType(d.Kind, "weights", t.Weights, s8),
			checkType(d.Kind, "dst", t.Dst, f32, bf16, s32, s8, u8))
	default:
		err = checkType(d.Kind, "src", t.Src, f32, bf16, u8, s8)
	}
	if err != nil {
		return err
	}
	if p.Fused.Bias {
		biasTypes := []dtypes.DType{f32}
		switch t.Src {
		case bf16:
			biasTypes = []dtypes.DType{f32, bf16}
		case u8, s8:
			biasTypes = []dtypes.DType{f32, bf16, s32, s8, u8}
		}
		if err := checkType(d.Kind, "bias", t.Bias, biasTypes...); err != nil {
			return err
		}
	}

	p.setBlocking(dims.OC, p.VLen)
	if err := p.setScales(dims.OC); err != nil {
		return err
	}
	var paddings []int
	if p.Fused.Bias {
		paddings = append(paddings, d.Padding.Bias)
	}
	if p.Fused.Sum {
		paddings = append(paddings, d.Padding.Dst)
	}
	p.setTailSafety(paddings...)
	reserved := boolToInt(p.Desc.Scales.IsSet()) + boolToInt(t.Dst == u8) + boolToInt(p.Fused.Sum)
	perIter := 1 + boolToInt(p.Fused.Sum) + boolToInt(p.Fused.Bias)
	p.setUnroll(maxInnerProductUnroll, reserved, perIter)
	return nil
}

// normalizeSpatial sets D dimensions to 1 for 2D problems and zero strides to 1.
func normalizeSpatial(id, od, kd, sd, sh, sw *int) {
	if *id == 0 && *od == 0 && *kd == 0 {
		*id, *od, *kd = 1, 1, 1
	}
	for _, s := range []*int{sd, sh, sw} {
		if *s == 0 {
			*s = 1
		}
	}
}

func (p *Plan) checkConvDims() error {
	c := &p.Desc.Conv
	normalizeSpatial(&c.ID, &c.OD, &c.KD, &c.StrideD, &c.StrideH, &c.StrideW)
	if c.MB < 0 {
		return status.InvalidArgumentf("%s: negative mini-batch %d", p.Desc.Kind, c.MB)
	}
	if err := checkPositive(p.Desc.Kind, "Groups, IC, OC, ID, IH, IW, OD, OH, OW, KD, KH, KW, strides",
		c.Groups, c.IC, c.OC, c.ID, c.IH, c.IW, c.OD, c.OH, c.OW, c.KD, c.KH, c.KW,
		c.StrideD, c.StrideH, c.StrideW); err != nil {
		return err
	}
	if c.PadD < 0 || c.PadH < 0 || c.PadW < 0 {
		return status.InvalidArgumentf("%s: negative padding", p.Desc.Kind)
	}
	p.OutputSpatial = c.OD * c.OH * c.OW
	p.WeightsGroupSize = c.OC * c.IC * c.KD * c.KH * c.KW
	return nil
}

func (p *Plan) buildConvForward() error {
	d := &p.Desc
	if err := p.checkConvDims(); err != nil {
		return err
	}
	t := d.Types
	var err error
	switch t.Src {
	case f32:
		err = firstError(checkType(d.Kind, "weights", t.Weights, f32), checkType(d.Kind, "dst", t.Dst, f32))
	case bf16:
		err = firstError(checkType(d.Kind, "weights", t.Weights, bf16), checkType(d.Kind, "dst", t.Dst, f32, bf16))
	default:
		err = checkType(d.Kind, "src", t.Src, f32, bf16)
	}
	if err != nil {
		return err
	}
	if p.Fused.Bias {
		biasTypes := []dtypes.DType{f32}
		if t.Src == bf16 {
			biasTypes = append(biasTypes, bf16)
		}
		if err := checkType(d.Kind, "bias", t.Bias, biasTypes...); err != nil {
			return err
		}
	}
	if d.Scales.IsSet() {
		return status.Unimplementedf("%s: output scales not supported", d.Kind)
	}

	// The epilogue is vectorized over the output spatial positions of one output channel.
	p.setBlocking(p.OutputSpatial, p.VLen)
	if p.Fused.Sum {
		p.setTailSafety(d.Padding.Dst)
	} else {
		p.setTailSafety()
	}
	reserved := boolToInt(p.Fused.Bias) + boolToInt(p.Fused.Sum)
	p.setUnroll(maxConvUnroll, reserved, 1+boolToInt(p.Fused.Sum))

	// Split OC across workers only when there are not enough (image, group) pairs for all of them.
	c := d.Conv
	if rows := c.MB * c.Groups; rows >= p.Threads || rows == 0 {
		p.OCSplit = 1
	} else {
		p.OCSplit = min((p.Threads+rows-1)/rows, c.OC)
	}
	return nil
}

func (p *Plan) buildConvBackwardWeights() error {
	d := &p.Desc
	if err := p.checkConvDims(); err != nil {
		return err
	}
	if err := p.noPostOpsOrScales(); err != nil {
		return err
	}
	t := d.Types
	var err error
	switch t.Src {
	case f32:
		err = firstError(
			checkType(d.Kind, "diff_dst", t.Dst, f32),
			checkType(d.Kind, "diff_weights", t.Weights, f32),
			checkType(d.Kind, "diff_bias", t.Bias, dtypes.InvalidDType, f32))
	case bf16:
		err = firstError(
			checkType(d.Kind, "diff_dst", t.Dst, bf16),
			checkType(d.Kind, "diff_weights", t.Weights, f32, bf16),
			checkType(d.Kind, "diff_bias", t.Bias, dtypes.InvalidDType, f32, bf16))
	default:
		err = checkType(d.Kind, "src", t.Src, f32, bf16)
	}
	if err != nil {
		return err
	}

	// The inner dot product is vectorized over the output width.
	p.setBlocking(d.Conv.OW, p.VLen)
	if d.Conv.StrideW == 1 {
		p.setTailSafety(d.Padding.Dst, d.Padding.Src)
	} else {
		p.setTailSafety(d.Padding.Dst)
	}
	p.setUnroll(maxDirectUnroll, 0, 3)
	p.BwdGrid = partition.BwdWeightsBalance(0, p.Threads, d.Conv.Groups, d.Conv.MB)
	p.NeedsThreadReduction = p.BwdGrid.NeedsReduction()
	return nil
}

func (p *Plan) buildPooling() error {
	d := &p.Desc
	pd := &d.Pool
	normalizeSpatial(&pd.ID, &pd.OD, &pd.KD, &pd.StrideD, &pd.StrideH, &pd.StrideW)
	if pd.MB < 0 {
		return status.InvalidArgumentf("Pooling: negative mini-batch %d", pd.MB)
	}
	if err := checkPositive(d.Kind, "C, ID, IH, IW, OD, OH, OW, KD, KH, KW, strides",
		pd.C, pd.ID, pd.IH, pd.IW, pd.OD, pd.OH, pd.OW, pd.KD, pd.KH, pd.KW,
		pd.StrideD, pd.StrideH, pd.StrideW); err != nil {
		return err
	}
	if pd.PadD < 0 || pd.PadH < 0 || pd.PadW < 0 {
		return status.InvalidArgumentf("Pooling: negative padding")
	}
	if pd.Alg < PoolMax || pd.Alg > PoolAvgExcludePadding {
		return status.InvalidArgumentf("Pooling: invalid algorithm %d", pd.Alg)
	}
	if err := p.noPostOpsOrScales(); err != nil {
		return err
	}
	t := d.Types
	if err := checkType(d.Kind, "src", t.Src, s8, u8, s32, f32, bf16); err != nil {
		return err
	}
	if t.Dst != t.Src {
		return status.Unimplementedf("Pooling: dst dtype %s must match src dtype %s", t.Dst, t.Src)
	}

	blockElems := p.VLen
	isAvg := pd.Alg != PoolMax
	perIter := 2
	if t.Src.Size() == 1 {
		// One vector of bytes; average accumulates in one int32 vector per group of VLen lanes.
		blockElems = p.Caps.VectorBytes
		if isAvg {
			perIter = blockElems/p.VLen + 1
		}
	}
	if t.Src.IsInt() {
		p.Acc = s32
	}
	p.setBlocking(pd.C, blockElems)
	p.setTailSafety(d.Padding.Src)
	p.setUnroll(maxPoolingUnroll, boolToInt(isAvg), perIter)
	return nil
}

func (p *Plan) buildBatchNorm() error {
	d := &p.Desc
	bn := &d.BNorm
	if bn.D == 0 {
		bn.D = 1
	}
	if bn.MB < 0 {
		return status.InvalidArgumentf("BatchNormalization: negative mini-batch %d", bn.MB)
	}
	if err := checkPositive(d.Kind, "C, D, H, W", bn.C, bn.D, bn.H, bn.W); err != nil {
		return err
	}
	if bn.Epsilon < 0 {
		return status.InvalidArgumentf("BatchNormalization: negative epsilon %g", bn.Epsilon)
	}
	if err := p.noPostOpsOrScales(); err != nil {
		return err
	}
	t := d.Types
	if err := checkType(d.Kind, "src", t.Src, s8, f32, bf16); err != nil {
		return err
	}
	if t.Dst != t.Src {
		return status.Unimplementedf("BatchNormalization: dst dtype %s must match src dtype %s", t.Dst, t.Src)
	}
	p.setBlocking(bn.C, p.VLen)
	// Mean, variance and scale-shift are read with the weights padding.
	p.setTailSafety(d.Padding.Src, d.Padding.Weights)
	p.setUnroll(maxDirectUnroll, 1+boolToInt(bn.FuseRelu), 3)
	return nil
}

func (p *Plan) buildReorder() error {
	d := &p.Desc
	r := &d.Reorder
	if len(r.Dims) == 0 {
		r.Dims = []int{1}
		if r.SrcStrides != nil {
			r.SrcStrides = []int{1}
		}
		if r.DstStrides != nil {
			r.DstStrides = []int{1}
		}
	}
	rank := len(r.Dims)
	if rank > MaxReorderRank {
		return status.Unimplementedf("Reorder: rank %d above the maximum %d", rank, MaxReorderRank)
	}
	for axis, dim := range r.Dims {
		if dim < 0 {
			return status.InvalidArgumentf("Reorder: negative dimension %d for axis %d", dim, axis)
		}
	}
	for _, strides := range [][]int{r.SrcStrides, r.DstStrides} {
		if strides == nil {
			continue
		}
		if len(strides) != rank {
			return status.InvalidArgumentf("Reorder: %d strides given for rank %d", len(strides), rank)
		}
		for _, s := range strides {
			if s < 0 {
				return status.InvalidArgumentf("Reorder: negative strides %v", strides)
			}
		}
	}
	if r.SrcStrides == nil {
		r.SrcStrides = shapes.RowMajorStrides(r.Dims)
	}
	if r.DstStrides == nil {
		r.DstStrides = shapes.RowMajorStrides(r.Dims)
	}
	if d.PostOps.Len() > 0 {
		return status.Unimplementedf("Reorder: post-ops (%s) not supported", d.PostOps)
	}
	t := d.Types
	all := []dtypes.DType{f32, bf16, f16, s8, u8, s32}
	if err := firstError(checkType(d.Kind, "src", t.Src, all...), checkType(d.Kind, "dst", t.Dst, all...)); err != nil {
		return err
	}

	// Scales: one value per element of the sub-tensor of the masked axes.
	p.ReorderScaleStrides = make([]int, rank)
	scaleLastAxis := false
	if d.Scales.IsSet() {
		if d.Scales.Mask < 0 || d.Scales.Mask >= 1<<rank {
			return status.InvalidArgumentf("Reorder: scales mask %#x has axes beyond rank %d", d.Scales.Mask, rank)
		}
		count := 1
		for axis := rank - 1; axis >= 0; axis-- {
			if d.Scales.Mask&(1<<axis) != 0 {
				p.ReorderScaleStrides[axis] = count
				count *= r.Dims[axis]
			}
		}
		if len(d.Scales.Values) != count {
			return status.InvalidArgumentf("Reorder: scales mask %#x needs %d values, got %d", d.Scales.Mask, count,
				len(d.Scales.Values))
		}
		scaleLastAxis = d.Scales.Mask&(1<<(rank-1)) != 0
	}

	last := rank - 1
	p.ReorderVectorized = (r.Dims[last] <= 1 || r.SrcStrides[last] == 1) && (r.Dims[last] <= 1 || r.DstStrides[last] == 1)
	p.setBlocking(r.Dims[last], p.VLen)
	if d.Scales.IsSet() {
		p.ScaleValues = make([]float32, len(d.Scales.Values)+p.BlockElems)
		copy(p.ScaleValues, d.Scales.Values)
	}
	p.setTailSafety(d.Padding.Src)
	reserved := boolToInt(d.Scales.IsSet() && !scaleLastAxis)
	p.setUnroll(maxDirectUnroll, reserved, 1+boolToInt(scaleLastAxis))
	return nil
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
