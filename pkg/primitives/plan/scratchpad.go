// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plan

import (
	"github.com/gomlx/primitives/pkg/core/dtypes"
	"github.com/gomlx/primitives/pkg/primitives/partition"
)

// ScratchKey identifies a segment of a primitive's scratchpad.
type ScratchKey int

const (
	// KeyVRegs is the per-worker register file: NumVRegs vectors of BlockElems float32 per worker.
	KeyVRegs ScratchKey = iota

	// KeyAcc holds accumulators: for InnerProduct the whole MB×OC accumulator (Acc dtype), for
	// ConvolutionForward one output-channel plane per worker.
	KeyAcc

	// KeyIRegs is the per-worker int32 register file of integer kernels (integer pooling).
	KeyIRegs

	// KeyReduction is the ReductionBuffer of ConvolutionBackwardWeights: one float32 copy of the weights
	// gradient per mini-batch worker.
	KeyReduction

	numScratchKeys
)

// NumScratchKeys is the number of distinct scratchpad keys.
const NumScratchKeys = int(numScratchKeys)

// String implements fmt.Stringer.
func (k ScratchKey) String() string {
	switch k {
	case KeyVRegs:
		return "vregs"
	case KeyIRegs:
		return "iregs"
	case KeyAcc:
		return "acc"
	case KeyReduction:
		return "reduction"
	}
	return "invalid"
}

// Segment is one named region of the scratchpad.
type Segment struct {
	Key   ScratchKey
	DType dtypes.DType
	Elems int
}

// Bytes returns the size of the segment in bytes.
func (s Segment) Bytes() int { return s.Elems * s.DType.Size() }

// Scratchpad returns the segments a primitive needs to execute with the given number of threads.
// It's a deterministic function of the plan and threads.
func (p *Plan) Scratchpad(threads int) []Segment {
	threads = max(threads, 1)
	segments := []Segment{{Key: KeyVRegs, DType: dtypes.Float32, Elems: threads * p.Caps.NumVRegs * p.BlockElems}}
	switch p.Desc.Kind {
	case InnerProduct:
		ip := p.Desc.InnerProduct
		segments = append(segments, Segment{Key: KeyAcc, DType: p.Acc, Elems: ip.MB*ip.OC + p.BlockElems})
	case ConvolutionForward:
		segments = append(segments, Segment{Key: KeyAcc, DType: dtypes.Float32,
			Elems: threads * p.AccPlaneStride()})
	case Pooling:
		if p.Acc == dtypes.Int32 {
			segments = append(segments, Segment{Key: KeyIRegs, DType: dtypes.Int32,
				Elems: threads * p.Caps.NumVRegs * p.BlockElems})
		}
	case ConvolutionBackwardWeights:
		if elems := p.ReductionElems(threads); elems > 0 {
			segments = append(segments, Segment{Key: KeyReduction, DType: dtypes.Float32, Elems: elems})
		}
	}
	return segments
}

// ScratchpadBytes returns the total size in bytes of the scratchpad for the given number of threads.
func (p *Plan) ScratchpadBytes(threads int) int {
	total := 0
	for _, s := range p.Scratchpad(threads) {
		total += s.Bytes()
	}
	return total
}

// AccPlaneStride is the per-worker stride of the ConvolutionForward accumulator: one output plane plus one
// block of padding, so tail loads of the accumulator never need guarding.
func (p *Plan) AccPlaneStride() int {
	return p.OutputSpatial + p.BlockElems
}

// ReductionElems returns the size of the ReductionBuffer of ConvolutionBackwardWeights for the given number
// of threads: one copy of all groups' weights per mini-batch worker. It is 0 when the gradient can be
// accumulated directly into a float32 output.
func (p *Plan) ReductionElems(threads int) int {
	if p.Desc.Kind != ConvolutionBackwardWeights {
		return 0
	}
	grid := partition.BwdWeightsBalance(0, max(threads, 1), p.Desc.Conv.Groups, p.Desc.Conv.MB)
	if !grid.NeedsReduction() && p.Desc.Types.Weights == dtypes.Float32 {
		return 0
	}
	return grid.NumMBWorkers * p.Desc.Conv.Groups * p.WeightsGroupSize
}
