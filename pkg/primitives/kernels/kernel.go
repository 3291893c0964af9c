// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package kernels generates the executable kernel of a plan.Plan and defines the per-call argument
// record (Args) the driver fills for each worker.
//
// Generation resolves everything that depends on the plan (dtype loaders and storers, post-ops, the
// bfloat16 code path, the unrolled loop structure), so the body of a kernel never dispatches on the
// configuration. A generated kernel is immutable and may be called concurrently with distinct Args.
// Kernels never allocate: their working registers come from the scratchpad, in Args.Regs.
package kernels

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/primitives/pkg/primitives/partition"
	"github.com/gomlx/primitives/pkg/primitives/plan"
	"github.com/gomlx/primitives/pkg/primitives/status"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Phase selects which body of a kernel is called.
type Phase int

const (
	// PhaseMain is the primitive itself.
	PhaseMain Phase = iota

	// PhaseBiasGradient computes the bias gradient of ConvolutionBackwardWeights.
	PhaseBiasGradient

	numPhases
)

// String implements fmt.Stringer.
func (p Phase) String() string {
	switch p {
	case PhaseMain:
		return "main"
	case PhaseBiasGradient:
		return "bias_gradient"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Args is the argument record of one kernel call. It's filled by the driver for each worker and
// each work range. Tensors are given as flat slices ([]float32, []bfloat16.BFloat16, ...) plus the
// offset of their first element.
//
// Roles follow plan.Types: for ConvolutionBackwardWeights Dst is diff_dst (read), Weights the weights
// gradient and Bias the bias gradient (written).
type Args struct {
	Phase Phase

	Src, Weights, Bias, Dst             any
	SrcOff, WeightsOff, BiasOff, DstOff int

	// Mean, Variance and ScaleShift ([2, C]) of BatchNormalization, sliced at their first element.
	Mean, Variance, ScaleShift []float32

	// Acc is the accumulator: the whole KeyAcc segment for InnerProduct, the worker's plane for
	// ConvolutionForward.
	Acc any

	// Reduction is the ReductionBuffer of ConvolutionBackwardWeights, or nil if the weights gradient is
	// written directly.
	Reduction []float32

	// Regs and IRegs are the worker's register files.
	Regs  []float32
	IRegs []int32

	// Start and Count are the worker's range over the primitive's main iteration space: flattened MB·OC
	// for InnerProduct, (image, group) rows for ConvolutionForward, output rows (MB·OD·OH) for Pooling,
	// positions (MB·D·H·W) for BatchNormalization, outer rows or elements for Reorder, and channels
	// (Groups·OC) for PhaseBiasGradient.
	Start, Count int

	// Start2 and Count2 are the output channel range of ConvolutionForward.
	Start2, Count2 int

	// Grid, Groups and MBs are the worker's position in the ConvolutionBackwardWeights grid.
	Grid        partition.BwdWeights
	Groups, MBs partition.Range

	nd        partition.NDIndex
	ndIndices [plan.MaxReorderRank]int
}

// Kernel is the executable form of a plan.
type Kernel struct {
	plan    *plan.Plan
	bodies  [numPhases]func(a *Args)
	listing []string
}

// Plan returns the plan the kernel was generated for.
func (k *Kernel) Plan() *plan.Plan { return k.plan }

// HasPhase returns whether the kernel has a body for phase.
func (k *Kernel) HasPhase(phase Phase) bool {
	return phase >= 0 && phase < numPhases && k.bodies[phase] != nil
}

// Call executes the body of a.Phase over the work range in a.
func (k *Kernel) Call(a *Args) {
	if !k.HasPhase(a.Phase) {
		exceptions.Panicf("kernel %s has no phase %s", k.plan.Desc.Kind, a.Phase)
	}
	k.bodies[a.Phase](a)
}

// Listing returns a human-readable description of the generated code: the epilogue stages and the loop
// structure. It's meant for debugging and tests.
func (k *Kernel) Listing() string {
	return strings.Join(k.listing, "\n")
}

// Generate returns the kernel for the plan.
//
// Every plan returned by plan.Build can be generated: errors indicate a mismatch between the two
// packages and are wrapped as status.ErrRuntime.
func Generate(p *plan.Plan) (*Kernel, error) {
	if p == nil {
		return nil, status.InvalidArgumentf("kernels.Generate: nil plan")
	}
	k := &Kernel{plan: p}
	err := exceptions.TryCatch[error](func() {
		k.listing = append(k.listing, fmt.Sprintf("%s[%s] %s vlen=%d block=%d unroll=%d path=%s",
			p.Desc.Kind, p.Desc.Types, p.Caps.Level, p.VLen, p.BlockElems, p.Unroll, p.CodePath))
		switch p.Desc.Kind {
		case plan.InnerProduct:
			k.generateInnerProduct()
		case plan.ConvolutionForward:
			k.generateConvForward()
		case plan.ConvolutionBackwardWeights:
			k.generateConvBackwardWeights()
		case plan.Pooling:
			k.generatePooling()
		case plan.BatchNormalization:
			k.generateBatchNorm()
		case plan.Reorder:
			k.generateReorder()
		default:
			exceptions.Panicf("kernels.Generate: invalid kind %s", p.Desc.Kind)
		}
	})
	if err != nil {
		return nil, errors.Wrapf(status.ErrRuntime, "kernels.Generate(%s): %v", p.Desc.Kind, err)
	}
	if klog.V(2).Enabled() {
		klog.Infof("kernels.Generate:\n%s", k.Listing())
	}
	return k, nil
}

// vreg returns vector register idx of the register file.
func vreg(regs []float32, block, idx int) []float32 {
	return regs[idx*block : (idx+1)*block]
}

// ivreg returns integer vector register idx of the register file.
func ivreg(regs []int32, block, idx int) []int32 {
	return regs[idx*block : (idx+1)*block]
}

func (k *Kernel) addListing(indent string, lines ...string) {
	for _, line := range lines {
		k.listing = append(k.listing, indent+line)
	}
}
