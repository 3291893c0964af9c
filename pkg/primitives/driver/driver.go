// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package driver executes generated kernels: it validates the tensors, partitions the work across a team
// of workers, fills the per-worker kernels.Args, and performs the cross-thread reduction of the weights
// gradient.
package driver

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/primitives/internal/workerspool"
	"github.com/gomlx/primitives/pkg/core/dtypes"
	"github.com/gomlx/primitives/pkg/core/dtypes/bfloat16"
	"github.com/gomlx/primitives/pkg/core/tensors"
	"github.com/gomlx/primitives/pkg/primitives/kernels"
	"github.com/gomlx/primitives/pkg/primitives/partition"
	"github.com/gomlx/primitives/pkg/primitives/plan"
	"github.com/gomlx/primitives/pkg/primitives/status"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ReductionMode selects how the workers of ConvolutionBackwardWeights synchronize before the
// reduction of their partial results.
type ReductionMode int

const (
	// ReductionAuto uses the barrier when the pool can co-schedule the team, two passes otherwise.
	ReductionAuto ReductionMode = iota

	// ReductionBarrier runs compute and reduction in one team, separated by a barrier.
	ReductionBarrier

	// ReductionTwoPass runs the compute and the reduction as two separate parallel passes.
	ReductionTwoPass
)

// String implements fmt.Stringer.
func (m ReductionMode) String() string {
	switch m {
	case ReductionAuto:
		return "auto"
	case ReductionBarrier:
		return "barrier"
	case ReductionTwoPass:
		return "twopass"
	}
	return fmt.Sprintf("ReductionMode(%d)", int(m))
}

// ParseReductionMode parses the name returned by ReductionMode.String.
func ParseReductionMode(name string) (ReductionMode, error) {
	for _, m := range []ReductionMode{ReductionAuto, ReductionBarrier, ReductionTwoPass} {
		if m.String() == name {
			return m, nil
		}
	}
	return ReductionAuto, status.InvalidArgumentf("unknown reduction mode %q (valid: auto, barrier, twopass)", name)
}

// Driver executes kernels on a worker pool. It's safe for concurrent use.
type Driver struct {
	pool *workerspool.Pool
	mode ReductionMode
}

// New returns a Driver running teams on the given pool.
func New(pool *workerspool.Pool, mode ReductionMode) *Driver {
	return &Driver{pool: pool, mode: mode}
}

// reducer returns the reduction strategy for a team of nthr workers.
func (d *Driver) reducer(nthr int) reducer {
	switch d.mode {
	case ReductionTwoPass:
		return twoPassReducer{}
	case ReductionBarrier:
		if d.pool.CanCoSchedule(nthr) {
			return barrierReducer{}
		}
		klog.Warningf("driver: barrier reduction requested, but the worker pool can't co-schedule %d workers: "+
			"using two passes", nthr)
		return twoPassReducer{}
	}
	if d.pool.CanCoSchedule(nthr) {
		return barrierReducer{}
	}
	return twoPassReducer{}
}

// execution is the state of one Execute call.
type execution struct {
	d       *Driver
	k       *kernels.Kernel
	p       *plan.Plan
	t       *Tensors
	scratch *Scratchpad
	nthr    int
	args    []kernels.Args
}

// Execute runs the kernel over the tensors with nthr workers, using the scratchpad (which must have been
// created for the kernel's plan with at least nthr threads).
//
// Errors wrap status.ErrInvalidArgument for tensors or a scratchpad that don't match the plan,
// status.ErrResourceExhausted for a scratchpad sized for fewer than nthr threads, and status.ErrRuntime if
// a worker panicked.
func (d *Driver) Execute(k *kernels.Kernel, t Tensors, scratch *Scratchpad, nthr int) error {
	p := k.Plan()
	if nthr < 1 {
		return status.InvalidArgumentf("%s: thread count must be >= 1, got %d", p.Desc.Kind, nthr)
	}
	if scratch == nil || scratch.Plan() != p {
		return status.InvalidArgumentf("%s: scratchpad was not created for this plan", p.Desc.Kind)
	}
	if scratch.Threads() < nthr {
		return status.ResourceExhaustedf("%s: scratchpad sized for %d threads, too small for %d",
			p.Desc.Kind, scratch.Threads(), nthr)
	}
	if err := validate(p, &t); err != nil {
		return err
	}
	e := &execution{d: d, k: k, p: p, t: &t, scratch: scratch, nthr: nthr}
	e.initArgs()
	if klog.V(2).Enabled() {
		klog.Infof("driver.Execute: %s with %d threads, scratchpad %s", p.Desc.Kind, nthr,
			humanize.IBytes(uint64(scratch.Bytes())))
	}

	var err error
	switch p.Desc.Kind {
	case plan.InnerProduct:
		ip := p.Desc.InnerProduct
		err = e.run1D(ip.MB * ip.OC)
	case plan.ConvolutionForward:
		err = e.runConvForward()
	case plan.ConvolutionBackwardWeights:
		err = e.runConvBackwardWeights()
	case plan.Pooling:
		pd := p.Desc.Pool
		err = e.run1D(pd.MB * pd.OD * pd.OH)
	case plan.BatchNormalization:
		bn := p.Desc.BNorm
		err = e.run1D(bn.MB * bn.D * bn.H * bn.W)
	case plan.Reorder:
		err = e.run1D(reorderWork(p))
	default:
		err = status.InvalidArgumentf("driver: invalid kind %s", p.Desc.Kind)
	}
	if err == nil && klog.V(3).Enabled() {
		out := t.Dst
		if p.Desc.Kind == plan.ConvolutionBackwardWeights {
			out = t.Weights
		}
		klog.Infof("driver.Execute: %s output %s", p.Desc.Kind, out.Summary(4))
	}
	return err
}

// reorderWork is the size of the Reorder iteration space: rows if vectorized, elements otherwise.
func reorderWork(p *plan.Plan) int {
	dims := p.Desc.Reorder.Dims
	if p.ReorderVectorized {
		if dims[len(dims)-1] == 0 {
			return 0
		}
		dims = dims[:len(dims)-1]
	}
	work := 1
	for _, dim := range dims {
		work *= dim
	}
	return work
}

// initArgs fills the fields common to all workers: tensors and per-worker register files.
func (e *execution) initArgs() {
	e.args = make([]kernels.Args, e.nthr)
	regsPerWorker := e.p.Caps.NumVRegs * e.p.BlockElems
	vregs := e.scratch.float32Segment(plan.KeyVRegs)
	iregs, _ := e.scratch.Get(plan.KeyIRegs).([]int32)
	t := e.t
	for ithr := range e.args {
		a := &e.args[ithr]
		a.Src, a.SrcOff = t.Src.Flat, t.Src.Offset
		a.Weights, a.WeightsOff = t.Weights.Flat, t.Weights.Offset
		a.Bias, a.BiasOff = t.Bias.Flat, t.Bias.Offset
		a.Dst, a.DstOff = t.Dst.Flat, t.Dst.Offset
		a.Mean = float32From(t.Mean)
		a.Variance = float32From(t.Variance)
		a.ScaleShift = float32From(t.ScaleShift)
		a.Regs = vregs[ithr*regsPerWorker : (ithr+1)*regsPerWorker]
		if iregs != nil {
			a.IRegs = iregs[ithr*regsPerWorker : (ithr+1)*regsPerWorker]
		}
	}
}

// float32From returns the flat float32 storage of v from its first element, or nil.
func float32From(v tensors.View) []float32 {
	flat, ok := v.Flat.([]float32)
	if !ok {
		return nil
	}
	return flat[v.Offset:]
}

// parallel runs fn on the team, converting worker panics to errors wrapping status.ErrRuntime.
func (e *execution) parallel(onPanic func(err error), fn func(ithr, nthr int)) error {
	err := e.d.pool.Parallel(e.nthr, onPanic, fn)
	if err != nil {
		return errors.Wrapf(status.ErrRuntime, "%s: %v", e.p.Desc.Kind, err)
	}
	return nil
}

// run1D splits a 1D iteration space of the given size with Balance1D.
func (e *execution) run1D(work int) error {
	if work == 0 {
		return nil
	}
	acc := e.scratch.Get(plan.KeyAcc)
	return e.parallel(nil, func(ithr, nthr int) {
		a := &e.args[ithr]
		a.Phase = kernels.PhaseMain
		a.Start, a.Count = partition.Balance1D(work, nthr, ithr)
		if a.Count == 0 {
			return
		}
		a.Acc = acc
		e.k.Call(a)
	})
}

func (e *execution) runConvForward() error {
	c := e.p.Desc.Conv
	rows := c.MB * c.Groups
	if rows == 0 {
		return nil
	}
	acc := e.scratch.float32Segment(plan.KeyAcc)
	stride := e.p.AccPlaneStride()
	return e.parallel(nil, func(ithr, nthr int) {
		a := &e.args[ithr]
		a.Phase = kernels.PhaseMain
		a.Start, a.Count, a.Start2, a.Count2 = partition.Balance2D(nthr, ithr, rows, c.OC, e.p.OCSplit)
		if a.Count == 0 || a.Count2 == 0 {
			return
		}
		a.Acc = acc[ithr*stride : (ithr+1)*stride]
		e.k.Call(a)
	})
}

func (e *execution) runConvBackwardWeights() error {
	c := e.p.Desc.Conv
	if c.MB == 0 {
		zeroFill(e.t.Weights)
		if e.p.Desc.Types.Bias != dtypes.InvalidDType {
			zeroFill(e.t.Bias)
		}
		return nil
	}
	var reduction []float32
	if e.p.ReductionElems(e.nthr) > 0 {
		reduction = e.scratch.float32Segment(plan.KeyReduction)
	}
	e.assignWeightsGrid(reduction)
	var err error
	if reduction == nil {
		err = e.parallel(nil, func(ithr, _ int) { e.k.Call(&e.args[ithr]) })
	} else {
		err = e.d.reducer(e.nthr).run(e, reduction)
	}
	if err != nil || !e.k.HasPhase(kernels.PhaseBiasGradient) {
		return err
	}
	channels := c.Groups * c.OC
	return e.parallel(nil, func(ithr, nthr int) {
		a := &e.args[ithr]
		a.Phase = kernels.PhaseBiasGradient
		a.Start, a.Count = partition.Balance1D(channels, nthr, ithr)
		if a.Count > 0 {
			e.k.Call(a)
		}
	})
}

// assignWeightsGrid places each worker on the (group, mini-batch) grid of the weights gradient.
func (e *execution) assignWeightsGrid(reduction []float32) {
	c := e.p.Desc.Conv
	for ithr := range e.args {
		a := &e.args[ithr]
		a.Phase = kernels.PhaseMain
		a.Grid = partition.BwdWeightsBalance(ithr, e.nthr, c.Groups, c.MB)
		if !a.Grid.IsIdle() {
			a.Groups = partition.Split(c.Groups, a.Grid.NumGroupWorkers, a.Grid.GroupWorker)
			a.MBs = partition.Split(c.MB, a.Grid.NumMBWorkers, a.Grid.MBWorker)
		}
		a.Reduction = reduction
	}
}

// zeroFill sets all the elements of a dense float32 or bfloat16 view to zero.
func zeroFill(v tensors.View) {
	size := v.Size()
	switch flat := v.Flat.(type) {
	case []float32:
		clear(flat[v.Offset : v.Offset+size])
	case []bfloat16.BFloat16:
		clear(flat[v.Offset : v.Offset+size])
	}
}
