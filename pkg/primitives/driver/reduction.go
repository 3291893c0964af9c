// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package driver

import (
	"github.com/gomlx/primitives/pkg/core/dtypes/bfloat16"
	"github.com/gomlx/primitives/pkg/primitives/convert"
	"github.com/gomlx/primitives/pkg/primitives/partition"
	"github.com/gomlx/primitives/pkg/primitives/plan"
	"github.com/gomlx/primitives/pkg/support/xsync"
)

// reducer runs the compute phase of ConvolutionBackwardWeights into the ReductionBuffer and then
// reduces the mini-batch workers' slots into the weights gradient.
//
// Both strategies do the same arithmetic in the same order, so their results are bit-identical.
type reducer interface {
	run(e *execution, reduction []float32) error
}

// barrierReducer runs compute and reduction in the same team, separated by a barrier all workers
// (including idle ones) wait on. A worker panic aborts the barrier, so the others don't wait forever.
type barrierReducer struct{}

func (barrierReducer) run(e *execution, reduction []float32) error {
	pool := e.d.pool
	barrier := xsync.NewBarrier(e.nthr).WithSleepHooks(pool.WorkerIsAsleep, pool.WorkerRestarted)
	return e.parallel(func(error) { barrier.Abort() }, func(ithr, _ int) {
		a := &e.args[ithr]
		if !a.Grid.IsIdle() {
			e.k.Call(a)
		}
		if !barrier.Wait() {
			return
		}
		e.reduce(ithr, reduction)
	})
}

// twoPassReducer runs the compute and the reduction as two parallel passes: the end of the first pass
// is the synchronization point. It works with any pool, including one with parallelism disabled.
type twoPassReducer struct{}

func (twoPassReducer) run(e *execution, reduction []float32) error {
	err := e.parallel(nil, func(ithr, _ int) {
		a := &e.args[ithr]
		if !a.Grid.IsIdle() {
			e.k.Call(a)
		}
	})
	if err != nil {
		return err
	}
	return e.parallel(nil, func(ithr, _ int) { e.reduce(ithr, reduction) })
}

// reduce is worker ithr's share of the reduction: for each of its groups, the mini-batch workers of the
// group split the group's weights with Balance1D.
//
// Slots are added in mini-batch worker order: slot 0, then 1, 2, ... For a bfloat16 gradient the sum
// accumulates in slot 0 and the last addition is fused with the conversion.
func (e *execution) reduce(ithr int, reduction []float32) {
	a := &e.args[ithr]
	if a.Grid.IsIdle() {
		return
	}
	p := e.p
	numGroups := p.Desc.Conv.Groups
	groupSize := p.WeightsGroupSize
	numSlots := a.Grid.NumMBWorkers
	start, count := partition.Balance1D(groupSize, numSlots, a.Grid.MBWorker)
	if count == 0 {
		return
	}
	slot := func(k, g int) []float32 {
		base := (k*numGroups + g) * groupSize
		return reduction[base+start : base+start+count]
	}
	for g := a.Groups.Start; g < a.Groups.End(); g++ {
		dstOff := e.t.Weights.Offset + g*groupSize + start
		switch dst := e.t.Weights.Flat.(type) {
		case []float32:
			out := dst[dstOff : dstOff+count]
			copy(out, slot(0, g))
			for k := 1; k < numSlots; k++ {
				convert.AddInto(out, slot(k, g))
			}
		case []bfloat16.BFloat16:
			out := dst[dstOff : dstOff+count]
			if numSlots == 1 {
				if p.CodePath == plan.EmulatedBF16 {
					convert.EmulatedConvertDown(out, slot(0, g))
				} else {
					convert.ConvertDown(out, slot(0, g))
				}
				continue
			}
			acc := slot(0, g)
			for k := 1; k < numSlots-1; k++ {
				convert.AddInto(acc, slot(k, g))
			}
			convert.FusedAddConvertDown(out, acc, slot(numSlots-1, g))
		}
	}
}
