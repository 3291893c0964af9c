// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package partition splits iteration spaces across a team of workers.
//
// All functions are pure and deterministic: the same arguments always yield the same ranges, so
// repeated invocations of a primitive partition the work identically. None of them panics on
// zero-sized inputs.
package partition

// Range is one worker's contiguous slice [Start, Start+Count) of a linear iteration space.
type Range struct {
	Start, Count int
}

// End returns Start+Count.
func (r Range) End() int { return r.Start + r.Count }

// IsEmpty returns whether the range has no items.
func (r Range) IsEmpty() bool { return r.Count <= 0 }

// Balance1D returns the range of workerID when splitting n items across teamSize workers.
//
// If teamSize <= 1 or n == 0 the (only) worker gets [0, n). Otherwise the first n mod teamSize
// workers get ceil(n/teamSize) items, and the others floor(n/teamSize).
func Balance1D(n, teamSize, workerID int) (start, count int) {
	if teamSize <= 1 || n <= 0 {
		return 0, max(n, 0)
	}
	n1 := (n + teamSize - 1) / teamSize
	n2 := n1 - 1
	t1 := n - n2*teamSize // Number of workers that get n1 items.
	if workerID < t1 {
		count = n1
	} else {
		count = n2
	}
	if workerID <= t1 {
		start = workerID * n1
	} else {
		start = t1*n1 + (workerID-t1)*n2
	}
	return
}

// Split is Balance1D returning a Range.
func Split(n, teamSize, workerID int) Range {
	start, count := Balance1D(n, teamSize, workerID)
	return Range{Start: start, Count: count}
}

// Balance2D splits an nY × nX iteration space across teamSize workers.
//
// Workers are arranged into groupCount = min(xSplitFactor, teamSize) groups along X, sized as evenly as
// possible (groups with one extra worker come first). X is split across groups with Balance1D, and Y is
// split across the workers of each group with Balance1D. An xSplitFactor <= 0 is treated as 1.
func Balance2D(teamSize, workerID, nY, nX, xSplitFactor int) (yStart, yCount, xStart, xCount int) {
	if teamSize < 1 {
		teamSize = 1
	}
	groupCount := min(max(xSplitFactor, 1), teamSize)
	groupSizeSmall := teamSize / groupCount
	groupSizeBig := groupSizeSmall + 1
	numBigGroups := teamSize % groupCount

	var group, workerInGroup, groupSize int
	if bigWorkers := numBigGroups * groupSizeBig; workerID < bigWorkers {
		group = workerID / groupSizeBig
		workerInGroup = workerID % groupSizeBig
		groupSize = groupSizeBig
	} else {
		rest := workerID - bigWorkers
		group = numBigGroups + rest/groupSizeSmall
		workerInGroup = rest % groupSizeSmall
		groupSize = groupSizeSmall
	}
	xStart, xCount = Balance1D(nX, groupCount, group)
	yStart, yCount = Balance1D(nY, groupSize, workerInGroup)
	return
}

// BwdWeights describes how a worker participates in a weights-gradient computation: the team is
// arranged into a grid of NumGroupWorkers × NumMBWorkers, where workers in the same group-column
// accumulate the same weights over disjoint slices of the mini-batch.
type BwdWeights struct {
	GroupWorker, NumGroupWorkers int
	MBWorker, NumMBWorkers       int
}

// IsIdle returns whether the worker falls outside the grid and has no work.
func (b BwdWeights) IsIdle() bool {
	return b.GroupWorker < 0 || b.MBWorker < 0
}

// NeedsReduction returns whether partial results over the mini-batch must be reduced.
func (b BwdWeights) NeedsReduction() bool {
	return b.NumMBWorkers > 1
}

// BwdWeightsBalance places worker ithr of nthr into the (groups × mini-batch) grid used for weights gradients.
//
// Groups are given priority: nthrG = min(numGroups, nthr), then nthrMB = min(mb, nthr/nthrG). Workers beyond
// the grid get -1 indices.
func BwdWeightsBalance(ithr, nthr, numGroups, mb int) BwdWeights {
	var b BwdWeights
	b.NumGroupWorkers = max(min(numGroups, nthr), 1)
	b.NumMBWorkers = max(min(mb, nthr/b.NumGroupWorkers), 1)
	if ithr/b.NumMBWorkers >= b.NumGroupWorkers {
		b.GroupWorker, b.MBWorker = -1, -1
	} else {
		b.GroupWorker = ithr / b.NumMBWorkers
		b.MBWorker = ithr % b.NumMBWorkers
	}
	return b
}
