// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package driver

import (
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/primitives/pkg/core/dtypes"
	"github.com/gomlx/primitives/pkg/primitives/plan"
	"github.com/gomlx/primitives/pkg/primitives/status"
)

// buffer is a pooled flat slice.
type buffer struct {
	dtype dtypes.DType
	flat  any
}

type bufferPoolKey struct {
	dtype  dtypes.DType
	length int
}

// bufferPools holds one sync.Pool per (dtype, length).
var bufferPools sync.Map

func getBufferPool(dtype dtypes.DType, length int) *sync.Pool {
	key := bufferPoolKey{dtype: dtype, length: length}
	pool, ok := bufferPools.Load(key)
	if !ok {
		pool, _ = bufferPools.LoadOrStore(key, &sync.Pool{
			New: func() any {
				return &buffer{dtype: dtype, flat: dtype.MakeFlat(length)}
			},
		})
	}
	return pool.(*sync.Pool)
}

// Scratchpad is the per-execution working memory of a primitive: one typed segment per plan.ScratchKey.
//
// It's sized for a number of threads and can be reused by sequential executions of primitives with
// the same plan. It must not be shared by concurrent executions.
type Scratchpad struct {
	plan     *plan.Plan
	threads  int
	segments [plan.NumScratchKeys]plan.Segment
	buffers  [plan.NumScratchKeys]*buffer
	bytes    int
}

// NewScratchpad allocates (from a pool) the scratchpad of the plan for the given number of threads.
//
// It returns an error wrapping status.ErrResourceExhausted if its size exceeds maxBytes (if maxBytes > 0).
func NewScratchpad(p *plan.Plan, threads, maxBytes int) (*Scratchpad, error) {
	if threads < 1 {
		return nil, status.InvalidArgumentf("NewScratchpad: threads must be >= 1, got %d", threads)
	}
	bytes := p.ScratchpadBytes(threads)
	if maxBytes > 0 && bytes > maxBytes {
		return nil, status.ResourceExhaustedf("%s needs a scratchpad of %s for %d threads, above the limit of %s",
			p.Desc.Kind, humanize.IBytes(uint64(bytes)), threads, humanize.IBytes(uint64(maxBytes)))
	}
	s := &Scratchpad{plan: p, threads: threads, bytes: bytes}
	for _, segment := range p.Scratchpad(threads) {
		s.segments[segment.Key] = segment
		s.buffers[segment.Key] = getBufferPool(segment.DType, segment.Elems).Get().(*buffer)
	}
	return s, nil
}

// Threads returns the number of threads the scratchpad was sized for.
func (s *Scratchpad) Threads() int { return s.threads }

// Bytes returns the total size of the scratchpad.
func (s *Scratchpad) Bytes() int { return s.bytes }

// Plan returns the plan the scratchpad was sized for.
func (s *Scratchpad) Plan() *plan.Plan { return s.plan }

// Get returns the flat slice of the segment, or nil if the plan doesn't use it.
func (s *Scratchpad) Get(key plan.ScratchKey) any {
	if s.buffers[key] == nil {
		return nil
	}
	return s.buffers[key].flat
}

// float32Segment returns the segment as a []float32, or nil.
func (s *Scratchpad) float32Segment(key plan.ScratchKey) []float32 {
	flat, _ := s.Get(key).([]float32)
	return flat
}

// Release returns the memory to the pool. The scratchpad must not be used afterwards.
func (s *Scratchpad) Release() {
	for key, buf := range s.buffers {
		if buf == nil {
			continue
		}
		getBufferPool(buf.dtype, s.segments[key].Elems).Put(buf)
		s.buffers[key] = nil
	}
}
