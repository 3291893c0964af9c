// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package primitives is a CPU engine for tensor primitives: inner products, convolutions (forward and
// weights gradient), pooling, batch normalization and reorders.
//
// A primitive is described by a plan.Desc. The Engine builds its plan.Plan (the hardware-dependent
// configuration: blocking, unrolling, tail masks, code path), generates a kernels.Kernel for it once, and
// executes it over tensors.View arguments with a team of workers:
//
//	engine := must.M1(primitives.NewFromEnv())
//	ip, err := engine.BuildPlanAndKernel(plan.Desc{Kind: plan.InnerProduct, ...})
//	if status.CodeOf(err) == status.Unimplemented {
//		// fall back to a reference implementation.
//	}
//	scratch := must.M1(engine.NewScratchpad(ip, 0))
//	defer scratch.Release()
//	err = engine.Execute(ip, driver.Tensors{Src: src, Weights: weights, Dst: dst}, scratch, 0)
//
// Errors wrap one of the status sentinels, see status.CodeOf.
package primitives

import (
	"context"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/primitives/internal/workerspool"
	"github.com/gomlx/primitives/pkg/primitives/driver"
	"github.com/gomlx/primitives/pkg/primitives/isa"
	"github.com/gomlx/primitives/pkg/primitives/kernels"
	"github.com/gomlx/primitives/pkg/primitives/plan"
	"github.com/gomlx/primitives/pkg/primitives/status"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// Engine builds, caches and executes primitives. It's safe for concurrent use.
type Engine struct {
	config Config
	caps   isa.Capabilities
	pool   *workerspool.Pool
	driver *driver.Driver

	// cacheMu protects cache and cacheOrder.
	cacheMu    sync.Mutex
	cache      map[string]*cacheEntry
	cacheOrder []string
}

// cacheEntry is built once: concurrent requests for the same plan wait on ready.
type cacheEntry struct {
	ready     chan struct{}
	primitive *Primitive
	err       error
}

// Primitive is a plan and its generated kernel. It's immutable and can be executed concurrently.
type Primitive struct {
	plan   *plan.Plan
	kernel *kernels.Kernel
}

// Plan returns the plan of the primitive.
func (p *Primitive) Plan() *plan.Plan { return p.plan }

// Kernel returns the generated kernel.
func (p *Primitive) Kernel() *kernels.Kernel { return p.kernel }

// Key returns the canonical key of the plan.
func (p *Primitive) Key() string { return p.plan.Key() }

// ScratchpadBytes returns the size of the scratchpad needed to execute the primitive with threads workers.
func (p *Primitive) ScratchpadBytes(threads int) int { return p.plan.ScratchpadBytes(threads) }

// String implements fmt.Stringer.
func (p *Primitive) String() string { return p.plan.String() }

// New creates an Engine with the given configuration, see ParseConfig for the format.
func New(config string) (*Engine, error) {
	c, err := ParseConfig(config)
	if err != nil {
		return nil, err
	}
	caps := isa.Detect()
	if c.ISA != nil {
		caps, err = caps.Cap(*c.ISA)
		if err != nil {
			return nil, errors.Wrapf(status.ErrInvalidArgument, "primitives.New(%q): %v", config, err)
		}
	}
	return newEngine(c, caps), nil
}

// NewFromEnv creates an Engine configured by the GOMLX_PRIMITIVES environment variable if set, or by
// DefaultConfig otherwise.
func NewFromEnv() (*Engine, error) {
	return New(configFromEnv())
}

func newEngine(c Config, caps isa.Capabilities) *Engine {
	pool := workerspool.NewWithParallelism(c.Threads)
	e := &Engine{
		config: c,
		caps:   caps,
		pool:   pool,
		driver: driver.New(pool, c.Reduction),
		cache:  make(map[string]*cacheEntry),
	}
	klog.V(1).Infof("primitives.New: %s, capabilities %s", c, caps)
	return e
}

// Config returns the configuration of the engine.
func (e *Engine) Config() Config { return e.config }

// Capabilities returns the instruction set the engine generates kernels for.
func (e *Engine) Capabilities() isa.Capabilities { return e.caps }

// BuildPlanAndKernel returns the primitive for desc. A desc.Threads of 0 is replaced by the configured
// number of threads.
//
// Kernels are generated once per plan key and memoized, up to the configured cache size: beyond that the
// oldest primitives are evicted.
//
// Errors wrap status.ErrUnimplemented if there is no kernel for the description (the caller should fall
// back to another implementation) or status.ErrInvalidArgument for malformed descriptions.
func (e *Engine) BuildPlanAndKernel(desc plan.Desc) (*Primitive, error) {
	if desc.Threads == 0 {
		desc.Threads = e.config.Threads
	}
	p, err := plan.Build(desc, e.caps)
	if err != nil {
		return nil, err
	}
	key := p.Key()

	e.cacheMu.Lock()
	entry, found := e.cache[key]
	if found {
		e.cacheMu.Unlock()
		<-entry.ready
		return entry.primitive, entry.err
	}
	entry = &cacheEntry{ready: make(chan struct{})}
	e.lockedInsert(key, entry)
	e.cacheMu.Unlock()

	k, err := kernels.Generate(p)
	if err != nil {
		entry.err = err
		e.cacheMu.Lock()
		if e.cache[key] == entry {
			e.lockedRemove(key)
		}
		e.cacheMu.Unlock()
	} else {
		entry.primitive = &Primitive{plan: p, kernel: k}
	}
	close(entry.ready)
	return entry.primitive, entry.err
}

// lockedInsert adds the entry, evicting the oldest ones if the cache is full.
// It must be called with cacheMu locked.
func (e *Engine) lockedInsert(key string, entry *cacheEntry) {
	for len(e.cacheOrder) >= e.config.CacheSize {
		oldest := e.cacheOrder[0]
		klog.V(1).Infof("primitives: cache full (%d entries), evicting %q", e.config.CacheSize, oldest)
		e.lockedRemove(oldest)
	}
	e.cache[key] = entry
	e.cacheOrder = append(e.cacheOrder, key)
}

// lockedRemove must be called with cacheMu locked.
func (e *Engine) lockedRemove(key string) {
	delete(e.cache, key)
	for ii, k := range e.cacheOrder {
		if k == key {
			e.cacheOrder = append(e.cacheOrder[:ii], e.cacheOrder[ii+1:]...)
			break
		}
	}
}

// CacheLen returns the number of primitives currently memoized.
func (e *Engine) CacheLen() int {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	return len(e.cache)
}

// Prepare builds the primitives of all descriptions concurrently, using at most the configured number
// of threads. It returns the primitives in the order of descs, or the first error.
func (e *Engine) Prepare(ctx context.Context, descs ...plan.Desc) ([]*Primitive, error) {
	primitives := make([]*Primitive, len(descs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.Threads)
	for ii, desc := range descs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			p, err := e.BuildPlanAndKernel(desc)
			if err != nil {
				return errors.WithMessagef(err, "Prepare(#%d)", ii)
			}
			primitives[ii] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return primitives, nil
}

// NewScratchpad allocates the scratchpad to execute p with the given number of threads (0 for the
// plan's thread count). It must be released after use.
//
// It returns an error wrapping status.ErrResourceExhausted if it's larger than the configured max_scratch.
func (e *Engine) NewScratchpad(p *Primitive, threads int) (*driver.Scratchpad, error) {
	if threads == 0 {
		threads = p.plan.Threads
	}
	s, err := driver.NewScratchpad(p.plan, threads, int(e.config.MaxScratch))
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("primitives.NewScratchpad: %s for %d threads of %s", humanize.IBytes(uint64(s.Bytes())),
		threads, p.plan.Desc.Kind)
	return s, nil
}

// Execute runs the primitive over the tensors with a team of threads workers (0 for the plan's thread
// count), using scratch as working memory.
//
// The tensors are validated before any work is dispatched: an invocation either runs fully or not at all.
// No panic crosses this call: failures are returned as errors wrapping status.ErrRuntime.
func (e *Engine) Execute(p *Primitive, t driver.Tensors, scratch *driver.Scratchpad, threads int) error {
	if p == nil {
		return status.InvalidArgumentf("Execute: nil primitive")
	}
	if threads == 0 {
		threads = p.plan.Threads
	}
	var err error
	exception := exceptions.TryCatch[error](func() {
		err = e.driver.Execute(p.kernel, t, scratch, threads)
	})
	if exception != nil {
		return errors.Wrapf(status.ErrRuntime, "Execute(%s): %v", p.plan.Desc.Kind, exception)
	}
	return err
}
