// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xsync

import (
	"sync"

	"github.com/pkg/errors"
)

// Barrier is a reusable (cyclic) barrier for a fixed team of goroutines.
//
// Each member calls Wait; all of them are released once the last one arrives. A barrier can be aborted,
// in which case current and future waiters return immediately with false, so a failing member never
// leaves the rest of the team blocked.
type Barrier struct {
	mu         sync.Mutex
	cond       *sync.Cond
	parties    int
	arrived    int
	generation uint64
	aborted    bool

	asleep, restarted func()
}

// NewBarrier creates a Barrier for the given number of parties. It panics if parties < 1.
func NewBarrier(parties int) *Barrier {
	if parties < 1 {
		panic(errors.Errorf("NewBarrier: parties must be >= 1, got %d", parties))
	}
	b := &Barrier{parties: parties}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// WithSleepHooks sets functions called when a member is about to block on the barrier, and when it wakes up.
// Typically used to tell a workers pool that the goroutine is not using a CPU while waiting.
//
// It must be called before the barrier is used. It returns the barrier itself.
func (b *Barrier) WithSleepHooks(asleep, restarted func()) *Barrier {
	b.asleep, b.restarted = asleep, restarted
	return b
}

// Parties returns the number of members of the team.
func (b *Barrier) Parties() int { return b.parties }

// Wait blocks until all parties have called Wait for the current cycle.
// It returns false if the barrier was aborted.
func (b *Barrier) Wait() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.aborted {
		return false
	}
	b.arrived++
	if b.arrived == b.parties {
		b.arrived = 0
		b.generation++
		b.cond.Broadcast()
		return true
	}
	generation := b.generation
	if b.asleep != nil {
		b.asleep()
	}
	for generation == b.generation && !b.aborted {
		b.cond.Wait()
	}
	if b.restarted != nil {
		b.restarted()
	}
	return generation != b.generation
}

// Abort releases all current waiters and makes all future Wait calls return false immediately.
func (b *Barrier) Abort() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.aborted = true
	b.cond.Broadcast()
}

// IsAborted returns whether Abort was called.
func (b *Barrier) IsAborted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.aborted
}
