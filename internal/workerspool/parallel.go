// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package workerspool

import (
	"fmt"

	"github.com/gomlx/primitives/pkg/support/xsync"
	"github.com/pkg/errors"
)

// Parallel runs fn(ithr, nthr) for ithr in [0, nthr) and returns when all of them finished (fork-join).
//
// Member 0 runs in the calling goroutine. The other members are started through the pool. If parallelism
// is disabled, the members run sequentially, in order, in the calling goroutine.
//
// A panic in any member is recovered, onPanic (if not nil) is called with it (from the panicking goroutine)
// and the first panic is returned as an error after all members finish.
func (w *Pool) Parallel(nthr int, onPanic func(err error), fn func(ithr, nthr int)) error {
	if nthr <= 0 {
		return nil
	}
	firstErr := xsync.NewLatchWithValue[error]()
	run := func(ithr int) {
		defer func() {
			if r := recover(); r != nil {
				err, ok := r.(error)
				if !ok {
					err = errors.New(fmt.Sprint(r))
				}
				err = errors.WithMessagef(err, "worker %d of %d panicked", ithr, nthr)
				firstErr.Trigger(err)
				if onPanic != nil {
					onPanic(err)
				}
			}
		}()
		fn(ithr, nthr)
	}

	if nthr == 1 || !w.IsEnabled() {
		for ithr := range nthr {
			run(ithr)
		}
	} else {
		wg := xsync.NewDynamicWaitGroup()
		for ithr := 1; ithr < nthr; ithr++ {
			wg.Add(1)
			w.WaitToStart(func() {
				defer wg.Done()
				run(ithr)
			})
		}
		run(0)
		w.WorkerIsAsleep()
		wg.Wait()
		w.WorkerRestarted()
	}
	err, _ := firstErr.Value()
	return err
}
