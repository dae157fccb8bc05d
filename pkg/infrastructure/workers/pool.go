// Package workers provides a semaphore-bounded worker pool for the CPU-heavy
// pipeline stages (conditioning and validation) so that HTTP handlers are
// never starved by block production.
package workers

import (
	"context"
	"fmt"
	"runtime"
	"sync"
)

// Pool limits the number of concurrently running operations. It has no
// lifecycle: it is ready after construction and cleans up per call.
type Pool struct {
	workerCount int
}

// NewPool creates a pool with the given concurrency limit, defaulting to the
// CPU count when workerCount is not positive.
func NewPool(workerCount int) *Pool {
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}
	return &Pool{workerCount: workerCount}
}

// Size returns the concurrency limit.
func (p *Pool) Size() int {
	return p.workerCount
}

// ForEach runs fn(i) for i in [0, n) with bounded concurrency. It waits for
// all invocations and returns the first error by index. Context cancellation
// aborts invocations that have not yet acquired a worker slot.
func (p *Pool) ForEach(ctx context.Context, n int, fn func(i int) error) error {
	errs := make([]error, n)
	semaphore := make(chan struct{}, p.workerCount)
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()

			select {
			case semaphore <- struct{}{}:
				defer func() { <-semaphore }()
			case <-ctx.Done():
				errs[index] = ctx.Err()
				return
			}

			errs[index] = fn(index)
		}(i)
	}

	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return fmt.Errorf("task %d: %w", i, err)
		}
	}
	return nil
}

// Map runs fn over [0, n) with bounded concurrency and collects the results
// in input order. Unlike ForEach it does not fail fast: every index gets a
// result or an error slot, so callers can keep partial output (a rejected
// block must not discard its siblings).
func Map[T any](ctx context.Context, p *Pool, n int, fn func(i int) (T, error)) ([]T, []error) {
	results := make([]T, n)
	errs := make([]error, n)
	semaphore := make(chan struct{}, p.workerCount)
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()

			select {
			case semaphore <- struct{}{}:
				defer func() { <-semaphore }()
			case <-ctx.Done():
				errs[index] = ctx.Err()
				return
			}

			results[index], errs[index] = fn(index)
		}(i)
	}

	wg.Wait()
	return results, errs
}
