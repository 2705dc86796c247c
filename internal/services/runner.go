package services

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc/pool"
)

// Runner executes recovery runs on a bounded pool of one worker so that
// long-running I/O never blocks the controller.
type Runner struct {
	pool *pool.Pool
}

// NewRunner creates a Runner with a single worker.
func NewRunner() *Runner {
	return &Runner{pool: pool.New().WithMaxGoroutines(1)}
}

// Handle tracks one submitted run.
type Handle struct {
	done   chan struct{}
	report *Report
	err    error
}

// RunTask is the unit of work handed to the worker.
type RunTask func(ctx context.Context) (*Report, error)

// Submit schedules task on the worker and returns its handle. It blocks
// while a previously submitted run is still executing.
func (r *Runner) Submit(ctx context.Context, task RunTask) *Handle {
	h := &Handle{done: make(chan struct{})}
	r.pool.Go(func() {
		defer close(h.done)
		defer func() {
			if p := recover(); p != nil {
				h.err = fmt.Errorf("recovery worker panicked: %v", p)
			}
		}()
		h.report, h.err = task(ctx)
	})
	return h
}

// Shutdown waits for the in-flight run. The Runner cannot be reused.
func (r *Runner) Shutdown() {
	r.pool.Wait()
}

// Done is closed when the run has finished.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the run finishes and returns its report.
func (h *Handle) Wait() (*Report, error) {
	<-h.done
	return h.report, h.err
}
