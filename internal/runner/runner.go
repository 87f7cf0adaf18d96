// Package runner implements the mapper's single-threaded cooperative task
// runner (spec §5): every mutation of storages, registries, and per-request
// state machines executes on one goroutine, so no locking is required
// between them. Parallelism exists only in outstanding CDP I/O, which
// re-enters the runner via Go/GoSync once it completes.
package runner

import (
	"context"
)

// Runner serialises closures onto a single goroutine.
type Runner struct {
	tasks chan func()
	done  chan struct{}
}

// New creates a Runner. Call Start to begin draining tasks.
func New() *Runner {
	return &Runner{
		tasks: make(chan func(), 256),
		done:  make(chan struct{}),
	}
}

// Start begins the single consumer goroutine. It returns when ctx is done.
func (r *Runner) Start(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-r.tasks:
			task()
		}
	}
}

// Go enqueues task to run on the runner goroutine, without waiting for it.
// Use this for CDP event handlers and fire-and-forget continuations.
func (r *Runner) Go(task func()) {
	r.tasks <- task
}

// GoSync enqueues task and blocks the caller until it has run, returning
// whatever error task produced. Use this for BiDi command handlers, which
// must finish before the dispatcher can form a result frame.
func (r *Runner) GoSync(task func() error) error {
	resultCh := make(chan error, 1)
	r.tasks <- func() {
		resultCh <- task()
	}
	return <-resultCh
}

