// Package runtimectx provides the default background-execution handle a
// Syncer schedules its driver loop, heartbeat ticks, and callback delivery
// onto: a bounded goroutine pool reads off a work channel instead of
// spawning a new goroutine per task.
package runtimectx

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// minWorkers is the floor for pool size regardless of the requested count.
const minWorkers = 4

// Pool is a bounded worker pool implementing cloudsync.RuntimeContext. Go
// submits a function to a buffered queue (four slots per worker) drained by
// a fixed number of goroutines; Schedule runs a periodic tick on its own goroutine, itself
// dispatched through Go so scheduled work never outruns pool concurrency.
type Pool struct {
	logger *slog.Logger

	work   chan func()
	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	wg sync.WaitGroup
}

// New starts a Pool with the given concurrency (raised to minWorkers if
// lower). Call Close to stop accepting work and wait for in-flight jobs.
func New(workers int, logger *slog.Logger) *Pool {
	if workers < minWorkers {
		workers = minWorkers
	}

	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	p := &Pool{
		logger: logger,
		work:   make(chan func(), workers*4),
		group:  group,
		ctx:    gctx,
		cancel: cancel,
	}

	for i := 0; i < workers; i++ {
		group.Go(p.runWorker)
	}

	return p
}

func (p *Pool) runWorker() error {
	for {
		select {
		case <-p.ctx.Done():
			return nil
		case fn, ok := <-p.work:
			if !ok {
				return nil
			}

			p.runOne(fn)
		}
	}
}

func (p *Pool) runOne(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("runtimectx: recovered panic in scheduled work", "panic", r)
		}
	}()

	fn()
}

// Go queues fn to run on the pool, blocking only while the queue is full. If
// the pool has been closed, fn is dropped and logged rather than blocking the
// caller forever.
func (p *Pool) Go(fn func()) {
	// Close closes the work channel; a send racing with it panics, and that
	// submission is dropped like any other after Close.
	defer func() {
		if recover() != nil {
			p.logger.Warn("runtimectx: dropped work submitted after Close")
		}
	}()

	select {
	case p.work <- fn:
	case <-p.ctx.Done():
		p.logger.Warn("runtimectx: dropped work submitted after Close")
	}
}

// Schedule runs fn on the pool every interval d until fn returns false or
// the returned cancel func is called. The ticker goroutine itself does not
// run fn inline — each tick is dispatched through Go, so a slow fn never
// stalls the ticker.
func (p *Pool) Schedule(d time.Duration, fn func() bool) (cancel func()) {
	stop := make(chan struct{})
	var once sync.Once

	cancel = func() {
		once.Do(func() { close(stop) })
	}

	p.wg.Add(1)

	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(d)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-p.ctx.Done():
				return
			case <-ticker.C:
				done := make(chan bool, 1)
				p.Go(func() { done <- fn() })

				select {
				case keepGoing := <-done:
					if !keepGoing {
						return
					}
				case <-stop:
					return
				case <-p.ctx.Done():
					return
				}
			}
		}
	}()

	return cancel
}

// Close stops accepting new work, cancels outstanding schedules, and waits
// for every worker and scheduler goroutine to exit.
func (p *Pool) Close() error {
	p.cancel()
	close(p.work)

	p.wg.Wait()

	return p.group.Wait()
}
