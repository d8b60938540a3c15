package monitor

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
)

// Task is offloaded work. progress reports a label; a nil label means the
// task has no more progress to report.
type Task func(ctx context.Context, progress func(label any)) (any, error)

// Pool runs tasks on a bounded number of workers and relays their progress
// through a bounded queue polled every tick.
type Pool struct {
	sem   *semaphore.Weighted
	tick  time.Duration
	queue int
}

// NewPool creates a pool of workers slots. queue bounds pending progress labels.
func NewPool(workers int, tick time.Duration, queue int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if tick <= 0 {
		tick = 5 * time.Millisecond
	}
	if queue <= 0 {
		queue = 16
	}
	return &Pool{sem: semaphore.NewWeighted(int64(workers)), tick: tick, queue: queue}
}

type outcome struct {
	value any
	err   error
}

// Run executes task on a worker slot and blocks until it completes, calling
// onProgress from the caller's goroutine for every relayed label. Cancelling
// ctx stops the waiting, not the task: the task keeps running detached.
func (p *Pool) Run(ctx context.Context, task Task, onProgress func(label any) error) (any, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire worker: %w", err)
	}

	queue := make(chan any, p.queue)
	stopped := make(chan struct{})
	done := make(chan outcome, 1)
	progress := func(label any) {
		select {
		case queue <- label:
		case <-stopped:
		}
	}
	go func() {
		defer p.sem.Release(1)
		v, err := task(context.WithoutCancel(ctx), progress)
		done <- outcome{v, err}
	}()
	defer close(stopped)

	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()
	polling := true
	// After a nil label the queue is still drained so the task never blocks.
	drain := func() error {
		for {
			select {
			case label := <-queue:
				if !polling {
					continue
				}
				if label == nil {
					polling = false
				}
				if onProgress != nil {
					if err := onProgress(label); err != nil {
						return err
					}
				}
			default:
				return nil
			}
		}
	}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case r := <-done:
			if err := drain(); err != nil {
				return nil, err
			}
			return r.value, r.err
		case <-ticker.C:
			if err := drain(); err != nil {
				return nil, err
			}
		}
	}
}
