// Package worker runs indexed jobs on a bounded set of goroutines.
package worker

import (
	"context"
	"sync"
)

// Job produces one result. It should honour ctx cancellation.
type Job[T any] func(ctx context.Context) T

type indexedJob[T any] struct {
	index int
	run   Job[T]
}

// Pool executes submitted jobs with a fixed number of workers and keeps
// results in submission order.
type Pool[T any] struct {
	workers    int
	jobQueue   chan indexedJob[T]
	results    []T
	done       []bool
	wg         sync.WaitGroup
	ctx        context.Context
	cancelFunc context.CancelFunc
	closeOnce  sync.Once
}

// NewPool creates a pool sized for exactly size jobs.
func NewPool[T any](ctx context.Context, workers, size int) *Pool[T] {
	if workers <= 0 {
		workers = 1
	}
	if workers > size && size > 0 {
		workers = size
	}

	ctx, cancel := context.WithCancel(ctx)
	return &Pool[T]{
		workers:    workers,
		jobQueue:   make(chan indexedJob[T], workers*2),
		results:    make([]T, size),
		done:       make([]bool, size),
		ctx:        ctx,
		cancelFunc: cancel,
	}
}

// Start launches the workers.
func (p *Pool[T]) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool[T]) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobQueue:
			if !ok {
				return
			}
			// Each index is written by exactly one worker.
			p.results[job.index] = job.run(p.ctx)
			p.done[job.index] = true
		}
	}
}

// Submit queues job as result number index. It returns false if the pool
// was cancelled before the job could be queued. Submit must not be called
// after Wait.
func (p *Pool[T]) Submit(index int, job Job[T]) bool {
	if p.ctx.Err() != nil {
		return false
	}
	select {
	case <-p.ctx.Done():
		return false
	case p.jobQueue <- indexedJob[T]{index: index, run: job}:
		return true
	}
}

// Wait closes the queue, waits for the workers and returns the results
// together with a flag per index telling whether the job ran.
func (p *Pool[T]) Wait() ([]T, []bool) {
	p.closeQueue()
	p.wg.Wait()
	p.cancelFunc()
	return p.results, p.done
}

// Shutdown cancels outstanding work and waits for the workers to exit.
// Queued jobs that have not started are dropped.
func (p *Pool[T]) Shutdown() {
	p.cancelFunc()
	p.wg.Wait()
}

func (p *Pool[T]) closeQueue() {
	p.closeOnce.Do(func() {
		close(p.jobQueue)
	})
}

// Map runs fn over in with the given concurrency. Entries whose job never
// ran because ctx was cancelled are filled by onSkipped.
func Map[In, Out any](ctx context.Context, workers int, in []In, fn func(context.Context, In) Out, onSkipped func(In) Out) []Out {
	if len(in) == 0 {
		return nil
	}
	pool := NewPool[Out](ctx, workers, len(in))
	pool.Start()
	for i, item := range in {
		if !pool.Submit(i, func(ctx context.Context) Out { return fn(ctx, item) }) {
			break
		}
	}
	results, done := pool.Wait()
	for i, ok := range done {
		if !ok {
			results[i] = onSkipped(in[i])
		}
	}
	return results
}
