package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("worker pool is shut down")

// Job is one seeded scoring run.
type Job struct {
	ID   int
	Seed int64
}

// JobResult is the outcome of one Job.
type JobResult struct {
	JobID    int
	Seed     int64
	Report   *Report
	Err      error
	Duration time.Duration
	WorkerID int
}

// RunFunc executes one job.
type RunFunc func(ctx context.Context, job Job) (*Report, error)

// PoolStats contains worker pool statistics.
type PoolStats struct {
	Name        string  `json:"name"`
	Workers     int     `json:"workers"`
	Active      int64   `json:"active"`
	Completed   int64   `json:"completed"`
	Failed      int64   `json:"failed"`
	Pending     int     `json:"pending"`
	SuccessRate float64 `json:"success_rate"`
}

// WorkerPool runs jobs on a fixed set of goroutines. Every submitted job
// produces exactly one JobResult; Results is closed after Close once the
// queue has drained.
type WorkerPool struct {
	name    string
	workers int
	run     RunFunc
	jobs    chan Job
	results chan JobResult
	wg      sync.WaitGroup

	active    int64
	completed int64
	failed    int64

	ctx    context.Context
	cancel context.CancelFunc
	closed bool
	mu     sync.RWMutex
}

// NewWorkerPool starts workers goroutines running run. queue bounds both the
// pending jobs and the undelivered results.
func NewWorkerPool(name string, workers, queue int, run RunFunc) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queue <= 0 {
		queue = workers * 4
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &WorkerPool{
		name:    name,
		workers: workers,
		run:     run,
		jobs:    make(chan Job, queue),
		results: make(chan JobResult, queue),
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		p.results <- p.process(id, job)
	}
}

func (p *WorkerPool) process(workerID int, job Job) (result JobResult) {
	atomic.AddInt64(&p.active, 1)
	defer atomic.AddInt64(&p.active, -1)

	start := time.Now()
	result = JobResult{JobID: job.ID, Seed: job.Seed, WorkerID: workerID}

	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("panic in job %d: %v", job.ID, r)
			result.Report = nil
		}
		result.Duration = time.Since(start)
		if result.Err != nil {
			atomic.AddInt64(&p.failed, 1)
		} else {
			atomic.AddInt64(&p.completed, 1)
		}
	}()

	if err := p.ctx.Err(); err != nil {
		result.Err = err
		return result
	}
	result.Report, result.Err = p.run(p.ctx, job)
	return result
}

// Submit queues job, blocking until there is room or ctx is done.
func (p *WorkerPool) Submit(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Results returns the result channel.
func (p *WorkerPool) Results() <-chan JobResult {
	return p.results
}

// Close stops accepting jobs. Queued jobs still run; Results is closed when
// the last one finishes.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	go func() {
		p.wg.Wait()
		close(p.results)
	}()
}

// Cancel aborts queued jobs; they complete with context.Canceled.
func (p *WorkerPool) Cancel() {
	p.cancel()
}

// GetStats returns current worker pool statistics.
func (p *WorkerPool) GetStats() PoolStats {
	completed := atomic.LoadInt64(&p.completed)
	failed := atomic.LoadInt64(&p.failed)
	total := completed + failed

	var successRate float64
	if total > 0 {
		successRate = float64(completed) / float64(total) * 100
	}

	return PoolStats{
		Name:        p.name,
		Workers:     p.workers,
		Active:      atomic.LoadInt64(&p.active),
		Completed:   completed,
		Failed:      failed,
		Pending:     len(p.jobs),
		SuccessRate: successRate,
	}
}
