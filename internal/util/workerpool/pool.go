// Package workerpool provides a bounded goroutine pool for background
// repair work.
package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is a unit of work.
type Task struct {
	ID string
	Fn func(context.Context) error
}

// Pool runs tasks on a fixed set of workers with a bounded queue.
type Pool struct {
	name      string
	workers   int
	taskQueue chan Task
	logger    *zap.Logger
	wg        sync.WaitGroup
	stopOnce  sync.Once
	stopChan  chan struct{}

	completed atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64
}

// New starts a pool with the given worker count and queue depth.
func New(name string, workers, queueSize int, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	pool := &Pool{
		name:      name,
		workers:   workers,
		taskQueue: make(chan Task, queueSize),
		logger:    logger,
		stopChan:  make(chan struct{}),
	}

	for i := 0; i < workers; i++ {
		pool.wg.Add(1)
		go pool.worker(i)
	}

	pool.logger.Info("Worker pool started",
		zap.String("name", name),
		zap.Int("workers", workers),
		zap.Int("queue_size", queueSize))

	return pool
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopChan:
			return
		case task := <-p.taskQueue:
			start := time.Now()
			err := p.run(task)
			if err != nil {
				p.failed.Add(1)
				p.logger.Error("Task failed",
					zap.String("pool", p.name),
					zap.Int("worker_id", id),
					zap.String("task_id", task.ID),
					zap.Duration("duration", time.Since(start)),
					zap.Error(err))
			} else {
				p.completed.Add(1)
			}
		}
	}
}

func (p *Pool) run(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task.Fn(context.Background())
}

// Submit enqueues a task without blocking. It fails when the queue is
// full or the pool is stopped.
func (p *Pool) Submit(task Task) error {
	select {
	case <-p.stopChan:
		p.rejected.Add(1)
		return fmt.Errorf("worker pool %q is stopped", p.name)
	default:
	}

	select {
	case p.taskQueue <- task:
		return nil
	default:
		p.rejected.Add(1)
		return fmt.Errorf("worker pool %q queue is full", p.name)
	}
}

// SubmitWait enqueues a task, blocking until accepted or the context is
// cancelled.
func (p *Pool) SubmitWait(ctx context.Context, task Task) error {
	select {
	case <-p.stopChan:
		p.rejected.Add(1)
		return fmt.Errorf("worker pool %q is stopped", p.name)
	case <-ctx.Done():
		p.rejected.Add(1)
		return ctx.Err()
	case p.taskQueue <- task:
		return nil
	}
}

// Stop drains the workers, waiting up to timeout for in-flight tasks.
func (p *Pool) Stop(timeout time.Duration) error {
	var err error
	p.stopOnce.Do(func() {
		close(p.stopChan)

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			p.logger.Info("Worker pool stopped", zap.String("name", p.name))
		case <-time.After(timeout):
			err = fmt.Errorf("worker pool %q stop timeout after %v", p.name, timeout)
		}
	})
	return err
}

// Stats is a point-in-time snapshot of pool activity.
type Stats struct {
	Name      string
	Workers   int
	Queued    int
	Completed uint64
	Failed    uint64
	Rejected  uint64
}

// Stats returns current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Name:      p.name,
		Workers:   p.workers,
		Queued:    len(p.taskQueue),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}
