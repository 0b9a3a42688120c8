// Package workerpool provides the worker pool that services synchronous
// RPC handlers, keeping dispatch off the transport goroutines.
package workerpool

import (
	"errors"
	"runtime"
	"sync"
)

// ErrClosed is returned by Submit after the pool has been closed.
var ErrClosed = errors.New("worker pool is closed")

// Pool accepts units of work for execution on a bounded set of workers.
type Pool interface {
	Submit(task func()) error
	Close()
}

// FixedPool runs tasks on a fixed number of worker goroutines.
type FixedPool struct {
	tasks   chan func()
	workers int

	mu         sync.Mutex
	closed     bool
	submitters sync.WaitGroup
	running    sync.WaitGroup
}

// New creates a pool with the given number of workers. Counts below one
// are raised to one.
func New(workers int) *FixedPool {
	if workers < 1 {
		workers = 1
	}
	p := &FixedPool{
		tasks:   make(chan func(), workers),
		workers: workers,
	}
	p.running.Add(workers)
	for i := 0; i < workers; i++ {
		go p.work()
	}
	return p
}

// Default creates a pool sized to the host's available CPUs.
func Default() *FixedPool {
	return New(runtime.NumCPU())
}

// Workers reports the configured worker count.
func (p *FixedPool) Workers() int {
	if p == nil {
		return 0
	}
	return p.workers
}

// Submit queues a task for execution. It blocks when all workers are busy
// and the backlog is full, and returns ErrClosed once the pool is closed.
func (p *FixedPool) Submit(task func()) error {
	if task == nil {
		return errors.New("task is required")
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.submitters.Add(1)
	p.mu.Unlock()
	defer p.submitters.Done()

	p.tasks <- task
	return nil
}

// Close stops accepting tasks and waits for queued and in-flight tasks to
// finish. It is safe to call more than once.
func (p *FixedPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.submitters.Wait()
	close(p.tasks)
	p.running.Wait()
}

func (p *FixedPool) work() {
	defer p.running.Done()
	for task := range p.tasks {
		task()
	}
}
