// Package queue implements completion queues: caller-owned channels through
// which the server delivers asynchronous work items for explicit pulling.
//
// Queues are created by the builder but owned by the caller. The server
// holds a non-owning registration reference so it can deliver incoming
// calls; shutdown is always the owner's responsibility.
package queue

import (
	"context"
	"errors"
	"sync"

	gogrpc "google.golang.org/grpc"
)

// ErrShutdown is returned by Next and Push once the queue is shut down.
var ErrShutdown = errors.New("completion queue is shut down")

const defaultBacklog = 128

// Task is a single asynchronous work item: an incoming call waiting for
// the queue owner to process it.
type Task struct {
	method string
	stream gogrpc.ServerStream
	done   chan error
	once   sync.Once
}

// NewTask wraps an incoming call for queue delivery.
func NewTask(method string, stream gogrpc.ServerStream) *Task {
	return &Task{
		method: method,
		stream: stream,
		done:   make(chan error, 1),
	}
}

// Method returns the full RPC method name of the call.
func (t *Task) Method() string {
	return t.method
}

// Stream exposes the underlying server stream for receiving the request
// and sending the response.
func (t *Task) Stream() gogrpc.ServerStream {
	return t.stream
}

// Finish completes the call with the given terminal error (nil for OK).
// Only the first call has any effect.
func (t *Task) Finish(err error) {
	t.once.Do(func() {
		t.done <- err
	})
}

// Done delivers the terminal error once Finish is called.
func (t *Task) Done() <-chan error {
	return t.done
}

// CompletionQueue buffers tasks between the server's dispatch and the
// queue owner.
type CompletionQueue struct {
	tasks chan *Task

	mu         sync.Mutex
	closed     bool
	submitters sync.WaitGroup
}

// New creates a completion queue with the default backlog.
func New() *CompletionQueue {
	return &CompletionQueue{
		tasks: make(chan *Task, defaultBacklog),
	}
}

// Push delivers a task to the queue, blocking until there is room or the
// context ends. It returns ErrShutdown once the queue is shut down.
func (q *CompletionQueue) Push(ctx context.Context, t *Task) error {
	if t == nil {
		return errors.New("task is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrShutdown
	}
	q.submitters.Add(1)
	q.mu.Unlock()
	defer q.submitters.Done()

	select {
	case q.tasks <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next blocks until a task is available, the context ends, or the queue is
// drained after shutdown.
func (q *CompletionQueue) Next(ctx context.Context) (*Task, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case t, ok := <-q.tasks:
		if !ok {
			return nil, ErrShutdown
		}
		return t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown stops delivery. Queued tasks remain retrievable through Next
// until drained. Safe to call more than once.
func (q *CompletionQueue) Shutdown() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.submitters.Wait()
	close(q.tasks)
}
