package pipeline

import (
	"context"
	"sync"
)

// WorkerPool runs workerFunc on a fixed number of goroutines fed from a
// bounded queue. A queueSize of 0 buffers two tasks per worker.
type WorkerPool[T any] struct {
	workers    int
	taskQueue  chan T
	workerFunc func(context.Context, T)
	wg         sync.WaitGroup
}

func NewWorkerPool[T any](workers, queueSize int, workerFunc func(context.Context, T)) *WorkerPool[T] {
	if workers < 1 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers * 2
	}
	return &WorkerPool[T]{
		workers:    workers,
		taskQueue:  make(chan T, queueSize),
		workerFunc: workerFunc,
	}
}

func (wp *WorkerPool[T]) Start(ctx context.Context) {
	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx)
	}
}

// Submit blocks until the task is queued or ctx is done.
func (wp *WorkerPool[T]) Submit(ctx context.Context, task T) error {
	select {
	case wp.taskQueue <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit queues the task without blocking and reports whether it fit.
func (wp *WorkerPool[T]) TrySubmit(task T) bool {
	select {
	case wp.taskQueue <- task:
		return true
	default:
		return false
	}
}

// Stop closes the queue and waits for the workers to drain it. Submit must
// not be called afterwards.
func (wp *WorkerPool[T]) Stop() {
	close(wp.taskQueue)
	wp.wg.Wait()
}

func (wp *WorkerPool[T]) worker(ctx context.Context) {
	defer wp.wg.Done()

	for {
		select {
		case task, ok := <-wp.taskQueue:
			if !ok {
				return
			}
			wp.workerFunc(ctx, task)

		case <-ctx.Done():
			return
		}
	}
}
