package dispatch

import (
	"context"
	"sync"

	"waveline/pkg/update"
)

const defaultQueueSize = 256

// queue is the bounded buffer between the webhook front-end and the dispatch
// workers. Enqueue and dequeue respect both the caller's context and queue
// shutdown.
type queue struct {
	updates   chan *update.Update
	done      chan struct{}
	closeOnce sync.Once
}

func newQueue(size int) *queue {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &queue{
		updates: make(chan *update.Update, size),
		done:    make(chan struct{}),
	}
}

func (q *queue) enqueue(ctx context.Context, u *update.Update) bool {
	select {
	case <-ctx.Done():
		return false
	case <-q.done:
		return false
	default:
	}

	select {
	case <-ctx.Done():
		return false
	case <-q.done:
		return false
	case q.updates <- u:
		return true
	}
}

func (q *queue) dequeue(ctx context.Context) (*update.Update, bool) {
	select {
	case <-ctx.Done():
		return nil, false
	case <-q.done:
		return nil, false
	case u := <-q.updates:
		return u, true
	}
}

func (q *queue) close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
}

// Enqueue hands an update to the worker pool. It reports false when the
// queue is full past its context deadline, closed, or the context ended.
func (d *Dispatcher) Enqueue(ctx context.Context, u *update.Update) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	return d.queue.enqueue(ctx, u)
}

// StartWorkers launches n goroutines that drain the queue through Route
// until the context ends or Close is called. It returns immediately.
func (d *Dispatcher) StartWorkers(ctx context.Context, n int) *sync.WaitGroup {
	if ctx == nil {
		ctx = context.Background()
	}
	if n <= 0 {
		n = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				u, ok := d.queue.dequeue(ctx)
				if !ok {
					return
				}
				d.Route(ctx, u)
			}
		}()
	}
	return &wg
}

// Close shuts the queue down, stops the workers and force-cancels every
// pending listener. Idempotent.
func (d *Dispatcher) Close() {
	d.queue.close()
	d.listeners.StopAll()
}
