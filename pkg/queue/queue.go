// Package queue serializes operations against a link that only tolerates one operation in flight.
package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

var operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "airlink_queue_operations_total",
	Help: "Operations executed by transport queues",
}, []string{"queue", "result"})

var pendingOperations = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "airlink_queue_pending",
	Help: "Operations waiting in transport queues",
}, []string{"queue"})

// Queue executes submitted operations one at a time, in submission order. A failing operation
// only fails its own Future.
type Queue struct {
	name string

	lock     sync.Mutex
	pending  []func()
	draining bool
}

// Name returns the name the queue reports metrics and logs under
func (q *Queue) Name() string {
	return q.name
}

// Len returns the number of operations that were submitted, but did not start yet
func (q *Queue) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return len(q.pending)
}

func (q *Queue) submit(run func()) {
	q.lock.Lock()
	defer q.lock.Unlock()
	q.pending = append(q.pending, run)
	pendingOperations.WithLabelValues(q.name).Set(float64(len(q.pending)))
	if q.draining {
		return
	}
	q.draining = true
	go q.drain()
}

func (q *Queue) drain() {
	for {
		q.lock.Lock()
		if len(q.pending) == 0 {
			q.draining = false
			q.lock.Unlock()
			return
		}
		next := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		pendingOperations.WithLabelValues(q.name).Set(float64(len(q.pending)))
		q.lock.Unlock()

		next()
	}
}

// New creates a new Queue. A queue belongs to a single link and lives as long as the link.
func New(name string) *Queue {
	return &Queue{name: name}
}

// Future is the eventual result of an enqueued operation
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Done is closed once the operation settled
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the operation settles or the context is done. Giving up on the wait does not
// stop the operation: it still runs in its turn and its result is discarded.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Enqueue appends op to the queue and returns immediately
func Enqueue[T any](q *Queue, op func() (T, error)) *Future[T] {
	future := &Future[T]{done: make(chan struct{})}
	q.submit(func() {
		defer close(future.done)
		defer func() {
			if r := recover(); r != nil {
				future.err = fmt.Errorf("queued operation panicked: %v", r)
				operationsTotal.WithLabelValues(q.name, "panic").Inc()
				logrus.Errorf("Queue %s: %v", q.name, future.err)
			}
		}()
		future.value, future.err = op()
		if future.err != nil {
			operationsTotal.WithLabelValues(q.name, "error").Inc()
			logrus.Debugf("Queue %s: operation failed: %v", q.name, future.err)
			return
		}
		operationsTotal.WithLabelValues(q.name, "ok").Inc()
	})
	return future
}

// Do enqueues op and waits for its result
func Do[T any](ctx context.Context, q *Queue, op func() (T, error)) (T, error) {
	return Enqueue(q, op).Wait(ctx)
}

// Exec is Do for operations without a result
func Exec(ctx context.Context, q *Queue, op func() error) error {
	_, err := Do(ctx, q, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}
