package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOperationsRunInSubmissionOrderWithoutOverlap(t *testing.T) {
	// given
	q := New("test")
	var lock sync.Mutex
	var events []string
	var running atomic.Int32
	var overlapped atomic.Bool
	futures := []*Future[int]{}

	// when
	for i := 0; i < 20; i++ {
		i := i
		futures = append(futures, Enqueue(q, func() (int, error) {
			if running.Add(1) > 1 {
				overlapped.Store(true)
			}
			defer running.Add(-1)
			lock.Lock()
			events = append(events, fmt.Sprintf("start-%d", i))
			lock.Unlock()
			time.Sleep(time.Millisecond)
			lock.Lock()
			events = append(events, fmt.Sprintf("end-%d", i))
			lock.Unlock()
			return i, nil
		}))
	}

	// then
	for i, future := range futures {
		value, err := future.Wait(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, i, value)
	}
	assert.False(t, overlapped.Load())
	expected := []string{}
	for i := 0; i < 20; i++ {
		expected = append(expected, fmt.Sprintf("start-%d", i), fmt.Sprintf("end-%d", i))
	}
	assert.Equal(t, expected, events)
}

func TestFailingOperationDoesNotStallTheQueue(t *testing.T) {
	// given
	q := New("test")
	executed := make([]bool, 5)

	// when
	futures := []*Future[int]{}
	for i := 0; i < 5; i++ {
		i := i
		futures = append(futures, Enqueue(q, func() (int, error) {
			executed[i] = true
			if i == 2 {
				return 0, errors.New("endpoint not found")
			}
			return i, nil
		}))
	}

	// then
	for i, future := range futures {
		value, err := future.Wait(context.Background())
		if i == 2 {
			assert.EqualError(t, err, "endpoint not found")
			continue
		}
		assert.NoError(t, err)
		assert.Equal(t, i, value)
	}
	assert.Equal(t, []bool{true, true, true, true, true}, executed)
}

func TestPanickingOperationIsIsolated(t *testing.T) {
	// given
	q := New("test")

	// when
	panicking := Enqueue(q, func() (int, error) {
		panic("boom")
	})
	next := Enqueue(q, func() (int, error) {
		return 7, nil
	})

	// then
	_, panicErr := panicking.Wait(context.Background())
	value, nextErr := next.Wait(context.Background())
	assert.ErrorContains(t, panicErr, "boom")
	assert.NoError(t, nextErr)
	assert.Equal(t, 7, value)
}

func TestEnqueueDoesNotBlockWhileAnOperationRuns(t *testing.T) {
	// given
	q := New("test")
	release := make(chan struct{})
	started := make(chan struct{})
	first := Enqueue(q, func() (int, error) {
		close(started)
		<-release
		return 1, nil
	})
	<-started

	// when
	submitted := make(chan *Future[int])
	go func() {
		submitted <- Enqueue(q, func() (int, error) { return 2, nil })
	}()

	// then
	var second *Future[int]
	select {
	case second = <-submitted:
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked while the queue was busy")
	}
	assert.Equal(t, 1, q.Len())
	close(release)
	firstValue, _ := first.Wait(context.Background())
	secondValue, _ := second.Wait(context.Background())
	assert.Equal(t, 1, firstValue)
	assert.Equal(t, 2, secondValue)
}

func TestAbandonedWaitStillRunsTheOperation(t *testing.T) {
	// given
	q := New("test")
	release := make(chan struct{})
	Enqueue(q, func() (int, error) {
		<-release
		return 0, nil
	})
	var ran atomic.Bool
	ctx, cancel := context.WithCancel(context.Background())

	// when
	cancel()
	err := Exec(ctx, q, func() error {
		ran.Store(true)
		return nil
	})
	close(release)
	after, afterErr := Do(context.Background(), q, func() (bool, error) { return ran.Load(), nil })

	// then
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, afterErr)
	assert.True(t, after)
}

func TestQueueCanBeReusedAfterDraining(t *testing.T) {
	// given
	q := New("test")
	value, err := Do(context.Background(), q, func() (string, error) { return "first", nil })
	assert.NoError(t, err)
	assert.Equal(t, "first", value)

	// when
	<-time.After(10 * time.Millisecond)
	value, err = Do(context.Background(), q, func() (string, error) { return "second", nil })

	// then
	assert.NoError(t, err)
	assert.Equal(t, "second", value)
	assert.Equal(t, 0, q.Len())
}
