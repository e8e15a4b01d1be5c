package workerpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"PredServe/internal/domain/models"
)

func TestSubmitAndWait(t *testing.T) {
	p := New(nil, WithWorkers(2), WithQueueCap(10))
	p.Start()
	defer p.Shutdown(context.Background())

	fut, err := p.Submit(func(ctx context.Context) (interface{}, error) {
		return 42, nil
	}, PriorityNormal)
	require.NoError(t, err)

	v, err := fut.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, 42, v)
}

func TestQueueOverflowRejectsImmediately(t *testing.T) {
	p := New(nil, WithWorkers(1), WithQueueCap(2), WithTaskTimeout(5*time.Second))
	p.Start()
	defer p.Shutdown(context.Background())

	block := make(chan struct{})
	slow := func(ctx context.Context) (interface{}, error) {
		<-block
		return nil, nil
	}

	// Fill the worker plus the queue.
	var futures []*Future
	for i := 0; i < 3; i++ {
		fut, err := p.Submit(slow, PriorityNormal)
		if err != nil {
			break
		}
		futures = append(futures, fut)
	}

	// Keep submitting until the shared counter saturates.
	deadline := time.Now().Add(time.Second)
	var overflowed bool
	for time.Now().Before(deadline) {
		if _, err := p.Submit(slow, PriorityLow); err != nil {
			require.ErrorIs(t, err, models.ErrQueueOverflow)
			overflowed = true
			break
		}
	}
	require.True(t, overflowed, "expected a queue overflow rejection")

	close(block)
	for _, fut := range futures {
		_, _ = fut.Wait(context.Background())
	}
}

func TestTaskTimeout(t *testing.T) {
	p := New(nil, WithWorkers(1), WithQueueCap(5), WithTaskTimeout(30*time.Millisecond))
	p.Start()
	defer p.Shutdown(context.Background())

	fut, err := p.Submit(func(ctx context.Context) (interface{}, error) {
		select {
		case <-time.After(5 * time.Second):
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}, PriorityHigh)
	require.NoError(t, err)

	_, err = fut.Wait(context.Background())
	require.ErrorIs(t, err, models.ErrTimeout)
}

func TestHighPriorityRunsBeforeLow(t *testing.T) {
	p := New(nil, WithWorkers(1), WithQueueCap(20))

	var order []string
	var mu chan struct{} = make(chan struct{}, 1)
	record := func(tag string) Task {
		return func(ctx context.Context) (interface{}, error) {
			mu <- struct{}{}
			order = append(order, tag)
			<-mu
			return nil, nil
		}
	}

	// Queue everything before the workers start so lane order decides.
	var futures []*Future
	for i := 0; i < 3; i++ {
		fut, err := p.Submit(record("low"), PriorityLow)
		require.NoError(t, err)
		futures = append(futures, fut)
	}
	for i := 0; i < 3; i++ {
		fut, err := p.Submit(record("high"), PriorityHigh)
		require.NoError(t, err)
		futures = append(futures, fut)
	}

	p.Start()
	defer p.Shutdown(context.Background())
	for _, fut := range futures {
		_, err := fut.Wait(context.Background())
		require.NoError(t, err)
	}

	require.Equal(t, []string{"high", "high", "high", "low", "low", "low"}, order)
}

func TestShutdownDrainsQueuedLowPriority(t *testing.T) {
	p := New(nil, WithWorkers(1), WithQueueCap(16), WithTaskTimeout(time.Second))
	p.Start()

	release := make(chan struct{})
	busy, err := p.Submit(func(ctx context.Context) (interface{}, error) {
		<-release
		return nil, nil
	}, PriorityHigh)
	require.NoError(t, err)

	var futures []*Future
	for i := 0; i < 5; i++ {
		fut, err := p.Submit(func(ctx context.Context) (interface{}, error) {
			return "done", nil
		}, PriorityLow)
		require.NoError(t, err)
		futures = append(futures, fut)
	}

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		done <- p.Shutdown(ctx)
	}()
	close(release)

	// Every accepted task resolves even though shutdown raced the queue.
	_, err = busy.Wait(context.Background())
	require.NoError(t, err)
	for _, fut := range futures {
		v, err := fut.Wait(context.Background())
		require.NoError(t, err)
		require.Equal(t, "done", v)
	}
	require.NoError(t, <-done)
}

func TestDepthTracksPendingWork(t *testing.T) {
	p := New(nil, WithWorkers(1), WithQueueCap(10))
	p.Start()
	defer p.Shutdown(context.Background())

	var done int64
	block := make(chan struct{})
	for i := 0; i < 4; i++ {
		_, err := p.Submit(func(ctx context.Context) (interface{}, error) {
			<-block
			atomic.AddInt64(&done, 1)
			return nil, nil
		}, PriorityNormal)
		require.NoError(t, err)
	}
	require.Equal(t, 4, p.Depth())

	close(block)
	require.Eventually(t, func() bool { return p.Depth() == 0 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return atomic.LoadInt64(&done) == 4 }, time.Second, 5*time.Millisecond)
}
