package async_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eidaws/eidaws/async"
	"github.com/eidaws/eidaws/testing/assert"
	"github.com/eidaws/eidaws/testing/require"
	"github.com/pkg/errors"
)

func TestPool_ExecutesAllTasks(t *testing.T) {
	p := async.NewPool(context.Background(), 4)
	defer p.Cancel()

	var counter int32
	for i := 0; i < 50; i++ {
		p.Submit(func(_ context.Context) error {
			atomic.AddInt32(&counter, 1)
			return nil
		})
	}
	require.NoError(t, p.Join(0))
	assert.Equal(t, int32(50), atomic.LoadInt32(&counter))
}

func TestPool_BoundsConcurrency(t *testing.T) {
	const maxWorkers = 3
	p := async.NewPool(context.Background(), maxWorkers)
	defer p.Cancel()

	var running, peak int32
	for i := 0; i < 20; i++ {
		p.Submit(func(_ context.Context) error {
			n := atomic.AddInt32(&running, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return nil
		})
	}
	require.NoError(t, p.Join(0))
	if got := atomic.LoadInt32(&peak); got > maxWorkers {
		t.Errorf("Observed %d concurrent tasks, want at most %d", got, maxWorkers)
	}
}

func TestPool_FutureResolvesTaskError(t *testing.T) {
	p := async.NewPool(context.Background(), 1)
	defer p.Cancel()

	boom := errors.New("upstream exploded")
	ok := p.Submit(func(_ context.Context) error { return nil })
	failed := p.Submit(func(_ context.Context) error { return boom })

	require.NoError(t, p.Join(0))
	<-ok.Done()
	assert.NoError(t, ok.Err())
	<-failed.Done()
	assert.ErrorIs(t, failed.Err(), boom)
}

func TestPool_JoinTimeoutCancelsTasks(t *testing.T) {
	p := async.NewPool(context.Background(), 1)

	started := make(chan struct{})
	f := p.Submit(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	<-started

	err := p.Join(20 * time.Millisecond)
	require.ErrorIs(t, err, async.ErrPoolTimeout)

	select {
	case <-f.Done():
	case <-time.After(time.Second):
		t.Fatal("task was not cancelled after join timeout")
	}
	assert.ErrorIs(t, f.Err(), context.Canceled)
}

func TestPool_CancelResolvesQueued(t *testing.T) {
	p := async.NewPool(context.Background(), 1)

	block := make(chan struct{})
	started := make(chan struct{})
	p.Submit(func(ctx context.Context) error {
		close(started)
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil
	})
	<-started
	queued := p.Submit(func(_ context.Context) error { return nil })

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Cancel()
	}()
	close(block)
	<-done

	<-queued.Done()
	require.NoError(t, p.Join(0))
}

func TestPool_SubmitAfterCancel(t *testing.T) {
	p := async.NewPool(context.Background(), 1)
	p.Cancel()

	f := p.Submit(func(_ context.Context) error { return nil })
	<-f.Done()
	assert.ErrorIs(t, f.Err(), context.Canceled)
}
