package async

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrPoolTimeout is returned by Join when the task queue fails to drain
// within the join timeout. All outstanding tasks are cancelled before Join
// returns it.
var ErrPoolTimeout = errors.New("worker pool timed out")

// Task is one unit of work executed by a pool worker. The context is
// cancelled when the pool is cancelled or its join timeout elapses.
type Task func(ctx context.Context) error

// Future resolves with the error of a submitted task once it finished.
type Future struct {
	done chan struct{}
	err  error
}

// Done is closed when the task has finished.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Err returns the task error. It must only be read after Done is closed.
func (f *Future) Err() error {
	return f.err
}

// Pool executes submitted tasks on a fixed number of long-running workers
// fed from an unbounded queue. Tasks submitted after cancellation are
// dropped.
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	queue []*poolTask
	nudge chan struct{}

	pending sync.WaitGroup
	workers sync.WaitGroup
}

type poolTask struct {
	run    Task
	future *Future
}

// NewPool starts maxWorkers workers bound to ctx.
func NewPool(ctx context.Context, maxWorkers int) *Pool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	p := &Pool{
		ctx:    ctx,
		cancel: cancel,
		nudge:  make(chan struct{}, 1),
	}
	for i := 0; i < maxWorkers; i++ {
		p.workers.Add(1)
		go p.worker()
	}
	return p
}

// Submit enqueues a task and returns a future resolving with its error.
func (p *Pool) Submit(task Task) *Future {
	f := &Future{done: make(chan struct{})}
	select {
	case <-p.ctx.Done():
		f.err = p.ctx.Err()
		close(f.done)
		return f
	default:
	}
	p.pending.Add(1)
	p.mu.Lock()
	p.queue = append(p.queue, &poolTask{run: task, future: f})
	p.mu.Unlock()
	p.poke()
	return f
}

// Join blocks until all submitted tasks have finished or the timeout elapsed.
// A timeout of zero waits indefinitely. On timeout the pool is cancelled,
// in-flight tasks are aborted through their context and ErrPoolTimeout is
// returned.
func (p *Pool) Join(timeout time.Duration) error {
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		p.pending.Wait()
	}()
	if timeout <= 0 {
		<-drained
		return nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-drained:
		return nil
	case <-timer.C:
		p.Cancel()
		return ErrPoolTimeout
	}
}

// Cancel aborts all queued and in-flight tasks and releases the workers.
// Queued tasks resolve their futures with the pool context error.
func (p *Pool) Cancel() {
	p.cancel()
	p.workers.Wait()
	p.mu.Lock()
	dropped := p.queue
	p.queue = nil
	p.mu.Unlock()
	for _, t := range dropped {
		t.future.err = p.ctx.Err()
		close(t.future.done)
		p.pending.Done()
	}
}

func (p *Pool) worker() {
	defer p.workers.Done()
	for {
		t, ok := p.next()
		if !ok {
			return
		}
		t.future.err = t.run(p.ctx)
		close(t.future.done)
		p.pending.Done()
	}
}

// next pops the oldest queued task, blocking until one is available or the
// pool is cancelled.
func (p *Pool) next() (*poolTask, bool) {
	for {
		p.mu.Lock()
		if len(p.queue) > 0 {
			t := p.queue[0]
			p.queue = p.queue[1:]
			if len(p.queue) > 0 {
				p.poke()
			}
			p.mu.Unlock()
			return t, true
		}
		p.mu.Unlock()
		select {
		case <-p.ctx.Done():
			return nil, false
		case <-p.nudge:
		}
	}
}

func (p *Pool) poke() {
	select {
	case p.nudge <- struct{}{}:
	default:
	}
}
