package async

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/liftoff-labs/gymcore/pkg/observability"
)

var (
	// ErrPoolClosed is returned when submitting to a pool after Shutdown.
	ErrPoolClosed = errors.New("worker pool shut down")
	// ErrPoolFull is returned by TrySubmit when the queue has no room.
	ErrPoolFull = errors.New("worker pool queue full")
)

// SafeGo runs fn in a goroutine with panic recovery. A positive timeout
// bounds the task; otherwise it lives as long as parentCtx. Errors and
// panics are logged through the context logger.
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		var (
			ctx    context.Context
			cancel context.CancelFunc
		)
		if timeout > 0 {
			ctx, cancel = context.WithTimeout(parentCtx, timeout)
		} else {
			ctx, cancel = context.WithCancel(parentCtx)
		}
		defer cancel()

		logger := observability.GetLogger(parentCtx).WithField("task", taskName)
		defer func() {
			if r := recover(); r != nil {
				logger.WithFields(map[string]interface{}{
					"panic": fmt.Sprintf("%v", r),
					"stack": string(debug.Stack()),
				}).Error("PANIC in background task")
			}
		}()

		if err := fn(ctx); err != nil {
			logger.WithError(err).Error("Background task failed")
		}
	}()
}

// WorkerPool runs submitted tasks on a fixed number of goroutines.
type WorkerPool struct {
	workers  int
	taskName string
	timeout  time.Duration
	logger   *observability.Logger

	mu     sync.RWMutex
	closed bool
	workCh chan func(context.Context) error
	doneCh chan struct{}
	errCh  chan error

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
}

// Option configures a WorkerPool.
type Option func(*WorkerPool)

// WithQueueSize sets the task buffer. The default is twice the worker count.
func WithQueueSize(n int) Option {
	return func(p *WorkerPool) {
		if n > 0 {
			p.workCh = make(chan func(context.Context) error, n)
		}
	}
}

// WithLogger sets the logger used for panics and dropped errors.
func WithLogger(logger *observability.Logger) Option {
	return func(p *WorkerPool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewWorkerPool starts workers goroutines. Each task runs with its own
// timeout derived from ctx.
//
//	pool := NewWorkerPool(ctx, 4, "audit write", 2*time.Second, WithQueueSize(256))
//	defer pool.Shutdown(5 * time.Second)
func NewWorkerPool(ctx context.Context, workers int, taskName string, timeout time.Duration, opts ...Option) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)

	pool := &WorkerPool{
		workers:  workers,
		taskName: taskName,
		timeout:  timeout,
		logger:   observability.GetLogger(ctx),
		workCh:   make(chan func(context.Context) error, workers*2),
		doneCh:   make(chan struct{}),
		errCh:    make(chan error, workers*10),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(pool)
	}
	pool.logger = pool.logger.WithField("pool", taskName)

	go func() {
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				pool.worker(id)
			}(i)
		}
		wg.Wait()
		close(pool.doneCh)
	}()

	return pool
}

// Submit queues fn, blocking while the queue is full.
func (p *WorkerPool) Submit(fn func(context.Context) error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.workCh <- fn:
		return nil
	case <-p.ctx.Done():
		return ErrPoolClosed
	}
}

// TrySubmit queues fn without blocking, returning ErrPoolFull when there
// is no room.
func (p *WorkerPool) TrySubmit(fn func(context.Context) error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.workCh <- fn:
		return nil
	default:
		return ErrPoolFull
	}
}

// Shutdown stops accepting work and waits up to timeout for queued tasks
// to drain.
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	var shutdownErr error

	p.shutdownOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.workCh)
		p.mu.Unlock()

		select {
		case <-p.doneCh:
			p.cancel()
		case <-time.After(timeout):
			p.cancel()
			shutdownErr = fmt.Errorf("worker pool shutdown timed out after %v", timeout)
		}
	})

	return shutdownErr
}

// Errors returns a channel that receives task errors. Errors are dropped
// (and logged) when nobody drains it.
func (p *WorkerPool) Errors() <-chan error {
	return p.errCh
}

func (p *WorkerPool) worker(id int) {
	for {
		select {
		case <-p.ctx.Done():
			return
		case fn, ok := <-p.workCh:
			if !ok {
				return
			}
			p.run(id, fn)
		}
	}
}

func (p *WorkerPool) run(id int, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.logger.WithFields(map[string]interface{}{
				"worker": id,
				"panic":  fmt.Sprintf("%v", r),
				"stack":  string(debug.Stack()),
			}).Error("PANIC in worker task")
			p.report(fmt.Errorf("panic: %v", r))
		}
	}()

	if err := fn(ctx); err != nil {
		p.report(err)
	}
}

func (p *WorkerPool) report(err error) {
	select {
	case p.errCh <- err:
	default:
		p.logger.WithError(err).Warn("Error channel full, dropping error")
	}
}
