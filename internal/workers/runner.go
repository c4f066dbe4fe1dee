// Package workers runs named background tasks with panic recovery and
// coordinated shutdown.
package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is a long-running background function. It must return promptly when
// the context is cancelled.
type Task func(ctx context.Context)

// Runner owns a set of background goroutines sharing one lifecycle. A
// panicking task is logged and does not take the process down.
type Runner struct {
	logger *zap.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

// NewRunner creates a runner; tasks launched on it stop when Stop is called
func NewRunner(logger *zap.Logger) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		logger: logger.Named("workers"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Go launches a named background task
func (r *Runner) Go(name string, task Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return fmt.Errorf("runner is stopped")
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("Background task panicked",
					zap.String("task", name),
					zap.Any("panic", rec),
				)
			}
		}()
		r.logger.Debug("Background task started", zap.String("task", name))
		task(r.ctx)
		r.logger.Debug("Background task finished", zap.String("task", name))
	}()
	return nil
}

// Every launches a named task invoked on a fixed interval until shutdown
func (r *Runner) Every(name string, interval time.Duration, fn func(now time.Time)) error {
	return r.Go(name, func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				fn(now)
			}
		}
	})
}

// Stop cancels all tasks and waits up to the timeout for them to return
func (r *Runner) Stop(timeout time.Duration) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	r.mu.Unlock()

	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.logger.Info("Background tasks stopped")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("background tasks did not stop within %s", timeout)
	}
}
