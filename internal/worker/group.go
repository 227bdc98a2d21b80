// Package worker runs fire-and-forget hand-offs (history writes, pushes,
// event publishing) off the signaling path while keeping them accountable
// at shutdown.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/weiawesome/wes-io-live/messenger-service/pkg/log"
)

// DefaultTimeout bounds a single task.
const DefaultTimeout = 10 * time.Second

// Group tracks background tasks. The zero value is not usable; use NewGroup.
type Group struct {
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewGroup creates a group whose tasks each get at most timeout.
func NewGroup(timeout time.Duration) *Group {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Group{ctx: ctx, cancel: cancel, timeout: timeout}
}

// Go runs fn in a new goroutine with a bounded context. It never blocks the
// caller. Tasks submitted after Stop are dropped and reported false.
func (g *Group) Go(name string, fn func(ctx context.Context) error) bool {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		l := log.L()
		l.Warn().Str("task", name).Msg("worker group stopped, task dropped")
		return false
	}
	g.wg.Add(1)
	g.mu.Unlock()

	go func() {
		defer g.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				l := log.L()
				l.Error().Str("task", name).Interface("panic", r).Msg("background task panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(g.ctx, g.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			l := log.L()
			l.Warn().Err(err).Str("task", name).Msg("background task failed")
		}
	}()
	return true
}

// Wait blocks until every submitted task has returned.
func (g *Group) Wait() {
	g.wg.Wait()
}

// Stop refuses new tasks and waits for running ones until ctx is done, at
// which point the remaining tasks are cancelled.
func (g *Group) Stop(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		g.cancel()
		return nil
	case <-ctx.Done():
		g.cancel()
		<-done
		return ctx.Err()
	}
}
