// Package background runs detached best-effort tasks: fast-tier cache
// write-backs and blob deletions whose failure must never reach the caller.
package background

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/leca/dt-image-workflows/internal/metrics"
)

// DefaultTimeout bounds a single detached task.
const DefaultTimeout = 30 * time.Second

// Group tracks detached goroutines so they can be drained on shutdown.
type Group struct {
	logger  *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewGroup creates a Group. A nil logger uses slog.Default().
func NewGroup(logger *slog.Logger, timeout time.Duration) *Group {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Group{logger: logger, timeout: timeout}
}

// Go runs fn in its own goroutine on a context detached from ctx's
// cancellation. Errors and panics are logged and counted, never returned.
// A nil Group runs fn inline.
func (g *Group) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	if g == nil {
		_ = fn(ctx)
		return
	}
	detached := context.WithoutCancel(ctx)
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		tctx, cancel := context.WithTimeout(detached, g.timeout)
		defer cancel()
		if err := g.run(tctx, fn); err != nil {
			metrics.BackgroundFailures.WithLabelValues(name).Inc()
			g.logger.Warn("background task failed", "task", name, "error", err)
		}
	}()
}

func (g *Group) run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

// Wait blocks until every task started so far has finished.
func (g *Group) Wait() {
	if g == nil {
		return
	}
	g.wg.Wait()
}
