// Package admission runs upload batches. Items of a quota-bound category
// are processed strictly one after another so the check, evict and insert
// sequence of one item never overlaps another's. Items with no shared bound
// run on a bounded worker pool.
package admission

import (
	"context"
	"fmt"

	"github.com/leca/dt-image-workflows/internal/result"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the worker pool size for unbounded categories.
const DefaultConcurrency = 5

// Controller chooses sequential or pooled execution per batch.
type Controller struct {
	concurrency int
}

// New creates a Controller. A non-positive concurrency selects
// DefaultConcurrency.
func New(concurrency int) *Controller {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Controller{concurrency: concurrency}
}

// Concurrency returns the worker pool size.
func (c *Controller) Concurrency() int {
	if c == nil {
		return DefaultConcurrency
	}
	return c.concurrency
}

// Outcome is the result of one item. Index is the item's position in the
// input batch.
type Outcome[R any] struct {
	Index int
	result.Result[R]
}

// Run processes items with fn and returns one Outcome per item in input
// order. bounded selects sequential processing. A failing or panicking item
// never stops its siblings, and a safety rejection does not short-circuit
// the batch.
func Run[T, R any](ctx context.Context, c *Controller, bounded bool, items []T, fn func(ctx context.Context, item T) result.Result[R]) []Outcome[R] {
	out := make([]Outcome[R], len(items))
	if bounded {
		for i, item := range items {
			out[i] = Outcome[R]{Index: i, Result: runOne(ctx, item, fn)}
		}
		return out
	}

	var g errgroup.Group
	g.SetLimit(c.Concurrency())
	for i, item := range items {
		g.Go(func() error {
			out[i] = Outcome[R]{Index: i, Result: runOne(ctx, item, fn)}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func runOne[T, R any](ctx context.Context, item T, fn func(ctx context.Context, item T) result.Result[R]) (res result.Result[R]) {
	defer func() {
		if r := recover(); r != nil {
			res = result.Fail[R](result.New(0, "item processing panicked: %v", r))
		}
	}()
	return fn(ctx, item)
}

// Summary counts a batch's outcomes.
type Summary struct {
	Succeeded int
	Failed    int
	// Safety is the first safety rejection in input order, if any.
	Safety *result.Failure
	// FirstFailure is the first failure in input order, if any.
	FirstFailure *result.Failure
}

// Summarize counts successes and failures and picks out the dominant
// failures.
func Summarize[R any](outcomes []Outcome[R]) Summary {
	var s Summary
	for _, o := range outcomes {
		if o.OK() {
			s.Succeeded++
			continue
		}
		s.Failed++
		if s.FirstFailure == nil {
			s.FirstFailure = o.Failure
		}
		if s.Safety == nil && o.Failure.IsSafety() {
			s.Safety = o.Failure
		}
	}
	return s
}

func (s Summary) String() string {
	return fmt.Sprintf("%d succeeded, %d failed", s.Succeeded, s.Failed)
}
