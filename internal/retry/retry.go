// Package retry executes external calls with exponential backoff and jitter,
// stopping early when an error is classified as permanent.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/leca/dt-image-workflows/internal/metrics"
	"github.com/leca/dt-image-workflows/internal/result"
)

const (
	// FastCap bounds the delay when MaxAttempts <= FastPathAttempts.
	FastCap = 5 * time.Second
	// SlowCap bounds the delay otherwise.
	SlowCap = 30 * time.Second
	// FastPathAttempts is the largest attempt count treated as the fast path.
	FastPathAttempts = 3

	DefaultInitialDelay = time.Second

	jitterFraction = 0.3
)

// transientSignatures are lower-case fragments that mark an error as
// transient regardless of its status code.
var transientSignatures = []string{
	"timeout",
	"network",
	"connection",
	"rate limit",
	"429",
	"500",
	"502",
	"503",
	"unspecified error",
	"service unavailable",
}

// Classifier reports whether f should be retried. attempt is zero-based.
type Classifier func(f *result.Failure, attempt int) bool

// Policy configures one retried operation.
type Policy struct {
	// Name labels metrics and logs.
	Name string

	MaxAttempts  int
	InitialDelay time.Duration

	// AttemptTimeout bounds each individual attempt. Zero disables it.
	AttemptTimeout time.Duration

	// Classifier overrides DefaultClassifier.
	Classifier Classifier

	// Sleep and Jitter are replaceable for tests.
	Sleep  func(ctx context.Context, d time.Duration) error
	Jitter func() float64
}

// DefaultClassifier implements the standard retryability policy:
// 4xx other than 429 is permanent, known transient signatures and timeouts
// are retryable, an error without a status code is retryable, and anything
// else is permanent except on the first attempt.
func DefaultClassifier(f *result.Failure, attempt int) bool {
	if f == nil {
		return false
	}
	if f.SafetyCode != 0 {
		return false
	}
	if f.StatusCode >= 400 && f.StatusCode <= 499 && f.StatusCode != 429 {
		return false
	}
	if errors.Is(f, context.DeadlineExceeded) {
		return true
	}
	text := strings.ToLower(f.Error())
	for _, sig := range transientSignatures {
		if strings.Contains(text, sig) {
			return true
		}
	}
	if f.StatusCode == 0 {
		return true
	}
	return attempt == 0
}

// CapFor returns the delay ceiling for a policy with maxAttempts attempts.
func CapFor(maxAttempts int) time.Duration {
	if maxAttempts <= FastPathAttempts {
		return FastCap
	}
	return SlowCap
}

// Backoff computes the delay after the zero-based attempt:
// min(initial*2^attempt + jitter*0.3*initial*2^attempt, cap).
// jitter is expected in [0, 1).
func Backoff(attempt int, initial time.Duration, maxAttempts int, jitter float64) time.Duration {
	ceiling := CapFor(maxAttempts)
	base := float64(initial) * math.Pow(2, float64(attempt))
	d := base + jitter*jitterFraction*base
	if d >= float64(ceiling) || math.IsInf(d, 0) || math.IsNaN(d) {
		return ceiling
	}
	return time.Duration(d)
}

// Do runs op until it succeeds, fails permanently, or MaxAttempts is spent.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) result.Result[T] {
	p = p.withDefaults()

	var last *result.Failure
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		v, err := callOnce(ctx, p.AttemptTimeout, op)
		if err == nil {
			metrics.RetryAttempts.WithLabelValues(p.Name, "success").Inc()
			return result.Ok(v)
		}

		f := *result.From(err)
		last = &f
		last.Attempts = attempt + 1

		if !p.Classifier(last, attempt) {
			metrics.RetryAttempts.WithLabelValues(p.Name, "permanent").Inc()
			last.Permanent = true
			last.Exhausted = false
			return result.Fail[T](last)
		}
		last.Permanent = false

		if attempt == p.MaxAttempts-1 {
			break
		}
		metrics.RetryAttempts.WithLabelValues(p.Name, "retry").Inc()

		delay := Backoff(attempt, p.InitialDelay, p.MaxAttempts, p.Jitter())
		if err := p.Sleep(ctx, delay); err != nil {
			last.Exhausted = false
			last.Err = errors.Join(last.Err, err)
			return result.Fail[T](last)
		}
	}

	metrics.RetryAttempts.WithLabelValues(p.Name, "exhausted").Inc()
	last.Exhausted = true
	return result.Fail[T](last)
}

func (p Policy) withDefaults() Policy {
	if p.Name == "" {
		p.Name = "unnamed"
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = DefaultInitialDelay
	}
	if p.Classifier == nil {
		p.Classifier = DefaultClassifier
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}
	if p.Jitter == nil {
		p.Jitter = rand.Float64
	}
	return p
}

// callOnce runs a single attempt, converting a panic into an error.
func callOnce[T any](ctx context.Context, timeout time.Duration, op func(ctx context.Context) (T, error)) (v T, err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation panicked: %v", r)
		}
	}()
	return op(ctx)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
