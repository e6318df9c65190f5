// Package promptcache resolves generated prompt payloads through a fast
// tier, a durable tier and finally a generate call, writing results back to
// the faster tiers.
//
// Concurrent misses for the same key may each call generate. The generated
// payload is derived from the same source asset, so the duplicate writes are
// idempotent; no lock is taken.
package promptcache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/leca/dt-image-workflows/internal/background"
	"github.com/leca/dt-image-workflows/internal/metrics"
	"github.com/leca/dt-image-workflows/internal/model"
	"github.com/leca/dt-image-workflows/internal/result"
)

// FastTier is a low-latency, TTL-bearing cache. It may be absent.
type FastTier interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// DurableTier is the authoritative, non-expiring tier.
type DurableTier interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, payload []byte) error
}

// GenerateFunc produces a fresh payload. Callers wrap external calls in the
// retry engine before passing them here.
type GenerateFunc func(ctx context.Context) (json.RawMessage, *result.Failure)

// Cache is a two-tier read-through prompt cache.
type Cache struct {
	fast    FastTier
	durable DurableTier
	ttl     time.Duration
	tasks   *background.Group
	logger  *slog.Logger
}

// New creates a Cache. fast may be nil.
func New(fast FastTier, durable DurableTier, ttl time.Duration, tasks *background.Group, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{fast: fast, durable: durable, ttl: ttl, tasks: tasks, logger: logger}
}

// WithDurable returns a copy of c reading and writing through d. Used to bind
// a request-scoped durable tier.
func (c *Cache) WithDurable(d DurableTier) *Cache {
	cp := *c
	cp.durable = d
	return &cp
}

// HasFastTier reports whether a fast tier is configured.
func (c *Cache) HasFastTier() bool {
	return c.fast != nil
}

// Resolve returns the payload for key from the fastest tier that has it, or
// from generate on a full miss. Tier read errors count as misses. A
// generate failure is returned uncached.
func (c *Cache) Resolve(ctx context.Context, key string, generate GenerateFunc) result.Result[model.CachedPrompt] {
	if v, ok := c.readFast(ctx, key); ok {
		metrics.PromptLookups.WithLabelValues(string(model.SourceFast)).Inc()
		return result.Ok(model.CachedPrompt{Key: key, Payload: v, Source: model.SourceFast})
	}

	if v, ok := c.readDurable(ctx, key); ok {
		metrics.PromptLookups.WithLabelValues(string(model.SourceDurable)).Inc()
		c.writeFast(ctx, key, v)
		return result.Ok(model.CachedPrompt{Key: key, Payload: v, Source: model.SourceDurable})
	}

	payload, f := generate(ctx)
	if f == nil && !json.Valid(payload) {
		f = result.New(0, "generated prompt is not valid JSON")
	}
	if f != nil {
		metrics.PromptLookups.WithLabelValues("failed").Inc()
		return result.Fail[model.CachedPrompt](f)
	}
	metrics.PromptLookups.WithLabelValues(string(model.SourceGenerated)).Inc()

	if c.durable != nil {
		if err := c.durable.Put(ctx, key, payload); err != nil {
			c.logger.Warn("durable prompt write failed", "key", key, "error", err)
		}
	}
	c.writeFast(ctx, key, payload)

	return result.Ok(model.CachedPrompt{Key: key, Payload: payload, Source: model.SourceGenerated})
}

// Invalidate drops key from the fast tier so the next Resolve falls through
// to the durable tier or regenerates. The durable tier is overwritten on the
// next successful generation, never deleted here.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	if c.fast == nil {
		return nil
	}
	return c.fast.Delete(ctx, key)
}

func (c *Cache) readFast(ctx context.Context, key string) (json.RawMessage, bool) {
	if c.fast == nil {
		return nil, false
	}
	v, ok, err := c.fast.Get(ctx, key)
	if err != nil {
		c.logger.Debug("fast tier read failed", "key", key, "error", err)
		return nil, false
	}
	if !ok || !json.Valid(v) {
		return nil, false
	}
	return v, true
}

func (c *Cache) readDurable(ctx context.Context, key string) (json.RawMessage, bool) {
	if c.durable == nil {
		return nil, false
	}
	v, ok, err := c.durable.Get(ctx, key)
	if err != nil {
		c.logger.Debug("durable tier read failed", "key", key, "error", err)
		return nil, false
	}
	if !ok || len(v) == 0 || !json.Valid(v) {
		return nil, false
	}
	return v, true
}

// writeFast repopulates the fast tier in a detached task. Its failure never
// reaches the caller.
func (c *Cache) writeFast(ctx context.Context, key string, payload json.RawMessage) {
	if c.fast == nil {
		return
	}
	fast, ttl := c.fast, c.ttl
	c.tasks.Go(ctx, "prompt_fast_write", func(ctx context.Context) error {
		return fast.Put(ctx, key, payload, ttl)
	})
}
