// Package quota keeps per-partition record collections under a configured
// cap. An insert that would exceed the cap first evicts the oldest records:
// their metadata rows are deleted in one batch, then their blobs are removed
// best-effort in detached tasks.
//
// The store does no locking. Callers must serialise inserts into the same
// partition (see package admission); different partitions may proceed
// concurrently.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/leca/dt-image-workflows/internal/background"
	"github.com/leca/dt-image-workflows/internal/metrics"
	"github.com/leca/dt-image-workflows/internal/model"
	"github.com/leca/dt-image-workflows/internal/result"
)

// DefaultBatchSize is the maximum number of identities deleted per eviction
// statement.
const DefaultBatchSize = 100

// Records is the metadata capability the store needs.
type Records interface {
	// Exists reports whether id is already recorded in the partition.
	Exists(ctx context.Context, p model.Partition, id string) (bool, error)
	// Oldest returns up to limit records ordered oldest first.
	Oldest(ctx context.Context, p model.Partition, limit int) ([]model.Record, error)
	// DeleteIDs deletes the given ids from the partition in one statement.
	DeleteIDs(ctx context.Context, p model.Partition, ids []string) (int64, error)
	// Insert adds a new record.
	Insert(ctx context.Context, rec model.Record) error
}

// BlobDeleter removes the blob behind an evicted record.
type BlobDeleter interface {
	Delete(ctx context.Context, key string) error
}

// LimitFunc returns the cap for a category.
type LimitFunc func(category string) int

// Inserted describes the outcome of a successful Insert.
type Inserted struct {
	ID string
	// Existing is true when the record was already present and nothing was
	// written.
	Existing bool
	// Evicted lists the ids removed to make room.
	Evicted []string
}

// Options tunes a Store. Zero values select defaults.
type Options struct {
	BatchSize int
	Tasks     *background.Group
	Logger    *slog.Logger
	Now       func() time.Time
}

// Store enforces the cap for one collection.
type Store struct {
	collection model.Collection
	records    Records
	blobs      BlobDeleter
	limit      LimitFunc
	batchSize  int
	tasks      *background.Group
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Store for collection.
func New(collection model.Collection, records Records, blobs BlobDeleter, limit LimitFunc, opts Options) *Store {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if limit == nil {
		limit = func(string) int { return 1 }
	}
	return &Store{
		collection: collection,
		records:    records,
		blobs:      blobs,
		limit:      limit,
		batchSize:  opts.BatchSize,
		tasks:      opts.Tasks,
		logger:     opts.Logger,
		now:        opts.Now,
	}
}

// Collection returns the collection this store serves.
func (s *Store) Collection() model.Collection {
	return s.collection
}

// Limit returns the effective cap for category, never below 1.
func (s *Store) Limit(category string) int {
	if n := s.limit(category); n > 0 {
		return n
	}
	return 1
}

// Insert records rec, evicting the oldest records of its partition first if
// the cap would otherwise be exceeded. Inserting an id that already exists
// in the partition is a no-op that returns the existing id.
func (s *Store) Insert(ctx context.Context, rec model.Record) result.Result[Inserted] {
	if rec.ID == "" || rec.OwnerID == "" {
		return result.Fail[Inserted](result.New(0, "quota: record id and owner are required"))
	}
	p := rec.Partition()

	exists, err := s.records.Exists(ctx, p, rec.ID)
	if err != nil {
		return s.fail(p, "lookup existing", err)
	}
	if exists {
		return result.Ok(Inserted{ID: rec.ID, Existing: true})
	}

	// The query is bounded: it reads at most one batch past the cap, so a
	// partition left above a lowered cap shrinks by up to BatchSize per insert.
	limit := s.Limit(p.Category)
	oldest, err := s.records.Oldest(ctx, p, limit-1+s.batchSize)
	if err != nil {
		return s.fail(p, "list oldest", err)
	}

	var evicted []string
	if len(oldest) >= limit {
		excess := len(oldest) - limit + 1
		if excess > s.batchSize {
			excess = s.batchSize
		}
		evicted, err = s.evict(ctx, p, oldest[:excess])
		if err != nil {
			return s.fail(p, "evict", err)
		}
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	if err := s.records.Insert(ctx, rec); err != nil {
		return s.fail(p, "insert", err)
	}
	return result.Ok(Inserted{ID: rec.ID, Evicted: evicted})
}

// evict deletes the metadata rows of victims in one batch, then schedules a
// best-effort blob delete per victim.
func (s *Store) evict(ctx context.Context, p model.Partition, victims []model.Record) ([]string, error) {
	ids := make([]string, len(victims))
	for i, v := range victims {
		ids[i] = v.ID
	}
	if _, err := s.records.DeleteIDs(ctx, p, ids); err != nil {
		return nil, err
	}
	metrics.QuotaEvictions.WithLabelValues(string(s.collection)).Add(float64(len(ids)))
	s.logger.Info("evicted records", "collection", s.collection, "partition", p.String(), "count", len(ids))

	if s.blobs == nil {
		return ids, nil
	}
	for _, v := range victims {
		if v.BlobKey == "" {
			continue
		}
		key := v.BlobKey
		s.tasks.Go(ctx, "evict_blob", func(ctx context.Context) error {
			return s.blobs.Delete(ctx, key)
		})
	}
	return ids, nil
}

func (s *Store) fail(p model.Partition, step string, err error) result.Result[Inserted] {
	s.logger.Warn("quota insert failed", "collection", s.collection, "partition", p.String(), "step", step, "error", err)
	f := result.From(fmt.Errorf("quota %s: %w", step, err))
	return result.Fail[Inserted](f)
}

// ErrInvalidLimit is returned by ParseLimits for malformed entries.
var ErrInvalidLimit = errors.New("invalid limit")

// NormalizeMax resolves a configured cap. An empty value selects def.
// Non-numeric, NaN, infinite and non-positive values fall back to 1; anything
// else is floored and never below 1.
func NormalizeMax(raw string, def int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if def < 1 {
			return 1
		}
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return 1
	}
	n := math.Floor(f)
	if n < 1 {
		return 1
	}
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(n)
}

// ParseLimits parses "category=n,category=n" into per-category caps. Each
// value goes through NormalizeMax with def.
func ParseLimits(raw string, def int) (map[string]int, error) {
	limits := make(map[string]int)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidLimit, part)
		}
		limits[name] = NormalizeMax(value, def)
	}
	return limits, nil
}
