package quota

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/leca/dt-image-workflows/internal/background"
	"github.com/leca/dt-image-workflows/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memRecords is an in-memory Records that counts calls.
type memRecords struct {
	mu        sync.Mutex
	rows      []model.Record
	deletes   int
	deleted   []string
	insertErr error
}

func (m *memRecords) Exists(_ context.Context, p model.Partition, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.Partition() == p && r.ID == id {
			return true, nil
		}
	}
	return false, nil
}

func (m *memRecords) Oldest(_ context.Context, p model.Partition, limit int) ([]model.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Record
	for _, r := range m.rows {
		if r.Partition() == p {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRecords) DeleteIDs(_ context.Context, p model.Partition, ids []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	var kept []model.Record
	var n int64
	for _, r := range m.rows {
		if r.Partition() == p && drop[r.ID] {
			n++
			m.deleted = append(m.deleted, r.ID)
			continue
		}
		kept = append(kept, r)
	}
	m.rows = kept
	return n, nil
}

func (m *memRecords) Insert(_ context.Context, rec model.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.rows = append(m.rows, rec)
	return nil
}

func (m *memRecords) count(p model.Partition) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.rows {
		if r.Partition() == p {
			n++
		}
	}
	return n
}

// memBlobs records delete attempts and fails for keys in failFor.
type memBlobs struct {
	mu       sync.Mutex
	attempts []string
	failFor  map[string]bool
}

func (b *memBlobs) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts = append(b.attempts, key)
	if b.failFor[key] {
		return errors.New("blob backend unavailable")
	}
	return nil
}

// tick returns a clock that advances one second per call.
func tick() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func newTestStore(records Records, blobs BlobDeleter, limit int) (*Store, *background.Group) {
	tasks := background.NewGroup(nil, time.Second)
	s := New(model.CollectionHistory, records, blobs, func(string) int { return limit }, Options{
		Tasks: tasks,
		Now:   tick(),
	})
	return s, tasks
}

func record(owner, id string) model.Record {
	return model.Record{ID: id, OwnerID: owner, Extension: "jpg", BlobKey: "results/" + owner + "/" + id + ".jpg"}
}

func TestBoundedHistoryScenario(t *testing.T) {
	recs := &memRecords{}
	blobs := &memBlobs{}
	s, tasks := newTestStore(recs, blobs, 10)
	ctx := context.Background()
	p := model.Partition{OwnerID: "owner-1"}

	for i := 1; i <= 11; i++ {
		res := s.Insert(ctx, record("owner-1", fmt.Sprintf("r%02d", i)))
		require.True(t, res.OK(), "insert %d: %v", i, res.Failure)
		assert.LessOrEqual(t, recs.count(p), 10)
	}
	tasks.Wait()

	assert.Equal(t, 10, recs.count(p))
	exists, err := recs.Exists(ctx, p, "r01")
	require.NoError(t, err)
	assert.False(t, exists, "first record should be evicted")
	assert.Equal(t, []string{"results/owner-1/r01.jpg"}, blobs.attempts)
}

func TestQuotaInvariantHoldsForEveryInsert(t *testing.T) {
	for _, limit := range []int{1, 2, 3, 7} {
		t.Run(fmt.Sprintf("max=%d", limit), func(t *testing.T) {
			recs := &memRecords{}
			s, tasks := newTestStore(recs, &memBlobs{}, limit)
			p := model.Partition{OwnerID: "o"}
			for i := 0; i < 3*limit+2; i++ {
				require.True(t, s.Insert(context.Background(), record("o", fmt.Sprintf("id-%d", i))).OK())
				assert.LessOrEqual(t, recs.count(p), limit)
			}
			tasks.Wait()
			assert.Equal(t, limit, recs.count(p))
		})
	}
}

func TestIdempotentInsert(t *testing.T) {
	recs := &memRecords{}
	blobs := &memBlobs{}
	s, tasks := newTestStore(recs, blobs, 2)
	ctx := context.Background()
	p := model.Partition{OwnerID: "o"}

	require.True(t, s.Insert(ctx, record("o", "a")).OK())
	require.True(t, s.Insert(ctx, record("o", "b")).OK())

	first := s.Insert(ctx, record("o", "b"))
	second := s.Insert(ctx, record("o", "b"))
	tasks.Wait()

	require.True(t, first.OK())
	require.True(t, second.OK())
	assert.Equal(t, "b", first.Value.ID)
	assert.Equal(t, "b", second.Value.ID)
	assert.True(t, second.Value.Existing)
	assert.Equal(t, 2, recs.count(p))
	assert.Zero(t, recs.deletes, "a repeated insert must not evict")
	assert.Empty(t, blobs.attempts)
}

func TestSameIDDifferentPartitionsAreIndependent(t *testing.T) {
	recs := &memRecords{}
	s, _ := newTestStore(recs, nil, 5)
	ctx := context.Background()

	require.True(t, s.Insert(ctx, model.Record{ID: "x", OwnerID: "o", Category: "faceswap"}).OK())
	res := s.Insert(ctx, model.Record{ID: "x", OwnerID: "o", Category: "aging"})
	require.True(t, res.OK())
	assert.False(t, res.Value.Existing)
}

func TestEvictionConsistencyWithBlobFailures(t *testing.T) {
	recs := &memRecords{}
	blobs := &memBlobs{failFor: map[string]bool{"results/o/a.jpg": true}}
	s, tasks := newTestStore(recs, blobs, 3)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.True(t, s.Insert(ctx, record("o", id)).OK())
	}
	// Lower the cap so the next insert evicts two records at once.
	s.limit = func(string) int { return 2 }

	res := s.Insert(ctx, record("o", "d"))
	tasks.Wait()

	require.True(t, res.OK(), "blob failures must not fail the insert")
	assert.Equal(t, []string{"a", "b"}, res.Value.Evicted)
	assert.Equal(t, 1, recs.deletes, "metadata deletes run as one batch")
	assert.ElementsMatch(t, []string{"a", "b"}, recs.deleted)
	assert.ElementsMatch(t, []string{"results/o/a.jpg", "results/o/b.jpg"}, blobs.attempts)
	assert.Equal(t, 2, recs.count(model.Partition{OwnerID: "o"}))
}

func TestEvictionBatchIsCapped(t *testing.T) {
	recs := &memRecords{}
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		r := record("o", fmt.Sprintf("old-%d", i))
		r.CreatedAt = base.Add(time.Duration(i) * time.Second)
		recs.rows = append(recs.rows, r)
	}
	tasks := background.NewGroup(nil, time.Second)
	s := New(model.CollectionHistory, recs, &memBlobs{}, func(string) int { return 10 }, Options{
		BatchSize: 3,
		Tasks:     tasks,
	})

	// Shrink the cap well below the current size; one pass evicts at most
	// BatchSize records.
	s.limit = func(string) int { return 2 }
	res := s.Insert(context.Background(), record("o", "new"))
	tasks.Wait()

	require.True(t, res.OK())
	assert.Equal(t, []string{"old-0", "old-1", "old-2"}, res.Value.Evicted)
}

func TestInsertFailureIsReported(t *testing.T) {
	recs := &memRecords{insertErr: errors.New("disk full")}
	s, _ := newTestStore(recs, nil, 2)

	res := s.Insert(context.Background(), record("o", "a"))
	require.False(t, res.OK())
	assert.Contains(t, res.Failure.Error(), "disk full")
}

func TestInsertRequiresIdentity(t *testing.T) {
	s, _ := newTestStore(&memRecords{}, nil, 2)
	assert.False(t, s.Insert(context.Background(), model.Record{OwnerID: "o"}).OK())
	assert.False(t, s.Insert(context.Background(), model.Record{ID: "x"}).OK())
}

func TestSequentialInsertsNeverExceedCap(t *testing.T) {
	recs := &memRecords{}
	s, tasks := newTestStore(recs, &memBlobs{}, 2)
	p := model.Partition{OwnerID: "o", Category: "faceswap"}

	for i := 0; i < 3; i++ {
		time.Sleep(time.Millisecond)
		rec := model.Record{ID: fmt.Sprintf("s%d", i), OwnerID: "o", Category: "faceswap"}
		require.True(t, s.Insert(context.Background(), rec).OK())
	}
	tasks.Wait()
	assert.Equal(t, 2, recs.count(p))
}

func TestNormalizeMax(t *testing.T) {
	tests := []struct {
		raw  string
		def  int
		want int
	}{
		{"", 10, 10},
		{"", 0, 1},
		{"5", 10, 5},
		{" 7 ", 10, 7},
		{"3.9", 10, 3},
		{"0.5", 10, 1},
		{"0", 10, 1},
		{"-4", 10, 1},
		{"abc", 10, 1},
		{"NaN", 10, 1},
		{"Inf", 10, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeMax(tt.raw, tt.def), "raw=%q", tt.raw)
	}
}

func TestParseLimits(t *testing.T) {
	limits, err := ParseLimits("faceswap=4, aging=0,restore=2.5,filter=", 8)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"faceswap": 4, "aging": 1, "restore": 2, "filter": 8}, limits)

	_, err = ParseLimits("oops", 8)
	assert.ErrorIs(t, err, ErrInvalidLimit)

	limits, err = ParseLimits("", 8)
	require.NoError(t, err)
	assert.Empty(t, limits)
}
