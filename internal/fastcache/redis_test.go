package fastcache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	r, err := New("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r, mr
}

func TestGetMiss(t *testing.T) {
	r, _ := newTestRedis(t)
	v, ok, err := r.Get(context.Background(), "preset-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, v)
}

func TestPutGetWithTTL(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, r.Put(ctx, "preset-1", []byte(`{"scene":"beach"}`), time.Hour))

	v, ok, err := r.Get(ctx, "preset-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"scene":"beach"}`, string(v))
	assert.True(t, mr.Exists("prompt:preset-1"))
	assert.Equal(t, time.Hour, mr.TTL("prompt:preset-1"))

	mr.FastForward(2 * time.Hour)
	_, ok, err = r.Get(ctx, "preset-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPutWithoutTTL(t *testing.T) {
	r, mr := newTestRedis(t)
	require.NoError(t, r.Put(context.Background(), "k", []byte("{}"), 0))
	assert.Zero(t, mr.TTL("prompt:k"))
}

func TestDelete(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, r.Put(ctx, "k", []byte("{}"), time.Minute))
	require.NoError(t, r.Delete(ctx, "k"))
	require.NoError(t, r.Delete(ctx, "k"))

	_, ok, err := r.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUnavailableServerReturnsError(t *testing.T) {
	r, mr := newTestRedis(t)
	mr.Close()

	_, _, err := r.Get(context.Background(), "k")
	assert.Error(t, err)
	assert.Error(t, r.Ping(context.Background()))
}

func TestInvalidURL(t *testing.T) {
	_, err := New("://nope")
	assert.Error(t, err)
}
