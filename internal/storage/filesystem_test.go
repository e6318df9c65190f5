package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPut(t *testing.T) {
	fs := NewFileSystem(t.TempDir())
	data := []byte("hello, image data")

	info, err := fs.Put(context.Background(), "selfies/p1/s1.jpg", bytes.NewReader(data), PutOptions{
		ContentType:  "image/jpeg",
		CacheControl: "public, max-age=31536000",
		Metadata:     map[string]string{"owner": "p1"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), info.Size)
	assert.Equal(t, "image/jpeg", info.ContentType)

	// Verify the file exists on disk at the expected path.
	path := filepath.Join(fs.basePath, "objects", "selfies", "p1", "s1.jpg")
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, content)
}

func TestGet(t *testing.T) {
	fs := NewFileSystem(t.TempDir())
	ctx := context.Background()
	data := []byte("retrieve me")

	_, err := fs.Put(ctx, "results/p1/r1.png", bytes.NewReader(data), PutOptions{ContentType: "image/png"})
	require.NoError(t, err)

	rc, info, err := fs.Get(ctx, "results/p1/r1.png")
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, "image/png", info.ContentType)
}

func TestHeadReturnsMetadata(t *testing.T) {
	fs := NewFileSystem(t.TempDir())
	ctx := context.Background()

	_, err := fs.Put(ctx, "presets/a", bytes.NewReader([]byte("x")), PutOptions{
		Metadata: map[string]string{"prompt": `{"style":"noir"}`},
	})
	require.NoError(t, err)

	info, err := fs.Head(ctx, "presets/a")
	require.NoError(t, err)
	assert.Equal(t, `{"style":"noir"}`, info.Metadata["prompt"])
	assert.Equal(t, "application/octet-stream", info.ContentType)
	assert.Equal(t, int64(1), info.Size)
}

func TestHeadNotFound(t *testing.T) {
	fs := NewFileSystem(t.TempDir())
	_, err := fs.Head(context.Background(), "presets/missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, IsNotFound(err))
}

func TestDelete(t *testing.T) {
	fs := NewFileSystem(t.TempDir())
	ctx := context.Background()

	_, err := fs.Put(ctx, "selfies/p1/s2.jpg", bytes.NewReader([]byte("delete me")), PutOptions{})
	require.NoError(t, err)

	require.NoError(t, fs.Delete(ctx, "selfies/p1/s2.jpg"))

	_, err = fs.Head(ctx, "selfies/p1/s2.jpg")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = os.Stat(fs.metaPath("selfies/p1/s2.jpg"))
	assert.True(t, os.IsNotExist(err), "expected sidecar to be removed")
}

func TestDeleteIdempotent(t *testing.T) {
	fs := NewFileSystem(t.TempDir())
	assert.NoError(t, fs.Delete(context.Background(), "results/p1/nope.jpg"))
}

func TestInvalidKeys(t *testing.T) {
	fs := NewFileSystem(t.TempDir())
	ctx := context.Background()
	for _, key := range []string{"", "/abs", "../escape", "a/../../b", "a//b", "a\\b"} {
		_, err := fs.Put(ctx, key, bytes.NewReader(nil), PutOptions{})
		assert.ErrorIs(t, err, ErrInvalidKey, "key %q", key)
	}
}

func TestPutOverwrites(t *testing.T) {
	fs := NewFileSystem(t.TempDir())
	ctx := context.Background()

	_, err := fs.Put(ctx, "presets/a", bytes.NewReader([]byte("v1")), PutOptions{Metadata: map[string]string{"prompt": "{}"}})
	require.NoError(t, err)
	_, err = fs.Put(ctx, "presets/a", bytes.NewReader([]byte("v2")), PutOptions{})
	require.NoError(t, err)

	rc, info, err := fs.Get(ctx, "presets/a")
	require.NoError(t, err)
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	assert.Equal(t, "v2", string(got))
	assert.Empty(t, info.Metadata["prompt"])

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Join(fs.basePath, "objects", "presets"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSetMetadataInPlace(t *testing.T) {
	fs := NewFileSystem(t.TempDir())
	ctx := context.Background()

	_, err := fs.Put(ctx, "presets/a", bytes.NewReader([]byte("body")), PutOptions{
		ContentType: "image/jpeg",
		Metadata:    map[string]string{"origin": "upload"},
	})
	require.NoError(t, err)

	require.NoError(t, SetMetadata(ctx, fs, "presets/a", map[string]string{"prompt": `{"a":1}`}))

	rc, info, err := fs.Get(ctx, "presets/a")
	require.NoError(t, err)
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	assert.Equal(t, "body", string(body))
	assert.Equal(t, "image/jpeg", info.ContentType)
	assert.Equal(t, "upload", info.Metadata["origin"])
	assert.Equal(t, `{"a":1}`, info.Metadata["prompt"])
}

func TestPublicURL(t *testing.T) {
	assert.Equal(t, "https://cdn.example.com/files/results/p%201/r.jpg",
		PublicURL("https://cdn.example.com/", ResultKey("p 1", "r", "jpg")))
	assert.Equal(t, "presets/x", PresetKey("x"))
	assert.Equal(t, "selfies/o/s.png", SelfieKey("o", "s", "png"))
}
