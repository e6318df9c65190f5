package storage

import (
	"context"
	"io"

	"github.com/leca/dt-image-workflows/internal/memo"
)

// Memoized wraps a BlobStore so repeated Head calls for the same key within
// one request hit the store once. Writes through the wrapper forget the key.
type Memoized struct {
	inner BlobStore
	heads *memo.Map[string, ObjectInfo]
}

var (
	_ BlobStore       = (*Memoized)(nil)
	_ MetadataUpdater = (*Memoized)(nil)
)

// WithHeadMemo returns a request-scoped wrapper around store.
func WithHeadMemo(store BlobStore, heads *memo.Map[string, ObjectInfo]) *Memoized {
	return &Memoized{inner: store, heads: heads}
}

func (m *Memoized) Put(ctx context.Context, key string, data io.Reader, opts PutOptions) (ObjectInfo, error) {
	defer m.heads.Forget(key)
	return m.inner.Put(ctx, key, data, opts)
}

func (m *Memoized) Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	return m.inner.Get(ctx, key)
}

func (m *Memoized) Head(ctx context.Context, key string) (ObjectInfo, error) {
	return m.heads.Do(key, func() (ObjectInfo, error) {
		return m.inner.Head(ctx, key)
	})
}

func (m *Memoized) Delete(ctx context.Context, key string) error {
	defer m.heads.Forget(key)
	return m.inner.Delete(ctx, key)
}

func (m *Memoized) UpdateMetadata(ctx context.Context, key string, metadata map[string]string) error {
	defer m.heads.Forget(key)
	if u, ok := m.inner.(MetadataUpdater); ok {
		return u.UpdateMetadata(ctx, key, metadata)
	}
	rc, info, err := m.inner.Get(ctx, key)
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = m.inner.Put(ctx, key, rc, PutOptions{
		ContentType:  info.ContentType,
		CacheControl: info.CacheControl,
		Metadata:     metadata,
	})
	return err
}
