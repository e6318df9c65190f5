package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrNotFound is returned when no object exists under a key.
	ErrNotFound = errors.New("object not found")
	// ErrInvalidKey is returned for empty, absolute or escaping keys.
	ErrInvalidKey = errors.New("invalid object key")
)

// PutOptions carries the HTTP metadata and custom metadata stored with a blob.
type PutOptions struct {
	ContentType  string
	CacheControl string
	Metadata     map[string]string
}

// ObjectInfo describes a stored blob without its body.
type ObjectInfo struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size"`
	ContentType  string            `json:"contentType"`
	CacheControl string            `json:"cacheControl,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Uploaded     time.Time         `json:"uploaded"`
}

// BlobStore defines the interface for blob storage.
type BlobStore interface {
	// Put writes the object and returns its info.
	Put(ctx context.Context, key string, data io.Reader, opts PutOptions) (ObjectInfo, error)

	// Get returns a ReadCloser for the object body together with its info.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)

	// Head returns the object info only.
	Head(ctx context.Context, key string) (ObjectInfo, error)

	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error
}

// MetadataUpdater is implemented by stores that can replace custom metadata
// without rewriting the body.
type MetadataUpdater interface {
	UpdateMetadata(ctx context.Context, key string, metadata map[string]string) error
}

// SetMetadata merges updates into the object's custom metadata. Stores that
// implement MetadataUpdater are updated in place; others get the body
// rewritten with the merged metadata.
func SetMetadata(ctx context.Context, store BlobStore, key string, updates map[string]string) error {
	if u, ok := store.(MetadataUpdater); ok {
		info, err := store.Head(ctx, key)
		if err != nil {
			return err
		}
		return u.UpdateMetadata(ctx, key, mergeMetadata(info.Metadata, updates))
	}

	rc, info, err := store.Get(ctx, key)
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = store.Put(ctx, key, rc, PutOptions{
		ContentType:  info.ContentType,
		CacheControl: info.CacheControl,
		Metadata:     mergeMetadata(info.Metadata, updates),
	})
	return err
}

func mergeMetadata(base, updates map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(updates))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range updates {
		out[k] = v
	}
	return out
}
