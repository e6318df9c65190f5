package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Compile-time checks that FileSystem implements BlobStore and MetadataUpdater.
var (
	_ BlobStore       = (*FileSystem)(nil)
	_ MetadataUpdater = (*FileSystem)(nil)
)

// FileSystem implements BlobStore using the local filesystem.
// Bodies are stored at <basePath>/objects/<key> and their metadata as JSON
// at <basePath>/meta/<key>.json.
type FileSystem struct {
	basePath string
}

// NewFileSystem creates a new FileSystem storage rooted at basePath.
func NewFileSystem(basePath string) *FileSystem {
	return &FileSystem{basePath: basePath}
}

// cleanKey rejects keys that would escape the storage root.
func cleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean(key)
	if cleaned != key || cleaned == "." || strings.HasPrefix(cleaned, "../") || cleaned == ".." {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}

func (fs *FileSystem) objectPath(key string) string {
	return filepath.Join(fs.basePath, "objects", filepath.FromSlash(key))
}

func (fs *FileSystem) metaPath(key string) string {
	return filepath.Join(fs.basePath, "meta", filepath.FromSlash(key)+".json")
}

// Put writes data to disk using atomic write (temp file + rename), then
// writes the metadata sidecar the same way.
func (fs *FileSystem) Put(ctx context.Context, key string, data io.Reader, opts PutOptions) (ObjectInfo, error) {
	key, err := cleanKey(key)
	if err != nil {
		return ObjectInfo{}, err
	}
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}

	n, err := writeAtomic(fs.objectPath(key), data)
	if err != nil {
		return ObjectInfo{}, err
	}

	info := ObjectInfo{
		Key:          key,
		Size:         n,
		ContentType:  opts.ContentType,
		CacheControl: opts.CacheControl,
		Metadata:     opts.Metadata,
		Uploaded:     time.Now().UTC(),
	}
	if info.ContentType == "" {
		info.ContentType = "application/octet-stream"
	}
	if err := fs.writeInfo(key, info); err != nil {
		return ObjectInfo{}, err
	}
	return info, nil
}

// Get opens the stored body and returns it with its info.
func (fs *FileSystem) Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	info, err := fs.Head(ctx, key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	p := fs.objectPath(info.Key)
	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ObjectInfo{}, ErrNotFound
		}
		return nil, ObjectInfo{}, fmt.Errorf("opening file %s: %w", p, err)
	}
	return f, info, nil
}

// Head reads the metadata sidecar. A body without a sidecar is reported
// with default metadata.
func (fs *FileSystem) Head(ctx context.Context, key string) (ObjectInfo, error) {
	key, err := cleanKey(key)
	if err != nil {
		return ObjectInfo{}, err
	}
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}

	st, err := os.Stat(fs.objectPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return ObjectInfo{}, ErrNotFound
		}
		return ObjectInfo{}, fmt.Errorf("checking file %s: %w", key, err)
	}

	info := ObjectInfo{
		Key:         key,
		Size:        st.Size(),
		ContentType: "application/octet-stream",
		Uploaded:    st.ModTime().UTC(),
	}
	raw, err := os.ReadFile(fs.metaPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return info, nil
		}
		return ObjectInfo{}, fmt.Errorf("reading metadata %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, &info); err != nil {
		return ObjectInfo{}, fmt.Errorf("decoding metadata %s: %w", key, err)
	}
	info.Key = key
	info.Size = st.Size()
	return info, nil
}

// UpdateMetadata replaces the custom metadata without touching the body.
func (fs *FileSystem) UpdateMetadata(ctx context.Context, key string, metadata map[string]string) error {
	info, err := fs.Head(ctx, key)
	if err != nil {
		return err
	}
	info.Metadata = metadata
	return fs.writeInfo(info.Key, info)
}

// Delete removes the body and its sidecar.
// It is idempotent: deleting a non-existent object returns no error.
func (fs *FileSystem) Delete(ctx context.Context, key string) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, p := range []string{fs.objectPath(key), fs.metaPath(key)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", p, err)
		}
	}
	return nil
}

func (fs *FileSystem) writeInfo(key string, info ObjectInfo) error {
	raw, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	_, err = writeAtomic(fs.metaPath(key), strings.NewReader(string(raw)))
	return err
}

// writeAtomic writes data to a temp file in dst's directory and renames it
// into place. It returns the number of bytes written.
func writeAtomic(dst string, data io.Reader) (int64, error) {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	// Clean up the temp file on any error path.
	defer func() {
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
	}()

	n, err := io.Copy(tmp, data)
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("writing data: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		return 0, fmt.Errorf("renaming temp file to %s: %w", dst, err)
	}

	// Rename succeeded; prevent deferred cleanup from removing the final file.
	tmpPath = ""

	return n, nil
}

// IsNotFound reports whether err means the object does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
