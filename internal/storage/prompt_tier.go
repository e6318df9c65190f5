package storage

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
)

// PromptMetadataKey is the custom metadata field holding a preset's
// generated prompt payload.
const PromptMetadataKey = "prompt"

// ErrPresetChanged is returned by PromptTier.Put when the preset image was
// replaced after the prompt was requested.
var ErrPresetChanged = errors.New("preset image changed")

// PromptKey is the prompt cache key of one version of a preset image. A
// replaced preset gets a new key, so entries written for the old image never
// match it in either tier.
func PromptKey(presetID string, uploaded time.Time) string {
	return presetID + "@" + strconv.FormatInt(uploaded.UnixNano(), 36)
}

// splitPromptKey returns the preset ID and version of key. A bare preset ID
// has an empty version and matches any image.
func splitPromptKey(key string) (presetID, version string) {
	if i := strings.LastIndexByte(key, '@'); i >= 0 {
		return key[:i], key[i+1:]
	}
	return key, ""
}

func versionMatches(info ObjectInfo, version string) bool {
	return version == "" || strconv.FormatInt(info.Uploaded.UnixNano(), 36) == version
}

// PromptTier is the durable prompt cache tier: the payload is embedded as
// custom metadata on the preset blob itself.
type PromptTier struct {
	store BlobStore
}

// NewPromptTier creates a durable prompt tier backed by store.
func NewPromptTier(store BlobStore) *PromptTier {
	return &PromptTier{store: store}
}

// Get returns the stored payload for key. A missing preset, an empty field
// or a key for an older image version is a miss, not an error.
func (t *PromptTier) Get(ctx context.Context, key string) ([]byte, bool, error) {
	presetID, version := splitPromptKey(key)
	info, err := t.store.Head(ctx, PresetKey(presetID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if !versionMatches(info, version) {
		return nil, false, nil
	}
	v := info.Metadata[PromptMetadataKey]
	if v == "" {
		return nil, false, nil
	}
	return []byte(v), true, nil
}

// Put overwrites the stored payload for key. It fails with ErrPresetChanged
// instead of writing when key names an image version that is no longer
// current.
func (t *PromptTier) Put(ctx context.Context, key string, payload []byte) error {
	presetID, version := splitPromptKey(key)
	if version != "" {
		info, err := t.store.Head(ctx, PresetKey(presetID))
		if err != nil {
			return err
		}
		if !versionMatches(info, version) {
			return ErrPresetChanged
		}
	}
	return SetMetadata(ctx, t.store, PresetKey(presetID), map[string]string{
		PromptMetadataKey: string(payload),
	})
}
