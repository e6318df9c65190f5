package workflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/leca/dt-image-workflows/internal/admission"
	"github.com/leca/dt-image-workflows/internal/imageproc"
	"github.com/leca/dt-image-workflows/internal/model"
	"github.com/leca/dt-image-workflows/internal/provider"
	"github.com/leca/dt-image-workflows/internal/result"
	"github.com/leca/dt-image-workflows/internal/retry"
	"github.com/leca/dt-image-workflows/internal/storage"
	"github.com/oklog/ulid/v2"
)

// Upload is one uploaded item: either inline bytes or a URL to fetch.
type Upload struct {
	Name string
	Data []byte
	URL  string
}

// UploadSelfies stores selfies for owner under action. Selfie partitions are
// quota-bound, so items are processed strictly one at a time.
func (s *Service) UploadSelfies(ctx context.Context, owner, action string, items []Upload) ([]admission.Outcome[model.Record], error) {
	if !ValidAction(action) {
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalid, action)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no files or urls", ErrInvalid)
	}
	out := admission.Run(ctx, s.admission, true, items, func(ctx context.Context, item Upload) result.Result[model.Record] {
		return s.uploadSelfie(ctx, owner, action, item)
	})
	s.logger.Info("selfie batch processed", "owner", owner, "action", action, "outcome", admission.Summarize(out).String())
	return out, nil
}

func (s *Service) uploadSelfie(ctx context.Context, owner, action string, item Upload) result.Result[model.Record] {
	data, f := s.load(ctx, item)
	if f != nil {
		return result.Fail[model.Record](f)
	}
	normalized, err := imageproc.Normalize(data, s.opts.MaxSelfieSide)
	if err != nil {
		return result.Fail[model.Record](invalid("%s: %v", item.label(), err))
	}

	id := ulid.Make().String()
	key := storage.SelfieKey(owner, id, "jpg")
	if _, err := s.blobs.Put(ctx, key, bytes.NewReader(normalized), storage.PutOptions{
		ContentType:  "image/jpeg",
		CacheControl: immutableCacheControl,
	}); err != nil {
		return result.Fail[model.Record](result.From(fmt.Errorf("storing selfie: %w", err)))
	}

	verdict := retry.Do(context.WithoutCancel(ctx), s.policy(s.opts.ProviderRetry, "safety_check"),
		func(ctx context.Context) (provider.Verdict, error) {
			return s.ai.CheckSafety(ctx, normalized)
		})
	if !verdict.OK() {
		s.deleteBlob(ctx, key)
		return result.Fail[model.Record](verdict.Failure)
	}
	if code := verdict.Value.Violation(); code != 0 {
		s.deleteBlob(ctx, key)
		s.logger.Info("selfie rejected by safety check", "owner", owner, "action", action, "code", code)
		return result.Fail[model.Record](result.Safety(code, "selfie rejected: "+model.SafetyLabel(code)))
	}

	rec := model.Record{
		ID:        id,
		OwnerID:   owner,
		Category:  action,
		Extension: "jpg",
		BlobKey:   key,
		CreatedAt: s.opts.Now(),
	}
	if ins := s.selfies.Insert(ctx, rec); !ins.OK() {
		s.deleteBlob(ctx, key)
		return result.Fail[model.Record](ins.Failure)
	}
	rec.URL = s.url(key)
	return result.Ok(rec)
}

// UploadPresets stores preset images. Presets get fresh UUIDs and are not
// quota-bound, so items run on the worker pool.
func (s *Service) UploadPresets(ctx context.Context, items []Upload) ([]admission.Outcome[model.Preset], error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no files or urls", ErrInvalid)
	}
	out := admission.Run(ctx, s.admission, false, items, func(ctx context.Context, item Upload) result.Result[model.Preset] {
		return s.putPreset(ctx, s.blobs, uuid.NewString(), item)
	})
	s.logger.Info("preset batch processed", "outcome", admission.Summarize(out).String())
	return out, nil
}

// ReplacePreset overwrites an existing preset image. The stored prompt goes
// with the old image and the fast tier entry is invalidated.
func (s *Service) ReplacePreset(ctx context.Context, id string, item Upload) result.Result[model.Preset] {
	blobs := s.requestBlobs()
	old, err := blobs.Head(ctx, storage.PresetKey(id))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return result.Fail[model.Preset](notFound("preset %s not found", id))
		}
		return result.Fail[model.Preset](result.From(err))
	}

	res := s.putPreset(ctx, blobs, id, item)
	if !res.OK() {
		return res
	}
	// The new image has its own prompt key. Drop the old image's entry.
	if err := s.prompts.Invalidate(ctx, storage.PromptKey(id, old.Uploaded)); err != nil {
		s.logger.Warn("prompt invalidation failed", "preset", id, "error", err)
	}
	return res
}

func (s *Service) putPreset(ctx context.Context, blobs storage.BlobStore, id string, item Upload) result.Result[model.Preset] {
	data, f := s.load(ctx, item)
	if f != nil {
		return result.Fail[model.Preset](f)
	}
	format := imageproc.DetectFormat(data)
	if format == "" {
		return result.Fail[model.Preset](invalid("%s: %v", item.label(), imageproc.ErrUnsupportedFormat))
	}

	key := storage.PresetKey(id)
	info, err := blobs.Put(ctx, key, bytes.NewReader(data), storage.PutOptions{
		ContentType: imageproc.ContentType(format),
	})
	if err != nil {
		return result.Fail[model.Preset](result.From(fmt.Errorf("storing preset: %w", err)))
	}
	return result.Ok(model.Preset{
		ID:          id,
		URL:         s.url(key),
		ContentType: info.ContentType,
		Size:        info.Size,
	})
}

// load returns the item's bytes, fetching URL items through the retry
// engine. Both paths enforce MaxUploadBytes.
func (s *Service) load(ctx context.Context, item Upload) ([]byte, *result.Failure) {
	limit := s.opts.MaxUploadBytes
	switch {
	case len(item.Data) > 0:
		if int64(len(item.Data)) > limit {
			return nil, result.New(http.StatusRequestEntityTooLarge, "%s exceeds %d bytes", item.label(), limit)
		}
		return item.Data, nil
	case item.URL != "":
		u, err := url.Parse(item.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, invalid("invalid url %q", item.URL)
		}
		res := retry.Do(context.WithoutCancel(ctx), s.policy(s.opts.ProviderRetry, "fetch_upload"),
			func(ctx context.Context) ([]byte, error) {
				return s.ai.Fetch(ctx, item.URL, limit)
			})
		return res.Value, res.Failure
	default:
		return nil, invalid("%s is empty", item.label())
	}
}

func (u Upload) label() string {
	switch {
	case u.Name != "":
		return u.Name
	case u.URL != "":
		return u.URL
	}
	return "upload"
}
