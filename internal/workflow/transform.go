package workflow

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/leca/dt-image-workflows/internal/database"
	"github.com/leca/dt-image-workflows/internal/imageproc"
	"github.com/leca/dt-image-workflows/internal/model"
	"github.com/leca/dt-image-workflows/internal/provider"
	"github.com/leca/dt-image-workflows/internal/result"
	"github.com/leca/dt-image-workflows/internal/retry"
	"github.com/leca/dt-image-workflows/internal/storage"
)

// resultIDLength is the number of hex characters of the content hash used
// as a result ID.
const resultIDLength = 32

// TransformRequest is one transformation of a profile's selfies.
type TransformRequest struct {
	Action    string         `json:"action"`
	PresetID  string         `json:"presetId,omitempty"`
	SelfieIDs []string       `json:"selfieIds"`
	Options   map[string]any `json:"options,omitempty"`
}

// ResolvePrompt returns the prompt payload for a preset, generating it on a
// full cache miss.
func (s *Service) ResolvePrompt(ctx context.Context, presetID string) result.Result[model.CachedPrompt] {
	return s.resolvePrompt(ctx, s.requestBlobs(), presetID)
}

func (s *Service) resolvePrompt(ctx context.Context, blobs *storage.Memoized, presetID string) result.Result[model.CachedPrompt] {
	info, err := blobs.Head(ctx, storage.PresetKey(presetID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return result.Fail[model.CachedPrompt](notFound("preset %s not found", presetID))
		}
		return result.Fail[model.CachedPrompt](result.From(err))
	}

	presetURL := s.url(storage.PresetKey(presetID))
	generate := func(ctx context.Context) (json.RawMessage, *result.Failure) {
		res := retry.Do(context.WithoutCancel(ctx), s.policy(s.opts.PromptRetry, "generate_prompt"),
			func(ctx context.Context) (json.RawMessage, error) {
				return s.ai.GeneratePrompt(ctx, presetURL)
			})
		return res.Value, res.Failure
	}
	// The key pins the image version seen here. A generation that finishes
	// after ReplacePreset writes under the old key and is never read again.
	// The durable tier re-reads the preset unmemoized before writing.
	key := storage.PromptKey(presetID, info.Uploaded)
	return s.prompts.WithDurable(storage.NewPromptTier(s.blobs)).Resolve(ctx, key, generate)
}

// InvalidatePrompt drops the fast-tier entry for the preset's current image.
func (s *Service) InvalidatePrompt(ctx context.Context, presetID string) error {
	info, err := s.blobs.Head(ctx, storage.PresetKey(presetID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: preset %s", ErrNotFound, presetID)
		}
		return err
	}
	return s.prompts.Invalidate(ctx, storage.PromptKey(presetID, info.Uploaded))
}

// Transform runs one transformation and records the result in the owner's
// history. Failing to record history does not fail the transformation.
func (s *Service) Transform(ctx context.Context, owner string, req TransformRequest) result.Result[model.Record] {
	if f := validateTransform(req); f != nil {
		return result.Fail[model.Record](f)
	}
	blobs := s.requestBlobs()

	selfieURLs, f := s.selfieURLs(ctx, blobs, owner, req)
	if f != nil {
		return result.Fail[model.Record](f)
	}

	call := provider.TransformRequest{
		Action:     req.Action,
		SelfieURLs: selfieURLs,
		Options:    req.Options,
	}
	if req.PresetID != "" {
		prompt := s.resolvePrompt(ctx, blobs, req.PresetID)
		if !prompt.OK() {
			return result.Fail[model.Record](prompt.Failure)
		}
		call.PresetURL = s.url(storage.PresetKey(req.PresetID))
		call.Prompt = prompt.Value.Payload
	}

	// Provider work is not abandoned when the client goes away.
	detached := context.WithoutCancel(ctx)
	loc := retry.Do(detached, s.policy(s.opts.ProviderRetry, "transform"), func(ctx context.Context) (string, error) {
		return s.ai.Transform(ctx, call)
	})
	if !loc.OK() {
		return result.Fail[model.Record](loc.Failure)
	}
	data := retry.Do(detached, s.policy(s.opts.ProviderRetry, "fetch_result"), func(ctx context.Context) ([]byte, error) {
		return s.ai.Fetch(ctx, loc.Value, s.opts.MaxUploadBytes*4)
	})
	if !data.OK() {
		return result.Fail[model.Record](data.Failure)
	}

	return s.storeResult(detached, owner, data.Value)
}

func (s *Service) storeResult(ctx context.Context, owner string, data []byte) result.Result[model.Record] {
	format := imageproc.DetectFormat(data)
	if format == "" {
		return result.Fail[model.Record](result.New(http.StatusBadGateway, "provider result is not an image"))
	}
	sum := sha256.Sum256(data)
	id := hex.EncodeToString(sum[:])[:resultIDLength]
	ext := imageproc.Extension(format)
	key := storage.ResultKey(owner, id, ext)

	if _, err := s.blobs.Put(ctx, key, bytes.NewReader(data), storage.PutOptions{
		ContentType:  imageproc.ContentType(format),
		CacheControl: immutableCacheControl,
	}); err != nil {
		return result.Fail[model.Record](result.From(fmt.Errorf("storing result: %w", err)))
	}

	rec := model.Record{
		ID:        id,
		OwnerID:   owner,
		Extension: ext,
		BlobKey:   key,
		CreatedAt: s.opts.Now(),
		URL:       s.url(key),
	}
	if ins := s.history.Insert(ctx, rec); !ins.OK() {
		s.logger.Warn("history not recorded", "owner", owner, "result", id, "error", ins.Failure)
	}
	return result.Ok(rec)
}

func validateTransform(req TransformRequest) *result.Failure {
	if !ValidAction(req.Action) {
		return invalid("unknown action %q", req.Action)
	}
	if len(req.SelfieIDs) == 0 {
		return invalid("selfieIds is required")
	}
	if len(req.SelfieIDs) > MaxSelfiesPerTransform {
		return invalid("at most %d selfies per transformation", MaxSelfiesPerTransform)
	}
	return nil
}

// selfieURLs checks that every referenced selfie is recorded for the owner
// and action and that its blob exists.
func (s *Service) selfieURLs(ctx context.Context, blobs *storage.Memoized, owner string, req TransformRequest) ([]string, *result.Failure) {
	records := s.db.Records(model.CollectionSelfies)
	p := model.Partition{OwnerID: owner, Category: req.Action}

	urls := make([]string, 0, len(req.SelfieIDs))
	for _, id := range req.SelfieIDs {
		rec, err := records.Get(ctx, p, id)
		if errors.Is(err, database.ErrNotFound) {
			return nil, notFound("selfie %s not found", id)
		}
		if err != nil {
			return nil, result.From(err)
		}
		if _, err := blobs.Head(ctx, rec.BlobKey); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, notFound("selfie %s has no image", id)
			}
			return nil, result.From(err)
		}
		urls = append(urls, s.url(rec.BlobKey))
	}
	return urls, nil
}
