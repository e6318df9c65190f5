package workflow

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/leca/dt-image-workflows/internal/database"
	"github.com/leca/dt-image-workflows/internal/model"
)

// History returns the owner's results, newest first.
func (s *Service) History(ctx context.Context, owner string, limit, offset int) ([]model.Record, error) {
	p := model.Partition{OwnerID: owner}
	recs, err := s.db.Records(model.CollectionHistory).List(ctx, p, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	return s.withURL(recs), nil
}

// DeleteHistory removes one result. The metadata row is removed first; the
// blob is removed best-effort afterwards.
func (s *Service) DeleteHistory(ctx context.Context, owner, id string) error {
	return s.deleteRecord(ctx, model.CollectionHistory, model.Partition{OwnerID: owner}, id)
}

// Selfies returns the owner's selfies for action, newest first.
func (s *Service) Selfies(ctx context.Context, owner, action string, limit, offset int) ([]model.Record, error) {
	if !ValidAction(action) {
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalid, action)
	}
	p := model.Partition{OwnerID: owner, Category: action}
	recs, err := s.db.Records(model.CollectionSelfies).List(ctx, p, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing selfies: %w", err)
	}
	return s.withURL(recs), nil
}

// DeleteSelfie removes one selfie.
func (s *Service) DeleteSelfie(ctx context.Context, owner, action, id string) error {
	if !ValidAction(action) {
		return fmt.Errorf("%w: unknown action %q", ErrInvalid, action)
	}
	return s.deleteRecord(ctx, model.CollectionSelfies, model.Partition{OwnerID: owner, Category: action}, id)
}

func (s *Service) deleteRecord(ctx context.Context, c model.Collection, p model.Partition, id string) error {
	records := s.db.Records(c)
	rec, err := records.Get(ctx, p, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("%w: %s %s", ErrNotFound, c, id)
		}
		return err
	}
	if err := records.Delete(ctx, p, id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("%w: %s %s", ErrNotFound, c, id)
		}
		return err
	}
	s.deleteBlob(ctx, rec.BlobKey)
	return nil
}

// Usage reports the owner's history count and per-action selfie counts
// against their caps.
func (s *Service) Usage(ctx context.Context, owner string) ([]model.Usage, error) {
	count, err := s.db.Records(model.CollectionHistory).Count(ctx, model.Partition{OwnerID: owner})
	if err != nil {
		return nil, fmt.Errorf("counting history: %w", err)
	}
	usage := []model.Usage{{Current: count, Allowed: s.history.Limit("")}}

	selfies := s.db.Records(model.CollectionSelfies)
	categories, err := selfies.Categories(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("listing selfie categories: %w", err)
	}
	// Categories no longer in Actions are still reported while records remain.
	all := slices.Clone(Actions)
	for _, c := range categories {
		if !slices.Contains(all, c) {
			all = append(all, c)
		}
	}
	for _, action := range all {
		n, err := selfies.Count(ctx, model.Partition{OwnerID: owner, Category: action})
		if err != nil {
			return nil, fmt.Errorf("counting selfies: %w", err)
		}
		usage = append(usage, model.Usage{Category: action, Current: n, Allowed: s.selfies.Limit(action)})
	}
	return usage, nil
}
