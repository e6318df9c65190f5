package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/leca/dt-image-workflows/internal/model"
	"github.com/leca/dt-image-workflows/internal/quota"
)

// ErrNotFound is returned when a record does not exist in its partition.
var ErrNotFound = errors.New("record not found")

// Records is the per-collection metadata store. It satisfies quota.Records
// and adds the read and delete paths used by the API.
type Records interface {
	quota.Records

	// List returns records newest first.
	List(ctx context.Context, p model.Partition, limit, offset int) ([]model.Record, error)
	Get(ctx context.Context, p model.Partition, id string) (*model.Record, error)
	Delete(ctx context.Context, p model.Partition, id string) error
	Count(ctx context.Context, p model.Partition) (int, error)
	// Categories returns the distinct categories an owner has records in.
	Categories(ctx context.Context, ownerID string) ([]string, error)
}

// Database defines the persistence interface for all domain objects.
type Database interface {
	Records(c model.Collection) Records
	Ping(ctx context.Context) error
	Close() error
}

// tableFor maps a collection to its table. Table names are never taken from
// user input.
func tableFor(c model.Collection) (string, error) {
	switch c {
	case model.CollectionHistory:
		return "history", nil
	case model.CollectionSelfies:
		return "selfies", nil
	default:
		return "", fmt.Errorf("unknown collection %q", c)
	}
}
