// Package workflow implements the image transformation workflows: selfie
// and preset uploads, prompt resolution, transformations and the history
// and selfie collections they produce.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/leca/dt-image-workflows/internal/admission"
	"github.com/leca/dt-image-workflows/internal/background"
	"github.com/leca/dt-image-workflows/internal/database"
	"github.com/leca/dt-image-workflows/internal/imageproc"
	"github.com/leca/dt-image-workflows/internal/memo"
	"github.com/leca/dt-image-workflows/internal/model"
	"github.com/leca/dt-image-workflows/internal/promptcache"
	"github.com/leca/dt-image-workflows/internal/provider"
	"github.com/leca/dt-image-workflows/internal/quota"
	"github.com/leca/dt-image-workflows/internal/result"
	"github.com/leca/dt-image-workflows/internal/retry"
	"github.com/leca/dt-image-workflows/internal/storage"
)

var (
	// ErrNotFound is returned when a record or preset does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalid is returned for malformed input.
	ErrInvalid = errors.New("invalid input")
)

// Actions lists the supported transformation actions. Selfies are
// partitioned per action.
var Actions = []string{"faceswap", "background", "upscale", "filter", "aging", "restore"}

// ValidAction reports whether action is supported.
func ValidAction(action string) bool {
	return slices.Contains(Actions, action)
}

// MaxSelfiesPerTransform bounds the selfies referenced by one transformation.
const MaxSelfiesPerTransform = 4

const immutableCacheControl = "public, max-age=31536000, immutable"

// Provider is the AI and vision-safety capability the service calls.
type Provider interface {
	Transform(ctx context.Context, req provider.TransformRequest) (string, error)
	GeneratePrompt(ctx context.Context, imageURL string) (json.RawMessage, error)
	CheckSafety(ctx context.Context, image []byte) (provider.Verdict, error)
	Fetch(ctx context.Context, url string, limit int64) ([]byte, error)
}

// Options configures a Service. Zero values select defaults.
type Options struct {
	BaseURL        string
	MaxUploadBytes int64
	MaxSelfieSide  int

	HistoryLimit int
	SelfieLimits quota.LimitFunc
	BatchSize    int
	Concurrency  int

	// ProviderRetry is used for transformations, safety checks and fetches;
	// PromptRetry for prompt generation. Names are set per operation.
	ProviderRetry retry.Policy
	PromptRetry   retry.Policy

	Tasks  *background.Group
	Logger *slog.Logger
	Now    func() time.Time
}

// Service runs the workflows.
type Service struct {
	db        database.Database
	blobs     storage.BlobStore
	prompts   *promptcache.Cache
	ai        Provider
	history   *quota.Store
	selfies   *quota.Store
	admission *admission.Controller
	tasks     *background.Group
	opts      Options
	logger    *slog.Logger
}

// New creates a Service.
func New(db database.Database, blobs storage.BlobStore, prompts *promptcache.Cache, ai Provider, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	if opts.MaxSelfieSide <= 0 {
		opts.MaxSelfieSide = imageproc.DefaultMaxSide
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 1
	}
	historyLimit := opts.HistoryLimit
	qopts := quota.Options{BatchSize: opts.BatchSize, Tasks: opts.Tasks, Logger: opts.Logger, Now: opts.Now}

	return &Service{
		db:      db,
		blobs:   blobs,
		prompts: prompts,
		ai:      ai,
		history: quota.New(model.CollectionHistory, db.Records(model.CollectionHistory), blobs,
			func(string) int { return historyLimit }, qopts),
		selfies:   quota.New(model.CollectionSelfies, db.Records(model.CollectionSelfies), blobs, opts.SelfieLimits, qopts),
		admission: admission.New(opts.Concurrency),
		tasks:     opts.Tasks,
		opts:      opts,
		logger:    opts.Logger,
	}
}

// requestBlobs returns a store whose Head calls are memoised for the
// lifetime of one operation.
func (s *Service) requestBlobs() *storage.Memoized {
	return storage.WithHeadMemo(s.blobs, memo.New[string, storage.ObjectInfo]())
}

func (s *Service) policy(base retry.Policy, name string) retry.Policy {
	base.Name = name
	return base
}

func (s *Service) url(key string) string {
	return storage.PublicURL(s.opts.BaseURL, key)
}

func (s *Service) withURL(recs []model.Record) []model.Record {
	for i := range recs {
		recs[i].URL = s.url(recs[i].BlobKey)
	}
	return recs
}

// deleteBlob removes key in a detached task.
func (s *Service) deleteBlob(ctx context.Context, key string) {
	s.tasks.Go(ctx, "delete_blob", func(ctx context.Context) error {
		return s.blobs.Delete(ctx, key)
	})
}

func invalid(format string, args ...any) *result.Failure {
	f := result.New(http.StatusBadRequest, format, args...)
	f.Err = ErrInvalid
	return f
}

func notFound(format string, args ...any) *result.Failure {
	f := result.New(http.StatusNotFound, format, args...)
	f.Err = ErrNotFound
	return f
}
