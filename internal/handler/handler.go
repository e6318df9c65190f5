package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/leca/dt-image-workflows/internal/api"
	"github.com/leca/dt-image-workflows/internal/result"
	"github.com/leca/dt-image-workflows/internal/storage"
	"github.com/leca/dt-image-workflows/internal/workflow"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	Service  *workflow.Service
	Blobs    storage.BlobStore
	Envelope api.Builder
	Logger   *slog.Logger

	// MaxUploadBytes bounds one uploaded item.
	MaxUploadBytes int64
}

// writeFailure writes the envelope for a typed failure. Input and lookup
// failures raised by the service carry a message meant for the caller.
func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, f *result.Failure) {
	switch {
	case errors.Is(f, workflow.ErrNotFound):
		api.NotFound(w, f.Message)
		return
	case errors.Is(f, workflow.ErrInvalid):
		api.BadRequest(w, f.Message)
		return
	}
	if code := api.DomainCode(f); code >= 500 {
		h.logger().Error("request failed", "method", r.Method, "path", r.URL.Path, "error", f)
	}
	api.Write(w, h.Envelope.Failure(f))
}

// writeError maps service errors onto client errors and anything else
// onto a failure envelope.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, workflow.ErrNotFound):
		api.NotFound(w, "not found")
	case errors.Is(err, workflow.ErrInvalid):
		api.BadRequest(w, err.Error())
	default:
		h.writeFailure(w, r, result.From(err))
	}
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// pagination reads limit and offset query parameters.
func pagination(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = min(n, maxPageSize)
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			offset = n
		}
	}
	return limit, offset
}
