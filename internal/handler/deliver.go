package handler

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/leca/dt-image-workflows/internal/imageproc"
	"github.com/leca/dt-image-workflows/internal/model"
	"github.com/leca/dt-image-workflows/internal/storage"
)

// maxResizeSide bounds the w and h delivery parameters.
const maxResizeSide = 4096

// DeliverFile handles GET /files/* -- serves a stored blob, optionally
// resized with the w, h and fit query parameters.
func (h *Handler) DeliverFile(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")

	opts, ok := resizeOptions(r)
	if !ok {
		http.Error(w, "invalid resize parameters", http.StatusBadRequest)
		return
	}

	rc, info, err := h.Blobs.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidKey) {
			http.Error(w, "file not found", http.StatusNotFound)
			return
		}
		h.logger().Error("DeliverFile: failed to open blob", "key", key, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	defer rc.Close()

	if info.CacheControl != "" {
		w.Header().Set("Cache-Control", info.CacheControl)
	}

	if opts.Width == 0 && opts.Height == 0 {
		w.Header().Set("Content-Type", info.ContentType)
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, rc); err != nil {
			log.Printf("DeliverFile: failed to stream response: %v", err)
		}
		return
	}

	transformed, format, err := imageproc.Transform(rc, opts)
	if err != nil {
		if errors.Is(err, imageproc.ErrUnsupportedFormat) {
			http.Error(w, "file is not a resizable image", http.StatusUnprocessableEntity)
			return
		}
		h.logger().Error("DeliverFile: resize failed", "key", key, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", imageproc.ContentType(format))
	w.Header().Set("Content-Length", strconv.Itoa(len(transformed)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(transformed); err != nil {
		log.Printf("DeliverFile: failed to write response: %v", err)
	}
}

func resizeOptions(r *http.Request) (model.ResizeOptions, bool) {
	q := r.URL.Query()
	opts := model.ResizeOptions{Fit: q.Get("fit")}
	if !imageproc.ValidFit(opts.Fit) {
		return opts, false
	}
	for _, p := range []struct {
		name string
		dst  *int
	}{{"w", &opts.Width}, {"h", &opts.Height}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxResizeSide {
			return opts, false
		}
		*p.dst = n
	}
	return opts, true
}
