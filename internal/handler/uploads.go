package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/leca/dt-image-workflows/internal/api"
	"github.com/leca/dt-image-workflows/internal/model"
	"github.com/leca/dt-image-workflows/internal/workflow"
)

// MaxBatchItems bounds the number of items in one upload request.
const MaxBatchItems = 10

// multipartMemory is the part of a multipart form kept in memory.
const multipartMemory = 32 << 20

var errTooLarge = errors.New("request body too large")

// UploadSelfies handles POST /v1/profiles/{profile_id}/selfies?action=.
func (h *Handler) UploadSelfies(w http.ResponseWriter, r *http.Request) {
	profileID := api.GetProfileID(r.Context())

	items, err := h.readUploads(w, r)
	if err != nil {
		h.writeUploadError(w, err)
		return
	}
	// The form is parsed by now, so this also sees a multipart "action" field.
	action := r.FormValue("action")

	outcomes, err := h.Service.UploadSelfies(r.Context(), profileID, action, items)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.Write(w, api.Batch(h.Envelope, outcomes, func(rec model.Record) any { return rec }))
}

// UploadPresets handles POST /v1/presets.
func (h *Handler) UploadPresets(w http.ResponseWriter, r *http.Request) {
	items, err := h.readUploads(w, r)
	if err != nil {
		h.writeUploadError(w, err)
		return
	}

	outcomes, err := h.Service.UploadPresets(r.Context(), items)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.Write(w, api.Batch(h.Envelope, outcomes, func(p model.Preset) any { return p }))
}

// ReplacePreset handles PUT /v1/presets/{preset_id}.
func (h *Handler) ReplacePreset(w http.ResponseWriter, r *http.Request) {
	presetID := chi.URLParam(r, "preset_id")
	if !api.ValidID(presetID) {
		api.BadRequest(w, "invalid preset_id")
		return
	}

	items, err := h.readUploads(w, r)
	if err != nil {
		h.writeUploadError(w, err)
		return
	}
	if len(items) != 1 {
		api.BadRequest(w, "exactly one file or url is required")
		return
	}

	res := h.Service.ReplacePreset(r.Context(), presetID, items[0])
	if !res.OK() {
		h.writeFailure(w, r, res.Failure)
		return
	}
	api.Write(w, h.Envelope.Success(res.Value))
}

func (h *Handler) writeUploadError(w http.ResponseWriter, err error) {
	if errors.Is(err, errTooLarge) {
		api.TooLarge(w, err.Error())
		return
	}
	api.BadRequest(w, err.Error())
}

// readUploads collects upload items from a multipart form (files in
// "files" or "file", remote images in repeated "urls" fields) or a JSON body
// of the form {"urls": [...]}.
func (h *Handler) readUploads(w http.ResponseWriter, r *http.Request) ([]workflow.Upload, error) {
	limit := h.MaxUploadBytes
	if limit <= 0 {
		limit = 10 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit*MaxBatchItems+1<<20)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var body struct {
			URLs []string `json:"urls"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return nil, bodyError("invalid JSON body", err)
		}
		return urlItems(body.URLs)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, bodyError("invalid multipart form", err)
	}

	var items []workflow.Upload
	for _, field := range []string{"files", "file"} {
		for _, fh := range r.MultipartForm.File[field] {
			if fh.Size > limit {
				return nil, fmt.Errorf("%w: %s exceeds %d bytes", errTooLarge, fh.Filename, limit)
			}
			f, err := fh.Open()
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", fh.Filename, err)
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", fh.Filename, err)
			}
			items = append(items, workflow.Upload{Name: fh.Filename, Data: data})
		}
	}
	urls, err := urlItems(r.MultipartForm.Value["urls"])
	if err != nil {
		return nil, err
	}
	items = append(items, urls...)

	if len(items) == 0 {
		return nil, errors.New("missing required field: files or urls")
	}
	if len(items) > MaxBatchItems {
		return nil, fmt.Errorf("at most %d items per request", MaxBatchItems)
	}
	return items, nil
}

func urlItems(urls []string) ([]workflow.Upload, error) {
	var items []workflow.Upload
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			items = append(items, workflow.Upload{URL: u})
		}
	}
	if len(items) > MaxBatchItems {
		return nil, fmt.Errorf("at most %d items per request", MaxBatchItems)
	}
	return items, nil
}

func bodyError(msg string, err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return fmt.Errorf("%w: limit is %d bytes", errTooLarge, tooLarge.Limit)
	}
	return fmt.Errorf("%s: %v", msg, err)
}
