package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/leca/dt-image-workflows/internal/api"
)

// GetPrompt handles GET /v1/presets/{preset_id}/prompt.
func (h *Handler) GetPrompt(w http.ResponseWriter, r *http.Request) {
	presetID := chi.URLParam(r, "preset_id")
	if !api.ValidID(presetID) {
		api.BadRequest(w, "invalid preset_id")
		return
	}

	res := h.Service.ResolvePrompt(r.Context(), presetID)
	if !res.OK() {
		h.writeFailure(w, r, res.Failure)
		return
	}
	api.Write(w, h.Envelope.Success(res.Value))
}

// InvalidatePrompt handles DELETE /v1/presets/{preset_id}/prompt.
func (h *Handler) InvalidatePrompt(w http.ResponseWriter, r *http.Request) {
	presetID := chi.URLParam(r, "preset_id")
	if !api.ValidID(presetID) {
		api.BadRequest(w, "invalid preset_id")
		return
	}
	if err := h.Service.InvalidatePrompt(r.Context(), presetID); err != nil {
		h.writeError(w, r, err)
		return
	}
	api.Write(w, h.Envelope.Success(map[string]string{"id": presetID}))
}
