package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/leca/dt-image-workflows/internal/api"
	"github.com/leca/dt-image-workflows/internal/model"
	"github.com/leca/dt-image-workflows/internal/workflow"
)

// maxJSONBody bounds JSON request bodies.
const maxJSONBody = 1 << 20

// Transform handles POST /v1/profiles/{profile_id}/transform.
func (h *Handler) Transform(w http.ResponseWriter, r *http.Request) {
	profileID := api.GetProfileID(r.Context())

	var req workflow.TransformRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req); err != nil {
		api.BadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if req.PresetID != "" && !api.ValidID(req.PresetID) {
		api.BadRequest(w, "invalid presetId")
		return
	}
	for _, id := range req.SelfieIDs {
		if !api.ValidID(id) {
			api.BadRequest(w, "invalid selfie id")
			return
		}
	}

	res := h.Service.Transform(r.Context(), profileID, req)
	if !res.OK() {
		h.writeFailure(w, r, res.Failure)
		return
	}
	api.Write(w, h.Envelope.Success(res.Value))
}

// History handles GET /v1/profiles/{profile_id}/history.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	recs, err := h.Service.History(r.Context(), api.GetProfileID(r.Context()), limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeRecords(w, h.Envelope, recs, limit, offset)
}

// DeleteHistory handles DELETE /v1/profiles/{profile_id}/history/{result_id}.
func (h *Handler) DeleteHistory(w http.ResponseWriter, r *http.Request) {
	resultID := chi.URLParam(r, "result_id")
	if !api.ValidID(resultID) {
		api.BadRequest(w, "invalid result_id")
		return
	}
	if err := h.Service.DeleteHistory(r.Context(), api.GetProfileID(r.Context()), resultID); err != nil {
		h.writeError(w, r, err)
		return
	}
	api.Write(w, h.Envelope.Success(map[string]string{"id": resultID}))
}

// Selfies handles GET /v1/profiles/{profile_id}/selfies?action=.
func (h *Handler) Selfies(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	recs, err := h.Service.Selfies(r.Context(), api.GetProfileID(r.Context()), r.URL.Query().Get("action"), limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeRecords(w, h.Envelope, recs, limit, offset)
}

// DeleteSelfie handles DELETE /v1/profiles/{profile_id}/selfies/{selfie_id}?action=.
func (h *Handler) DeleteSelfie(w http.ResponseWriter, r *http.Request) {
	selfieID := chi.URLParam(r, "selfie_id")
	if !api.ValidID(selfieID) {
		api.BadRequest(w, "invalid selfie_id")
		return
	}
	err := h.Service.DeleteSelfie(r.Context(), api.GetProfileID(r.Context()), r.URL.Query().Get("action"), selfieID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.Write(w, h.Envelope.Success(map[string]string{"id": selfieID}))
}

// Usage handles GET /v1/profiles/{profile_id}/usage.
func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	usage, err := h.Service.Usage(r.Context(), api.GetProfileID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.Write(w, h.Envelope.Success(map[string]any{"usage": usage}))
}

func writeRecords(w http.ResponseWriter, b api.Builder, recs []model.Record, limit, offset int) {
	// Ensure non-nil slice for JSON serialisation.
	if recs == nil {
		recs = []model.Record{}
	}
	api.Write(w, b.Success(map[string]any{
		"records": recs,
		"limit":   limit,
		"offset":  offset,
	}))
}
