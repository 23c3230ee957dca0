package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/technosupport/ts-comply/internal/checklist"
	"github.com/technosupport/ts-comply/internal/pipeline"
)

type ChecklistHandler struct {
	Tracker *checklist.Tracker
}

func NewChecklistHandler(tr *checklist.Tracker) *ChecklistHandler {
	return &ChecklistHandler{Tracker: tr}
}

// POST /analyze/reset: clears all checklist state (new session).
func (h *ChecklistHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.Tracker.Reset()
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// POST /checklist/{person_id}: per-subject checklist view for a policy.
// The policy rides in the body; rule identity is content-derived so the
// server holds no policy registry.
func (h *ChecklistHandler) Status(w http.ResponseWriter, r *http.Request) {
	personID := chi.URLParam(r, "person_id")
	var body struct {
		PolicyJSON string `json:"policy_json"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	policy, err := pipeline.ParsePolicy(body.PolicyJSON)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"person_id": personID,
		"checklist": h.Tracker.Checklist(personID, policy.Rules),
	})
}

// GET /checklist/export: full state snapshot for session handoff.
func (h *ChecklistHandler) Export(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Tracker.Export())
}

// POST /checklist/import: merge a snapshot in.
func (h *ChecklistHandler) Import(w http.ResponseWriter, r *http.Request) {
	var states checklist.States
	if err := json.NewDecoder(r.Body).Decode(&states); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	h.Tracker.Import(states)
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
