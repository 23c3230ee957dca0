package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/technosupport/ts-comply/internal/aiclient"
	"github.com/technosupport/ts-comply/internal/archive"
	"github.com/technosupport/ts-comply/internal/gpu"
)

// Pinger reports backing-store reachability for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

type SystemHandler struct {
	Usage    *aiclient.UsageTracker
	GPUProbe *gpu.HealthProbe  // optional
	Redis    Pinger            // optional
	Archive  *archive.Service  // optional
}

// GET /health
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{"status": "ok"}
	if h.GPUProbe != nil {
		out["gpu"] = h.GPUProbe.Status()
	}
	if h.Redis != nil {
		if err := h.Redis.Ping(r.Context()); err != nil {
			out["redis"] = "unreachable: " + err.Error()
		} else {
			out["redis"] = "ok"
		}
	}
	respondJSON(w, http.StatusOK, out)
}

// GET /usage
func (h *SystemHandler) UsageSnapshot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Usage.Snapshot())
}

// POST /usage/reset
func (h *SystemHandler) UsageReset(w http.ResponseWriter, r *http.Request) {
	h.Usage.Reset()
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /reports?violations=true&limit=N&cursor=ID
func (h *SystemHandler) ListReports(w http.ResponseWriter, r *http.Request) {
	if h.Archive == nil {
		respondError(w, http.StatusNotImplemented, "report archive not configured")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	reports, cursor, err := h.Archive.List(r.Context(), archive.Filter{
		OnlyViolations: r.URL.Query().Get("violations") == "true",
		Limit:          limit,
		Cursor:         r.URL.Query().Get("cursor"),
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"reports": reports, "cursor": cursor})
}

// GET /reports/{video_id}
func (h *SystemHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	if h.Archive == nil {
		respondError(w, http.StatusNotImplemented, "report archive not configured")
		return
	}
	stored, err := h.Archive.Get(r.Context(), chi.URLParam(r, "video_id"))
	if errors.Is(err, archive.ErrNotFound) {
		respondError(w, http.StatusNotFound, "report not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, stored)
}
