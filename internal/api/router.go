package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers bundles everything the router wires up. Optional surfaces
// (archive, websocket) may be nil and their routes are skipped.
type Handlers struct {
	Analyze   *AnalyzeHandler
	Checklist *ChecklistHandler
	System    *SystemHandler
	Ws        *WsHandler
}

func NewRouter(h Handlers) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Minute)) // video analysis is slow

	r.Route("/analyze", func(r chi.Router) {
		r.Post("/", h.Analyze.Analyze)
		r.Post("/upload", h.Analyze.Upload)
		r.Post("/frame", h.Analyze.AnalyzeFrame)
		r.Post("/frame/parallel", h.Analyze.AnalyzeFrameParallel)
		r.Post("/transcribe", h.Analyze.Transcribe)
		r.Post("/reset", h.Checklist.Reset)
	})

	r.Route("/checklist", func(r chi.Router) {
		r.Get("/export", h.Checklist.Export)
		r.Post("/import", h.Checklist.Import)
		r.Post("/{person_id}", h.Checklist.Status)
	})

	r.Get("/health", h.System.Health)
	r.Get("/usage", h.System.UsageSnapshot)
	r.Post("/usage/reset", h.System.UsageReset)
	r.Get("/reports", h.System.ListReports)
	r.Get("/reports/{video_id}", h.System.GetReport)
	r.Handle("/metrics", promhttp.Handler())

	if h.Ws != nil {
		r.Post("/ws/token", h.Ws.MintToken)
		r.Get("/ws/live", h.Ws.Live)
	}

	return r
}
