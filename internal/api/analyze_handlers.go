package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/technosupport/ts-comply/internal/archive"
	"github.com/technosupport/ts-comply/internal/events"
	"github.com/technosupport/ts-comply/internal/metrics"
	"github.com/technosupport/ts-comply/internal/pipeline"
	"github.com/technosupport/ts-comply/internal/schema"
	"github.com/technosupport/ts-comply/internal/speech"
)

type AnalyzeHandler struct {
	Pipeline    *pipeline.Orchestrator
	Transcriber *speech.Transcriber
	Archive     *archive.Service  // optional
	Events      *events.Publisher // optional
	UploadDir   string
	MaxUpload   int64 // bytes
}

func NewAnalyzeHandler(p *pipeline.Orchestrator, tr *speech.Transcriber, uploadDir string, maxUpload int64) *AnalyzeHandler {
	return &AnalyzeHandler{
		Pipeline:    p,
		Transcriber: tr,
		UploadDir:   uploadDir,
		MaxUpload:   maxUpload,
	}
}

// POST /analyze/: multipart video + policy_json, full pipeline.
func (h *AnalyzeHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	path, cleanup, err := h.saveUpload(r, "video", "video/")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer cleanup()

	policy, err := pipeline.ParsePolicy(r.FormValue("policy_json"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	rep, err := h.Pipeline.AnalyzeVideo(r.Context(), path, policy)
	if err != nil {
		metrics.RecordRequest("analyze", "error")
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	metrics.RecordRequest("analyze", "complete")
	h.afterReport(r.Context(), &rep, filepath.Base(path))
	respondJSON(w, http.StatusOK, schema.AnalyzeResponse{Status: "complete", Report: &rep})
}

// POST /analyze/upload: change detection only, returns keyframe metadata.
func (h *AnalyzeHandler) Upload(w http.ResponseWriter, r *http.Request) {
	path, cleanup, err := h.saveUpload(r, "video", "video/")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer cleanup()

	result, err := h.Pipeline.ProcessUpload(r.Context(), path)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"video_id":        result.VideoID,
		"metadata":        result.Metadata,
		"total_keyframes": len(result.Keyframes),
		"keyframes":       result.Keyframes,
	})
}

// POST /analyze/frame: single-frame (webcam) analysis.
func (h *AnalyzeHandler) AnalyzeFrame(w http.ResponseWriter, r *http.Request) {
	var req schema.FrameAnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	rep, err := h.Pipeline.AnalyzeFrame(r.Context(), req)
	if err != nil {
		metrics.RecordRequest("frame", "error")
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	metrics.RecordRequest("frame", "complete")
	h.afterReport(r.Context(), &rep, "")
	respondJSON(w, http.StatusOK, schema.AnalyzeResponse{Status: "complete", Report: &rep})
}

// POST /analyze/frame/parallel: batched remote GPU analysis.
func (h *AnalyzeHandler) AnalyzeFrameParallel(w http.ResponseWriter, r *http.Request) {
	var req schema.ParallelFrameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	rep, err := h.Pipeline.AnalyzeFramesParallel(r.Context(), req)
	if err != nil {
		metrics.RecordRequest("parallel", "error")
		status := http.StatusBadRequest
		if !errors.Is(err, pipeline.ErrEmptyBatches) {
			status = http.StatusInternalServerError
		}
		respondError(w, status, err.Error())
		return
	}
	metrics.RecordRequest("parallel", "complete")
	h.afterReport(r.Context(), &rep, "")
	respondJSON(w, http.StatusOK, schema.AnalyzeResponse{Status: "complete", Report: &rep})
}

// POST /analyze/transcribe: multipart audio, transcript only.
func (h *AnalyzeHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	path, cleanup, err := h.saveUpload(r, "audio", "")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer cleanup()

	transcript, err := h.Transcriber.TranscribeAudio(r.Context(), path)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "complete",
		"transcript": transcript,
	})
}

// afterReport archives the report and publishes incidents, both best-effort.
func (h *AnalyzeHandler) afterReport(ctx context.Context, rep *schema.Report, filename string) {
	if h.Archive != nil {
		if err := h.Archive.Save(ctx, rep, filename); err != nil {
			log.Printf("[WARN] API: report archive failed for %s: %v", rep.VideoID, err)
		}
	}
	if h.Events != nil && len(rep.Incidents) > 0 {
		h.Events.PublishIncidents(rep)
	}
}

// saveUpload streams one multipart file part to the upload directory and
// returns its path with a cleanup func. contentTypePrefix "" skips the type
// check.
func (h *AnalyzeHandler) saveUpload(r *http.Request, field, contentTypePrefix string) (string, func(), error) {
	r.Body = http.MaxBytesReader(nil, r.Body, h.MaxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return "", nil, errors.New("invalid multipart form (or upload too large)")
	}
	file, header, err := r.FormFile(field)
	if err != nil {
		return "", nil, errors.New("missing " + field + " file")
	}
	defer file.Close()

	if contentTypePrefix != "" {
		ct := header.Header.Get("Content-Type")
		if !strings.HasPrefix(ct, contentTypePrefix) {
			return "", nil, errors.New("unsupported content type " + ct)
		}
	}
	return h.persist(file, header)
}

func (h *AnalyzeHandler) persist(file multipart.File, header *multipart.FileHeader) (string, func(), error) {
	if err := os.MkdirAll(h.UploadDir, 0o755); err != nil {
		return "", nil, err
	}
	dst, err := os.CreateTemp(h.UploadDir, "upload-*"+filepath.Ext(header.Filename))
	if err != nil {
		return "", nil, err
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", nil, err
	}
	dst.Close()
	path := dst.Name()
	return path, func() { os.Remove(path) }, nil
}
