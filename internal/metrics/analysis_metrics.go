package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// All metrics are low-cardinality (no video_id/person_id labels).

var (
	// AnalysisRequestsTotal counts analysis requests by path and outcome.
	AnalysisRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comply_analysis_requests_total",
			Help: "Total analysis requests by path (frame, short, long, parallel) and status",
		},
		[]string{"path", "status"},
	)

	// StageDuration tracks per-stage pipeline latency.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "comply_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"stage"},
	)

	// KeyframesExtractedTotal counts keyframes captured by the detector.
	KeyframesExtractedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "comply_keyframes_extracted_total",
			Help: "Total keyframes captured across all requests",
		},
	)

	// AICallsTotal counts upstream model calls by service.
	AICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comply_ai_calls_total",
			Help: "Total upstream AI calls by service (chat, speech, gpu)",
		},
		[]string{"service"},
	)

	// IncidentsTotal counts non-compliant incident verdicts surfaced.
	IncidentsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "comply_incidents_total",
			Help: "Total incident verdicts reported",
		},
	)

	// GPUAnalyzerUp is 1 when the remote GPU proxy answers its probe.
	GPUAnalyzerUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "comply_gpu_analyzer_up",
			Help: "Remote GPU analyzer reachability (1=up, 0=down)",
		},
	)
)

func RecordRequest(path, status string) {
	AnalysisRequestsTotal.WithLabelValues(path, status).Inc()
}

func ObserveStage(stage string, d time.Duration) {
	StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func AddKeyframes(n int) {
	KeyframesExtractedTotal.Add(float64(n))
}

func RecordAICall(service string) {
	AICallsTotal.WithLabelValues(service).Inc()
}

func RecordIncidents(n int) {
	IncidentsTotal.Add(float64(n))
}

func SetGPUUp(up bool) {
	if up {
		GPUAnalyzerUp.Set(1)
	} else {
		GPUAnalyzerUp.Set(0)
	}
}
