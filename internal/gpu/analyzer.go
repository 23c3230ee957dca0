// Package gpu integrates the remote GPU analyzer: an on-prem vision+reasoning
// pipeline behind an OpenAI-compatible proxy. It is the alternative provider
// for frame analysis; frames are packaged into an mp4 clip because the remote
// vision model consumes video, not stills.
package gpu

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-comply/internal/media"
	"github.com/technosupport/ts-comply/internal/metrics"
	"github.com/technosupport/ts-comply/internal/schema"
)

const (
	// The remote pipeline chains two models; five minutes covers a cold start.
	analyzeTimeout = 300 * time.Second
	clipFPS        = 4
	maxConcurrent  = 5
)

// Analyzer talks to the remote GPU proxy.
type Analyzer struct {
	httpc    *http.Client
	proxyURL string
	modelID  string
	tools    media.Tools
}

func NewAnalyzer(proxyURL, modelID string, tools media.Tools) *Analyzer {
	return &Analyzer{
		httpc:    &http.Client{Timeout: analyzeTimeout},
		proxyURL: proxyURL,
		modelID:  modelID,
		tools:    tools,
	}
}

// AnalyzeFrames sends a set of base64 JPEG frames for compliance analysis.
// A single frame is repeated to four so the clip has a sensible duration.
// Transport and remote-model failures come back as degraded reports, never
// errors: the caller always gets a Report it can show.
func (a *Analyzer) AnalyzeFrames(ctx context.Context, frames []string, policy schema.Policy, videoID string) schema.Report {
	if videoID == "" {
		videoID = "gpu-frame-" + uuid.NewString()[:8]
	}
	if len(frames) == 1 {
		frames = []string{frames[0], frames[0], frames[0], frames[0]}
	}
	if len(frames) == 0 {
		return degradedReport(videoID, "No frames provided for GPU analysis.")
	}

	clip, err := a.tools.FramesToMP4(ctx, frames, clipFPS)
	if err != nil {
		log.Printf("[ERROR] GPU: clip packaging failed: %v", err)
		return degradedReport(videoID, fmt.Sprintf("Failed to package frames for GPU analysis: %v", err))
	}
	return a.analyzeClip(ctx, clip, policy, videoID)
}

// analyzeClip posts an mp4 clip to the proxy and parses the reply.
func (a *Analyzer) analyzeClip(ctx context.Context, clip []byte, policy schema.Policy, videoID string) schema.Report {
	payload := a.buildRequest(clip, policy)
	body, err := json.Marshal(payload)
	if err != nil {
		return degradedReport(videoID, fmt.Sprintf("GPU request encoding failed: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.proxyURL, bytes.NewReader(body))
	if err != nil {
		return degradedReport(videoID, fmt.Sprintf("GPU request failed: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	metrics.RecordAICall("gpu")
	resp, err := a.httpc.Do(req)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err):
			log.Printf("[ERROR] GPU: request timed out after %s", analyzeTimeout)
			return degradedReport(videoID, "GPU request timed out (300s limit). The remote vision pipeline may be overloaded.")
		default:
			log.Printf("[ERROR] GPU: cannot connect to proxy at %s: %v", a.proxyURL, err)
			return degradedReport(videoID, fmt.Sprintf("Cannot connect to GPU analyzer at %s. Is the proxy running?", a.proxyURL))
		}
	}
	defer resp.Body.Close()

	var data map[string]json.RawMessage
	decodeErr := json.NewDecoder(resp.Body).Decode(&data)

	// The proxy returns JSON error bodies on 5xx ({"error": "..."}). Those
	// carry more signal than the bare status code, so the JSON error check
	// runs BEFORE the HTTP status check.
	if decodeErr == nil {
		if rawErr, ok := data["error"]; ok {
			msg := errorMessage(rawErr)
			if strings.Contains(strings.ToLower(msg), "cosmos") || strings.Contains(strings.ToLower(msg), "unreachable") {
				log.Printf("[ERROR] GPU: vision model unreachable: %s", msg)
				return degradedReport(videoID, fmt.Sprintf("GPU vision model (Cosmos) is unreachable. The model on the GPU host is not running. Error: %s", msg))
			}
			log.Printf("[ERROR] GPU: proxy returned error: %s", msg)
			return degradedReport(videoID, fmt.Sprintf("GPU error: %s", msg))
		}
	}
	if resp.StatusCode != http.StatusOK {
		return degradedReport(videoID, fmt.Sprintf("GPU HTTP error %d", resp.StatusCode))
	}
	if decodeErr != nil {
		return degradedReport(videoID, fmt.Sprintf("GPU returned a non-JSON response: %v", decodeErr))
	}

	report := parseResponse(data, policy, videoID)
	log.Printf("[INFO] GPU: analysis complete: compliant=%t people=%d incidents=%d",
		report.OverallCompliant, len(report.PersonSummaries), len(report.Incidents))
	return report
}

// AnalyzeParallel fans batches out to the proxy with at most five in flight.
func (a *Analyzer) AnalyzeParallel(ctx context.Context, batches [][]string, policy schema.Policy, maxInFlight int) []schema.Report {
	if maxInFlight <= 0 || maxInFlight > maxConcurrent {
		maxInFlight = maxConcurrent
	}
	sem := make(chan struct{}, maxInFlight)
	reports := make([]schema.Report, len(batches))

	var wg sync.WaitGroup
	for i, batch := range batches {
		wg.Add(1)
		go func(i int, batch []string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			reports[i] = a.AnalyzeFrames(ctx, batch, policy, fmt.Sprintf("gpu-batch-%d", i))
		}(i, batch)
	}
	wg.Wait()
	return reports
}

func (a *Analyzer) buildRequest(clip []byte, policy schema.Policy) map[string]any {
	return map[string]any{
		"model": a.modelID,
		"messages": []any{
			map[string]any{
				"role": "user",
				"content": []any{
					map[string]any{
						"type": "video_url",
						"video_url": map[string]string{
							"url": "data:video/mp4;base64," + base64.StdEncoding.EncodeToString(clip),
						},
					},
					map[string]any{"type": "text", "text": buildPrompt(policy)},
				},
			},
		},
		"max_tokens":  2048,
		"temperature": 0.6,
	}
}

func errorMessage(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &obj) == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}

func degradedReport(videoID, summary string) schema.Report {
	return schema.Report{
		VideoID:             videoID,
		Summary:             summary,
		OverallCompliant:    false,
		AnalyzedAt:          time.Now().UTC(),
		TotalFramesAnalyzed: 1,
	}
}

// Health is the cached reachability state served by the health endpoint.
type Health struct {
	Status string `json:"status"` // checking, connected, unreachable
	URL    string `json:"url,omitempty"`
	Error  string `json:"error,omitempty"`
}

// HealthProbe checks proxy reachability in the background so the health
// endpoint never blocks on a dead host.
type HealthProbe struct {
	addr string

	mu     sync.Mutex
	cached Health
	once   sync.Once
}

func NewHealthProbe(addr string) *HealthProbe {
	return &HealthProbe{addr: addr, cached: Health{Status: "checking"}}
}

// Status returns the cached state, kicking off the first probe if needed.
func (p *HealthProbe) Status() Health {
	p.once.Do(func() { go p.probe() })
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cached
}

func (p *HealthProbe) probe() {
	url := "http://" + p.addr
	conn, err := net.DialTimeout("tcp", p.addr, 3*time.Second)
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.cached = Health{Status: "unreachable", URL: url, Error: err.Error()}
		metrics.SetGPUUp(false)
		log.Printf("[WARN] GPU: health probe unreachable: %v", err)
		return
	}
	conn.Close()
	p.cached = Health{Status: "connected", URL: url}
	metrics.SetGPUUp(true)
	log.Printf("[INFO] GPU: health probe connected to %s", url)
}
