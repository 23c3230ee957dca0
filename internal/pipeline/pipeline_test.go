package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-comply/internal/aiclient"
	"github.com/technosupport/ts-comply/internal/checklist"
	"github.com/technosupport/ts-comply/internal/detect"
	"github.com/technosupport/ts-comply/internal/media"
	"github.com/technosupport/ts-comply/internal/report"
	"github.com/technosupport/ts-comply/internal/schema"
	"github.com/technosupport/ts-comply/internal/speech"
	"github.com/technosupport/ts-comply/internal/vlm"
)

const modelReport = `{
	"summary": "One worker observed, hard hat present.",
	"overall_compliant": true,
	"verdicts": [
		{"rule_type": "ppe", "rule_description": "Hard hat required", "compliant": true, "severity": "critical", "reason": "Hat visible", "timestamp": null}
	],
	"recommendations": [],
	"person_summaries": [
		{"person_id": "Person_A", "appearance": "orange vest", "first_seen": 0.0, "last_seen": 4.0, "frames_seen": 2, "compliant": true}
	]
}`

const modelObservations = `[
	{"timestamp": 0.0, "description": "worker at bench", "people": [{"person_id": "Person_A", "appearance": "orange vest"}]},
	{"timestamp": 4.0, "description": "worker still at bench", "people": [{"person_id": "Person_A", "appearance": "orange vest"}]}
]`

const modelSpeechVerdicts = `{"verdicts": [
	{"rule_description": "The phrase safety first must be said", "compliant": true, "reason": "Heard once", "timestamp": 1.0}
]}`

// routeChat answers like the provider would, keyed off which system prompt
// the caller sent.
func routeChat(t *testing.T, calls *atomic.Int32, lastBody *atomic.Value) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		raw, _ := json.Marshal(body)
		lastBody.Store(string(raw))

		reply := modelReport
		sys := systemPrompt(body)
		switch {
		case strings.Contains(sys, "visual surveillance analyst"):
			reply = modelObservations
		case strings.Contains(sys, "audio/speech"):
			reply = modelSpeechVerdicts
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": reply}}},
			"usage":   map[string]int{"prompt_tokens": 5, "completion_tokens": 5},
		})
	}
}

func systemPrompt(body map[string]any) string {
	msgs, _ := body["messages"].([]any)
	if len(msgs) == 0 {
		return ""
	}
	first, _ := msgs[0].(map[string]any)
	s, _ := first["content"].(string)
	return s
}

type harness struct {
	orch      *Orchestrator
	calls     *atomic.Int32
	lastBody  *atomic.Value
	detects   *atomic.Int32
	samples   *atomic.Int32
	srv       *httptest.Server
	detectErr error
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		calls:    &atomic.Int32{},
		lastBody: &atomic.Value{},
		detects:  &atomic.Int32{},
		samples:  &atomic.Int32{},
	}
	h.lastBody.Store("")
	h.srv = httptest.NewServer(routeChat(t, h.calls, h.lastBody))
	t.Cleanup(h.srv.Close)

	usage := aiclient.NewUsageTracker()
	client := aiclient.New(aiclient.Config{BaseURL: h.srv.URL, APIKey: "test", Model: "gpt-4o-mini"}, usage)
	tools := media.Tools{FFmpeg: "/nonexistent/ffmpeg", FFprobe: "/nonexistent/ffprobe"}
	rec := report.NewReconciler(checklist.NewTracker(checklist.NewMemStore()))

	h.orch = New(tools,
		vlm.NewObserver(client), vlm.NewEvaluator(client),
		speech.NewTranscriber(h.srv.URL, "test", "", tools, usage), speech.NewEvaluator(client),
		nil, rec,
		Options{KeyframesRoot: t.TempDir()})

	frame := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := range frame.Pix {
		frame.Pix[i] = 0xff
	}

	events := []detect.Event{
		{Index: 0, FrameNumber: 0, Timestamp: 0.0, Trigger: schema.TriggerFirst, Frame: frame},
		{Index: 1, FrameNumber: 120, Timestamp: 4.0, ChangeScore: 0.4, Trigger: schema.TriggerChange, Frame: frame},
	}
	h.orch.probe = func(ctx context.Context, path string) (schema.VideoMetadata, error) {
		return schema.VideoMetadata{Filename: path, Duration: 30, FPS: 30, Width: 640, Height: 480, TotalFrames: 900}, nil
	}
	h.orch.detectFile = func(ctx context.Context, path string, meta schema.VideoMetadata, opts detect.Options) ([]detect.Event, error) {
		h.detects.Add(1)
		if h.detectErr != nil {
			return nil, h.detectErr
		}
		return events, nil
	}
	h.orch.sampleFile = func(ctx context.Context, path string, meta schema.VideoMetadata, dir string, maxFrames int) ([]detect.Event, error) {
		h.samples.Add(1)
		return events, nil
	}
	h.orch.transcribe = func(ctx context.Context, videoPath string) (*schema.TranscriptResult, error) {
		return &schema.TranscriptResult{FullText: "safety first everyone", Language: "en", Duration: 30}, nil
	}
	return h
}

func (h *harness) withDuration(d float64) {
	h.orch.probe = func(ctx context.Context, path string) (schema.VideoMetadata, error) {
		return schema.VideoMetadata{Filename: path, Duration: d, FPS: 30}, nil
	}
}

func visualPolicy(t *testing.T) *schema.Policy {
	t.Helper()
	p := &schema.Policy{Rules: []schema.PolicyRule{
		{Type: schema.RulePPE, Description: "Hard hat required", Severity: schema.SeverityCritical, Mode: schema.ModeIncident},
	}}
	require.NoError(t, p.Validate())
	return p
}

func speechPolicy(t *testing.T) *schema.Policy {
	t.Helper()
	p := visualPolicy(t)
	p.Rules = append(p.Rules, schema.PolicyRule{
		Type: schema.RuleSpeech, Description: "The phrase safety first must be said", Severity: schema.SeverityHigh, Mode: schema.ModeIncident,
	})
	require.NoError(t, p.Validate())
	return p
}

func TestAnalyzeVideo_ShortVisualOnlyTakesCombinedPath(t *testing.T) {
	h := newHarness(t)
	h.withDuration(10)

	rep, err := h.orch.AnalyzeVideo(context.Background(), "/tmp/clip.mp4", visualPolicy(t))
	require.NoError(t, err)

	assert.Equal(t, int32(1), h.samples.Load())
	assert.Equal(t, int32(0), h.detects.Load())
	assert.Equal(t, int32(1), h.calls.Load()) // one combined call
	assert.True(t, rep.OverallCompliant)
	assert.Equal(t, 2, rep.TotalFramesAnalyzed)
	assert.Equal(t, 10.0, rep.VideoDuration)
}

func TestAnalyzeVideo_ExactCutoffTakesLongPath(t *testing.T) {
	h := newHarness(t)
	h.withDuration(15.0)

	_, err := h.orch.AnalyzeVideo(context.Background(), "/tmp/boundary.mp4", visualPolicy(t))
	require.NoError(t, err)
	assert.Equal(t, int32(1), h.detects.Load())
	assert.Equal(t, int32(0), h.samples.Load())
}

func TestAnalyzeVideo_ShortWithSpeechRulesTakesLongPath(t *testing.T) {
	h := newHarness(t)
	h.withDuration(8)

	rep, err := h.orch.AnalyzeVideo(context.Background(), "/tmp/short-speech.mp4", speechPolicy(t))
	require.NoError(t, err)
	assert.Equal(t, int32(1), h.detects.Load())
	assert.Equal(t, int32(0), h.samples.Load())
	// Observer + evaluator + speech evaluator.
	assert.Equal(t, int32(3), h.calls.Load())
	require.NotNil(t, rep.Transcript)
	assert.Equal(t, "safety first everyone", rep.Transcript.FullText)
	assert.True(t, rep.OverallCompliant)
	assert.Len(t, rep.AllVerdicts, 2) // visual + speech
}

func TestAnalyzeVideo_TranscriptionFailureIsNonFatal(t *testing.T) {
	h := newHarness(t)
	h.orch.transcribe = func(ctx context.Context, videoPath string) (*schema.TranscriptResult, error) {
		return nil, errors.New("whisper down")
	}

	rep, err := h.orch.AnalyzeVideo(context.Background(), "/tmp/noaudio.mp4", speechPolicy(t))
	require.NoError(t, err)
	assert.Contains(t, rep.Summary, "Audio analysis unavailable.")
	assert.Nil(t, rep.Transcript)
}

func TestAnalyzeVideo_NoKeyframesIsStageError(t *testing.T) {
	h := newHarness(t)
	h.detectErr = media.ErrNoFrames

	_, err := h.orch.AnalyzeVideo(context.Background(), "/tmp/corrupt.bin", visualPolicy(t))
	require.Error(t, err)
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageKeyframes, se.Stage)
	assert.Contains(t, err.Error(), "[Stage 2:KeyframeExtraction]")
}

func TestAnalyzeVideo_FallbackOnlyForWebContainers(t *testing.T) {
	h := newHarness(t)
	h.detectErr = media.ErrNoFrames

	// An undecodable mp4 fails immediately with the decode error intact:
	// no transcode retry, one detector pass.
	_, err := h.orch.AnalyzeVideo(context.Background(), "/tmp/clip.mp4", visualPolicy(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, media.ErrNoFrames)
	assert.Equal(t, int32(1), h.detects.Load())

	// A webm goes through the transcoder; with ffmpeg absent that attempt
	// fails and the error becomes the terminal no-keyframes one.
	_, err = h.orch.AnalyzeVideo(context.Background(), "/tmp/clip.webm", visualPolicy(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoKeyframes)
}

func TestAnalyzeVideo_CachedSecondCall(t *testing.T) {
	h := newHarness(t)
	policy := visualPolicy(t)

	_, err := h.orch.AnalyzeVideo(context.Background(), "/tmp/cached.mp4", policy)
	require.NoError(t, err)
	before := h.calls.Load()

	rep, err := h.orch.AnalyzeVideo(context.Background(), "/tmp/cached.mp4", policy)
	require.NoError(t, err)
	assert.Equal(t, before, h.calls.Load())
	assert.NotEmpty(t, rep.VideoID)
}

func TestAnalyzeVideo_PriorContextReachesEvaluator(t *testing.T) {
	h := newHarness(t)
	policy := visualPolicy(t)
	policy.PriorContext = "Badge was shown at 00:12 in the previous chunk."

	_, err := h.orch.AnalyzeVideo(context.Background(), "/tmp/chunk2.mp4", policy)
	require.NoError(t, err)
	assert.Contains(t, h.lastBody.Load().(string), "Badge was shown at 00:12")
}

func TestAnalyzeFrame_DefaultProvider(t *testing.T) {
	h := newHarness(t)
	req := schema.FrameAnalyzeRequest{
		ImageBase64: "/9j/fakejpeg",
		PolicyJSON:  `{"rules":[{"type":"ppe","description":"Hard hat required"}]}`,
	}

	rep, err := h.orch.AnalyzeFrame(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(rep.VideoID, "frame-"))
	assert.Equal(t, 1, rep.TotalFramesAnalyzed)
	assert.True(t, rep.OverallCompliant)
	assert.Equal(t, int32(1), h.calls.Load())
}

func TestAnalyzeFrame_PersonHintRewritesIDs(t *testing.T) {
	h := newHarness(t)
	req := schema.FrameAnalyzeRequest{
		ImageBase64: "/9j/fakejpeg",
		PolicyJSON:  `{"rules":[{"type":"ppe","description":"Hard hat required"}]}`,
		PersonHint:  "alice@site",
	}

	rep, err := h.orch.AnalyzeFrame(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, rep.PersonSummaries)
	assert.Equal(t, "alice@site", rep.PersonSummaries[0].PersonID)
}

func TestAnalyzeFrame_BadPolicy(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.AnalyzeFrame(context.Background(), schema.FrameAnalyzeRequest{
		ImageBase64: "/9j/x", PolicyJSON: `{"rules":[]}`,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrEmptyPolicy)
}

func TestAnalyzeFrame_UnknownProvider(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.AnalyzeFrame(context.Background(), schema.FrameAnalyzeRequest{
		ImageBase64: "/9j/x",
		PolicyJSON:  `{"rules":[{"type":"ppe","description":"Hard hat required"}]}`,
		Provider:    "tpu",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tpu")
}

func TestAnalyzeFrame_CapsWebcamFrames(t *testing.T) {
	h := newHarness(t)
	req := schema.FrameAnalyzeRequest{
		ImageBase64: "/9j/first",
		Frames:      []string{"/9j/a", "/9j/b", "/9j/c", "/9j/d"},
		PolicyJSON:  `{"rules":[{"type":"ppe","description":"Hard hat required"}]}`,
	}
	rep, err := h.orch.AnalyzeFrame(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.TotalFramesAnalyzed)
}

func TestAnalyzeFramesParallel_EmptyBatches(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.AnalyzeFramesParallel(context.Background(), schema.ParallelFrameRequest{
		PolicyJSON: `{"rules":[{"type":"ppe","description":"Hard hat required"}]}`,
	})
	assert.ErrorIs(t, err, ErrEmptyBatches)
}

func TestMergeReports(t *testing.T) {
	merged := mergeReports([]schema.Report{
		{
			Summary:          "Batch one clear.",
			OverallCompliant: true,
			AllVerdicts: []schema.Verdict{
				{RuleDescription: "Hard hat required", Compliant: true, Mode: schema.ModeIncident},
			},
			TotalFramesAnalyzed: 4,
		},
		{
			Summary:          "Batch two violation.",
			OverallCompliant: false,
			AllVerdicts: []schema.Verdict{
				{RuleDescription: "Hard hat required", Compliant: false, Mode: schema.ModeIncident, Reason: "No hat"},
			},
			TotalFramesAnalyzed: 4,
		},
	})

	assert.False(t, merged.OverallCompliant)
	assert.Len(t, merged.AllVerdicts, 2)
	require.Len(t, merged.Incidents, 1)
	assert.Equal(t, 8, merged.TotalFramesAnalyzed)
	assert.Contains(t, merged.Summary, "Batch one clear.")
	assert.Contains(t, merged.Summary, "Batch two violation.")
}

func TestStageErrorFormat(t *testing.T) {
	err := stageErr(StageVision, errors.New("model unavailable"))
	assert.Equal(t, "[Stage 3:VisionAnalysis] model unavailable", err.Error())
	assert.ErrorIs(t, err, err.(*StageError).Err)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy(`{"rules":[{"type":"badge","description":"Show badge","mode":"checklist"}]}`)
	require.NoError(t, err)
	assert.Equal(t, schema.FreqAtLeastOnce, p.Rules[0].Frequency)

	_, err = ParsePolicy("not json")
	assert.Error(t, err)
}
