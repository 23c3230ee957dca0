package api

import (
	"bytes"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-comply/internal/aiclient"
	"github.com/technosupport/ts-comply/internal/checklist"
	"github.com/technosupport/ts-comply/internal/detect"
	"github.com/technosupport/ts-comply/internal/media"
	"github.com/technosupport/ts-comply/internal/pipeline"
	"github.com/technosupport/ts-comply/internal/report"
	"github.com/technosupport/ts-comply/internal/schema"
	"github.com/technosupport/ts-comply/internal/speech"
	"github.com/technosupport/ts-comply/internal/tokens"
	"github.com/technosupport/ts-comply/internal/vlm"
)

const stubReport = `{
	"summary": "One worker observed, hard hat present.",
	"overall_compliant": true,
	"verdicts": [
		{"rule_type": "ppe", "rule_description": "Hard hat required", "compliant": true, "severity": "critical", "reason": "Hat visible", "timestamp": null}
	],
	"recommendations": [],
	"person_summaries": []
}`

const testPolicy = `{"rules": [
	{"type": "ppe", "description": "Hard hat required", "severity": "critical", "mode": "incident"}
]}`

// chatStub answers every chat completion with a fixed compliant report.
func chatStub(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": stubReport}}},
			"usage":   map[string]int{"prompt_tokens": 5, "completion_tokens": 5},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

type testEnv struct {
	router  http.Handler
	tracker *checklist.Tracker
	usage   *aiclient.UsageTracker
	tokens  *tokens.Manager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	srv := chatStub(t)

	usage := aiclient.NewUsageTracker()
	client := aiclient.New(aiclient.Config{BaseURL: srv.URL, APIKey: "test", Model: "gpt-4o-mini"}, usage)
	tools := media.Tools{FFmpeg: "/nonexistent/ffmpeg", FFprobe: "/nonexistent/ffprobe"}
	tracker := checklist.NewTracker(checklist.NewMemStore())

	transcriber := speech.NewTranscriber(srv.URL, "test", "", tools, usage)
	orch := pipeline.New(tools,
		vlm.NewObserver(client), vlm.NewEvaluator(client),
		transcriber, speech.NewEvaluator(client),
		nil, report.NewReconciler(tracker),
		pipeline.Options{KeyframesRoot: t.TempDir()})

	tm := tokens.NewManager("test-secret", time.Minute)
	router := NewRouter(Handlers{
		Analyze:   NewAnalyzeHandler(orch, transcriber, t.TempDir(), 10<<20),
		Checklist: NewChecklistHandler(tracker),
		System:    &SystemHandler{Usage: usage},
		Ws:        NewWsHandler(tm, orch, detect.Options{}),
	})
	return &testEnv{router: router, tracker: tracker, usage: usage, tokens: tm}
}

func testFrameBase64(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	b64, err := media.EncodeJPEGBase64(img, 0, 85)
	require.NoError(t, err)
	return b64
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAnalyzeFrameEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := postJSON(t, env.router, "/analyze/frame", schema.FrameAnalyzeRequest{
		ImageBase64: testFrameBase64(t),
		PolicyJSON:  testPolicy,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp schema.AnalyzeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "complete", resp.Status)
	require.NotNil(t, resp.Report)
	assert.True(t, resp.Report.OverallCompliant)
	assert.True(t, strings.HasPrefix(resp.Report.VideoID, "frame-"))
}

func TestAnalyzeFrameBadPolicy(t *testing.T) {
	env := newTestEnv(t)

	rec := postJSON(t, env.router, "/analyze/frame", schema.FrameAnalyzeRequest{
		ImageBase64: testFrameBase64(t),
		PolicyJSON:  `{"rules": []}`,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var envlp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envlp))
	assert.Equal(t, "error", envlp["status"])
	assert.NotEmpty(t, envlp["error"])
}

func TestAnalyzeFrameInvalidJSON(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/analyze/frame", strings.NewReader("{nope"))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChecklistRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	// Unknown subject against an incident-only policy: every row pending.
	rec := postJSON(t, env.router, "/checklist/worker-1", map[string]string{
		"policy_json": testPolicy,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var status struct {
		PersonID  string           `json:"person_id"`
		Checklist []checklist.Item `json:"checklist"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "worker-1", status.PersonID)

	// Export is a valid snapshot that Import accepts back.
	req := httptest.NewRequest(http.MethodGet, "/checklist/export", nil)
	out := httptest.NewRecorder()
	env.router.ServeHTTP(out, req)
	require.Equal(t, http.StatusOK, out.Code)

	imp := httptest.NewRequest(http.MethodPost, "/checklist/import", bytes.NewReader(out.Body.Bytes()))
	impRec := httptest.NewRecorder()
	env.router.ServeHTTP(impRec, imp)
	assert.Equal(t, http.StatusOK, impRec.Code)
}

func TestChecklistReset(t *testing.T) {
	env := newTestEnv(t)

	rec := postJSON(t, env.router, "/analyze/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHealthAndUsage(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var health map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health["status"])

	req = httptest.NewRequest(http.MethodGet, "/usage", nil)
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReportsUnconfigured(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/reports", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestMintStreamToken(t *testing.T) {
	env := newTestEnv(t)

	rec := postJSON(t, env.router, "/ws/token", map[string]string{"client_id": "cam-7"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["token"])
	require.NotEmpty(t, resp["session_id"])

	claims, err := env.tokens.ValidateToken(resp["token"])
	require.NoError(t, err)
	assert.Equal(t, "cam-7", claims.ClientID)
	assert.Equal(t, resp["session_id"], claims.SessionID)
}

func TestMintStreamTokenMissingClient(t *testing.T) {
	env := newTestEnv(t)

	rec := postJSON(t, env.router, "/ws/token", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLiveRejectsBadToken(t *testing.T) {
	env := newTestEnv(t)

	for _, q := range []string{"", "?token=garbage"} {
		req := httptest.NewRequest(http.MethodGet, "/ws/live"+q, nil)
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
}

func TestLiveStreamExchange(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	token, _, err := env.tokens.GenerateStreamToken("cam-1")
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/live?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The first pushed frame always triggers a capture, so it gets analyzed.
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":         "frame",
		"image_base64": testFrameBase64(t),
		"policy_json":  testPolicy,
	}))

	var reply struct {
		Type   string         `json:"type"`
		Report *schema.Report `json:"report"`
		Error  string         `json:"error"`
	}
	require.NoError(t, conn.ReadJSON(&reply))
	require.Equal(t, "report", reply.Type, reply.Error)
	require.NotNil(t, reply.Report)
	assert.True(t, reply.Report.OverallCompliant)

	// Person hint from the token claims flows into the report subjects.
	if len(reply.Report.FrameObservations) > 0 && len(reply.Report.FrameObservations[0].People) > 0 {
		assert.Equal(t, "cam-1", reply.Report.FrameObservations[0].People[0].PersonID)
	}
}
