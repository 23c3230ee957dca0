// Package speech covers the audio half of the pipeline: extracting and
// transcribing the audio track, and evaluating speech-type policy rules
// against the accumulated transcript.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/technosupport/ts-comply/internal/aiclient"
	"github.com/technosupport/ts-comply/internal/media"
	"github.com/technosupport/ts-comply/internal/metrics"
	"github.com/technosupport/ts-comply/internal/schema"
)

const (
	defaultTranscribeModel = "whisper-1"
	transcribeTimeout      = 120 * time.Second
)

// Transcriber extracts the audio track locally and sends it to a Whisper
// compatible transcription endpoint.
type Transcriber struct {
	httpc   *http.Client
	baseURL string
	apiKey  string
	model   string
	tools   media.Tools
	usage   *aiclient.UsageTracker
}

func NewTranscriber(baseURL, apiKey, model string, tools media.Tools, usage *aiclient.UsageTracker) *Transcriber {
	if model == "" {
		model = defaultTranscribeModel
	}
	if usage == nil {
		usage = aiclient.NewUsageTracker()
	}
	return &Transcriber{
		httpc:   &http.Client{Timeout: transcribeTimeout},
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		tools:   tools,
		usage:   usage,
	}
}

// TranscribeVideo extracts the audio track and transcribes it. Returns
// (nil, nil) when the video has no usable audio; a silent video is not an
// error, downstream just skips speech evaluation.
func (t *Transcriber) TranscribeVideo(ctx context.Context, videoPath string) (*schema.TranscriptResult, error) {
	audioPath, err := t.tools.ExtractAudio(ctx, videoPath)
	if errors.Is(err, media.ErrNoAudio) {
		log.Printf("[INFO] Speech: no audio track in %s, skipping transcription", filepath.Base(videoPath))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer os.Remove(audioPath)

	return t.transcribeFile(ctx, audioPath)
}

// TranscribeAudio transcribes an already-extracted audio file directly.
func (t *Transcriber) TranscribeAudio(ctx context.Context, audioPath string) (*schema.TranscriptResult, error) {
	return t.transcribeFile(ctx, audioPath)
}

// verbose_json response shape.
type transcriptionResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (t *Transcriber) transcribeFile(ctx context.Context, audioPath string) (*schema.TranscriptResult, error) {
	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, err
	}

	var result *schema.TranscriptResult
	err = aiclient.Retry(ctx, t.model, func() error {
		var callErr error
		result, callErr = t.doTranscribe(ctx, audio, filepath.Base(audioPath))
		return callErr
	})
	if err != nil {
		return nil, err
	}

	t.usage.RecordAudio(t.model, result.Duration)
	metrics.RecordAICall("speech")
	return result, nil
}

func (t *Transcriber) doTranscribe(ctx context.Context, audio []byte, filename string) (*schema.TranscriptResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("model", t.model); err != nil {
		return nil, err
	}
	if err := mw.WriteField("response_format", "verbose_json"); err != nil {
		return nil, err
	}
	if err := mw.WriteField("timestamp_granularities[]", "segment"); err != nil {
		return nil, err
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(audio); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.baseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var parsed transcriptionResponse
	_ = json.Unmarshal(raw, &parsed)

	if resp.StatusCode != http.StatusOK {
		msg := string(raw)
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return nil, &aiclient.APIError{Status: resp.StatusCode, Message: msg}
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("transcription: %s", parsed.Error.Message)
	}

	out := &schema.TranscriptResult{
		FullText: parsed.Text,
		Language: parsed.Language,
		Duration: parsed.Duration,
	}
	if out.Language == "" {
		out.Language = "unknown"
	}
	for _, seg := range parsed.Segments {
		out.Segments = append(out.Segments, schema.TranscriptSegment{
			Start: seg.Start,
			End:   seg.End,
			Text:  seg.Text,
		})
	}
	return out, nil
}
