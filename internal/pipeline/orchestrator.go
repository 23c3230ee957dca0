// Package pipeline dispatches an analysis request to one of three paths and
// coordinates the parallel fan-out of vision and speech subtasks.
//
// Path A handles single webcam frames, Path B short visual-only clips with a
// single combined model call, Path C everything else with the full
// detect, observe, transcribe, evaluate staging.
package pipeline

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/technosupport/ts-comply/internal/detect"
	"github.com/technosupport/ts-comply/internal/gpu"
	"github.com/technosupport/ts-comply/internal/media"
	"github.com/technosupport/ts-comply/internal/metrics"
	"github.com/technosupport/ts-comply/internal/report"
	"github.com/technosupport/ts-comply/internal/schema"
	"github.com/technosupport/ts-comply/internal/speech"
	"github.com/technosupport/ts-comply/internal/vlm"
)

const (
	// Clips shorter than this with no speech rules take the combined path.
	shortVideoCutoff = 15.0

	keyframeMaxWidth = 768
	keyframeQuality  = 85

	defaultSampleFrames = 5
	defaultCacheSize    = 64
)

// Options tunes the orchestrator. Zero values take defaults.
type Options struct {
	KeyframesRoot   string
	SampleFrames    int // max frames on the short path
	MaxWebcamFrames int
	CacheSize       int
	Detect          detect.Options
}

func (o *Options) applyDefaults() {
	if o.SampleFrames <= 0 {
		o.SampleFrames = defaultSampleFrames
	}
	if o.MaxWebcamFrames <= 0 {
		o.MaxWebcamFrames = 3
	}
	if o.CacheSize <= 0 {
		o.CacheSize = defaultCacheSize
	}
}

// Orchestrator owns the per-request analysis flow. All dependencies are
// injected; the func fields default to the real implementations and exist so
// tests can run the staging logic without ffmpeg on the path.
type Orchestrator struct {
	tools      media.Tools
	observer   *vlm.Observer
	evaluator  *vlm.Evaluator
	transcribe func(ctx context.Context, videoPath string) (*schema.TranscriptResult, error)
	speechEval *speech.Evaluator
	gpu        *gpu.Analyzer
	reconciler *report.Reconciler
	cache      *lru.Cache[string, schema.Report]
	opts       Options

	probe      func(ctx context.Context, path string) (schema.VideoMetadata, error)
	detectFile func(ctx context.Context, path string, meta schema.VideoMetadata, opts detect.Options) ([]detect.Event, error)
	sampleFile func(ctx context.Context, path string, meta schema.VideoMetadata, dir string, maxFrames int) ([]detect.Event, error)
}

func New(tools media.Tools, observer *vlm.Observer, evaluator *vlm.Evaluator,
	transcriber *speech.Transcriber, speechEval *speech.Evaluator,
	gpuAnalyzer *gpu.Analyzer, reconciler *report.Reconciler, opts Options) *Orchestrator {

	opts.applyDefaults()
	cache, _ := lru.New[string, schema.Report](opts.CacheSize)
	o := &Orchestrator{
		tools:      tools,
		observer:   observer,
		evaluator:  evaluator,
		speechEval: speechEval,
		gpu:        gpuAnalyzer,
		reconciler: reconciler,
		cache:      cache,
		opts:       opts,
	}
	o.transcribe = transcriber.TranscribeVideo
	o.probe = func(ctx context.Context, path string) (schema.VideoMetadata, error) {
		return tools.Probe(ctx, path)
	}
	o.detectFile = func(ctx context.Context, path string, meta schema.VideoMetadata, dopts detect.Options) ([]detect.Event, error) {
		return detect.DetectFile(ctx, tools, path, meta, dopts)
	}
	o.sampleFile = func(ctx context.Context, path string, meta schema.VideoMetadata, dir string, maxFrames int) ([]detect.Event, error) {
		return detect.SampleFile(ctx, tools, path, meta, dir, maxFrames)
	}
	return o
}

// ProcessUpload runs probe plus change detection only, for callers that want
// keyframe metadata without an analysis pass.
func (o *Orchestrator) ProcessUpload(ctx context.Context, path string) (schema.VideoProcessingResult, error) {
	meta, err := o.probe(ctx, path)
	if err != nil {
		return schema.VideoProcessingResult{}, stageErr(StageProbe, err)
	}
	videoID := media.GenerateVideoID(path)

	dopts := o.opts.Detect
	dopts.KeyframesDir = filepath.Join(o.opts.KeyframesRoot, videoID)
	events, err := o.extract(ctx, path, meta, func(ctx context.Context, p string, m schema.VideoMetadata) ([]detect.Event, error) {
		return o.detectFile(ctx, p, m, dopts)
	})
	if err != nil {
		return schema.VideoProcessingResult{}, err
	}

	result := schema.VideoProcessingResult{VideoID: videoID, Metadata: meta}
	for _, ev := range events {
		result.Keyframes = append(result.Keyframes, schema.KeyframeData{
			Timestamp:   ev.Timestamp,
			FrameNumber: ev.FrameNumber,
			ChangeScore: ev.ChangeScore,
			Trigger:     ev.Trigger,
			Path:        ev.Path,
		})
	}
	return result, nil
}

// ParsePolicy decodes and validates a policy JSON document.
func ParsePolicy(raw string) (*schema.Policy, error) {
	var p schema.Policy
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("invalid policy JSON: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// AnalyzeVideo runs the full pipeline on a video file.
func (o *Orchestrator) AnalyzeVideo(ctx context.Context, path string, policy *schema.Policy) (schema.Report, error) {
	start := time.Now()
	meta, err := o.probe(ctx, path)
	if err != nil {
		return schema.Report{}, stageErr(StageProbe, err)
	}
	metrics.ObserveStage("probe", time.Since(start))
	videoID := media.GenerateVideoID(path)

	key := cacheKey(videoID, policy)
	if cached, ok := o.cache.Get(key); ok {
		log.Printf("[INFO] Pipeline %s: returning cached report", videoID)
		return cached, nil
	}

	visual := policy.VisualRules()
	speechRules := policy.SpeechRules()
	short := meta.Duration < shortVideoCutoff && len(visual) > 0 && len(speechRules) == 0

	var rep schema.Report
	if short {
		rep, err = o.analyzeShort(ctx, path, meta, videoID, policy)
	} else {
		rep, err = o.analyzeLong(ctx, path, meta, videoID, policy, speechRules)
	}
	if err != nil {
		return schema.Report{}, err
	}

	o.reconciler.Reconcile(&rep, policy)
	report.AssignPersonThumbnails(&rep)
	rep.VideoID = videoID
	rep.VideoDuration = meta.Duration
	if rep.AnalyzedAt.IsZero() {
		rep.AnalyzedAt = time.Now().UTC()
	}
	metrics.RecordIncidents(len(rep.Incidents))
	metrics.ObserveStage("total", time.Since(start))
	o.cache.Add(key, rep)
	return rep, nil
}

// analyzeShort is Path B: interval sampling plus one combined call.
func (o *Orchestrator) analyzeShort(ctx context.Context, path string, meta schema.VideoMetadata, videoID string, policy *schema.Policy) (schema.Report, error) {
	dir := filepath.Join(o.opts.KeyframesRoot, videoID)
	events, err := o.extract(ctx, path, meta, func(ctx context.Context, p string, m schema.VideoMetadata) ([]detect.Event, error) {
		return o.sampleFile(ctx, p, m, dir, o.opts.SampleFrames)
	})
	if err != nil {
		return schema.Report{}, err
	}
	keyframes := o.keyframes(events)
	log.Printf("[INFO] Pipeline %s: short path, %d sampled frame(s), duration %.1fs", videoID, len(keyframes), meta.Duration)

	rep, err := o.evaluator.EvaluateCombined(ctx, keyframes, policy.Effective(), videoID, meta.Duration, policy.PriorContext)
	if err != nil {
		return schema.Report{}, stageErr(StageVision, err)
	}
	rep.TotalFramesAnalyzed = len(keyframes)
	return rep, nil
}

// analyzeLong is Path C: change detection, then observe and transcribe in
// parallel, then evaluate visual and speech verdicts in parallel. A vision
// failure is fatal; a speech failure degrades to a transcript-less report.
func (o *Orchestrator) analyzeLong(ctx context.Context, path string, meta schema.VideoMetadata, videoID string, policy *schema.Policy, speechRules []schema.PolicyRule) (schema.Report, error) {
	dopts := o.opts.Detect
	dopts.KeyframesDir = filepath.Join(o.opts.KeyframesRoot, videoID)
	events, err := o.extract(ctx, path, meta, func(ctx context.Context, p string, m schema.VideoMetadata) ([]detect.Event, error) {
		return o.detectFile(ctx, p, m, dopts)
	})
	if err != nil {
		return schema.Report{}, err
	}
	keyframes := o.keyframes(events)

	hasVisual := len(policy.VisualRules()) > 0 || policy.CustomPrompt != ""
	wantAudio := len(speechRules) > 0 || policy.IncludeAudio
	log.Printf("[INFO] Pipeline %s: long path, %d keyframe(s), visual=%t audio=%t", videoID, len(keyframes), hasVisual, wantAudio)

	var (
		wg           sync.WaitGroup
		observations []schema.FrameObservation
		visionErr    error
		transcript   *schema.TranscriptResult
		speechFailed bool
	)
	if hasVisual {
		wg.Add(1)
		go func() {
			defer wg.Done()
			observations, visionErr = o.observer.Observe(ctx, keyframes, policy.Effective())
		}()
	}
	if wantAudio {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var terr error
			transcript, terr = o.transcribe(ctx, path)
			if terr != nil {
				speechFailed = true
				log.Printf("[WARN] Pipeline %s: transcription failed: %v", videoID, terr)
			}
		}()
	}
	wg.Wait()
	if visionErr != nil {
		return schema.Report{}, stageErr(StageVision, visionErr)
	}

	var (
		rep       schema.Report
		evalErr   error
		speechV   []schema.Verdict
		speechErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if hasVisual && len(observations) > 0 {
			rep, evalErr = o.evaluator.EvaluateAndReport(ctx, observations, policy.Effective(), videoID, meta.Duration, transcript, policy.PriorContext)
			return
		}
		rep = schema.Report{
			VideoID:    videoID,
			Summary:    "Audio-only analysis.",
			Transcript: transcript,
		}
		rep.OverallCompliant = true
	}()
	if len(speechRules) > 0 && combinedTranscript(transcript, policy.AccumulatedTranscript) != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			speechV, speechErr = o.speechEval.Evaluate(ctx, transcript, speechRules, policy.CustomPrompt, policy.AccumulatedTranscript)
		}()
	}
	wg.Wait()
	if evalErr != nil {
		return schema.Report{}, stageErr(StageEvaluation, evalErr)
	}
	if speechErr != nil {
		speechFailed = true
		log.Printf("[WARN] Pipeline %s: speech evaluation failed: %v", videoID, speechErr)
	}

	rep.TotalFramesAnalyzed = len(keyframes)
	report.MergeSpeech(&rep, speechV)
	if speechFailed {
		rep.Summary += " Audio analysis unavailable."
	}
	return rep, nil
}

type extractFn func(ctx context.Context, path string, meta schema.VideoMetadata) ([]detect.Event, error)

// extract runs the detector, retrying once through the fallback transcoder.
// The retry only applies to web-container uploads; an undecodable mp4 fails
// straight away.
func (o *Orchestrator) extract(ctx context.Context, path string, meta schema.VideoMetadata, fn extractFn) ([]detect.Event, error) {
	events, err := fn(ctx, path, meta)
	if errors.Is(err, media.ErrNoFrames) && media.IsWebContainer(path) {
		log.Printf("[WARN] Pipeline: no frames decoded from %s, trying fallback transcode", filepath.Base(path))
		converted, terr := o.tools.FallbackTranscode(ctx, path)
		if terr != nil {
			return nil, stageErr(StageKeyframes, ErrNoKeyframes)
		}
		events, err = fn(ctx, converted, meta)
	}
	if err != nil {
		return nil, stageErr(StageKeyframes, err)
	}
	if len(events) == 0 {
		return nil, stageErr(StageKeyframes, ErrNoKeyframes)
	}
	metrics.AddKeyframes(len(events))
	return events, nil
}

// keyframes converts detector events to the wire shape, encoding each frame
// once at analysis resolution.
func (o *Orchestrator) keyframes(events []detect.Event) []schema.KeyframeData {
	out := make([]schema.KeyframeData, 0, len(events))
	for _, ev := range events {
		kf := schema.KeyframeData{
			Timestamp:   ev.Timestamp,
			FrameNumber: ev.FrameNumber,
			ChangeScore: ev.ChangeScore,
			Trigger:     ev.Trigger,
			Path:        ev.Path,
		}
		if ev.Frame != nil {
			b64, err := media.EncodeJPEGBase64(ev.Frame, keyframeMaxWidth, keyframeQuality)
			if err != nil {
				log.Printf("[WARN] Pipeline: keyframe %d encode failed: %v", ev.FrameNumber, err)
			} else {
				kf.ImageBase64 = b64
			}
		}
		out = append(out, kf)
	}
	return out
}

func combinedTranscript(t *schema.TranscriptResult, accumulated string) string {
	s := accumulated
	if t != nil {
		s += t.FullText
	}
	return s
}

func cacheKey(videoID string, policy *schema.Policy) string {
	raw, _ := json.Marshal(policy)
	sum := md5.Sum(raw)
	return videoID + ":" + hex.EncodeToString(sum[:])[:12]
}
