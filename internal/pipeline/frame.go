package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-comply/internal/report"
	"github.com/technosupport/ts-comply/internal/schema"
)

var ErrEmptyBatches = errors.New("no frame batches supplied")

// AnalyzeFrame is Path A: one webcam frame (or a small recent-frame batch)
// analyzed in a single combined call, with an optional speech pass over the
// accumulated live transcript.
func (o *Orchestrator) AnalyzeFrame(ctx context.Context, req schema.FrameAnalyzeRequest) (schema.Report, error) {
	policy, err := ParsePolicy(req.PolicyJSON)
	if err != nil {
		return schema.Report{}, err
	}
	if req.AccumulatedTranscript != "" {
		policy.AccumulatedTranscript = req.AccumulatedTranscript
	}

	frames := req.Frames
	if req.ImageBase64 != "" {
		frames = append([]string{req.ImageBase64}, frames...)
	}
	if len(frames) == 0 {
		return schema.Report{}, errors.New("no frame supplied")
	}
	if len(frames) > o.opts.MaxWebcamFrames {
		frames = frames[len(frames)-o.opts.MaxWebcamFrames:]
	}

	videoID := "frame-" + uuid.NewString()[:8]
	keyframes := make([]schema.KeyframeData, len(frames))
	for i, b64 := range frames {
		keyframes[i] = schema.KeyframeData{
			Timestamp:   float64(i),
			FrameNumber: i,
			Trigger:     schema.TriggerWebcam,
			ImageBase64: b64,
		}
	}

	var rep schema.Report
	switch req.Provider {
	case "", schema.ProviderDefault:
		rep, err = o.evaluator.EvaluateCombined(ctx, keyframes, policy.Effective(), videoID, 0, policy.PriorContext)
		if err != nil {
			return schema.Report{}, stageErr(StageVision, err)
		}
	case schema.ProviderRemoteGPU:
		if o.gpu == nil {
			return schema.Report{}, errors.New("remote GPU analyzer not configured")
		}
		rep = o.gpu.AnalyzeFrames(ctx, frames, *policy, videoID)
	default:
		return schema.Report{}, fmt.Errorf("unknown provider %q", req.Provider)
	}
	if req.PersonHint != "" {
		hintPersonIDs(&rep, req.PersonHint)
	}
	rep.TotalFramesAnalyzed = len(frames)

	o.reconciler.Reconcile(&rep, policy)

	if rules := policy.SpeechRules(); len(rules) > 0 && req.AccumulatedTranscript != "" {
		// Live mode has no current-chunk audio; the model judges the
		// accumulated transcript alone.
		synthetic := &schema.TranscriptResult{Language: "unknown"}
		verdicts, serr := o.speechEval.Evaluate(ctx, synthetic, rules, policy.CustomPrompt, req.AccumulatedTranscript)
		if serr != nil {
			log.Printf("[WARN] Pipeline %s: live speech evaluation failed: %v", videoID, serr)
		} else {
			report.MergeSpeech(&rep, verdicts)
		}
	}

	report.AssignPersonThumbnails(&rep)
	rep.VideoID = videoID
	if rep.AnalyzedAt.IsZero() {
		rep.AnalyzedAt = time.Now().UTC()
	}
	return rep, nil
}

// AnalyzeFramesParallel fans batches out to the remote GPU analyzer and
// collapses the per-batch reports into one.
func (o *Orchestrator) AnalyzeFramesParallel(ctx context.Context, req schema.ParallelFrameRequest) (schema.Report, error) {
	policy, err := ParsePolicy(req.PolicyJSON)
	if err != nil {
		return schema.Report{}, err
	}
	if len(req.Batches) == 0 {
		return schema.Report{}, ErrEmptyBatches
	}
	if o.gpu == nil {
		return schema.Report{}, errors.New("remote GPU analyzer not configured")
	}
	maxInFlight := req.MaxConcurrent
	if maxInFlight <= 0 || maxInFlight > 5 {
		maxInFlight = 5
	}

	reports := o.gpu.AnalyzeParallel(ctx, req.Batches, *policy, maxInFlight)
	merged := mergeReports(reports)
	o.reconciler.Reconcile(&merged, policy)
	merged.AnalyzedAt = time.Now().UTC()
	return merged, nil
}

// mergeReports collapses per-batch GPU reports into one report covering all
// batches.
func mergeReports(reports []schema.Report) schema.Report {
	if len(reports) == 0 {
		return schema.Report{}
	}
	merged := reports[0]
	summaries := []string{reports[0].Summary}
	for _, r := range reports[1:] {
		merged.AllVerdicts = append(merged.AllVerdicts, r.AllVerdicts...)
		merged.FrameObservations = append(merged.FrameObservations, r.FrameObservations...)
		merged.PersonSummaries = append(merged.PersonSummaries, r.PersonSummaries...)
		merged.Recommendations = append(merged.Recommendations, r.Recommendations...)
		merged.TotalFramesAnalyzed += r.TotalFramesAnalyzed
		if r.Summary != "" {
			summaries = append(summaries, r.Summary)
		}
	}
	merged.VideoID = "parallel-" + uuid.NewString()[:8]
	merged.Summary = strings.Join(summaries, " ")
	report.Finalize(&merged)
	return merged
}

// hintPersonIDs rewrites the model's tracker-local person ids to the
// caller-supplied identity (a logged-in kiosk user, for example).
func hintPersonIDs(rep *schema.Report, hint string) {
	for i := range rep.PersonSummaries {
		rep.PersonSummaries[i].PersonID = hint
	}
	for i := range rep.FrameObservations {
		for j := range rep.FrameObservations[i].People {
			rep.FrameObservations[i].People[j].PersonID = hint
		}
	}
}
