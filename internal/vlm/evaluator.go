package vlm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/technosupport/ts-comply/internal/aiclient"
	"github.com/technosupport/ts-comply/internal/schema"
)

const evaluatorMaxTokens = 2000

// Evaluator turns observations plus a policy into a structured compliance
// report with one model call. Folding evaluation and report generation into a
// single call saves a full API round trip per request.
type Evaluator struct {
	client *aiclient.Client
}

func NewEvaluator(client *aiclient.Client) *Evaluator {
	return &Evaluator{client: client}
}

// reportPayload is the JSON object both evaluator calls ask the model for.
type reportPayload struct {
	Summary          string   `json:"summary"`
	OverallCompliant bool     `json:"overall_compliant"`
	Verdicts         []struct {
		RuleType        string   `json:"rule_type"`
		RuleDescription string   `json:"rule_description"`
		Compliant       bool     `json:"compliant"`
		Severity        string   `json:"severity"`
		Reason          string   `json:"reason"`
		Timestamp       *float64 `json:"timestamp"`
	} `json:"verdicts"`
	Recommendations []string `json:"recommendations"`
	PersonSummaries []struct {
		PersonID   string   `json:"person_id"`
		Appearance string   `json:"appearance"`
		FirstSeen  float64  `json:"first_seen"`
		LastSeen   float64  `json:"last_seen"`
		FramesSeen int      `json:"frames_seen"`
		Compliant  bool     `json:"compliant"`
		Violations []string `json:"violations"`
	} `json:"person_summaries"`
}

// EvaluateAndReport judges visual observations (and optionally a transcript)
// against the policy. Parse failures degrade to a non-compliant report rather
// than an error, so a flaky model response never loses the observations.
func (e *Evaluator) EvaluateAndReport(ctx context.Context, observations []schema.FrameObservation, policy schema.Policy, videoID string, videoDuration float64, transcript *schema.TranscriptResult, priorContext string) (schema.Report, error) {
	userPrompt := fmt.Sprintf("%s\n\nVIDEO OBSERVATIONS (%d frames analyzed, %.1fs total):\n%s",
		formatPolicy(policy), len(observations), videoDuration, formatObservations(observations))

	if tr := formatTranscript(transcript); tr != "" {
		userPrompt += "\n\n" + tr
	}
	if priorContext != "" {
		userPrompt += "\n\nCONTEXT FROM EARLIER IN THIS STREAM:\n" + priorContext
	}
	userPrompt += "\n\nEvaluate each policy rule against these observations"
	if transcript != nil && transcript.FullText != "" {
		userPrompt += " and the audio transcript"
	}
	userPrompt += ". Produce a compliance report."

	raw, err := e.client.Chat(ctx, []aiclient.Message{
		aiclient.SystemMessage(evaluatorSystemPrompt),
		aiclient.UserMessage(aiclient.TextPart(userPrompt)),
	}, aiclient.ChatOptions{
		MaxTokens:   evaluatorMaxTokens,
		Temperature: lowTemperature(),
		JSONMode:    true,
	})
	if err != nil {
		return schema.Report{}, err
	}

	report := e.reportFromJSON(raw, videoID, videoDuration, len(observations))
	report.FrameObservations = observations
	report.Transcript = transcript
	return report, nil
}

// EvaluateCombined is the short-video fast path: one vision call that both
// looks at the frames and applies the policy, skipping the separate observer
// stage entirely.
func (e *Evaluator) EvaluateCombined(ctx context.Context, keyframes []schema.KeyframeData, policy schema.Policy, videoID string, videoDuration float64, priorContext string) (schema.Report, error) {
	effective := policy.Effective()

	text := fmt.Sprintf("You are given %d frame(s) from a %.1fs surveillance video. "+
		"Observe them carefully, then apply the policy below.\n\n%s",
		len(keyframes), videoDuration, formatPolicy(effective))
	if refCtx := buildReferenceContext(effective.ReferenceImages); refCtx != "" {
		text += "\n" + refCtx
	}
	if priorContext != "" {
		text += "\n\nCONTEXT FROM EARLIER IN THIS STREAM:\n" + priorContext
	}
	text += "\n\nProduce a compliance report for these frames."

	// Identity matching against references needs resolution; without them the
	// flat low-detail rate keeps cost proportional to frame count.
	detail := aiclient.DetailLow
	if len(effective.ReferenceImages) > 0 {
		detail = aiclient.DetailHigh
	}

	parts := []aiclient.Part{aiclient.TextPart(text)}
	for i, ref := range effective.ReferenceImages {
		parts = append(parts,
			aiclient.TextPart(fmt.Sprintf("[REFERENCE %d: %s]", i+1, ref.Label)),
			aiclient.ImagePart(ref.ImageBase64, aiclient.DetailLow),
		)
	}
	for _, kf := range keyframes {
		parts = append(parts,
			aiclient.TextPart(fmt.Sprintf("[Frame at t=%.1fs]", kf.Timestamp)),
			aiclient.ImagePart(kf.ImageBase64, detail),
		)
	}

	raw, err := e.client.Chat(ctx, []aiclient.Message{
		aiclient.SystemMessage(evaluatorSystemPrompt),
		aiclient.UserMessage(parts...),
	}, aiclient.ChatOptions{
		MaxTokens:   evaluatorMaxTokens,
		Temperature: lowTemperature(),
		JSONMode:    true,
	})
	if err != nil {
		return schema.Report{}, err
	}

	report := e.reportFromJSON(raw, videoID, videoDuration, len(keyframes))
	for _, kf := range keyframes {
		report.FrameObservations = append(report.FrameObservations, schema.FrameObservation{
			Timestamp:   kf.Timestamp,
			Description: "(combined analysis, no per-frame observation)",
			Trigger:     kf.Trigger,
			ChangeScore: kf.ChangeScore,
			ImageBase64: kf.ImageBase64,
		})
	}
	return report, nil
}

// reportFromJSON parses the model's report object into a schema.Report. On
// parse failure it returns the degraded non-compliant report.
func (e *Evaluator) reportFromJSON(raw, videoID string, videoDuration float64, framesAnalyzed int) schema.Report {
	report := schema.Report{
		VideoID:             videoID,
		AnalyzedAt:          time.Now().UTC(),
		TotalFramesAnalyzed: framesAnalyzed,
		VideoDuration:       videoDuration,
	}

	var payload reportPayload
	if err := json.Unmarshal([]byte(stripFences(raw)), &payload); err != nil {
		log.Printf("[ERROR] VLM: report parse failed: %v", err)
		report.Summary = "Failed to parse compliance report from model output."
		report.OverallCompliant = false
		report.Recommendations = []string{"Retry analysis or check model output."}
		return report
	}

	report.Summary = payload.Summary
	if report.Summary == "" {
		report.Summary = "No summary generated."
	}
	report.OverallCompliant = payload.OverallCompliant
	report.Recommendations = payload.Recommendations

	for _, v := range payload.Verdicts {
		verdict := schema.Verdict{
			RuleType:        v.RuleType,
			RuleDescription: v.RuleDescription,
			Compliant:       v.Compliant,
			Severity:        v.Severity,
			Reason:          v.Reason,
			Timestamp:       v.Timestamp,
		}
		if verdict.RuleType == "" {
			verdict.RuleType = "unknown"
		}
		if verdict.Severity == "" {
			verdict.Severity = schema.SeverityMedium
		}
		report.AllVerdicts = append(report.AllVerdicts, verdict)
		if !verdict.Compliant {
			report.Incidents = append(report.Incidents, verdict)
		}
	}

	for _, p := range payload.PersonSummaries {
		frames := p.FramesSeen
		if frames < 1 {
			frames = 1
		}
		report.PersonSummaries = append(report.PersonSummaries, schema.PersonSummary{
			PersonID:   p.PersonID,
			Appearance: p.Appearance,
			FirstSeen:  p.FirstSeen,
			LastSeen:   p.LastSeen,
			FramesSeen: frames,
			Compliant:  p.Compliant,
			Violations: p.Violations,
		})
	}
	return report
}
