package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/technosupport/ts-comply/internal/aiclient"
	"github.com/technosupport/ts-comply/internal/schema"
)

const speechSystemPrompt = `You are an expert audio/speech compliance evaluator.

You will receive:
1. A transcript of audio from a video, with timestamped segments
2. A set of speech compliance rules to evaluate

Your job:
- Evaluate EACH rule against the transcript
- For each rule, determine: compliant or non-compliant
- Count occurrences of specific phrases when required
- Quote the exact transcript segments that support your reasoning
- Cite timestamps from the transcript

Be precise. If a rule requires a phrase to be said N times, count the EXACT number of occurrences.
If the transcript is empty or too short to evaluate, mark rules as non-compliant with a note.

Severity levels: "low", "medium", "high", "critical".

Respond with a JSON object: {"verdicts": [{"rule_type": "...", "rule_description": "...", "compliant": true, "severity": "...", "reason": "...", "timestamp": null}]}
Emit exactly one verdict per rule, in the order the rules are listed.`

const speechMaxTokens = 1500

// Evaluator judges speech-type rules against the accumulated transcript.
// Runs separately from the visual evaluator; the reconciler merges the two
// verdict sets.
type Evaluator struct {
	client *aiclient.Client
}

func NewEvaluator(client *aiclient.Client) *Evaluator {
	return &Evaluator{client: client}
}

// Evaluate returns one verdict per speech rule. An empty transcript (and no
// accumulated history) marks every rule non-compliant: silence cannot satisfy
// a rule that requires something to be said. Parse failures likewise fail all
// rules rather than silently passing them.
func (e *Evaluator) Evaluate(ctx context.Context, transcript *schema.TranscriptResult, speechRules []schema.PolicyRule, customPrompt, accumulatedTranscript string) ([]schema.Verdict, error) {
	if len(speechRules) == 0 {
		return nil, nil
	}

	currentText := ""
	if transcript != nil {
		currentText = transcript.FullText
	}
	fullText := strings.TrimSpace(strings.TrimSpace(accumulatedTranscript) + " " + currentText)
	if fullText == "" {
		log.Printf("[WARN] Speech: no transcript available, marking %d speech rule(s) non-compliant", len(speechRules))
		return failAll(speechRules, "No audio transcript available. Cannot evaluate speech compliance."), nil
	}

	raw, err := e.client.Chat(ctx, []aiclient.Message{
		aiclient.SystemMessage(speechSystemPrompt),
		aiclient.UserMessage(aiclient.TextPart(buildSpeechPrompt(transcript, speechRules, customPrompt, accumulatedTranscript))),
	}, aiclient.ChatOptions{
		MaxTokens:   speechMaxTokens,
		Temperature: lowTemperature(),
		JSONMode:    true,
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Verdicts []struct {
			RuleType        string   `json:"rule_type"`
			RuleDescription string   `json:"rule_description"`
			Compliant       bool     `json:"compliant"`
			Severity        string   `json:"severity"`
			Reason          string   `json:"reason"`
			Timestamp       *float64 `json:"timestamp"`
		} `json:"verdicts"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		log.Printf("[ERROR] Speech: verdict parse failed: %v", err)
		return failAll(speechRules, "Failed to parse speech evaluation from model output."), nil
	}

	// Carry mode from the matching rule so checklist speech rules reconcile
	// like their visual counterparts.
	ruleByDesc := make(map[string]schema.PolicyRule, len(speechRules))
	for _, r := range speechRules {
		ruleByDesc[r.Description] = r
	}

	var verdicts []schema.Verdict
	for _, v := range payload.Verdicts {
		mode := schema.ModeIncident
		if rule, ok := ruleByDesc[v.RuleDescription]; ok {
			mode = rule.Mode
		}
		verdict := schema.Verdict{
			RuleType:        v.RuleType,
			RuleDescription: v.RuleDescription,
			Compliant:       v.Compliant,
			Severity:        v.Severity,
			Reason:          v.Reason,
			Timestamp:       v.Timestamp,
			Mode:            mode,
		}
		if verdict.RuleType == "" {
			verdict.RuleType = schema.RuleSpeech
		}
		if verdict.Severity == "" {
			verdict.Severity = schema.SeverityMedium
		}
		if mode == schema.ModeChecklist && v.Compliant {
			verdict.ChecklistStatus = schema.ChecklistCompliant
		}
		verdicts = append(verdicts, verdict)
	}
	return verdicts, nil
}

func buildSpeechPrompt(transcript *schema.TranscriptResult, rules []schema.PolicyRule, customPrompt, accumulated string) string {
	var b strings.Builder

	b.WriteString("SPEECH COMPLIANCE RULES:")
	for i, r := range rules {
		fmt.Fprintf(&b, "\n  %d. [%s] %s", i+1, strings.ToUpper(r.Severity), r.Description)
	}
	if customPrompt != "" {
		fmt.Fprintf(&b, "\n\nADDITIONAL CONTEXT: %s", customPrompt)
	}

	b.WriteString("\n\nFULL ACCUMULATED TRANSCRIPT (across all monitoring chunks):")
	if accumulated != "" {
		fmt.Fprintf(&b, "\n  [Prior chunks] %s", accumulated)
	}
	switch {
	case transcript != nil && len(transcript.Segments) > 0:
		b.WriteString("\n  [Current chunk]:")
		for _, seg := range transcript.Segments {
			fmt.Fprintf(&b, "\n    [%.1fs - %.1fs] %s", seg.Start, seg.End, strings.TrimSpace(seg.Text))
		}
	case transcript != nil && transcript.FullText != "":
		fmt.Fprintf(&b, "\n  [Current chunk] %s", transcript.FullText)
	}

	b.WriteString("\n\nEvaluate each speech rule against the FULL ACCUMULATED transcript (all chunks combined). " +
		"Be precise, count exact phrase occurrences across the entire session, quote relevant segments.")
	return b.String()
}

func failAll(rules []schema.PolicyRule, reason string) []schema.Verdict {
	out := make([]schema.Verdict, 0, len(rules))
	for _, r := range rules {
		out = append(out, schema.Verdict{
			RuleType:        schema.RuleSpeech,
			RuleDescription: r.Description,
			Compliant:       false,
			Severity:        r.Severity,
			Reason:          reason,
			Mode:            r.Mode,
		})
	}
	return out
}

func lowTemperature() *float64 {
	t := 0.1
	return &t
}
