package vlm

import (
	"fmt"
	"strings"

	"github.com/technosupport/ts-comply/internal/schema"
)

const observerSystemPrompt = `You are a visual surveillance analyst for a compliance monitoring system.

For each image provided, describe what you see concisely and factually. Focus on:
- People: count, location in frame, clothing, badges or ID visible (color, type), PPE (helmets, vests, gloves, goggles), posture, actions
- Objects: bags, equipment, vehicles, signage, barriers, doors (open/closed)
- Environment: indoor/outdoor, lighting, area type, visible hazards
- Actions/Events: what is happening, movement, interactions between people

Be specific and factual. Do not speculate beyond what is visible. If something is unclear or partially obscured, say so.

Assign every visible person a stable id like "Person_A" based on appearance and reuse it across frames.

Output a JSON array with one object per image, in the same order as the images. Each object has:
- "timestamp": the timestamp value provided for that image
- "description": your detailed observation (string)
- "people": optional array of {"person_id", "appearance", "details"}

Example for 2 images:
[
  {"timestamp": 0.0, "description": "Indoor office. 2 people visible. Person_A standing near door wearing a blue lanyard with green badge. Person_B seated, no badge visible.", "people": [{"person_id": "Person_A", "appearance": "blue lanyard, grey shirt"}, {"person_id": "Person_B", "appearance": "black hoodie"}]},
  {"timestamp": 5.0, "description": "Person_A has left the frame. A third person entering from the left wearing a yellow hard hat and orange vest."}
]`

const evaluatorSystemPrompt = `You are an expert compliance evaluator for a video surveillance monitoring system.

You will receive:
1. Visual observations from video frames (with timestamps)
2. A compliance policy with specific rules, each tagged [INCIDENT] or [CHECKLIST]
3. Optionally, an audio transcript with timestamps
4. Optionally, context carried over from earlier parts of the same stream

Your job:
- Evaluate EACH policy rule against ALL observations and the transcript
- [INCIDENT] rules must hold in every observation; any violation is non-compliant
- [CHECKLIST] rules are satisfied by a single clear positive observation of the subject
- Cite specific timestamps and observations in your reasoning
- Generate an executive summary and actionable recommendations

If the evidence is ambiguous, say so but still make a call. If there is no activity relevant to a rule, mark it compliant and note that nothing relevant was observed.

Severity levels: "low", "medium", "high", "critical".

Respond with a single JSON object:
{
  "summary": "2-3 sentence executive summary",
  "overall_compliant": true,
  "verdicts": [
    {"rule_type": "...", "rule_description": "...", "compliant": true, "severity": "high", "reason": "...", "timestamp": null}
  ],
  "recommendations": ["..."]
}
"timestamp" is the seconds offset of the first observed violation, or null when compliant. Emit exactly one verdict per policy rule, in the order the rules are listed.`

// buildPolicyContext formats the rules into the attention block prepended to
// observer calls.
func buildPolicyContext(p schema.Policy) string {
	if len(p.Rules) == 0 && p.CustomPrompt == "" && len(p.ReferenceImages) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Pay special attention to the following compliance requirements:")
	for _, r := range p.Rules {
		fmt.Fprintf(&b, "\n- [%s] %s", strings.ToUpper(r.Severity), r.Description)
	}
	if p.CustomPrompt != "" {
		fmt.Fprintf(&b, "\n\nAdditional context: %s", p.CustomPrompt)
	}
	return b.String()
}

// buildReferenceContext emits per-reference instructions: what each exemplar
// is, whether a match is authorized or forbidden, and the explicit checks the
// model must answer.
func buildReferenceContext(refs []schema.ReferenceImage) string {
	if len(refs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\nVISUAL REFERENCE IMAGES are provided before the surveillance frames.\n")
	b.WriteString("For EACH reference image, answer the specific checks listed below.\n")

	for i, ref := range refs {
		mode := "AUTHORIZED"
		if ref.MatchMode == schema.MatchMustNot {
			mode = "UNAUTHORIZED"
		}
		category := strings.ToUpper(ref.Category)
		if category == "" {
			category = "REFERENCE"
		}
		fmt.Fprintf(&b, "\n  REFERENCE %d [%s] [%s]: %q\n", i+1, category, mode, ref.Label)

		checks := nonEmpty(ref.Checks)
		if len(checks) > 0 {
			b.WriteString("    Checks for this reference:\n")
			for ci, check := range checks {
				fmt.Fprintf(&b, "      %d. %s\n", ci+1, check)
			}
		} else if ref.MatchMode == schema.MatchMustNot {
			fmt.Fprintf(&b, "    Check: Is this %s present? It should NOT be.\n", orItem(ref.Category))
		} else {
			fmt.Fprintf(&b, "    Check: Is this %s present/visible in the frame?\n", orItem(ref.Category))
		}
	}

	b.WriteString("\nFor each reference, answer each check explicitly in your observation. " +
		"Be conclusive, state YES or NO for each check, then explain. " +
		"For people: compare facial features, hair, clothing, build. " +
		"For badges: compare color, shape, logo, text. " +
		"For objects: compare shape, size, color, markings.")
	return b.String()
}

// formatObservations renders observations for the evaluator, one line per
// frame with the timestamp marker and non-default triggers tagged.
func formatObservations(observations []schema.FrameObservation) string {
	lines := make([]string, 0, len(observations))
	for _, obs := range observations {
		tag := ""
		if obs.Trigger != "" && obs.Trigger != schema.TriggerChange {
			tag = fmt.Sprintf("[%s] ", obs.Trigger)
		}
		lines = append(lines, fmt.Sprintf("[t=%.1fs] %s%s", obs.Timestamp, tag, obs.Description))
	}
	return strings.Join(lines, "\n")
}

// formatPolicy renders the rules for the evaluator with their mode tags.
func formatPolicy(p schema.Policy) string {
	var b strings.Builder
	b.WriteString("COMPLIANCE POLICY RULES:")
	for i, r := range p.Rules {
		mode := "INCIDENT"
		if r.Mode == schema.ModeChecklist {
			mode = "CHECKLIST"
		}
		fmt.Fprintf(&b, "\n  %d. [%s] [%s] (%s) %s", i+1, strings.ToUpper(r.Severity), mode, r.Type, r.Description)
	}
	if p.CustomPrompt != "" {
		fmt.Fprintf(&b, "\n\nADDITIONAL POLICY CONTEXT: %s", p.CustomPrompt)
	}
	return b.String()
}

// formatTranscript renders the timestamped transcript block, or "" when there
// is no usable speech.
func formatTranscript(tr *schema.TranscriptResult) string {
	if tr == nil || tr.FullText == "" {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "AUDIO TRANSCRIPT (language: %s, duration: %.1fs):", tr.Language, tr.Duration)
	if len(tr.Segments) > 0 {
		for _, seg := range tr.Segments {
			fmt.Fprintf(&b, "\n  [%.1fs - %.1fs] %s", seg.Start, seg.End, strings.TrimSpace(seg.Text))
		}
	} else {
		fmt.Fprintf(&b, "\n  %s", tr.FullText)
	}
	return b.String()
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func orItem(category string) string {
	if category == "" {
		return "item"
	}
	return category
}
