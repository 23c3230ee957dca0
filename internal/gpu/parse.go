package gpu

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/technosupport/ts-comply/internal/schema"
)

func buildPrompt(policy schema.Policy) string {
	var b strings.Builder
	b.WriteString("You are a security camera AI compliance monitor.\n\nCOMPLIANCE RULES TO CHECK:\n")
	for i, r := range policy.Rules {
		fmt.Fprintf(&b, "  %d. [%s] (%s) %s\n", i+1, strings.ToUpper(r.Severity), r.Type, r.Description)
	}
	if policy.CustomPrompt != "" {
		fmt.Fprintf(&b, "\nADDITIONAL CONTEXT: %s\n", policy.CustomPrompt)
	}
	b.WriteString(`
JOB: Analyze the video and evaluate compliance against ALL rules above.

RESPOND IN THIS EXACT JSON FORMAT:
{
  "overall_status": "compliant" or "non_compliant",
  "summary": "Brief 1-2 sentence summary of findings",
  "people_count": <number>,
  "people": [
    {"person_id": "Person 1", "appearance": "brief appearance description", "compliant": true or false, "violations": ["violated rule descriptions"]}
  ],
  "violations": [
    {"subject": "Person 1 or object description", "rule": "Which rule was violated", "description": "Brief explanation"}
  ],
  "verdicts": [
    {"rule_description": "The rule text", "compliant": true or false, "severity": "low/medium/high/critical", "reason": "Why compliant or not"}
  ]
}

RULES:
- Evaluate EVERY rule listed above
- If no people are visible, return people_count: 0 and mark people-related rules as "no people visible"
- Return ONLY the JSON, no other text
`)
	return b.String()
}

// remotePayload is the compliance object the remote model emits.
type remotePayload struct {
	OverallStatus string `json:"overall_status"`
	Summary       string `json:"summary"`
	People        []struct {
		PersonID   string   `json:"person_id"`
		Appearance string   `json:"appearance"`
		Compliant  *bool    `json:"compliant"`
		Violations []string `json:"violations"`
	} `json:"people"`
	Violations []struct {
		Subject     string `json:"subject"`
		Rule        string `json:"rule"`
		Description string `json:"description"`
	} `json:"violations"`
	Verdicts []struct {
		RuleDescription string `json:"rule_description"`
		Rule            string `json:"rule"`
		Compliant       *bool  `json:"compliant"`
		Severity        string `json:"severity"`
		Reason          string `json:"reason"`
		Description     string `json:"description"`
	} `json:"verdicts"`
}

// parseResponse maps the proxy response to a Report. The body is either an
// OpenAI chat envelope whose message content holds the compliance JSON, or
// the compliance JSON directly.
func parseResponse(data map[string]json.RawMessage, policy schema.Policy, videoID string) schema.Report {
	if rawChoices, ok := data["choices"]; ok {
		var choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		}
		if json.Unmarshal(rawChoices, &choices) == nil && len(choices) > 0 {
			content := stripFences(choices[0].Message.Content)
			var inner map[string]json.RawMessage
			if err := json.Unmarshal([]byte(content), &inner); err != nil {
				log.Printf("[WARN] GPU: model output was not valid JSON, using raw text")
				report := degradedReport(videoID, truncate(content, 500))
				return report
			}
			data = inner
		}
	}

	var payload remotePayload
	full, _ := json.Marshal(data)
	_ = json.Unmarshal(full, &payload)

	status := strings.ToLower(payload.OverallStatus)
	report := schema.Report{
		VideoID:             videoID,
		OverallCompliant:    status == "compliant" || status == "clear" || status == "ok",
		Summary:             payload.Summary,
		AnalyzedAt:          time.Now().UTC(),
		TotalFramesAnalyzed: 1,
	}
	if report.Summary == "" {
		report.Summary = "GPU Status: " + strings.ToUpper(statusOrUnknown(status))
	}

	if len(payload.Verdicts) > 0 {
		for _, v := range payload.Verdicts {
			desc := v.RuleDescription
			if desc == "" {
				desc = v.Rule
			}
			reason := v.Reason
			if reason == "" {
				reason = v.Description
			}
			zero := 0.0
			verdict := schema.Verdict{
				RuleType:        "remote_gpu",
				RuleDescription: orDefault(desc, "Unknown rule"),
				Compliant:       v.Compliant == nil || *v.Compliant,
				Severity:        orDefault(v.Severity, schema.SeverityMedium),
				Reason:          reason,
				Timestamp:       &zero,
			}
			report.AllVerdicts = append(report.AllVerdicts, verdict)
			if !verdict.Compliant {
				report.Incidents = append(report.Incidents, verdict)
			}
		}
	} else {
		report.AllVerdicts, report.Incidents = verdictsFromViolations(payload, policy)
	}

	for _, p := range payload.People {
		report.PersonSummaries = append(report.PersonSummaries, schema.PersonSummary{
			PersonID:   orDefault(p.PersonID, "Unknown"),
			Appearance: p.Appearance,
			FramesSeen: 1,
			Compliant:  p.Compliant == nil || *p.Compliant,
			Violations: p.Violations,
		})
	}

	for i, v := range report.Incidents {
		if i >= 5 {
			break
		}
		report.Recommendations = append(report.Recommendations, "Address: "+v.Reason)
	}
	if len(report.Recommendations) == 0 {
		report.Recommendations = []string{"All rules compliant per GPU analysis."}
	}
	return report
}

// verdictsFromViolations reconstructs per-rule verdicts when the model only
// returned a violations list: each policy rule is fuzzy-matched against the
// violations, and unmatched violations become extra high-severity verdicts.
func verdictsFromViolations(payload remotePayload, policy schema.Policy) (all, incidents []schema.Verdict) {
	zero := 0.0
	matched := make([]bool, len(payload.Violations))

	for _, rule := range policy.Rules {
		var hit *int
		for vi, v := range payload.Violations {
			rl := strings.ToLower(rule.Description)
			vl := strings.ToLower(v.Rule)
			if vl != "" && (strings.Contains(vl, rl) || strings.Contains(rl, vl)) {
				hit = &vi
				break
			}
		}
		if hit != nil {
			v := payload.Violations[*hit]
			matched[*hit] = true
			verdict := schema.Verdict{
				RuleType:        rule.Type,
				RuleDescription: rule.Description,
				Compliant:       false,
				Severity:        rule.Severity,
				Reason:          fmt.Sprintf("%s: %s", orDefault(v.Subject, "Unknown"), v.Description),
				Timestamp:       &zero,
			}
			all = append(all, verdict)
			incidents = append(incidents, verdict)
		} else {
			all = append(all, schema.Verdict{
				RuleType:        rule.Type,
				RuleDescription: rule.Description,
				Compliant:       true,
				Severity:        rule.Severity,
				Reason:          "No violation detected by GPU analysis.",
			})
		}
	}

	for vi, v := range payload.Violations {
		if matched[vi] {
			continue
		}
		verdict := schema.Verdict{
			RuleType:        "remote_gpu",
			RuleDescription: orDefault(v.Rule, "GPU Detected Violation"),
			Compliant:       false,
			Severity:        schema.SeverityHigh,
			Reason:          fmt.Sprintf("%s: %s", orDefault(v.Subject, "Unknown"), v.Description),
			Timestamp:       &zero,
		}
		all = append(all, verdict)
		incidents = append(incidents, verdict)
	}
	return all, incidents
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) < 2 {
		return s
	}
	lines = lines[1:]
	if strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func statusOrUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
