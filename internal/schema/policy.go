package schema

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Rule categories. "speech" rules are evaluated against the audio transcript,
// everything else against visual observations.
const (
	RuleBadge       = "badge"
	RulePPE         = "ppe"
	RulePresence    = "presence"
	RuleAction      = "action"
	RuleEnvironment = "environment"
	RuleSpeech      = "speech"
	RuleCustom      = "custom"
)

// Severity levels.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Rule modes.
// Incident: the rule must hold at every observation; every violation surfaces.
// Checklist: one successful observation per subject satisfies the rule for
// ValidityDuration seconds.
const (
	ModeIncident  = "incident"
	ModeChecklist = "checklist"
)

// Frequency values. These are carried to the evaluator prompt verbatim; code
// paths branch on Mode only.
const (
	FreqAlways      = "always"
	FreqAtLeastOnce = "at_least_once"
	FreqAtLeastN    = "at_least_n"
)

// Reference image match modes and categories.
const (
	MatchMust    = "must_match"
	MatchMustNot = "must_not_match"

	CategoryPeople  = "people"
	CategoryBadges  = "badges"
	CategoryObjects = "objects"
)

var (
	ErrEmptyPolicy       = errors.New("policy must have at least one rule or a custom prompt")
	ErrRuleHashCollision = errors.New("two rules in the policy hash to the same id")
)

// PolicyRule is a single compliance requirement.
type PolicyRule struct {
	Type             string `json:"type"`
	Description      string `json:"description"`
	Severity         string `json:"severity"`
	Mode             string `json:"mode"`
	ValidityDuration *int   `json:"validity_duration,omitempty"` // seconds; nil = forever
	RecheckPrompt    string `json:"recheck_prompt,omitempty"`
	Frequency        string `json:"frequency,omitempty"`
	FrequencyCount   int    `json:"frequency_count,omitempty"`
}

// Hash returns the 8-hex-char rule identity used by the checklist tracker.
// MD5 here is an identity key, not a security boundary.
func (r PolicyRule) Hash() string {
	sum := md5.Sum([]byte(r.Description))
	return hex.EncodeToString(sum[:])[:8]
}

// Normalize fills defaults the way the API always has: severity high,
// incident mode, frequency always.
func (r *PolicyRule) Normalize() {
	if r.Severity == "" {
		r.Severity = SeverityHigh
	}
	if r.Mode == "" {
		r.Mode = ModeIncident
	}
	if r.Frequency == "" {
		r.Frequency = FreqAlways
	}
	if r.Mode == ModeChecklist {
		// Checklist semantics are at-least-once regardless of the
		// frequency field on the wire.
		r.Frequency = FreqAtLeastOnce
	}
}

// ReferenceImage is a labeled exemplar sent alongside frames.
type ReferenceImage struct {
	ID          string   `json:"id,omitempty"`
	Label       string   `json:"label"`
	ImageBase64 string   `json:"image_base64"`
	MatchMode   string   `json:"match_mode"`
	Category    string   `json:"category"`
	Checks      []string `json:"checks,omitempty"`
}

// MimeType sniffs PNG vs JPEG from the base64 payload. PNG base64 always
// starts with "iVBO" (the encoded \x89PNG header).
func (ri ReferenceImage) MimeType() string {
	if strings.HasPrefix(ri.ImageBase64, "iVBO") {
		return "image/png"
	}
	return "image/jpeg"
}

// Policy is the user-supplied compliance policy.
type Policy struct {
	Rules                 []PolicyRule     `json:"rules"`
	CustomPrompt          string           `json:"custom_prompt,omitempty"`
	IncludeAudio          bool             `json:"include_audio,omitempty"`
	ReferenceImages       []ReferenceImage `json:"reference_images,omitempty"`
	EnabledReferenceIDs   []string         `json:"enabled_reference_ids,omitempty"`
	PriorContext          string           `json:"prior_context,omitempty"`
	AccumulatedTranscript string           `json:"accumulated_transcript,omitempty"`
}

// Validate normalizes rules and rejects policies the pipeline cannot act on.
func (p *Policy) Validate() error {
	if len(p.Rules) == 0 && strings.TrimSpace(p.CustomPrompt) == "" {
		return ErrEmptyPolicy
	}
	seen := map[string]string{}
	for i := range p.Rules {
		r := &p.Rules[i]
		r.Normalize()
		if r.Description == "" {
			return fmt.Errorf("rule %d: empty description", i)
		}
		if r.Frequency == FreqAtLeastN && r.FrequencyCount < 1 {
			return fmt.Errorf("rule %d: frequency=at_least_n requires frequency_count >= 1", i)
		}
		h := r.Hash()
		if prev, ok := seen[h]; ok && prev != r.Description {
			return fmt.Errorf("%w: %q and %q", ErrRuleHashCollision, prev, r.Description)
		}
		seen[h] = r.Description
	}
	return nil
}

// VisualRules returns all non-speech rules.
func (p *Policy) VisualRules() []PolicyRule {
	var out []PolicyRule
	for _, r := range p.Rules {
		if r.Type != RuleSpeech {
			out = append(out, r)
		}
	}
	return out
}

// SpeechRules returns the speech-type rules.
func (p *Policy) SpeechRules() []PolicyRule {
	var out []PolicyRule
	for _, r := range p.Rules {
		if r.Type == RuleSpeech {
			out = append(out, r)
		}
	}
	return out
}

// EnabledReferences returns only the references whose id is enabled.
// Empty enabled list means no references are checked.
func (p *Policy) EnabledReferences() []ReferenceImage {
	if len(p.EnabledReferenceIDs) == 0 {
		return nil
	}
	enabled := map[string]bool{}
	for _, id := range p.EnabledReferenceIDs {
		enabled[id] = true
	}
	var out []ReferenceImage
	for _, ri := range p.ReferenceImages {
		if ri.ID != "" && enabled[ri.ID] {
			out = append(out, ri)
		}
	}
	return out
}

// Effective returns a copy of the policy whose ReferenceImages are reduced to
// the enabled set. The copy shares rule slices; callers treat it read-only.
func (p *Policy) Effective() Policy {
	eff := *p
	eff.ReferenceImages = p.EnabledReferences()
	return eff
}
