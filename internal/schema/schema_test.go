package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyValidate_EmptyPolicy(t *testing.T) {
	p := &Policy{}
	err := p.Validate()
	require.ErrorIs(t, err, ErrEmptyPolicy)

	// Custom prompt alone is enough.
	p = &Policy{CustomPrompt: "watch for forklifts"}
	require.NoError(t, p.Validate())
}

func TestPolicyValidate_Defaults(t *testing.T) {
	p := &Policy{Rules: []PolicyRule{{Type: RulePPE, Description: "Hard hat required"}}}
	require.NoError(t, p.Validate())

	r := p.Rules[0]
	assert.Equal(t, SeverityHigh, r.Severity)
	assert.Equal(t, ModeIncident, r.Mode)
	assert.Equal(t, FreqAlways, r.Frequency)
}

func TestPolicyValidate_ChecklistImpliesAtLeastOnce(t *testing.T) {
	p := &Policy{Rules: []PolicyRule{{
		Type:        RuleBadge,
		Description: "Must show ID badge",
		Mode:        ModeChecklist,
		Frequency:   FreqAlways,
	}}}
	require.NoError(t, p.Validate())
	assert.Equal(t, FreqAtLeastOnce, p.Rules[0].Frequency)
}

func TestPolicyValidate_AtLeastNRequiresCount(t *testing.T) {
	p := &Policy{Rules: []PolicyRule{{
		Type:        RuleSpeech,
		Description: "Say 'safety first' twice",
		Frequency:   FreqAtLeastN,
	}}}
	require.Error(t, p.Validate())

	p.Rules[0].FrequencyCount = 2
	require.NoError(t, p.Validate())
}

func TestRuleHash(t *testing.T) {
	r := PolicyRule{Description: "Must show ID badge"}
	h := r.Hash()
	assert.Len(t, h, 8)
	// Stable across calls and rule copies.
	assert.Equal(t, h, PolicyRule{Description: "Must show ID badge", Severity: SeverityLow}.Hash())
	assert.NotEqual(t, h, PolicyRule{Description: "Hard hat required"}.Hash())
}

func TestSplitRules(t *testing.T) {
	p := &Policy{Rules: []PolicyRule{
		{Type: RulePPE, Description: "Hard hat required"},
		{Type: RuleSpeech, Description: "Announce the drill"},
		{Type: RuleBadge, Description: "Badge visible"},
	}}
	require.NoError(t, p.Validate())

	assert.Len(t, p.VisualRules(), 2)
	assert.Len(t, p.SpeechRules(), 1)
	assert.Equal(t, "Announce the drill", p.SpeechRules()[0].Description)
}

func TestEnabledReferences(t *testing.T) {
	p := &Policy{
		ReferenceImages: []ReferenceImage{
			{ID: "a", Label: "badge design"},
			{ID: "b", Label: "authorized person"},
			{Label: "no id, never sent"},
		},
	}

	// Nothing enabled means nothing sent.
	assert.Empty(t, p.EnabledReferences())

	p.EnabledReferenceIDs = []string{"b"}
	refs := p.EnabledReferences()
	require.Len(t, refs, 1)
	assert.Equal(t, "authorized person", refs[0].Label)

	eff := p.Effective()
	assert.Len(t, eff.ReferenceImages, 1)
	// Original untouched.
	assert.Len(t, p.ReferenceImages, 3)
}

func TestReferenceImageMimeType(t *testing.T) {
	assert.Equal(t, "image/png", ReferenceImage{ImageBase64: "iVBORw0KGgo"}.MimeType())
	assert.Equal(t, "image/jpeg", ReferenceImage{ImageBase64: "/9j/4AAQSkZJRg"}.MimeType())
}
