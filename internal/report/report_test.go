package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-comply/internal/checklist"
	"github.com/technosupport/ts-comply/internal/schema"
)

func sitePolicy(t *testing.T) *schema.Policy {
	t.Helper()
	validity := 300
	p := &schema.Policy{Rules: []schema.PolicyRule{
		{
			Type:        schema.RulePPE,
			Description: "Hard hat required",
			Severity:    schema.SeverityCritical,
			Mode:        schema.ModeIncident,
		},
		{
			Type:             schema.RuleBadge,
			Description:      "Must show ID badge",
			Severity:         schema.SeverityMedium,
			Mode:             schema.ModeChecklist,
			ValidityDuration: &validity,
		},
	}}
	require.NoError(t, p.Validate())
	return p
}

func baseReport() *schema.Report {
	return &schema.Report{
		VideoID:          "vid-1",
		Summary:          "Two rules evaluated.",
		OverallCompliant: true,
		AllVerdicts: []schema.Verdict{
			{RuleType: schema.RulePPE, RuleDescription: "Hard hat required", Compliant: true, Severity: schema.SeverityCritical},
			{RuleType: schema.RuleBadge, RuleDescription: "Must show ID badge", Compliant: false, Severity: schema.SeverityMedium, Reason: "No badge visible"},
		},
		FrameObservations: []schema.FrameObservation{
			{Timestamp: 0.0, Description: "Worker at bench", People: []schema.PersonDetail{{PersonID: "Person_A", Appearance: "blue jacket"}}},
			{Timestamp: 4.5, Description: "Worker holds up badge", People: []schema.PersonDetail{{PersonID: "Person_A", Appearance: "blue jacket"}}},
		},
	}
}

func TestReconcile_ChecklistViolationNeverAnIncident(t *testing.T) {
	rec := NewReconciler(checklist.NewTracker(checklist.NewMemStore()))
	rep := baseReport()

	rec.Reconcile(rep, sitePolicy(t))

	// The failed badge check does not surface as an incident.
	assert.Empty(t, rep.Incidents)
	assert.True(t, rep.OverallCompliant)
	require.NotNil(t, rep.ChecklistFulfilled)
	assert.False(t, *rep.ChecklistFulfilled)

	for _, v := range rep.AllVerdicts {
		switch v.RuleDescription {
		case "Hard hat required":
			assert.Equal(t, schema.ModeIncident, v.Mode)
		case "Must show ID badge":
			assert.Equal(t, schema.ModeChecklist, v.Mode)
			assert.Empty(t, v.ChecklistStatus)
		}
	}
}

func TestReconcile_CompliantChecklistCachesAndOverrides(t *testing.T) {
	tracker := checklist.NewTracker(checklist.NewMemStore())
	rec := NewReconciler(tracker)
	policy := sitePolicy(t)

	// First chunk: badge shown, verdict compliant.
	rep := baseReport()
	rep.AllVerdicts[1].Compliant = true
	rep.AllVerdicts[1].Reason = "Badge clearly visible"
	rec.Reconcile(rep, policy)

	badge := rep.AllVerdicts[1]
	assert.Equal(t, schema.ChecklistCompliant, badge.ChecklistStatus)
	require.NotNil(t, badge.ExpiresAt)
	require.NotNil(t, rep.ChecklistFulfilled)
	assert.True(t, *rep.ChecklistFulfilled)

	// Second chunk: badge not visible, but the prior verification holds.
	rep2 := baseReport()
	rec.Reconcile(rep2, policy)

	badge2 := rep2.AllVerdicts[1]
	assert.True(t, badge2.Compliant)
	assert.Equal(t, "Previously verified (still valid)", badge2.Reason)
	assert.Equal(t, schema.ChecklistCompliant, badge2.ChecklistStatus)
	require.NotNil(t, rep2.ChecklistFulfilled)
	assert.True(t, *rep2.ChecklistFulfilled)
}

func TestReconcile_DefaultsToUnknownSubject(t *testing.T) {
	tracker := checklist.NewTracker(checklist.NewMemStore())
	rec := NewReconciler(tracker)
	policy := sitePolicy(t)

	rep := baseReport()
	rep.FrameObservations = nil // no person tracking
	rep.AllVerdicts[1].Compliant = true
	rec.Reconcile(rep, policy)

	ok, _ := tracker.Check("unknown", policy.Rules[1])
	assert.True(t, ok)
}

func TestReconcile_IncidentRuleFailsOverall(t *testing.T) {
	rec := NewReconciler(checklist.NewTracker(checklist.NewMemStore()))
	rep := baseReport()
	ts := 17.2
	rep.AllVerdicts[0].Compliant = false
	rep.AllVerdicts[0].Reason = "No hard hat after 15s"
	rep.AllVerdicts[0].Timestamp = &ts

	rec.Reconcile(rep, sitePolicy(t))

	assert.False(t, rep.OverallCompliant)
	require.Len(t, rep.Incidents, 1)
	assert.Equal(t, "Hard hat required", rep.Incidents[0].RuleDescription)
	assert.Equal(t, schema.ModeIncident, rep.Incidents[0].Mode)
	assert.False(t, rep.Incidents[0].Compliant)
}

func TestFinalize_NoChecklistRulesMeansNullFulfilled(t *testing.T) {
	rep := &schema.Report{
		OverallCompliant: true,
		AllVerdicts: []schema.Verdict{
			{RuleDescription: "Hard hat required", Compliant: true, Mode: schema.ModeIncident},
		},
	}
	Finalize(rep)
	assert.Nil(t, rep.ChecklistFulfilled)
	assert.True(t, rep.OverallCompliant)
}

func TestFinalize_Idempotent(t *testing.T) {
	rep := baseReport()
	rep.AllVerdicts[0].Compliant = false
	rep.AllVerdicts[1].Mode = schema.ModeChecklist

	Finalize(rep)
	first := *rep
	Finalize(rep)
	assert.Equal(t, first.OverallCompliant, rep.OverallCompliant)
	assert.Equal(t, first.Incidents, rep.Incidents)
	assert.Equal(t, *first.ChecklistFulfilled, *rep.ChecklistFulfilled)
}

func TestMergeSpeech_ViolationFailsReport(t *testing.T) {
	rep := baseReport()
	rep.AllVerdicts = rep.AllVerdicts[:1] // visual rule only, compliant
	Finalize(rep)
	require.True(t, rep.OverallCompliant)

	MergeSpeech(rep, []schema.Verdict{
		{RuleType: schema.RuleSpeech, RuleDescription: "Greeting must be spoken", Compliant: false, Severity: schema.SeverityHigh, Mode: schema.ModeIncident, Reason: "No greeting heard"},
		{RuleType: schema.RuleSpeech, RuleDescription: "No profanity", Compliant: true, Severity: schema.SeverityMedium, Mode: schema.ModeIncident},
	})

	assert.False(t, rep.OverallCompliant)
	assert.Contains(t, rep.Summary, "Speech: 1 audio violation(s).")
	assert.Len(t, rep.AllVerdicts, 3)
	require.Len(t, rep.Incidents, 1)
	assert.Equal(t, "Greeting must be spoken", rep.Incidents[0].RuleDescription)
}

func TestMergeSpeech_ChecklistModeSpeechStillFailsOverall(t *testing.T) {
	rep := baseReport()
	rep.AllVerdicts = rep.AllVerdicts[:1]
	Finalize(rep)

	MergeSpeech(rep, []schema.Verdict{
		{RuleType: schema.RuleSpeech, RuleDescription: "Safety briefing must be recited", Compliant: false, Mode: schema.ModeChecklist},
	})

	// Not an incident, but the report is failed.
	assert.Empty(t, rep.Incidents)
	assert.False(t, rep.OverallCompliant)
}

func TestMergeSpeech_EmptyIsNoOp(t *testing.T) {
	rep := baseReport()
	Finalize(rep)
	before := rep.Summary
	MergeSpeech(rep, nil)
	assert.Equal(t, before, rep.Summary)
}

func TestAssignPersonThumbnails(t *testing.T) {
	rep := &schema.Report{
		FrameObservations: []schema.FrameObservation{
			{Timestamp: 0.0, ImageBase64: "frame0", People: []schema.PersonDetail{{PersonID: "Person_B"}}},
			{Timestamp: 2.0, ImageBase64: "frame2", People: []schema.PersonDetail{{PersonID: "Person_A"}}},
			{Timestamp: 8.0, ImageBase64: "frame8", People: []schema.PersonDetail{{PersonID: "Person_A"}}},
		},
		PersonSummaries: []schema.PersonSummary{
			{PersonID: "Person_A", FirstSeen: 2.0, LastSeen: 8.0, FramesSeen: 2},
			{PersonID: "Person_C", FirstSeen: 7.5, LastSeen: 7.5, FramesSeen: 1},
		},
	}

	AssignPersonThumbnails(rep)

	// Person_A: nearest frame that lists them.
	assert.Equal(t, "frame2", rep.PersonSummaries[0].ThumbnailBase64)
	// Person_C never matched: nearest frame with an image.
	assert.Equal(t, "frame8", rep.PersonSummaries[1].ThumbnailBase64)

	// Second application changes nothing.
	rep.FrameObservations[1].ImageBase64 = "mutated"
	AssignPersonThumbnails(rep)
	assert.Equal(t, "frame2", rep.PersonSummaries[0].ThumbnailBase64)
}

func TestReconcile_ExpiredVerificationReRaises(t *testing.T) {
	tracker := checklist.NewTracker(checklist.NewMemStore())
	rec := NewReconciler(tracker)
	policy := sitePolicy(t)

	rep := baseReport()
	rep.AllVerdicts[1].Compliant = true
	rec.Reconcile(rep, policy)

	// Age the cached verification past its window.
	exported := tracker.Export()
	for _, rules := range exported {
		for k, st := range rules {
			old := time.Now().UTC().Add(-time.Hour)
			st.ExpiresAt = &old
			rules[k] = st
		}
	}
	tracker.Reset()
	tracker.Import(exported)

	rep2 := baseReport()
	rec.Reconcile(rep2, policy)
	badge := rep2.AllVerdicts[1]
	assert.False(t, badge.Compliant)
	assert.NotEqual(t, "Previously verified (still valid)", badge.Reason)
}
