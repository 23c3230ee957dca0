package report

import (
	"fmt"
	"log"

	"github.com/technosupport/ts-comply/internal/schema"
)

// MergeSpeech folds audio verdicts into a visual report. Speech violations
// always fail the report overall, even in checklist mode the transcript is
// chunk-local and never cached.
func MergeSpeech(rep *schema.Report, speech []schema.Verdict) {
	if len(speech) == 0 {
		return
	}
	rep.AllVerdicts = append(rep.AllVerdicts, speech...)

	violations := 0
	for _, v := range speech {
		if !v.Compliant {
			violations++
		}
	}
	if violations > 0 {
		rep.OverallCompliant = false
		rep.Summary += fmt.Sprintf(" Speech: %d audio violation(s).", violations)
		log.Printf("[WARN] Report %s: %d speech violation(s)", rep.VideoID, violations)
	}
	Finalize(rep)
}

// Finalize recomputes the aggregate fields from all_verdicts. It is
// idempotent and safe to call after any mutation, in any order, so late
// merges cannot leave the report internally inconsistent.
func Finalize(rep *schema.Report) {
	incidents := []schema.Verdict{}
	overall := true
	var checklistAll *bool

	for i := range rep.AllVerdicts {
		v := &rep.AllVerdicts[i]
		if v.Mode == "" {
			v.Mode = schema.ModeIncident
		}
		switch v.Mode {
		case schema.ModeChecklist:
			ok := v.Compliant
			if checklistAll == nil {
				checklistAll = &ok
			} else {
				all := *checklistAll && ok
				checklistAll = &all
			}
		default:
			if !v.Compliant {
				overall = false
				incidents = append(incidents, *v)
			}
		}
	}

	// A speech merge may already have failed the report; never flip it back.
	rep.OverallCompliant = overall && !speechFailed(rep)
	rep.Incidents = incidents
	rep.ChecklistFulfilled = checklistAll
}

// speechFailed reports whether any speech-type verdict is non-compliant,
// regardless of mode. Checklist-mode speech violations do not appear in
// incidents but still fail the report.
func speechFailed(rep *schema.Report) bool {
	for _, v := range rep.AllVerdicts {
		if v.RuleType == schema.RuleSpeech && !v.Compliant {
			return true
		}
	}
	return false
}
