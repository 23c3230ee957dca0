// Package report turns raw model verdicts into the final compliance report:
// checklist overrides, speech merging, incident filtering, and person
// thumbnail assignment.
package report

import (
	"log"
	"sort"

	"github.com/technosupport/ts-comply/internal/checklist"
	"github.com/technosupport/ts-comply/internal/schema"
)

const stillValidReason = "Previously verified (still valid)"

// Reconciler applies dual-mode rule semantics to a report. Incident rules
// pass through untouched; checklist rules consult and update the tracker so
// a rule satisfied once is not re-raised while its validity window holds.
type Reconciler struct {
	tracker *checklist.Tracker
}

func NewReconciler(tracker *checklist.Tracker) *Reconciler {
	return &Reconciler{tracker: tracker}
}

// Reconcile rewrites the report's verdicts in place against checklist state,
// then recomputes the aggregate fields. Verdicts are matched to policy rules
// by description; verdicts for rules not in the policy pass through with
// their mode normalized.
func (r *Reconciler) Reconcile(rep *schema.Report, policy *schema.Policy) {
	observed := observedPersons(rep)
	byDesc := rulesByDescription(policy)

	overridden := 0
	for i := range rep.AllVerdicts {
		v := &rep.AllVerdicts[i]
		rule, ok := byDesc[v.RuleDescription]
		if !ok || rule.Mode != schema.ModeChecklist {
			if v.Mode == "" {
				v.Mode = schema.ModeIncident
			}
			continue
		}
		v.Mode = schema.ModeChecklist

		var cached *checklist.RuleState
		for _, pid := range observed {
			if ok, state := r.tracker.Check(pid, rule); ok {
				cached = state
				break
			}
		}
		switch {
		case cached != nil:
			v.Compliant = true
			v.Reason = stillValidReason
			v.ExpiresAt = cached.ExpiresAt
			overridden++
		case v.Compliant:
			for _, pid := range observed {
				if state := r.tracker.Update(pid, rule, true); state != nil {
					v.ExpiresAt = state.ExpiresAt
				}
			}
		}
		if v.Compliant {
			v.ChecklistStatus = schema.ChecklistCompliant
		} else {
			v.ChecklistStatus = ""
		}
	}
	if overridden > 0 {
		log.Printf("[INFO] Reconciler: %d checklist verdict(s) satisfied from prior verification", overridden)
	}

	Finalize(rep)
}

// observedPersons collects the person ids seen in this call's observations.
// With no person tracking the checklist falls back to a single shared
// subject.
func observedPersons(rep *schema.Report) []string {
	seen := map[string]bool{}
	for _, obs := range rep.FrameObservations {
		for _, p := range obs.People {
			if p.PersonID != "" {
				seen[p.PersonID] = true
			}
		}
	}
	if len(seen) == 0 {
		return []string{"unknown"}
	}
	out := make([]string, 0, len(seen))
	for pid := range seen {
		out = append(out, pid)
	}
	sort.Strings(out)
	return out
}

func rulesByDescription(policy *schema.Policy) map[string]schema.PolicyRule {
	m := make(map[string]schema.PolicyRule, len(policy.Rules))
	for _, rule := range policy.Rules {
		m[rule.Description] = rule
	}
	return m
}
