package checklist

import (
	"log"
	"sync"
	"time"

	"github.com/technosupport/ts-comply/internal/schema"
)

// Tracker is the process-wide checklist state. One mutex serializes all
// operations; persistence happens outside the lock so a slow disk or redis
// never stalls verdict reconciliation, and a failed save only costs
// durability, not correctness.
type Tracker struct {
	mu     sync.Mutex
	states States
	store  Store

	now func() time.Time // test hook
}

// NewTracker loads persisted state and drops anything already expired.
func NewTracker(store Store) *Tracker {
	t := &Tracker{store: store, now: time.Now}
	states, err := store.Load()
	if err != nil {
		log.Printf("[WARN] Checklist: failed to load state: %v", err)
		states = States{}
	}
	t.states = states
	if n := t.countRules(); n > 0 {
		log.Printf("[INFO] Checklist: loaded state for %d subject(s), %d rule state(s)", len(states), n)
	}
	t.ClearExpired()
	return t
}

func (t *Tracker) countRules() int {
	n := 0
	for _, rules := range t.states {
		n += len(rules)
	}
	return n
}

// Check reports whether person_id is currently verified for the rule.
// Incident-mode rules are never cached. Observing an expired entry mutates
// its status to expired and persists.
func (t *Tracker) Check(personID string, rule schema.PolicyRule) (bool, *RuleState) {
	if rule.Mode != schema.ModeChecklist {
		return false, nil
	}
	now := t.now().UTC()
	hash := rule.Hash()

	t.mu.Lock()
	rules, ok := t.states[personID]
	if !ok {
		t.mu.Unlock()
		return false, nil
	}
	state, ok := rules[hash]
	if !ok {
		t.mu.Unlock()
		return false, nil
	}

	if state.ExpiresAt != nil && now.After(*state.ExpiresAt) {
		state.Status = schema.ChecklistExpired
		rules[hash] = state
		snapshot := t.states.clone()
		t.mu.Unlock()
		log.Printf("[INFO] Checklist: verification expired for %s on rule %q", personID, truncate(rule.Description, 50))
		t.persist(snapshot)
		return false, &state
	}

	t.mu.Unlock()
	if state.Status == schema.ChecklistCompliant {
		return true, &state
	}
	return false, &state
}

// Update records a new observation for a checklist rule. A compliant
// observation starts (or restarts) the validity window; a non-compliant one
// resets the entry to pending.
func (t *Tracker) Update(personID string, rule schema.PolicyRule, compliant bool) *RuleState {
	if rule.Mode != schema.ModeChecklist {
		return nil
	}
	now := t.now().UTC()
	hash := rule.Hash()

	var state RuleState
	if compliant {
		state = RuleState{
			RuleID:       hash,
			PersonID:     personID,
			Status:       schema.ChecklistCompliant,
			LastVerified: &now,
		}
		if rule.ValidityDuration != nil {
			exp := now.Add(time.Duration(*rule.ValidityDuration) * time.Second)
			state.ExpiresAt = &exp
		}
		until := "forever"
		if state.ExpiresAt != nil {
			until = state.ExpiresAt.Format(time.RFC3339)
		}
		log.Printf("[INFO] Checklist: %s verified on rule %q (valid until %s)", personID, truncate(rule.Description, 50), until)
	} else {
		state = RuleState{
			RuleID:   hash,
			PersonID: personID,
			Status:   schema.ChecklistPending,
		}
	}

	t.mu.Lock()
	if t.states[personID] == nil {
		t.states[personID] = map[string]RuleState{}
	}
	t.states[personID][hash] = state
	snapshot := t.states.clone()
	t.mu.Unlock()

	t.persist(snapshot)
	return &state
}

// Checklist returns the per-rule status view for one subject. Only
// checklist-mode rules appear.
func (t *Tracker) Checklist(personID string, rules []schema.PolicyRule) []Item {
	now := t.now().UTC()
	var items []Item
	for _, rule := range rules {
		if rule.Mode != schema.ModeChecklist {
			continue
		}
		_, state := t.Check(personID, rule)

		item := Item{Rule: rule, Status: schema.ChecklistPending}
		if state != nil {
			item.Status = state.Status
			item.LastVerified = state.LastVerified
			item.ExpiresAt = state.ExpiresAt
			if state.Status == schema.ChecklistCompliant && state.ExpiresAt != nil {
				remaining := int(state.ExpiresAt.Sub(now).Seconds())
				if remaining < 0 {
					remaining = 0
				}
				item.TimeRemaining = &remaining
			}
		}
		items = append(items, item)
	}
	return items
}

// ClearExpired drops expired entries and empty subjects.
func (t *Tracker) ClearExpired() {
	now := t.now().UTC()

	t.mu.Lock()
	removed := 0
	for personID, rules := range t.states {
		for hash, state := range rules {
			if state.ExpiresAt != nil && now.After(*state.ExpiresAt) {
				delete(rules, hash)
				removed++
			}
		}
		if len(rules) == 0 {
			delete(t.states, personID)
		}
	}
	var snapshot States
	if removed > 0 {
		snapshot = t.states.clone()
	}
	t.mu.Unlock()

	if removed > 0 {
		log.Printf("[INFO] Checklist: cleaned %d expired state(s)", removed)
		t.persist(snapshot)
	}
}

// Export returns a deep copy of all states.
func (t *Tracker) Export() States {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states.clone()
}

// Import merges states in (session continuity across instances).
func (t *Tracker) Import(in States) {
	t.mu.Lock()
	for personID, rules := range in {
		if t.states[personID] == nil {
			t.states[personID] = map[string]RuleState{}
		}
		for hash, state := range rules {
			t.states[personID][hash] = state
		}
	}
	snapshot := t.states.clone()
	t.mu.Unlock()
	t.persist(snapshot)
}

// Reset clears everything.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.states = States{}
	t.mu.Unlock()
	t.persist(States{})
	log.Printf("[INFO] Checklist: state reset")
}

// persist saves a snapshot best-effort. Called without the lock held.
func (t *Tracker) persist(snapshot States) {
	if err := t.store.Save(snapshot); err != nil {
		log.Printf("[WARN] Checklist: failed to save state: %v", err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
