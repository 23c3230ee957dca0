// Package checklist tracks which checklist-mode rules each subject has
// already satisfied, and for how long. It is what stops a live stream from
// demanding "show your badge" on every chunk after the badge was shown once.
package checklist

import (
	"time"

	"github.com/technosupport/ts-comply/internal/schema"
)

// RuleState is the cached verification state of one (person, rule) pair.
type RuleState struct {
	RuleID       string     `json:"rule_id"`
	PersonID     string     `json:"person_id"`
	Status       string     `json:"status"` // pending, compliant, expired
	LastVerified *time.Time `json:"last_verified"`
	ExpiresAt    *time.Time `json:"expires_at"`
}

// Item is one row of a person's checklist view.
type Item struct {
	Rule          schema.PolicyRule `json:"rule"`
	Status        string            `json:"status"`
	LastVerified  *time.Time        `json:"last_verified,omitempty"`
	ExpiresAt     *time.Time        `json:"expires_at,omitempty"`
	TimeRemaining *int              `json:"time_remaining,omitempty"` // seconds
}

// States is the full persisted shape: person_id -> rule_hash -> state.
type States map[string]map[string]RuleState

// clone deep-copies the state map for persistence outside the lock.
func (s States) clone() States {
	out := make(States, len(s))
	for person, rules := range s {
		m := make(map[string]RuleState, len(rules))
		for hash, st := range rules {
			m[hash] = st
		}
		out[person] = m
	}
	return out
}
