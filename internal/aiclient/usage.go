package aiclient

import (
	"sync"
	"time"
)

// UsageTracker accumulates call counts, token totals and estimated spend
// across all AI providers for the process lifetime, plus a per-minute call
// histogram over the last five minutes for the usage endpoint.
type UsageTracker struct {
	mu               sync.Mutex
	totalCalls       int
	promptTokens     int64
	completionTokens int64
	audioSeconds     float64
	totalCost        float64
	byModel          map[string]int
	recent           []minuteBucket

	now func() time.Time // test hook
}

type minuteBucket struct {
	minute time.Time
	calls  int
}

// UsageSnapshot is the read model served by the usage endpoint.
type UsageSnapshot struct {
	TotalCalls       int            `json:"total_calls"`
	PromptTokens     int64          `json:"prompt_tokens"`
	CompletionTokens int64          `json:"completion_tokens"`
	AudioSeconds     float64        `json:"audio_seconds"`
	EstimatedCostUSD float64        `json:"estimated_cost_usd"`
	CallsByModel     map[string]int `json:"calls_by_model"`
	CallsLast5Min    int            `json:"calls_last_5_min"`
}

func NewUsageTracker() *UsageTracker {
	return &UsageTracker{byModel: make(map[string]int), now: time.Now}
}

// RecordChat accounts one chat completion call.
func (u *UsageTracker) RecordChat(model string, promptTokens, completionTokens int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.totalCalls++
	u.promptTokens += int64(promptTokens)
	u.completionTokens += int64(completionTokens)
	u.totalCost += costFor(model, promptTokens, completionTokens)
	u.byModel[model]++
	u.bumpRecent()
}

// RecordAudio accounts one transcription call.
func (u *UsageTracker) RecordAudio(model string, seconds float64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.totalCalls++
	u.audioSeconds += seconds
	u.totalCost += costForAudio(seconds)
	u.byModel[model]++
	u.bumpRecent()
}

// bumpRecent increments the current minute's bucket. Caller holds u.mu.
func (u *UsageTracker) bumpRecent() {
	minute := u.now().Truncate(time.Minute)
	if n := len(u.recent); n > 0 && u.recent[n-1].minute.Equal(minute) {
		u.recent[n-1].calls++
	} else {
		u.recent = append(u.recent, minuteBucket{minute: minute, calls: 1})
	}
	cutoff := minute.Add(-5 * time.Minute)
	for len(u.recent) > 0 && u.recent[0].minute.Before(cutoff) {
		u.recent = u.recent[1:]
	}
}

// Snapshot returns a copy of the counters.
func (u *UsageTracker) Snapshot() UsageSnapshot {
	u.mu.Lock()
	defer u.mu.Unlock()

	byModel := make(map[string]int, len(u.byModel))
	for k, v := range u.byModel {
		byModel[k] = v
	}

	cutoff := u.now().Truncate(time.Minute).Add(-5 * time.Minute)
	recent := 0
	for _, b := range u.recent {
		if !b.minute.Before(cutoff) {
			recent += b.calls
		}
	}

	return UsageSnapshot{
		TotalCalls:       u.totalCalls,
		PromptTokens:     u.promptTokens,
		CompletionTokens: u.completionTokens,
		AudioSeconds:     u.audioSeconds,
		EstimatedCostUSD: u.totalCost,
		CallsByModel:     byModel,
		CallsLast5Min:    recent,
	}
}

// Reset zeroes all counters.
func (u *UsageTracker) Reset() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.totalCalls = 0
	u.promptTokens = 0
	u.completionTokens = 0
	u.audioSeconds = 0
	u.totalCost = 0
	u.byModel = make(map[string]int)
	u.recent = nil
}
