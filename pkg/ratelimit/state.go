// Package ratelimit tracks the upstream request budget advertised by the
// catalog API and gates requests when it runs low. The budget is stored in
// Redis so every loader process pointed at the same upstream shares it.
package ratelimit

import (
	"time"
)

// Redis keys for budget state storage.
const (
	RedisKeyRemaining      = "dex:rate_limit:remaining"
	RedisKeyResetTimestamp = "dex:rate_limit:reset_timestamp"
	RedisKeyLastUpdate     = "dex:rate_limit:last_update"
)

// Response headers carrying the budget.
const (
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

// Thresholds for gating decisions.
const (
	// ThresholdCritical blocks requests when fewer requests than this remain.
	ThresholdCritical = 5

	// ThresholdWarning throttles requests when fewer requests than this remain.
	ThresholdWarning = 20

	// ThresholdHealthy marks the budget as healthy at or above this value.
	ThresholdHealthy = 50
)

// defaultRemaining is assumed until the upstream reports a real value.
const defaultRemaining = 100

// BudgetState is the last known upstream request budget.
type BudgetState struct {
	// Remaining is the number of requests left in the current window.
	Remaining int `json:"remaining"`

	// ResetAt is when the window resets.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when the state was last written.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when Remaining >= ThresholdHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// IsStale returns true if the state is older than maxAge.
func (s *BudgetState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock returns true if requests must be blocked.
func (s *BudgetState) NeedsCriticalBlock() bool {
	return s.Remaining < ThresholdCritical && !s.windowElapsed()
}

// NeedsThrottling returns true if requests should be slowed down.
func (s *BudgetState) NeedsThrottling() bool {
	return s.Remaining < ThresholdWarning && !s.NeedsCriticalBlock() && !s.windowElapsed()
}

// TimeUntilReset returns the duration until the window resets, or 0.
func (s *BudgetState) TimeUntilReset() time.Duration {
	d := time.Until(s.ResetAt)
	if d < 0 {
		return 0
	}
	return d
}

// UpdateHealth recomputes IsHealthy.
func (s *BudgetState) UpdateHealth() {
	s.IsHealthy = s.Remaining >= ThresholdHealthy
}

// windowElapsed is true once the reset time has passed; the budget is then
// assumed to be replenished even if no fresh headers were seen.
func (s *BudgetState) windowElapsed() bool {
	return !s.ResetAt.IsZero() && time.Now().After(s.ResetAt)
}
