// Package ratelimit tracks per-source rate limit state for the structured
// price APIs and storefronts. A source that answers 429, or reports an
// exhausted quota in its X-RateLimit-* headers, is cooled off until its reset
// time so further lookups skip it instead of burning quota.
//
// State lives in a Store: in process memory for a single engine, or in Redis
// so replicas share what they have learned.
package ratelimit

import (
	"time"
)

// Redis key prefix for rate limit state.
const RedisKeyPrefix = "price:rate_limit:"

// Thresholds for rate limit decisions.
const (
	// RemainingCritical blocks requests when the reported remaining quota is
	// at or below this value.
	RemainingCritical = 0

	// RemainingWarning logs a warning when the remaining quota falls to or
	// below this value.
	RemainingWarning = 5

	// DefaultCooloff is used when a 429 carries no usable Retry-After.
	DefaultCooloff = 60 * time.Second
)

// State is the last known rate limit state of one source.
type State struct {
	// Source is the provider or platform the state belongs to.
	Source string `json:"source"`

	// Remaining is the quota left in the current window, or -1 if unknown.
	Remaining int `json:"remaining"`

	// ResetAt is when the window resets or the cool-off ends.
	ResetAt time.Time `json:"reset_at"`

	// Blocked is set after a 429 until ResetAt.
	Blocked bool `json:"blocked"`

	// LastUpdate is when the state was recorded.
	LastUpdate time.Time `json:"last_update"`
}

// unknownState is the state of a source nothing has been learned about.
func unknownState(source string) *State {
	return &State{Source: source, Remaining: -1}
}

// Exhausted reports whether requests should be skipped at now.
func (s *State) Exhausted(now time.Time) bool {
	if !now.Before(s.ResetAt) {
		return false
	}
	return s.Blocked || (s.Remaining >= 0 && s.Remaining <= RemainingCritical)
}

// Low reports whether the remaining quota is in the warning band.
func (s *State) Low() bool {
	return s.Remaining > RemainingCritical && s.Remaining <= RemainingWarning
}

// TimeUntilReset returns the wait until the window resets, or 0 if it has.
func (s *State) TimeUntilReset(now time.Time) time.Duration {
	d := s.ResetAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
