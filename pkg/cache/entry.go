package cache

import (
	"fmt"
	"time"

	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/quote"
)

// State classifies an entry by age.
type State int

const (
	Fresh State = iota
	Stale
	Expired
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	case Expired:
		return "expired"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Entry is one cached comparison set.
type Entry struct {
	// Set is the comparison set as it was written.
	Set quote.ComparisonSet `json:"set"`

	// ObservedAt is when the entry was written.
	ObservedAt time.Time `json:"observed_at"`
}

// Age returns how long ago the entry was written. Entries from the future
// (clock skew between replicas) have age 0.
func (e Entry) Age(now time.Time) time.Duration {
	age := now.Sub(e.ObservedAt)
	if age < 0 {
		return 0
	}
	return age
}

// State classifies the entry at now.
func (e Entry) State(now time.Time, cfg Config) State {
	age := e.Age(now)
	switch {
	case age <= cfg.FreshTTL:
		return Fresh
	case age <= cfg.StaleTTL:
		return Stale
	default:
		return Expired
	}
}

// validate reports entries that cannot have been written by Put.
func (e Entry) validate(key string) error {
	if e.ObservedAt.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidEntry)
	}
	if e.Set.ItemKey != "" && e.Set.ItemKey != key {
		return fmt.Errorf("%w: stored under %q but keyed %q", ErrInvalidEntry, key, e.Set.ItemKey)
	}
	return nil
}
