package model

import (
	"fmt"
	"time"
)

// URLState is the lifecycle state of a discovered URL.
type URLState int

const (
	// StatePending means the URL is waiting to be fetched.
	// A pending record whose NextEligibleAt is in the future is in backoff.
	StatePending URLState = iota

	// StateInFlight means a worker has taken the URL and is fetching it.
	StateInFlight

	// StateVisited means the page was fetched and its links were discovered.
	StateVisited

	// StateFailedPermanent means the URL will never be fetched again.
	StateFailedPermanent
)

// String returns the lowercase name of the state.
func (s URLState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateInFlight:
		return "in_flight"
	case StateVisited:
		return "visited"
	case StateFailedPermanent:
		return "failed_permanent"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ParseURLState converts the output of URLState.String back to a state.
func ParseURLState(s string) (URLState, error) {
	switch s {
	case "pending":
		return StatePending, nil
	case "in_flight":
		return StateInFlight, nil
	case "visited":
		return StateVisited, nil
	case "failed_permanent":
		return StateFailedPermanent, nil
	default:
		return StatePending, fmt.Errorf("unknown url state %q", s)
	}
}

// IsTerminal reports whether no further transition is allowed from s.
func (s URLState) IsTerminal() bool {
	return s == StateVisited || s == StateFailedPermanent
}

// CanTransition reports whether moving from s to next is a legal transition.
func (s URLState) CanTransition(next URLState) bool {
	switch s {
	case StatePending:
		return next == StateInFlight
	case StateInFlight:
		return next == StateVisited || next == StatePending || next == StateFailedPermanent
	default:
		return false
	}
}

// URLRecord is the frontier's entry for a single normalized URL.
type URLRecord struct {
	// URL is the normalized absolute URL and the frontier's key.
	URL string `json:"url"`

	// State is the current lifecycle state.
	State URLState `json:"state"`

	// Attempts counts failed fetch attempts.
	Attempts int `json:"attempts"`

	// NextEligibleAt is the earliest time a pending retry may be taken.
	NextEligibleAt time.Time `json:"next_eligible_at,omitzero"`

	// DiscoveredFrom is the page that linked to this URL. Empty for seeds.
	DiscoveredFrom string `json:"discovered_from,omitempty"`

	// FirstSeenOrder is the insertion sequence number; output is ordered by it.
	FirstSeenOrder int64 `json:"first_seen_order"`

	// LastError is the most recent failure message, for diagnostics only.
	LastError string `json:"last_error,omitempty"`
}

// Eligible reports whether the record can be taken at time now.
func (r *URLRecord) Eligible(now time.Time) bool {
	return r.State == StatePending && !r.NextEligibleAt.After(now)
}
