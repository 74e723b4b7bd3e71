package model

import "time"

// Termination describes why a crawl session ended.
type Termination string

const (
	// TerminationDrained means no pending or in-flight URL remained.
	TerminationDrained Termination = "drained"

	// TerminationBudgetExhausted means the page budget was reached.
	TerminationBudgetExhausted Termination = "budget_exhausted"

	// TerminationCancelled means the session was stopped by the caller.
	TerminationCancelled Termination = "cancelled"

	// TerminationDeadline means the time budget elapsed.
	TerminationDeadline Termination = "deadline"

	// TerminationFatal means an unrecoverable error aborted the session.
	TerminationFatal Termination = "fatal"
)

// Completed reports whether the session ended normally.
func (t Termination) Completed() bool {
	return t == TerminationDrained || t == TerminationBudgetExhausted
}

// CrawlSummary holds the outcome of one crawl session.
type CrawlSummary struct {
	SessionID   string      `json:"session_id"`
	Site        string      `json:"site"`
	StartURL    string      `json:"start_url"`
	StartedAt   time.Time   `json:"started_at"`
	FinishedAt  time.Time   `json:"finished_at"`
	Termination Termination `json:"termination"`

	// Visited is the number of pages successfully processed.
	Visited int `json:"visited"`

	// Failed is the number of URLs that ended FailedPermanent.
	Failed int `json:"failed"`

	// Pending is the number of URLs still pending when the session ended.
	Pending int `json:"pending"`

	// Discovered is the total number of unique in-scope URLs known.
	Discovered int `json:"discovered"`

	// OutputPath is where the URL artifact was written, if any.
	OutputPath string `json:"output_path,omitempty"`

	// URLs is the ordered list of visited URLs.
	URLs []string `json:"-"`

	// Error holds the fatal error message when Termination is TerminationFatal.
	Error string `json:"error,omitempty"`
}

// Duration returns how long the session ran.
func (s *CrawlSummary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return time.Since(s.StartedAt)
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Checkpoint is a persisted copy of the frontier for one site.
type Checkpoint struct {
	Site      string      `json:"site"`
	SessionID string      `json:"session_id"`
	SavedAt   time.Time   `json:"saved_at"`
	Records   []URLRecord `json:"records"`
}
