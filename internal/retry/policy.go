// Package retry decides whether a failed fetch is retried and how long to wait.
//
// Everything here is a pure function of the failure kind, the HTTP status and
// the attempt count. The frontier applies the result; the policy never touches
// frontier state itself.
package retry

import (
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/nao1215/linkscout/internal/fetch"
)

// Strategy selects how the backoff grows with the attempt count.
type Strategy string

const (
	// StrategyFixed waits BaseDelay before every retry.
	StrategyFixed Strategy = "fixed"

	// StrategyExponential doubles the wait per attempt up to MaxDelay.
	StrategyExponential Strategy = "exponential"
)

// ParseStrategy converts a configuration string to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyFixed, StrategyExponential:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("unknown retry strategy %q (want %q or %q)", s, StrategyFixed, StrategyExponential)
	}
}

// Default policy values.
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 5 * time.Second
	DefaultMaxDelay   = time.Minute
)

// Policy classifies failures and computes backoff.
type Policy struct {
	// MaxRetries bounds the number of failed attempts per URL. A URL whose
	// attempt count reaches MaxRetries is failed permanently.
	MaxRetries int

	// BaseDelay is the first backoff interval.
	BaseDelay time.Duration

	// MaxDelay caps exponential growth.
	MaxDelay time.Duration

	// Strategy is fixed or exponential.
	Strategy Strategy

	// RetryRenderErrors makes render failures transient instead of permanent.
	RetryRenderErrors bool

	// RetryStatuses lists additional HTTP statuses treated as transient (e.g. 408).
	RetryStatuses []int
}

// NewPolicy returns a Policy with the default values.
func NewPolicy() Policy {
	return Policy{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
		Strategy:   StrategyExponential,
	}
}

// Classify reports whether a failure of the given kind and HTTP status is retryable.
//
// Timeouts, network errors, 5xx and 429 are transient. Other 4xx responses are
// permanent. Render errors are permanent unless RetryRenderErrors is set.
func (p Policy) Classify(kind fetch.Kind, status int) bool {
	switch kind {
	case fetch.KindTimeout, fetch.KindNetwork:
		return true
	case fetch.KindHTTP:
		if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
			return true
		}
		return slices.Contains(p.RetryStatuses, status)
	case fetch.KindRender:
		return p.RetryRenderErrors
	default:
		return false
	}
}

// ClassifyError is Classify applied to an error returned by a fetch.Fetcher.
// Errors that carry no fetch kind are treated as render errors.
func (p Policy) ClassifyError(err error) bool {
	if err == nil {
		return false
	}
	kind, status := fetch.KindOf(err)
	return p.Classify(kind, status)
}

// Backoff returns the wait before the next attempt, given the number of
// failed attempts so far (1 after the first failure).
func (p Policy) Backoff(attempts int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	if attempts < 1 {
		attempts = 1
	}
	if p.Strategy != StrategyExponential {
		return p.BaseDelay
	}

	d := p.BaseDelay
	for i := 1; i < attempts; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
		// overflow guard
		if d <= 0 {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Exhausted reports whether attempts has reached the retry ceiling.
func (p Policy) Exhausted(attempts int) bool {
	return attempts >= p.MaxRetries
}
