// Package frontier holds the set of known URLs and their crawl state.
//
// Every operation runs under a single mutex, so the frontier is safe for
// concurrent workers and each call is atomic. A URL enters the frontier once,
// in normalized form, and is handed to at most one worker at a time.
//
// State machine:
//
//	Pending -> InFlight            TakeNext
//	InFlight -> Visited            MarkVisited
//	InFlight -> Pending            MarkFailed (retryable, attempts left) or Release
//	InFlight -> FailedPermanent    MarkFailed (permanent or exhausted)
package frontier

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/nao1215/linkscout/internal/model"
)

// Backoff supplies the retry schedule for failed URLs.
type Backoff interface {
	// Backoff returns the wait before the next attempt after attempts failures.
	Backoff(attempts int) time.Duration

	// Exhausted reports whether attempts has reached the retry ceiling.
	Exhausted(attempts int) bool
}

// Counts is a snapshot of how many URLs are in each state.
type Counts struct {
	Pending  int `json:"pending"`
	InFlight int `json:"in_flight"`
	Visited  int `json:"visited"`
	Failed   int `json:"failed"`
}

// Total returns the number of known URLs.
func (c Counts) Total() int {
	return c.Pending + c.InFlight + c.Visited + c.Failed
}

// Frontier tracks every in-scope URL discovered during a session.
type Frontier struct {
	mu        sync.Mutex
	records   map[string]*model.URLRecord
	order     []string
	nextOrder int64

	// head indexes the first record of order that is not terminal.
	head int

	scope      *Scope
	normalizer Normalizer
	policy     Backoff
	now        func() time.Time
}

// Option configures a Frontier.
type Option func(*Frontier)

// WithScope filters discovered URLs. Without a scope every http(s) URL is accepted.
func WithScope(s *Scope) Option {
	return func(f *Frontier) { f.scope = s }
}

// WithNormalizer sets the URL normalizer.
func WithNormalizer(n Normalizer) Option {
	return func(f *Frontier) { f.normalizer = n }
}

// WithClock overrides time.Now. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(f *Frontier) {
		if now != nil {
			f.now = now
		}
	}
}

// New creates an empty frontier that schedules retries with policy.
func New(policy Backoff, opts ...Option) *Frontier {
	f := &Frontier{
		records: make(map[string]*model.URLRecord),
		order:   make([]string, 0),
		policy:  policy,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Normalize returns the canonical form the frontier stores rawURL under.
func (f *Frontier) Normalize(rawURL string) (string, error) {
	return f.normalizer.Normalize(rawURL)
}

// Seed adds the start URL as Pending. Scope rules other than normalization
// do not apply to the seed. It reports whether the URL was new.
func (f *Frontier) Seed(rawURL string) (bool, error) {
	u, err := f.normalizer.Normalize(rawURL)
	if err != nil {
		return false, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.insertLocked(u, ""), nil
}

// Discover adds in-scope URLs found on page from. Known URLs are ignored.
// It returns how many URLs were new.
func (f *Frontier) Discover(urls []string, from string) int {
	normalized := make([]string, 0, len(urls))
	for _, raw := range urls {
		u, err := f.normalizer.Normalize(raw)
		if err != nil {
			continue
		}
		if f.scope != nil && !f.scope.Contains(u) {
			continue
		}
		normalized = append(normalized, u)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	added := 0
	for _, u := range normalized {
		if f.insertLocked(u, from) {
			added++
		}
	}
	return added
}

func (f *Frontier) insertLocked(u, from string) bool {
	if _, ok := f.records[u]; ok {
		return false
	}
	f.records[u] = &model.URLRecord{
		URL:            u,
		State:          model.StatePending,
		DiscoveredFrom: from,
		FirstSeenOrder: f.nextOrder,
	}
	f.nextOrder++
	f.order = append(f.order, u)
	return true
}

// TakeNext hands out the oldest eligible Pending URL and marks it InFlight.
// It returns false when no URL is eligible right now.
func (f *Frontier) TakeNext() (model.URLRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for f.head < len(f.order) && f.records[f.order[f.head]].State.IsTerminal() {
		f.head++
	}

	now := f.now()
	for _, u := range f.order[f.head:] {
		rec := f.records[u]
		if !rec.Eligible(now) {
			continue
		}
		rec.State = model.StateInFlight
		return *rec, true
	}
	return model.URLRecord{}, false
}

// MarkVisited records a successful fetch.
func (f *Frontier) MarkVisited(rawURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, err := f.inFlightLocked(rawURL, model.StateVisited)
	if err != nil {
		return err
	}
	rec.State = model.StateVisited
	rec.NextEligibleAt = time.Time{}
	rec.LastError = ""
	return nil
}

// MarkFailed records a failed fetch and returns the URL's new state.
// A retryable failure with attempts left goes back to Pending after a
// backoff; anything else is failed permanently.
func (f *Frontier) MarkFailed(rawURL string, retryable bool, cause error) (model.URLState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, err := f.inFlightLocked(rawURL, model.StatePending)
	if err != nil {
		return 0, err
	}

	rec.Attempts++
	if cause != nil {
		rec.LastError = cause.Error()
	}
	if retryable && (f.policy == nil || !f.policy.Exhausted(rec.Attempts)) {
		rec.State = model.StatePending
		rec.NextEligibleAt = f.now()
		if f.policy != nil {
			rec.NextEligibleAt = rec.NextEligibleAt.Add(f.policy.Backoff(rec.Attempts))
		}
		return rec.State, nil
	}
	rec.State = model.StateFailedPermanent
	rec.NextEligibleAt = time.Time{}
	return rec.State, nil
}

// Release returns an InFlight URL to Pending without counting an attempt.
func (f *Frontier) Release(rawURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, err := f.inFlightLocked(rawURL, model.StatePending)
	if err != nil {
		return err
	}
	rec.State = model.StatePending
	return nil
}

func (f *Frontier) inFlightLocked(rawURL string, to model.URLState) (*model.URLRecord, error) {
	rec, ok := f.records[rawURL]
	if !ok {
		u, err := f.normalizer.Normalize(rawURL)
		if err == nil {
			rec, ok = f.records[u]
		}
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownURL, rawURL)
	}
	if !rec.State.CanTransition(to) {
		return nil, fmt.Errorf("%w: %s -> %s for %s", ErrIllegalTransition, rec.State, to, rawURL)
	}
	return rec, nil
}

// IsDrained reports whether no URL is Pending or InFlight.
func (f *Frontier) IsDrained() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, rec := range f.records {
		if rec.State == model.StatePending || rec.State == model.StateInFlight {
			return false
		}
	}
	return true
}

// NextEligibleIn returns how long until the soonest Pending URL becomes
// eligible. It returns false when nothing is Pending.
func (f *Frontier) NextEligibleIn() (time.Duration, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	var (
		soonest time.Duration
		found   bool
	)
	for _, rec := range f.records {
		if rec.State != model.StatePending {
			continue
		}
		wait := max(rec.NextEligibleAt.Sub(now), 0)
		if !found || wait < soonest {
			soonest, found = wait, true
		}
	}
	return soonest, found
}

// Counts returns the number of URLs in each state.
func (f *Frontier) Counts() Counts {
	f.mu.Lock()
	defer f.mu.Unlock()

	var c Counts
	for _, rec := range f.records {
		switch rec.State {
		case model.StatePending:
			c.Pending++
		case model.StateInFlight:
			c.InFlight++
		case model.StateVisited:
			c.Visited++
		case model.StateFailedPermanent:
			c.Failed++
		}
	}
	return c
}

// Snapshot returns the Visited URLs in discovery order.
func (f *Frontier) Snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, 0, len(f.order))
	for _, u := range f.order {
		if f.records[u].State == model.StateVisited {
			out = append(out, u)
		}
	}
	return out
}

// Get returns a copy of the record for rawURL.
func (f *Frontier) Get(rawURL string) (model.URLRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, ok := f.records[rawURL]
	if !ok {
		if u, err := f.normalizer.Normalize(rawURL); err == nil {
			rec, ok = f.records[u]
		}
	}
	if !ok {
		return model.URLRecord{}, false
	}
	return *rec, true
}

// Records returns a copy of every record in discovery order.
func (f *Frontier) Records() []model.URLRecord {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]model.URLRecord, 0, len(f.order))
	for _, u := range f.order {
		out = append(out, *f.records[u])
	}
	return out
}

// Restore replaces the frontier content with records from a checkpoint.
// InFlight records come back as Pending.
func (f *Frontier) Restore(records []model.URLRecord) error {
	restored := make(map[string]*model.URLRecord, len(records))
	for _, r := range records {
		if r.URL == "" {
			return fmt.Errorf("%w: empty url in checkpoint", ErrInvalidURL)
		}
		if _, dup := restored[r.URL]; dup {
			return fmt.Errorf("%w: duplicate url in checkpoint: %s", ErrInvalidURL, r.URL)
		}
		rec := r
		if rec.State == model.StateInFlight {
			rec.State = model.StatePending
		}
		restored[rec.URL] = &rec
	}

	order := make([]string, 0, len(restored))
	for u := range restored {
		order = append(order, u)
	}
	slices.SortFunc(order, func(a, b string) int {
		return cmp.Compare(restored[a].FirstSeenOrder, restored[b].FirstSeenOrder)
	})

	var next int64
	for _, rec := range restored {
		next = max(next, rec.FirstSeenOrder+1)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = restored
	f.order = order
	f.nextOrder = next
	f.head = 0
	return nil
}
