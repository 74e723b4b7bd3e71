// Package pacer spaces out fetches and picks the user agent for each one.
package pacer

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Default pacing values.
const (
	DefaultDelayMin      = 2 * time.Second
	DefaultDelayMax      = 5 * time.Second
	DefaultFloor         = 2 * time.Second
	DefaultStealthJitter = 0.25
)

// userAgents is the rotation used in stealth mode when no user agent is configured.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (iPad; CPU OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1",
}

// UserAgents returns a copy of the built-in rotation list.
func UserAgents() []string {
	return append([]string(nil), userAgents...)
}

// Pacer decides how long to wait before each fetch.
//
// Every fetch waits a random per-request delay and then passes a shared
// rate limiter, so no two fetches start closer than Floor no matter how
// many workers are running.
type Pacer struct {
	delayMin  time.Duration
	delayMax  time.Duration
	stealth   bool
	jitter    float64
	userAgent string

	limiter *rate.Limiter

	mu  sync.Mutex
	rng *rand.Rand

	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Pacer.
type Option func(*Pacer)

// WithDelayRange sets the per-request delay bounds.
func WithDelayRange(lo, hi time.Duration) Option {
	return func(p *Pacer) {
		if lo < 0 {
			lo = 0
		}
		if hi < lo {
			hi = lo
		}
		p.delayMin, p.delayMax = lo, hi
	}
}

// WithFloor sets the minimum spacing between any two fetches.
// A zero floor disables the shared limiter.
func WithFloor(d time.Duration) Option {
	return func(p *Pacer) {
		if d <= 0 {
			p.limiter = nil
			return
		}
		p.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithLimiter replaces the floor limiter with l, so pacers sharing l
// also share the floor. Sessions crawling the same host do this.
func WithLimiter(l *rate.Limiter) Option {
	return func(p *Pacer) { p.limiter = l }
}

// WithStealth enables jitter and user agent rotation.
func WithStealth(enabled bool, jitter float64) Option {
	return func(p *Pacer) {
		p.stealth = enabled
		if jitter < 0 {
			jitter = 0
		}
		if jitter > 1 {
			jitter = 1
		}
		p.jitter = jitter
	}
}

// WithUserAgent pins the user agent. An empty string keeps rotation.
func WithUserAgent(ua string) Option {
	return func(p *Pacer) { p.userAgent = ua }
}

// WithRand sets the random source.
func WithRand(r *rand.Rand) Option {
	return func(p *Pacer) {
		if r != nil {
			p.rng = r
		}
	}
}

// New creates a Pacer with the default delays and a fresh floor limiter.
func New(opts ...Option) *Pacer {
	p := &Pacer{
		delayMin: DefaultDelayMin,
		delayMax: DefaultDelayMax,
		jitter:   DefaultStealthJitter,
		limiter:  rate.NewLimiter(rate.Every(DefaultFloor), 1),
		rng:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)), //nolint:gosec // pacing does not need crypto randomness
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NextDelay draws the delay before the next fetch.
func (p *Pacer) NextDelay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	d := p.delayMin
	if span := p.delayMax - p.delayMin; span > 0 {
		d += time.Duration(p.rng.Int64N(int64(span) + 1))
	}
	if !p.stealth || p.jitter == 0 {
		return d
	}

	// Jitter only lengthens the delay, so delayMin stays a hard floor.
	factor := 1 + p.jitter*p.rng.Float64()
	d = time.Duration(float64(d) * factor)
	if upper := time.Duration(float64(p.delayMax) * (1 + p.jitter)); d > upper {
		d = upper
	}
	return d
}

// Wait sleeps for NextDelay and then for the shared floor.
// It returns ctx.Err() if ctx ends first.
func (p *Pacer) Wait(ctx context.Context) error {
	if err := p.sleep(ctx, p.NextDelay()); err != nil {
		return err
	}
	if p.limiter == nil {
		return ctx.Err()
	}
	if err := p.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// UserAgent returns the user agent for the next fetch: the pinned one,
// a random pick in stealth mode, or the first built-in entry.
func (p *Pacer) UserAgent() string {
	if p.userAgent != "" {
		return p.userAgent
	}
	if !p.stealth {
		return userAgents[0]
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return userAgents[p.rng.IntN(len(userAgents))]
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
