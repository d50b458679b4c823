// Package retry provides the exponential backoff policy used to space out
// task retries.
package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff configures the delay before each retry.
//
// The delay before retry n (counting from zero) is
// Base * Factor^n, capped at Max and spread by Jitter.
type Backoff struct {
	// Base is the delay before the first retry.
	Base time.Duration

	// Factor is the multiplier applied for each further retry.
	Factor float64

	// Max caps the delay. Zero means uncapped.
	Max time.Duration

	// Jitter is the random jitter factor (0.0-1.0).
	Jitter float64
}

// DefaultBackoff doubles from one second: 1s, 2s, 4s, ...
var DefaultBackoff = Backoff{
	Base:   1 * time.Second,
	Factor: 2.0,
}

// Delay returns the wait before retry n, where n is the number of retries
// already made for the execution.
func (b Backoff) Delay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	base := b.Base
	if base <= 0 {
		base = DefaultBackoff.Base
	}
	factor := b.Factor
	if factor < 1 {
		factor = 1
	}

	d := float64(base) * math.Pow(factor, float64(n))
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return applyJitter(time.Duration(d), b.Jitter)
}

// applyJitter returns the duration with jitter applied.
func applyJitter(base time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return base
	}

	// base +/- (base * jitter * random)
	jitterAmount := float64(base) * jitter * (rand.Float64()*2 - 1)
	return time.Duration(float64(base) + jitterAmount)
}

// Option configures a Backoff.
type Option func(*Backoff)

// WithBase sets the delay before the first retry.
func WithBase(d time.Duration) Option {
	return func(b *Backoff) {
		b.Base = d
	}
}

// WithFactor sets the backoff multiplier.
func WithFactor(f float64) Option {
	return func(b *Backoff) {
		b.Factor = f
	}
}

// WithMax caps the delay.
func WithMax(d time.Duration) Option {
	return func(b *Backoff) {
		b.Max = d
	}
}

// WithJitter sets the jitter factor.
func WithJitter(j float64) Option {
	return func(b *Backoff) {
		b.Jitter = j
	}
}

// New creates a backoff policy from DefaultBackoff and the given options.
func New(opts ...Option) Backoff {
	b := DefaultBackoff
	for _, opt := range opts {
		opt(&b)
	}
	return b
}
