// Package retry absorbs transient I/O errors (interrupted or would-block)
// with a short exponential backoff. The output pump and the stdin writer
// share it.
package retry

import (
	"math"
	"math/rand"
	"time"
)

// Config holds the backoff parameters.
type Config struct {
	Initial     time.Duration // First delay (default: 1ms)
	Max         time.Duration // Delay cap (default: 50ms)
	Multiplier  float64       // Growth per attempt (default: 2)
	JitterPct   float64       // Jitter as a fraction of the delay (default: 0.2 = ±10%)
	MaxAttempts int           // Delays allowed before giving up (0 = unlimited)
}

// DefaultConfig returns the backoff used for pipe I/O.
func DefaultConfig() Config {
	return Config{
		Initial:    time.Millisecond,
		Max:        50 * time.Millisecond,
		Multiplier: 2,
		JitterPct:  0.2,
	}
}

// Backoff calculates exponential backoff delays with jitter.
// A Backoff is owned by a single loop and is not safe for concurrent use.
type Backoff struct {
	config   Config
	attempts int
	rng      *rand.Rand
	sleep    func(time.Duration)
}

// NewBackoff creates a Backoff seeded from the current time.
func NewBackoff(cfg Config) *Backoff {
	return NewBackoffWithSeed(cfg, time.Now().UnixNano())
}

// NewBackoffWithSeed creates a Backoff with deterministic jitter.
func NewBackoffWithSeed(cfg Config, seed int64) *Backoff {
	return &Backoff{
		config: cfg,
		rng:    rand.New(rand.NewSource(seed)),
		sleep:  time.Sleep,
	}
}

// Next returns the next delay and increments the attempt counter.
func (b *Backoff) Next() time.Duration {
	delay := b.Calculate()
	b.attempts++
	return delay
}

// Calculate returns the current delay without incrementing attempts.
func (b *Backoff) Calculate() time.Duration {
	multiplier := b.config.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := float64(b.config.Initial) * math.Pow(multiplier, float64(b.attempts))

	if b.config.Max > 0 && delay > float64(b.config.Max) {
		delay = float64(b.config.Max)
	}

	// ±(JitterPct/2) of the delay
	if b.config.JitterPct > 0 {
		jitterRange := delay * b.config.JitterPct
		delay += jitterRange*b.rng.Float64() - jitterRange/2
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// Pause sleeps for the next delay. It returns false, without sleeping, once
// MaxAttempts delays have been taken.
func (b *Backoff) Pause() bool {
	if b.config.MaxAttempts > 0 && b.attempts >= b.config.MaxAttempts {
		return false
	}
	b.sleep(b.Next())
	return true
}

// Reset resets the attempt counter. Loops call it after making progress.
func (b *Backoff) Reset() {
	b.attempts = 0
}

// Attempts returns the current attempt count.
func (b *Backoff) Attempts() int {
	return b.attempts
}
