package stats

import (
	"sync"
	"time"
)

const (
	// DefaultRateSamples keeps five minutes of history at one sample per
	// second.
	DefaultRateSamples = 300

	// RecentWindow is the span the "recent" stream rates cover.
	RecentWindow = 10 * time.Second
)

type rateSample struct {
	at  time.Time
	out int64
	in  int64
}

// RateTracker keeps a ring of cumulative byte counts and derives rolling
// rates from it. Sample is called periodically by one owner; Rates may be
// called from anywhere.
type RateTracker struct {
	now func() time.Time

	mu      sync.Mutex
	samples []rateSample
	next    int // overwrite position once full
}

// NewRateTracker creates a tracker holding at most size samples. A nil
// clock means time.Now.
func NewRateTracker(size int, clock func() time.Time) *RateTracker {
	if size < 2 {
		size = 2
	}
	if clock == nil {
		clock = time.Now
	}
	return &RateTracker{
		now:     clock,
		samples: make([]rateSample, 0, size),
	}
}

// Sample records the current cumulative output and input byte counts.
func (r *RateTracker) Sample(out, in int64) {
	s := rateSample{at: r.now(), out: out, in: in}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.samples) < cap(r.samples) {
		r.samples = append(r.samples, s)
		return
	}
	r.samples[r.next] = s
	r.next = (r.next + 1) % len(r.samples)
}

// Rates returns bytes per second between the newest sample and the one
// closest to window before it, plus the span actually covered. With fewer
// than two samples the span is zero.
func (r *RateTracker) Rates(window time.Duration) (out, in float64, span time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.samples) < 2 {
		return 0, 0, 0
	}
	newest := r.samples[r.newestIndex()]
	target := newest.at.Add(-window)

	// Oldest sample not younger than target, else the oldest we have.
	base := r.samples[r.oldestIndex()]
	for i := range r.samples {
		s := r.samples[i]
		if s.at.After(target) || !s.at.Before(newest.at) {
			continue
		}
		if s.at.After(base.at) {
			base = s
		}
	}

	span = newest.at.Sub(base.at)
	if span <= 0 {
		return 0, 0, 0
	}
	secs := span.Seconds()
	return float64(newest.out-base.out) / secs, float64(newest.in-base.in) / secs, span
}

// Len returns the number of samples held.
func (r *RateTracker) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

func (r *RateTracker) oldestIndex() int {
	if len(r.samples) < cap(r.samples) {
		return 0
	}
	return r.next
}

func (r *RateTracker) newestIndex() int {
	if len(r.samples) < cap(r.samples) {
		return len(r.samples) - 1
	}
	return (r.next + len(r.samples) - 1) % len(r.samples)
}
