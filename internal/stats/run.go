// Package stats provides run statistics for a supervised child: stream
// counters, tdigest percentiles over chunk sizes and write latencies, and
// the exit summary printed when managed-exec finishes.
package stats

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/randomizedcoder/go-managed-exec/internal/supervisor"
)

// RunStats collects statistics for one ManagedProcess run.
//
// Thread-safe: counters are atomics, the rest is behind mu.
type RunStats struct {
	StartTime time.Time

	bytesOut    atomic.Int64
	chunks      atomic.Int64
	bytesIn     atomic.Int64
	writes      atomic.Int64
	writeErrors atomic.Int64
	dropped     atomic.Int64

	chunkSizes   *Distribution // bytes
	writeLatency *Distribution // nanoseconds
	rates        *RateTracker

	mu            sync.Mutex
	firstOutput   time.Time
	exit          *supervisor.ExitStatus
	uptime        time.Duration
	stage         supervisor.State
	terminateTime time.Duration
	pid           int
	launchErr     error
}

// NewRunStats creates stats starting now.
func NewRunStats() *RunStats {
	return &RunStats{
		StartTime:    time.Now(),
		chunkSizes:   NewDistribution(),
		writeLatency: NewDistribution(),
		rates:        NewRateTracker(DefaultRateSamples, nil),
	}
}

// SampleRates records the byte counters for the rolling rates. The caller
// decides the cadence, usually once a second.
func (s *RunStats) SampleRates() {
	s.rates.Sample(s.bytesOut.Load(), s.bytesIn.Load())
}

// RecordChunk records one data event of n bytes.
func (s *RunStats) RecordChunk(n int) {
	if s.chunks.Add(1) == 1 {
		s.mu.Lock()
		s.firstOutput = time.Now()
		s.mu.Unlock()
	}
	s.bytesOut.Add(int64(n))
	s.chunkSizes.Add(float64(n))
}

// RecordWrite records a write call of n bytes that took d.
func (s *RunStats) RecordWrite(n int, d time.Duration, err error) {
	s.writes.Add(1)
	s.bytesIn.Add(int64(n))
	s.writeLatency.Add(float64(d.Nanoseconds()))
	if err != nil {
		s.writeErrors.Add(1)
	}
}

// RecordDropped records events the subscriber never received.
func (s *RunStats) RecordDropped(n int64) {
	s.dropped.Add(n)
}

// Callbacks returns supervisor callbacks feeding the run stats. next, when
// its fields are set, is called afterwards.
func (s *RunStats) Callbacks(next supervisor.Callbacks) supervisor.Callbacks {
	cb := next
	cb.OnStart = func(id string, pid int) {
		s.mu.Lock()
		s.pid = pid
		s.mu.Unlock()
		if next.OnStart != nil {
			next.OnStart(id, pid)
		}
	}
	cb.OnLaunchError = func(id string, err *supervisor.LaunchError) {
		s.mu.Lock()
		s.launchErr = err
		s.mu.Unlock()
		if next.OnLaunchError != nil {
			next.OnLaunchError(id, err)
		}
	}
	cb.OnExit = func(id string, status supervisor.ExitStatus, uptime time.Duration) {
		s.mu.Lock()
		s.exit = &status
		s.uptime = uptime
		s.mu.Unlock()
		if next.OnExit != nil {
			next.OnExit(id, status, uptime)
		}
	}
	cb.OnTerminate = func(id string, stage supervisor.State, elapsed time.Duration) {
		s.mu.Lock()
		s.stage = stage
		s.terminateTime = elapsed
		s.mu.Unlock()
		if next.OnTerminate != nil {
			next.OnTerminate(id, stage, elapsed)
		}
	}
	return cb
}

// Snapshot is a point-in-time copy of RunStats.
type Snapshot struct {
	Elapsed time.Duration
	Pid     int

	BytesOut      int64
	Chunks        int64
	BytesIn       int64
	Writes        int64
	WriteErrors   int64
	EventsDropped int64

	// FirstOutput is the delay from start to the first data event; zero
	// when the child produced nothing.
	FirstOutput time.Duration

	ChunkSizes   Percentiles // bytes
	WriteLatency Percentiles // nanoseconds

	// Rolling rates over RecentWindow. RateSpan is the time they cover and
	// is zero until two samples exist.
	RecentOutputRate float64
	RecentInputRate  float64
	RateSpan         time.Duration

	Exited        bool
	Exit          supervisor.ExitStatus
	Uptime        time.Duration
	Stage         supervisor.State // last Terminate stage, Unstarted if never terminated
	TerminateTime time.Duration
	LaunchErr     error
}

// Snapshot copies the current values.
func (s *RunStats) Snapshot() Snapshot {
	snap := Snapshot{
		Elapsed:       time.Since(s.StartTime),
		BytesOut:      s.bytesOut.Load(),
		Chunks:        s.chunks.Load(),
		BytesIn:       s.bytesIn.Load(),
		Writes:        s.writes.Load(),
		WriteErrors:   s.writeErrors.Load(),
		EventsDropped: s.dropped.Load(),
		ChunkSizes:    s.chunkSizes.Percentiles(),
		WriteLatency:  s.writeLatency.Percentiles(),
	}
	snap.RecentOutputRate, snap.RecentInputRate, snap.RateSpan = s.rates.Rates(RecentWindow)

	s.mu.Lock()
	defer s.mu.Unlock()
	snap.Pid = s.pid
	if !s.firstOutput.IsZero() {
		snap.FirstOutput = s.firstOutput.Sub(s.StartTime)
	}
	if s.exit != nil {
		snap.Exited = true
		snap.Exit = *s.exit
		snap.Uptime = s.uptime
	}
	snap.Stage = s.stage
	snap.TerminateTime = s.terminateTime
	snap.LaunchErr = s.launchErr
	return snap
}

// OutputRate returns the average child output in bytes per second.
func (s Snapshot) OutputRate() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.BytesOut) / s.Elapsed.Seconds()
}

// InputRate returns the average bytes per second written to the child.
func (s Snapshot) InputRate() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.BytesIn) / s.Elapsed.Seconds()
}

// CurrentOutputRate prefers the rolling rate and falls back to the average.
func (s Snapshot) CurrentOutputRate() float64 {
	if s.RateSpan > 0 {
		return s.RecentOutputRate
	}
	return s.OutputRate()
}

// CurrentInputRate prefers the rolling rate and falls back to the average.
func (s Snapshot) CurrentInputRate() float64 {
	if s.RateSpan > 0 {
		return s.RecentInputRate
	}
	return s.InputRate()
}
