// Package metrics provides Prometheus metrics for managed-exec.
//
// A Collector owns its metric vectors and registers them with the registry
// it is given, so tests can use an isolated prometheus.NewRegistry().
// Lifecycle metrics are fed through the supervisor callbacks returned by
// Callbacks; stream metrics are recorded by whoever consumes the events.
package metrics

import (
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/randomizedcoder/go-managed-exec/internal/supervisor"
)

const namespace = "managed_exec"

// Collector manages all Prometheus metrics for one supervised child.
type Collector struct {
	info              *prometheus.GaugeVec
	startsTotal       prometheus.Counter
	launchFailures    *prometheus.CounterVec
	running           prometheus.Gauge
	state             *prometheus.GaugeVec
	transitions       *prometheus.CounterVec
	stdoutBytes       prometheus.Counter
	stdoutChunks      prometheus.Counter
	chunkSize         prometheus.Histogram
	stdinBytes        prometheus.Counter
	stdinWrites       prometheus.Counter
	writeLatency      prometheus.Histogram
	writeErrors       prometheus.Counter
	eventsDropped     prometheus.Counter
	terminations      *prometheus.CounterVec
	terminateDuration prometheus.Histogram
	exitsTotal        *prometheus.CounterVec
	lastExitCode      prometheus.Gauge
	uptime            prometheus.Histogram

	mu        sync.Mutex
	lastState supervisor.State
	lastStage supervisor.State
	failures  int64
	exitCodes map[int]int64
}

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	// Program labels the info metric.
	Program string
	Version string
}

// NewCollector creates a collector registered with the default registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
func NewCollectorWithRegistry(cfg CollectorConfig, registry prometheus.Registerer) *Collector {
	c := &Collector{
		info: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "info",
			Help:      "Information about the supervised program (value always 1)",
		}, []string{"version", "program"}),

		// --- Lifecycle ---
		startsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "starts_total",
			Help:      "Successful child launches",
		}),
		launchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "launch_failures_total",
			Help:      "Failed launches by kind",
		}, []string{"kind"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running",
			Help:      "1 while the child has not been reaped",
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "Current lifecycle state (1 for the active state)",
		}, []string{"state"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Lifecycle transitions by destination state",
		}, []string{"to"}),

		// --- Streams ---
		stdoutBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stdout_bytes_total",
			Help:      "Bytes delivered from the child's output",
		}),
		stdoutChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stdout_chunks_total",
			Help:      "Data events delivered from the child's output",
		}),
		chunkSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stdout_chunk_bytes",
			Help:      "Size distribution of data events",
			Buckets:   prometheus.ExponentialBuckets(16, 4, 7), // 16B .. 64KiB
		}),
		stdinBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stdin_bytes_total",
			Help:      "Bytes written to the child's input",
		}),
		stdinWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stdin_writes_total",
			Help:      "Write calls to the child's input",
		}),
		writeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stdin_write_seconds",
			Help:      "Latency of complete write calls, including retries",
			Buckets: []float64{
				0.0001, 0.0005, 0.001, 0.005, 0.01,
				0.05, 0.1, 0.5, 1.0,
			},
		}),
		writeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stdin_write_errors_total",
			Help:      "Write calls that returned an error",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events not delivered because the subscriber stopped reading",
		}),

		// --- Termination & exit ---
		terminations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "terminations_total",
			Help:      "Terminate calls by the last escalation stage reached",
		}, []string{"stage"}),
		terminateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "terminate_seconds",
			Help:      "Time from Terminate to reap",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		exitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exits_total",
			Help:      "Child exits by category",
		}, []string{"category"}), // "success", "error", "signal"
		lastExitCode: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_exit_code",
			Help:      "Exit code of the last reaped child (128+signal when signaled)",
		}),
		uptime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Child uptime before exit",
			Buckets:   []float64{0.01, 0.1, 1, 5, 30, 60, 300, 600, 1800, 3600},
		}),

		lastState: supervisor.StateUnstarted,
		lastStage: supervisor.StateUnstarted,
		exitCodes: make(map[int]int64),
	}

	registry.MustRegister(
		c.info,
		c.startsTotal,
		c.launchFailures,
		c.running,
		c.state,
		c.transitions,
		c.stdoutBytes,
		c.stdoutChunks,
		c.chunkSize,
		c.stdinBytes,
		c.stdinWrites,
		c.writeLatency,
		c.writeErrors,
		c.eventsDropped,
		c.terminations,
		c.terminateDuration,
		c.exitsTotal,
		c.lastExitCode,
		c.uptime,
	)

	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	c.info.WithLabelValues(version, cfg.Program).Set(1)
	c.state.WithLabelValues(supervisor.StateUnstarted.String()).Set(1)

	return c
}

// Callbacks returns supervisor callbacks that feed the lifecycle metrics.
// next, when its fields are set, is called after the collector.
func (c *Collector) Callbacks(next supervisor.Callbacks) supervisor.Callbacks {
	return supervisor.Callbacks{
		OnStateChange: func(id string, oldState, newState supervisor.State) {
			c.RecordStateChange(oldState, newState)
			if next.OnStateChange != nil {
				next.OnStateChange(id, oldState, newState)
			}
		},
		OnStart: func(id string, pid int) {
			c.RecordStart()
			if next.OnStart != nil {
				next.OnStart(id, pid)
			}
		},
		OnLaunchError: func(id string, err *supervisor.LaunchError) {
			c.RecordLaunchFailure(err.Kind)
			if next.OnLaunchError != nil {
				next.OnLaunchError(id, err)
			}
		},
		OnExit: func(id string, status supervisor.ExitStatus, uptime time.Duration) {
			c.RecordExit(status, uptime)
			if next.OnExit != nil {
				next.OnExit(id, status, uptime)
			}
		},
		OnTerminate: func(id string, stage supervisor.State, elapsed time.Duration) {
			c.RecordTerminate(stage, elapsed)
			if next.OnTerminate != nil {
				next.OnTerminate(id, stage, elapsed)
			}
		},
	}
}

// =============================================================================
// Event Recording Methods
// =============================================================================

// RecordStart records a successful launch.
func (c *Collector) RecordStart() {
	c.startsTotal.Inc()
	c.running.Set(1)
}

// RecordLaunchFailure records a failed launch.
func (c *Collector) RecordLaunchFailure(kind supervisor.LaunchErrorKind) {
	c.launchFailures.WithLabelValues(kind.String()).Inc()

	c.mu.Lock()
	c.failures++
	c.mu.Unlock()
}

// RecordStateChange moves the one-hot state gauge.
func (c *Collector) RecordStateChange(oldState, newState supervisor.State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.WithLabelValues(oldState.String()).Set(0)
	c.state.WithLabelValues(newState.String()).Set(1)
	c.transitions.WithLabelValues(newState.String()).Inc()
	c.lastState = newState
	if newState.IsTerminal() {
		c.running.Set(0)
	}
}

// RecordChunk records one data event of n bytes.
func (c *Collector) RecordChunk(n int) {
	c.stdoutBytes.Add(float64(n))
	c.stdoutChunks.Inc()
	c.chunkSize.Observe(float64(n))
}

// RecordWrite records a write call of n bytes that took d.
func (c *Collector) RecordWrite(n int, d time.Duration, err error) {
	c.stdinWrites.Inc()
	c.stdinBytes.Add(float64(n))
	c.writeLatency.Observe(d.Seconds())
	if err != nil {
		c.writeErrors.Inc()
	}
}

// RecordDropped records events the subscriber never received.
func (c *Collector) RecordDropped(n int64) {
	if n > 0 {
		c.eventsDropped.Add(float64(n))
	}
}

// RecordTerminate records a finished Terminate call.
func (c *Collector) RecordTerminate(stage supervisor.State, elapsed time.Duration) {
	c.terminations.WithLabelValues(stage.String()).Inc()
	c.terminateDuration.Observe(elapsed.Seconds())

	c.mu.Lock()
	c.lastStage = stage
	c.mu.Unlock()
}

// RecordExit records a reaped child.
func (c *Collector) RecordExit(status supervisor.ExitStatus, uptime time.Duration) {
	c.exitsTotal.WithLabelValues(exitCategory(status)).Inc()
	c.lastExitCode.Set(float64(status.ExitCode()))
	c.uptime.Observe(uptime.Seconds())
	c.running.Set(0)

	c.mu.Lock()
	c.exitCodes[status.ExitCode()]++
	c.mu.Unlock()
}

func exitCategory(status supervisor.ExitStatus) string {
	switch {
	case status.Signaled():
		return "signal"
	case status.Success():
		return "success"
	default:
		return "error"
	}
}

// =============================================================================
// Snapshot
// =============================================================================

// Snapshot is a point-in-time copy of the collector's counters.
type Snapshot struct {
	Starts         int64
	LaunchFailures int64
	Running        bool
	State          supervisor.State
	LastStage      supervisor.State
	StdoutBytes    int64
	StdoutChunks   int64
	StdinBytes     int64
	StdinWrites    int64
	WriteErrors    int64
	EventsDropped  int64
	ExitCodes      map[int]int64
}

// Snapshot reads the current metric values.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	s := Snapshot{
		State:          c.lastState,
		LastStage:      c.lastStage,
		LaunchFailures: c.failures,
		ExitCodes:      make(map[int]int64, len(c.exitCodes)),
	}
	for code, n := range c.exitCodes {
		s.ExitCodes[code] = n
	}
	c.mu.Unlock()

	s.Starts = int64(counterValue(c.startsTotal))
	s.Running = gaugeValue(c.running) == 1
	s.StdoutBytes = int64(counterValue(c.stdoutBytes))
	s.StdoutChunks = int64(counterValue(c.stdoutChunks))
	s.StdinBytes = int64(counterValue(c.stdinBytes))
	s.StdinWrites = int64(counterValue(c.stdinWrites))
	s.WriteErrors = int64(counterValue(c.writeErrors))
	s.EventsDropped = int64(counterValue(c.eventsDropped))
	return s
}

// ExitCodeSummary formats exit code counts as "code=count" pairs in
// ascending code order.
func (s Snapshot) ExitCodeSummary() []string {
	codes := make([]int, 0, len(s.ExitCodes))
	for code := range s.ExitCodes {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	out := make([]string, 0, len(codes))
	for _, code := range codes {
		out = append(out, strconv.Itoa(code)+"="+strconv.FormatInt(s.ExitCodes[code], 10))
	}
	return out
}

func counterValue(m prometheus.Metric) float64 {
	var pb dto.Metric
	if err := m.Write(&pb); err != nil || pb.Counter == nil {
		return 0
	}
	return pb.Counter.GetValue()
}

func gaugeValue(m prometheus.Metric) float64 {
	var pb dto.Metric
	if err := m.Write(&pb); err != nil || pb.Gauge == nil {
		return 0
	}
	return pb.Gauge.GetValue()
}
