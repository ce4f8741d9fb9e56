// Package orchestrator runs one supervised child from a Config: preflight,
// metrics, input forwarding, output handling, the run deadline and the exit
// summary.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/randomizedcoder/go-managed-exec/internal/config"
	"github.com/randomizedcoder/go-managed-exec/internal/logging"
	"github.com/randomizedcoder/go-managed-exec/internal/metrics"
	"github.com/randomizedcoder/go-managed-exec/internal/preflight"
	"github.com/randomizedcoder/go-managed-exec/internal/stats"
	"github.com/randomizedcoder/go-managed-exec/internal/stream"
	"github.com/randomizedcoder/go-managed-exec/internal/supervisor"
	"github.com/randomizedcoder/go-managed-exec/internal/tui"
)

const (
	inputChunkSize   = 32 * 1024
	exitCheckPeriod  = 100 * time.Millisecond
	rateSamplePeriod = time.Second
	shutdownTimeout  = 10 * time.Second

	// outputStallTimeout bounds the wait for remaining output after the
	// child exits, measured from the last chunk consumed.
	outputStallTimeout = 2 * time.Second
)

// ErrPreflight is returned by Run when a preflight check fails.
var ErrPreflight = errors.New("preflight checks failed (use -skip-preflight to override)")

// Options replaces the process-wide streams and hooks, mainly for tests.
type Options struct {
	Version string
	Stdin   io.Reader
	Stdout  io.Writer
	Stderr  io.Writer

	// Launcher replaces the platform launcher.
	Launcher supervisor.Launcher

	// Signals to treat as a stop request. Nil means SIGINT and SIGTERM.
	Signals []os.Signal
}

// Orchestrator coordinates all components for one supervised run.
type Orchestrator struct {
	config *config.Config
	logger *slog.Logger

	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
	signals []os.Signal

	proc          *supervisor.ManagedProcess
	registry      *prometheus.Registry
	metrics       *metrics.Collector
	metricsServer *metrics.Server
	stats         *stats.RunStats
	output        *logging.OutputHandler

	program *tea.Program
}

// New creates an Orchestrator. Nothing is launched until Run.
func New(cfg *config.Config, logger *slog.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = logging.Discard()
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Signals == nil {
		opts.Signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollectorWithRegistry(metrics.CollectorConfig{
		Program: cfg.Program,
		Version: opts.Version,
	}, registry)
	runStats := stats.NewRunStats()

	o := &Orchestrator{
		config:   cfg,
		logger:   logger,
		stdin:    opts.Stdin,
		stdout:   opts.Stdout,
		stderr:   opts.Stderr,
		signals:  opts.Signals,
		registry: registry,
		metrics:  collector,
		stats:    runStats,
		output:   logging.NewOutputHandler(logger, cfg.Verbose, cfg.OutputLogRate),
	}

	env := cfg.Environment()
	o.proc = supervisor.New(supervisor.Config{
		Command:      cfg.Command(),
		Env:          &env,
		Dir:          cfg.Dir,
		Nice:         cfg.Nice,
		ProcessGroup: cfg.ProcessGroup,
		Terminate:    cfg.TerminateConfig(),
		Logger:       logger,
		Callbacks:    collector.Callbacks(runStats.Callbacks(supervisor.Callbacks{})),
		Launcher:     opts.Launcher,
	})

	if cfg.MetricsAddr != "" {
		o.metricsServer = metrics.NewServer(cfg.MetricsAddr, registry, o.proc.IsRunning, logger)
	}
	return o
}

// Run launches the child and blocks until it has been reaped. The returned
// code is the child's exit code, or 1 when it never ran.
func (o *Orchestrator) Run(ctx context.Context) (int, error) {
	if !o.config.SkipPreflight {
		result := preflight.RunAll(preflight.Options{
			Program: o.config.Program,
			Env:     o.config.Environment(),
			Dir:     o.config.Dir,
			Stderr:  o.config.StderrMode(),
		})
		preflight.PrintResults(o.stderr, result)
		if !result.Passed {
			return 1, ErrPreflight
		}
	}

	if o.metricsServer != nil {
		if err := o.metricsServer.Start(); err != nil {
			return 1, fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer o.shutdownMetrics()
	}

	if err := o.proc.Start(o.config.StderrMode()); err != nil {
		o.finish()
		return 1, err
	}
	o.logger.Info("running",
		"id", o.proc.ID(),
		"pid", o.proc.Pid(),
		"command", o.proc.String(),
	)

	ctx, stop := signal.NotifyContext(ctx, o.signals...)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if o.config.TUIEnabled {
		o.program = tea.NewProgram(tui.New(tui.Config{
			Command:     o.proc.String(),
			MetricsAddr: o.config.MetricsAddr,
			Process:     dashboardView{o},
		}), tea.WithAltScreen(), tea.WithInput(o.stdin), tea.WithOutput(o.stdout))
	}

	outputDone := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return o.consumeEvents(outputDone)
	})
	g.Go(func() error {
		return o.watch(gctx, outputDone)
	})
	if o.config.Input == "-" {
		// A read from our stdin cannot be interrupted, so the group does
		// not wait for it. Terminate closes the child's stdin under it.
		go o.forwardInput(o.stdin)
	} else if o.config.Input != "" || o.config.InputText != "" {
		g.Go(o.feedInput)
	}
	if o.program != nil {
		g.Go(func() error {
			defer cancel()
			if _, err := o.program.Run(); err != nil {
				return fmt.Errorf("dashboard: %w", err)
			}
			return nil
		})
	}

	err := g.Wait()
	status, werr := o.proc.Wait(true)
	if werr != nil && !errors.Is(werr, supervisor.ErrAlreadyReaped) {
		o.logger.Warn("wait_failed", "error", werr)
	}
	if st, ok := o.proc.ExitStatus(); ok {
		status = st
	}
	o.finish()
	return status.ExitCode(), err
}

// consumeEvents is the single subscriber of the child's output.
func (o *Orchestrator) consumeEvents(done chan<- struct{}) error {
	defer close(done)
	passthrough := o.config.Passthrough && !o.config.TUIEnabled
	for ev := range o.proc.Events() {
		switch ev.Kind {
		case stream.EventData:
			o.stats.RecordChunk(len(ev.Data))
			o.metrics.RecordChunk(len(ev.Data))
			if passthrough {
				if _, err := o.stdout.Write(ev.Data); err != nil {
					o.logger.Warn("passthrough_failed", "error", err)
					passthrough = false
				}
			}
			_, _ = o.output.Write(ev.Data)
		case stream.EventTerminated:
			o.output.Flush()
			o.logger.Debug("output_closed", "pid", o.proc.Pid())
		}
	}
	return nil
}

// watch waits for the child to exit, a stop signal, or the run deadline.
// Any of them ends in Terminate, which also reaps a child that already
// exited.
func (o *Orchestrator) watch(ctx context.Context, outputDone <-chan struct{}) error {
	defer o.stopDashboard()
	defer o.proc.Terminate()

	var deadline <-chan time.Time
	if o.config.Duration > 0 {
		timer := time.NewTimer(o.config.Duration)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(exitCheckPeriod)
	defer ticker.Stop()
	sampler := time.NewTicker(rateSamplePeriod)
	defer sampler.Stop()
	o.stats.SampleRates()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("stop_requested", "reason", context.Cause(ctx).Error())
			return nil
		case <-deadline:
			o.logger.Info("duration_elapsed", "duration", o.config.Duration.String())
			return nil
		case <-outputDone:
			outputDone = nil
			if !o.proc.IsRunning() {
				return nil
			}
		case <-ticker.C:
			if !o.proc.IsRunning() {
				o.awaitOutput(ctx, outputDone)
				return nil
			}
		case <-sampler.C:
			o.stats.SampleRates()
		}
	}
}

// awaitOutput lets consumeEvents finish the output of a child that has
// already exited. It gives up on a stop request or when no chunk has been
// consumed for outputStallTimeout.
func (o *Orchestrator) awaitOutput(ctx context.Context, outputDone <-chan struct{}) {
	if outputDone == nil {
		return
	}
	ticker := time.NewTicker(exitCheckPeriod)
	defer ticker.Stop()

	last := o.stats.Snapshot().BytesOut
	stalledSince := time.Now()
	for {
		select {
		case <-outputDone:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if n := o.stats.Snapshot().BytesOut; n != last {
			last, stalledSince = n, time.Now()
			continue
		}
		if time.Since(stalledSince) >= outputStallTimeout {
			o.logger.Warn("output_drain_stalled", "bytes_out", last)
			return
		}
	}
}

func (o *Orchestrator) stopDashboard() {
	if o.program == nil {
		return
	}
	if st, ok := o.proc.ExitStatus(); ok {
		tui.SendExited(o.program, st)
	}
	tui.SendQuit(o.program)
}

// feedInput writes -input-text or the -input file, then closes stdin.
func (o *Orchestrator) feedInput() error {
	if o.config.InputText != "" {
		if err := o.write([]byte(o.config.InputText)); err != nil {
			o.logger.Warn("input_write_failed", "error", err)
			return nil
		}
		o.closeStdin()
		return nil
	}

	f, err := os.Open(o.config.Input)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer f.Close()
	o.forwardInput(f)
	return nil
}

// forwardInput copies r to the child's stdin and closes it at EOF.
func (o *Orchestrator) forwardInput(r io.Reader) {
	buf := make([]byte, inputChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if werr := o.write(buf[:n]); werr != nil {
				o.logger.Warn("input_write_failed", "error", werr)
				return
			}
		}
		if errors.Is(err, io.EOF) {
			o.closeStdin()
			return
		}
		if err != nil {
			o.logger.Warn("input_read_failed", "error", err)
			o.closeStdin()
			return
		}
	}
}

// write sends p to the child and records the outcome.
func (o *Orchestrator) write(p []byte) error {
	start := time.Now()
	n, err := o.proc.Write(p)
	elapsed := time.Since(start)
	o.stats.RecordWrite(n, elapsed, err)
	o.metrics.RecordWrite(n, elapsed, err)
	return err
}

func (o *Orchestrator) closeStdin() {
	if err := o.proc.CloseStdin(); err != nil && !errors.Is(err, supervisor.ErrStdinClosed) {
		o.logger.Warn("close_stdin_failed", "error", err)
	}
}

// finish records output dropped during termination and prints the
// summary and the metrics dump.
func (o *Orchestrator) finish() {
	if ios := o.proc.IOStats(); ios.Dropped {
		o.stats.RecordDropped(1)
		o.metrics.RecordDropped(1)
	}

	if o.config.MetricsDump {
		if err := metrics.WriteText(o.stderr, o.registry); err != nil {
			o.logger.Warn("metrics_dump_failed", "error", err)
		}
	}
	if !o.config.TUIEnabled {
		o.printExitSummary()
	}
}

func (o *Orchestrator) shutdownMetrics() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := o.metricsServer.Shutdown(ctx); err != nil {
		o.logger.Warn("metrics_server_shutdown_error", "error", err)
	}
}

// printExitSummary prints a summary of the run.
func (o *Orchestrator) printExitSummary() {
	ms := o.metrics.Snapshot()
	fmt.Fprint(o.stderr, stats.FormatExitSummary(o.stats.Snapshot(), stats.SummaryConfig{
		Command:     o.proc.String(),
		MetricsAddr: o.config.MetricsAddr,
		ExitCodes:   ms.ExitCodes,
	}))
}

// Process returns the supervised child.
func (o *Orchestrator) Process() *supervisor.ManagedProcess {
	return o.proc
}

// Metrics returns the metrics collector.
func (o *Orchestrator) Metrics() *metrics.Collector {
	return o.metrics
}

// Stats returns the run statistics.
func (o *Orchestrator) Stats() *stats.RunStats {
	return o.stats
}

// Registry returns the Prometheus registry the collector is registered on.
func (o *Orchestrator) Registry() *prometheus.Registry {
	return o.registry
}

// dashboardView adapts the Orchestrator to tui.Process.
type dashboardView struct {
	o *Orchestrator
}

func (v dashboardView) Status(recent int) tui.Status {
	st, exited := v.o.proc.ExitStatus()
	return tui.Status{
		State:       v.o.proc.State(),
		Pid:         v.o.proc.Pid(),
		Exit:        st,
		Exited:      exited,
		Stats:       v.o.stats.Snapshot(),
		RecentLines: v.o.output.RecentLines(recent),
	}
}

func (v dashboardView) WriteLine(line string) error {
	return v.o.write([]byte(line + "\n"))
}

func (v dashboardView) CloseStdin() error {
	return v.o.proc.CloseStdin()
}

func (v dashboardView) Terminate() {
	v.o.proc.Terminate()
}
