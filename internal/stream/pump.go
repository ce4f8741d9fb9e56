package stream

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/randomizedcoder/go-managed-exec/internal/retry"
)

// DefaultChunkSize is the read buffer size used when PumpConfig leaves it 0.
const DefaultChunkSize = 32 * 1024

// PumpConfig configures a Pump.
type PumpConfig struct {
	ChunkSize int
	Retry     retry.Config
	Logger    *slog.Logger
}

// Pump reads a child's stdout until EOF or a hard error, emitting one Data
// event per non-empty read followed by exactly one Terminated event. It then
// closes the event channel.
//
// Lifecycle:
//
//  1. pump := NewPump(stdout, events, cfg)
//  2. go pump.Run()
//  3. ... closing stdout or the child exiting ends Run ...
//  4. <-pump.Done()
//
// There is no forced stop. Abandon only releases a Run blocked on a send
// nobody will receive.
type Pump struct {
	r      io.Reader
	events chan<- Event
	config PumpConfig
	logger *slog.Logger

	done        chan struct{}
	abandon     chan struct{}
	abandonOnce sync.Once

	bytesRead  atomic.Int64
	chunks     atomic.Int64
	delivered  atomic.Int64
	dropped    atomic.Bool
	terminated atomic.Bool

	errMu sync.Mutex
	err   error
}

// NewPump creates a Pump feeding events. The Pump owns events and closes it
// when Run returns.
func NewPump(r io.Reader, events chan<- Event, cfg PumpConfig) *Pump {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Retry == (retry.Config{}) {
		cfg.Retry = retry.DefaultConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pump{
		r:       r,
		events:  events,
		config:  cfg,
		logger:  logger,
		done:    make(chan struct{}),
		abandon: make(chan struct{}),
	}
}

// Run reads until the stream ends. MUST run in its own goroutine and MUST
// be called once.
func (p *Pump) Run() {
	defer close(p.done)
	defer close(p.events)

	buf := make([]byte, p.config.ChunkSize)
	backoff := retry.NewBackoff(p.config.Retry)

	for {
		n, err := p.r.Read(buf)
		if n > 0 {
			backoff.Reset()
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			p.bytesRead.Add(int64(n))
			p.chunks.Add(1)
			if !p.send(Data(chunk)) {
				p.dropped.Store(true)
				p.logger.Debug("pump_abandoned", "bytes_read", p.bytesRead.Load())
				return
			}
		}
		if err == nil && n > 0 {
			continue
		}
		// A zero-length read without an error is treated as would-block.
		if err == nil || retry.IsTransient(err) {
			if backoff.Pause() {
				continue
			}
		}
		p.finish(err)
		return
	}
}

func (p *Pump) finish(err error) {
	if err != nil && !errors.Is(err, io.EOF) {
		p.errMu.Lock()
		p.err = err
		p.errMu.Unlock()
	}

	if p.send(Terminated()) {
		p.terminated.Store(true)
	} else {
		p.dropped.Store(true)
	}

	attrs := []any{
		"bytes_read", p.bytesRead.Load(),
		"chunks", p.chunks.Load(),
	}
	switch {
	case err == nil || errors.Is(err, io.EOF):
		attrs = append(attrs, "reason", "eof")
	case errors.Is(err, os.ErrClosed):
		attrs = append(attrs, "reason", "closed")
	default:
		attrs = append(attrs, "reason", "error", "error", err)
	}
	p.logger.Debug("pump_exit", attrs...)
}

// send delivers ev unless the Pump has been abandoned. Room in a buffered
// channel is used even after Abandon.
func (p *Pump) send(ev Event) bool {
	select {
	case p.events <- ev:
		p.delivered.Add(1)
		return true
	default:
	}
	select {
	case p.events <- ev:
		p.delivered.Add(1)
		return true
	case <-p.abandon:
		return false
	}
}

// Abandon makes pending and future sends give up once the channel is full.
// It is safe to call more than once.
func (p *Pump) Abandon() {
	p.abandonOnce.Do(func() { close(p.abandon) })
}

// Done is closed when Run has returned and the event channel is closed.
func (p *Pump) Done() <-chan struct{} {
	return p.done
}

// PumpStats is a snapshot of pump counters.
type PumpStats struct {
	BytesRead int64
	Chunks    int64

	// Delivered counts events handed to the channel, Terminated included.
	Delivered int64

	// Terminated is true once the Terminated event was delivered.
	Terminated bool

	// Dropped is true when Abandon caused an event to be discarded.
	Dropped bool

	// Err is the read error that ended the pump; nil for EOF.
	Err error
}

// Stats returns the current counters.
func (p *Pump) Stats() PumpStats {
	p.errMu.Lock()
	err := p.err
	p.errMu.Unlock()
	return PumpStats{
		BytesRead:  p.bytesRead.Load(),
		Chunks:     p.chunks.Load(),
		Delivered:  p.delivered.Load(),
		Terminated: p.terminated.Load(),
		Dropped:    p.dropped.Load(),
		Err:        err,
	}
}
