package platform

import (
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// FD owns one OS pipe end or file. Close is idempotent, so every error path
// and every teardown step may call it without tracking who closed first.
type FD struct {
	f      *os.File
	once   sync.Once
	err    error
	closed atomic.Bool
}

// NewFD takes ownership of f. A nil f yields an FD that is already closed.
func NewFD(f *os.File) *FD {
	d := &FD{f: f}
	if f == nil {
		d.closed.Store(true)
		d.once.Do(func() {})
	}
	return d
}

// File returns the underlying file. It stays valid until Close.
func (d *FD) File() *os.File {
	return d.f
}

// Name returns the file name, or "" for a nil FD.
func (d *FD) Name() string {
	if d == nil || d.f == nil {
		return ""
	}
	return d.f.Name()
}

func (d *FD) Read(p []byte) (int, error) {
	return d.f.Read(p)
}

func (d *FD) Write(p []byte) (int, error) {
	return d.f.Write(p)
}

// SetWriteDeadline forwards to the file. Files outside the runtime poller
// return os.ErrNoDeadline.
func (d *FD) SetWriteDeadline(t time.Time) error {
	return d.f.SetWriteDeadline(t)
}

func (d *FD) SetReadDeadline(t time.Time) error {
	return d.f.SetReadDeadline(t)
}

// Sync flushes the descriptor. Pipes usually report EINVAL; callers treat
// the result as advisory.
func (d *FD) Sync() error {
	return d.f.Sync()
}

// Close closes the file once. Later calls return the first result.
func (d *FD) Close() error {
	if d == nil {
		return nil
	}
	d.once.Do(func() {
		d.closed.Store(true)
		d.err = d.f.Close()
	})
	return d.err
}

// Closed reports whether Close has been called.
func (d *FD) Closed() bool {
	return d == nil || d.closed.Load()
}
