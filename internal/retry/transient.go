package retry

import (
	"errors"
	"os"
	"syscall"
)

// IsTransient reports whether err is an interrupted or would-block
// condition that the caller should retry after a short pause. A passed
// write or read deadline counts as would-block.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.EINTR) ||
		errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, os.ErrDeadlineExceeded)
}

// Do calls op until it succeeds, fails with a non-transient error, or the
// attempt budget of b is spent. The last error is returned in the latter two
// cases.
func Do(b *Backoff, op func() error) error {
	for {
		err := op()
		if !IsTransient(err) {
			return err
		}
		if !b.Pause() {
			return err
		}
	}
}
