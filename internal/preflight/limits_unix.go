//go:build unix

package preflight

import (
	"math"

	"golang.org/x/sys/unix"
)

func openFileLimit() (int, bool) {
	var limit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &limit); err != nil {
		return 0, false
	}
	if limit.Cur > math.MaxInt32 {
		return math.MaxInt32, true
	}
	return int(limit.Cur), true
}
