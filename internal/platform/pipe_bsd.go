//go:build unix && !linux

package platform

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// newPipe returns a close-on-exec pipe. Without pipe2 the flag is set under
// ForkLock so a concurrent fork cannot inherit the ends in between.
func newPipe() (r, w int, err error) {
	var p [2]int
	syscall.ForkLock.RLock()
	defer syscall.ForkLock.RUnlock()
	if err := unix.Pipe(p[:]); err != nil {
		return -1, -1, err
	}
	unix.CloseOnExec(p[0])
	unix.CloseOnExec(p[1])
	return p[0], p[1], nil
}
