//go:build linux

package platform

import "golang.org/x/sys/unix"

// newPipe returns a close-on-exec pipe created atomically.
func newPipe() (r, w int, err error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC); err != nil {
		return -1, -1, err
	}
	return p[0], p[1], nil
}
