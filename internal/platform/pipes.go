package platform

import (
	"errors"
	"fmt"
	"os"
)

// PipeSet holds the pipes for one launch. Parent ends stay with the
// supervisor; child ends are inherited by the child and closed in the parent
// right after the launch call returns.
type PipeSet struct {
	StdinParent  *FD // parent writes
	StdinChild   *FD
	StdoutParent *FD // parent reads
	StdoutChild  *FD

	// StderrChild is the null device for StderrDiscard, nil otherwise.
	StderrChild *FD

	mode StderrMode
}

// NewPipeSet opens the pipes for mode. On failure everything opened so far
// is closed.
func NewPipeSet(mode StderrMode) (_ *PipeSet, err error) {
	ps := &PipeSet{mode: mode}
	defer func() {
		if err != nil {
			ps.Close()
		}
	}()

	w, r, err := openPipe("stdin", false)
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	ps.StdinParent, ps.StdinChild = NewFD(w), NewFD(r)

	r, w, err = openPipe("stdout", true)
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	ps.StdoutParent, ps.StdoutChild = NewFD(r), NewFD(w)

	if mode == StderrDiscard {
		null, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", os.DevNull, err)
		}
		ps.StderrChild = NewFD(null)
	}
	return ps, nil
}

// ChildFiles returns the files to install as the child's fds 0, 1 and 2.
func (ps *PipeSet) ChildFiles() [3]*os.File {
	files := [3]*os.File{ps.StdinChild.File(), ps.StdoutChild.File(), os.Stderr}
	switch ps.mode {
	case StderrDiscard:
		files[2] = ps.StderrChild.File()
	case StderrMerge:
		files[2] = ps.StdoutChild.File()
	}
	return files
}

// CloseChildEnds closes the ends handed to the child. A stray stdout write
// end left open here would keep the parent from ever reading EOF.
func (ps *PipeSet) CloseChildEnds() error {
	return errors.Join(ps.StdinChild.Close(), ps.StdoutChild.Close(), ps.StderrChild.Close())
}

// Close closes every end.
func (ps *PipeSet) Close() error {
	return errors.Join(ps.CloseChildEnds(), ps.StdinParent.Close(), ps.StdoutParent.Close())
}
