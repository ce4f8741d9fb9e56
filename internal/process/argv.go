// Package process builds the inputs of a child process launch: the argument
// vector handed to exec and the environment snapshot it runs with.
package process

import (
	"strings"
)

// ArgumentVector is an ordered, immutable list of program arguments.
// Element 0 is always the resolved program path.
type ArgumentVector struct {
	argv []string
}

// SplitArgs builds an ArgumentVector from a program path and a single
// argument string.
//
// Whitespace is the only delimiter: quotes and backslashes are passed
// through literally. Callers needing arguments that contain spaces must use
// NewArgumentVector instead. An empty argument string yields a vector holding
// only the program path.
func SplitArgs(program, args string) ArgumentVector {
	return NewArgumentVector(program, strings.Fields(args))
}

// NewArgumentVector builds an ArgumentVector from a program path and a
// pre-built argument list. The list is copied.
func NewArgumentVector(program string, args []string) ArgumentVector {
	argv := make([]string, 0, len(args)+1)
	argv = append(argv, program)
	argv = append(argv, args...)
	return ArgumentVector{argv: argv}
}

// Program returns element 0, the program path.
func (a ArgumentVector) Program() string {
	if len(a.argv) == 0 {
		return ""
	}
	return a.argv[0]
}

// Args returns a copy of the full vector, program path included.
func (a ArgumentVector) Args() []string {
	out := make([]string, len(a.argv))
	copy(out, a.argv)
	return out
}

// Len returns the number of elements, program path included.
func (a ArgumentVector) Len() int {
	return len(a.argv)
}

// IsZero reports whether the vector was never built.
func (a ArgumentVector) IsZero() bool {
	return len(a.argv) == 0
}

// WithProgram returns a copy with element 0 replaced, typically by the
// result of a PATH lookup.
func (a ArgumentVector) WithProgram(program string) ArgumentVector {
	if len(a.argv) == 0 {
		return NewArgumentVector(program, nil)
	}
	return NewArgumentVector(program, a.argv[1:])
}

// String returns the vector joined by single spaces, for display only.
func (a ArgumentVector) String() string {
	return strings.Join(a.argv, " ")
}
