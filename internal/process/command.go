package process

import "strings"

// Command describes a program invocation before resolution.
type Command struct {
	// Program is a path or a bare name searched in PATH.
	Program string

	// Args is a pre-built argument list. When non-nil it is used verbatim
	// and ArgString is ignored.
	Args []string

	// ArgString is split on whitespace when Args is nil.
	ArgString string

	// Substitutions expand %k parameters in ArgString and in each Args
	// element before splitting.
	Substitutions map[rune]string
}

// Build resolves the program against env and returns the argument vector
// handed to exec.
func (c Command) Build(env Environment) ArgumentVector {
	program := ResolveProgram(c.Program, env)
	if c.Args != nil {
		args := make([]string, len(c.Args))
		for i, a := range c.Args {
			args[i] = Substitute(a, c.Substitutions)
		}
		return NewArgumentVector(program, args)
	}
	return SplitArgs(program, Substitute(c.ArgString, c.Substitutions))
}

// String returns the unresolved command line, for display only.
func (c Command) String() string {
	if c.Args != nil {
		parts := make([]string, 0, len(c.Args)+1)
		parts = append(parts, c.Program)
		for _, a := range c.Args {
			parts = append(parts, Substitute(a, c.Substitutions))
		}
		return strings.Join(parts, " ")
	}
	if s := strings.TrimSpace(Substitute(c.ArgString, c.Substitutions)); s != "" {
		return c.Program + " " + s
	}
	return c.Program
}
