//go:build unix

package process

import (
	"os"
	"path/filepath"
	"strings"
)

// envKey normalizes variable names for comparison. POSIX names are
// case-sensitive.
func envKey(key string) string {
	return key
}

// ResolveProgram returns the path exec will load for name.
//
// Names containing a slash are returned unchanged. Otherwise each PATH entry
// of env is searched for an executable regular file. When nothing matches,
// name is returned unchanged so the launch fails at exec time.
func ResolveProgram(name string, env Environment) string {
	if name == "" || strings.Contains(name, "/") {
		return name
	}
	path, _ := env.Lookup("PATH")
	for _, dir := range filepath.SplitList(path) {
		if dir == "" {
			dir = "."
		}
		candidate := filepath.Join(dir, name)
		if isExecutable(candidate) {
			return candidate
		}
	}
	return name
}

func isExecutable(path string) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	return fi.Mode().IsRegular() && fi.Mode().Perm()&0o111 != 0
}
