//go:build windows

package process

import (
	"os/exec"
	"strings"
)

// envKey normalizes variable names for comparison. Windows names are
// case-insensitive.
func envKey(key string) string {
	return strings.ToUpper(key)
}

// ResolveProgram returns the path CreateProcess will load for name, applying
// PATHEXT. When nothing matches, name is returned unchanged so the launch
// fails at creation time.
func ResolveProgram(name string, env Environment) string {
	if name == "" || strings.ContainsAny(name, `\/`) {
		return name
	}
	// exec.LookPath reads the live PATH; the snapshot is taken from the same
	// process so the two only differ when a caller overlays PATH.
	if path, ok := env.Lookup("PATH"); ok && path != "" {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return name
}
