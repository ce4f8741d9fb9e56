package process

import (
	"os"
	"sort"
	"strings"
)

// Environment is an immutable snapshot of KEY=VALUE entries handed to the
// child at launch. The zero value is an empty environment.
type Environment struct {
	entries []string
}

// SnapshotEnvironment copies the calling process's environment.
func SnapshotEnvironment() Environment {
	return NewEnvironment(os.Environ())
}

// NewEnvironment builds an Environment from KEY=VALUE entries. Entries
// without '=' are dropped; later duplicates override earlier ones.
func NewEnvironment(entries []string) Environment {
	index := make(map[string]int, len(entries))
	out := make([]string, 0, len(entries))
	for _, kv := range entries {
		key, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if i, seen := index[envKey(key)]; seen {
			out[i] = kv
			continue
		}
		index[envKey(key)] = len(out)
		out = append(out, kv)
	}
	return Environment{entries: out}
}

// Lookup returns the value of key and whether it is present.
func (e Environment) Lookup(key string) (string, bool) {
	want := envKey(key)
	for _, kv := range e.entries {
		k, v, _ := strings.Cut(kv, "=")
		if envKey(k) == want {
			return v, true
		}
	}
	return "", false
}

// Overlay returns a new Environment with the given variables added or
// replaced. The receiver is not modified.
func (e Environment) Overlay(vars map[string]string) Environment {
	if len(vars) == 0 {
		return e
	}
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]string, 0, len(e.entries)+len(vars))
	entries = append(entries, e.entries...)
	for _, k := range keys {
		entries = append(entries, k+"="+vars[k])
	}
	return NewEnvironment(entries)
}

// Entries returns a copy of the KEY=VALUE list.
func (e Environment) Entries() []string {
	out := make([]string, len(e.entries))
	copy(out, e.entries)
	return out
}

// Len returns the number of variables.
func (e Environment) Len() int {
	return len(e.entries)
}
