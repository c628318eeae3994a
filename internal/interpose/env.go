package interpose

import (
	"path/filepath"
	"strings"
)

// Getenv looks key up in a KEY=value list; the last assignment wins
func Getenv(env []string, key string) string {
	val := ""
	for _, kv := range env {
		if k, v, ok := strings.Cut(kv, "="); ok && k == key {
			val = v
		}
	}
	return val
}

// Setenv returns env with key set to val, replacing earlier assignments
func Setenv(env []string, key, val string) []string {
	out := make([]string, 0, len(env)+1)
	for _, kv := range env {
		if k, _, ok := strings.Cut(kv, "="); ok && k == key {
			continue
		}
		out = append(out, kv)
	}
	return append(out, key+"="+val)
}

// Activate returns env with library first in LD_PRELOAD and interposition
// enabled. Activating twice is the same as once.
func Activate(env []string, library string) []string {
	preload := []string{library}
	for _, p := range preloadList(env) {
		if p != library {
			preload = append(preload, p)
		}
	}
	env = Setenv(env, PreloadEnv, strings.Join(preload, ":"))
	return Setenv(env, EnableEnv, "1")
}

// Active reports whether env preloads library with interposition enabled
func Active(env []string, library string) bool {
	if !Enabled(env) {
		return false
	}
	want := filepath.Clean(library)
	for _, p := range preloadList(env) {
		if filepath.Clean(p) == want {
			return true
		}
	}
	return false
}

// ld.so accepts both spaces and colons as separators
func preloadList(env []string) []string {
	return strings.FieldsFunc(Getenv(env, PreloadEnv), func(r rune) bool {
		return r == ':' || r == ' '
	})
}
