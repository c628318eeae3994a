// Package process replaces the current process image with another
// executable.
package process

import (
	"errors"
	"os/exec"
	"strings"
)

// ErrNotFound is returned by Lookup when name is not on PATH
var ErrNotFound = errors.New("executable not found")

// Lookup resolves name against the PATH entry of env, falling back to the
// current process PATH
func Lookup(name string, env []string) (string, error) {
	if strings.Contains(name, "/") {
		return name, nil
	}
	for _, kv := range env {
		if p, ok := strings.CutPrefix(kv, "PATH="); ok {
			for _, dir := range strings.Split(p, ":") {
				if dir == "" {
					dir = "."
				}
				if cand := dir + "/" + name; isExecutable(cand) {
					return cand, nil
				}
			}
			return "", ErrNotFound
		}
	}
	p, err := exec.LookPath(name)
	if err != nil {
		return "", ErrNotFound
	}
	return p, nil
}
