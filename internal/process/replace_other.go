//go:build !unix

package process

import (
	"errors"
	"os"
	"os/exec"
)

// Replace runs path as a child with the caller's stdio and exits with the
// child's status once it finishes. There is no exec primitive here, so
// one extra process stays alive for the duration.
func Replace(path string, argv, env []string) error {
	cmd := exec.Command(path)
	cmd.Args = argv
	cmd.Env = env
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr

	err := cmd.Run()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		os.Exit(0)
	case errors.As(err, &exitErr):
		os.Exit(exitErr.ExitCode())
	}
	return err
}

func isExecutable(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}
