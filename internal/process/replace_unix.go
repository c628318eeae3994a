//go:build unix

package process

import (
	"golang.org/x/sys/unix"
)

// Replace execs path with argv and env. On success it does not return.
func Replace(path string, argv, env []string) error {
	return unix.Exec(path, argv, env)
}

func isExecutable(p string) bool {
	var st unix.Stat_t
	if err := unix.Stat(p, &st); err != nil || st.Mode&unix.S_IFMT == unix.S_IFDIR {
		return false
	}
	return unix.Access(p, unix.X_OK) == nil
}
