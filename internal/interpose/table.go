package interpose

import (
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

func (t *Table) Open(path string, flags int, mode uint32) (fd int, err error) {
	t.with(path, func(p string) { fd, err = t.originals().Open(p, flags, mode) })
	return fd, err
}

func (t *Table) Openat(dirfd int, path string, flags int, mode uint32) (fd int, err error) {
	t.with(path, func(p string) { fd, err = t.originals().Openat(dirfd, p, flags, mode) })
	return fd, err
}

func (t *Table) Stat(path string, st *unix.Stat_t) (err error) {
	t.with(path, func(p string) { err = t.originals().Stat(p, st) })
	return err
}

func (t *Table) Lstat(path string, st *unix.Stat_t) (err error) {
	t.with(path, func(p string) { err = t.originals().Lstat(p, st) })
	return err
}

func (t *Table) Access(path string, mode uint32) (err error) {
	t.with(path, func(p string) { err = t.originals().Access(p, mode) })
	return err
}

func (t *Table) Readlink(path string, buf []byte) (n int, err error) {
	t.with(path, func(p string) { n, err = t.originals().Readlink(p, buf) })
	return n, err
}

// Execve rewrites only the executable path; argv and envv are passed as is
func (t *Table) Execve(path string, argv, envv []string) (err error) {
	t.with(path, func(p string) { err = t.originals().Execve(p, argv, envv) })
	return err
}

func (t *Table) OpenFile(path string, flag int, perm os.FileMode) (f *os.File, err error) {
	// *os.File keeps its name, so it must not alias the pooled buffer
	t.with(path, func(p string) { f, err = t.originals().OpenFile(strings.Clone(p), flag, perm) })
	return f, err
}

func (t *Table) Rename(from, to string) (err error) {
	t.with(from, func(a string) {
		t.with(to, func(b string) { err = t.originals().Rename(a, b) })
	})
	return err
}

func (t *Table) Unlink(path string) (err error) {
	t.with(path, func(p string) { err = t.originals().Unlink(p) })
	return err
}

func (t *Table) Mkdir(path string, mode uint32) (err error) {
	t.with(path, func(p string) { err = t.originals().Mkdir(p, mode) })
	return err
}

func (t *Table) Rmdir(path string) (err error) {
	t.with(path, func(p string) { err = t.originals().Rmdir(p) })
	return err
}

func (t *Table) Chdir(path string) (err error) {
	t.with(path, func(p string) { err = t.originals().Chdir(p) })
	return err
}

func (t *Table) Chmod(path string, mode uint32) (err error) {
	t.with(path, func(p string) { err = t.originals().Chmod(p, mode) })
	return err
}

func (t *Table) Chown(path string, uid, gid int) (err error) {
	t.with(path, func(p string) { err = t.originals().Chown(p, uid, gid) })
	return err
}

func (t *Table) Link(oldpath, newpath string) (err error) {
	t.with(oldpath, func(a string) {
		t.with(newpath, func(b string) { err = t.originals().Link(a, b) })
	})
	return err
}

// Symlink rewrites the link's own path only. The target text is stored
// verbatim so it keeps naming the location other layers resolve.
func (t *Table) Symlink(target, linkpath string) (err error) {
	t.with(linkpath, func(p string) { err = t.originals().Symlink(target, p) })
	return err
}

var _ Syscalls = (*Table)(nil)
