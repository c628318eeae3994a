package interpose

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/Ning0612/reprefix/internal/process"
)

type unixSyscalls struct{}

// Unix resolves the host's own system calls
func Unix() Syscalls { return unixSyscalls{} }

func (unixSyscalls) Open(path string, flags int, mode uint32) (int, error) {
	return unix.Open(path, flags, mode)
}

func (unixSyscalls) Openat(dirfd int, path string, flags int, mode uint32) (int, error) {
	return unix.Openat(dirfd, path, flags, mode)
}

func (unixSyscalls) Stat(path string, st *unix.Stat_t) error  { return unix.Stat(path, st) }
func (unixSyscalls) Lstat(path string, st *unix.Stat_t) error { return unix.Lstat(path, st) }
func (unixSyscalls) Access(path string, mode uint32) error    { return unix.Access(path, mode) }

func (unixSyscalls) Readlink(path string, buf []byte) (int, error) {
	return unix.Readlink(path, buf)
}

func (unixSyscalls) Execve(path string, argv, envv []string) error {
	return process.Replace(path, argv, envv)
}

func (unixSyscalls) OpenFile(path string, flag int, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(path, flag, perm)
}

func (unixSyscalls) Rename(from, to string) error         { return unix.Rename(from, to) }
func (unixSyscalls) Unlink(path string) error             { return unix.Unlink(path) }
func (unixSyscalls) Mkdir(path string, mode uint32) error { return unix.Mkdir(path, mode) }
func (unixSyscalls) Rmdir(path string) error              { return unix.Rmdir(path) }
func (unixSyscalls) Chdir(path string) error              { return unix.Chdir(path) }
func (unixSyscalls) Chmod(path string, mode uint32) error { return unix.Chmod(path, mode) }
func (unixSyscalls) Chown(path string, uid, gid int) error {
	return unix.Chown(path, uid, gid)
}
func (unixSyscalls) Link(oldpath, newpath string) error { return unix.Link(oldpath, newpath) }
func (unixSyscalls) Symlink(target, linkpath string) error {
	return unix.Symlink(target, linkpath)
}
