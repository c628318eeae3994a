// Package interpose rewrites path arguments of filesystem calls from the
// old identity to the new one at run time.
//
// It is a fallback for executables that neither text rewriting nor
// wrappers can fix. Nothing is rewritten unless REPREFIX_INTERPOSE=1 is
// set for the process. Go callers go through a Table; foreign processes
// load the C library rendered by RenderPreload through LD_PRELOAD.
package interpose

import (
	"os"
	"strings"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/Ning0612/reprefix/internal/core/rewrite"
	"github.com/Ning0612/reprefix/internal/logger"
)

const (
	// EnableEnv opts a process tree into interposition
	EnableEnv = "REPREFIX_INTERPOSE"
	// DebugEnv makes every rewrite visible on stderr (C) or the debug log (Go)
	DebugEnv = "REPREFIX_INTERPOSE_DEBUG"
	// PreloadEnv is the dynamic linker's preload list
	PreloadEnv = "LD_PRELOAD"

	// MaxPath bounds a rewritten path including the C terminator; longer
	// paths are passed through untouched
	MaxPath = 4096
)

// Intercepted lists the operations both the Go table and the preload
// library intercept
var Intercepted = []string{
	"open", "openat", "stat", "lstat", "access", "readlink", "execve", "fopen",
	"rename", "unlink", "mkdir", "rmdir", "chdir", "chmod", "chown", "link", "symlink",
}

// Syscalls is the set of path-accepting operations a Table delegates to.
// Path arguments are only valid for the duration of the call.
type Syscalls interface {
	Open(path string, flags int, mode uint32) (int, error)
	Openat(dirfd int, path string, flags int, mode uint32) (int, error)
	Stat(path string, st *unix.Stat_t) error
	Lstat(path string, st *unix.Stat_t) error
	Access(path string, mode uint32) error
	Readlink(path string, buf []byte) (int, error)
	Execve(path string, argv, envv []string) error
	OpenFile(path string, flag int, perm os.FileMode) (*os.File, error)
	Rename(from, to string) error
	Unlink(path string) error
	Mkdir(path string, mode uint32) error
	Rmdir(path string) error
	Chdir(path string) error
	Chmod(path string, mode uint32) error
	Chown(path string, uid, gid int) error
	Link(oldpath, newpath string) error
	Symlink(target, linkpath string) error
}

// Resolver produces the original operations. A Table calls it once.
type Resolver func() Syscalls

// Table is the Go side of the interception layer. The rule and the
// resolved originals never change after the first call.
type Table struct {
	rule    rewrite.Rule
	enabled bool
	resolve Resolver
	log     logger.Logger

	once sync.Once
	real Syscalls
}

// NewTable builds an enabled table. A nil resolver means the host's own
// system calls.
func NewTable(rule rewrite.Rule, resolve Resolver, log logger.Logger) *Table {
	if resolve == nil {
		resolve = Unix
	}
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &Table{rule: rule, enabled: !rule.IsZero(), resolve: resolve, log: log}
}

// Load builds the table for a process environment: a passthrough table
// unless EnableEnv is "1"
func Load(rule rewrite.Rule, env []string) *Table {
	log := logger.NewNullLogger()
	if Getenv(env, DebugEnv) == "1" {
		log = logger.Get().With("component", "interpose")
	}
	t := NewTable(rule, nil, log)
	t.enabled = t.enabled && Enabled(env)
	return t
}

// Enabled reports whether env opts into interposition
func Enabled(env []string) bool {
	return Getenv(env, EnableEnv) == "1"
}

// Enabled reports whether the table rewrites anything
func (t *Table) Enabled() bool { return t.enabled }

// Rule returns the table's rewrite rule
func (t *Table) Rule() rewrite.Rule { return t.rule }

func (t *Table) originals() Syscalls {
	t.once.Do(func() { t.real = t.resolve() })
	return t.real
}

var pathPool = sync.Pool{New: func() any { return new([MaxPath]byte) }}

// with calls fn with the rewritten form of path. The rewritten string
// lives in a pooled buffer that is reused once fn returns.
func (t *Table) with(path string, fn func(string)) {
	if !t.enabled || !t.rule.MatchPrefix(path) {
		fn(path)
		return
	}
	if t.rule.RewrittenLen(path) >= MaxPath {
		t.log.Debug("path too long, not rewriting", "path", path)
		fn(path)
		return
	}

	buf := pathPool.Get().(*[MaxPath]byte)
	defer pathPool.Put(buf)
	b, _ := t.rule.AppendPrefix(buf[:0], path)
	p := unsafe.String(unsafe.SliceData(b), len(b))
	t.log.Debug("rewrite", "from", path, "to", p)
	fn(p)
}

// Rewrite returns the path an intercepted call would see
func (t *Table) Rewrite(path string) string {
	var out string
	t.with(path, func(p string) { out = strings.Clone(p) })
	return out
}
