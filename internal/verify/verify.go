// Package verify inspects an installed root for the problems a partial or
// interrupted migration leaves behind and repairs the mechanical ones.
package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/Ning0612/reprefix/internal/core/classify"
	"github.com/Ning0612/reprefix/internal/core/rewrite"
	"github.com/Ning0612/reprefix/internal/interpose"
	"github.com/Ning0612/reprefix/internal/logger"
	"github.com/Ning0612/reprefix/internal/symlink"
	"github.com/Ning0612/reprefix/internal/wrapper"
)

// Severity of a finding
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Check names
const (
	CheckDirectory = "directory"
	CheckBinary    = "binary"
	CheckLibrary   = "library"
	CheckDpkg      = "dpkg-status"
	CheckExecBit   = "exec-bit"
	CheckSymlink   = "dangling-symlink"
	CheckOldPath   = "old-identity-path"
	CheckWrapper   = "wrapper"
	CheckInterpose = "interpose"
	CheckEnv       = "environment"
)

var (
	// EssentialDirs must exist directly below the root
	EssentialDirs = []string{"bin", "lib", "etc", "var", "share"}
	// EssentialBinaries are looked up in bin/ and bin/applets/
	EssentialBinaries = []string{
		"bash", "sh", "ls", "cat", "cp", "mv", "rm", "mkdir", "chmod", "chown",
		"grep", "sed", "awk", "tar", "gzip", "dpkg", "apt", "apt-get", "apt-cache", "pkg",
	}
	// EssentialLibs match lib/<name>* so versioned sonames count
	EssentialLibs = []string{"libc.so", "libdl.so", "libm.so", "libz.so", "libncurses.so", "libreadline.so"}
)

// DpkgStatus is the dpkg database status file below the root
const DpkgStatus = "var/lib/dpkg/status"

// Finding is one problem (or note) about the root
type Finding struct {
	Check    string   `json:"check" yaml:"check"`
	Severity Severity `json:"severity" yaml:"severity"`
	Path     string   `json:"path,omitempty" yaml:"path,omitempty"`
	Message  string   `json:"message" yaml:"message"`
	// Fixable findings are handled by Repair
	Fixable bool `json:"fixable" yaml:"fixable"`
}

// Report is the outcome of Check
type Report struct {
	Root     string           `json:"root" yaml:"root"`
	Findings []Finding        `json:"findings" yaml:"findings"`
	Wrappers []wrapper.Status `json:"wrappers" yaml:"wrappers"`
}

// OK reports whether no error-level finding exists
func (r *Report) OK() bool {
	return r.Count(SeverityError) == 0
}

// Count returns the number of findings with severity s
func (r *Report) Count(s Severity) int {
	n := 0
	for _, f := range r.Findings {
		if f.Severity == s {
			n++
		}
	}
	return n
}

// ByCheck returns the findings of one check
func (r *Report) ByCheck(check string) []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Check == check {
			out = append(out, f)
		}
	}
	return out
}

func (r *Report) add(f Finding) { r.Findings = append(r.Findings, f) }

// Options configure Check and Repair
type Options struct {
	Root       string
	Rule       rewrite.Rule
	Classifier *classify.Classifier
	Wrappers   []wrapper.Spec
	// Prefix is the runtime path regenerated wrappers use, Root by default
	Prefix string
	// Library is the interposition library path; empty skips that check
	Library string
	// Env is checked for PREFIX, HOME and LD_PRELOAD; nil skips the checks
	Env []string
	// MaxTextSize bounds the files scanned for old-identity paths
	MaxTextSize int64
	Log         logger.Logger
}

func (o *Options) defaults() {
	if o.Classifier == nil {
		o.Classifier = classify.NewDefault()
	}
	if o.MaxTextSize <= 0 {
		o.MaxTextSize = 4 << 20
	}
	if o.Log == nil {
		o.Log = logger.Get()
	}
}

// Check inspects opts.Root. The returned error is only for conditions
// that stop the inspection itself (missing root, cancellation).
func Check(ctx context.Context, opts Options) (*Report, error) {
	opts.defaults()
	info, err := os.Stat(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", opts.Root)
	}

	r := &Report{Root: opts.Root}
	checkLayout(opts, r)

	if err := checkExecBits(ctx, opts, r); err != nil {
		return nil, err
	}

	broken, err := symlink.Broken(ctx, opts.Root)
	if err != nil {
		return nil, err
	}
	for _, p := range broken {
		target, _ := os.Readlink(filepath.Join(opts.Root, filepath.FromSlash(p)))
		r.add(Finding{Check: CheckSymlink, Severity: SeverityWarn, Path: p,
			Message: "dangling symlink to " + target, Fixable: true})
	}

	stray, err := strayTextFiles(ctx, opts)
	if err != nil {
		return nil, err
	}
	for _, p := range stray {
		r.add(Finding{Check: CheckOldPath, Severity: SeverityWarn, Path: p,
			Message: "text file still references " + opts.Rule.Source(), Fixable: true})
	}

	if len(opts.Wrappers) > 0 {
		statuses, err := wrapper.Inspect(ctx, opts.Root, opts.Wrappers, opts.Classifier)
		if err != nil {
			return nil, err
		}
		r.Wrappers = statuses
		for _, st := range statuses {
			switch st.State {
			case wrapper.StateUnwrapped:
				r.add(Finding{Check: CheckWrapper, Severity: SeverityWarn, Path: st.Path, Message: st.Message, Fixable: true})
			case wrapper.StateBroken:
				r.add(Finding{Check: CheckWrapper, Severity: SeverityError, Path: st.Path, Message: st.Message, Fixable: true})
			}
		}
	}

	checkInterpose(opts, r)
	checkEnv(opts, r)

	opts.Log.Debug("doctor check finished", "root", opts.Root, "findings", len(r.Findings),
		"errors", r.Count(SeverityError), "warnings", r.Count(SeverityWarn))
	return r, nil
}

func checkLayout(opts Options, r *Report) {
	for _, d := range EssentialDirs {
		if info, err := os.Stat(filepath.Join(opts.Root, d)); err != nil || !info.IsDir() {
			r.add(Finding{Check: CheckDirectory, Severity: SeverityError, Path: d, Message: "missing directory"})
		}
	}

	for _, b := range EssentialBinaries {
		if !exists(filepath.Join(opts.Root, "bin", b)) && !exists(filepath.Join(opts.Root, "bin", "applets", b)) {
			r.add(Finding{Check: CheckBinary, Severity: SeverityWarn, Path: path.Join("bin", b), Message: "missing binary"})
		}
	}

	for _, lib := range EssentialLibs {
		matches, _ := filepath.Glob(filepath.Join(opts.Root, "lib", lib) + "*")
		if len(matches) == 0 {
			r.add(Finding{Check: CheckLibrary, Severity: SeverityWarn, Path: path.Join("lib", lib), Message: "missing library"})
		}
	}

	if !exists(filepath.Join(opts.Root, filepath.FromSlash(DpkgStatus))) {
		r.add(Finding{Check: CheckDpkg, Severity: SeverityError, Path: DpkgStatus, Message: "dpkg status file missing"})
	}
}

// checkExecBits flags regular files in bin/ that the owner cannot execute
func checkExecBits(ctx context.Context, opts Options, r *Report) error {
	files, err := nonExecutable(ctx, opts.Root)
	if err != nil {
		return err
	}
	for _, p := range files {
		r.add(Finding{Check: CheckExecBit, Severity: SeverityError, Path: p, Message: "not executable", Fixable: true})
	}
	return nil
}

func nonExecutable(ctx context.Context, root string) ([]string, error) {
	bin := filepath.Join(root, "bin")
	entries, err := os.ReadDir(bin)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []string
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.Type().IsRegular() {
			continue
		}
		p := filepath.Join(bin, e.Name())
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.Mode().Perm()&0100 == 0 {
			out = append(out, path.Join("bin", e.Name()))
			continue
		}
		// 權限位元正確但實際不可執行（例如 noexec 掛載）
		if unix.Access(p, unix.X_OK) != nil {
			out = append(out, path.Join("bin", e.Name()))
		}
	}
	return out, nil
}

// strayTextFiles returns text files that still contain the old identity
func strayTextFiles(ctx context.Context, opts Options) ([]string, error) {
	if opts.Rule.IsZero() {
		return nil, nil
	}

	var out []string
	err := filepath.WalkDir(opts.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() || strings.HasSuffix(p, wrapper.RealSuffix) {
			return nil
		}
		rel, _ := filepath.Rel(opts.Root, p)
		rel = filepath.ToSlash(rel)

		data, ok, err := readText(p, rel, opts)
		if err != nil || !ok {
			return err
		}
		if opts.Rule.Contains(data) {
			out = append(out, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// readText returns the content of p when the classifier allows rewriting
// it and it is no larger than MaxTextSize
func readText(p, rel string, opts Options) ([]byte, bool, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, false, nil
	}
	defer f.Close()

	head := make([]byte, classify.HeadSize)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.EOF && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, false, err
	}
	head = head[:n]
	if !opts.Classifier.Classify(rel, head).Rewritable() {
		return nil, false, nil
	}

	rest, err := io.ReadAll(io.LimitReader(f, opts.MaxTextSize-int64(n)+1))
	if err != nil {
		return nil, false, err
	}
	if int64(n+len(rest)) > opts.MaxTextSize {
		opts.Log.Debug("text file too large to scan", "path", rel)
		return nil, false, nil
	}
	data := append(head, rest...)
	if bytes.IndexByte(data, 0) >= 0 {
		return nil, false, nil
	}
	return data, true, nil
}

func checkInterpose(opts Options, r *Report) {
	if opts.Library == "" {
		return
	}
	present := exists(opts.Library)
	if !present {
		r.add(Finding{Check: CheckInterpose, Severity: SeverityInfo, Path: opts.Library,
			Message: "interposition library not built"})
	}
	if opts.Env == nil {
		return
	}
	switch {
	case interpose.Active(opts.Env, opts.Library) && !present:
		r.add(Finding{Check: CheckInterpose, Severity: SeverityError, Path: opts.Library,
			Message: "LD_PRELOAD names a library that does not exist"})
	case present && interpose.Enabled(opts.Env) && !interpose.Active(opts.Env, opts.Library):
		r.add(Finding{Check: CheckInterpose, Severity: SeverityWarn, Path: opts.Library,
			Message: interpose.EnableEnv + "=1 but LD_PRELOAD does not load the library"})
	}
}

func checkEnv(opts Options, r *Report) {
	if opts.Env == nil || opts.Rule.IsZero() {
		return
	}
	prefix := interpose.Getenv(opts.Env, "PREFIX")
	switch {
	case prefix == "":
		r.add(Finding{Check: CheckEnv, Severity: SeverityInfo, Message: "PREFIX is not set"})
	case opts.Rule.MatchPrefix(prefix):
		r.add(Finding{Check: CheckEnv, Severity: SeverityError, Path: prefix, Message: "PREFIX points at the old identity"})
	case filepath.Clean(prefix) != filepath.Clean(opts.Root):
		r.add(Finding{Check: CheckEnv, Severity: SeverityWarn, Path: prefix, Message: "PREFIX differs from the install root"})
	}

	if home := interpose.Getenv(opts.Env, "HOME"); home != "" && opts.Rule.MatchPrefix(home) {
		r.add(Finding{Check: CheckEnv, Severity: SeverityError, Path: home, Message: "HOME points at the old identity"})
	}
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
