package deb

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/blakesmith/ar"

	"github.com/Ning0612/reprefix/internal/compress"
	"github.com/Ning0612/reprefix/internal/core/classify"
	"github.com/Ning0612/reprefix/internal/core/rewrite"
	"github.com/Ning0612/reprefix/internal/domain"
	"github.com/Ning0612/reprefix/internal/logger"
	"github.com/Ning0612/reprefix/internal/metrics"
)

// Outcome of one MaybeRewrite call
type Outcome string

const (
	OutcomeRewritten Outcome = "rewritten"
	OutcomeNoop      Outcome = "noop"
	OutcomeFallback  Outcome = "fallback"
)

// OutputSuffix replaces ".deb" on transcoded packages
const OutputSuffix = ".reprefix.deb"

// binarySniff is how much of a file is checked for NUL bytes, like grep -I
const binarySniff = 8000

// maintainerScripts must stay executable after rewriting
var maintainerScripts = map[string]bool{
	"preinst": true, "postinst": true, "prerm": true, "postrm": true,
	"config": true, "triggers": true,
}

// NeedsTranscode reports whether the data member of the package at p
// installs anything below the rule's source root. Only tar headers are
// read.
func NeedsTranscode(p string, rule rewrite.Rule) (bool, error) {
	if rule.IsZero() {
		return false, nil
	}
	found := false
	err := Walk(p, func(name string, _ *ar.Header, r io.Reader) error {
		if found || !strings.HasPrefix(name, DataPrefix) {
			return nil
		}
		dec, err := compress.NewKindReader(r, compress.FromName(name))
		if err != nil {
			return err
		}
		defer dec.Close()

		tr := tar.NewReader(dec)
		for {
			hdr, err := tr.Next()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("tar: %w", err)
			}
			if UnderRoot(hdr.Name, rule.Source()) {
				found = true
				return nil
			}
		}
	})
	return found, err
}

// UnderRoot reports whether the archive member name lies in root, by
// whole path components
func UnderRoot(name, root string) bool {
	p := path.Clean("/" + strings.TrimPrefix(name, "./"))
	root = path.Clean("/" + root)
	return p == root || strings.HasPrefix(p, root+"/")
}

// Transcoder rewrites package archives built for the old identity
type Transcoder struct {
	Rule rewrite.Rule
	// ScratchDir holds private work directories, os.TempDir() by default
	ScratchDir string
	// OutputDir receives rewritten packages, the input's directory by default
	OutputDir string
	// Compression overrides the member compression; nil keeps the input's
	Compression *compress.Kind
	Classifier  *classify.Classifier
	Log         logger.Logger
	Metrics     metrics.Metrics
	// Now stamps rebuilt members, time.Now by default
	Now func() time.Time
	// Name maps an input path to its output file name, OutputName by default
	Name func(input string) string
}

// Result describes one transcode attempt
type Result struct {
	Input string
	// Output is the package to install, Input itself unless Outcome is rewritten
	Output   string
	Outcome  Outcome
	Err      error
	Duration time.Duration
}

// MaybeRewrite returns the path of a package installable under the new
// identity: a rewritten copy when p installs under the old root, p itself
// otherwise. It never fails; any error yields p unchanged.
func (t *Transcoder) MaybeRewrite(ctx context.Context, p string) string {
	return t.Transcode(ctx, p).Output
}

// Transcode is MaybeRewrite with the outcome reported
func (t *Transcoder) Transcode(ctx context.Context, p string) Result {
	base := t.Log
	if base == nil {
		base = logger.Get()
	}
	m := t.Metrics
	if m == nil {
		m = metrics.Noop{}
	}
	// 呼叫端已開好 operation 時沿用同一個 op_id
	op, ok := base.(*logger.Op)
	if !ok {
		op = logger.OperationOn(base, logger.KindTranscode, p)
	}

	started := time.Now()
	out, err := t.Rewrite(ctx, p, op)
	res := Result{Input: p, Output: p, Duration: time.Since(started)}
	switch {
	case err != nil:
		res.Outcome = OutcomeFallback
		res.Err = fmt.Errorf("%w: %w", domain.ErrArchiveTranscode, err)
		op.Error("transcode outcome", "outcome", res.Outcome, "error", res.Err)
	case out == "":
		res.Outcome = OutcomeNoop
		op.Info("transcode outcome", "outcome", res.Outcome)
	default:
		res.Outcome = OutcomeRewritten
		res.Output = out
		op.Info("transcode outcome", "outcome", res.Outcome, "output", out, "duration", res.Duration)
	}
	m.IncTranscode(string(res.Outcome))
	return res
}

// Rewrite transcodes p and returns the output path, or "" when p has
// nothing under the old root. Errors are returned as is; MaybeRewrite is
// the non-failing entry point.
func (t *Transcoder) Rewrite(ctx context.Context, p string, log logger.Logger) (string, error) {
	if log == nil {
		log = logger.Get()
	}
	need, err := NeedsTranscode(p, t.Rule)
	if err != nil || !need {
		return "", err
	}

	scratch, err := os.MkdirTemp(t.ScratchDir, "reprefix-transcode-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(scratch)

	job := &job{t: t, log: log, scratch: scratch, rewritten: make(map[string]bool)}
	if err := job.unpack(ctx, p); err != nil {
		return "", err
	}
	if err := job.moveRoot(); err != nil {
		return "", err
	}
	if err := job.rewriteTrees(ctx); err != nil {
		return "", err
	}
	if err := job.fixControl(ctx); err != nil {
		return "", err
	}
	return job.pack(ctx, p)
}

type member struct {
	name string
	kind compress.Kind
	// raw holds members passed through untouched
	raw  []byte
	mode int64
}

type job struct {
	t         *Transcoder
	log       logger.Logger
	scratch   string
	members   []member
	rewritten map[string]bool
}

func (j *job) controlDir() string { return filepath.Join(j.scratch, "control") }
func (j *job) dataDir() string    { return filepath.Join(j.scratch, "data") }

func (j *job) unpack(ctx context.Context, p string) error {
	var sawControl, sawData bool
	err := Walk(p, func(name string, hdr *ar.Header, r io.Reader) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		m := member{name: name, mode: hdr.Mode}
		switch {
		case strings.HasPrefix(name, ControlPrefix):
			m.kind = compress.FromName(name)
			sawControl = true
			if err := extractTar(r, m.kind, j.controlDir()); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		case strings.HasPrefix(name, DataPrefix):
			m.kind = compress.FromName(name)
			sawData = true
			if err := extractTar(r, m.kind, j.dataDir()); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		default:
			raw, err := io.ReadAll(r)
			if err != nil {
				return err
			}
			m.raw = raw
		}
		j.members = append(j.members, m)
		return nil
	})
	if err != nil {
		return err
	}
	if !sawControl || !sawData {
		return fmt.Errorf("%w: package lacks control or data member", domain.ErrUnsupportedFormat)
	}
	return nil
}

// moveRoot renames data/<old> to data/<new> and prunes emptied parents
func (j *job) moveRoot() error {
	data := j.dataDir()
	oldDir := filepath.Join(data, filepath.FromSlash(strings.TrimPrefix(j.t.Rule.Source(), "/")))
	newDir := filepath.Join(data, filepath.FromSlash(strings.TrimPrefix(j.t.Rule.Target(), "/")))

	if _, err := os.Lstat(oldDir); err != nil {
		return fmt.Errorf("old root missing from data: %w", err)
	}
	if _, err := os.Lstat(newDir); err == nil {
		return fmt.Errorf("data already holds %s", j.t.Rule.Target())
	}
	if err := os.MkdirAll(filepath.Dir(newDir), 0755); err != nil {
		return err
	}
	if err := os.Rename(oldDir, newDir); err != nil {
		return err
	}

	for d := filepath.Dir(oldDir); d != data && strings.HasPrefix(d, data); d = filepath.Dir(d) {
		if err := os.Remove(d); err != nil {
			break
		}
	}
	j.log.Debug("data root moved", "from", j.t.Rule.Source(), "to", j.t.Rule.Target())
	return nil
}

// rewriteTrees walks data and control once, rewriting text files and
// link targets. Binary files are left alone.
func (j *job) rewriteTrees(ctx context.Context) error {
	classifier := j.t.Classifier
	if classifier == nil {
		classifier = classify.NewDefault()
	}

	for _, root := range []string{j.dataDir(), j.controlDir()} {
		isControl := root == j.controlDir()
		err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			rel, _ := filepath.Rel(root, p)
			rel = filepath.ToSlash(rel)

			switch {
			case d.Type()&fs.ModeSymlink != 0:
				return j.rewriteLink(p, rel)
			case !d.Type().IsRegular():
				return nil
			}

			rule := j.t.Rule
			if isControl && rel == "md5sums" {
				rule = rule.Relative()
			}
			changed, err := rewriteFile(p, rule, classifier)
			if err != nil {
				return fmt.Errorf("%s: %w", rel, err)
			}
			if changed {
				if !isControl {
					j.rewritten[rel] = true
				}
				j.log.Info("entry rewritten", "path", rel, "control", isControl)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (j *job) rewriteLink(p, rel string) error {
	target, err := os.Readlink(p)
	if err != nil {
		return err
	}
	next := j.t.Rule.Apply(target)
	if next == target {
		return nil
	}
	if err := os.Remove(p); err != nil {
		return err
	}
	j.log.Debug("link rewritten", "path", rel, "target", next)
	return os.Symlink(next, p)
}

// rewriteFile applies rule to a text file in place, keeping its mode.
// Files with a NUL in the first 8000 bytes or a native signature are
// skipped.
func rewriteFile(p string, rule rewrite.Rule, c *classify.Classifier) (bool, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return false, err
	}

	sniff := data
	if len(sniff) > binarySniff {
		sniff = sniff[:binarySniff]
	}
	if bytes.IndexByte(sniff, 0) >= 0 {
		return false, nil
	}
	if c.Classify(p, data) == domain.NativeExecutable {
		return false, nil
	}

	out, n := rule.ApplyBytesCount(data)
	if n == 0 {
		return false, nil
	}

	info, err := os.Stat(p)
	if err != nil {
		return false, err
	}
	if err := writeKeepingMode(p, out, info.Mode().Perm()); err != nil {
		return false, err
	}
	return true, nil
}

// writeKeepingMode replaces the content of p. Members unpacked read-only
// (0444, 0555) are made owner-writable for the write and get their own
// mode back afterwards.
func writeKeepingMode(p string, data []byte, perm os.FileMode) (err error) {
	if perm&0200 == 0 {
		if err := os.Chmod(p, perm|0200); err != nil {
			return err
		}
		defer func() {
			if cerr := os.Chmod(p, perm); err == nil {
				err = cerr
			}
		}()
	}
	return os.WriteFile(p, data, perm)
}

// fixControl regenerates md5sums for rewritten data files and restores
// the exec bit on maintainer scripts
func (j *job) fixControl(ctx context.Context) error {
	ctl := j.controlDir()

	sums := filepath.Join(ctl, "md5sums")
	if _, err := os.Stat(sums); err == nil {
		if err := regenerateMD5Sums(ctx, sums, j.dataDir(), j.rewritten); err != nil {
			return fmt.Errorf("md5sums: %w", err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	for name := range maintainerScripts {
		p := filepath.Join(ctl, name)
		if _, err := os.Lstat(p); err != nil {
			continue
		}
		if err := os.Chmod(p, 0755); err != nil {
			return err
		}
	}
	return nil
}

func (j *job) pack(ctx context.Context, input string) (string, error) {
	now := time.Now
	if j.t.Now != nil {
		now = j.t.Now
	}
	mtime := now()

	var sources []Source
	var files []*os.File
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()

	for _, m := range j.members {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		if m.raw != nil {
			src := Bytes(m.name, m.raw)
			src.ModTime, src.Mode = mtime, m.mode
			sources = append(sources, src)
			continue
		}

		kind := m.kind
		if j.t.Compression != nil {
			kind = *j.t.Compression
		}
		base, dir := ControlPrefix, j.controlDir()
		if strings.HasPrefix(m.name, DataPrefix) {
			base, dir = DataPrefix, j.dataDir()
		}
		name := base + kind.Ext()

		f, err := os.Create(filepath.Join(j.scratch, name))
		if err != nil {
			return "", err
		}
		files = append(files, f)
		if err := writeTar(f, dir, kind, mtime); err != nil {
			return "", fmt.Errorf("%s: %w", name, err)
		}
		size, err := f.Seek(0, io.SeekCurrent)
		if err != nil {
			return "", err
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return "", err
		}
		sources = append(sources, Source{Name: name, ModTime: mtime, Mode: m.mode, Size: size, Body: f})
	}

	outDir := j.t.OutputDir
	if outDir == "" {
		outDir = filepath.Dir(input)
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return "", err
	}
	name := OutputName
	if j.t.Name != nil {
		name = j.t.Name
	}
	out := filepath.Join(outDir, name(input))

	tmp, err := os.CreateTemp(outDir, ".reprefix-*.deb.tmp")
	if err != nil {
		return "", err
	}
	if err := WritePackage(tmp, sources); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), out); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return out, nil
}

// OutputName maps "foo_1.0_aarch64.deb" to "foo_1.0_aarch64.reprefix.deb"
func OutputName(input string) string {
	base := filepath.Base(input)
	base = strings.TrimSuffix(base, OutputSuffix)
	base = strings.TrimSuffix(base, ".deb")
	return base + OutputSuffix
}
