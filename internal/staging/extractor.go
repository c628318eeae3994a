// Package staging extracts a bundle into a private staging tree, applying
// the classify-then-rewrite policy to every entry, and promotes the tree
// to its final location once it is complete.
package staging

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/Ning0612/reprefix/internal/adapter"
	"github.com/Ning0612/reprefix/internal/bundle"
	"github.com/Ning0612/reprefix/internal/core/checksum"
	"github.com/Ning0612/reprefix/internal/core/classify"
	"github.com/Ning0612/reprefix/internal/core/rewrite"
	"github.com/Ning0612/reprefix/internal/domain"
	"github.com/Ning0612/reprefix/internal/logger"
	"github.com/Ning0612/reprefix/internal/metrics"
	"github.com/Ning0612/reprefix/internal/progress"
	"github.com/Ning0612/reprefix/internal/symlink"
)

// DefaultManifest is the bundle's symlink manifest name
const DefaultManifest = "SYMLINKS.txt"

// DefaultExecDirs lists locations whose files must be executable.
// Entries ending in "/" match a subtree, others an exact path.
var DefaultExecDirs = []string{
	"bin/",
	"libexec/",
	"lib/apt/apt-helper",
	"lib/apt/methods/",
	"lib/apt/solvers/",
}

// maxManifestSize bounds the manifest read into memory
const maxManifestSize = 16 << 20

// Extractor streams bundle entries into a tree
type Extractor struct {
	Tree       adapter.Tree
	Classifier *classify.Classifier
	Rule       rewrite.Rule
	ExecDirs   []string
	Manifest   string
	Algorithm  checksum.Algorithm
	Reporter   progress.Reporter
	Metrics    metrics.Metrics
	Log        logger.Logger
}

// Result summarizes one extraction
type Result struct {
	Dirs      int
	Counts    map[domain.Verdict]int
	Bytes     int64
	Rewritten []string
	// Manifest holds the symlink manifest text, empty when the bundle has none
	Manifest string
	// Links are symlink entries carried by the archive itself
	Links   []domain.Directive
	Digests *checksum.Ledger
}

// Files returns the number of regular files staged
func (r *Result) Files() int {
	n := 0
	for _, c := range r.Counts {
		n += c
	}
	return n
}

func (e *Extractor) defaults() {
	if e.Classifier == nil {
		e.Classifier = classify.NewDefault()
	}
	if e.ExecDirs == nil {
		e.ExecDirs = DefaultExecDirs
	}
	if e.Manifest == "" {
		e.Manifest = DefaultManifest
	}
	if e.Algorithm == "" {
		e.Algorithm = checksum.BLAKE3
	}
	if e.Reporter == nil {
		e.Reporter = progress.NullReporter{}
	}
	if e.Metrics == nil {
		e.Metrics = metrics.Noop{}
	}
	if e.Log == nil {
		e.Log = logger.Get()
	}
}

// Extract drains r into the tree. The first failure aborts with an
// *domain.InstallError at the extract stage; the tree is left for the
// caller to discard.
func (e *Extractor) Extract(ctx context.Context, r bundle.Reader) (*Result, error) {
	e.defaults()
	res := &Result{
		Counts:  make(map[domain.Verdict]int),
		Digests: checksum.NewLedger(e.Algorithm),
	}

	for {
		if err := ctx.Err(); err != nil {
			return res, extractError("", err)
		}

		entry, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, extractError("", err)
		}

		if err := e.entry(ctx, entry, res); err != nil {
			e.Reporter.Error(entry.Path, err)
			return res, extractError(entry.Path, err)
		}
	}

	e.Reporter.Done()
	return res, nil
}

func extractError(p string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &domain.InstallError{Stage: domain.StageExtract, Path: p, Err: err}
	}
	return &domain.InstallError{
		Stage: domain.StageExtract,
		Path:  p,
		Err:   fmt.Errorf("%w: %w", domain.ErrExtraction, err),
	}
}

func (e *Extractor) entry(ctx context.Context, entry *domain.Entry, res *Result) error {
	switch {
	case entry.IsDir:
		res.Dirs++
		return e.Tree.Mkdir(ctx, entry.Path)
	case entry.IsSymlink():
		res.Links = append(res.Links, symlink.FromEntry(entry))
		return nil
	case entry.Path == e.Manifest:
		data, err := io.ReadAll(io.LimitReader(entry.Body, maxManifestSize+1))
		if err != nil {
			return err
		}
		if len(data) > maxManifestSize {
			return fmt.Errorf("manifest larger than %d bytes", maxManifestSize)
		}
		res.Manifest = string(data)
		return nil
	}

	mode := entry.Mode.Perm()
	if mode == 0 {
		mode = 0644
	}
	if e.executable(entry.Path) {
		mode |= 0700
	}

	body := entry.Body
	if body == nil {
		body = bytes.NewReader(nil)
	}
	br := bufio.NewReaderSize(body, classify.HeadSize)
	head, err := br.Peek(classify.HeadSize)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return err
	}

	verdict, rule := e.Classifier.Explain(entry.Path, head)
	if rule == "" {
		e.Log.Debug("entry unclassified, copying verbatim", "path", entry.Path)
	}

	var n int64
	switch verdict {
	case domain.TextArtifact:
		n, err = e.writeText(ctx, entry.Path, br, mode, res)
	case domain.NativeExecutable:
		e.Log.Info("entry classified native", "path", entry.Path, "rule", rule)
		n, err = e.writeNative(ctx, entry.Path, br, mode, res)
	default:
		n, err = e.Tree.WriteFile(ctx, entry.Path, br, mode)
	}
	if err != nil {
		return err
	}

	res.Counts[verdict]++
	res.Bytes += n
	e.Metrics.IncEntry(verdict.String())
	e.Reporter.Entry(entry.Path, verdict, n)
	return nil
}

func (e *Extractor) writeText(ctx context.Context, p string, r io.Reader, mode os.FileMode, res *Result) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}

	rule := e.Rule
	if isMD5Sums(p) {
		rule = rule.Relative()
	}
	out, count := rule.ApplyBytesCount(data)

	n, err := e.Tree.WriteFile(ctx, p, bytes.NewReader(out), mode)
	if err != nil {
		return n, err
	}

	if count > 0 {
		res.Rewritten = append(res.Rewritten, p)
		e.Metrics.IncRewritten()
		e.Log.Info("entry rewritten", "path", p, "occurrences", count)
	}
	return n, nil
}

// writeNative copies the entry byte for byte and records its digest so
// the staged copy can be checked again before promotion
func (e *Extractor) writeNative(ctx context.Context, p string, r io.Reader, mode os.FileMode, res *Result) (int64, error) {
	h, err := checksum.NewHash(e.Algorithm)
	if err != nil {
		return 0, err
	}

	n, err := e.Tree.WriteFile(ctx, p, io.TeeReader(r, h), mode)
	if err != nil {
		return n, err
	}
	res.Digests.Record(p, checksum.Sum(h))
	return n, nil
}

func (e *Extractor) executable(p string) bool {
	for _, d := range e.ExecDirs {
		if strings.HasSuffix(d, "/") {
			if strings.HasPrefix(p, d) {
				return true
			}
		} else if p == d {
			return true
		}
	}
	return false
}

func isMD5Sums(p string) bool {
	base := path.Base(p)
	return base == "md5sums" || strings.HasSuffix(base, ".md5sums")
}
