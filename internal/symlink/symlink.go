// Package symlink parses the bundle's symlink manifest and materializes
// its directives inside a staging tree.
package symlink

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Ning0612/reprefix/internal/adapter"
	"github.com/Ning0612/reprefix/internal/core/rewrite"
	"github.com/Ning0612/reprefix/internal/domain"
	"github.com/Ning0612/reprefix/internal/logger"
)

// DefaultDelimiters separate target and link path in a manifest line
var DefaultDelimiters = []string{"←", "<-"}

// DirectiveError reports the directive that failed, by its literal text
type DirectiveError struct {
	Directive domain.Directive
	Err       error
}

func (e *DirectiveError) Error() string {
	return fmt.Sprintf("symlink directive %q: %v", e.Directive.Line, e.Err)
}

func (e *DirectiveError) Unwrap() []error {
	return []error{domain.ErrSymlinkResolution, e.Err}
}

// ParseManifest splits manifest text into directives, one per non-blank
// line of the form target<delim>linkPath.
func ParseManifest(text string, delimiters []string) ([]domain.Directive, error) {
	if len(delimiters) == 0 {
		delimiters = DefaultDelimiters
	}

	var out []domain.Directive
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		d, err := ParseLine(line, delimiters)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: read manifest: %v", domain.ErrSymlinkResolution, err)
	}
	return out, nil
}

// ParseLine parses one manifest line. The earliest delimiter wins.
func ParseLine(line string, delimiters []string) (domain.Directive, error) {
	d := domain.Directive{Line: line}

	at, width := -1, 0
	for _, delim := range delimiters {
		if delim == "" {
			continue
		}
		if i := strings.Index(line, delim); i >= 0 && (at < 0 || i < at) {
			at, width = i, len(delim)
		}
	}
	if at < 0 {
		return d, &DirectiveError{Directive: d, Err: errors.New("missing delimiter")}
	}

	d.Target = strings.TrimSpace(line[:at])
	d.LinkPath = strings.TrimSpace(line[at+width:])
	if d.Target == "" || d.LinkPath == "" {
		return d, &DirectiveError{Directive: d, Err: errors.New("empty target or link path")}
	}
	return d, nil
}

// FromEntry converts a symlink entry found in a tar bundle into a directive
func FromEntry(e *domain.Entry) domain.Directive {
	return domain.Directive{
		Target:   e.LinkTarget,
		LinkPath: e.Path,
		Line:     e.LinkTarget + DefaultDelimiters[0] + e.Path,
	}
}

// Resolver materializes directives in a tree
type Resolver struct {
	Tree adapter.Tree
	Rule rewrite.Rule
	Log  logger.Logger
}

// Resolve creates every directive's link, in order. Link paths are
// confined to the tree, targets are rewritten but otherwise stored
// verbatim. The first failing directive aborts with a DirectiveError.
func (r *Resolver) Resolve(ctx context.Context, directives []domain.Directive) (int, error) {
	log := r.Log
	if log == nil {
		log = logger.Get()
	}

	for i, d := range directives {
		if err := ctx.Err(); err != nil {
			return i, err
		}

		target := d.Target
		if !r.Rule.IsZero() {
			target = r.Rule.Apply(target)
		}

		link := strings.TrimPrefix(d.LinkPath, "./")
		if link == "" || link == "." {
			return i, &DirectiveError{Directive: d, Err: errors.New("link path names the root")}
		}

		if err := r.Tree.Symlink(ctx, target, link); err != nil {
			return i, &DirectiveError{Directive: d, Err: err}
		}
		log.Debug("symlink created", "link", link, "target", target)
	}
	return len(directives), nil
}

// Broken walks root and returns the root-relative paths of dangling links
func Broken(ctx context.Context, root string) ([]string, error) {
	var broken []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.Type()&fs.ModeSymlink == 0 {
			return nil
		}

		if _, err := os.Stat(p); err != nil && errors.Is(err, fs.ErrNotExist) {
			rel, _ := filepath.Rel(root, p)
			broken = append(broken, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(broken)
	return broken, nil
}
