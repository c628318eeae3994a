package staging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Ning0612/reprefix/internal/adapter/local"
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

// Manager stages a bundle next to the final root and swaps it in
type Manager struct {
	Classifier *classify.Classifier
	Rule       rewrite.Rule
	ExecDirs   []string
	Manifest   string
	Delimiters []string
	Algorithm  checksum.Algorithm
	Reporter   progress.Reporter
	Metrics    metrics.Metrics
	Log        logger.Logger
}

// Stage extracts r into stagingRoot, resolves its symlinks, checks that
// native executables are unchanged and promotes the result to finalRoot.
// On any failure the staging root is removed and finalRoot is untouched.
func (m *Manager) Stage(ctx context.Context, r bundle.Reader, stagingRoot, finalRoot string) (*Result, error) {
	log := m.Log
	if log == nil {
		log = logger.Get()
	}

	// 清掉上次中斷留下的 staging
	if err := os.RemoveAll(stagingRoot); err != nil {
		return nil, &domain.InstallError{Stage: domain.StageExtract, Path: stagingRoot,
			Err: fmt.Errorf("%w: remove stale staging: %w", domain.ErrExtraction, err)}
	}

	res, err := m.stage(ctx, r, stagingRoot, finalRoot, log)
	if err != nil {
		if rmErr := os.RemoveAll(stagingRoot); rmErr != nil {
			log.Warn("failed to remove staging root", "path", stagingRoot, "error", rmErr)
		}
		return res, err
	}
	return res, nil
}

func (m *Manager) stage(ctx context.Context, r bundle.Reader, stagingRoot, finalRoot string, log logger.Logger) (*Result, error) {
	tree, err := local.New(stagingRoot)
	if err != nil {
		return nil, &domain.InstallError{Stage: domain.StageExtract, Path: stagingRoot,
			Err: fmt.Errorf("%w: %w", domain.ErrExtraction, err)}
	}

	ex := &Extractor{
		Tree:       tree,
		Classifier: m.Classifier,
		Rule:       m.Rule,
		ExecDirs:   m.ExecDirs,
		Manifest:   m.Manifest,
		Algorithm:  m.Algorithm,
		Reporter:   m.Reporter,
		Metrics:    m.Metrics,
		Log:        log,
	}
	started := time.Now()
	res, err := ex.Extract(ctx, r)
	if err != nil {
		return res, err
	}
	log.Info("bundle extracted",
		"files", res.Files(),
		"dirs", res.Dirs,
		"rewritten", len(res.Rewritten),
		"native", res.Counts[domain.NativeExecutable],
		"duration", time.Since(started))

	directives := append([]domain.Directive(nil), res.Links...)
	if res.Manifest != "" {
		parsed, err := symlink.ParseManifest(res.Manifest, m.Delimiters)
		if err != nil {
			return res, symlinkError(err)
		}
		directives = append(directives, parsed...)
	}

	resolver := &symlink.Resolver{Tree: tree, Rule: m.Rule, Log: log}
	n, err := resolver.Resolve(ctx, directives)
	if err != nil {
		return res, symlinkError(err)
	}
	log.Info("symlinks resolved", "count", n)

	if err := res.Digests.Verify(ctx, tree.Root(), nil); err != nil {
		var mm *checksum.MismatchError
		if errors.As(err, &mm) {
			return res, &domain.InstallError{Stage: domain.StageVerify, Path: mm.Paths[0],
				Err: fmt.Errorf("%w: %v", domain.ErrBinaryModified, err)}
		}
		return res, &domain.InstallError{Stage: domain.StageVerify, Err: err}
	}

	if err := Promote(stagingRoot, finalRoot); err != nil {
		return res, &domain.InstallError{Stage: domain.StagePromote, Path: finalRoot, Err: err}
	}
	log.Info("staging promoted", "root", finalRoot)
	return res, nil
}

func symlinkError(err error) error {
	ie := &domain.InstallError{Stage: domain.StageSymlinks, Err: err}
	var de *symlink.DirectiveError
	if errors.As(err, &de) {
		ie.Directive = de.Directive.Line
	}
	return ie
}

// Promote replaces finalRoot with stagingRoot. An existing final root is
// moved aside first and restored if the swap fails.
func Promote(stagingRoot, finalRoot string) error {
	if err := os.MkdirAll(filepath.Dir(finalRoot), 0755); err != nil {
		return err
	}

	old := finalRoot + ".old"
	if err := os.RemoveAll(old); err != nil {
		return fmt.Errorf("remove previous backup: %w", err)
	}

	hadFinal := false
	if _, err := os.Lstat(finalRoot); err == nil {
		if err := os.Rename(finalRoot, old); err != nil {
			return fmt.Errorf("move current root aside: %w", err)
		}
		hadFinal = true
	}

	if err := os.Rename(stagingRoot, finalRoot); err != nil {
		if hadFinal {
			if rerr := os.Rename(old, finalRoot); rerr != nil {
				return fmt.Errorf("promote staging: %w (restore failed: %v)", err, rerr)
			}
		}
		return fmt.Errorf("promote staging: %w", err)
	}

	if hadFinal {
		if err := os.RemoveAll(old); err != nil {
			logger.Get().Warn("failed to remove previous root", "path", old, "error", err)
		}
	}
	return nil
}
