package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Ning0612/reprefix/internal/adapter/local"
	"github.com/Ning0612/reprefix/internal/wrapper"
)

// RepairResult lists what Repair changed
type RepairResult struct {
	RemovedLinks []string `json:"removed_links" yaml:"removed_links"`
	Chmodded     []string `json:"chmodded" yaml:"chmodded"`
	Rewritten    []string `json:"rewritten" yaml:"rewritten"`
	Wrapped      []string `json:"wrapped" yaml:"wrapped"`
	// Failed maps a path to the error that stopped its repair
	Failed map[string]string `json:"failed,omitempty" yaml:"failed,omitempty"`
	// After is the report of the check run once repairs are done
	After *Report `json:"after" yaml:"after"`
}

func (r *RepairResult) fail(p string, err error) {
	if r.Failed == nil {
		r.Failed = make(map[string]string)
	}
	r.Failed[p] = err.Error()
}

// Repair fixes the fixable findings of report: dangling symlinks are
// removed, bin/ files get the execute bit, stray old-identity text is
// rewritten and wrappers are regenerated. A failed repair is recorded and
// the remaining ones still run. Root is checked again at the end.
func Repair(ctx context.Context, opts Options, report *Report) (*RepairResult, error) {
	opts.defaults()
	if report == nil {
		var err error
		if report, err = Check(ctx, opts); err != nil {
			return nil, err
		}
	}

	tree, err := local.Open(opts.Root)
	if err != nil {
		return nil, err
	}

	res := &RepairResult{}
	rewrap := false
	for _, f := range report.Findings {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if !f.Fixable {
			continue
		}

		switch f.Check {
		case CheckSymlink:
			if err := tree.RemoveAll(ctx, f.Path); err != nil {
				res.fail(f.Path, err)
				continue
			}
			res.RemovedLinks = append(res.RemovedLinks, f.Path)
		case CheckExecBit:
			info, err := tree.Lstat(ctx, f.Path)
			if err == nil {
				err = tree.Chmod(ctx, f.Path, info.Mode().Perm()|0111)
			}
			if err != nil {
				res.fail(f.Path, err)
				continue
			}
			res.Chmodded = append(res.Chmodded, f.Path)
		case CheckOldPath:
			changed, err := rewriteText(ctx, tree, opts, f.Path)
			if err != nil {
				res.fail(f.Path, err)
				continue
			}
			if changed {
				res.Rewritten = append(res.Rewritten, f.Path)
			}
		case CheckWrapper:
			rewrap = true
		}
	}

	if rewrap {
		s := &wrapper.Synthesizer{Root: opts.Root, Prefix: opts.Prefix, Classifier: opts.Classifier, Log: opts.Log}
		rep := s.Apply(ctx, opts.Wrappers)
		for _, r := range rep.Results {
			switch r.Outcome {
			case wrapper.OutcomeCreated:
				res.Wrapped = append(res.Wrapped, r.Path)
			case wrapper.OutcomeFailed:
				res.fail(r.Path, r.Err)
			}
		}
	}

	opts.Log.Info("doctor repair finished", "root", opts.Root,
		"removed_links", len(res.RemovedLinks), "chmodded", len(res.Chmodded),
		"rewritten", len(res.Rewritten), "wrapped", len(res.Wrapped), "failed", len(res.Failed))

	after, err := Check(ctx, opts)
	if err != nil {
		return res, err
	}
	res.After = after
	return res, nil
}

// rewriteText applies the rule to one text file in place, keeping its mode
func rewriteText(ctx context.Context, tree *local.Tree, opts Options, rel string) (bool, error) {
	abs, err := tree.Abs(rel)
	if err != nil {
		return false, err
	}
	data, ok, err := readText(abs, rel, opts)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, errors.New("not a rewritable text file")
	}
	out, n := opts.Rule.ApplyBytesCount(data)
	if n == 0 {
		return false, nil
	}

	info, err := os.Lstat(abs)
	if err != nil {
		return false, err
	}
	if _, err := tree.WriteFile(ctx, filepath.ToSlash(rel), bytes.NewReader(out), info.Mode().Perm()); err != nil {
		return false, fmt.Errorf("write %s: %w", rel, err)
	}
	opts.Log.Debug("rewrote stray path", "path", rel, "occurrences", n)
	return true, nil
}
