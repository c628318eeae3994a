package wrapper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"github.com/Ning0612/reprefix/internal/adapter/local"
	"github.com/Ning0612/reprefix/internal/core/classify"
	"github.com/Ning0612/reprefix/internal/domain"
	"github.com/Ning0612/reprefix/internal/logger"
	"github.com/Ning0612/reprefix/internal/metrics"
)

// Outcome of wrapping one executable
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomePresent Outcome = "present"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Result reports one spec
type Result struct {
	Name    string
	Path    string
	Outcome Outcome
	Reason  string
	Err     error
	Wrapped *domain.WrappedExecutable
}

// Report collects the results of one Apply
type Report struct {
	Results []Result
}

// Count returns how many results have outcome o
func (r Report) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Errors returns the per-spec failures
func (r Report) Errors() []error {
	var errs []error
	for _, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	return errs
}

var scriptTemplate = template.Must(template.New("wrapper").Parse(`#!{{.Shell}}
PREFIX={{.Prefix}}
{{- range .Dirs}}
[ -d {{.}} ] || mkdir -p {{.}} 2>/dev/null
{{- end}}
{{- range .Env}}
export {{.}}
{{- end}}
exec "$PREFIX/{{.Real}}"{{range .Args}} {{.}}{{end}} "$@"
`))

type scriptData struct {
	Shell  string
	Prefix string
	Real   string
	Dirs   []string
	Env    []string
	Args   []string
}

// Synthesizer writes wrappers under Root
type Synthesizer struct {
	// Root is the installed tree on disk
	Root string
	// Prefix is the path the scripts see at runtime, Root by default
	Prefix string
	// Shell is the interpreter line, <Prefix>/bin/sh by default
	Shell      string
	Classifier *classify.Classifier
	Log        logger.Logger
	Metrics    metrics.Metrics
}

func (s *Synthesizer) prefix() string {
	if s.Prefix != "" {
		return s.Prefix
	}
	return s.Root
}

func (s *Synthesizer) shell() string {
	if s.Shell != "" {
		return s.Shell
	}
	return s.prefix() + "/bin/sh"
}

// Render returns the wrapper script for spec
func (s *Synthesizer) Render(spec Spec) ([]byte, error) {
	data := scriptData{
		Shell:  s.shell(),
		Prefix: shellWord(s.prefix()),
		Real:   spec.RealPath(),
	}
	for _, d := range spec.Dirs {
		data.Dirs = append(data.Dirs, shellWord(d))
	}
	for _, a := range spec.Args {
		data.Args = append(data.Args, shellWord(a))
	}
	keys := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		data.Env = append(data.Env, k+"="+shellWord(spec.Env[k]))
	}

	var buf bytes.Buffer
	if err := scriptTemplate.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Apply wraps every spec. Failures are recorded per spec and never stop
// the remaining specs.
func (s *Synthesizer) Apply(ctx context.Context, specs []Spec) Report {
	log := s.Log
	if log == nil {
		log = logger.Get()
	}
	m := s.Metrics
	if m == nil {
		m = metrics.Noop{}
	}
	if s.Classifier == nil {
		s.Classifier = classify.NewDefault()
	}

	var report Report
	tree, err := local.Open(s.Root)
	for _, spec := range specs {
		var res Result
		switch {
		case err != nil:
			res = Result{Name: spec.Name, Path: spec.Path, Outcome: OutcomeFailed,
				Err: fmt.Errorf("%w: %s: %w", domain.ErrWrapperGeneration, spec.Name, err)}
		case ctx.Err() != nil:
			res = Result{Name: spec.Name, Path: spec.Path, Outcome: OutcomeFailed, Err: ctx.Err()}
		default:
			res = s.wrap(ctx, tree, spec)
		}

		switch res.Outcome {
		case OutcomeCreated:
			log.Info("wrapper created", "name", res.Name, "path", res.Path)
		case OutcomePresent:
			log.Debug("wrapper already present", "name", res.Name, "path", res.Path)
		case OutcomeSkipped:
			log.Info("wrapper skipped", "name", res.Name, "path", res.Path, "reason", res.Reason)
		case OutcomeFailed:
			log.Warn("wrapper failed", "name", res.Name, "path", res.Path, "error", res.Err)
		}
		m.IncWrapper(string(res.Outcome))
		report.Results = append(report.Results, res)
	}
	return report
}

func (s *Synthesizer) wrap(ctx context.Context, tree *local.Tree, spec Spec) Result {
	res := Result{Name: spec.Name, Path: spec.Path}
	fail := func(err error) Result {
		res.Outcome = OutcomeFailed
		res.Err = fmt.Errorf("%w: %s: %w", domain.ErrWrapperGeneration, spec.Name, err)
		return res
	}

	info, err := tree.Lstat(ctx, spec.Path)
	if errors.Is(err, domain.ErrNotFound) {
		res.Outcome = OutcomeSkipped
		res.Reason = "executable not present"
		return res
	}
	if err != nil {
		return fail(err)
	}
	if !info.Mode().IsRegular() {
		res.Outcome = OutcomeSkipped
		res.Reason = "not a regular file"
		return res
	}

	head, err := readHead(ctx, tree, spec.Path)
	if err != nil {
		return fail(err)
	}

	script, err := s.Render(spec)
	if err != nil {
		return fail(err)
	}

	realExists, err := tree.Exists(ctx, spec.RealPath())
	if err != nil {
		return fail(err)
	}

	// 已包裝：原路徑是 script 且 .real 存在，只更新 script
	if realExists && classify.HasShebang(head) {
		if _, err := tree.WriteFile(ctx, spec.Path, bytes.NewReader(script), 0700); err != nil {
			return fail(err)
		}
		res.Outcome = OutcomePresent
		res.Wrapped = s.wrapped(spec)
		return res
	}

	if verdict := s.Classifier.Classify(spec.Path, head); verdict != domain.NativeExecutable {
		res.Outcome = OutcomeSkipped
		res.Reason = fmt.Sprintf("classified %s, not a native executable", verdict)
		return res
	}

	abs, err := tree.Abs(spec.Path)
	if err != nil {
		return fail(err)
	}
	realAbs, err := tree.Abs(spec.RealPath())
	if err != nil {
		return fail(err)
	}

	// An upgraded package may have put a fresh binary back at the
	// original path; it replaces the stale .real.
	if err := os.Rename(abs, realAbs); err != nil {
		return fail(err)
	}
	if _, err := tree.WriteFile(ctx, spec.Path, bytes.NewReader(script), 0700); err != nil {
		if rerr := os.Rename(realAbs, abs); rerr != nil {
			return fail(fmt.Errorf("%w (restore failed: %v)", err, rerr))
		}
		return fail(err)
	}

	res.Outcome = OutcomeCreated
	res.Wrapped = s.wrapped(spec)
	return res
}

func (s *Synthesizer) wrapped(spec Spec) *domain.WrappedExecutable {
	p := s.prefix()
	args := make([]string, len(spec.Args))
	for i, a := range spec.Args {
		args[i] = strings.ReplaceAll(a, PrefixVar, p)
	}
	return &domain.WrappedExecutable{
		OriginalPath:      filepath.ToSlash(filepath.Join(p, spec.Path)),
		RealPath:          filepath.ToSlash(filepath.Join(p, spec.RealPath())),
		InjectedArguments: args,
	}
}

func readHead(ctx context.Context, tree *local.Tree, p string) ([]byte, error) {
	return readUpTo(ctx, tree, p, classify.HeadSize)
}

func readUpTo(ctx context.Context, tree *local.Tree, p string, limit int64) ([]byte, error) {
	rc, err := tree.Open(ctx, p)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return io.ReadAll(io.LimitReader(rc, limit))
}
