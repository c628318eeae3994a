package service

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/Ning0612/reprefix/internal/bundle"
	"github.com/Ning0612/reprefix/internal/core/rewrite"
	"github.com/Ning0612/reprefix/internal/domain"
	"github.com/Ning0612/reprefix/internal/lock"
	"github.com/Ning0612/reprefix/internal/logger"
	"github.com/Ning0612/reprefix/internal/staging"
	"github.com/Ning0612/reprefix/internal/state"
	"github.com/Ning0612/reprefix/internal/wrapper"
)

// InstallBundle installs an in-memory bootstrap bundle built for source so
// that it runs under target at finalRoot. Empty source and target select
// the configured identity, an empty finalRoot the configured root.
//
// Any failure is an *domain.InstallError and leaves finalRoot as it was.
// Wrapper failures after a successful promote are logged and recorded as a
// partial install but do not fail the call.
func (s *Service) InstallBundle(ctx context.Context, data []byte, source, target, finalRoot string) error {
	rule := s.rule
	if source != "" || target != "" {
		var err error
		if rule, err = rewrite.New(source, target); err != nil {
			return &domain.InstallError{Stage: domain.StageExtract, Err: err}
		}
	}
	open := func() (bundle.Reader, error) { return bundle.OpenBytes(data) }
	return s.install(ctx, "<memory>", open, rule, finalRoot)
}

// InstallBundleFile installs the bundle file at p with the configured
// identity into the configured root
func (s *Service) InstallBundleFile(ctx context.Context, p string) error {
	open := func() (bundle.Reader, error) { return bundle.Open(p) }
	return s.install(ctx, p, open, s.rule, "")
}

func (s *Service) stagingRoot(finalRoot string) string {
	if filepath.Clean(finalRoot) == filepath.Clean(s.config.Root) {
		return s.config.Staging
	}
	return finalRoot + ".staging"
}

func (s *Service) install(ctx context.Context, subject string, open func() (bundle.Reader, error), rule rewrite.Rule, finalRoot string) error {
	if finalRoot == "" {
		finalRoot = s.config.Root
	}
	op, rec := s.begin(logger.KindInstall, finalRoot)
	op.Info("install started", "bundle", subject, "rule", rule.String())

	fail := func(err error) error {
		op.Error("install failed", "error", err)
		s.finish(ctx, op, rec, state.StatusFailed, "bundle="+subject, err)
		return err
	}

	fl, err := lock.NewFileLock(s.config.LockDir, finalRoot)
	if err == nil {
		err = fl.Acquire(string(logger.KindInstall))
	}
	if err != nil {
		return fail(&domain.InstallError{Stage: domain.StageLock, Path: finalRoot, Err: err})
	}
	defer func() {
		if err := fl.Release(); err != nil {
			op.Error("failed to release install lock", "error", err)
		}
	}()

	r, err := open()
	if err != nil {
		return fail(&domain.InstallError{Stage: domain.StageExtract, Path: subject,
			Err: fmt.Errorf("%w: %w", domain.ErrExtraction, err)})
	}
	defer r.Close()

	mgr := &staging.Manager{
		Classifier: s.classifier,
		Rule:       rule,
		ExecDirs:   s.config.Bundle.ExecutableDirs,
		Manifest:   s.config.Bundle.Manifest,
		Delimiters: s.config.Bundle.Delimiters,
		Algorithm:  s.algorithm(),
		Reporter:   s.getReporter(),
		Metrics:    s.metrics,
		Log:        op,
	}
	res, err := mgr.Stage(ctx, r, s.stagingRoot(finalRoot), finalRoot)
	if err != nil {
		return fail(err)
	}

	synth := &wrapper.Synthesizer{Root: finalRoot, Classifier: s.classifier, Log: op, Metrics: s.metrics}
	report := synth.Apply(ctx, s.config.WrapperSpecs())

	status := state.StatusSuccess
	var wrapErr error
	if errs := report.Errors(); len(errs) > 0 {
		status = state.StatusPartial
		wrapErr = fmt.Errorf("%d wrapper(s) failed: %v", len(errs), errs)
	}
	detail := fmt.Sprintf("files=%d rewritten=%d native=%d wrapped=%d",
		res.Files(), len(res.Rewritten), res.Counts[domain.NativeExecutable], report.Count(wrapper.OutcomeCreated))

	op.Info("install finished", "status", status, "files", res.Files(), "rewritten", len(res.Rewritten),
		"wrapped", report.Count(wrapper.OutcomeCreated), "duration", s.now().Sub(rec.StartTime))
	s.finish(ctx, op, rec, status, detail, wrapErr)
	return nil
}
