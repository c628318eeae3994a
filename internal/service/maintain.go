package service

import (
	"context"
	"fmt"

	"github.com/Ning0612/reprefix/internal/logger"
	"github.com/Ning0612/reprefix/internal/state"
	"github.com/Ning0612/reprefix/internal/verify"
	"github.com/Ning0612/reprefix/internal/wrapper"
)

// Wrap synthesizes the configured wrappers in the installed root
func (s *Service) Wrap(ctx context.Context) wrapper.Report {
	op, rec := s.begin(logger.KindWrap, s.config.Root)

	synth := &wrapper.Synthesizer{Root: s.config.Root, Classifier: s.classifier, Log: op, Metrics: s.metrics}
	report := synth.Apply(ctx, s.config.WrapperSpecs())

	status := state.StatusSuccess
	var err error
	switch errs := report.Errors(); {
	case len(errs) == len(report.Results) && len(errs) > 0:
		status = state.StatusFailed
		err = fmt.Errorf("all %d wrapper(s) failed: %v", len(errs), errs)
	case len(errs) > 0:
		status = state.StatusPartial
		err = fmt.Errorf("%d wrapper(s) failed: %v", len(errs), errs)
	case report.Count(wrapper.OutcomeCreated) == 0:
		status = state.StatusNoop
	}
	detail := fmt.Sprintf("created=%d present=%d skipped=%d",
		report.Count(wrapper.OutcomeCreated), report.Count(wrapper.OutcomePresent), report.Count(wrapper.OutcomeSkipped))
	s.finish(ctx, op, rec, status, detail, err)
	return report
}

// DoctorOptions returns the check options for the configured root. env is
// the environment to verify; nil skips the environment checks.
func (s *Service) DoctorOptions(env []string) verify.Options {
	return verify.Options{
		Root:       s.config.Root,
		Rule:       s.rule,
		Classifier: s.classifier,
		Wrappers:   s.config.WrapperSpecs(),
		Library:    s.config.Interpose.Library,
		Env:        env,
	}
}

// Doctor checks the installed root and, with fix, repairs what it can.
// The repair result is nil without fix.
func (s *Service) Doctor(ctx context.Context, env []string, fix bool) (*verify.Report, *verify.RepairResult, error) {
	op, rec := s.begin(logger.KindDoctor, s.config.Root)
	opts := s.DoctorOptions(env)
	opts.Log = op

	report, err := verify.Check(ctx, opts)
	if err != nil {
		s.finish(ctx, op, rec, state.StatusFailed, "", err)
		return nil, nil, err
	}

	var repair *verify.RepairResult
	if fix {
		if repair, err = verify.Repair(ctx, opts, report); err != nil {
			s.finish(ctx, op, rec, state.StatusFailed, "", err)
			return report, repair, err
		}
	}

	final := report
	if repair != nil && repair.After != nil {
		final = repair.After
	}
	status := state.StatusSuccess
	if !final.OK() {
		status = state.StatusFailed
	}
	detail := fmt.Sprintf("errors=%d warnings=%d", final.Count(verify.SeverityError), final.Count(verify.SeverityWarn))
	if repair != nil {
		detail += fmt.Sprintf(" fixed=%d", len(repair.RemovedLinks)+len(repair.Chmodded)+len(repair.Rewritten)+len(repair.Wrapped))
	}
	op.Info("doctor finished", "ok", final.OK(), "errors", final.Count(verify.SeverityError),
		"warnings", final.Count(verify.SeverityWarn))
	s.finish(ctx, op, rec, status, detail, nil)
	return report, repair, nil
}
