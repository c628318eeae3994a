package service

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Ning0612/reprefix/internal/config"
	"github.com/Ning0612/reprefix/internal/core/checksum"
	"github.com/Ning0612/reprefix/internal/core/classify"
	"github.com/Ning0612/reprefix/internal/core/rewrite"
	"github.com/Ning0612/reprefix/internal/logger"
	"github.com/Ning0612/reprefix/internal/metrics"
	"github.com/Ning0612/reprefix/internal/progress"
	"github.com/Ning0612/reprefix/internal/state"
)

// MetricsNamespace prefixes every exported metric
const MetricsNamespace = "reprefix"

// Service orchestrates installs, transcodes, wrapping and doctor runs for
// one configured identity. Every operation is logged as its own stream,
// counted and recorded in the history database.
type Service struct {
	config     *config.Config
	rule       rewrite.Rule
	classifier *classify.Classifier
	log        logger.Logger
	metrics    *metrics.Prom
	history    *state.Manager
	reporter   progress.Reporter
	now        func() time.Time
}

// New creates a service for cfg and opens its history database
func New(cfg *config.Config) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	rule, err := cfg.Rule()
	if err != nil {
		return nil, err
	}

	history, err := state.NewManager(cfg.StateDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}

	return &Service{
		config:     cfg,
		rule:       rule,
		classifier: classify.New(cfg.ClassifierOptions()),
		log:        logger.Get(),
		metrics:    metrics.NewProm(MetricsNamespace),
		history:    history,
		now:        time.Now,
	}, nil
}

// SetLogger replaces the base logger, the global logger by default
func (s *Service) SetLogger(l logger.Logger) {
	if l == nil {
		l = logger.NewNullLogger()
	}
	s.log = l
}

// SetProgressReporter sets the reporter used while extracting bundles
func (s *Service) SetProgressReporter(reporter progress.Reporter) {
	s.reporter = reporter
}

func (s *Service) getReporter() progress.Reporter {
	if s.reporter != nil {
		return s.reporter
	}
	return progress.NullReporter{}
}

// Config returns the service configuration
func (s *Service) Config() *config.Config { return s.config }

// Rule returns the configured identity rule
func (s *Service) Rule() rewrite.Rule { return s.rule }

// Classifier returns the configured artifact classifier
func (s *Service) Classifier() *classify.Classifier { return s.classifier }

// Metrics returns the service's collectors
func (s *Service) Metrics() *metrics.Prom { return s.metrics }

// History returns recorded operations, newest first
func (s *Service) History(ctx context.Context, kind string, limit int) ([]state.Record, error) {
	return s.history.History(ctx, kind, limit)
}

// Stats returns operation counts per kind and status
func (s *Service) Stats(ctx context.Context) (map[string]map[state.Status]int, error) {
	return s.history.Stats(ctx)
}

func (s *Service) algorithm() checksum.Algorithm {
	return checksum.Algorithm(s.config.Checksum.Algorithm)
}

// begin opens an operation stream and its history record
func (s *Service) begin(kind logger.Kind, subject string) (*logger.Op, state.Record) {
	op := logger.OperationOn(s.log, kind, subject)
	return op, state.Record{
		ID:        op.ID,
		Kind:      string(kind),
		Subject:   subject,
		StartTime: s.now(),
	}
}

// finish records rec and flushes metrics. Bookkeeping failures are logged
// and never change the operation's own result.
func (s *Service) finish(ctx context.Context, log logger.Logger, rec state.Record, status state.Status, detail string, opErr error) {
	rec.EndTime = s.now()
	rec.Status = status
	rec.Detail = detail
	if opErr != nil {
		rec.Error = opErr.Error()
	}
	if rec.Kind == string(logger.KindInstall) {
		s.metrics.ObserveInstall(string(status), rec.Duration().Seconds())
	}

	// 使用獨立 context，取消的操作仍要留下紀錄
	saveCtx := context.WithoutCancel(ctx)
	if _, err := s.history.Save(saveCtx, rec); err != nil {
		log.Warn("failed to record operation", "error", err)
	}
	s.flushMetrics(log)
}

func (s *Service) flushMetrics(log logger.Logger) {
	path := s.config.Metrics.Textfile
	if path == "" {
		return
	}
	if err := s.metrics.WriteTextfile(path); err != nil {
		log.Warn("failed to write metrics textfile", "path", path, "error", err)
	}
}

// ensureDir creates dir for intermediate files
func ensureDir(dir string) error {
	if dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}

// Close releases the history database
func (s *Service) Close() error {
	return s.history.Close()
}
