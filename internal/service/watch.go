package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Ning0612/reprefix/internal/deb"
	"github.com/Ning0612/reprefix/internal/scheduler"
	"github.com/Ning0612/reprefix/internal/state"
	"github.com/Ning0612/reprefix/internal/verify"
)

// Watch task names
const (
	TaskTranscode = "transcode"
	TaskDoctor    = "doctor"
)

// Watcher runs the configured maintenance tasks on an interval: package
// archives dropped into the archive directory are transcoded ahead of the
// package manager asking for them, and the root is checked for drift.
type Watcher struct {
	svc *Service

	mu        sync.RWMutex
	scheduler *scheduler.IntervalScheduler
	// seen maps an archive path to the modification time it was handled at
	seen map[string]time.Time
}

// WatchStatus is the current watcher state
type WatchStatus struct {
	Running       bool              `json:"running" yaml:"running"`
	Scheduler     *scheduler.Status `json:"scheduler,omitempty" yaml:"scheduler,omitempty"`
	LastTranscode *state.Record     `json:"last_transcode,omitempty" yaml:"last_transcode,omitempty"`
	Archives      int               `json:"archives_seen" yaml:"archives_seen"`
}

// NewWatcher creates a stopped watcher
func (s *Service) NewWatcher() *Watcher {
	return &Watcher{svc: s, seen: make(map[string]time.Time)}
}

// Start runs the tasks once and then on every interval tick
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.scheduler != nil {
		return fmt.Errorf("watch is already running")
	}

	cfg := w.svc.config.Watch
	sched, err := scheduler.NewIntervalScheduler(scheduler.Config{
		Interval:  cfg.Interval,
		Tasks:     cfg.Tasks,
		Immediate: true,
	}, w)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	w.scheduler = sched

	w.svc.log.Info("watch started", "interval", cfg.Interval, "tasks", cfg.Tasks, "archives", cfg.ArchiveDir)
	return nil
}

// Done is closed when the loop exits; nil before Start
func (w *Watcher) Done() <-chan struct{} {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.scheduler == nil {
		return nil
	}
	return w.scheduler.Done()
}

// Stop ends the loop after the current tick
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.scheduler == nil {
		return fmt.Errorf("watch is not running")
	}
	err := w.scheduler.Stop()
	w.scheduler = nil
	if err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	w.svc.log.Info("watch stopped")
	return nil
}

// Status reports the scheduler counters and the last transcode
func (w *Watcher) Status(ctx context.Context) *WatchStatus {
	w.mu.RLock()
	st := &WatchStatus{Running: w.scheduler != nil, Archives: len(w.seen)}
	if w.scheduler != nil {
		st.Scheduler = w.scheduler.Status()
		st.Running = st.Scheduler.Running
	}
	w.mu.RUnlock()

	if recs, err := w.svc.History(ctx, TaskTranscode, 1); err == nil && len(recs) > 0 {
		st.LastTranscode = &recs[0]
	}
	return st
}

// Run executes one task
func (w *Watcher) Run(ctx context.Context, task string) error {
	switch task {
	case TaskTranscode:
		return w.transcodeArchives(ctx)
	case TaskDoctor:
		return w.doctor(ctx)
	default:
		return fmt.Errorf("unknown watch task: %s", task)
	}
}

var _ scheduler.Runner = (*Watcher)(nil)

// transcodeArchives handles every archive that is new or changed since the
// last tick. Fallbacks are reported together once all archives were tried.
func (w *Watcher) transcodeArchives(ctx context.Context) error {
	dir := w.svc.config.Watch.ArchiveDir
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	var pending []string
	mtimes := make(map[string]time.Time)
	w.mu.RLock()
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || !strings.HasSuffix(name, ".deb") || strings.HasSuffix(name, deb.OutputSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		p := filepath.Join(dir, name)
		if seen, ok := w.seen[p]; ok && seen.Equal(info.ModTime()) {
			continue
		}
		pending = append(pending, p)
		mtimes[p] = info.ModTime()
	}
	w.mu.RUnlock()
	sort.Strings(pending)

	var errs []error
	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		res := w.svc.Transcode(ctx, p)
		w.mu.Lock()
		w.seen[p] = mtimes[p]
		w.mu.Unlock()
		if res.Outcome == deb.OutcomeFallback {
			errs = append(errs, res.Err)
		}
	}
	return errors.Join(errs...)
}

func (w *Watcher) doctor(ctx context.Context) error {
	report, _, err := w.svc.Doctor(ctx, nil, false)
	if err != nil {
		return err
	}
	if !report.OK() {
		return fmt.Errorf("doctor found %d error(s)", report.Count(verify.SeverityError))
	}
	return nil
}
