package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// IntervalScheduler runs its tasks on a time.Ticker
type IntervalScheduler struct {
	config Config
	runner Runner

	mu          sync.RWMutex
	running     bool
	stopped     bool
	stopOnce    sync.Once
	closeOnce   sync.Once
	stopChan    chan struct{}
	stoppedChan chan struct{}

	stats Status
}

// NewIntervalScheduler validates config and returns a stopped scheduler
func NewIntervalScheduler(config Config, runner Runner) (*IntervalScheduler, error) {
	if config.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %v", config.Interval)
	}
	if runner == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}
	if len(config.Tasks) == 0 {
		return nil, fmt.Errorf("no tasks to schedule")
	}

	return &IntervalScheduler{
		config:      config,
		runner:      runner,
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}, nil
}

// Start begins the loop. A scheduler cannot be restarted after Stop.
func (s *IntervalScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	if s.stopped {
		return fmt.Errorf("scheduler cannot be restarted after stop")
	}

	s.running = true
	s.stats.NextRunTime = time.Now().Add(s.config.Interval)

	go s.run(ctx)
	return nil
}

func (s *IntervalScheduler) run(ctx context.Context) {
	defer s.closeOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.running = false
		s.mu.Unlock()
		close(s.stoppedChan)
	})

	if s.config.Immediate {
		s.tick(ctx)
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs every task; one failing task does not skip the rest
func (s *IntervalScheduler) tick(ctx context.Context) {
	s.mu.Lock()
	s.stats.LastRunTime = time.Now()
	s.stats.TotalRuns++
	s.stats.NextRunTime = s.stats.LastRunTime.Add(s.config.Interval)
	s.mu.Unlock()

	var errs []error
	for _, task := range s.config.Tasks {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err := s.runner.Run(ctx, task); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", task, err))
		}
	}

	s.mu.Lock()
	if err := errors.Join(errs...); err != nil {
		s.stats.FailedRuns++
		s.stats.LastError = err.Error()
	} else {
		s.stats.SuccessfulRuns++
		s.stats.LastError = ""
	}
	s.mu.Unlock()
}

// Stop ends the loop and waits for a running tick to finish
func (s *IntervalScheduler) Stop() error {
	s.mu.RLock()
	if !s.running {
		s.mu.RUnlock()
		return fmt.Errorf("scheduler is not running")
	}
	s.mu.RUnlock()

	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	<-s.stoppedChan
	return nil
}

// Done is closed once the loop has exited
func (s *IntervalScheduler) Done() <-chan struct{} {
	return s.stoppedChan
}

// Status returns a copy of the counters
func (s *IntervalScheduler) Status() *Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := s.stats
	st.Running = s.running
	return &st
}
