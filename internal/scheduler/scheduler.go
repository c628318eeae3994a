// Package scheduler runs maintenance tasks (archive pre-transcoding,
// doctor checks) at a fixed interval for the watch command.
package scheduler

import (
	"context"
	"time"
)

// Scheduler drives a Runner
type Scheduler interface {
	Start(ctx context.Context) error
	Stop() error
	Status() *Status
}

// Status is a snapshot of a scheduler's counters
type Status struct {
	Running        bool      `json:"running" yaml:"running"`
	LastRunTime    time.Time `json:"last_run" yaml:"last_run"`
	NextRunTime    time.Time `json:"next_run" yaml:"next_run"`
	TotalRuns      int       `json:"total_runs" yaml:"total_runs"`
	SuccessfulRuns int       `json:"successful_runs" yaml:"successful_runs"`
	FailedRuns     int       `json:"failed_runs" yaml:"failed_runs"`
	LastError      string    `json:"last_error,omitempty" yaml:"last_error,omitempty"`
}

// Config for an IntervalScheduler
type Config struct {
	Interval time.Duration
	// Tasks are passed to the runner in order on every tick
	Tasks []string
	// Immediate runs the tasks once right after Start
	Immediate bool
}

// Runner executes one named task
type Runner interface {
	Run(ctx context.Context, task string) error
}

// RunnerFunc adapts a function to Runner
type RunnerFunc func(ctx context.Context, task string) error

func (f RunnerFunc) Run(ctx context.Context, task string) error { return f(ctx, task) }
