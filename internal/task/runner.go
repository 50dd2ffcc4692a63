// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"context"
	"log/slog"
	"time"

	"github.com/sapcc/go-bits/jobloop"
)

// Runner runs a task periodically until its context is done. Each wait
// between two runs is jittered, so that replicas do not run in lockstep.
type Runner struct {
	// The interval at which to run the task.
	Interval time.Duration
	// The name of the task.
	Name string

	// If set, this function is called once at the start of the runner.
	Init func(ctx context.Context) error
	// If set, this function is called on each task run. A failed run
	// is logged and the next run happens as scheduled.
	Run func(ctx context.Context) error

	// Allows tests to control the waiting.
	wait func(d time.Duration) <-chan time.Time
}

// Run the task once.
func (r *Runner) RunOnce(ctx context.Context) error {
	if r.Run == nil {
		return nil
	}
	slog.Debug("task: running", "name", r.Name)
	if err := r.Run(ctx); err != nil {
		slog.Error("task: run failed", "name", r.Name, "error", err)
		return err
	}
	return nil
}

// Start the task runner. Blocks until the context is done and only
// returns an error if the init function fails.
func (r *Runner) Start(ctx context.Context) error {
	slog.Info("task: starting runner", "name", r.Name, "interval", r.Interval)
	if r.Init != nil {
		if err := r.Init(ctx); err != nil {
			return err
		}
	}
	wait := r.wait
	if wait == nil {
		wait = time.After
	}
	for {
		select {
		case <-wait(jobloop.DefaultJitter(r.Interval)):
			// Errors are logged, the runner keeps going.
			_ = r.RunOnce(ctx)
		case <-ctx.Done():
			slog.Info("task: stopping runner", "name", r.Name)
			return nil
		}
	}
}
