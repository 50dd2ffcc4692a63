// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunner_RunOnce(t *testing.T) {
	tests := []struct {
		name        string
		runner      *Runner
		expectError bool
		expectRun   bool
	}{
		{
			name: "successful run",
			runner: &Runner{
				Name: "test-task",
				Run:  func(ctx context.Context) error { return nil },
			},
			expectError: false,
			expectRun:   true,
		},
		{
			name: "run that returns error",
			runner: &Runner{
				Name: "test-task",
				Run:  func(ctx context.Context) error { return errors.New("run failed") },
			},
			expectError: true,
			expectRun:   true,
		},
		{
			name:        "without run function",
			runner:      &Runner{Name: "test-task"},
			expectError: false,
			expectRun:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runCalled := false
			if tt.runner.Run != nil {
				originalRun := tt.runner.Run
				tt.runner.Run = func(ctx context.Context) error {
					runCalled = true
					return originalRun(ctx)
				}
			}
			err := tt.runner.RunOnce(t.Context())
			if (err != nil) != tt.expectError {
				t.Errorf("RunOnce() error = %v, expectError %v", err, tt.expectError)
			}
			if runCalled != tt.expectRun {
				t.Errorf("Run function called = %v, expectRun %v", runCalled, tt.expectRun)
			}
		})
	}
}

func TestRunner_Start(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	ticks := make(chan time.Time)
	runs := make(chan struct{}, 3)
	var waits []time.Duration
	r := &Runner{
		Name:     "test-task",
		Interval: 10 * time.Second,
		Run: func(ctx context.Context) error {
			runs <- struct{}{}
			// Failures must not stop the runner.
			return errors.New("run failed")
		},
		wait: func(d time.Duration) <-chan time.Time {
			waits = append(waits, d)
			return ticks
		},
	}
	done := make(chan error)
	go func() { done <- r.Start(ctx) }()

	for range 3 {
		ticks <- time.Now()
		<-runs
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("expected runner to stop cleanly, got %v", err)
	}
	for _, d := range waits {
		if d < 8*time.Second || d > 12*time.Second {
			t.Errorf("expected jittered interval around 10s, got %v", d)
		}
	}
}

func TestRunner_StartInitFails(t *testing.T) {
	r := &Runner{
		Name:     "test-task",
		Interval: time.Hour,
		Init:     func(ctx context.Context) error { return errors.New("init failed") },
	}
	if err := r.Start(t.Context()); err == nil {
		t.Fatal("expected init error")
	}
}
