// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/workflow-engine/internal/trigger"
	"github.com/tombee/workflow-engine/pkg/errors"
	"github.com/tombee/workflow-engine/pkg/workflow"
	wfrunner "github.com/tombee/workflow-engine/pkg/workflow/runner"
)

// ShutdownTimeout is how long Shutdown waits for in-flight jobs to
// drain before returning anyway.
const ShutdownTimeout = 30 * time.Second

// tickInterval is how often the Orchestrator checks for due schedules.
const tickInterval = 60 * time.Second

// WorkflowLoader parses a workflow file from disk; the Orchestrator
// depends only on this interface so it never needs to know the file
// format.
type WorkflowLoader interface {
	Load(path string) (*workflow.Workflow, error)
}

type runningJob struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// removeJob drops one job from a schedule's in-flight slice by
// identity, clearing the key once the slice empties.
func removeJob(running map[string][]*runningJob, scheduleID string, job *runningJob) {
	jobs := running[scheduleID]
	for i, j := range jobs {
		if j == job {
			jobs = append(jobs[:i], jobs[i+1:]...)
			break
		}
	}
	if len(jobs) == 0 {
		delete(running, scheduleID)
	} else {
		running[scheduleID] = jobs
	}
}

// Orchestrator ticks persisted schedules every 60s, tracks in-flight
// runs in a concurrent map keyed by schedule id, and drives each run
// through the workflow Runner.
type Orchestrator struct {
	store  Store
	loader WorkflowLoader
	runner *wfrunner.Runner
	pub    *workflow.Publisher
	logger *slog.Logger

	mu      sync.Mutex
	running map[string][]*runningJob

	stopTick chan struct{}
	tickDone chan struct{}
}

// NewOrchestrator returns an Orchestrator. logger may be nil.
func NewOrchestrator(store Store, loader WorkflowLoader, runner *wfrunner.Runner, pub *workflow.Publisher, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:   store,
		loader:  loader,
		runner:  runner,
		pub:     pub,
		logger:  logger.With(slog.String("component", "scheduler")),
		running: make(map[string][]*runningJob),
	}
}

// Start launches the 60s tick loop until ctx is done or Shutdown is
// called.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	o.stopTick = make(chan struct{})
	o.tickDone = make(chan struct{})
	o.mu.Unlock()

	go o.tickLoop(ctx)
}

func (o *Orchestrator) tickLoop(ctx context.Context) {
	defer close(o.tickDone)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopTick:
			return
		case now := <-ticker.C:
			o.tick(ctx, now)
		}
	}
}

func (o *Orchestrator) tick(ctx context.Context, now time.Time) {
	schedules, err := o.store.GetEnabled()
	if err != nil {
		o.logger.Error("failed to load enabled schedules", slog.Any("error", err))
		return
	}
	for _, sched := range schedules {
		if sched.NextRunAt.After(now) {
			continue
		}
		if !sched.Policy.AllowOverlap && o.isRunning(sched.ID) {
			continue
		}
		if _, err := o.ExecuteAsync(ctx, sched, false); err != nil {
			o.logger.Warn("failed to launch scheduled run", slog.String("schedule", sched.ID), slog.Any("error", err))
		}
	}
}

func (o *Orchestrator) isRunning(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.running[id]) > 0
}

// ExecuteAsync runs one schedule: it
// synchronously reserves the schedule's slot in the running-jobs map,
// allocates the run id, and emits ScheduledRunTriggered, then continues
// the actual workflow run in the background and returns the run id
// immediately.
func (o *Orchestrator) ExecuteAsync(ctx context.Context, sched *Schedule, isManual bool) (string, error) {
	o.mu.Lock()
	inFlight := len(o.running[sched.ID])
	if inFlight > 0 && !sched.Policy.AllowOverlap {
		o.mu.Unlock()
		return "", &errors.ValidationError{Field: "scheduleId", Message: fmt.Sprintf("schedule %q already has a run in flight", sched.ID)}
	}
	if limit := sched.Policy.MaxConcurrentRuns; limit > 0 && inFlight >= limit {
		o.mu.Unlock()
		return "", &errors.ValidationError{Field: "scheduleId", Message: fmt.Sprintf("schedule %q is at its concurrent-run cap (%d)", sched.ID, limit)}
	}
	jobCtx, cancel := context.WithCancel(ctx)
	job := &runningJob{cancel: cancel, done: make(chan struct{})}
	o.running[sched.ID] = append(o.running[sched.ID], job)
	o.mu.Unlock()

	runID := uuid.NewString()[:8]
	o.pub.Publish(workflow.Event{
		Kind: workflow.EventScheduledRunTriggered, Timestamp: time.Now(),
		Payload: workflow.ScheduledRunTriggeredPayload{
			ScheduleID: sched.ID, WorkflowPath: sched.WorkflowPath, RunID: runID, IsManual: isManual,
		},
	})

	go o.execute(jobCtx, sched, runID, job)
	return runID, nil
}

func (o *Orchestrator) execute(ctx context.Context, sched *Schedule, runID string, job *runningJob) {
	start := time.Now()
	defer func() {
		o.mu.Lock()
		removeJob(o.running, sched.ID, job)
		o.mu.Unlock()
		job.cancel()
		close(job.done)
	}()

	status, runErr := o.runOnce(ctx, sched)
	duration := time.Since(start)

	now := time.Now().UTC()
	next, cronErr := GetNextOccurrence(sched.Cron, now)
	if cronErr != nil {
		o.logger.Error("failed to compute next occurrence", slog.String("schedule", sched.ID), slog.Any("error", cronErr))
	}
	if !sched.isSynthetic() {
		if err := o.store.UpdateRunTimes(sched.ID, now, next, runErr != nil); err != nil {
			o.logger.Error("failed to persist run times", slog.String("schedule", sched.ID), slog.Any("error", err))
		}
	}

	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}
	o.pub.Publish(workflow.Event{
		Kind: workflow.EventScheduledRunCompleted, RunID: runID, Timestamp: time.Now(),
		Payload: workflow.ScheduledRunCompletedPayload{ScheduleID: sched.ID, Status: status, Duration: duration, Error: errMsg},
	})
}

func (o *Orchestrator) runOnce(ctx context.Context, sched *Schedule) (status string, err error) {
	wf, err := o.loader.Load(sched.WorkflowPath)
	if err != nil {
		return "Failed", err
	}

	if sched.Policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, sched.Policy.Timeout)
		defer cancel()
	}

	cfg := wfrunner.Config{CLIEnv: sched.InputParameters}
	attempts := sched.Policy.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		run, runErr := o.runner.Run(ctx, wf, cfg)
		if runErr != nil {
			return "Failed", runErr
		}

		switch {
		case run.Cancelled():
			return "Cancelled", nil
		case run.HasFailure():
			if attempt < attempts-1 && ctx.Err() == nil {
				continue
			}
			return "Failed", fmt.Errorf("one or more tasks failed")
		default:
			return "Succeeded", nil
		}
	}
	return "Failed", fmt.Errorf("one or more tasks failed")
}

// Shutdown stops the tick loop, cancels every in-flight job, and waits
// up to ShutdownTimeout for them to drain before returning anyway.
func (o *Orchestrator) Shutdown() error {
	o.mu.Lock()
	if o.stopTick != nil {
		close(o.stopTick)
	}
	jobs := make([]*runningJob, 0, len(o.running))
	for _, js := range o.running {
		jobs = append(jobs, js...)
	}
	o.mu.Unlock()

	if o.tickDone != nil {
		<-o.tickDone
	}

	for _, j := range jobs {
		j.cancel()
	}

	deadline := time.After(ShutdownTimeout)
	for _, j := range jobs {
		select {
		case <-j.done:
		case <-deadline:
			return &errors.TimeoutError{Operation: "scheduler shutdown drain"}
		}
	}
	return nil
}

// Dispatch implements trigger.Scheduler: it builds a synthetic,
// unpersisted schedule for req and runs it through the same
// ExecuteAsync path as a cron tick, with isManual=true.
func (o *Orchestrator) Dispatch(ctx context.Context, req trigger.ManualDispatchRequest) (string, error) {
	sched := &Schedule{
		ID:              "dispatch-" + uuid.NewString()[:8],
		WorkflowPath:    req.WorkflowPath,
		Cron:            "* * * * *",
		InputParameters: req.InputParameters,
		Enabled:         true,
		Policy:          ExecutionPolicy{AllowOverlap: true},
	}
	return o.ExecuteAsync(ctx, sched, true)
}

var _ trigger.Scheduler = (*Orchestrator)(nil)

func (s *Schedule) isSynthetic() bool {
	return strings.HasPrefix(s.ID, "dispatch-")
}
