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

package runner

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/workflow-engine/internal/tracing"
	"github.com/tombee/workflow-engine/internal/util"
	"github.com/tombee/workflow-engine/pkg/workflow"
	"github.com/tombee/workflow-engine/pkg/workflow/dag"
	"github.com/tombee/workflow-engine/pkg/workflow/expression"
	"github.com/tombee/workflow-engine/pkg/workflow/matrix"
)

// Runner drives one workflow from plan-building through the finally
// clause. It owns no state across runs; every Run call builds a fresh
// RunContext.
type Runner struct {
	Executor Executor
	Eval     *expression.Evaluator
	Pub      *workflow.Publisher
	Notifier WebhookNotifier
	Metrics  MetricsCollector
	// Tracer, when set, wraps the run and each task in an OpenTelemetry
	// span (see internal/tracing). A nil Tracer disables tracing
	// entirely; every call site here tolerates it.
	Tracer trace.Tracer
}

// New returns a Runner. notifier and metrics may be nil.
func New(exec Executor, eval *expression.Evaluator, pub *workflow.Publisher, notifier WebhookNotifier, metrics MetricsCollector) *Runner {
	return &Runner{Executor: exec, Eval: eval, Pub: pub, Notifier: notifier, Metrics: metrics}
}

// WithTracer sets the Runner's tracer and returns it for chaining.
func (r *Runner) WithTracer(tracer trace.Tracer) *Runner {
	r.Tracer = tracer
	return r
}

// Run executes wf to completion (or cancellation) and returns the
// RunContext holding every recorded TaskResult, even when it also
// returns a non-nil error (a plan-building failure still yields a
// usable, empty RunContext).
func (r *Runner) Run(ctx context.Context, wf *workflow.Workflow, cfg Config) (*workflow.RunContext, error) {
	workingDir := cfg.WorkingDir
	if workingDir == "" {
		workingDir = "."
	}
	run := workflow.NewRunContext(wf, cfg.CLIEnv, workingDir)
	run.SetParams(cfg.Params)

	// Step 1: build the ExecutionPlan (cycle check -> matrix expansion
	// -> wave leveling).
	if err := dag.CheckCycles(wf.Tasks); err != nil {
		return run, err
	}
	expanded, err := matrix.NewExpander(r.Eval).Expand(wf.Tasks)
	if err != nil {
		return run, err
	}
	plan := dag.BuildPlan(expanded)
	run.TotalTaskCount = plan.TotalTasks()

	if r.Metrics != nil {
		r.Metrics.RecordRunStart(wf.ID, run.RunID)
	}
	r.Pub.Publish(workflow.Event{
		Kind: workflow.EventWorkflowStarted, WorkflowID: wf.ID, RunID: run.RunID, Timestamp: time.Now(),
		Payload: workflow.WorkflowStartedPayload{TotalTasks: plan.TotalTasks()},
	})

	// Step 2: register webhooks for the lifetime of the run.
	if r.Notifier != nil && len(wf.Webhooks) > 0 {
		r.Notifier.RegisterWebhooks(run.RunID, wf.Name, wf.Webhooks)
		defer r.Notifier.UnregisterWebhooks(run.RunID)
	}

	ctx, runSpan := tracing.StartRun(ctx, r.Tracer, run.RunID, wf.Name)

	start := time.Now()
	defer func() {
		r.finish(run, plan, start, runSpan)
	}()

	// Step 3: dry run returns the plan with every task left Pending.
	if cfg.DryRun {
		return run, nil
	}

	we := &waveExecutor{exec: r.Executor, pub: r.Pub, metrics: r.Metrics, tracer: r.Tracer, stepGate: cfg.Gate, stepMode: cfg.StepMode}

	runCtx, cancelRun := util.LinkContext(ctx, run.RunSignal())
	defer cancelRun()

	// Step 4: in step mode, pause once before any task runs.
	stepping := cfg.StepMode && cfg.Gate != nil
	if stepping {
		if err := we.pause(runCtx, run, ""); err != nil {
			run.MarkCancelled()
		}
	}

	// Step 5: waves run in order; when StopOnFirstFailure is set they
	// stop early on the first failure unless a failed task set
	// continueOnError; a stopped run still
	// executes AlwaysTasks. Step mode pauses again between waves,
	// skipping the pause after the final wave when no always-tasks
	// follow it.
	for i, wave := range plan.Waves {
		if runCtx.Err() != nil {
			break
		}
		we.run(runCtx, run, wave, wf.MaxParallelism, false)

		if cfg.StopOnFirstFailure && waveHasHardFailure(run, wave) {
			break
		}

		if stepping && (i < len(plan.Waves)-1 || len(plan.AlwaysTasks) > 0) {
			if err := we.pause(runCtx, run, lastTaskID(wave)); err != nil {
				break
			}
		}
	}

	if ctx.Err() != nil {
		run.MarkCancelled()
	}

	// Step 6: AlwaysTasks run regardless of upstream outcome or
	// cancellation, on an uncancellable context.
	if len(plan.AlwaysTasks) > 0 {
		we.run(ctx, run, workflow.ExecutionWave{Index: -1, Tasks: plan.AlwaysTasks}, wf.MaxParallelism, true)
	}

	return run, nil
}

// waveHasHardFailure reports whether any task in wave recorded a
// IsFailed result without ContinueOnError set.
func waveHasHardFailure(run *workflow.RunContext, wave workflow.ExecutionWave) bool {
	for _, t := range wave.Tasks {
		if t.ContinueOnError {
			continue
		}
		if r, ok := run.Result(t.ID); ok && r.IsFailed() {
			return true
		}
	}
	return false
}

func lastTaskID(wave workflow.ExecutionWave) string {
	if len(wave.Tasks) == 0 {
		return ""
	}
	return wave.Tasks[len(wave.Tasks)-1].ID
}

// finish is the run's finally clause: emit the terminal event, record
// duration metrics, end the run span, and let webhook unregistration
// (deferred by the caller) run after.
func (r *Runner) finish(run *workflow.RunContext, plan *workflow.ExecutionPlan, start time.Time, runSpan *tracing.RunSpan) {
	duration := time.Since(start)
	snapshot := run.Stats.Snapshot()
	status := overallStatus(run)

	if status == "Failed" {
		runSpan.End(fmt.Errorf("workflow run %s failed", run.RunID))
	} else {
		runSpan.End(nil)
	}

	if run.Cancelled() {
		r.Pub.Publish(workflow.Event{
			Kind: workflow.EventWorkflowCancelled, WorkflowID: run.Workflow.ID, RunID: run.RunID, Timestamp: time.Now(),
			Payload: workflow.WorkflowCancelledPayload{},
		})
	}
	r.Pub.Publish(workflow.Event{
		Kind: workflow.EventWorkflowCompleted, WorkflowID: run.Workflow.ID, RunID: run.RunID, Timestamp: time.Now(),
		Payload: workflow.WorkflowCompletedPayload{
			Name: run.Workflow.Name, Status: status, Duration: duration,
			Succeeded: int(snapshot.Succeeded), Failed: int(snapshot.Failed), Skipped: int(snapshot.Skipped),
		},
	})
	if r.Metrics != nil {
		r.Metrics.RecordRunComplete(run.Workflow.ID, run.RunID, status, duration.Milliseconds())
	}
}

// overallStatus derives the run's terminal status: Cancelled takes
// precedence over Failed, which takes precedence over Succeeded.
func overallStatus(run *workflow.RunContext) string {
	switch {
	case run.Cancelled():
		return "Cancelled"
	case run.HasFailure():
		return "Failed"
	case run.AllSucceeded():
		return "Succeeded"
	default:
		return "Pending"
	}
}
