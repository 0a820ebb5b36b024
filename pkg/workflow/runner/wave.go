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
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/workflow-engine/internal/executor"
	"github.com/tombee/workflow-engine/internal/tracing"
	"github.com/tombee/workflow-engine/internal/util"
	"github.com/tombee/workflow-engine/pkg/workflow"
)

// waveExecutor runs the tasks of a single ExecutionWave to completion,
// honoring a workflow-level parallelism cap and step-mode gating
// between individual task starts.
type waveExecutor struct {
	exec     Executor
	pub      *workflow.Publisher
	metrics  MetricsCollector
	tracer   trace.Tracer
	stepGate *StepGate
	stepMode bool
}

// run executes every task in wave concurrently (bounded by
// maxParallelism, <=0 meaning unbounded) and returns once all have
// produced a TaskResult recorded on run. In step mode tasks run
// sequentially instead, pausing on the gate between them.
// uncancellable, when true, detaches each task's context from ctx
// (used for AlwaysTasks, which must run even after the run has been
// cancelled).
func (w *waveExecutor) run(ctx context.Context, run *workflow.RunContext, wave workflow.ExecutionWave, maxParallelism int, uncancellable bool) {
	w.pub.Publish(workflow.Event{
		Kind: workflow.EventWaveStarted, WorkflowID: run.Workflow.ID, RunID: run.RunID, Timestamp: time.Now(),
		Payload: workflow.WaveStartedPayload{WaveIndex: wave.Index, TaskIDs: taskIDs(wave.Tasks)},
	})

	// Always-tasks never gate on the step semaphore: cleanup must run
	// even when the release side is gone.
	if w.stepMode && w.stepGate != nil && !uncancellable {
		w.runStepped(ctx, run, wave, uncancellable)
	} else {
		w.runParallel(ctx, run, wave, maxParallelism, uncancellable)
	}

	succ, fail, skip := 0, 0, 0
	for _, t := range wave.Tasks {
		if r, ok := run.Result(t.ID); ok {
			switch {
			case r.WasSkipped():
				skip++
			case r.IsFailed():
				fail++
			default:
				succ++
			}
		}
	}
	w.pub.Publish(workflow.Event{
		Kind: workflow.EventWaveCompleted, WorkflowID: run.Workflow.ID, RunID: run.RunID, Timestamp: time.Now(),
		Payload: workflow.WaveCompletedPayload{WaveIndex: wave.Index, Succeeded: succ, Failed: fail, Skipped: skip},
	})
}

func (w *waveExecutor) runParallel(ctx context.Context, run *workflow.RunContext, wave workflow.ExecutionWave, maxParallelism int, uncancellable bool) {
	var sem chan struct{}
	if maxParallelism > 0 {
		sem = make(chan struct{}, maxParallelism)
	}

	var wg sync.WaitGroup
	for _, task := range wave.Tasks {
		task := task
		if sem != nil {
			cancelled := ctx.Done()
			if uncancellable {
				cancelled = nil
			}
			select {
			case sem <- struct{}{}:
			case <-cancelled:
				w.recordCancelled(run, task)
				continue
			}
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if sem != nil {
				defer func() { <-sem }()
			}
			w.runTask(ctx, run, task, uncancellable)
		}()
	}
	wg.Wait()
}

// runStepped runs the wave's tasks one at a time, pausing on the gate
// between consecutive tasks (not after the last one).
func (w *waveExecutor) runStepped(ctx context.Context, run *workflow.RunContext, wave workflow.ExecutionWave, uncancellable bool) {
	for i, task := range wave.Tasks {
		if i > 0 {
			if err := w.pause(ctx, run, wave.Tasks[i-1].ID); err != nil {
				for _, rest := range wave.Tasks[i:] {
					w.recordCancelled(run, rest)
				}
				return
			}
		}
		w.runTask(ctx, run, task, uncancellable)
	}
}

// pause emits StepPaused, blocks on the gate, and emits StepResumed.
func (w *waveExecutor) pause(ctx context.Context, run *workflow.RunContext, completedTaskID string) error {
	w.pub.Publish(workflow.Event{
		Kind: workflow.EventStepPaused, WorkflowID: run.Workflow.ID, RunID: run.RunID, Timestamp: time.Now(),
		Payload: workflow.StepPausedPayload{CompletedTaskID: completedTaskID},
	})
	if err := w.stepGate.Wait(ctx); err != nil {
		return err
	}
	w.pub.Publish(workflow.Event{
		Kind: workflow.EventStepResumed, WorkflowID: run.Workflow.ID, RunID: run.RunID, Timestamp: time.Now(),
		Payload: workflow.StepResumedPayload{},
	})
	return nil
}

func (w *waveExecutor) runTask(ctx context.Context, run *workflow.RunContext, task *workflow.Task, uncancellable bool) {
	taskCtx := ctx
	if uncancellable {
		taskCtx = util.Uncancellable(ctx)
	}

	signal := run.GetOrCreateTaskSignal(task.ID)
	linked, cancel := util.LinkContext(taskCtx, signal)
	defer cancel()
	defer run.RemoveTaskSignal(task.ID)

	linked, taskSpan := tracing.StartTask(linked, w.tracer, task.ID)

	run.Stats.NextTaskIndex()
	w.pub.Publish(workflow.Event{
		Kind: workflow.EventTaskStarted, WorkflowID: run.Workflow.ID, RunID: run.RunID, Timestamp: time.Now(),
		Payload: workflow.TaskStartedPayload{TaskID: task.ID},
	})

	progress := executor.ProgressFunc(func(stream workflow.OutputStream, line string) {
		w.pub.Publish(workflow.Event{
			Kind: workflow.EventTaskOutput, WorkflowID: run.Workflow.ID, RunID: run.RunID, Timestamp: time.Now(),
			Payload: workflow.TaskOutputPayload{TaskID: task.ID, Line: line, Stream: stream},
		})
	})

	start := time.Now()
	result := w.exec.Execute(linked, task, run, progress)
	run.SetResult(result)
	w.recordStats(run, result)

	if result.IsFailed() {
		taskSpan.End(fmt.Errorf("task %s failed: %s", task.ID, result.Error))
	} else {
		taskSpan.End(nil)
	}

	if w.metrics != nil {
		w.metrics.RecordTaskComplete(run.Workflow.ID, task.ID, string(result.Status), time.Since(start).Milliseconds())
	}

	switch result.Status {
	case workflow.StatusSkipped:
		w.pub.Publish(workflow.Event{
			Kind: workflow.EventTaskSkipped, WorkflowID: run.Workflow.ID, RunID: run.RunID, Timestamp: time.Now(),
			Payload: workflow.TaskSkippedPayload{TaskID: task.ID, Reason: result.Error},
		})
	case workflow.StatusCancelled:
		w.pub.Publish(workflow.Event{
			Kind: workflow.EventTaskCancelled, WorkflowID: run.Workflow.ID, RunID: run.RunID, Timestamp: time.Now(),
			Payload: workflow.TaskCancelledPayload{TaskID: task.ID},
		})
	default:
		w.pub.Publish(workflow.Event{
			Kind: workflow.EventTaskCompleted, WorkflowID: run.Workflow.ID, RunID: run.RunID, Timestamp: time.Now(),
			Payload: workflow.TaskCompletedPayload{Result: result},
		})
	}
}

func (w *waveExecutor) recordStats(run *workflow.RunContext, result workflow.TaskResult) {
	switch {
	case result.WasSkipped():
		run.Stats.IncrementSkipped()
	case result.IsFailed():
		run.Stats.IncrementFailed()
	default:
		run.Stats.IncrementSucceeded()
	}
}

func (w *waveExecutor) recordCancelled(run *workflow.RunContext, task *workflow.Task) {
	now := time.Now()
	result := workflow.TaskResult{
		TaskID: task.ID, Status: workflow.StatusCancelled, ExitCode: -1,
		StartedAt: now, EndedAt: now, Error: "Task was cancelled before it could start",
	}
	run.SetResult(result)
	run.Stats.IncrementFailed()
	w.pub.Publish(workflow.Event{
		Kind: workflow.EventTaskCancelled, WorkflowID: run.Workflow.ID, RunID: run.RunID, Timestamp: time.Now(),
		Payload: workflow.TaskCancelledPayload{TaskID: task.ID},
	})
}

func taskIDs(tasks []*workflow.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}
