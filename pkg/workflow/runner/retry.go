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
	"time"

	"github.com/tombee/workflow-engine/internal/executor"
	"github.com/tombee/workflow-engine/pkg/errors"
	"github.com/tombee/workflow-engine/pkg/workflow"
)

// Retrier re-runs a single, already-completed task against a live
// RunContext on demand, the building block behind an interactive
// "retry this task" command. It goes through the Executor exactly as
// the original wave did, so the task's if condition (or dependency
// gate), timeout, retry count, and execution environment all apply
// again.
type Retrier struct {
	Executor Executor
	Pub      *workflow.Publisher
}

// NewRetrier returns a Retrier driving exec.
func NewRetrier(exec Executor, pub *workflow.Publisher) *Retrier {
	return &Retrier{Executor: exec, Pub: pub}
}

// Retry finds taskID among the tasks the plan produced, refuses unless
// its last recorded status is Failed or TimedOut, re-executes it, and
// republishes the lifecycle events a first attempt would have: a
// TaskStarted followed by TaskCompleted, or TaskCancelled if ctx was
// cancelled mid-retry. It returns a NotFoundError if taskID never
// appeared in plan, or a ValidationError if the task isn't in a
// retryable state.
func (rt *Retrier) Retry(ctx context.Context, run *workflow.RunContext, plan *workflow.ExecutionPlan, taskID string) (workflow.TaskResult, error) {
	task := findTask(plan, taskID)
	if task == nil {
		return workflow.TaskResult{}, &errors.NotFoundError{Resource: "task", ID: taskID}
	}
	prior, ok := run.Result(taskID)
	if !ok || (prior.Status != workflow.StatusFailed && prior.Status != workflow.StatusTimedOut) {
		return workflow.TaskResult{}, &errors.ValidationError{
			Field: "taskId", Message: "task is not in a retryable state (must be Failed or TimedOut)",
		}
	}

	rt.Pub.Publish(workflow.Event{
		Kind: workflow.EventTaskStarted, WorkflowID: run.Workflow.ID, RunID: run.RunID, Timestamp: time.Now(),
		Payload: workflow.TaskStartedPayload{TaskID: task.ID},
	})

	progress := executor.ProgressFunc(func(stream workflow.OutputStream, line string) {
		rt.Pub.Publish(workflow.Event{
			Kind: workflow.EventTaskOutput, WorkflowID: run.Workflow.ID, RunID: run.RunID, Timestamp: time.Now(),
			Payload: workflow.TaskOutputPayload{TaskID: task.ID, Line: line, Stream: stream},
		})
	})

	result := rt.Executor.Execute(ctx, task, run, progress)
	run.SetResult(result)

	if result.Status == workflow.StatusCancelled {
		rt.Pub.Publish(workflow.Event{
			Kind: workflow.EventTaskCancelled, WorkflowID: run.Workflow.ID, RunID: run.RunID, Timestamp: time.Now(),
			Payload: workflow.TaskCancelledPayload{TaskID: task.ID},
		})
		return result, nil
	}
	rt.Pub.Publish(workflow.Event{
		Kind: workflow.EventTaskCompleted, WorkflowID: run.Workflow.ID, RunID: run.RunID, Timestamp: time.Now(),
		Payload: workflow.TaskCompletedPayload{Result: result},
	})
	return result, nil
}

func findTask(plan *workflow.ExecutionPlan, taskID string) *workflow.Task {
	for _, wave := range plan.Waves {
		for _, t := range wave.Tasks {
			if t.ID == taskID {
				return t
			}
		}
	}
	for _, t := range plan.AlwaysTasks {
		if t.ID == taskID {
			return t
		}
	}
	return nil
}
