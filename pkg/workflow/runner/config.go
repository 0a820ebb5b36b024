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

	"github.com/tombee/workflow-engine/internal/executor"
	"github.com/tombee/workflow-engine/pkg/workflow"
)

// Executor is the task-execution contract the runner drives; see
// internal/executor.Executor (re-exported here as an interface alias
// so callers of this package never need to import internal/executor
// directly).
type Executor interface {
	Execute(ctx context.Context, task *workflow.Task, run *workflow.RunContext, progress executor.Progress) workflow.TaskResult
}

// WebhookNotifier registers outbound webhook delivery for one run. It
// subscribes to the event publisher while registered; the runner only
// calls it, never implements it.
type WebhookNotifier interface {
	RegisterWebhooks(runID, workflowName string, configs []workflow.WebhookConfig)
	UnregisterWebhooks(runID string)
}

// MetricsCollector records run-level observability counters.
type MetricsCollector interface {
	RecordRunStart(workflowID, runID string)
	RecordRunComplete(workflowID, runID, status string, durationMs int64)
	RecordTaskComplete(workflowID, taskID, status string, durationMs int64)
}

// Config controls one Run invocation.
type Config struct {
	// CLIEnv overrides workflow-declared env (RunContext precedence:
	// task > CLI > workflow > host).
	CLIEnv map[string]string
	// Params are CLI-supplied parameters exposed as params.<name>.
	Params map[string]string
	// WorkingDir is the run's working directory; defaults to "." if empty.
	WorkingDir string

	// DryRun builds the plan and returns immediately with all tasks
	// Pending.
	DryRun bool
	// StepMode pauses before the first task and between tasks/waves,
	// awaiting Gate.Release.
	StepMode bool
	// Gate is required when StepMode is true.
	Gate *StepGate
	// StopOnFirstFailure aborts remaining waves (but still runs
	// AlwaysTasks) once a wave contains a failed, non-continueOnError task.
	StopOnFirstFailure bool
}
