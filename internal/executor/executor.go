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

// Package executor runs a single prepared task against one of the
// pluggable execution environments (local, Docker, SSH), streaming
// output and honoring timeout, retry, and cancellation.
package executor

import (
	"context"

	"github.com/tombee/workflow-engine/pkg/workflow"
)

// Progress receives streamed output lines as a task runs.
type Progress interface {
	OutputLine(stream workflow.OutputStream, line string)
}

// ProgressFunc adapts a function to Progress.
type ProgressFunc func(stream workflow.OutputStream, line string)

func (f ProgressFunc) OutputLine(stream workflow.OutputStream, line string) { f(stream, line) }

// Executor runs one task to completion (including its own retry loop)
// and returns its TaskResult. Implementations never return a non-nil
// error for a task-level failure; a task's own failure is encoded in
// the returned TaskResult's Status. ctx carries cancellation: the
// caller links the run-level and per-task util.Signal into it (see
// pkg/workflow.RunContext.RunSignal/GetOrCreateTaskSignal), so a plain
// ctx.Done() check covers both cancellation sources uniformly.
type Executor interface {
	Execute(ctx context.Context, task *workflow.Task, run *workflow.RunContext, progress Progress) workflow.TaskResult
}

// ResolveEnv merges a workflow-level and task-level ExecutionEnvConfig
// field-by-field (task wins) and selects the winning kind by priority:
// SSH=10, Docker=20, Local=100 (lower wins when both configs specify a
// kind); Disabled on the merged config forces Local regardless of Kind.
func ResolveEnv(workflowEnv, taskEnv *workflow.ExecutionEnvConfig) *workflow.ExecutionEnvConfig {
	merged := mergeEnv(workflowEnv, taskEnv)
	if merged == nil {
		return &workflow.ExecutionEnvConfig{Kind: workflow.ExecEnvLocal}
	}
	if merged.Disabled {
		merged.Kind = workflow.ExecEnvLocal
	}
	if merged.Kind == "" {
		merged.Kind = workflow.ExecEnvLocal
	}
	return merged
}

func envPriority(kind workflow.ExecutionEnvKind) int {
	switch kind {
	case workflow.ExecEnvSSH:
		return 10
	case workflow.ExecEnvDocker:
		return 20
	default:
		return 100
	}
}

// mergeEnv merges task over workflow field-by-field. A zero-value
// field on task does not override a set field on workflow. Kind
// resolution uses priority when both set distinct kinds.
func mergeEnv(workflowEnv, taskEnv *workflow.ExecutionEnvConfig) *workflow.ExecutionEnvConfig {
	if workflowEnv == nil && taskEnv == nil {
		return nil
	}
	if workflowEnv == nil {
		cp := *taskEnv
		return &cp
	}
	if taskEnv == nil {
		cp := *workflowEnv
		return &cp
	}

	merged := *workflowEnv
	if taskEnv.Kind != "" {
		if envPriority(taskEnv.Kind) <= envPriority(merged.Kind) || merged.Kind == "" {
			merged.Kind = taskEnv.Kind
		}
	}
	if taskEnv.Container != "" {
		merged.Container = taskEnv.Container
	}
	if taskEnv.User != "" {
		merged.User = taskEnv.User
	}
	if taskEnv.Host != "" {
		merged.Host = taskEnv.Host
	}
	if taskEnv.Port != 0 {
		merged.Port = taskEnv.Port
	}
	if taskEnv.SSHUser != "" {
		merged.SSHUser = taskEnv.SSHUser
	}
	if taskEnv.IdentityFile != "" {
		merged.IdentityFile = taskEnv.IdentityFile
	}
	merged.Privileged = merged.Privileged || taskEnv.Privileged
	merged.Interactive = merged.Interactive || taskEnv.Interactive
	merged.StrictHostKeyChecking = merged.StrictHostKeyChecking || taskEnv.StrictHostKeyChecking
	// Disabled is set when either level sets it; Kind was resolved by
	// priority above.
	merged.Disabled = taskEnv.Disabled || merged.Disabled
	return &merged
}
