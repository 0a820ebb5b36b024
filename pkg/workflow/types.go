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

// Package workflow defines the engine's data model: workflows, tasks,
// matrices, inputs/outputs, execution plans, and task results. Parsing
// YAML into these types is a named, external contract (see
// internal/yamlspec for a reference adapter); this package itself is
// parser-agnostic.
package workflow

import "time"

// Workflow is a declarative, dependency-ordered set of shell-executing
// tasks plus the defaults and triggers that govern a run.
type Workflow struct {
	// ID is the workflow's stable identifier (typically the YAML file's
	// stem), distinct from RunContext.RunID which is unique per run.
	ID          string
	Name        string
	Description string
	Tasks       []*Task
	Env         map[string]string
	DefaultTimeout time.Duration
	DefaultShell   string
	Webhooks       []WebhookConfig
	Execution      *ExecutionEnvConfig
	Watch          *WatchConfig
	MaxParallelism int // 0 or negative means unbounded
	Triggers       []TriggerDefinition
}

// TriggerDefinition names a workflow-level trigger, as discovered by a
// trigger scanner. Kept distinct from TriggerRule (internal/trigger),
// which is the chat-dispatch matching rule.
type TriggerDefinition struct {
	Type TriggerDefinitionType
	// Cron is set when Type == TriggerTypeSchedule.
	Cron string
	// Webhook path segment, set when Type == TriggerTypeWebhook.
	Path string
}

type TriggerDefinitionType string

const (
	TriggerTypeSchedule TriggerDefinitionType = "schedule"
	TriggerTypeWebhook  TriggerDefinitionType = "webhook"
)

// WatchConfig names the filesystem paths a (deliberately external)
// watcher should observe to re-trigger this workflow. The core treats
// it as inert configuration.
type WatchConfig struct {
	Paths   []string
	Exclude []string
}

// WebhookConfig describes an outbound notification target registered
// for the lifetime of a run.
type WebhookConfig struct {
	Name string
	URL  string
	// Events restricts which lifecycle events are forwarded; empty means all.
	Events []string
}

// ExecutionEnvKind selects which Task Executor handles a task.
type ExecutionEnvKind string

const (
	ExecEnvLocal  ExecutionEnvKind = "local"
	ExecEnvDocker ExecutionEnvKind = "docker"
	ExecEnvSSH    ExecutionEnvKind = "ssh"
)

// ExecutionEnvConfig configures a non-local execution target. A
// workflow-level config and a task-level override are merged
// field-by-field, task winning, by the executor's priority resolver.
type ExecutionEnvConfig struct {
	Kind ExecutionEnvKind

	// Docker fields.
	Container  string
	Privileged bool
	User       string
	Interactive bool

	// SSH fields.
	Host string
	Port int
	SSHUser string
	IdentityFile string
	StrictHostKeyChecking bool

	// Disabled forces Local regardless of Kind.
	Disabled bool
}

// Task is one node of the workflow DAG, immutable once parsed. A task
// carrying a MatrixSpec is a template: the matrix expander replaces it
// with N concrete instances and the template itself never executes.
type Task struct {
	ID             string
	Name           string
	Run            string
	Shell          string
	WorkingDir     string
	Env            map[string]string
	DependsOn      []string
	If             string
	Input          *TaskInput
	Output         *TaskOutputConfig
	Timeout        time.Duration
	ContinueOnError bool
	RetryCount     int
	RetryDelay     time.Duration
	Matrix         *MatrixSpec
	Execution      *ExecutionEnvConfig

	// MatrixValues is set only on expansions produced by the matrix
	// expander; nil on a non-matrix task or on an unexpanded template.
	MatrixValues map[string]string

	// MatrixLaneSuffix is the sanitized, declared-dimension-order
	// suffix the expander generated for this combination (e.g.
	// "-linux-amd64"), kept alongside MatrixValues because a Go map
	// cannot reconstruct the order it was built in. Dependency
	// rewriting uses it to find the matching fan-out lane of a
	// dependency's own expansions.
	MatrixLaneSuffix string
}

// MatrixSpec parameterizes a Task template into a family of concrete
// tasks, one per surviving combination of dimension values.
type MatrixSpec struct {
	Dimensions map[string][]string // insertion order is not preserved by a Go map; callers needing declared order should keep DimensionOrder.
	DimensionOrder []string
	Include    []map[string]string
	Exclude    []map[string]string
}

// TaskInputKind tags the variant carried by TaskInput.
type TaskInputKind string

const (
	InputNone  TaskInputKind = "none"
	InputText  TaskInputKind = "text"
	InputBytes TaskInputKind = "bytes"
	InputFile  TaskInputKind = "file"
	InputPipe  TaskInputKind = "pipe"
)

// TaskInput is a tagged variant describing what, if anything, is
// written to a task's stdin.
type TaskInput struct {
	Kind  TaskInputKind
	Value string // Text value, base64 Bytes value, File path, or Pipe expression.
}

// TaskOutputKind tags the variant carried by TaskOutputConfig.
type TaskOutputKind string

const (
	OutputString TaskOutputKind = "string"
	OutputBytes  TaskOutputKind = "bytes"
	OutputFile   TaskOutputKind = "file"
	OutputStreamKind TaskOutputKind = "stream"
)

// TaskOutputConfig configures stdout/stderr capture for a task.
type TaskOutputConfig struct {
	Kind          TaskOutputKind
	Path          string // set when Kind == OutputFile
	CaptureStderr bool
	MaxSizeBytes  int64
}

// DefaultMaxOutputBytes is the default TaskOutputConfig.MaxSizeBytes
// cap.
const DefaultMaxOutputBytes = 10 * 1024 * 1024

// TaskStatus is the lifecycle state of a TaskResult.
type TaskStatus string

const (
	StatusPending   TaskStatus = "Pending"
	StatusRunning   TaskStatus = "Running"
	StatusSucceeded TaskStatus = "Succeeded"
	StatusFailed    TaskStatus = "Failed"
	StatusTimedOut  TaskStatus = "TimedOut"
	StatusSkipped   TaskStatus = "Skipped"
	StatusCancelled TaskStatus = "Cancelled"
)

// TaskResult is the outcome of one task execution (or one retry attempt).
type TaskResult struct {
	TaskID    string
	Status    TaskStatus
	ExitCode  int
	Stdout    string
	Stderr    string
	Raw       []byte
	Truncated bool
	StartedAt time.Time
	EndedAt   time.Time
	Duration  time.Duration
	Error     string
}

// IsSuccess reports whether the task completed successfully.
func (r TaskResult) IsSuccess() bool {
	return r.Status == StatusSucceeded && r.ExitCode == 0
}

// IsFailed reports whether the task failed in a way dependents should
// treat as a failed dependency.
func (r TaskResult) IsFailed() bool {
	switch r.Status {
	case StatusFailed, StatusTimedOut, StatusCancelled:
		return true
	default:
		return false
	}
}

// WasSkipped reports whether the task was skipped.
func (r TaskResult) WasSkipped() bool {
	return r.Status == StatusSkipped
}

// ExecutionWave is a set of tasks whose dependencies are all satisfied
// by strictly lower-indexed waves, safe to run concurrently.
type ExecutionWave struct {
	Index int
	Tasks []*Task
}

// ExecutionPlan is the scheduler's output: ordered waves plus the
// synthetic always-tasks that run regardless of upstream outcome.
type ExecutionPlan struct {
	Waves       []ExecutionWave
	AlwaysTasks []*Task
}

// TotalTasks counts every task the plan will attempt, across waves and
// always-tasks.
func (p *ExecutionPlan) TotalTasks() int {
	n := len(p.AlwaysTasks)
	for _, w := range p.Waves {
		n += len(w.Tasks)
	}
	return n
}
