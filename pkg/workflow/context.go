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

package workflow

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/workflow-engine/internal/util"
)

// RunContext is the single piece of shared mutable state for one run.
// The Runner owns it exclusively during a run; readers (the expression
// evaluator, templates) see it by reference but perform no long-lived
// observation.
type RunContext struct {
	Workflow  *Workflow
	RunID     string
	StartedAt time.Time

	// TotalTaskCount is the expanded plan's task count, set by the
	// runner once the plan is built; backs workflow.taskcount.
	TotalTaskCount int

	declaredEnv map[string]string
	fullEnv     map[string]string
	workingDir  string
	params      map[string]string

	resultsMu sync.Mutex
	results   map[string]*TaskResult
	order     []string // insertion order, for reporting

	cancelMu    sync.Mutex
	taskCancel  map[string]*util.Signal
	runCancel   *util.Signal
	cancelledFl atomic.Bool

	varsMu sync.Mutex
	vars   map[string]any

	Stats *ExecutionStats
}

// NewRunContext builds a RunContext. cliEnv overrides workflow-declared
// env (but is itself overridden by task-local env at interpolation
// time: task > CLI > workflow > host).
func NewRunContext(wf *Workflow, cliEnv map[string]string, workingDir string) *RunContext {
	declared := make(map[string]string, len(wf.Env)+len(cliEnv))
	for k, v := range wf.Env {
		declared[k] = v
	}
	for k, v := range cliEnv {
		declared[k] = v
	}

	full := make(map[string]string, len(declared)+16)
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				full[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	for k, v := range declared {
		full[k] = v
	}

	return &RunContext{
		Workflow:    wf,
		RunID:       uuid.NewString()[:8],
		StartedAt:   time.Now(),
		declaredEnv: declared,
		fullEnv:     full,
		workingDir:  workingDir,
		results:     make(map[string]*TaskResult),
		taskCancel:  make(map[string]*util.Signal),
		runCancel:   util.NewSignal(),
		vars:        make(map[string]any),
		Stats:       NewExecutionStats(),
	}
}

// DeclaredEnv returns the workflow+CLI environment only, the layer the
// expression evaluator's env.<NAME> reference consults (no host
// fallback, so containerized runs don't leak host env).
func (c *RunContext) DeclaredEnv() map[string]string { return c.declaredEnv }

// FullEnv returns declared env merged over host env, declared winning
// ties; this is what the local executor passes to a spawned child.
func (c *RunContext) FullEnv() map[string]string { return c.fullEnv }

// WorkingDir returns the run's working directory.
func (c *RunContext) WorkingDir() string { return c.workingDir }

// SetParams records the CLI-supplied parameters backing params.<name>
// references. Called once by the runner before any task executes.
func (c *RunContext) SetParams(params map[string]string) { c.params = params }

// Params returns the CLI-supplied parameters, nil if none were set.
func (c *RunContext) Params() map[string]string { return c.params }

// SetResult records (or overwrites, for a retry) a task's result.
func (c *RunContext) SetResult(r TaskResult) {
	c.resultsMu.Lock()
	defer c.resultsMu.Unlock()
	if _, exists := c.results[r.TaskID]; !exists {
		c.order = append(c.order, r.TaskID)
	}
	cp := r
	c.results[r.TaskID] = &cp
}

// Result returns a copy of a task's recorded result, if any.
func (c *RunContext) Result(taskID string) (TaskResult, bool) {
	c.resultsMu.Lock()
	defer c.resultsMu.Unlock()
	r, ok := c.results[taskID]
	if !ok {
		return TaskResult{}, false
	}
	return *r, true
}

// Results returns a snapshot of all recorded results in insertion order.
func (c *RunContext) Results() []TaskResult {
	c.resultsMu.Lock()
	defer c.resultsMu.Unlock()
	out := make([]TaskResult, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.results[id])
	}
	return out
}

// GetOrCreateTaskSignal returns the per-task cancellation signal,
// minting a fresh one if none exists (or if the prior one was removed
// by a completed task, supporting retry).
func (c *RunContext) GetOrCreateTaskSignal(taskID string) *util.Signal {
	c.cancelMu.Lock()
	defer c.cancelMu.Unlock()
	if s, ok := c.taskCancel[taskID]; ok {
		return s
	}
	s := util.NewSignal()
	c.taskCancel[taskID] = s
	return s
}

// RequestTaskCancellation fires only the named task's signal, leaving
// siblings and the run itself running.
func (c *RunContext) RequestTaskCancellation(taskID string) {
	c.GetOrCreateTaskSignal(taskID).Trigger()
}

// RemoveTaskSignal discards a task's cancellation handle once the task
// has finished.
func (c *RunContext) RemoveTaskSignal(taskID string) {
	c.cancelMu.Lock()
	defer c.cancelMu.Unlock()
	delete(c.taskCancel, taskID)
}

// RunSignal returns the run-level cancellation signal.
func (c *RunContext) RunSignal() *util.Signal { return c.runCancel }

// MarkCancelled fires the run-level signal and locks the overall
// status to Cancelled.
func (c *RunContext) MarkCancelled() {
	c.cancelledFl.Store(true)
	c.runCancel.Trigger()
}

// Cancelled reports whether MarkCancelled has been called; backs the
// cancelled() predicate function.
func (c *RunContext) Cancelled() bool { return c.cancelledFl.Load() }

// SetVar stores a value in the free-form producer/consumer bag.
func (c *RunContext) SetVar(key string, val any) {
	c.varsMu.Lock()
	defer c.varsMu.Unlock()
	c.vars[key] = val
}

// GetVar retrieves a value from the free-form bag.
func (c *RunContext) GetVar(key string) (any, bool) {
	c.varsMu.Lock()
	defer c.varsMu.Unlock()
	v, ok := c.vars[key]
	return v, ok
}

// DependenciesSucceeded reports whether every dep has a recorded
// Succeeded result.
func (c *RunContext) DependenciesSucceeded(deps []string) bool {
	if len(deps) == 0 {
		return true
	}
	for _, d := range deps {
		r, ok := c.Result(d)
		if !ok || r.Status != StatusSucceeded {
			return false
		}
	}
	return true
}

// DependenciesFailed reports whether any dep has a recorded
// IsFailed-style result.
func (c *RunContext) DependenciesFailed(deps []string) bool {
	for _, d := range deps {
		if r, ok := c.Result(d); ok && r.IsFailed() {
			return true
		}
	}
	return false
}

// HasFailure reports whether any recorded result IsFailed.
func (c *RunContext) HasFailure() bool {
	for _, r := range c.Results() {
		if r.IsFailed() {
			return true
		}
	}
	return false
}

// AllSucceeded reports whether every recorded result is
// Succeeded-or-Skipped and at least one is Succeeded.
func (c *RunContext) AllSucceeded() bool {
	results := c.Results()
	sawSuccess := false
	for _, r := range results {
		switch r.Status {
		case StatusSucceeded:
			sawSuccess = true
		case StatusSkipped:
			// ok
		default:
			return false
		}
	}
	return sawSuccess
}

// ExecutionStats carries the run's atomic outcome counters: exactly
// one of IncrementSucceeded/Failed/Skipped fires per task, each also
// bumping TotalCompleted.
type ExecutionStats struct {
	succeeded      atomic.Int64
	failed         atomic.Int64
	skipped        atomic.Int64
	totalCompleted atomic.Int64
	taskIndex      atomic.Int64
}

// NewExecutionStats returns a zeroed counter set.
func NewExecutionStats() *ExecutionStats { return &ExecutionStats{} }

func (s *ExecutionStats) IncrementSucceeded() {
	s.succeeded.Add(1)
	s.totalCompleted.Add(1)
}

func (s *ExecutionStats) IncrementFailed() {
	s.failed.Add(1)
	s.totalCompleted.Add(1)
}

func (s *ExecutionStats) IncrementSkipped() {
	s.skipped.Add(1)
	s.totalCompleted.Add(1)
}

// NextTaskIndex atomically reserves and returns the next UI-ordering
// index. A retry reserves a fresh index, so callers should treat it
// as advisory ordering only.
func (s *ExecutionStats) NextTaskIndex() int64 { return s.taskIndex.Add(1) - 1 }

// StatsSnapshot is a point-in-time read of the four outcome counters.
type StatsSnapshot struct {
	Succeeded      int64
	Failed         int64
	Skipped        int64
	TotalCompleted int64
}

// Snapshot returns a point-in-time read. Individual counters are
// atomic but the four are not read as a single atomic transaction; callers
// needing a strict invariant should read it after a run has fully
// quiesced.
func (s *ExecutionStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Succeeded:      s.succeeded.Load(),
		Failed:         s.failed.Load(),
		Skipped:        s.skipped.Load(),
		TotalCompleted: s.totalCompleted.Load(),
	}
}
