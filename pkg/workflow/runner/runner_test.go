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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/workflow-engine/internal/executor"
	"github.com/tombee/workflow-engine/pkg/workflow"
	"github.com/tombee/workflow-engine/pkg/workflow/dag"
	"github.com/tombee/workflow-engine/pkg/workflow/expression"
)

// stubExecutor records execution order and returns canned results
// without spawning processes.
type stubExecutor struct {
	mu    sync.Mutex
	order []string
	fail  map[string]bool
	block chan struct{} // when non-nil, Execute blocks until closed or ctx is done
}

func (s *stubExecutor) Execute(ctx context.Context, task *workflow.Task, run *workflow.RunContext, progress executor.Progress) workflow.TaskResult {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			now := time.Now()
			return workflow.TaskResult{TaskID: task.ID, Status: workflow.StatusCancelled, ExitCode: -1, StartedAt: now, EndedAt: now, Error: "Task was cancelled"}
		}
	}
	s.mu.Lock()
	s.order = append(s.order, task.ID)
	s.mu.Unlock()

	now := time.Now()
	res := workflow.TaskResult{TaskID: task.ID, StartedAt: now, EndedAt: now}
	if s.fail[task.ID] {
		res.Status = workflow.StatusFailed
		res.ExitCode = 1
		res.Error = "exit status 1"
		return res
	}
	res.Status = workflow.StatusSucceeded
	return res
}

func (s *stubExecutor) executed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// eventRecorder collects every published event, safe for concurrent
// handlers.
type eventRecorder struct {
	mu     sync.Mutex
	events []workflow.Event
}

func (r *eventRecorder) record(ev workflow.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) all() []workflow.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]workflow.Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *eventRecorder) ofKind(kind workflow.EventKind) []workflow.Event {
	var out []workflow.Event
	for _, ev := range r.all() {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func newTestRunner(exec Executor) (*Runner, *eventRecorder) {
	rec := &eventRecorder{}
	pub := workflow.NewPublisher(nil)
	pub.Subscribe(rec.record)
	return New(exec, expression.NewEvaluator(), pub, nil, nil), rec
}

func TestRun_SequentialChain(t *testing.T) {
	wf := &workflow.Workflow{
		ID: "chain", Name: "chain",
		Tasks: []*workflow.Task{
			{ID: "a", Run: "echo a"},
			{ID: "b", Run: "echo b", DependsOn: []string{"a"}},
			{ID: "c", Run: "echo c", DependsOn: []string{"b"}},
		},
	}
	exec := &stubExecutor{}
	r, rec := newTestRunner(exec)

	run, err := r.Run(context.Background(), wf, Config{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, exec.executed())
	assert.True(t, run.AllSucceeded())

	started := rec.ofKind(workflow.EventTaskStarted)
	require.Len(t, started, 3)
	for i, id := range []string{"a", "b", "c"} {
		assert.Equal(t, id, started[i].Payload.(workflow.TaskStartedPayload).TaskID)
	}
	assert.Len(t, rec.ofKind(workflow.EventTaskCompleted), 3)
	assert.Len(t, rec.ofKind(workflow.EventWaveStarted), 3)

	events := rec.all()
	last := events[len(events)-1]
	require.Equal(t, workflow.EventWorkflowCompleted, last.Kind)
	payload := last.Payload.(workflow.WorkflowCompletedPayload)
	assert.Equal(t, "Succeeded", payload.Status)
	assert.Equal(t, 3, payload.Succeeded)
	assert.Equal(t, 0, payload.Failed)
}

func TestRun_DiamondWaveBoundaries(t *testing.T) {
	wf := &workflow.Workflow{
		ID: "diamond", Name: "diamond",
		Tasks: []*workflow.Task{
			{ID: "root", Run: "echo root"},
			{ID: "l", Run: "echo l", DependsOn: []string{"root"}},
			{ID: "r", Run: "echo r", DependsOn: []string{"root"}},
			{ID: "join", Run: "echo join", DependsOn: []string{"l", "r"}},
		},
	}
	exec := &stubExecutor{}
	r, rec := newTestRunner(exec)

	_, err := r.Run(context.Background(), wf, Config{})
	require.NoError(t, err)

	waves := rec.ofKind(workflow.EventWaveStarted)
	require.Len(t, waves, 3)
	assert.Equal(t, []string{"root"}, waves[0].Payload.(workflow.WaveStartedPayload).TaskIDs)
	assert.ElementsMatch(t, []string{"l", "r"}, waves[1].Payload.(workflow.WaveStartedPayload).TaskIDs)
	assert.Equal(t, []string{"join"}, waves[2].Payload.(workflow.WaveStartedPayload).TaskIDs)

	// The l and r TaskStarted events both fall between WaveStarted(1)
	// and WaveCompleted(1); no ordering between the two is promised.
	events := rec.all()
	waveStart, waveEnd := -1, -1
	for i, ev := range events {
		switch p := ev.Payload.(type) {
		case workflow.WaveStartedPayload:
			if p.WaveIndex == 1 {
				waveStart = i
			}
		case workflow.WaveCompletedPayload:
			if p.WaveIndex == 1 {
				waveEnd = i
			}
		}
	}
	require.GreaterOrEqual(t, waveStart, 0)
	require.Greater(t, waveEnd, waveStart)
	for i, ev := range events {
		if ev.Kind != workflow.EventTaskStarted {
			continue
		}
		id := ev.Payload.(workflow.TaskStartedPayload).TaskID
		if id == "l" || id == "r" {
			assert.Greater(t, i, waveStart)
			assert.Less(t, i, waveEnd)
		}
	}
}

func TestRun_AlwaysTaskRunsAfterFailure(t *testing.T) {
	wf := &workflow.Workflow{
		ID: "cleanup", Name: "cleanup",
		Tasks: []*workflow.Task{
			{ID: "main", Run: "exit 1"},
			{ID: "cleanup", Run: "echo done", If: "${{ always() }}"},
		},
	}
	exec := &stubExecutor{fail: map[string]bool{"main": true}}
	r, rec := newTestRunner(exec)

	run, err := r.Run(context.Background(), wf, Config{})
	require.NoError(t, err)
	assert.Equal(t, []string{"main", "cleanup"}, exec.executed())
	assert.True(t, run.HasFailure())

	completed := rec.ofKind(workflow.EventWorkflowCompleted)
	require.Len(t, completed, 1)
	payload := completed[0].Payload.(workflow.WorkflowCompletedPayload)
	assert.Equal(t, "Failed", payload.Status)
	assert.Equal(t, 1, payload.Succeeded)
	assert.Equal(t, 1, payload.Failed)
	assert.Equal(t, 0, payload.Skipped)
}

func TestRun_DryRunExecutesNothing(t *testing.T) {
	wf := &workflow.Workflow{
		ID: "dry", Name: "dry",
		Tasks: []*workflow.Task{{ID: "a", Run: "echo a"}},
	}
	exec := &stubExecutor{}
	r, rec := newTestRunner(exec)

	run, err := r.Run(context.Background(), wf, Config{DryRun: true})
	require.NoError(t, err)
	assert.Empty(t, exec.executed())
	assert.Empty(t, run.Results())
	assert.Empty(t, rec.ofKind(workflow.EventTaskStarted))
	require.Len(t, rec.ofKind(workflow.EventWorkflowCompleted), 1)
}

func TestRun_StopOnFirstFailure(t *testing.T) {
	wf := &workflow.Workflow{
		ID: "stop", Name: "stop",
		Tasks: []*workflow.Task{
			{ID: "a", Run: "exit 1"},
			{ID: "b", Run: "echo b", DependsOn: []string{"a"}},
		},
	}
	exec := &stubExecutor{fail: map[string]bool{"a": true}}
	r, _ := newTestRunner(exec)

	run, err := r.Run(context.Background(), wf, Config{StopOnFirstFailure: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, exec.executed())
	_, ok := run.Result("b")
	assert.False(t, ok)
}

func TestRun_StopOnFirstFailureHonorsContinueOnError(t *testing.T) {
	wf := &workflow.Workflow{
		ID: "continue", Name: "continue",
		Tasks: []*workflow.Task{
			{ID: "a", Run: "exit 1", ContinueOnError: true},
			{ID: "b", Run: "echo b", DependsOn: []string{"a"}},
		},
	}
	exec := &stubExecutor{fail: map[string]bool{"a": true}}
	r, _ := newTestRunner(exec)

	_, err := r.Run(context.Background(), wf, Config{StopOnFirstFailure: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, exec.executed())
}

func TestRun_StepModePausesBetweenWaves(t *testing.T) {
	wf := &workflow.Workflow{
		ID: "step", Name: "step",
		Tasks: []*workflow.Task{
			{ID: "a", Run: "echo a"},
			{ID: "b", Run: "echo b", DependsOn: []string{"a"}},
		},
	}
	exec := &stubExecutor{}
	rec := &eventRecorder{}
	pub := workflow.NewPublisher(nil)
	pub.Subscribe(rec.record)

	gate := NewStepGate()
	// Release the gate as soon as each pause is announced, as a UI would.
	pub.Subscribe(func(ev workflow.Event) {
		if ev.Kind == workflow.EventStepPaused {
			gate.Release()
		}
	})

	r := New(exec, expression.NewEvaluator(), pub, nil, nil)
	_, err := r.Run(context.Background(), wf, Config{StepMode: true, Gate: gate})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, exec.executed())

	paused := rec.ofKind(workflow.EventStepPaused)
	require.Len(t, paused, 2)
	assert.Equal(t, "", paused[0].Payload.(workflow.StepPausedPayload).CompletedTaskID)
	assert.Equal(t, "a", paused[1].Payload.(workflow.StepPausedPayload).CompletedTaskID)
	assert.Len(t, rec.ofKind(workflow.EventStepResumed), 2)
}

func TestRun_StepModePausesBetweenTasksInAWave(t *testing.T) {
	wf := &workflow.Workflow{
		ID: "step2", Name: "step2",
		Tasks: []*workflow.Task{
			{ID: "x", Run: "echo x"},
			{ID: "y", Run: "echo y"},
		},
	}
	exec := &stubExecutor{}
	rec := &eventRecorder{}
	pub := workflow.NewPublisher(nil)
	pub.Subscribe(rec.record)

	gate := NewStepGate()
	pub.Subscribe(func(ev workflow.Event) {
		if ev.Kind == workflow.EventStepPaused {
			gate.Release()
		}
	})

	r := New(exec, expression.NewEvaluator(), pub, nil, nil)
	_, err := r.Run(context.Background(), wf, Config{StepMode: true, Gate: gate})
	require.NoError(t, err)

	// Step mode runs the wave sequentially in declaration order.
	assert.Equal(t, []string{"x", "y"}, exec.executed())
	// One pause before any task, one between x and y, none after the
	// final task of the final wave.
	paused := rec.ofKind(workflow.EventStepPaused)
	require.Len(t, paused, 2)
	assert.Equal(t, "x", paused[1].Payload.(workflow.StepPausedPayload).CompletedTaskID)
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	wf := &workflow.Workflow{
		ID: "cancel", Name: "cancel",
		Tasks: []*workflow.Task{{ID: "a", Run: "echo a"}},
	}
	exec := &stubExecutor{}
	r, rec := newTestRunner(exec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	run, err := r.Run(ctx, wf, Config{})
	require.NoError(t, err)
	assert.Empty(t, exec.executed())
	assert.True(t, run.Cancelled())

	require.Len(t, rec.ofKind(workflow.EventWorkflowCancelled), 1)

	events := rec.all()
	var cancelledIdx, completedIdx int
	for i, ev := range events {
		switch ev.Kind {
		case workflow.EventWorkflowCancelled:
			cancelledIdx = i
		case workflow.EventWorkflowCompleted:
			completedIdx = i
			assert.Equal(t, "Cancelled", ev.Payload.(workflow.WorkflowCompletedPayload).Status)
		}
	}
	assert.Less(t, cancelledIdx, completedIdx)
}

func TestRun_CircularDependencyFailsPlan(t *testing.T) {
	wf := &workflow.Workflow{
		ID: "cycle", Name: "cycle",
		Tasks: []*workflow.Task{
			{ID: "a", Run: "echo a", DependsOn: []string{"b"}},
			{ID: "b", Run: "echo b", DependsOn: []string{"a"}},
		},
	}
	exec := &stubExecutor{}
	r, _ := newTestRunner(exec)

	run, err := r.Run(context.Background(), wf, Config{})
	require.Error(t, err)
	require.NotNil(t, run)
	assert.Empty(t, exec.executed())
}

func TestRetrier(t *testing.T) {
	wf := &workflow.Workflow{
		ID: "retry", Name: "retry",
		Tasks: []*workflow.Task{{ID: "flaky", Run: "echo ok"}},
	}
	plan := dag.BuildPlan(wf.Tasks)
	run := workflow.NewRunContext(wf, nil, ".")
	run.SetResult(workflow.TaskResult{TaskID: "flaky", Status: workflow.StatusFailed, ExitCode: 1})

	exec := &stubExecutor{}
	rec := &eventRecorder{}
	pub := workflow.NewPublisher(nil)
	pub.Subscribe(rec.record)
	rt := NewRetrier(exec, pub)

	result, err := rt.Retry(context.Background(), run, plan, "flaky")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusSucceeded, result.Status)

	recorded, ok := run.Result("flaky")
	require.True(t, ok)
	assert.Equal(t, workflow.StatusSucceeded, recorded.Status)

	require.Len(t, rec.ofKind(workflow.EventTaskStarted), 1)
	require.Len(t, rec.ofKind(workflow.EventTaskCompleted), 1)
}

func TestRetrier_RefusesNonRetryableStates(t *testing.T) {
	wf := &workflow.Workflow{
		ID: "retry2", Name: "retry2",
		Tasks: []*workflow.Task{{ID: "ok", Run: "echo ok"}},
	}
	plan := dag.BuildPlan(wf.Tasks)
	run := workflow.NewRunContext(wf, nil, ".")
	run.SetResult(workflow.TaskResult{TaskID: "ok", Status: workflow.StatusSucceeded})

	rt := NewRetrier(&stubExecutor{}, workflow.NewPublisher(nil))

	_, err := rt.Retry(context.Background(), run, plan, "ok")
	assert.Error(t, err)

	_, err = rt.Retry(context.Background(), run, plan, "missing")
	assert.Error(t, err)
}
