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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRunCtx(t *testing.T) *RunContext {
	t.Helper()
	wf := &Workflow{ID: "demo", Name: "Demo", Env: map[string]string{"STAGE": "prod"}}
	return NewRunContext(wf, map[string]string{"EXTRA": "1"}, "/tmp/work")
}

func TestNewRunContext_EnvPrecedence(t *testing.T) {
	run := newRunCtx(t)
	assert.Equal(t, "prod", run.DeclaredEnv()["STAGE"])
	assert.Equal(t, "1", run.DeclaredEnv()["EXTRA"])
	// Full env includes declared vars even though the host doesn't set them.
	assert.Equal(t, "prod", run.FullEnv()["STAGE"])
	assert.NotEmpty(t, run.RunID)
}

func TestRunContext_SetResultPreservesInsertionOrder(t *testing.T) {
	run := newRunCtx(t)
	run.SetResult(TaskResult{TaskID: "b", Status: StatusSucceeded})
	run.SetResult(TaskResult{TaskID: "a", Status: StatusSucceeded})
	run.SetResult(TaskResult{TaskID: "b", Status: StatusFailed}) // overwrite, not reorder

	results := run.Results()
	require.Len(t, results, 2)
	assert.Equal(t, "b", results[0].TaskID)
	assert.Equal(t, StatusFailed, results[0].Status)
	assert.Equal(t, "a", results[1].TaskID)
}

func TestRunContext_ResultIsACopy(t *testing.T) {
	run := newRunCtx(t)
	run.SetResult(TaskResult{TaskID: "a", Status: StatusSucceeded})
	r, ok := run.Result("a")
	require.True(t, ok)
	r.Status = StatusFailed

	again, _ := run.Result("a")
	assert.Equal(t, StatusSucceeded, again.Status, "mutating a returned result must not affect stored state")
}

func TestRunContext_TaskSignalLifecycle(t *testing.T) {
	run := newRunCtx(t)
	s1 := run.GetOrCreateTaskSignal("a")
	s2 := run.GetOrCreateTaskSignal("a")
	assert.Same(t, s1, s2, "same id must return the cached signal")

	run.RemoveTaskSignal("a")
	s3 := run.GetOrCreateTaskSignal("a")
	assert.NotSame(t, s1, s3, "a fresh signal must be minted after removal, supporting retry")
}

func TestRunContext_RequestTaskCancellationOnlyAffectsThatTask(t *testing.T) {
	run := newRunCtx(t)
	sigA := run.GetOrCreateTaskSignal("a")
	sigB := run.GetOrCreateTaskSignal("b")

	run.RequestTaskCancellation("a")

	assert.True(t, sigA.Triggered())
	assert.False(t, sigB.Triggered())
	assert.False(t, run.Cancelled())
}

func TestRunContext_MarkCancelled(t *testing.T) {
	run := newRunCtx(t)
	assert.False(t, run.Cancelled())
	run.MarkCancelled()
	assert.True(t, run.Cancelled())
	select {
	case <-run.RunSignal().Done():
	default:
		t.Fatal("run signal should fire on MarkCancelled")
	}
}

func TestRunContext_Vars(t *testing.T) {
	run := newRunCtx(t)
	_, ok := run.GetVar("missing")
	assert.False(t, ok)

	run.SetVar("key", 42)
	v, ok := run.GetVar("key")
	require.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestDependenciesSucceeded(t *testing.T) {
	run := newRunCtx(t)
	assert.True(t, run.DependenciesSucceeded(nil), "no deps trivially succeed")

	run.SetResult(TaskResult{TaskID: "a", Status: StatusSucceeded})
	assert.True(t, run.DependenciesSucceeded([]string{"a"}))

	run.SetResult(TaskResult{TaskID: "b", Status: StatusFailed})
	assert.False(t, run.DependenciesSucceeded([]string{"a", "b"}))
	assert.False(t, run.DependenciesSucceeded([]string{"unknown"}))
}

func TestDependenciesFailed(t *testing.T) {
	run := newRunCtx(t)
	assert.False(t, run.DependenciesFailed([]string{"unknown"}))

	run.SetResult(TaskResult{TaskID: "a", Status: StatusTimedOut})
	assert.True(t, run.DependenciesFailed([]string{"a"}))
}

func TestHasFailureAndAllSucceeded(t *testing.T) {
	run := newRunCtx(t)
	assert.False(t, run.HasFailure())
	assert.False(t, run.AllSucceeded(), "no results recorded yet means no success was seen")

	run.SetResult(TaskResult{TaskID: "a", Status: StatusSucceeded})
	run.SetResult(TaskResult{TaskID: "b", Status: StatusSkipped})
	assert.False(t, run.HasFailure())
	assert.True(t, run.AllSucceeded())

	run.SetResult(TaskResult{TaskID: "c", Status: StatusCancelled})
	assert.True(t, run.HasFailure())
	assert.False(t, run.AllSucceeded())
}

func TestExecutionStats_IncrementsAndSnapshot(t *testing.T) {
	s := NewExecutionStats()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			switch i % 3 {
			case 0:
				s.IncrementSucceeded()
			case 1:
				s.IncrementFailed()
			default:
				s.IncrementSkipped()
			}
		}(i)
	}
	wg.Wait()

	snap := s.Snapshot()
	assert.Equal(t, snap.Succeeded+snap.Failed+snap.Skipped, snap.TotalCompleted)
	assert.Equal(t, int64(10), snap.TotalCompleted)
}

func TestExecutionStats_NextTaskIndexMonotonic(t *testing.T) {
	s := NewExecutionStats()
	a := s.NextTaskIndex()
	b := s.NextTaskIndex()
	assert.Equal(t, a+1, b)
}
