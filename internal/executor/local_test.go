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

package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/workflow-engine/pkg/workflow"
	"github.com/tombee/workflow-engine/pkg/workflow/expression"
)

func newRun(t *testing.T) *workflow.RunContext {
	t.Helper()
	wf := &workflow.Workflow{ID: "demo", Name: "Demo", DefaultShell: "sh"}
	return workflow.NewRunContext(wf, nil, t.TempDir())
}

func TestLocal_SucceedsAndCapturesOutput(t *testing.T) {
	exec := NewLocal(expression.NewEvaluator())
	run := newRun(t)
	task := &workflow.Task{ID: "hello", Run: "echo hi"}

	var lines []string
	result := exec.Execute(context.Background(), task, run, ProgressFunc(func(s workflow.OutputStream, l string) {
		lines = append(lines, l)
	}))

	assert.Equal(t, workflow.StatusSucceeded, result.Status)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "hi", result.Stdout)
	assert.Contains(t, lines, "hi")
}

func TestLocal_NonZeroExitIsFailed(t *testing.T) {
	exec := NewLocal(expression.NewEvaluator())
	run := newRun(t)
	task := &workflow.Task{ID: "boom", Run: "exit 7"}

	result := exec.Execute(context.Background(), task, run, nil)
	assert.Equal(t, workflow.StatusFailed, result.Status)
	assert.Equal(t, 7, result.ExitCode)
}

func TestLocal_TimeoutProducesTimedOut(t *testing.T) {
	exec := NewLocal(expression.NewEvaluator())
	run := newRun(t)
	task := &workflow.Task{ID: "slow", Run: "sleep 2", Timeout: 50 * time.Millisecond}

	start := time.Now()
	result := exec.Execute(context.Background(), task, run, nil)
	assert.Equal(t, workflow.StatusTimedOut, result.Status)
	assert.Less(t, time.Since(start), time.Second)
}

func TestLocal_RetrySucceedsOnSecondAttempt(t *testing.T) {
	exec := NewLocal(expression.NewEvaluator())
	run := newRun(t)
	marker := t.TempDir() + "/attempted"
	task := &workflow.Task{
		ID:         "flaky",
		Run:        "test -f " + marker + " && exit 0 || { touch " + marker + "; exit 1; }",
		RetryCount: 2,
		RetryDelay: 10 * time.Millisecond,
	}

	result := exec.Execute(context.Background(), task, run, nil)
	assert.Equal(t, workflow.StatusSucceeded, result.Status)
}

func TestLocal_CancellationDuringRun(t *testing.T) {
	exec := NewLocal(expression.NewEvaluator())
	run := newRun(t)
	task := &workflow.Task{ID: "cancel-me", Run: "sleep 5"}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	result := exec.Execute(ctx, task, run, nil)
	assert.Equal(t, workflow.StatusCancelled, result.Status)
	assert.Equal(t, -1, result.ExitCode)
}

func TestLocal_SkipsWhenDependencyNotSucceeded(t *testing.T) {
	exec := NewLocal(expression.NewEvaluator())
	run := newRun(t)
	run.SetResult(workflow.TaskResult{TaskID: "upstream", Status: workflow.StatusFailed})
	task := &workflow.Task{ID: "downstream", Run: "echo hi", DependsOn: []string{"upstream"}}

	result := exec.Execute(context.Background(), task, run, nil)
	assert.Equal(t, workflow.StatusSkipped, result.Status)
}

func TestLocal_IfFalseSkips(t *testing.T) {
	exec := NewLocal(expression.NewEvaluator())
	run := newRun(t)
	task := &workflow.Task{ID: "conditional", Run: "echo hi", If: "${{ false }}"}

	result := exec.Execute(context.Background(), task, run, nil)
	assert.Equal(t, workflow.StatusSkipped, result.Status)
	require.Equal(t, "condition not met", result.Error)
}

func TestLocal_OutputTruncatesAtMaxSize(t *testing.T) {
	exec := NewLocal(expression.NewEvaluator())
	run := newRun(t)
	task := &workflow.Task{
		ID:     "verbose",
		Run:    "for i in 1 2 3 4 5; do echo line$i; done",
		Output: &workflow.TaskOutputConfig{MaxSizeBytes: 10},
	}

	result := exec.Execute(context.Background(), task, run, nil)
	assert.True(t, result.Truncated)
	assert.LessOrEqual(t, len(result.Stdout), 10)
}
