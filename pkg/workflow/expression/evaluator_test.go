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

package expression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/workflow-engine/pkg/workflow"
)

func newTestRun(t *testing.T) *workflow.RunContext {
	t.Helper()
	wf := &workflow.Workflow{
		ID:   "demo",
		Name: "Demo",
		Env:  map[string]string{"STAGE": "prod"},
	}
	return workflow.NewRunContext(wf, nil, "/tmp/work")
}

func TestEvalBool_Comparisons(t *testing.T) {
	run := newTestRun(t)
	run.SetResult(workflow.TaskResult{TaskID: "build", Status: workflow.StatusSucceeded, ExitCode: 0})
	ec := NewEvalContext(run, nil, nil)
	e := NewEvaluator()

	got, err := e.EvalBool(`tasks.build.exitCode == 0`, ec)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = e.EvalBool(`tasks.build.status == 'succeeded'`, ec)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEvalBool_AndOr(t *testing.T) {
	run := newTestRun(t)
	run.SetResult(workflow.TaskResult{TaskID: "a", Status: workflow.StatusSucceeded})
	run.SetResult(workflow.TaskResult{TaskID: "b", Status: workflow.StatusFailed})
	ec := NewEvalContext(run, nil, nil)
	e := NewEvaluator()

	got, err := e.EvalBool(`tasks.a.isSuccess == true && tasks.b.isFailed == true`, ec)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = e.EvalBool(`tasks.a.isFailed == true || tasks.b.isFailed == true`, ec)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEvalIf_DefaultsTrueWhenEmpty(t *testing.T) {
	run := newTestRun(t)
	ec := NewEvalContext(run, nil, nil)
	e := NewEvaluator()

	got, err := e.EvalIf("", ec)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEvalIf_AlwaysFunction(t *testing.T) {
	run := newTestRun(t)
	run.MarkCancelled()
	ec := NewEvalContext(run, nil, nil)
	e := NewEvaluator()

	got, err := e.EvalIf(`${{ always() }}`, ec)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = e.EvalIf(`${{ cancelled() }}`, ec)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestInterpolate_LiteralAndEnvMix(t *testing.T) {
	run := newTestRun(t)
	ec := NewEvalContext(run, nil, nil)
	e := NewEvaluator()

	out, err := e.Interpolate("stage=${{ env.STAGE }}-build", ec)
	require.NoError(t, err)
	assert.Equal(t, "stage=prod-build", out)
}

func TestInterpolate_UnresolvedMatrixLeftVerbatim(t *testing.T) {
	run := newTestRun(t)
	ec := NewEvalContext(run, nil, nil)
	e := NewEvaluator()

	out, err := e.Interpolate("target: ${{ matrix.os }}", ec)
	require.NoError(t, err)
	assert.Equal(t, "target: ${{ matrix.os }}", out)
}

func TestInterpolate_ResolvedMatrixSubstitutes(t *testing.T) {
	run := newTestRun(t)
	task := &workflow.Task{ID: "build", MatrixValues: map[string]string{"os": "linux"}}
	ec := NewEvalContext(run, task, nil)
	e := NewEvaluator()

	out, err := e.Interpolate("target: ${{ matrix.os }}", ec)
	require.NoError(t, err)
	assert.Equal(t, "target: linux", out)
}

func TestEvaluate_StringFunctions(t *testing.T) {
	run := newTestRun(t)
	ec := NewEvalContext(run, nil, nil)
	e := NewEvaluator()

	got, err := e.EvalBool(`contains('hello world', 'WORLD')`, ec)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = e.EvalBool(`startsWith('hello', 'he')`, ec)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = e.EvalBool(`isEmpty('')`, ec)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEvaluate_CachesCompiledProgram(t *testing.T) {
	run := newTestRun(t)
	ec := NewEvalContext(run, nil, nil)
	e := NewEvaluator()

	src := `env.STAGE == 'prod'`
	_, err := e.EvalBool(src, ec)
	require.NoError(t, err)

	p1, err := e.planFor(src)
	require.NoError(t, err)
	p2, err := e.planFor(src)
	require.NoError(t, err)
	assert.Same(t, p1, p2)
}

func TestResolveJSONPath(t *testing.T) {
	run := newTestRun(t)
	run.SetResult(workflow.TaskResult{TaskID: "fetch", Status: workflow.StatusSucceeded, Stdout: `{"items":[{"name":"alpha"}]}`})
	ec := NewEvalContext(run, nil, nil)
	e := NewEvaluator()

	out, err := e.Interpolate(`${{ fromJson(tasks.fetch.output).items[0].name }}`, ec)
	require.NoError(t, err)
	assert.Equal(t, "alpha", out)
}

func TestEvalBool_ParamsReference(t *testing.T) {
	run := newTestRun(t)
	ec := NewEvalContext(run, nil, map[string]string{"env_name": "staging"})
	e := NewEvaluator()

	got, err := e.EvalBool(`params.env_name == 'staging'`, ec)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEvalBool_UnknownFunctionErrors(t *testing.T) {
	run := newTestRun(t)
	ec := NewEvalContext(run, nil, nil)
	e := NewEvaluator()

	_, err := e.EvalBool(`bogusFunc()`, ec)
	assert.Error(t, err)
}
