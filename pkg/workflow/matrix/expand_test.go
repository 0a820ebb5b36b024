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

package matrix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/workflow-engine/pkg/workflow"
	"github.com/tombee/workflow-engine/pkg/workflow/expression"
)

func taskIDs(tasks []*workflow.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

func TestExpand_NonMatrixTaskPassesThrough(t *testing.T) {
	x := NewExpander(expression.NewEvaluator())
	tasks := []*workflow.Task{{ID: "build", Run: "make"}}

	out, err := x.Expand(tasks)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "build", out[0].ID)
}

func TestExpand_CartesianProduct(t *testing.T) {
	x := NewExpander(expression.NewEvaluator())
	tasks := []*workflow.Task{
		{
			ID:  "build",
			Run: "build for ${{ matrix.os }}/${{ matrix.arch }}",
			Matrix: &workflow.MatrixSpec{
				Dimensions:     map[string][]string{"os": {"linux", "darwin"}, "arch": {"amd64", "arm64"}},
				DimensionOrder: []string{"os", "arch"},
			},
		},
	}

	out, err := x.Expand(tasks)
	require.NoError(t, err)
	require.Len(t, out, 4)

	for _, exp := range out {
		assert.Contains(t, exp.Run, exp.MatrixValues["os"])
		assert.Contains(t, exp.Run, exp.MatrixValues["arch"])
		assert.NotNil(t, exp.MatrixValues)
		assert.Nil(t, exp.Matrix)
	}
}

func TestExpand_ExcludeRemovesCombination(t *testing.T) {
	x := NewExpander(expression.NewEvaluator())
	tasks := []*workflow.Task{
		{
			ID: "build",
			Matrix: &workflow.MatrixSpec{
				Dimensions:     map[string][]string{"os": {"linux", "windows"}, "arch": {"amd64", "arm64"}},
				DimensionOrder: []string{"os", "arch"},
				Exclude:        []map[string]string{{"os": "windows", "arch": "arm64"}},
			},
		},
	}

	out, err := x.Expand(tasks)
	require.NoError(t, err)
	assert.Len(t, out, 3)
	for _, exp := range out {
		excluded := exp.MatrixValues["os"] == "windows" && exp.MatrixValues["arch"] == "arm64"
		assert.False(t, excluded)
	}
}

func TestExpand_IncludeAddsExtraCombination(t *testing.T) {
	x := NewExpander(expression.NewEvaluator())
	tasks := []*workflow.Task{
		{
			ID: "build",
			Matrix: &workflow.MatrixSpec{
				Dimensions:     map[string][]string{"os": {"linux"}},
				DimensionOrder: []string{"os"},
				Include:        []map[string]string{{"os": "linux", "flavor": "debug"}},
			},
		},
	}

	out, err := x.Expand(tasks)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "debug", out[0].MatrixValues["flavor"])
}

func TestExpand_IDFallsBackToLaneSuffixWhenIDHasNoMatrixRef(t *testing.T) {
	x := NewExpander(expression.NewEvaluator())
	tasks := []*workflow.Task{
		{
			ID: "build",
			Matrix: &workflow.MatrixSpec{
				Dimensions:     map[string][]string{"os": {"linux", "darwin"}},
				DimensionOrder: []string{"os"},
			},
		},
	}

	out, err := x.Expand(tasks)
	require.NoError(t, err)
	ids := taskIDs(out)
	assert.ElementsMatch(t, []string{"build-linux", "build-darwin"}, ids)
}

func TestExpand_DependencyFanOutToAllLanes(t *testing.T) {
	x := NewExpander(expression.NewEvaluator())
	tasks := []*workflow.Task{
		{
			ID: "build",
			Matrix: &workflow.MatrixSpec{
				Dimensions:     map[string][]string{"os": {"linux", "darwin"}},
				DimensionOrder: []string{"os"},
			},
		},
		{ID: "report", DependsOn: []string{"build"}},
	}

	out, err := x.Expand(tasks)
	require.NoError(t, err)

	var report *workflow.Task
	for _, t2 := range out {
		if t2.ID == "report" {
			report = t2
		}
	}
	require.NotNil(t, report)
	assert.ElementsMatch(t, []string{"build-linux", "build-darwin"}, report.DependsOn)
}

func TestExpand_DependencyMatchesSameLane(t *testing.T) {
	x := NewExpander(expression.NewEvaluator())
	tasks := []*workflow.Task{
		{
			ID: "build",
			Matrix: &workflow.MatrixSpec{
				Dimensions:     map[string][]string{"os": {"linux", "darwin"}},
				DimensionOrder: []string{"os"},
			},
		},
		{
			ID:        "test",
			DependsOn: []string{"build"},
			Matrix: &workflow.MatrixSpec{
				Dimensions:     map[string][]string{"os": {"linux", "darwin"}},
				DimensionOrder: []string{"os"},
			},
		},
	}

	out, err := x.Expand(tasks)
	require.NoError(t, err)

	for _, t2 := range out {
		if t2.ID == "test-linux" {
			assert.Equal(t, []string{"build-linux"}, t2.DependsOn)
		}
		if t2.ID == "test-darwin" {
			assert.Equal(t, []string{"build-darwin"}, t2.DependsOn)
		}
	}
}
