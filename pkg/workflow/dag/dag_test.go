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

package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/workflow-engine/pkg/errors"
	"github.com/tombee/workflow-engine/pkg/workflow"
)

func TestCheckCycles_NoCycle(t *testing.T) {
	tasks := []*workflow.Task{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c", DependsOn: []string{"b"}},
	}
	assert.NoError(t, CheckCycles(tasks))
}

func TestCheckCycles_DirectCycle(t *testing.T) {
	tasks := []*workflow.Task{
		{ID: "a", DependsOn: []string{"b"}},
		{ID: "b", DependsOn: []string{"a"}},
	}
	err := CheckCycles(tasks)
	require.Error(t, err)
	var cde *errors.CircularDependencyError
	require.ErrorAs(t, err, &cde)
}

func TestCheckCycles_SelfDependency(t *testing.T) {
	tasks := []*workflow.Task{{ID: "a", DependsOn: []string{"a"}}}
	require.Error(t, CheckCycles(tasks))
}

func TestCheckCycles_UnknownDependencyIsNotACycle(t *testing.T) {
	tasks := []*workflow.Task{{ID: "a", DependsOn: []string{"missing"}}}
	assert.NoError(t, CheckCycles(tasks))
}

func TestBuildPlan_LinearChainOneTaskPerWave(t *testing.T) {
	tasks := []*workflow.Task{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c", DependsOn: []string{"b"}},
	}
	plan := BuildPlan(tasks)
	require.Len(t, plan.Waves, 3)
	assert.Equal(t, "a", plan.Waves[0].Tasks[0].ID)
	assert.Equal(t, "b", plan.Waves[1].Tasks[0].ID)
	assert.Equal(t, "c", plan.Waves[2].Tasks[0].ID)
}

func TestBuildPlan_IndependentTasksShareAWave(t *testing.T) {
	tasks := []*workflow.Task{
		{ID: "a"},
		{ID: "b"},
	}
	plan := BuildPlan(tasks)
	require.Len(t, plan.Waves, 1)
	assert.Len(t, plan.Waves[0].Tasks, 2)
}

func TestBuildPlan_LongestPathWins(t *testing.T) {
	// d depends on both a (depth 1) and c (depth 2, via b); d must land
	// in the wave after its deepest dependency, not its shallowest.
	tasks := []*workflow.Task{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c", DependsOn: []string{"b"}},
		{ID: "d", DependsOn: []string{"a", "c"}},
	}
	plan := BuildPlan(tasks)
	require.Len(t, plan.Waves, 4)
	assert.Equal(t, "d", plan.Waves[3].Tasks[0].ID)
}

func TestBuildPlan_AlwaysTasksAreSiphoned(t *testing.T) {
	tasks := []*workflow.Task{
		{ID: "a"},
		{ID: "cleanup", If: "${{ always() }}"},
	}
	plan := BuildPlan(tasks)
	require.Len(t, plan.AlwaysTasks, 1)
	assert.Equal(t, "cleanup", plan.AlwaysTasks[0].ID)
	assert.Equal(t, 2, plan.TotalTasks())
	for _, w := range plan.Waves {
		for _, tsk := range w.Tasks {
			assert.NotEqual(t, "cleanup", tsk.ID)
		}
	}
}

func TestContainsAlwaysToken_CaseInsensitive(t *testing.T) {
	assert.True(t, ContainsAlwaysToken("${{ ALWAYS() }}"))
	assert.False(t, ContainsAlwaysToken("${{ success() }}"))
}
