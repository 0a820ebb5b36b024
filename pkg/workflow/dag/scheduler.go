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
	"strings"

	"github.com/tombee/workflow-engine/pkg/workflow"
)

// ContainsAlwaysToken reports whether an if expression contains the
// literal token "always()", case-insensitive.
func ContainsAlwaysToken(ifExpr string) bool {
	return strings.Contains(strings.ToLower(ifExpr), "always()")
}

// BuildPlan assigns already matrix-expanded tasks to waves by
// longest-path level and siphons always-tasks into AlwaysTasks.
// Cycles should already have been rejected by
// CheckCycles on the pre-expansion task list; a cycle surviving into
// this function (which expansion cannot introduce, since it only
// duplicates existing edges) is defused rather than looped forever.
func BuildPlan(tasks []*workflow.Task) *workflow.ExecutionPlan {
	var regular, always []*workflow.Task
	for _, t := range tasks {
		if ContainsAlwaysToken(t.If) {
			always = append(always, t)
		} else {
			regular = append(regular, t)
		}
	}

	byID := make(map[string]*workflow.Task, len(regular))
	for _, t := range regular {
		byID[t.ID] = t
	}

	levels := make(map[string]int, len(regular))

	var level func(id string, visiting map[string]bool) int
	level = func(id string, visiting map[string]bool) int {
		if l, ok := levels[id]; ok {
			return l
		}
		t, ok := byID[id]
		if !ok {
			// Missing-dependency reference inside an expanded task:
			// the parser has already rejected true unknowns, so this
			// is a safeguard default.
			return 0
		}
		if visiting[id] {
			return 0
		}
		visiting[id] = true
		maxDep := -1
		for _, dep := range t.DependsOn {
			if l := level(dep, visiting); l > maxDep {
				maxDep = l
			}
		}
		delete(visiting, id)
		l := 1 + maxDep
		levels[id] = l
		return l
	}

	maxLevel := -1
	for _, t := range regular {
		if l := level(t.ID, map[string]bool{}); l > maxLevel {
			maxLevel = l
		}
	}

	waves := make([]workflow.ExecutionWave, maxLevel+1)
	for i := range waves {
		waves[i].Index = i
	}
	for _, t := range regular {
		l := levels[t.ID]
		waves[l].Tasks = append(waves[l].Tasks, t)
	}
	// Ties within a wave preserve source declaration order: regular is
	// built in declaration order and appended to its wave in that same
	// order above, so no further sort is needed.

	return &workflow.ExecutionPlan{Waves: waves, AlwaysTasks: always}
}
