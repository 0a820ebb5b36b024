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
	"fmt"
	"strings"

	"github.com/tombee/workflow-engine/pkg/errors"
)

// Validate checks the parse-boundary invariants of a parsed
// Workflow, independent of cycle detection (a separate, pre-expansion
// concern owned by pkg/workflow/dag): task ids unique
// case-insensitively, every dependsOn naming a declared task, a
// non-negative default timeout, and (for any task carrying a MatrixSpec)
// non-empty dimension names and value lists.
func Validate(wf *Workflow) error {
	if wf.DefaultTimeout < 0 {
		return &errors.ValidationError{Field: "defaultTimeout", Message: "must be a positive duration"}
	}

	seen := make(map[string]string, len(wf.Tasks)) // lowercased id -> original id
	for _, t := range wf.Tasks {
		if t.ID == "" {
			return &errors.ValidationError{Field: "task.id", Message: "task id must not be empty"}
		}
		lower := strings.ToLower(t.ID)
		if prior, exists := seen[lower]; exists {
			return &errors.ValidationError{
				Field:      "task.id",
				Message:    fmt.Sprintf("duplicate task id %q (conflicts with %q)", t.ID, prior),
				Suggestion: "task ids are compared case-insensitively; rename one of them",
			}
		}
		seen[lower] = t.ID

		if t.Matrix != nil {
			if err := validateMatrix(t.ID, t.Matrix); err != nil {
				return err
			}
		}
	}

	for _, t := range wf.Tasks {
		for _, dep := range t.DependsOn {
			if _, ok := seen[strings.ToLower(dep)]; !ok {
				return &errors.ValidationError{
					Field:   fmt.Sprintf("task[%s].dependsOn", t.ID),
					Message: fmt.Sprintf("unknown dependency %q", dep),
				}
			}
		}
	}

	return nil
}

// validateMatrix checks MatrixSpec invariants: dimension
// names non-empty, dimension value lists non-empty. Unknown
// dimensions referenced by an exclude are a warning, not a failure,
// so they are not checked here.
func validateMatrix(taskID string, m *MatrixSpec) error {
	if len(m.Dimensions) == 0 {
		return &errors.ValidationError{Field: fmt.Sprintf("task[%s].matrix", taskID), Message: "matrix must declare at least one dimension"}
	}
	for name, values := range m.Dimensions {
		if strings.TrimSpace(name) == "" {
			return &errors.ValidationError{Field: fmt.Sprintf("task[%s].matrix", taskID), Message: "dimension name must not be empty"}
		}
		if len(values) == 0 {
			return &errors.ValidationError{Field: fmt.Sprintf("task[%s].matrix.%s", taskID, name), Message: "dimension value list must not be empty"}
		}
	}
	return nil
}
