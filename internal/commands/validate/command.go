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

// Package validate implements the "validate" subcommand: YAML parse,
// task-graph invariants, cycle detection, and a plan preview.
package validate

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tombee/workflow-engine/internal/cli"
	"github.com/tombee/workflow-engine/internal/yamlspec"
	"github.com/tombee/workflow-engine/pkg/workflow/dag"
	"github.com/tombee/workflow-engine/pkg/workflow/expression"
	"github.com/tombee/workflow-engine/pkg/workflow/matrix"
)

// NewCommand creates the validate command.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "validate <workflow.yaml>",
		Short:         "Validate a workflow file's syntax, invariants, and dependency graph",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(args[0])
		},
	}
	return cmd
}

type result struct {
	Valid      bool   `json:"valid"`
	WorkflowID string `json:"workflow_id,omitempty"`
	TaskCount  int    `json:"task_count,omitempty"`
	WaveCount  int    `json:"wave_count,omitempty"`
	Error      string `json:"error,omitempty"`
}

func runValidate(path string) error {
	wf, err := yamlspec.NewLoader().Load(path)
	if err != nil {
		return reportFailure(err)
	}

	// yamlspec.Parse already ran workflow.Validate; this command adds
	// the plan-building checks a parse alone cannot perform: cycle
	// detection and matrix expansion.
	if err := dag.CheckCycles(wf.Tasks); err != nil {
		return reportFailure(err)
	}
	expanded, err := matrix.NewExpander(expression.NewEvaluator()).Expand(wf.Tasks)
	if err != nil {
		return reportFailure(err)
	}
	plan := dag.BuildPlan(expanded)

	if cli.JSON() {
		return printJSON(result{Valid: true, WorkflowID: wf.ID, TaskCount: plan.TotalTasks(), WaveCount: len(plan.Waves)})
	}
	fmt.Printf("%s is valid: %d task(s) across %d wave(s)\n", path, plan.TotalTasks(), len(plan.Waves))
	return nil
}

func reportFailure(err error) error {
	if cli.JSON() {
		_ = printJSON(result{Valid: false, Error: err.Error()})
		return &cli.ExitError{Code: cli.ExitInvalidWorkflow, Message: "validation failed"}
	}
	return &cli.ExitError{Code: cli.ExitInvalidWorkflow, Message: "validation failed", Cause: err}
}

func printJSON(r result) error {
	enc, err := json.Marshal(r)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(enc))
	return nil
}
