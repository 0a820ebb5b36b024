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
	"os/exec"

	"github.com/tombee/workflow-engine/pkg/workflow"
	"github.com/tombee/workflow-engine/pkg/workflow/expression"
)

// Local runs a task as a child process on the host, handing the
// command string to the shell with -c.
type Local struct {
	*processExecutor
}

// NewLocal returns a Local executor using eval for if/run/env
// interpolation.
func NewLocal(eval *expression.Evaluator) *Local {
	l := &Local{}
	l.processExecutor = &processExecutor{eval: eval, builder: localBuilder{}}
	return l
}

type localBuilder struct{}

func (localBuilder) build(ctx context.Context, task *workflow.Task, run *workflow.RunContext, envCfg *workflow.ExecutionEnvConfig, shell, runCmd string, env map[string]string) (*exec.Cmd, error) {
	return exec.CommandContext(ctx, shell, "-c", runCmd), nil
}
