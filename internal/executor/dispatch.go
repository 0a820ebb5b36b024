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

	"github.com/tombee/workflow-engine/pkg/workflow"
	"github.com/tombee/workflow-engine/pkg/workflow/expression"
)

// Dispatcher selects one of Local/Docker/SSH per task, by the
// priority-ordered chain (SSH=10, Docker=20,
// Local=100, lower wins). It itself satisfies the Executor contract so
// the wave executor never needs to know which concrete
// implementation ran a given task.
type Dispatcher struct {
	local  Executor
	docker Executor
	ssh    Executor
}

// NewDispatcher builds the priority-ordered dispatch table.
func NewDispatcher(eval *expression.Evaluator) *Dispatcher {
	return &Dispatcher{
		local:  NewLocal(eval),
		docker: NewDocker(eval),
		ssh:    NewSSH(eval),
	}
}

func (d *Dispatcher) Execute(ctx context.Context, task *workflow.Task, run *workflow.RunContext, progress Progress) workflow.TaskResult {
	envCfg := ResolveEnv(run.Workflow.Execution, task.Execution)
	switch envCfg.Kind {
	case workflow.ExecEnvSSH:
		return d.ssh.Execute(ctx, task, run, progress)
	case workflow.ExecEnvDocker:
		return d.docker.Execute(ctx, task, run, progress)
	default:
		return d.local.Execute(ctx, task, run, progress)
	}
}
