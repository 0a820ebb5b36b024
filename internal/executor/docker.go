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
	"fmt"
	"os/exec"
	"sort"

	"github.com/tombee/workflow-engine/pkg/workflow"
	"github.com/tombee/workflow-engine/pkg/workflow/expression"
)

// Docker runs a task inside an already-running container via
// "docker exec":
// docker exec [-it] [--privileged] [--user <u>] [-w <wd>] [-e <name>]*
// <container> <shell> -c <run>.
type Docker struct {
	*processExecutor
}

// NewDocker returns a Docker executor using eval for if/run/env
// interpolation.
func NewDocker(eval *expression.Evaluator) *Docker {
	d := &Docker{}
	d.processExecutor = &processExecutor{eval: eval, builder: dockerBuilder{}}
	return d
}

type dockerBuilder struct{}

func (dockerBuilder) build(ctx context.Context, task *workflow.Task, run *workflow.RunContext, envCfg *workflow.ExecutionEnvConfig, shell, runCmd string, env map[string]string) (*exec.Cmd, error) {
	if envCfg == nil || envCfg.Container == "" {
		return nil, fmt.Errorf("docker executor: task %q has no container configured", task.ID)
	}

	args := []string{"exec"}
	if envCfg.Interactive {
		args = append(args, "-it")
	}
	if envCfg.Privileged {
		args = append(args, "--privileged")
	}
	if envCfg.User != "" {
		args = append(args, "--user", envCfg.User)
	}
	workingDir := task.WorkingDir
	if workingDir == "" {
		workingDir = run.WorkingDir()
	}
	if workingDir != "" {
		args = append(args, "-w", workingDir)
	}

	// -e flags are sorted for deterministic argv across runs. Only the
	// bare name is passed; docker reads the value from the docker
	// CLI's own process environment, which the caller sets to the
	// interpolated env after build returns.
	names := make([]string, 0, len(env))
	for k := range env {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		args = append(args, "-e", k)
	}

	args = append(args, envCfg.Container, shell, "-c", runCmd)
	return exec.CommandContext(ctx, "docker", args...), nil
}
