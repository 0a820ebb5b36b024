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
	"strconv"

	"github.com/tombee/workflow-engine/pkg/workflow"
	"github.com/tombee/workflow-engine/pkg/workflow/expression"
)

// SSH runs a task on a remote host over "ssh":
// ssh -p <port> [-i <key>] [-o StrictHostKeyChecking=no] <user>@<host>
// <shell> -c <run>.
type SSH struct {
	*processExecutor
}

// NewSSH returns an SSH executor using eval for if/run/env
// interpolation.
func NewSSH(eval *expression.Evaluator) *SSH {
	s := &SSH{}
	s.processExecutor = &processExecutor{eval: eval, builder: sshBuilder{}}
	return s
}

type sshBuilder struct{}

func (sshBuilder) build(ctx context.Context, task *workflow.Task, run *workflow.RunContext, envCfg *workflow.ExecutionEnvConfig, shell, runCmd string, env map[string]string) (*exec.Cmd, error) {
	if envCfg == nil || envCfg.Host == "" {
		return nil, fmt.Errorf("ssh executor: task %q has no host configured", task.ID)
	}

	args := []string{}
	if envCfg.Port != 0 {
		args = append(args, "-p", strconv.Itoa(envCfg.Port))
	}
	if envCfg.IdentityFile != "" {
		args = append(args, "-i", envCfg.IdentityFile)
	}
	if !envCfg.StrictHostKeyChecking {
		args = append(args, "-o", "StrictHostKeyChecking=no")
	}

	target := envCfg.Host
	if envCfg.SSHUser != "" {
		target = envCfg.SSHUser + "@" + envCfg.Host
	}
	args = append(args, target)

	// ssh does not forward the local environment by default, so
	// per-task env is exported inline ahead of the remote command.
	remoteCmd := runCmd
	if len(env) > 0 {
		names := make([]string, 0, len(env))
		for k := range env {
			names = append(names, k)
		}
		sort.Strings(names)
		prefix := ""
		for _, k := range names {
			prefix += fmt.Sprintf("export %s=%s; ", k, shellQuote(env[k]))
		}
		remoteCmd = prefix + runCmd
	}

	args = append(args, shell, "-c", remoteCmd)
	return exec.CommandContext(ctx, "ssh", args...), nil
}

// shellQuote wraps v in single quotes, escaping any embedded single
// quote the POSIX-portable way: close, escaped quote, reopen.
func shellQuote(v string) string {
	out := "'"
	for _, r := range v {
		if r == '\'' {
			out += `'\''`
		} else {
			out += string(r)
		}
	}
	return out + "'"
}
