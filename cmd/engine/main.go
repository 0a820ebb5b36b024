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

package main

import (
	"os"
	"strings"

	"github.com/tombee/workflow-engine/internal/cli"
	"github.com/tombee/workflow-engine/internal/commands/run"
	"github.com/tombee/workflow-engine/internal/commands/schedule"
	"github.com/tombee/workflow-engine/internal/commands/trigger"
	"github.com/tombee/workflow-engine/internal/commands/validate"
)

// Version information, injected via ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	cli.SetVersion(version, commit)

	rootCmd := cli.NewRootCommand()
	rootCmd.AddCommand(run.NewCommand())
	rootCmd.AddCommand(validate.NewCommand())
	rootCmd.AddCommand(schedule.NewCommand())
	rootCmd.AddCommand(trigger.NewCommand())

	// "engine workflow.yaml" is shorthand for "engine run workflow.yaml".
	if args := os.Args[1:]; len(args) > 0 &&
		(strings.HasSuffix(args[0], ".yaml") || strings.HasSuffix(args[0], ".yml")) {
		rootCmd.SetArgs(append([]string{"run"}, args...))
	}

	if err := rootCmd.Execute(); err != nil {
		cli.HandleExitError(err)
	}
}
