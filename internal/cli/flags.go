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

// Package cli provides the root command and shared global flags for
// the engine binary.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	verboseFlag bool
	jsonFlag    bool

	version = "dev"
	commit  = "unknown"
)

// RegisterFlagPointers returns pointers bound by the root command's
// persistent flags.
func RegisterFlagPointers() (*bool, *bool) {
	return &verboseFlag, &jsonFlag
}

// SetVersion records build-time version information.
func SetVersion(v, c string) {
	version = v
	commit = c
}

// GetVersion returns the build-time version information.
func GetVersion() (string, string) { return version, commit }

// Verbose reports whether --verbose was set.
func Verbose() bool { return verboseFlag }

// JSON reports whether --json was set.
func JSON() bool { return jsonFlag }

// Exit codes: 0 success, 1 validation failure, 2 execution failure,
// 3 cancellation.
const (
	ExitSuccess         = 0
	ExitInvalidWorkflow = 1
	ExitExecutionFailed = 2
	ExitCancelled       = 3
)

// ExitError is an error that carries a process exit code.
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Cause }

// HandleExitError prints err and exits with its ExitError code, or
// ExitExecutionFailed if err isn't one.
func HandleExitError(err error) {
	if err == nil {
		return
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, "Error:", exitErr.Error())
		os.Exit(exitErr.Code)
	}
	fmt.Fprintln(os.Stderr, "Error:", err.Error())
	os.Exit(ExitExecutionFailed)
}

// NewRootCommand builds the root Cobra command.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "engine",
		Short: "A YAML-driven workflow execution engine",
		Long: `engine runs declarative, dependency-ordered shell workflows: expand
matrices, schedule dependency waves, execute tasks locally, in Docker,
or over SSH, and dispatch runs from cron schedules or chat triggers.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	verbose, json := RegisterFlagPointers()
	cmd.PersistentFlags().BoolVarP(verbose, "verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().BoolVar(json, "json", false, "Emit machine-readable JSON output")

	return cmd
}
