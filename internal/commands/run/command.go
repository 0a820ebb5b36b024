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

// Package run implements the "run" subcommand: execution of a single
// workflow file with lifecycle events printed as text or JSON.
package run

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/workflow-engine/internal/cli"
	"github.com/tombee/workflow-engine/internal/executor"
	"github.com/tombee/workflow-engine/internal/log"
	"github.com/tombee/workflow-engine/internal/metrics"
	"github.com/tombee/workflow-engine/internal/tracing"
	"github.com/tombee/workflow-engine/internal/webhook"
	"github.com/tombee/workflow-engine/internal/yamlspec"
	"github.com/tombee/workflow-engine/pkg/workflow"
	"github.com/tombee/workflow-engine/pkg/workflow/expression"
	"github.com/tombee/workflow-engine/pkg/workflow/runner"
)

// NewCommand creates the run command.
func NewCommand() *cobra.Command {
	var (
		envPairs    []string
		params      []string
		dryRun      bool
		quiet       bool
		workingDir  string
		timeoutFlag string
		stepMode    bool
		stopOnFail  bool
		webhookSecret string
	)

	cmd := &cobra.Command{
		Use:   "run <workflow.yaml>",
		Short: "Execute a workflow file",
		Long: `Run loads a workflow YAML file, expands its matrices, schedules its
dependency waves, and executes every task locally, in Docker, or over
SSH per each task's execution configuration.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliEnv, err := parseKeyValues(envPairs)
			if err != nil {
				return &cli.ExitError{Code: cli.ExitInvalidWorkflow, Message: "invalid --env", Cause: err}
			}
			paramMap, err := parseKeyValues(params)
			if err != nil {
				return &cli.ExitError{Code: cli.ExitInvalidWorkflow, Message: "invalid --param", Cause: err}
			}

			var runTimeout time.Duration
			if timeoutFlag != "" {
				runTimeout, err = time.ParseDuration(timeoutFlag)
				if err != nil {
					return &cli.ExitError{Code: cli.ExitInvalidWorkflow, Message: "invalid --timeout", Cause: err}
				}
			}

			wf, err := yamlspec.NewLoader().Load(args[0])
			if err != nil {
				return &cli.ExitError{Code: cli.ExitInvalidWorkflow, Message: "failed to load workflow", Cause: err}
			}

			logCfg := log.FromEnv()
			if cli.Verbose() {
				logCfg.Level = "debug"
			}
			if quiet {
				logCfg.Level = "error"
			}
			logger := log.New(logCfg)

			pub := workflow.NewPublisher(logger)
			unsubscribe := pub.Subscribe(newEventPrinter(quiet, cli.JSON()))
			defer unsubscribe()

			eval := expression.NewEvaluator()
			dispatcher := executor.NewDispatcher(eval)
			collector, err := metrics.New()
			if err != nil {
				return &cli.ExitError{Code: cli.ExitExecutionFailed, Message: "failed to initialize metrics", Cause: err}
			}
			defer collector.Shutdown(context.Background())

			var notifier *webhook.Notifier
			if len(wf.Webhooks) > 0 {
				notifier = webhook.NewNotifier(pub, webhookSecret, logger)
			}

			tp, err := tracing.NewProvider("workflow-engine", nil)
			if err != nil {
				return &cli.ExitError{Code: cli.ExitExecutionFailed, Message: "failed to start tracer", Cause: err}
			}
			defer tp.Shutdown(context.Background())

			r := runner.New(dispatcher, eval, pub, wrapNotifier(notifier), collector)
			r.Tracer = tp.Tracer("workflow-engine/run")

			cfg := runner.Config{
				CLIEnv:             cliEnv,
				Params:             paramMap,
				WorkingDir:         workingDir,
				DryRun:             dryRun,
				StopOnFirstFailure: stopOnFail,
			}
			if stepMode {
				cfg.StepMode = true
				cfg.Gate = runner.NewStepGate()
				releaseGateOnEnter(pub, cfg.Gate)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if runTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, runTimeout)
				defer cancel()
			}

			run, runErr := r.Run(ctx, wf, cfg)
			if runErr != nil {
				return &cli.ExitError{Code: cli.ExitInvalidWorkflow, Message: "failed to build execution plan", Cause: runErr}
			}

			if cli.JSON() {
				printSummaryJSON(run)
			}

			switch {
			case run.Cancelled():
				return &cli.ExitError{Code: cli.ExitCancelled, Message: "run was cancelled"}
			case run.HasFailure():
				return &cli.ExitError{Code: cli.ExitExecutionFailed, Message: "one or more tasks failed"}
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&envPairs, "env", "e", nil, "Environment variable in NAME=VALUE form (repeatable)")
	cmd.Flags().StringArrayVar(&params, "param", nil, "Workflow parameter in name=value form (repeatable)")
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Build and print the execution plan without running any task")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress task output events")
	cmd.Flags().StringVarP(&workingDir, "dir", "C", "", "Working directory tasks execute relative to")
	cmd.Flags().StringVarP(&timeoutFlag, "timeout", "t", "", "Overall run timeout (e.g. 5m)")
	cmd.Flags().BoolVar(&stepMode, "step", false, "Pause between waves, awaiting a gate release")
	cmd.Flags().BoolVar(&stopOnFail, "stop-on-failure", true, "Stop remaining waves after a non-continue-on-error task fails")
	cmd.Flags().StringVar(&webhookSecret, "webhook-secret", "", "HMAC secret used to sign outbound webhook deliveries")

	return cmd
}

// releaseGateOnEnter prompts on every StepPaused event and releases
// the gate once a line is read from stdin. EOF (a closed or piped-in
// stdin running dry) releases unconditionally so a scripted run does
// not hang.
func releaseGateOnEnter(pub *workflow.Publisher, gate *runner.StepGate) {
	prompts := make(chan struct{}, 1)
	pub.Subscribe(func(ev workflow.Event) {
		if ev.Kind == workflow.EventStepPaused {
			select {
			case prompts <- struct{}{}:
			default:
			}
		}
	})
	go func() {
		reader := bufio.NewReader(os.Stdin)
		for range prompts {
			fmt.Fprint(os.Stderr, "paused, press enter to continue... ")
			if _, err := reader.ReadString('\n'); err != nil {
				gate.Release()
				for range prompts {
					gate.Release()
				}
				return
			}
			gate.Release()
		}
	}()
}

func parseKeyValues(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("expected NAME=VALUE, got %q", p)
		}
		out[name] = value
	}
	return out, nil
}

// wrapNotifier returns a typed-nil-safe runner.WebhookNotifier: a nil
// *webhook.Notifier must still satisfy the interface as a nil
// interface, not a non-nil interface wrapping a nil pointer.
func wrapNotifier(n *webhook.Notifier) runner.WebhookNotifier {
	if n == nil {
		return nil
	}
	return n
}

func newEventPrinter(quiet, asJSON bool) workflow.Handler {
	return func(ev workflow.Event) {
		if quiet && ev.Kind == workflow.EventTaskOutput {
			return
		}
		if asJSON {
			enc, err := json.Marshal(ev)
			if err == nil {
				fmt.Fprintln(os.Stdout, string(enc))
			}
			return
		}
		printEventText(ev)
	}
}

func printEventText(ev workflow.Event) {
	switch p := ev.Payload.(type) {
	case workflow.TaskStartedPayload:
		fmt.Printf("==> %s started\n", p.TaskID)
	case workflow.TaskOutputPayload:
		fmt.Printf("[%s] %s\n", p.TaskID, p.Line)
	case workflow.TaskCompletedPayload:
		fmt.Printf("==> %s %s (%s)\n", p.Result.TaskID, p.Result.Status, p.Result.Duration)
	case workflow.TaskSkippedPayload:
		fmt.Printf("==> %s skipped: %s\n", p.TaskID, p.Reason)
	case workflow.TaskCancelledPayload:
		fmt.Printf("==> %s cancelled\n", p.TaskID)
	case workflow.WorkflowCompletedPayload:
		fmt.Printf("Workflow %s %s (succeeded: %d, failed: %d, skipped: %d, duration: %.2fs)\n",
			p.Name, p.Status, p.Succeeded, p.Failed, p.Skipped, p.Duration.Seconds())
	}
}

func printSummaryJSON(run *workflow.RunContext) {
	type summary struct {
		RunID   string             `json:"run_id"`
		Results []workflow.TaskResult `json:"results"`
	}
	enc, err := json.Marshal(summary{RunID: run.RunID, Results: run.Results()})
	if err == nil {
		fmt.Fprintln(os.Stdout, string(enc))
	}
}
