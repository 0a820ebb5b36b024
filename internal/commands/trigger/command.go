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

// Package trigger implements the "trigger" command group (run,
// validate, list, test) over internal/trigger and internal/webhook.
package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tombee/workflow-engine/internal/cli"
	"github.com/tombee/workflow-engine/internal/executor"
	"github.com/tombee/workflow-engine/internal/log"
	"github.com/tombee/workflow-engine/internal/metrics"
	"github.com/tombee/workflow-engine/internal/scheduler"
	"github.com/tombee/workflow-engine/internal/trigger"
	"github.com/tombee/workflow-engine/internal/webhook"
	"github.com/tombee/workflow-engine/internal/yamlspec"
	"github.com/tombee/workflow-engine/pkg/workflow"
	"github.com/tombee/workflow-engine/pkg/workflow/expression"
	"github.com/tombee/workflow-engine/pkg/workflow/runner"
)

// NewCommand creates the "trigger" command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Manage and serve chat/webhook triggers that dispatch workflow runs",
	}
	cmd.AddCommand(newValidateCommand())
	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newTestCommand())
	cmd.AddCommand(newRunCommand())
	return cmd
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <rules.yaml>",
		Short: "Validate a trigger-rule file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := yamlspec.LoadTriggerRules(args[0])
			if err != nil {
				return &cli.ExitError{Code: cli.ExitInvalidWorkflow, Message: "invalid trigger rules", Cause: err}
			}
			fmt.Printf("%s is valid: %d rule(s)\n", args[0], len(rules))
			return nil
		},
	}
}

func newListCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the rules declared in a trigger-rule file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := rulesPath(configPath, args)
			if err != nil {
				return err
			}
			rules, err := yamlspec.LoadTriggerRules(path)
			if err != nil {
				return &cli.ExitError{Code: cli.ExitInvalidWorkflow, Message: "invalid trigger rules", Cause: err}
			}
			if cli.JSON() {
				enc, err := json.Marshal(rules)
				if err != nil {
					return err
				}
				fmt.Fprintln(os.Stdout, string(enc))
				return nil
			}
			for _, r := range rules {
				status := "enabled"
				if !r.Enabled {
					status = "disabled"
				}
				fmt.Printf("%s\t%s\t%s\t%s\n", r.Name, r.Type, status, r.WorkflowPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Trigger-rule file (alternative to the positional argument)")
	return cmd
}

// rulesPath resolves the rule file from --config or a positional
// argument, whichever was given.
func rulesPath(configPath string, args []string) (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	if len(args) > 0 {
		return args[0], nil
	}
	return "", &cli.ExitError{Code: cli.ExitInvalidWorkflow, Message: "a trigger-rule file is required (positional or --config)"}
}

func newTestCommand() *cobra.Command {
	var configPath, source, username string
	cmd := &cobra.Command{
		Use:   "test <message>",
		Short: "Match a message against a trigger-rule file without dispatching a run",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Two positionals keep the older "test <rules.yaml> <message>"
			// form working alongside "test <message> --config <rules.yaml>".
			message := args[len(args)-1]
			path, err := rulesPath(configPath, args[:len(args)-1])
			if err != nil {
				return err
			}
			rules, err := yamlspec.LoadTriggerRules(path)
			if err != nil {
				return &cli.ExitError{Code: cli.ExitInvalidWorkflow, Message: "invalid trigger rules", Cause: err}
			}
			logger := log.New(log.FromEnv())
			pub := workflow.NewPublisher(logger)
			matcher := trigger.NewMatcher(pub)
			match, err := matcher.Match(rules, trigger.Message{Text: message, Source: source, Username: username})
			if err != nil {
				return &cli.ExitError{Code: cli.ExitExecutionFailed, Message: "failed to match message", Cause: err}
			}
			if match == nil {
				fmt.Println("no rule matched")
				return nil
			}
			fmt.Printf("matched rule %q -> %s\ncaptures: %v\n", match.Rule.Name, match.Rule.WorkflowPath, match.Captures)
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Trigger-rule file (alternative to a positional argument)")
	cmd.Flags().StringVar(&source, "source", "http", "Message source (telegram, discord, slack, http)")
	cmd.Flags().StringVar(&username, "username", "cli-user", "Sending user's display name")
	return cmd
}

func newRunCommand() *cobra.Command {
	var (
		configPath    string
		addr          string
		genericSecret string
		slackSecret   string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Serve the inbound webhook/Slack listener, dispatching matched messages to workflow runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := rulesPath(configPath, args)
			if err != nil {
				return err
			}
			rules, err := yamlspec.LoadTriggerRules(path)
			if err != nil {
				return &cli.ExitError{Code: cli.ExitInvalidWorkflow, Message: "invalid trigger rules", Cause: err}
			}

			logger := log.New(log.FromEnv())
			pub := workflow.NewPublisher(logger)
			matcher := trigger.NewMatcher(pub)
			eval := expression.NewEvaluator()
			dispatcher := executor.NewDispatcher(eval)
			collector, err := metrics.New()
			if err != nil {
				return &cli.ExitError{Code: cli.ExitExecutionFailed, Message: "failed to initialize metrics", Cause: err}
			}
			defer collector.Shutdown(context.Background())
			r := runner.New(dispatcher, eval, pub, nil, collector)

			store := scheduler.NewFileStore(filepath.Join(os.TempDir(), "workflow-engine-trigger-dispatch.json"))
			orch := scheduler.NewOrchestrator(store, yamlspec.NewLoader(), r, pub, logger)
			td := trigger.NewDispatcher(matcher, orch)

			listener := &webhook.Listener{
				Dispatcher:         td,
				Rules:              rules,
				GenericSecret:      genericSecret,
				SlackSigningSecret: slackSecret,
				Logger:             logger,
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info("trigger listener starting", "addr", addr)
			return listener.Serve(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Trigger-rule file (alternative to the positional argument)")
	cmd.Flags().StringVar(&addr, "addr", ":8085", "HTTP listen address")
	cmd.Flags().StringVar(&genericSecret, "generic-secret", "", "HMAC secret for generic /webhooks/* requests")
	cmd.Flags().StringVar(&slackSecret, "slack-secret", "", "Slack Events API signing secret")
	return cmd
}
