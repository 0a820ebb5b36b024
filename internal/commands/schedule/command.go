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

// Package schedule implements the "schedule" command group (add, list,
// remove, enable, disable, run) over internal/scheduler's Store and
// Orchestrator.
package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/google/uuid"

	"github.com/tombee/workflow-engine/internal/cli"
	"github.com/tombee/workflow-engine/internal/log"
	"github.com/tombee/workflow-engine/internal/scheduler"
	"github.com/tombee/workflow-engine/internal/yamlspec"
	"github.com/tombee/workflow-engine/pkg/workflow"
	"github.com/tombee/workflow-engine/pkg/workflow/expression"
	"github.com/tombee/workflow-engine/internal/executor"
	"github.com/tombee/workflow-engine/internal/metrics"
	"github.com/tombee/workflow-engine/pkg/workflow/runner"
)

var sqlitePath string
var storePath string

// NewCommand creates the "schedule" command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage and run cron-triggered workflow schedules",
	}
	cmd.PersistentFlags().StringVar(&storePath, "store", defaultStorePath(), "Path to the schedules JSON file")
	cmd.PersistentFlags().StringVar(&sqlitePath, "sqlite", "", "Path to a SQLite database to use instead of the JSON store")

	cmd.AddCommand(newAddCommand())
	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newRemoveCommand())
	cmd.AddCommand(newEnableCommand(true))
	cmd.AddCommand(newEnableCommand(false))
	cmd.AddCommand(newRunCommand())
	return cmd
}

func defaultStorePath() string {
	path, err := scheduler.DefaultSchedulesPath()
	if err != nil {
		return "schedules.json"
	}
	return path
}

func openStore() (scheduler.Store, error) {
	if sqlitePath != "" {
		return scheduler.NewSQLiteStore(sqlitePath)
	}
	return scheduler.NewFileStore(storePath), nil
}

func newAddCommand() *cobra.Command {
	var (
		name          string
		description   string
		cronExpr      string
		params        []string
		disabled      bool
		allowOverlap  bool
		maxConcurrent int
		maxRetries    int
		runTimeout    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "add <workflow.yaml>",
		Short: "Add a cron schedule for a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !scheduler.IsValid(cronExpr) {
				return &cli.ExitError{Code: cli.ExitInvalidWorkflow, Message: fmt.Sprintf("invalid cron expression %q", cronExpr)}
			}
			paramMap := make(map[string]string, len(params))
			for _, p := range params {
				name, value, ok := strings.Cut(p, "=")
				if !ok {
					return &cli.ExitError{Code: cli.ExitInvalidWorkflow, Message: fmt.Sprintf("invalid --param %q", p)}
				}
				paramMap[name] = value
			}

			next, err := scheduler.GetNextOccurrence(cronExpr, time.Now().UTC())
			if err != nil {
				return &cli.ExitError{Code: cli.ExitInvalidWorkflow, Message: "failed to compute next occurrence", Cause: err}
			}

			store, err := openStore()
			if err != nil {
				return &cli.ExitError{Code: cli.ExitExecutionFailed, Message: "failed to open schedule store", Cause: err}
			}

			id := name
			if id == "" {
				id = uuid.NewString()
			}
			sched := &scheduler.Schedule{
				ID:              id,
				WorkflowPath:    args[0],
				Cron:            cronExpr,
				Name:            name,
				Description:     description,
				InputParameters: paramMap,
				Enabled:         !disabled,
				CreatedAt:       time.Now().UTC(),
				NextRunAt:       next,
				Policy: scheduler.ExecutionPolicy{
					AllowOverlap:      allowOverlap,
					MaxConcurrentRuns: maxConcurrent,
					MaxRetries:        maxRetries,
					Timeout:           runTimeout,
				},
			}
			if err := store.Save(sched); err != nil {
				return &cli.ExitError{Code: cli.ExitExecutionFailed, Message: "failed to save schedule", Cause: err}
			}
			fmt.Printf("Schedule %q added, next run at %s\n", id, next.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Schedule name (doubles as the id; defaults to a generated UUID)")
	cmd.Flags().StringVar(&description, "description", "", "Free-form description")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "Cron expression (5- or 6-field, or a @alias)")
	cmd.Flags().StringArrayVar(&params, "param", nil, "Input parameter in name=value form (repeatable)")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Create the schedule disabled")
	cmd.Flags().BoolVar(&allowOverlap, "allow-overlap", false, "Allow a new run to start while a prior run is still in flight")
	cmd.Flags().IntVar(&maxConcurrent, "max-concurrent", 0, "Cap on overlapping runs (0 = unbounded)")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "Re-run the workflow on failure up to this many extra times")
	cmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Bound one run end to end (0 = no bound)")
	cmd.MarkFlagRequired("cron")
	return cmd
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return &cli.ExitError{Code: cli.ExitExecutionFailed, Message: "failed to open schedule store", Cause: err}
			}
			all, err := store.GetAll()
			if err != nil {
				return &cli.ExitError{Code: cli.ExitExecutionFailed, Message: "failed to list schedules", Cause: err}
			}
			if cli.JSON() {
				enc, err := json.Marshal(all)
				if err != nil {
					return err
				}
				fmt.Fprintln(os.Stdout, string(enc))
				return nil
			}
			for _, s := range all {
				status := "enabled"
				if !s.Enabled {
					status = "disabled"
				}
				fmt.Printf("%s\t%s\t%s\t%s\tnext=%s\n", s.ID, s.WorkflowPath, s.Cron, status, s.NextRunAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return &cli.ExitError{Code: cli.ExitExecutionFailed, Message: "failed to open schedule store", Cause: err}
			}
			if err := store.Delete(args[0]); err != nil {
				return &cli.ExitError{Code: cli.ExitExecutionFailed, Message: "failed to remove schedule", Cause: err}
			}
			fmt.Printf("Schedule %q removed\n", args[0])
			return nil
		},
	}
}

func newEnableCommand(enable bool) *cobra.Command {
	use, short := "enable <id>", "Enable a schedule"
	if !enable {
		use, short = "disable <id>", "Disable a schedule"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return &cli.ExitError{Code: cli.ExitExecutionFailed, Message: "failed to open schedule store", Cause: err}
			}
			sched, ok, err := store.Get(args[0])
			if err != nil {
				return &cli.ExitError{Code: cli.ExitExecutionFailed, Message: "failed to look up schedule", Cause: err}
			}
			if !ok {
				return &cli.ExitError{Code: cli.ExitInvalidWorkflow, Message: fmt.Sprintf("no such schedule %q", args[0])}
			}
			sched.Enabled = enable
			if err := store.Save(sched); err != nil {
				return &cli.ExitError{Code: cli.ExitExecutionFailed, Message: "failed to save schedule", Cause: err}
			}
			fmt.Printf("Schedule %q updated\n", args[0])
			return nil
		},
	}
}

func newRunCommand() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "run [id]",
		Short: "Run the scheduler tick loop, or one schedule immediately when an id is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return &cli.ExitError{Code: cli.ExitExecutionFailed, Message: "failed to open schedule store", Cause: err}
			}

			logger := log.New(log.FromEnv())
			pub := workflow.NewPublisher(logger)
			eval := expression.NewEvaluator()
			dispatcher := executor.NewDispatcher(eval)
			collector, err := metrics.New()
			if err != nil {
				return &cli.ExitError{Code: cli.ExitExecutionFailed, Message: "failed to initialize metrics", Cause: err}
			}
			defer collector.Shutdown(context.Background())
			r := runner.New(dispatcher, eval, pub, nil, collector)
			orch := scheduler.NewOrchestrator(store, yamlspec.NewLoader(), r, pub, logger)

			if len(args) == 1 {
				sched, ok, err := store.Get(args[0])
				if err != nil {
					return &cli.ExitError{Code: cli.ExitExecutionFailed, Message: "failed to look up schedule", Cause: err}
				}
				if !ok {
					return &cli.ExitError{Code: cli.ExitInvalidWorkflow, Message: fmt.Sprintf("no such schedule %q", args[0])}
				}
				done := make(chan workflow.ScheduledRunCompletedPayload, 1)
				unsubscribe := pub.Subscribe(func(ev workflow.Event) {
					if p, ok := ev.Payload.(workflow.ScheduledRunCompletedPayload); ok && p.ScheduleID == sched.ID {
						select {
						case done <- p:
						default:
						}
					}
				})
				defer unsubscribe()
				runID, err := orch.ExecuteAsync(context.Background(), sched, true)
				if err != nil {
					return &cli.ExitError{Code: cli.ExitExecutionFailed, Message: "failed to start run", Cause: err}
				}
				fmt.Printf("Run %s started for schedule %q\n", runID, args[0])
				completed := <-done
				fmt.Printf("Run %s finished: %s\n", runID, completed.Status)
				return nil
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if metricsAddr != "" {
				srv := &http.Server{Addr: metricsAddr, Handler: collector.Handler()}
				go func() {
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logger.Warn("metrics endpoint failed", "error", err)
					}
				}()
				defer srv.Close()
				logger.Info("metrics endpoint listening", "addr", metricsAddr)
			}

			logger.Info("scheduler started, ticking enabled schedules")
			orch.Start(ctx)
			<-ctx.Done()
			if err := orch.Shutdown(); err != nil {
				return &cli.ExitError{Code: cli.ExitExecutionFailed, Message: "scheduler did not drain cleanly", Cause: err}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve the Prometheus scrape endpoint on this address while the tick loop runs")
	return cmd
}

