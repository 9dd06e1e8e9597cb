package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/nexus-agent/api/schemas"
	"github.com/xkilldash9x/nexus-agent/internal/eventbus"
	"github.com/xkilldash9x/nexus-agent/internal/observability"
)

func newRunCommand() *cobra.Command {
	var (
		dryRun bool
		quiet  bool
	)

	runCmd := &cobra.Command{
		Use:   "run \"<goal>\"",
		Short: "Run one agent task to completion and print the report.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			goal := strings.TrimSpace(args[0])
			if goal == "" {
				return errors.New("goal must not be empty")
			}

			ctx := cmd.Context()
			logger := observability.GetLogger()

			a, err := buildApp(ctx, cfg, logger, dryRun)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			if !quiet {
				stop := streamProgress(cmd, a.bus)
				defer stop()
			}

			if _, err := a.controller.Start(ctx, goal); err != nil {
				return err
			}

			// Watch for the first settle rather than loop exit: a task that
			// suspends for input keeps its loop parked, and one-shot mode has
			// nobody to resume it.
			select {
			case <-a.controller.Settled():
			case <-ctx.Done():
				if err := a.controller.Reset(context.WithoutCancel(ctx)); err != nil {
					logger.Warn("Reset after interrupt failed.", zap.Error(err))
				}
				return ctx.Err()
			}
			final := a.controller.Snapshot()
			if final == nil {
				return errors.New("task vanished before completion")
			}

			switch final.Status {
			case schemas.TaskCompleted:
				printReport(cmd, final.Report)
				return nil
			case schemas.TaskInputRequired:
				// One-shot mode has no way to answer; surface the question.
				question := ""
				if final.Slot != nil {
					question = final.Slot.Question
				}
				return fmt.Errorf("task needs input that one-shot mode cannot provide: %s (use serve mode)", question)
			case schemas.TaskFailed:
				if final.Failure != nil {
					return fmt.Errorf("task failed [%s]: %s", final.Failure.Kind, final.Failure.Message)
				}
				return errors.New("task failed")
			default:
				return fmt.Errorf("task ended in unexpected status %q", final.Status)
			}
		},
	}

	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "use an in-memory browser fake instead of Chromium")
	runCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress live progress output")
	return runCmd
}

// streamProgress mirrors agent events onto the terminal while the task runs.
func streamProgress(cmd *cobra.Command, bus *eventbus.Bus) func() {
	events, unsubscribe := bus.Subscribe()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for env := range events {
			if env.Agent == nil || env.Kind == eventbus.KindBrowser {
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", env.Agent.Type, env.Agent.Message)
		}
	}()

	return func() {
		unsubscribe()
		<-done
	}
}

func printReport(cmd *cobra.Command, report *schemas.Report) {
	out := cmd.OutOrStdout()
	if report == nil {
		fmt.Fprintln(out, "Task completed with no report.")
		return
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, report.Markdown)
	if len(report.KeyDiscoveries) > 0 {
		fmt.Fprintln(out, "\nKey discoveries:")
		for _, d := range report.KeyDiscoveries {
			fmt.Fprintf(out, "  - %s\n", d)
		}
	}
	if len(report.Sources) > 0 {
		fmt.Fprintln(out, "\nSources:")
		for _, s := range report.Sources {
			fmt.Fprintf(out, "  - %s\n", s)
		}
	}
}
