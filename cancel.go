package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arcbox/vaultfs/internal/vaultapp"
)

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a queued or running transfer task",
		Long: `Marks task-id canceled — unlike "pause", a canceled task cannot be
resumed. If the task is currently running, either in this process or
another vaultfs process signaled via pid file, its run loop notices the
status change at its next checkpoint and unwinds, removing its own
checkpoint rows and any partial download artifacts itself. A task that
was only ever queued, with nothing running to notice the cancellation,
is cleaned up here directly.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			app := cc.App
			ctx := cmd.Context()

			if err := app.Engine.Cancel(ctx, args[0]); err != nil {
				return fmt.Errorf("canceling %s: %w", args[0], err)
			}

			notifyRunningProcess(cc.Flags.Quiet, runningPIDPath(app.Config.Config().DataDir))

			if !taskIsRunning(app, args[0]) {
				if err := app.Engine.CleanupCanceledTask(ctx, args[0]); err != nil {
					return fmt.Errorf("cleaning up %s: %w", args[0], err)
				}
			}

			cc.Statusf("Canceled %s\n", args[0])

			return nil
		},
	}
}

func taskIsRunning(app *vaultapp.App, mainTaskID string) bool {
	for _, id := range app.RunningTaskIDs() {
		if id == mainTaskID {
			return true
		}
	}

	return false
}
