package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <task-id>",
		Short: "Pause a queued or running transfer task",
		Long: `Marks task-id paused. If the task is currently running in another
vaultfs process, that process is signaled to stop at the next safe
checkpoint; otherwise the pause simply takes effect the next time
anything would have resumed it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			app := cc.App

			if err := app.Engine.Pause(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("pausing %s: %w", args[0], err)
			}

			notifyRunningProcess(cc.Flags.Quiet, runningPIDPath(app.Config.Config().DataDir))

			cc.Statusf("Paused %s\n", args[0])

			return nil
		},
	}
}
