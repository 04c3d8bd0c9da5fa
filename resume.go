package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arcbox/vaultfs/internal/transfer"
)

func newResumeCmd() *cobra.Command {
	var flagFanOut int

	cmd := &cobra.Command{
		Use:   "resume <task-id>",
		Short: "Resume a paused or queued transfer task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResume(cmd, args[0], flagFanOut)
		},
	}

	cmd.Flags().IntVar(&flagFanOut, "fan-out", 4, "number of files to transfer concurrently")

	return cmd
}

func runResume(cmd *cobra.Command, mainTaskID string, fanOut int) error {
	cc := mustCLIContext(cmd.Context())
	app := cc.App
	ctx := cmd.Context()

	stopReload := watchForReload(ctx, app, runningPIDPath(app.Config.Config().DataDir))
	defer stopReload()

	err := runTrackedTransfer(ctx, app, cc.Flags.Quiet, mainTaskID, func(runCtx context.Context, progress transfer.ProgressFunc) error {
		return app.Engine.Resume(runCtx, mainTaskID, fanOut, progress)
	})
	if err != nil {
		return fmt.Errorf("resuming %s: %w", mainTaskID, err)
	}

	cc.Statusf("Resumed %s to completion\n", mainTaskID)

	return nil
}
