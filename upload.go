package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arcbox/vaultfs/internal/transfer"
)

func newUploadCmd() *cobra.Command {
	var (
		flagRecursive bool
		flagFanOut    int
	)

	cmd := &cobra.Command{
		Use:   "upload <local-path> <remote-folder>",
		Short: "Upload a file or directory into the vault",
		Long: `Upload chunks, encrypts, and dedupes local-path into remote-folder.

A directory requires --recursive; without it uploading a directory fails
rather than silently uploading nothing.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd, args[0], args[1], flagRecursive, flagFanOut)
		},
	}

	cmd.Flags().BoolVar(&flagRecursive, "recursive", false, "allow uploading a directory")
	cmd.Flags().IntVar(&flagFanOut, "fan-out", 4, "number of files to transfer concurrently")

	return cmd
}

func runUpload(cmd *cobra.Command, localPath, remoteFolder string, recursive bool, fanOut int) error {
	cc := mustCLIContext(cmd.Context())
	app := cc.App
	ctx := cmd.Context()

	info, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", localPath, err)
	}

	if info.IsDir() && !recursive {
		return fmt.Errorf("%s is a directory — pass --recursive to upload it", localPath)
	}

	destFolder, err := ensureFolderPath(ctx, app.Catalog, remoteFolder)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", remoteFolder, err)
	}

	mainTaskID, err := app.Engine.QueueUpload(ctx, localPath, destFolder.ID)
	if err != nil {
		return fmt.Errorf("queuing upload: %w", err)
	}

	stopReload := watchForReload(ctx, app, runningPIDPath(app.Config.Config().DataDir))
	defer stopReload()

	err = runTrackedTransfer(ctx, app, cc.Flags.Quiet, mainTaskID, func(runCtx context.Context, progress transfer.ProgressFunc) error {
		return app.Engine.RunMainTask(runCtx, mainTaskID, fanOut, progress)
	})
	if err != nil {
		return fmt.Errorf("upload failed (task %s): %w", mainTaskID, err)
	}

	cc.Statusf("Uploaded %s -> %s (task %s)\n", localPath, remoteFolder, mainTaskID)

	return nil
}
