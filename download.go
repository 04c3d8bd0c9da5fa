package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/arcbox/vaultfs/internal/transfer"
)

func newDownloadCmd() *cobra.Command {
	var (
		flagRecursive bool
		flagFanOut    int
	)

	cmd := &cobra.Command{
		Use:   "download <remote-path> [local-dir]",
		Short: "Download a file or folder from the vault",
		Long: `Fetches, decrypts, and reassembles remote-path into local-dir
(defaulting to the current directory).

A remote folder requires --recursive; without it, downloading a folder
fails rather than silently downloading nothing.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			localDir := "."
			if len(args) == 2 {
				localDir = args[1]
			}

			return runDownload(cmd, args[0], localDir, flagRecursive, flagFanOut)
		},
	}

	cmd.Flags().BoolVar(&flagRecursive, "recursive", false, "allow downloading a folder")
	cmd.Flags().IntVar(&flagFanOut, "fan-out", 4, "number of files to transfer concurrently")

	return cmd
}

func runDownload(cmd *cobra.Command, remotePath, localDir string, recursive bool, fanOut int) error {
	cc := mustCLIContext(cmd.Context())
	app := cc.App
	ctx := cmd.Context()

	folder, binding, err := resolveEntry(ctx, app.Catalog, remotePath)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", remotePath, err)
	}

	var mainTaskID string

	switch {
	case binding != nil:
		destPath := filepath.Join(localDir, binding.Name)

		mainTaskID, err = app.Engine.QueueBindingDownload(ctx, binding.ID, destPath)
		if err != nil {
			return fmt.Errorf("queuing download: %w", err)
		}
	case folder != nil:
		if !recursive {
			return fmt.Errorf("%s is a folder — pass --recursive to download it", remotePath)
		}

		mainTaskID, err = app.Engine.QueueFolderDownload(ctx, folder.ID, localDir)
		if err != nil {
			return fmt.Errorf("queuing download: %w", err)
		}
	}

	stopReload := watchForReload(ctx, app, runningPIDPath(app.Config.Config().DataDir))
	defer stopReload()

	err = runTrackedTransfer(ctx, app, cc.Flags.Quiet, mainTaskID, func(runCtx context.Context, progress transfer.ProgressFunc) error {
		return app.Engine.RunMainTask(runCtx, mainTaskID, fanOut, progress)
	})
	if err != nil {
		return fmt.Errorf("download failed (task %s): %w", mainTaskID, err)
	}

	cc.Statusf("Downloaded %s -> %s (task %s)\n", remotePath, localDir, mainTaskID)

	return nil
}
