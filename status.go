package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arcbox/vaultfs/internal/checkpoint"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List active transfer tasks",
		Long: `Shows every main task that is queued, transferring, or paused, along
with the task id needed by "vaultfs pause", "vaultfs resume", and
"vaultfs cancel".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			tasks, err := activeMainTasks(cmd.Context(), cc.App.Checkpoint)
			if err != nil {
				return err
			}

			if cc.Flags.JSON {
				return printStatusJSON(tasks)
			}

			printStatusText(tasks)

			return nil
		},
	}
}

func activeMainTasks(ctx context.Context, ckpt *checkpoint.Store) ([]*checkpoint.MainTask, error) {
	var tasks []*checkpoint.MainTask

	for _, status := range []checkpoint.Status{checkpoint.StatusQueued, checkpoint.StatusTransferring, checkpoint.StatusPaused} {
		batch, err := ckpt.ListMainTasksByStatus(ctx, status)
		if err != nil {
			return nil, fmt.Errorf("listing %s tasks: %w", status, err)
		}

		tasks = append(tasks, batch...)
	}

	return tasks, nil
}

func printStatusJSON(tasks []*checkpoint.MainTask) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(tasks); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

func printStatusText(tasks []*checkpoint.MainTask) {
	if len(tasks) == 0 {
		fmt.Println("No active tasks")

		return
	}

	headers := []string{"ID", "KIND", "STATUS", "PATH"}
	rows := make([][]string, 0, len(tasks))

	for _, t := range tasks {
		rows = append(rows, []string{t.ID, string(t.Kind), string(t.Status), t.RootPath})
	}

	printTable(os.Stdout, headers, rows)
}
