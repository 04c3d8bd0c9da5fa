package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arcbox/vaultfs/internal/catalog"
	"github.com/arcbox/vaultfs/internal/vaultapp"
)

func newTrashCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trash",
		Short: "Inspect and empty the trash",
	}

	cmd.AddCommand(newTrashLsCmd(), newTrashEmptyCmd())

	return cmd
}

func newTrashLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List trashed files and folders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			records, err := cc.App.Catalog.ListTrash(cmd.Context())
			if err != nil {
				return err
			}

			printTrashRecords(records)

			return nil
		},
	}
}

func newTrashEmptyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "empty",
		Short: "Permanently delete every trashed file and folder",
		Long: `Purges every trash record regardless of its retention expiry — the
"rm" undo window is forfeited for everything currently in the trash. For
each purged binding whose content is no longer referenced by any other
binding, its remote chunks are deleted from the channel too.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			n, err := emptyTrash(cmd.Context(), cc.App)
			if err != nil {
				return err
			}

			cc.Statusf("Purged %d trash record(s)\n", n)

			return nil
		},
	}
}

// emptyTrash purges every trash record regardless of expiry, permanently
// deleting each record's folder or binding and reclaiming remote storage
// for any content that drops to zero references along the way.
func emptyTrash(ctx context.Context, app *vaultapp.App) (int, error) {
	records, err := app.Catalog.ListTrash(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing trash: %w", err)
	}

	for _, r := range records {
		if err := purgeTrashRecord(ctx, app, r); err != nil {
			return 0, fmt.Errorf("purging trash record %s: %w", r.ID, err)
		}
	}

	return len(records), nil
}

// purgeTrashRecord permanently deletes the folder or binding a trash
// record points at — via catalog.DeleteFolder/DeleteBinding, which hand
// back the remote message ids orphaned by the deletion — purges those
// blobs from the channel, then removes the trash record itself. Shared
// between the "trash empty" command and the periodic expiry sweeper.
func purgeTrashRecord(ctx context.Context, app *vaultapp.App, r *catalog.TrashRecord) error {
	var (
		messageIDs []string
		err        error
	)

	if r.IsFolder {
		messageIDs, err = app.Catalog.DeleteFolder(ctx, r.ItemID)
	} else {
		messageIDs, err = app.Catalog.DeleteBinding(ctx, r.ItemID)
	}

	if err != nil {
		return fmt.Errorf("permanently deleting %s: %w", r.ItemID, err)
	}

	if len(messageIDs) > 0 {
		if err := app.Channel.DeleteBlobs(ctx, app.ChannelID, messageIDs); err != nil {
			return fmt.Errorf("deleting remote chunks: %w", err)
		}
	}

	return app.Catalog.PurgeTrash(ctx, r.ID)
}

func printTrashRecords(records []*catalog.TrashRecord) {
	headers := []string{"ID", "NAME", "TYPE", "DELETED", "EXPIRES"}
	rows := make([][]string, 0, len(records))

	for _, r := range records {
		kind := "file"
		if r.IsFolder {
			kind = "folder"
		}

		rows = append(rows, []string{
			r.ID,
			r.OriginalName,
			kind,
			formatUnixNano(r.DeletedAt),
			formatUnixNano(r.ExpiresAt),
		})
	}

	printTable(os.Stdout, headers, rows)
}
