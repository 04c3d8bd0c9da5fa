package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <trash-id>",
		Short: "Restore a trashed file to its original location",
		Long: `Restores a file or folder out of the trash, identified by the id shown
in "vaultfs trash ls". It goes back to its original folder, or to the
vault root if that folder was itself deleted in the meantime. If the
original name is now taken, it is restored as "name (1)", "name (2)",
and so on.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			if err := cc.App.Catalog.Restore(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("restoring %s: %w", args[0], err)
			}

			cc.Statusf("Restored %s\n", args[0])

			return nil
		},
	}
}
