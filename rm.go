package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <remote-path>",
		Short: "Soft-delete a file or folder",
		Long: `Moves remote-path into the trash. It (and, for a folder, everything
beneath it) stays restorable with "vaultfs restore" until the trash
retention period expires.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			cat := cc.App.Catalog
			ctx := cmd.Context()

			folder, binding, err := resolveEntry(ctx, cat, args[0])
			if err != nil {
				return fmt.Errorf("resolving %s: %w", args[0], err)
			}

			switch {
			case binding != nil:
				if _, err := cat.SoftDelete(ctx, binding.ID, false); err != nil {
					return fmt.Errorf("deleting %s: %w", args[0], err)
				}
			case folder != nil:
				if _, err := cat.SoftDelete(ctx, folder.ID, true); err != nil {
					return fmt.Errorf("deleting %s: %w", args[0], err)
				}
			}

			cc.Statusf("Deleted %s\n", args[0])

			return nil
		},
	}
}
