package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arcbox/vaultfs/internal/catalogsync"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Force one catalogue sync cycle with the remote",
		Long: `Runs a single sync cycle immediately instead of waiting for the next
debounced or polled trigger: uploads the catalogue if it changed locally,
or pulls and applies a newer remote version if one is available.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			err := cc.App.Sync.Sync(cmd.Context())
			if errors.Is(err, catalogsync.ErrRestoreRequiresRestart) {
				cc.Statusf("Catalogue restored from a newer remote version — restart vaultfs to pick it up\n")

				return nil
			}

			if err != nil {
				return fmt.Errorf("syncing: %w", err)
			}

			cc.Statusf("Sync complete\n")

			return nil
		},
	}
}
