package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <remote-path>",
		Short: "Create a folder, including any missing parent folders",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			folder, err := ensureFolderPath(cmd.Context(), cc.App.Catalog, args[0])
			if err != nil {
				return fmt.Errorf("creating %s: %w", args[0], err)
			}

			cc.Statusf("Created %s (%s)\n", args[0], folder.ID)

			return nil
		},
	}
}
