package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mv <src> <dst>",
		Short: "Rename or move a file or folder",
		Long: `Moves src to dst. If dst's final segment names a different folder
than src currently lives in, this is a move; if only the final segment
differs, it is a rename. A name collision at the destination fails with
the same error a concurrent create would.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMv(cmd, args[0], args[1])
		},
	}
}

func runMv(cmd *cobra.Command, src, dst string) error {
	cc := mustCLIContext(cmd.Context())
	cat := cc.App.Catalog
	ctx := cmd.Context()

	srcFolder, srcBinding, err := resolveEntry(ctx, cat, src)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", src, err)
	}

	dstParent, dstName, err := resolveParentAndName(ctx, cat, dst)
	if err != nil {
		return fmt.Errorf("resolving destination %s: %w", dst, err)
	}

	switch {
	case srcBinding != nil:
		if err := cat.MoveBinding(ctx, srcBinding.ID, dstParent.ID); err != nil {
			return fmt.Errorf("moving %s: %w", src, err)
		}

		if err := cat.RenameBinding(ctx, srcBinding.ID, dstName); err != nil {
			return fmt.Errorf("renaming %s: %w", src, err)
		}
	case srcFolder != nil:
		if err := cat.MoveFolder(ctx, srcFolder.ID, dstParent.ID); err != nil {
			return fmt.Errorf("moving %s: %w", src, err)
		}

		if err := cat.RenameFolder(ctx, srcFolder.ID, dstName); err != nil {
			return fmt.Errorf("renaming %s: %w", src, err)
		}
	}

	cc.Statusf("Moved %s -> %s\n", src, dst)

	return nil
}
