package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/arcbox/vaultfs/internal/catalog"
)

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [remote-path]",
		Short: "List a folder's contents",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}

			return runLs(cmd, path)
		},
	}
}

type lsEntry struct {
	name  string
	isDir bool
	size  int64
}

func runLs(cmd *cobra.Command, path string) error {
	cc := mustCLIContext(cmd.Context())
	cat := cc.App.Catalog
	ctx := cmd.Context()

	folder, err := resolveFolder(ctx, cat, path)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", path, err)
	}

	children, err := cat.ListChildFolders(ctx, folder.ID)
	if err != nil {
		return err
	}

	bindings, err := cat.ListFolderBindings(ctx, folder.ID)
	if err != nil {
		return err
	}

	entries := make([]lsEntry, 0, len(children)+len(bindings))
	for _, c := range children {
		entries = append(entries, lsEntry{name: c.Name, isDir: true, size: c.TotalSize})
	}

	for _, b := range bindings {
		entries = append(entries, lsEntry{name: b.Name, size: bindingSize(ctx, cat, b)})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	printLsEntries(entries)

	return nil
}

// bindingSize looks up the content size a binding points at. A lookup
// failure (content row vanished, which should never happen while any
// binding still references it) reports size 0 rather than failing the
// whole listing.
func bindingSize(ctx context.Context, cat *catalog.Store, b *catalog.Binding) int64 {
	content, err := cat.FindContentByHash(ctx, b.ContentID)
	if err != nil {
		return 0
	}

	return content.Size
}

func printLsEntries(entries []lsEntry) {
	headers := []string{"NAME", "SIZE"}
	rows := make([][]string, 0, len(entries))

	for _, e := range entries {
		name := e.name
		size := formatSize(e.size)

		if e.isDir {
			name += "/"
		}

		rows = append(rows, []string{name, size})
	}

	printTable(os.Stdout, headers, rows)
}
