package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/arcbox/vaultfs/internal/catalog"
)

// splitPath splits a slash-separated remote path into non-empty segments.
func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}

	return strings.Split(trimmed, "/")
}

// resolveFolder walks path from the catalog root, returning the folder
// at that path. An empty or "/" path resolves to the root folder.
func resolveFolder(ctx context.Context, cat *catalog.Store, path string) (*catalog.Folder, error) {
	current, err := cat.GetFolder(ctx, catalog.RootFolderID)
	if err != nil {
		return nil, err
	}

	for _, name := range splitPath(path) {
		children, err := cat.ListChildFolders(ctx, current.ID)
		if err != nil {
			return nil, err
		}

		next := findFolderByName(children, name)
		if next == nil {
			return nil, fmt.Errorf("%w: %s", catalog.ErrNotFound, path)
		}

		current = next
	}

	return current, nil
}

// resolveParentAndName splits path into its parent folder and final
// path segment, resolving the parent. Used by commands that name a new
// or existing entry within a folder (mkdir, upload destination, rm).
func resolveParentAndName(ctx context.Context, cat *catalog.Store, path string) (*catalog.Folder, string, error) {
	segments := splitPath(path)
	if len(segments) == 0 {
		return nil, "", fmt.Errorf("path must name an entry, not the root")
	}

	parent, err := resolveFolder(ctx, cat, strings.Join(segments[:len(segments)-1], "/"))
	if err != nil {
		return nil, "", err
	}

	return parent, segments[len(segments)-1], nil
}

// resolveEntry resolves path to either a folder or a binding (file) —
// whichever exists at that path. Exactly one of the return values is
// non-nil on success.
func resolveEntry(ctx context.Context, cat *catalog.Store, path string) (*catalog.Folder, *catalog.Binding, error) {
	segments := splitPath(path)
	if len(segments) == 0 {
		root, err := cat.GetFolder(ctx, catalog.RootFolderID)
		return root, nil, err
	}

	parent, name, err := resolveParentAndName(ctx, cat, path)
	if err != nil {
		return nil, nil, err
	}

	children, err := cat.ListChildFolders(ctx, parent.ID)
	if err != nil {
		return nil, nil, err
	}

	if folder := findFolderByName(children, name); folder != nil {
		return folder, nil, nil
	}

	bindings, err := cat.ListFolderBindings(ctx, parent.ID)
	if err != nil {
		return nil, nil, err
	}

	if binding := findBindingByName(bindings, name); binding != nil {
		return nil, binding, nil
	}

	return nil, nil, fmt.Errorf("%w: %s", catalog.ErrNotFound, path)
}

// ensureFolderPath walks path from the root, creating any folder segment
// that does not yet exist — the "mkdir -p" behavior mkdir and upload's
// destination folder both rely on.
func ensureFolderPath(ctx context.Context, cat *catalog.Store, path string) (*catalog.Folder, error) {
	current, err := cat.GetFolder(ctx, catalog.RootFolderID)
	if err != nil {
		return nil, err
	}

	for _, name := range splitPath(path) {
		children, err := cat.ListChildFolders(ctx, current.ID)
		if err != nil {
			return nil, err
		}

		if next := findFolderByName(children, name); next != nil {
			current = next
			continue
		}

		created, err := cat.CreateFolder(ctx, current.ID, name)
		if err != nil {
			if errors.Is(err, catalog.ErrAlreadyExists) {
				children, err := cat.ListChildFolders(ctx, current.ID)
				if err != nil {
					return nil, err
				}

				if next := findFolderByName(children, name); next != nil {
					current = next
					continue
				}
			}

			return nil, err
		}

		current = created
	}

	return current, nil
}

func findFolderByName(folders []*catalog.Folder, name string) *catalog.Folder {
	for _, f := range folders {
		if f.Name == name {
			return f
		}
	}

	return nil
}

func findBindingByName(bindings []*catalog.Binding, name string) *catalog.Binding {
	for _, b := range bindings {
		if b.Name == name {
			return b
		}
	}

	return nil
}
