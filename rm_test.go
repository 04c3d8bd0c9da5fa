package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcbox/vaultfs/internal/catalog"
)

func TestRmDeletesBinding(t *testing.T) {
	cmd := newCLITestCommand(t)
	cat := mustCLIContext(cmd.Context()).App.Catalog
	ctx := cmd.Context()

	_, err := cat.CreateBinding(ctx, catalog.RootFolderID, "report.pdf", "deadbeef", 1024, 1)
	require.NoError(t, err)

	rm := newRmCmd()
	require.NoError(t, rm.RunE(cmd, []string{"report.pdf"}))

	_, _, err = resolveEntry(ctx, cat, "report.pdf")
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	trash, err := cat.ListTrash(ctx)
	require.NoError(t, err)
	assert.Len(t, trash, 1)
}

func TestRmDeletesFolder(t *testing.T) {
	cmd := newCLITestCommand(t)
	cat := mustCLIContext(cmd.Context()).App.Catalog
	ctx := cmd.Context()

	folder, err := cat.CreateFolder(ctx, catalog.RootFolderID, "drafts")
	require.NoError(t, err)

	rm := newRmCmd()
	require.NoError(t, rm.RunE(cmd, []string{"drafts"}))

	children, err := cat.ListChildFolders(ctx, catalog.RootFolderID)
	require.NoError(t, err)
	for _, c := range children {
		assert.NotEqual(t, folder.ID, c.ID, "trashed folder should no longer be listed under its old parent")
	}

	moved, err := cat.GetFolder(ctx, folder.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.TrashRootID, moved.ParentID, "soft-deleting a folder reparents it under the trash root rather than removing it")
}

func TestRmMissingPathFails(t *testing.T) {
	cmd := newCLITestCommand(t)

	rm := newRmCmd()
	err := rm.RunE(cmd, []string{"nope"})
	assert.Error(t, err)
}
