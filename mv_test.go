package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcbox/vaultfs/internal/catalog"
)

func TestRunMvRenameWithinSameFolder(t *testing.T) {
	cmd := newCLITestCommand(t)
	cat := mustCLIContext(cmd.Context()).App.Catalog
	ctx := cmd.Context()

	binding, err := cat.CreateBinding(ctx, catalog.RootFolderID, "report.pdf", "deadbeef", 1024, 1)
	require.NoError(t, err)

	require.NoError(t, runMv(cmd, "report.pdf", "final.pdf"))

	_, got, err := resolveEntry(ctx, cat, "final.pdf")
	require.NoError(t, err)
	assert.Equal(t, binding.ID, got.ID)
	assert.Equal(t, catalog.RootFolderID, got.FolderID)

	_, _, err = resolveEntry(ctx, cat, "report.pdf")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestRunMvMovesBindingToDifferentFolder(t *testing.T) {
	cmd := newCLITestCommand(t)
	cat := mustCLIContext(cmd.Context()).App.Catalog
	ctx := cmd.Context()

	dst, err := cat.CreateFolder(ctx, catalog.RootFolderID, "archive")
	require.NoError(t, err)

	_, err = cat.CreateBinding(ctx, catalog.RootFolderID, "report.pdf", "deadbeef", 1024, 1)
	require.NoError(t, err)

	require.NoError(t, runMv(cmd, "report.pdf", "archive/report.pdf"))

	_, got, err := resolveEntry(ctx, cat, "archive/report.pdf")
	require.NoError(t, err)
	assert.Equal(t, dst.ID, got.FolderID)
}

func TestRunMvMovesFolder(t *testing.T) {
	cmd := newCLITestCommand(t)
	cat := mustCLIContext(cmd.Context()).App.Catalog
	ctx := cmd.Context()

	src, err := cat.CreateFolder(ctx, catalog.RootFolderID, "drafts")
	require.NoError(t, err)

	dst, err := cat.CreateFolder(ctx, catalog.RootFolderID, "archive")
	require.NoError(t, err)

	require.NoError(t, runMv(cmd, "drafts", "archive/drafts"))

	got, _, err := resolveEntry(ctx, cat, "archive/drafts")
	require.NoError(t, err)
	assert.Equal(t, src.ID, got.ID)
	assert.Equal(t, dst.ID, got.ParentID)
}

func TestRunMvMissingSourceFails(t *testing.T) {
	cmd := newCLITestCommand(t)

	err := runMv(cmd, "nope.pdf", "also-nope.pdf")
	assert.Error(t, err)
}
