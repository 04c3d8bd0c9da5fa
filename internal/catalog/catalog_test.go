package catalog_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcbox/vaultfs/internal/catalog"
)

func openTestStore(t *testing.T) *catalog.Store {
	t.Helper()

	store, err := catalog.Open(t.Context(), ":memory:", nil)
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestCreateFolderAndBinding(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	folder, err := store.CreateFolder(ctx, catalog.RootFolderID, "docs")
	require.NoError(t, err)
	assert.Equal(t, "docs", folder.Name)

	binding, err := store.CreateBinding(ctx, folder.ID, "report.pdf", "deadbeef", 1024, 1)
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", binding.Name)

	content, err := store.FindContentByHash(ctx, "deadbeef")
	require.NoError(t, err)
	assert.EqualValues(t, 1024, content.Size)
}

func TestCreateFolderDuplicateNameFails(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, err := store.CreateFolder(ctx, catalog.RootFolderID, "dup")
	require.NoError(t, err)

	_, err = store.CreateFolder(ctx, catalog.RootFolderID, "dup")
	assert.ErrorIs(t, err, catalog.ErrAlreadyExists)
}

func TestCreateBindingDedupesContent(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	b1, err := store.CreateBinding(ctx, catalog.RootFolderID, "a.txt", "samehash", 10, 1)
	require.NoError(t, err)

	b2, err := store.CreateBinding(ctx, catalog.RootFolderID, "b.txt", "samehash", 10, 1)
	require.NoError(t, err)

	assert.Equal(t, b1.ContentID, b2.ContentID)
}

func TestMoveFolderRejectsCycle(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	parent, err := store.CreateFolder(ctx, catalog.RootFolderID, "parent")
	require.NoError(t, err)

	child, err := store.CreateFolder(ctx, parent.ID, "child")
	require.NoError(t, err)

	err = store.MoveFolder(ctx, parent.ID, child.ID)
	assert.ErrorIs(t, err, catalog.ErrCyclicMove)
}

func TestSoftDeleteFolderReparentsUnderTrashAndPermanentDeleteRemoves(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	folder, err := store.CreateFolder(ctx, catalog.RootFolderID, "photos")
	require.NoError(t, err)

	_, err = store.CreateBinding(ctx, folder.ID, "a.jpg", "hash-a", 5, 1)
	require.NoError(t, err)

	record, err := store.SoftDelete(ctx, folder.ID, true)
	require.NoError(t, err)
	assert.Equal(t, catalog.RootFolderID, record.OriginalParentID)
	assert.Equal(t, "photos", record.OriginalName)

	// The folder still exists, just reparented under the trash root — it
	// did not come back from GetFolder as deleted.
	moved, err := store.GetFolder(ctx, folder.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.TrashRootID, moved.ParentID)

	trash, err := store.ListTrash(ctx)
	require.NoError(t, err)
	require.Len(t, trash, 1)

	messageIDs, err := store.DeleteFolder(ctx, folder.ID)
	require.NoError(t, err)
	assert.Empty(t, messageIDs) // no chunks were ever recorded for hash-a

	_, err = store.GetFolder(ctx, folder.ID)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestSoftDeleteBindingAndRestore(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	binding, err := store.CreateBinding(ctx, catalog.RootFolderID, "note.txt", "hash-note", 3, 1)
	require.NoError(t, err)

	record, err := store.SoftDelete(ctx, binding.ID, false)
	require.NoError(t, err)

	trash, err := store.ListTrash(ctx)
	require.NoError(t, err)
	require.Len(t, trash, 1)

	require.NoError(t, store.Restore(ctx, record.ID))

	restored, err := store.GetBinding(ctx, binding.ID)
	require.NoError(t, err)
	assert.Equal(t, "note.txt", restored.Name)
	assert.Equal(t, catalog.RootFolderID, restored.FolderID)

	trash, err = store.ListTrash(ctx)
	require.NoError(t, err)
	assert.Empty(t, trash)
}

func TestRestoreFallsBackToRootWhenOriginalParentGone(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	folder, err := store.CreateFolder(ctx, catalog.RootFolderID, "temp")
	require.NoError(t, err)

	binding, err := store.CreateBinding(ctx, folder.ID, "note.txt", "hash-note", 3, 1)
	require.NoError(t, err)

	record, err := store.SoftDelete(ctx, binding.ID, false)
	require.NoError(t, err)

	// The original parent folder is permanently removed while the
	// binding sits in the trash.
	_, err = store.DeleteFolder(ctx, folder.ID)
	require.NoError(t, err)

	require.NoError(t, store.Restore(ctx, record.ID))

	restored, err := store.GetBinding(ctx, binding.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.RootFolderID, restored.FolderID)
}

func TestRestoreRenamesOnCollision(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	binding, err := store.CreateBinding(ctx, catalog.RootFolderID, "note.txt", "hash-note", 3, 1)
	require.NoError(t, err)

	record, err := store.SoftDelete(ctx, binding.ID, false)
	require.NoError(t, err)

	// Something else now occupies the original name.
	_, err = store.CreateBinding(ctx, catalog.RootFolderID, "note.txt", "hash-other", 4, 1)
	require.NoError(t, err)

	require.NoError(t, store.Restore(ctx, record.ID))

	restored, err := store.GetBinding(ctx, binding.ID)
	require.NoError(t, err)
	assert.Equal(t, "note (1).txt", restored.Name)
}

func TestRestoreFolderRenamesOnCollision(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	folder, err := store.CreateFolder(ctx, catalog.RootFolderID, "archive")
	require.NoError(t, err)

	record, err := store.SoftDelete(ctx, folder.ID, true)
	require.NoError(t, err)

	_, err = store.CreateFolder(ctx, catalog.RootFolderID, "archive")
	require.NoError(t, err)

	require.NoError(t, store.Restore(ctx, record.ID))

	restored, err := store.GetFolder(ctx, folder.ID)
	require.NoError(t, err)
	assert.Equal(t, "archive (1)", restored.Name)
}

func TestTotalSizeAggregatesUpAncestorChain(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	top, err := store.CreateFolder(ctx, catalog.RootFolderID, "top")
	require.NoError(t, err)

	nested, err := store.CreateFolder(ctx, top.ID, "nested")
	require.NoError(t, err)

	binding, err := store.CreateBinding(ctx, nested.ID, "f.bin", "hash-size", 42, 1)
	require.NoError(t, err)

	top, err = store.GetFolder(ctx, top.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 42, top.TotalSize)

	nested, err = store.GetFolder(ctx, nested.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 42, nested.TotalSize)

	other, err := store.CreateFolder(ctx, catalog.RootFolderID, "other")
	require.NoError(t, err)
	require.NoError(t, store.MoveBinding(ctx, binding.ID, other.ID))

	top, err = store.GetFolder(ctx, top.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, top.TotalSize)

	other, err = store.GetFolder(ctx, other.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 42, other.TotalSize)

	_, err = store.DeleteBinding(ctx, binding.ID)
	require.NoError(t, err)

	other, err = store.GetFolder(ctx, other.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, other.TotalSize)
}

func TestListRecursiveWalksNestedFoldersAndFiles(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	root, err := store.CreateFolder(ctx, catalog.RootFolderID, "album")
	require.NoError(t, err)

	sub, err := store.CreateFolder(ctx, root.ID, "sub")
	require.NoError(t, err)

	_, err = store.CreateBinding(ctx, root.ID, "a.jpg", "hash-a", 5, 1)
	require.NoError(t, err)

	_, err = store.CreateBinding(ctx, sub.ID, "b.jpg", "hash-b", 7, 1)
	require.NoError(t, err)

	entries, err := store.ListRecursive(ctx, root.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	paths := make(map[string]catalog.RecursiveEntry)
	for _, e := range entries {
		paths[e.RelativePath] = e
	}

	require.Contains(t, paths, "a.jpg")
	require.Contains(t, paths, "sub")
	require.Contains(t, paths, "sub/b.jpg")
	assert.Equal(t, catalog.RecursiveEntryFolder, paths["sub"].Type)
	assert.Equal(t, catalog.RecursiveEntryFile, paths["sub/b.jpg"].Type)
	assert.EqualValues(t, 7, paths["sub/b.jpg"].Size)
}

func TestVersionAdvancesOnEveryMutation(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	v0, err := store.CurrentVersion(ctx)
	require.NoError(t, err)

	_, err = store.CreateFolder(ctx, catalog.RootFolderID, "x")
	require.NoError(t, err)

	v1, err := store.CurrentVersion(ctx)
	require.NoError(t, err)

	assert.Equal(t, v0+1, v1)
}

func TestValidateNameRejectsSeparatorsAndDots(t *testing.T) {
	_, err := catalog.ValidateName("a/b")
	assert.ErrorIs(t, err, catalog.ErrInvalidName)

	_, err = catalog.ValidateName("..")
	assert.ErrorIs(t, err, catalog.ErrInvalidName)

	_, err = catalog.ValidateName("")
	assert.ErrorIs(t, err, catalog.ErrInvalidName)
}

func TestValidateNameRejectsForbiddenCharacters(t *testing.T) {
	for _, name := range []string{
		`a\b`, "a/b", "a<b", "a>b", "a:b", `a"b`, "a|b", "a?b", "a*b",
	} {
		_, err := catalog.ValidateName(name)
		assert.ErrorIsf(t, err, catalog.ErrInvalidName, "name %q should be rejected", name)
	}

	valid, err := catalog.ValidateName("report (final) v2.pdf")
	require.NoError(t, err)
	assert.Equal(t, "report (final) v2.pdf", valid)
}

func TestRecordAndListChunks(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	binding, err := store.CreateBinding(ctx, catalog.RootFolderID, "big.bin", "hash-big", 20_000_000, 3)
	require.NoError(t, err)

	require.NoError(t, store.RecordChunk(ctx, binding.ContentID, 1, "chan-1", "msg-1"))
	require.NoError(t, store.RecordChunk(ctx, binding.ContentID, 2, "chan-1", "msg-2"))

	chunks, err := store.ListChunks(ctx, binding.ContentID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 1, chunks[0].PartNum)
}

func TestTotalSizeDeduplicates(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, err := store.CreateBinding(ctx, catalog.RootFolderID, "a.txt", "shared-hash", 100, 1)
	require.NoError(t, err)
	_, err = store.CreateBinding(ctx, catalog.RootFolderID, "b.txt", "shared-hash", 100, 1)
	require.NoError(t, err)

	total, err := store.TotalSize(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 100, total)
}
