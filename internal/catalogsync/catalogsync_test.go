package catalogsync_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arcbox/vaultfs/internal/catalog"
	"github.com/arcbox/vaultfs/internal/catalogsync"
	"github.com/arcbox/vaultfs/internal/remoteblob/memblob"
)

func openFileBackedCatalog(t *testing.T) (*catalog.Store, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "catalog.db")

	store, err := catalog.Open(t.Context(), path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store, path
}

func TestSyncUploadsWhenNoRemoteBackupExists(t *testing.T) {
	ctx := t.Context()
	store, path := openFileBackedCatalog(t)

	ch := memblob.New()
	channelID, err := ch.EnsureChannel(ctx, "user")
	require.NoError(t, err)

	_, err = store.CreateFolder(ctx, catalog.RootFolderID, "docs")
	require.NoError(t, err)

	syncer := catalogsync.New(path, store, ch, channelID, 2*time.Second, nil)
	require.NoError(t, syncer.Sync(ctx))

	messages, err := ch.SearchByCaption(ctx, channelID, "#catalogue_backup", 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
}

func TestSyncNoOpWhenVersionsMatch(t *testing.T) {
	ctx := t.Context()
	store, path := openFileBackedCatalog(t)

	ch := memblob.New()
	channelID, err := ch.EnsureChannel(ctx, "user")
	require.NoError(t, err)

	syncer := catalogsync.New(path, store, ch, channelID, 2*time.Second, nil)
	require.NoError(t, syncer.Sync(ctx))
	require.NoError(t, syncer.Sync(ctx))

	messages, err := ch.SearchByCaption(ctx, channelID, "#catalogue_backup", 10)
	require.NoError(t, err)
	require.Len(t, messages, 1, "second sync with no local changes should not re-upload")
}

func TestSyncDownloadsWhenRemoteIsNewer(t *testing.T) {
	ctx := t.Context()
	store, path := openFileBackedCatalog(t)

	ch := memblob.New()
	channelID, err := ch.EnsureChannel(ctx, "user")
	require.NoError(t, err)

	syncer := catalogsync.New(path, store, ch, channelID, 2*time.Second, nil)
	require.NoError(t, syncer.Sync(ctx))

	// Simulate a newer backup having been pushed from another machine by
	// sending a second backup message with a higher db_version directly.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	_ = data

	otherStore, otherPath := openFileBackedCatalog(t)
	_, err = otherStore.CreateFolder(ctx, catalog.RootFolderID, "newer")
	require.NoError(t, err)

	otherSyncer := catalogsync.New(otherPath, otherStore, ch, channelID, 2*time.Second, nil)
	// otherStore is at version 1 locally but the shared channel already
	// has a version-0 backup from `store`; this sync uploads version 1.
	require.NoError(t, otherSyncer.Sync(ctx))

	err = syncer.Sync(ctx)
	require.True(t, errors.Is(err, catalogsync.ErrRestoreRequiresRestart))

	restored, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotEmpty(t, restored)
}

func TestUploadPrunesStalePriorBackups(t *testing.T) {
	ctx := t.Context()
	store, path := openFileBackedCatalog(t)

	ch := memblob.New()
	channelID, err := ch.EnsureChannel(ctx, "user")
	require.NoError(t, err)

	syncer := catalogsync.New(path, store, ch, channelID, 2*time.Second, nil)
	require.NoError(t, syncer.Sync(ctx))

	_, err = store.CreateFolder(ctx, catalog.RootFolderID, "more")
	require.NoError(t, err)
	require.NoError(t, syncer.Sync(ctx))

	messages, err := ch.SearchByCaption(ctx, channelID, "#catalogue_backup", 10)
	require.NoError(t, err)
	require.Len(t, messages, 1, "an old backup message should be pruned once a newer one uploads")
}

func TestRestoreIfAbsentFetchesExistingBackup(t *testing.T) {
	ctx := t.Context()
	store, path := openFileBackedCatalog(t)

	ch := memblob.New()
	channelID, err := ch.EnsureChannel(ctx, "user")
	require.NoError(t, err)

	_, err = store.CreateFolder(ctx, catalog.RootFolderID, "docs")
	require.NoError(t, err)

	syncer := catalogsync.New(path, store, ch, channelID, 2*time.Second, nil)
	require.NoError(t, syncer.Sync(ctx))
	require.NoError(t, store.Close())

	missingPath := filepath.Join(t.TempDir(), "restored.db")

	restored, err := catalogsync.RestoreIfAbsent(ctx, ch, channelID, missingPath, nil)
	require.NoError(t, err)
	require.True(t, restored)

	data, err := os.ReadFile(missingPath)
	require.NoError(t, err)
	require.NotEmpty(t, data)
}

func TestRestoreIfAbsentNoopWhenFileExists(t *testing.T) {
	ctx := t.Context()
	_, path := openFileBackedCatalog(t)

	ch := memblob.New()
	channelID, err := ch.EnsureChannel(ctx, "user")
	require.NoError(t, err)

	restored, err := catalogsync.RestoreIfAbsent(ctx, ch, channelID, path, nil)
	require.NoError(t, err)
	require.False(t, restored)
}
