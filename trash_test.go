package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcbox/vaultfs/internal/catalog"
	"github.com/arcbox/vaultfs/internal/remoteblob/memblob"
	"github.com/arcbox/vaultfs/internal/vaultapp"
)

func newTrashTestApp(t *testing.T) *vaultapp.App {
	t.Helper()

	store, err := catalog.Open(t.Context(), ":memory:", nil)
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close() })

	channel := memblob.New()

	channelID, err := channel.EnsureChannel(t.Context(), "tester")
	require.NoError(t, err)

	return &vaultapp.App{Catalog: store, Channel: channel, ChannelID: channelID}
}

func TestEmptyTrashPurgesBindingAndDeletesUnreferencedChunks(t *testing.T) {
	ctx := context.Background()
	app := newTrashTestApp(t)

	binding, err := app.Catalog.CreateBinding(ctx, catalog.RootFolderID, "report.pdf", "deadbeef", 1024, 1)
	require.NoError(t, err)

	messageID, err := app.Channel.SendBlob(ctx, app.ChannelID, []byte("chunk"), "")
	require.NoError(t, err)
	require.NoError(t, app.Catalog.RecordChunk(ctx, binding.ContentID, 1, app.ChannelID, messageID))

	_, err = app.Catalog.SoftDelete(ctx, binding.ID, false)
	require.NoError(t, err)

	n, err := emptyTrash(ctx, app)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	trash, err := app.Catalog.ListTrash(ctx)
	require.NoError(t, err)
	assert.Empty(t, trash)

	_, err = app.Catalog.FindContentByHash(ctx, "deadbeef")
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	_, err = app.Channel.FetchBlob(ctx, app.ChannelID, messageID)
	assert.Error(t, err)
}

func TestEmptyTrashKeepsContentStillReferencedByAnotherBinding(t *testing.T) {
	ctx := context.Background()
	app := newTrashTestApp(t)

	first, err := app.Catalog.CreateBinding(ctx, catalog.RootFolderID, "a.pdf", "deadbeef", 1024, 1)
	require.NoError(t, err)

	_, err = app.Catalog.CreateBinding(ctx, catalog.RootFolderID, "b.pdf", "deadbeef", 1024, 1)
	require.NoError(t, err)

	_, err = app.Catalog.SoftDelete(ctx, first.ID, false)
	require.NoError(t, err)

	n, err := emptyTrash(ctx, app)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	content, err := app.Catalog.FindContentByHash(ctx, "deadbeef")
	require.NoError(t, err)
	assert.EqualValues(t, 1024, content.Size)
}

func TestEmptyTrashOnEmptyTrashIsANoop(t *testing.T) {
	ctx := context.Background()
	app := newTrashTestApp(t)

	n, err := emptyTrash(ctx, app)
	require.NoError(t, err)
	assert.Zero(t, n)
}
