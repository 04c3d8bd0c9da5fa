package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcbox/vaultfs/internal/checkpoint"
)

func openStatusTestStore(t *testing.T) *checkpoint.Store {
	t.Helper()

	store, err := checkpoint.Open(t.Context(), ":memory:", nil)
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestActiveMainTasksCollectsNonTerminalStatuses(t *testing.T) {
	ctx := context.Background()
	store := openStatusTestStore(t)

	queued, err := store.CreateMainTask(ctx, checkpoint.KindUpload, "/a", "folder-1")
	require.NoError(t, err)

	transferring, err := store.CreateMainTask(ctx, checkpoint.KindDownload, "/b", "folder-1")
	require.NoError(t, err)
	require.NoError(t, store.UpdateMainTaskStatus(ctx, transferring.ID, checkpoint.StatusTransferring))

	paused, err := store.CreateMainTask(ctx, checkpoint.KindUpload, "/c", "folder-1")
	require.NoError(t, err)
	require.NoError(t, store.UpdateMainTaskStatus(ctx, paused.ID, checkpoint.StatusPaused))

	completed, err := store.CreateMainTask(ctx, checkpoint.KindUpload, "/d", "folder-1")
	require.NoError(t, err)
	require.NoError(t, store.UpdateMainTaskStatus(ctx, completed.ID, checkpoint.StatusCompleted))

	tasks, err := activeMainTasks(ctx, store)
	require.NoError(t, err)

	ids := make(map[string]bool, len(tasks))
	for _, task := range tasks {
		ids[task.ID] = true
	}

	assert.True(t, ids[queued.ID])
	assert.True(t, ids[transferring.ID])
	assert.True(t, ids[paused.ID])
	assert.False(t, ids[completed.ID])
	assert.Len(t, tasks, 3)
}

func TestActiveMainTasksEmpty(t *testing.T) {
	ctx := context.Background()
	store := openStatusTestStore(t)

	tasks, err := activeMainTasks(ctx, store)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}
