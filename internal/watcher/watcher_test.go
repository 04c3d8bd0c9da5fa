package watcher_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arcbox/vaultfs/internal/catalog"
	"github.com/arcbox/vaultfs/internal/checkpoint"
	"github.com/arcbox/vaultfs/internal/watcher"
)

func TestReconcileDetectsLocalFileRemoval(t *testing.T) {
	ctx := t.Context()

	cat, err := catalog.Open(ctx, ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	ckpt, err := checkpoint.Open(ctx, ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ckpt.Close() })

	dir := t.TempDir()
	path := filepath.Join(dir, "file.bin")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o600))

	main, err := ckpt.CreateMainTask(ctx, checkpoint.KindDownload, dir, catalog.RootFolderID)
	require.NoError(t, err)
	require.NoError(t, ckpt.UpdateMainTaskStatus(ctx, main.ID, checkpoint.StatusCompleted))

	sub, err := ckpt.CreateSubTask(ctx, main.ID, path, "file.bin", catalog.RootFolderID, "hash", 4)
	require.NoError(t, err)
	require.NoError(t, ckpt.UpdateSubTaskStatus(ctx, sub.ID, checkpoint.StatusCompleted))

	w := watcher.New(cat, ckpt, 10*time.Millisecond, nil)
	events := make(chan watcher.ChangeEvent, 10)

	runOneReconcile(t, w, events)
	requireNoEvent(t, events)

	require.NoError(t, os.Remove(path))

	runOneReconcile(t, w, events)

	select {
	case ev := <-events:
		require.Equal(t, watcher.EventMissing, ev.Type)
		require.Equal(t, path, ev.Path)
	default:
		t.Fatal("expected a missing-file event after removal")
	}
}

func TestReconcileDetectsRemoteFolderRemoval(t *testing.T) {
	ctx := t.Context()

	cat, err := catalog.Open(ctx, ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	ckpt, err := checkpoint.Open(ctx, ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ckpt.Close() })

	folder, err := cat.CreateFolder(ctx, catalog.RootFolderID, "photos")
	require.NoError(t, err)

	main, err := ckpt.CreateMainTask(ctx, checkpoint.KindUpload, "/src", folder.ID)
	require.NoError(t, err)
	require.NoError(t, ckpt.UpdateMainTaskStatus(ctx, main.ID, checkpoint.StatusCompleted))

	sub, err := ckpt.CreateSubTask(ctx, main.ID, "/src/a.jpg", "a.jpg", folder.ID, "hash", 10)
	require.NoError(t, err)
	require.NoError(t, ckpt.UpdateSubTaskStatus(ctx, sub.ID, checkpoint.StatusCompleted))

	w := watcher.New(cat, ckpt, 10*time.Millisecond, nil)
	events := make(chan watcher.ChangeEvent, 10)

	runOneReconcile(t, w, events)
	requireNoEvent(t, events)

	_, err = cat.DeleteFolder(ctx, folder.ID)
	require.NoError(t, err)

	runOneReconcile(t, w, events)

	select {
	case ev := <-events:
		require.Equal(t, watcher.EventMissing, ev.Type)
		require.Equal(t, folder.ID, ev.Path)
	default:
		t.Fatal("expected a missing-folder event after deletion")
	}
}

// runOneReconcile exercises the watcher's reconciliation pass directly
// via a single poll tick, without running the full fsnotify-backed loop.
func runOneReconcile(t *testing.T, w *watcher.Watcher, events chan watcher.ChangeEvent) {
	t.Helper()

	require.NoError(t, w.ReconcileOnce(t.Context(), events))
}

func requireNoEvent(t *testing.T, events chan watcher.ChangeEvent) {
	t.Helper()

	select {
	case ev := <-events:
		t.Fatalf("unexpected event on baseline pass: %+v", ev)
	default:
	}
}
