package transfer_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arcbox/vaultfs/internal/catalog"
	"github.com/arcbox/vaultfs/internal/checkpoint"
	"github.com/arcbox/vaultfs/internal/remoteblob/memblob"
	"github.com/arcbox/vaultfs/internal/transfer"
	"github.com/arcbox/vaultfs/internal/vaultcrypto"
)

type testEnv struct {
	engine  *transfer.Engine
	catalog *catalog.Store
	ckpt    *checkpoint.Store
	channel *memblob.Channel
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	ctx := t.Context()

	cat, err := catalog.Open(ctx, ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	ckpt, err := checkpoint.Open(ctx, ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ckpt.Close() })

	ch := memblob.New()
	channelID, err := ch.EnsureChannel(ctx, "test-user")
	require.NoError(t, err)

	engine := transfer.NewEngine(cat, ckpt, ch, channelID, 4, nil)

	return &testEnv{engine: engine, catalog: cat, ckpt: ckpt, channel: ch}
}

func writeRandomFile(t *testing.T, dir, name string, size int) string {
	t.Helper()

	path := filepath.Join(dir, name)
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}

	require.NoError(t, os.WriteFile(path, data, 0o600))

	return path
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	ctx := t.Context()
	env := newTestEnv(t)

	srcDir := t.TempDir()
	srcPath := writeRandomFile(t, srcDir, "report.bin", 3*8*1024*1024+77)

	mainID, err := env.engine.UploadPath(ctx, srcPath, catalog.RootFolderID, 2)
	require.NoError(t, err)

	mainTask, err := env.ckpt.GetMainTask(ctx, mainID)
	require.NoError(t, err)
	require.Equal(t, checkpoint.StatusCompleted, mainTask.Status)

	bindings, err := env.catalog.ListFolderBindings(ctx, catalog.RootFolderID)
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	require.Equal(t, "report.bin", bindings[0].Name)

	destDir := t.TempDir()
	downloadMainID, err := env.engine.DownloadBinding(ctx, bindings[0].ID, filepath.Join(destDir, "report.bin"))
	require.NoError(t, err)

	downloadMain, err := env.ckpt.GetMainTask(ctx, downloadMainID)
	require.NoError(t, err)
	require.Equal(t, checkpoint.StatusCompleted, downloadMain.Status)

	want, err := os.ReadFile(srcPath)
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(destDir, "report.bin"))
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestUploadDedupSkipsSecondTransfer(t *testing.T) {
	ctx := t.Context()
	env := newTestEnv(t)

	srcDir := t.TempDir()
	path1 := writeRandomFile(t, srcDir, "a.bin", 1024)

	data, err := os.ReadFile(path1)
	require.NoError(t, err)

	path2 := filepath.Join(srcDir, "b.bin")
	require.NoError(t, os.WriteFile(path2, data, 0o600))

	_, err = env.engine.UploadPath(ctx, path1, catalog.RootFolderID, 1)
	require.NoError(t, err)

	_, err = env.engine.UploadPath(ctx, path2, catalog.RootFolderID, 1)
	require.NoError(t, err)

	bindings, err := env.catalog.ListFolderBindings(ctx, catalog.RootFolderID)
	require.NoError(t, err)
	require.Len(t, bindings, 2)
	require.Equal(t, bindings[0].ContentID, bindings[1].ContentID)
}

func TestDownloadRetriesOnIntegrityFailure(t *testing.T) {
	ctx := t.Context()
	env := newTestEnv(t)

	srcDir := t.TempDir()
	srcPath := writeRandomFile(t, srcDir, "secret.bin", 4096)

	_, err := env.engine.UploadPath(ctx, srcPath, catalog.RootFolderID, 1)
	require.NoError(t, err)

	bindings, err := env.catalog.ListFolderBindings(ctx, catalog.RootFolderID)
	require.NoError(t, err)
	require.Len(t, bindings, 1)

	chunks, err := env.catalog.ListChunks(ctx, bindings[0].ContentID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	env.channel.TamperNextFetch(chunks[0].MessageID)

	destDir := t.TempDir()
	mainID, err := env.engine.DownloadBinding(ctx, bindings[0].ID, filepath.Join(destDir, "secret.bin"))
	require.NoError(t, err)

	main, err := env.ckpt.GetMainTask(ctx, mainID)
	require.NoError(t, err)
	require.Equal(t, checkpoint.StatusCompleted, main.Status)

	want, err := os.ReadFile(srcPath)
	require.NoError(t, err)
	got, err := os.ReadFile(filepath.Join(destDir, "secret.bin"))
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestUploadResumesFromCheckpoint(t *testing.T) {
	ctx := t.Context()
	env := newTestEnv(t)

	srcDir := t.TempDir()
	srcPath := writeRandomFile(t, srcDir, "big.bin", 2*8*1024*1024)

	main, err := env.ckpt.CreateMainTask(ctx, checkpoint.KindUpload, srcPath, catalog.RootFolderID)
	require.NoError(t, err)

	sub, err := env.ckpt.CreateSubTask(ctx, main.ID, srcPath, "big.bin", catalog.RootFolderID, mustHash(t, srcPath), 2*8*1024*1024)
	require.NoError(t, err)

	require.NoError(t, env.ckpt.RecordProgressPart(ctx, sub.ID, 1))

	require.NoError(t, env.engine.RunMainTask(ctx, main.ID, 1, nil))

	chunks, err := env.catalog.ListChunks(ctx, sub.ContentID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
}

func TestPauseThenResumeCompletesTransfer(t *testing.T) {
	ctx := t.Context()
	env := newTestEnv(t)

	srcDir := t.TempDir()
	srcPath := writeRandomFile(t, srcDir, "big.bin", 2*8*1024*1024)

	main, err := env.ckpt.CreateMainTask(ctx, checkpoint.KindUpload, srcPath, catalog.RootFolderID)
	require.NoError(t, err)

	sub, err := env.ckpt.CreateSubTask(ctx, main.ID, srcPath, "big.bin", catalog.RootFolderID, mustHash(t, srcPath), 2*8*1024*1024)
	require.NoError(t, err)

	// Simulate a pause after part 1 landed: mark the main task paused
	// without running anything further.
	require.NoError(t, env.ckpt.RecordProgressPart(ctx, sub.ID, 1))
	require.NoError(t, env.engine.Pause(ctx, main.ID))

	paused, err := env.ckpt.GetMainTask(ctx, main.ID)
	require.NoError(t, err)
	require.Equal(t, checkpoint.StatusPaused, paused.Status)

	require.NoError(t, env.engine.Resume(ctx, main.ID, 1, nil))

	resumed, err := env.ckpt.GetMainTask(ctx, main.ID)
	require.NoError(t, err)
	require.Equal(t, checkpoint.StatusCompleted, resumed.Status)

	chunks, err := env.catalog.ListChunks(ctx, sub.ContentID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
}

func TestCancelCleansUpArtifacts(t *testing.T) {
	ctx := t.Context()
	env := newTestEnv(t)

	main, err := env.ckpt.CreateMainTask(ctx, checkpoint.KindDownload, "/dst", catalog.RootFolderID)
	require.NoError(t, err)

	artifactDir := t.TempDir()
	artifactPath := filepath.Join(artifactDir, "partial.bin")
	require.NoError(t, os.WriteFile(artifactPath, []byte("partial"), 0o600))
	require.NoError(t, env.ckpt.RecordArtifact(ctx, main.ID, artifactPath))

	require.NoError(t, env.engine.Cancel(ctx, main.ID))
	require.NoError(t, env.engine.CleanupCanceledTask(ctx, main.ID))

	_, err = os.Stat(artifactPath)
	require.True(t, os.IsNotExist(err))

	_, err = env.ckpt.GetMainTask(ctx, main.ID)
	require.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func mustHash(t *testing.T, path string) string {
	t.Helper()

	h, err := vaultcrypto.HashFile(path)
	require.NoError(t, err)

	return h
}
