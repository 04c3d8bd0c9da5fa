package transfer

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/arcbox/vaultfs/internal/catalog"
	"github.com/arcbox/vaultfs/internal/checkpoint"
	"github.com/arcbox/vaultfs/internal/chunkcodec"
)

// downloadSubTask downloads one queued sub-task's content to its local
// path, resuming any parts already written by a prior attempt and
// retrying any single chunk whose AEAD tag fails to verify, since that
// is indistinguishable from transient corruption in transit.
func (e *Engine) downloadSubTask(ctx context.Context, sub *checkpoint.SubTask, mainTaskID string, progress ProgressFunc) error {
	if err := checkCanceled(ctx); err != nil {
		return err
	}

	content, err := e.Catalog.FindContentByHash(ctx, sub.ContentID)
	if err != nil {
		return fmt.Errorf("transfer: content %s for %s no longer exists: %w", sub.ContentID, sub.LocalPath, err)
	}

	chunks, err := e.Catalog.ListChunks(ctx, sub.ContentID)
	if err != nil {
		return err
	}

	if len(chunks) != content.PartCount {
		return fmt.Errorf("transfer: content %s has %d recorded chunks, want %d", sub.ContentID, len(chunks), content.PartCount)
	}

	if err := chunkcodec.PrepareOutput(sub.LocalPath, content.Size); err != nil {
		return err
	}

	if err := e.Checkpoint.RecordArtifact(ctx, mainTaskID, sub.LocalPath); err != nil {
		return err
	}

	if err := e.Checkpoint.UpdateSubTaskStatus(ctx, sub.ID, checkpoint.StatusTransferring); err != nil {
		return err
	}

	completed, err := e.Checkpoint.ListCompletedParts(ctx, sub.ID)
	if err != nil {
		return err
	}

	key, err := deriveKeyForHash(sub.ContentID)
	if err != nil {
		return err
	}

	report := newThrottledProgress(progress)

	for _, chunk := range chunks {
		if completed[chunk.PartNum] {
			continue
		}

		if err := checkCanceled(ctx); err != nil {
			return err
		}

		offset := int64(chunk.PartNum-1) * chunkcodec.ChunkSize

		n, err := e.fetchAndWriteChunkWithRetry(ctx, chunk, sub.LocalPath, key, offset)
		if err != nil {
			return err
		}

		if err := e.Checkpoint.RecordProgressPart(ctx, sub.ID, chunk.PartNum); err != nil {
			return err
		}

		if err := e.Checkpoint.RecordTrafficBytes(ctx, 0, int64(n)); err != nil {
			return err
		}

		report(int64(n))
	}

	return e.Checkpoint.UpdateSubTaskStatus(ctx, sub.ID, checkpoint.StatusCompleted)
}

// fetchAndWriteChunkWithRetry fetches and decrypts one chunk, re-fetching
// up to maxChunkIntegrityRetries times if the AEAD tag does not verify.
// GCM authentication makes any bit flip in transit or at rest detectable,
// so an integrity failure here is always worth one more attempt against
// the channel before it is treated as permanent.
func (e *Engine) fetchAndWriteChunkWithRetry(ctx context.Context, chunk *catalog.Chunk, outputPath string, key []byte, offset int64) (int, error) {
	var lastErr error

	for attempt := 0; attempt < maxChunkIntegrityRetries; attempt++ {
		n, err := e.fetchAndWriteChunk(ctx, chunk, outputPath, key, offset)
		if err == nil {
			return n, nil
		}

		lastErr = err

		if !isIntegrityFailure(err) {
			return 0, err
		}

		e.Logger.Warn("chunk failed integrity check, retrying",
			"content_id", chunk.ContentID, "part", chunk.PartNum, "attempt", attempt+1)
	}

	return 0, fmt.Errorf("transfer: part %d of %s failed integrity check after %d attempts: %w",
		chunk.PartNum, chunk.ContentID, maxChunkIntegrityRetries, lastErr)
}

func (e *Engine) fetchAndWriteChunk(ctx context.Context, chunk *catalog.Chunk, outputPath string, key []byte, offset int64) (int, error) {
	if err := e.chunkSem.Acquire(ctx, 1); err != nil {
		return 0, fmt.Errorf("transfer: acquiring chunk slot: %w", err)
	}
	defer e.chunkSem.Release(1)

	encrypted, err := e.Channel.FetchBlob(ctx, chunk.ChannelID, chunk.MessageID)
	if err != nil {
		return 0, fmt.Errorf("transfer: fetching part %d of %s: %w", chunk.PartNum, chunk.ContentID, err)
	}

	if err := chunkcodec.WriteDecrypted(encrypted, outputPath, key, offset); err != nil {
		return 0, err
	}

	return len(encrypted), nil
}

// QueueFolderDownload creates a main task plus one sub-task per binding
// found recursively under folderID, rooted at destDir, without
// transferring anything. See QueueUpload for why the CLI calls this
// instead of DownloadPath directly.
func (e *Engine) QueueFolderDownload(ctx context.Context, folderID, destDir string) (string, error) {
	main, err := e.Checkpoint.CreateMainTask(ctx, checkpoint.KindDownload, destDir, folderID)
	if err != nil {
		return "", err
	}

	return main.ID, e.queueFolderDownload(ctx, main.ID, folderID, destDir)
}

// DownloadPath downloads every binding under folderID (recursively) into
// destDir, returning the main task id. Callers cancel ctx to pause or
// cancel.
func (e *Engine) DownloadPath(ctx context.Context, folderID, destDir string, fanOut int) (string, error) {
	id, err := e.QueueFolderDownload(ctx, folderID, destDir)
	if err != nil {
		return id, err
	}

	return id, e.RunMainTask(ctx, id, fanOut, nil)
}

// QueueBindingDownload creates a main task and single sub-task for
// bindingID, without transferring anything.
func (e *Engine) QueueBindingDownload(ctx context.Context, bindingID, destPath string) (string, error) {
	binding, err := e.Catalog.GetBinding(ctx, bindingID)
	if err != nil {
		return "", err
	}

	content, err := e.Catalog.FindContentByHash(ctx, binding.ContentID)
	if err != nil {
		return "", err
	}

	main, err := e.Checkpoint.CreateMainTask(ctx, checkpoint.KindDownload, destPath, binding.FolderID)
	if err != nil {
		return "", err
	}

	_, err = e.Checkpoint.CreateSubTask(ctx, main.ID, destPath, binding.Name, binding.FolderID, content.ID, content.Size)

	return main.ID, err
}

// DownloadBinding downloads a single binding to destPath, returning the
// main task id.
func (e *Engine) DownloadBinding(ctx context.Context, bindingID, destPath string) (string, error) {
	id, err := e.QueueBindingDownload(ctx, bindingID, destPath)
	if err != nil {
		return id, err
	}

	return id, e.RunMainTask(ctx, id, 1, nil)
}

// queueFolderDownload creates one sub-task per file transitively under
// folderID, via a single flat catalog.ListRecursive walk rather than
// hand-rolling its own recursive traversal.
func (e *Engine) queueFolderDownload(ctx context.Context, mainTaskID, folderID, destDir string) error {
	entries, err := e.Catalog.ListRecursive(ctx, folderID)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.Type != catalog.RecursiveEntryFile {
			continue
		}

		localPath := filepath.Join(destDir, filepath.FromSlash(entry.RelativePath))
		if _, err := e.Checkpoint.CreateSubTask(ctx, mainTaskID, localPath, entry.Name, entry.ParentID, entry.Hash, entry.Size); err != nil {
			return err
		}
	}

	return nil
}
