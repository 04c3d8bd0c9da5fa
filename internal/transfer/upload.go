package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/arcbox/vaultfs/internal/catalog"
	"github.com/arcbox/vaultfs/internal/checkpoint"
	"github.com/arcbox/vaultfs/internal/chunkcodec"
	"github.com/arcbox/vaultfs/internal/vaultcrypto"
)

// uploadSubTask uploads one queued sub-task's file, deduping against
// existing content and resuming any parts already confirmed by a prior
// attempt. progress is called at most once per progressThrottle with the
// number of plaintext bytes newly sent.
func (e *Engine) uploadSubTask(ctx context.Context, sub *checkpoint.SubTask, progress ProgressFunc) error {
	if err := checkCanceled(ctx); err != nil {
		return err
	}

	hash, err := vaultcrypto.HashFile(sub.LocalPath)
	if err != nil {
		return fmt.Errorf("transfer: hashing %s: %w", sub.LocalPath, err)
	}

	if hash != sub.ContentID {
		return fmt.Errorf("transfer: %s changed on disk since it was queued", sub.LocalPath)
	}

	if _, err := e.Catalog.FindContentByHash(ctx, hash); err == nil {
		// Dedup hit: identical bytes already live remotely under another
		// binding, so no chunk traffic is needed at all.
		return e.finalizeUpload(ctx, sub)
	}

	if err := e.Checkpoint.UpdateSubTaskStatus(ctx, sub.ID, checkpoint.StatusTransferring); err != nil {
		return err
	}

	completed, err := e.Checkpoint.ListCompletedParts(ctx, sub.ID)
	if err != nil {
		return err
	}

	key, err := deriveKeyForHash(hash)
	if err != nil {
		return err
	}

	parts, errCh := chunkcodec.StreamChunks(sub.LocalPath, key, completed)
	report := newThrottledProgress(progress)

	for part := range parts {
		if err := checkCanceled(ctx); err != nil {
			return err
		}

		if err := e.sendChunk(ctx, hash, part); err != nil {
			return err
		}

		if err := e.Checkpoint.RecordProgressPart(ctx, sub.ID, part.PartNum); err != nil {
			return err
		}

		if err := e.Checkpoint.RecordTrafficBytes(ctx, int64(len(part.EncryptedData)), 0); err != nil {
			return err
		}

		report(int64(len(part.EncryptedData)))
	}

	if err := <-errCh; err != nil {
		return fmt.Errorf("transfer: streaming %s: %w", sub.LocalPath, err)
	}

	return e.finalizeUpload(ctx, sub)
}

// sendChunk acquires the engine's chunk semaphore and sends one encrypted
// part, recording its remote location in the catalog.
func (e *Engine) sendChunk(ctx context.Context, contentHash string, part chunkcodec.Part) error {
	if err := e.chunkSem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("transfer: acquiring chunk slot: %w", err)
	}
	defer e.chunkSem.Release(1)

	caption := fmt.Sprintf("#vaultfs_chunk content:%s part:%d", contentHash, part.PartNum)

	messageID, err := e.Channel.SendBlob(ctx, e.ChannelID, part.EncryptedData, caption)
	if err != nil {
		return fmt.Errorf("transfer: sending part %d of %s: %w", part.PartNum, contentHash, err)
	}

	return e.Catalog.RecordChunk(ctx, contentHash, part.PartNum, e.ChannelID, messageID)
}

// finalizeUpload records the binding (and, transitively, the FileContent
// row, via catalog.CreateBinding's own dedup-aware insert) once every
// part has landed, then marks the sub-task complete.
func (e *Engine) finalizeUpload(ctx context.Context, sub *checkpoint.SubTask) error {
	partCount := chunkcodec.PartCount(sub.Size)

	if _, err := e.Catalog.CreateBinding(ctx, sub.FolderID, sub.RemoteName, sub.ContentID, sub.Size, partCount); err != nil {
		return fmt.Errorf("transfer: creating binding for %s: %w", sub.LocalPath, err)
	}

	return e.Checkpoint.UpdateSubTaskStatus(ctx, sub.ID, checkpoint.StatusCompleted)
}

// QueueUpload walks localPath (a file or a directory tree), creates the
// remote folder structure, and records a main task plus one sub-task per
// file — without transferring anything. Callers that want to observe or
// cancel the run before it starts (the CLI registers the returned id in
// its active-task table) call RunMainTask separately; UploadPath does
// both steps for callers that don't need that window.
func (e *Engine) QueueUpload(ctx context.Context, localPath, destFolderID string) (string, error) {
	main, err := e.Checkpoint.CreateMainTask(ctx, checkpoint.KindUpload, localPath, destFolderID)
	if err != nil {
		return "", err
	}

	files, err := walkUploadFiles(localPath)
	if err != nil {
		return main.ID, err
	}

	for _, f := range files {
		hash, err := vaultcrypto.HashFile(f.absPath)
		if err != nil {
			return main.ID, fmt.Errorf("transfer: hashing %s: %w", f.absPath, err)
		}

		folderID, err := e.ensureRemoteFolder(ctx, destFolderID, f.relDir)
		if err != nil {
			return main.ID, err
		}

		if _, err := e.Checkpoint.CreateSubTask(ctx, main.ID, f.absPath, filepath.Base(f.absPath), folderID, hash, f.size); err != nil {
			return main.ID, err
		}
	}

	return main.ID, nil
}

// UploadPath queues and runs an upload of localPath (a file or a
// directory tree) into destFolderID, returning the main task id. Callers
// cancel ctx to pause or cancel; checkpoint.Task reflects final status.
func (e *Engine) UploadPath(ctx context.Context, localPath, destFolderID string, fanOut int) (string, error) {
	id, err := e.QueueUpload(ctx, localPath, destFolderID)
	if err != nil {
		return id, err
	}

	return id, e.RunMainTask(ctx, id, fanOut, nil)
}

type uploadFile struct {
	absPath string
	relDir  string
	size    int64
}

// walkUploadFiles lists every regular file under root (root itself, if
// root is a plain file). relDir is root-relative and slash-separated,
// mirroring the folder path the file will be created under remotely.
func walkUploadFiles(root string) ([]uploadFile, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("transfer: stat %s: %w", root, err)
	}

	if !info.IsDir() {
		return []uploadFile{{absPath: root, relDir: "", size: info.Size()}}, nil
	}

	var files []uploadFile

	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("transfer: computing relative path of %s: %w", path, err)
		}

		fi, err := d.Info()
		if err != nil {
			return fmt.Errorf("transfer: stat %s: %w", path, err)
		}

		files = append(files, uploadFile{absPath: path, relDir: filepath.Dir(rel), size: fi.Size()})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("transfer: walking %s: %w", root, err)
	}

	return files, nil
}

// ensureRemoteFolder walks relDir (slash-separated, relative to the
// upload root) creating any missing catalog folders under rootFolderID,
// returning the leaf folder's id.
func (e *Engine) ensureRemoteFolder(ctx context.Context, rootFolderID, relDir string) (string, error) {
	if relDir == "" || relDir == "." {
		return rootFolderID, nil
	}

	current := rootFolderID

	for _, piece := range splitSlash(filepath.ToSlash(relDir)) {
		folderID, err := e.childOrCreate(ctx, current, piece)
		if err != nil {
			return "", err
		}

		current = folderID
	}

	return current, nil
}

func (e *Engine) childOrCreate(ctx context.Context, parentID, name string) (string, error) {
	children, err := e.Catalog.ListChildFolders(ctx, parentID)
	if err != nil {
		return "", err
	}

	for _, c := range children {
		if c.Name == name {
			return c.ID, nil
		}
	}

	created, err := e.Catalog.CreateFolder(ctx, parentID, name)
	if err != nil {
		if errors.Is(err, catalog.ErrAlreadyExists) {
			// Lost a race against a concurrent fan-out worker creating the
			// same folder; re-read and use whatever won.
			children, listErr := e.Catalog.ListChildFolders(ctx, parentID)
			if listErr != nil {
				return "", listErr
			}

			for _, c := range children {
				if c.Name == name {
					return c.ID, nil
				}
			}
		}

		return "", err
	}

	return created.ID, nil
}

func splitSlash(s string) []string {
	var parts []string

	start := 0

	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			if i > start {
				parts = append(parts, s[start:i])
			}

			start = i + 1
		}
	}

	if start < len(s) {
		parts = append(parts, s[start:])
	}

	return parts
}
