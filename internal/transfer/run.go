package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/arcbox/vaultfs/internal/checkpoint"
)

// RunMainTask runs every queued sub-task of mainTaskID with up to fanOut
// running concurrently, transitioning the main task through
// Transferring to Completed or Failed. If ctx is canceled mid-run, the
// main task is left in whatever status the caller set on it beforehand
// (StatusPaused for pause, StatusCanceled for cancel); cancellation
// triggers artifact cleanup only when the task is Canceled.
//
// progress, if non-nil, receives the running total of bytes transferred
// across all sub-tasks in this run.
func (e *Engine) RunMainTask(ctx context.Context, mainTaskID string, fanOut int, progress ProgressFunc) error {
	if fanOut < 1 {
		fanOut = 1
	}

	if err := e.Checkpoint.UpdateMainTaskStatus(ctx, mainTaskID, checkpoint.StatusTransferring); err != nil {
		return err
	}

	task, err := e.Checkpoint.ReadTask(ctx, mainTaskID)
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(fanOut)

	for _, sp := range task.SubTasks {
		sub := sp.SubTask

		if sub.Status == checkpoint.StatusCompleted {
			continue
		}

		group.Go(func() error {
			if task.Main.Kind == checkpoint.KindUpload {
				return e.uploadSubTask(groupCtx, sub, progress)
			}

			return e.downloadSubTask(groupCtx, sub, mainTaskID, progress)
		})
	}

	runErr := group.Wait()

	if runErr != nil {
		return e.finishMainTask(ctx, mainTaskID, runErr)
	}

	if err := e.Checkpoint.FlushTraffic(ctx); err != nil {
		return err
	}

	return e.Checkpoint.UpdateMainTaskStatus(ctx, mainTaskID, checkpoint.StatusCompleted)
}

// finishMainTask decides the main task's terminal status after a run
// stopped early. A canceled ctx means the caller already recorded
// whether this was a pause or a cancel (via UpdateMainTaskStatus before
// canceling); any other error means a genuine failure.
func (e *Engine) finishMainTask(ctx context.Context, mainTaskID string, runErr error) error {
	if errors.Is(runErr, ErrCanceled) || errors.Is(runErr, context.Canceled) {
		current, err := e.Checkpoint.GetMainTask(context.WithoutCancel(ctx), mainTaskID)
		if err != nil {
			return err
		}

		if current.Status == checkpoint.StatusCanceled {
			return e.CleanupCanceledTask(context.WithoutCancel(ctx), mainTaskID)
		}

		// Paused (or any other status the caller already set): leave the
		// sub-task progress in place for a later Resume.
		return nil
	}

	if err := e.Checkpoint.UpdateMainTaskStatus(context.WithoutCancel(ctx), mainTaskID, checkpoint.StatusFailed); err != nil {
		return fmt.Errorf("transfer: recording failure of %s after %w: %w", mainTaskID, runErr, err)
	}

	return runErr
}

// Pause marks mainTaskID StatusPaused and cancels runCtx via the caller's
// cancel func; call this before canceling the context the run is bound
// to, so RunMainTask observes StatusPaused rather than StatusCanceled
// when it unwinds.
func (e *Engine) Pause(ctx context.Context, mainTaskID string) error {
	return e.Checkpoint.UpdateMainTaskStatus(ctx, mainTaskID, checkpoint.StatusPaused)
}

// Resume restarts a paused or queued main task from its recorded
// progress.
func (e *Engine) Resume(ctx context.Context, mainTaskID string, fanOut int, progress ProgressFunc) error {
	return e.RunMainTask(ctx, mainTaskID, fanOut, progress)
}

// Cancel marks mainTaskID StatusCanceled; call before canceling the run's
// context. Once the run unwinds, RunMainTask itself invokes
// CleanupCanceledTask.
func (e *Engine) Cancel(ctx context.Context, mainTaskID string) error {
	return e.Checkpoint.UpdateMainTaskStatus(ctx, mainTaskID, checkpoint.StatusCanceled)
}

// CleanupCanceledTask removes every filesystem artifact RecordArtifact
// noted for mainTaskID (partially downloaded files, created directories)
// and then deletes the task's checkpoint rows entirely, since a canceled
// task is not resumable.
func (e *Engine) CleanupCanceledTask(ctx context.Context, mainTaskID string) error {
	artifacts, err := e.Checkpoint.ListArtifacts(ctx, mainTaskID)
	if err != nil {
		return err
	}

	for _, path := range artifacts {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			e.Logger.Warn("cleaning up canceled artifact", "path", path, "error", err)
		}
	}

	return e.Checkpoint.RemoveTask(ctx, mainTaskID)
}
