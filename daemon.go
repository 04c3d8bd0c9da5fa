package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/arcbox/vaultfs/internal/checkpoint"
	"github.com/arcbox/vaultfs/internal/vaultapp"
)

// runningPIDPath returns the PID file a foreground transfer command
// claims for the lifetime of its run, so a pause/resume/cancel invoked
// from another terminal has something to signal.
func runningPIDPath(dataDir string) string {
	return filepath.Join(dataDir, "vaultfs.pid")
}

// watchForReload claims the PID file and installs a SIGHUP handler that
// reconciles every task this process has registered against its current
// checkpoint status, canceling the in-process context of any task an
// external pause or cancel has since marked paused or canceled. Returns
// a cleanup function; call it when the foreground command finishes.
//
// A command that cannot claim the PID file (another transfer already
// running) still proceeds — pause/cancel for its own tasks then falls
// back to the durable checkpoint write alone, observed on the next
// Resume rather than interrupted mid-flight.
func watchForReload(ctx context.Context, app *vaultapp.App, pidPath string) func() {
	cleanupPID, err := writePIDFile(pidPath)
	if err != nil {
		app.Logger.Debug("not claiming PID file", "error", err)
		cleanupPID = func() {}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)

		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-sigCh:
				reconcileSignaledTasks(ctx, app)
			}
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(stop)
		<-done
		cleanupPID()
	}
}

// reconcileSignaledTasks cancels the in-process context of every
// registered task whose checkpoint status is no longer Transferring —
// an external pause or cancel command already wrote the terminal status
// before sending SIGHUP.
func reconcileSignaledTasks(ctx context.Context, app *vaultapp.App) {
	for _, id := range app.RunningTaskIDs() {
		main, err := app.Checkpoint.GetMainTask(ctx, id)
		if err != nil {
			continue
		}

		if main.Status == checkpoint.StatusPaused || main.Status == checkpoint.StatusCanceled {
			app.CancelRunningTask(id)
		}
	}
}

// notifyRunningProcess best-effort signals a foreground transfer command
// to re-check the task it was just paused or canceled. Silence on
// failure: no daemon running just means the checkpoint write alone is
// the only record, which Resume picks up later.
func notifyRunningProcess(quiet bool, pidPath string) {
	if err := sendSIGHUP(pidPath); err != nil {
		statusf(quiet, "Note: %v — change takes effect once the running transfer checks in\n", err)
	}
}
