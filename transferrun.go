package main

import (
	"context"
	"fmt"
	"os"

	"github.com/arcbox/vaultfs/internal/transfer"
	"github.com/arcbox/vaultfs/internal/vaultapp"
)

// runTrackedTransfer registers mainTaskID in app's active-task table so a
// concurrent pause/cancel (and a SIGHUP from another process, via
// watchForReload) can reach it, prints throttled progress to stderr
// unless quiet, runs fn with a context tied to the registered cancel
// func, and unregisters on return.
func runTrackedTransfer(ctx context.Context, app *vaultapp.App, quiet bool, mainTaskID string, fn func(runCtx context.Context, progress transfer.ProgressFunc) error) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	progress := app.RegisterTask(mainTaskID, cancel)
	defer app.UnregisterTask(mainTaskID)

	sub, _ := app.Subscribe(mainTaskID)

	if !quiet {
		redraw := stderrIsTerminal()

		done := make(chan struct{})

		go func() {
			defer close(done)

			var total int64

			for n := range sub {
				total += n

				if redraw {
					fmt.Fprintf(os.Stderr, "\r%s transferred", formatSize(total))
				} else {
					fmt.Fprintf(os.Stderr, "%s transferred\n", formatSize(total))
				}
			}

			if redraw && total > 0 {
				fmt.Fprintln(os.Stderr)
			}
		}()

		defer func() { <-done }()
	}

	return fn(runCtx, transfer.ProgressFunc(progress))
}
