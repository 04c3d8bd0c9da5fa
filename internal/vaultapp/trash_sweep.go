package vaultapp

import (
	"context"
	"time"

	"github.com/arcbox/vaultfs/internal/catalog"
)

// runTrashSweeper runs an immediate expiry sweep and then one every
// interval until ctx is canceled (by Close). There is no persistent
// vaultfs daemon — every CLI command is one-shot — so this goroutine is
// the periodic sweeper spec'd for the trash's normal 30-day retention
// window: it lives exactly as long as whichever command started it,
// which is enough to catch up on a backlog of expired records whenever
// a long-running command (a transfer, a watch loop) happens to be up,
// and the immediate first pass covers the common case of a short-lived
// command too.
func (a *App) runTrashSweeper(ctx context.Context, interval time.Duration) {
	a.sweepExpiredTrash(ctx)

	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sweepExpiredTrash(ctx)
		}
	}
}

func (a *App) sweepExpiredTrash(ctx context.Context) {
	records, err := a.Catalog.ExpiredTrash(ctx, time.Now().UnixNano())
	if err != nil {
		a.Logger.Error("listing expired trash", "error", err)
		return
	}

	for _, r := range records {
		if err := a.purgeExpiredTrashRecord(ctx, r); err != nil {
			a.Logger.Error("purging expired trash record", "trash_id", r.ID, "error", err)
		}
	}

	if len(records) > 0 {
		a.Logger.Info("swept expired trash", "count", len(records))
	}
}

func (a *App) purgeExpiredTrashRecord(ctx context.Context, r *catalog.TrashRecord) error {
	var (
		messageIDs []string
		err        error
	)

	if r.IsFolder {
		messageIDs, err = a.Catalog.DeleteFolder(ctx, r.ItemID)
	} else {
		messageIDs, err = a.Catalog.DeleteBinding(ctx, r.ItemID)
	}

	if err != nil {
		return err
	}

	if len(messageIDs) > 0 {
		if err := a.Channel.DeleteBlobs(ctx, a.ChannelID, messageIDs); err != nil {
			return err
		}
	}

	return a.Catalog.PurgeTrash(ctx, r.ID)
}
