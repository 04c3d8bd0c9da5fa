// Package transfer implements upload and download of catalog-bound files
// over a remoteblob.Channel, backed by internal/checkpoint for resumable
// progress and internal/catalog for the resulting metadata.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/arcbox/vaultfs/internal/catalog"
	"github.com/arcbox/vaultfs/internal/checkpoint"
	"github.com/arcbox/vaultfs/internal/remoteblob"
	"github.com/arcbox/vaultfs/internal/vaultcrypto"
)

// maxChunkIntegrityRetries bounds how many times a single chunk is
// re-fetched after an AEAD authentication failure before the sub-task is
// failed outright. A tampered or corrupted chunk that keeps failing past
// this many attempts is treated as permanent, not transient.
const maxChunkIntegrityRetries = 3

// progressThrottle is the minimum interval between progress callbacks
// during a single sub-task's transfer.
const progressThrottle = 30 * time.Millisecond

// ErrCanceled is returned when ctx is canceled mid-transfer. Callers
// distinguish pause from cancel by the checkpoint status they set before
// canceling ctx: StatusPaused is resumable, StatusCanceled triggers
// artifact cleanup.
var ErrCanceled = errors.New("transfer: canceled")

// ProgressFunc receives incremental byte counts as a transfer proceeds.
type ProgressFunc func(sentOrReceived int64)

// Engine coordinates chunked, encrypted transfers between the local
// filesystem and a remote blob channel, recording catalog and checkpoint
// state as it goes.
type Engine struct {
	Catalog    *catalog.Store
	Checkpoint *checkpoint.Store
	Channel    remoteblob.Channel
	ChannelID  string
	Logger     *slog.Logger

	chunkSem *semaphore.Weighted
}

// NewEngine builds an Engine. maxConcurrentChunks bounds how many chunk
// uploads/downloads run at once across all tasks sharing this Engine.
func NewEngine(cat *catalog.Store, ckpt *checkpoint.Store, ch remoteblob.Channel, channelID string, maxConcurrentChunks int64, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		Catalog:    cat,
		Checkpoint: ckpt,
		Channel:    ch,
		ChannelID:  channelID,
		Logger:     logger,
		chunkSem:   semaphore.NewWeighted(maxConcurrentChunks),
	}
}

func checkCanceled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCanceled, err)
	}

	return nil
}

func deriveKeyForHash(hash string) ([]byte, error) {
	key, err := vaultcrypto.DeriveFileKey(hash)
	if err != nil {
		return nil, fmt.Errorf("transfer: deriving file key for %s: %w", hash, err)
	}

	return key, nil
}

func isIntegrityFailure(err error) bool {
	return errors.Is(err, vaultcrypto.ErrAuthenticationFailed) || errors.Is(err, vaultcrypto.ErrMalformedBlob)
}
