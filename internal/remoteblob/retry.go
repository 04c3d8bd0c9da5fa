package remoteblob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	retryBaseDelay   = 1 * time.Second
	retryMaxDelay    = 32 * time.Second
	retryMaxAttempts = 5
	retryJitterPct   = 50
)

// WithRetry wraps inner so every call retries transient failures with
// capped exponential backoff and jitter, while rate-limit failures sleep
// for exactly the backend's authoritative duration and never consume the
// retry budget. Permanent failures (ErrNotFound and anything else that is
// neither ErrRateLimited nor ErrTransient) pass straight through.
func WithRetry(inner Channel, logger *slog.Logger) Channel {
	if logger == nil {
		logger = slog.Default()
	}

	return &retryChannel{inner: inner, logger: logger}
}

type retryChannel struct {
	inner  Channel
	logger *slog.Logger
}

func newBackoff() retry.Backoff {
	b := retry.NewExponential(retryBaseDelay)
	b = retry.WithCappedDuration(retryMaxDelay, b)
	b = retry.WithJitterPercent(retryJitterPct, b)

	return b
}

// call runs fn, retrying as described on WithRetry, and returns fn's
// final result through set once it succeeds or the budget/context is
// exhausted.
func (r *retryChannel) call(ctx context.Context, op string, fn func() error) error {
	b := newBackoff()
	attempt := 0

	for {
		err := fn()
		if err == nil {
			return nil
		}

		var rl *ErrRateLimited
		if errors.As(err, &rl) {
			r.logger.Warn("remoteblob: rate limited, honoring retry-after",
				slog.String("op", op),
				slog.Duration("retry_after", rl.RetryAfter),
			)

			if sleepErr := sleepCtx(ctx, rl.RetryAfter); sleepErr != nil {
				return sleepErr
			}

			continue
		}

		var te *ErrTransient
		if !errors.As(err, &te) {
			return err
		}

		if attempt >= retryMaxAttempts {
			return fmt.Errorf("remoteblob: %s failed after %d attempts: %w", op, attempt, err)
		}

		delay, ok := b.Next()
		if !ok {
			return fmt.Errorf("remoteblob: %s retry budget exhausted: %w", op, err)
		}

		r.logger.Warn("remoteblob: retrying after transient error",
			slog.String("op", op),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", delay),
		)

		if sleepErr := sleepCtx(ctx, delay); sleepErr != nil {
			return sleepErr
		}

		attempt++
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *retryChannel) SendBlob(ctx context.Context, channelID string, data []byte, caption string) (string, error) {
	var id string

	err := r.call(ctx, "SendBlob", func() error {
		var innerErr error
		id, innerErr = r.inner.SendBlob(ctx, channelID, data, caption)
		return innerErr
	})

	return id, err
}

func (r *retryChannel) FetchBlob(ctx context.Context, channelID, messageID string) ([]byte, error) {
	var data []byte

	err := r.call(ctx, "FetchBlob", func() error {
		var innerErr error
		data, innerErr = r.inner.FetchBlob(ctx, channelID, messageID)
		return innerErr
	})

	return data, err
}

func (r *retryChannel) DeleteBlobs(ctx context.Context, channelID string, messageIDs []string) error {
	return r.call(ctx, "DeleteBlobs", func() error {
		return r.inner.DeleteBlobs(ctx, channelID, messageIDs)
	})
}

func (r *retryChannel) SearchByCaption(ctx context.Context, channelID, substr string, limit int) ([]Message, error) {
	var msgs []Message

	err := r.call(ctx, "SearchByCaption", func() error {
		var innerErr error
		msgs, innerErr = r.inner.SearchByCaption(ctx, channelID, substr, limit)
		return innerErr
	})

	return msgs, err
}

func (r *retryChannel) EnsureChannel(ctx context.Context, userIdentity string) (string, error) {
	var channelID string

	err := r.call(ctx, "EnsureChannel", func() error {
		var innerErr error
		channelID, innerErr = r.inner.EnsureChannel(ctx, userIdentity)
		return innerErr
	})

	return channelID, err
}
