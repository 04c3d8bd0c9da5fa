package remoteblob_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcbox/vaultfs/internal/remoteblob"
	"github.com/arcbox/vaultfs/internal/remoteblob/memblob"
)

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	ctx := context.Background()
	inner := memblob.New()
	ch := remoteblob.WithRetry(inner, nil)

	inner.FailNextSendTransient("chan-1|caption|4")

	id, err := ch.SendBlob(ctx, "chan-1", []byte("data"), "caption")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestWithRetryRateLimitDoesNotConsumeBudget(t *testing.T) {
	ctx := context.Background()
	inner := memblob.New()
	ch := remoteblob.WithRetry(inner, nil)

	inner.RateLimitNextSend("chan-1|caption|4", 1*time.Millisecond)

	start := time.Now()
	id, err := ch.SendBlob(ctx, "chan-1", []byte("data"), "caption")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.GreaterOrEqual(t, time.Since(start), 1*time.Millisecond)
}

func TestWithRetryPermanentErrorPassesThrough(t *testing.T) {
	ctx := context.Background()
	inner := memblob.New()
	ch := remoteblob.WithRetry(inner, nil)

	_, err := ch.FetchBlob(ctx, "chan-1", "unknown-id")
	require.Error(t, err)
	assert.True(t, errors.Is(err, remoteblob.ErrNotFound))
}
