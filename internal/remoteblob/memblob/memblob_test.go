package memblob_test

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

func TestSendFetchRoundTrip(t *testing.T) {
	ctx := context.Background()
	ch := memblob.New()

	id, err := ch.SendBlob(ctx, "chan-1", []byte("hello"), "caption")
	require.NoError(t, err)

	got, err := ch.FetchBlob(ctx, "chan-1", id)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func TestFetchUnknownMessageNotFound(t *testing.T) {
	ctx := context.Background()
	ch := memblob.New()

	_, err := ch.FetchBlob(ctx, "chan-1", "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, remoteblob.ErrNotFound))
}

func TestDeleteBlobs(t *testing.T) {
	ctx := context.Background()
	ch := memblob.New()

	id, err := ch.SendBlob(ctx, "chan-1", []byte("data"), "c")
	require.NoError(t, err)

	require.NoError(t, ch.DeleteBlobs(ctx, "chan-1", []string{id}))

	_, err = ch.FetchBlob(ctx, "chan-1", id)
	assert.True(t, errors.Is(err, remoteblob.ErrNotFound))
}

func TestSearchByCaption(t *testing.T) {
	ctx := context.Background()
	ch := memblob.New()

	_, err := ch.SendBlob(ctx, "chan-1", []byte("a"), "#catalogue_backup db_version:1")
	require.NoError(t, err)
	_, err = ch.SendBlob(ctx, "chan-1", []byte("b"), "unrelated")
	require.NoError(t, err)

	results, err := ch.SearchByCaption(ctx, "chan-1", "catalogue_backup", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "#catalogue_backup db_version:1", results[0].Caption)
}

func TestEnsureChannelIdempotent(t *testing.T) {
	ctx := context.Background()
	ch := memblob.New()

	a, err := ch.EnsureChannel(ctx, "alice")
	require.NoError(t, err)
	b, err := ch.EnsureChannel(ctx, "alice")
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestTamperNextFetchFiresOnce(t *testing.T) {
	ctx := context.Background()
	ch := memblob.New()

	id, err := ch.SendBlob(ctx, "chan-1", []byte("encrypted-looking-bytes"), "c")
	require.NoError(t, err)

	ch.TamperNextFetch(id)

	tampered, err := ch.FetchBlob(ctx, "chan-1", id)
	require.NoError(t, err)
	assert.NotEqual(t, []byte("encrypted-looking-bytes"), tampered)

	clean, err := ch.FetchBlob(ctx, "chan-1", id)
	require.NoError(t, err)
	assert.Equal(t, []byte("encrypted-looking-bytes"), clean)
}

func TestRateLimitNextSendFiresOnce(t *testing.T) {
	ctx := context.Background()
	ch := memblob.New()

	key := "rate-key"
	ch.RateLimitNextSend("chan-1|caption|4", 2*time.Second)

	_, err := ch.SendBlob(ctx, "chan-1", []byte("data"), "caption")
	require.Error(t, err)

	var rl *remoteblob.ErrRateLimited
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 2*time.Second, rl.RetryAfter)

	_, err = ch.SendBlob(ctx, "chan-1", []byte("data"), "caption")
	require.NoError(t, err)

	_ = key
}

func TestFailNextSendTransientFiresOnce(t *testing.T) {
	ctx := context.Background()
	ch := memblob.New()

	ch.FailNextSendTransient("chan-1|caption|4")

	_, err := ch.SendBlob(ctx, "chan-1", []byte("data"), "caption")
	require.Error(t, err)

	var te *remoteblob.ErrTransient
	require.ErrorAs(t, err, &te)

	_, err = ch.SendBlob(ctx, "chan-1", []byte("data"), "caption")
	require.NoError(t, err)
}
