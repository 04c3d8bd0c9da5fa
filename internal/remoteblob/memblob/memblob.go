// Package memblob is an in-memory remoteblob.Channel used by tests. It
// supports fault injection (tamper-once, rate-limit-once, transient-error-
// once per message id) so the transfer engine's retry and integrity-check
// paths can be exercised without a real messaging backend.
package memblob

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arcbox/vaultfs/internal/remoteblob"
)

type storedMessage struct {
	data    []byte
	caption string
}

// Channel is a fault-injectable, in-memory implementation of
// remoteblob.Channel.
type Channel struct {
	mu       sync.Mutex
	messages map[string]map[string]*storedMessage // channelID -> messageID -> message
	channels map[string]string                    // userIdentity -> channelID

	// Fault injection, keyed by messageID (for fetch) or a caller-chosen
	// key (for send). Each entry fires once and is then removed.
	tamperOnce      map[string]bool
	rateLimitOnce   map[string]time.Duration
	transientOnce   map[string]bool
}

// New creates an empty in-memory channel.
func New() *Channel {
	return &Channel{
		messages:      make(map[string]map[string]*storedMessage),
		channels:      make(map[string]string),
		tamperOnce:    make(map[string]bool),
		rateLimitOnce: make(map[string]time.Duration),
		transientOnce: make(map[string]bool),
	}
}

// TamperNextFetch causes the next FetchBlob of messageID to return
// single-bit-flipped data exactly once.
func (c *Channel) TamperNextFetch(messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tamperOnce[messageID] = true
}

// RateLimitNextSend causes the next SendBlob for the given idempotency
// key to fail with ErrRateLimited exactly once.
func (c *Channel) RateLimitNextSend(key string, after time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rateLimitOnce[key] = after
}

// FailNextSendTransient causes the next SendBlob for the given
// idempotency key to fail with ErrTransient exactly once.
func (c *Channel) FailNextSendTransient(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.transientOnce[key] = true
}

func (c *Channel) SendBlob(_ context.Context, channelID string, data []byte, caption string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := sendKey(channelID, caption, len(data))

	if c.rateLimitOnce[key] > 0 {
		after := c.rateLimitOnce[key]
		delete(c.rateLimitOnce, key)

		return "", &remoteblob.ErrRateLimited{RetryAfter: after}
	}

	if c.transientOnce[key] {
		delete(c.transientOnce, key)

		return "", &remoteblob.ErrTransient{Cause: fmt.Errorf("memblob: injected transient failure")}
	}

	if _, ok := c.messages[channelID]; !ok {
		c.messages[channelID] = make(map[string]*storedMessage)
	}

	id := uuid.NewString()

	cp := make([]byte, len(data))
	copy(cp, data)
	c.messages[channelID][id] = &storedMessage{data: cp, caption: caption}

	return id, nil
}

func (c *Channel) FetchBlob(_ context.Context, channelID, messageID string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs, ok := c.messages[channelID]
	if !ok {
		return nil, remoteblob.ErrNotFound
	}

	msg, ok := msgs[messageID]
	if !ok {
		return nil, remoteblob.ErrNotFound
	}

	data := make([]byte, len(msg.data))
	copy(data, msg.data)

	if c.tamperOnce[messageID] {
		delete(c.tamperOnce, messageID)
		data[len(data)-1] ^= 0xFF
	}

	return data, nil
}

func (c *Channel) DeleteBlobs(_ context.Context, channelID string, messageIDs []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs, ok := c.messages[channelID]
	if !ok {
		return nil
	}

	for _, id := range messageIDs {
		delete(msgs, id)
	}

	return nil
}

func (c *Channel) SearchByCaption(_ context.Context, channelID, substr string, limit int) ([]remoteblob.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs, ok := c.messages[channelID]
	if !ok {
		return nil, nil
	}

	var results []remoteblob.Message

	for id, msg := range msgs {
		if strings.Contains(msg.caption, substr) {
			results = append(results, remoteblob.Message{ID: id, Caption: msg.caption, Size: int64(len(msg.data))})
		}
	}

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	return results, nil
}

func (c *Channel) EnsureChannel(_ context.Context, userIdentity string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id, ok := c.channels[userIdentity]; ok {
		return id, nil
	}

	id := "chan-" + uuid.NewString()
	c.channels[userIdentity] = id
	c.messages[id] = make(map[string]*storedMessage)

	return id, nil
}

func sendKey(channelID, caption string, size int) string {
	return channelID + "|" + caption + "|" + strconv.Itoa(size)
}
