// Package httpchannel is a remoteblob.Channel backed by a plain HTTP blob
// API: the caller supplies a base URL and bearer credential, and each
// Channel method becomes one request. It performs no retries of its own —
// every failure is classified into a remoteblob sentinel/error type and
// left for remoteblob.WithRetry to handle.
package httpchannel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/arcbox/vaultfs/internal/remoteblob"
)

const userAgent = "vaultfs/0.1"

// Client is an HTTP-backed remoteblob.Channel.
type Client struct {
	baseURL    string
	credential string
	httpClient *http.Client
	logger     *slog.Logger
}

// New builds a Client. baseURL must not have a trailing slash.
// credential is sent as a bearer token on every request.
func New(baseURL, credential string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    baseURL,
		credential: credential,
		httpClient: httpClient,
		logger:     logger,
	}
}

var _ remoteblob.Channel = (*Client)(nil)

type sendResponse struct {
	ID string `json:"id"`
}

func (c *Client) SendBlob(ctx context.Context, channelID string, data []byte, caption string) (string, error) {
	path := fmt.Sprintf("/channels/%s/messages", url.PathEscape(channelID))

	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(data))
	if err != nil {
		return "", err
	}

	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Blob-Caption", caption)

	resp, err := c.do(ctx, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("httpchannel: decoding send response: %w", err)
	}

	return out.ID, nil
}

func (c *Client) FetchBlob(ctx context.Context, channelID, messageID string) ([]byte, error) {
	path := fmt.Sprintf("/channels/%s/messages/%s", url.PathEscape(channelID), url.PathEscape(messageID))

	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpchannel: reading blob body: %w", err)
	}

	return data, nil
}

type deleteRequest struct {
	IDs []string `json:"ids"`
}

func (c *Client) DeleteBlobs(ctx context.Context, channelID string, messageIDs []string) error {
	if len(messageIDs) > remoteblob.MaxDeleteBatch {
		return fmt.Errorf("httpchannel: DeleteBlobs called with %d ids, max %d per call", len(messageIDs), remoteblob.MaxDeleteBatch)
	}

	path := fmt.Sprintf("/channels/%s/messages/delete", url.PathEscape(channelID))

	body, err := json.Marshal(deleteRequest{IDs: messageIDs})
	if err != nil {
		return fmt.Errorf("httpchannel: encoding delete request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return nil
}

type searchResponse struct {
	Messages []remoteblob.Message `json:"messages"`
}

func (c *Client) SearchByCaption(ctx context.Context, channelID, substr string, limit int) ([]remoteblob.Message, error) {
	path := fmt.Sprintf("/channels/%s/messages?caption_contains=%s&limit=%d",
		url.PathEscape(channelID), url.QueryEscape(substr), limit)

	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("httpchannel: decoding search response: %w", err)
	}

	return out.Messages, nil
}

type ensureRequest struct {
	UserIdentity string `json:"user_identity"`
}

type ensureResponse struct {
	ChannelID string `json:"channel_id"`
}

func (c *Client) EnsureChannel(ctx context.Context, userIdentity string) (string, error) {
	body, err := json.Marshal(ensureRequest{UserIdentity: userIdentity})
	if err != nil {
		return "", fmt.Errorf("httpchannel: encoding ensure request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/channels/ensure", bytes.NewReader(body))
	if err != nil {
		return "", err
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(ctx, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out ensureResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("httpchannel: decoding ensure response: %w", err)
	}

	return out.ChannelID, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("httpchannel: creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.credential)
	req.Header.Set("User-Agent", userAgent)

	return req, nil
}

// do executes req once and classifies any failure into a remoteblob error
// type. Callers must close the returned response body on success.
func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("httpchannel: request canceled: %w", ctx.Err())
		}

		c.logger.Debug("httpchannel: request failed",
			slog.String("method", req.Method),
			slog.String("url", req.URL.String()),
			slog.String("error", err.Error()),
		)

		return nil, &remoteblob.ErrTransient{Cause: err}
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return resp, nil
	}

	errBody, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()

	if readErr != nil {
		errBody = []byte("(failed to read response body)")
	}

	return nil, classifyStatus(resp.StatusCode, resp.Header, errBody)
}

func classifyStatus(code int, header http.Header, body []byte) error {
	switch {
	case code == http.StatusNotFound:
		return remoteblob.ErrNotFound
	case code == http.StatusTooManyRequests:
		return &remoteblob.ErrRateLimited{RetryAfter: retryAfter(header)}
	case code == http.StatusRequestTimeout,
		code == http.StatusBadGateway,
		code == http.StatusServiceUnavailable,
		code == http.StatusGatewayTimeout,
		code >= http.StatusInternalServerError:
		return &remoteblob.ErrTransient{Cause: fmt.Errorf("httpchannel: HTTP %d: %s", code, string(body))}
	default:
		return fmt.Errorf("httpchannel: HTTP %d: %s", code, string(body))
	}
}

const defaultRetryAfter = 5 * time.Second

func retryAfter(header http.Header) time.Duration {
	raw := header.Get("Retry-After")
	if raw == "" {
		return defaultRetryAfter
	}

	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		return defaultRetryAfter
	}

	return time.Duration(seconds) * time.Second
}
