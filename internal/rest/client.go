// Package rest is the request/response surface of the queue backend: the
// fallback and cross-check source feeding the same reconciler as the
// broker, plus the mutations that are not broadcast triggers.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/queueless/queuewatch/internal/queue"
)

// CredentialSource supplies the bearer credential per request.
type CredentialSource interface {
	Credential() string
}

// Client talks to the queue backend's REST surface. Transport-level
// failures and 5xx responses are retried with exponential backoff;
// business errors (4xx) are returned immediately as typed sentinels.
type Client struct {
	httpClient *http.Client
	baseURL    string
	creds      CredentialSource
	limiter    *rate.Limiter
	retryCount int
	retryDelay time.Duration
	logger     *zap.Logger
}

// TokenDetailsRequest is the payload for add-token-with-details.
type TokenDetailsRequest struct {
	UserID         string            `json:"userId"`
	Purpose        string            `json:"purpose,omitempty"`
	Condition      string            `json:"condition,omitempty"`
	Notes          string            `json:"notes,omitempty"`
	DetailsVisible bool              `json:"detailsVisible"`
	CustomFields   map[string]string `json:"customFields,omitempty"`
}

// NewClient creates a REST client.
func NewClient(baseURL string, creds CredentialSource, ratePerSec int, timeout, retryDelay time.Duration, retryCount int, logger *zap.Logger) *Client {
	transport := &http.Transport{
		MaxIdleConns:    100,
		MaxConnsPerHost: 10,
		IdleConnTimeout: 90 * time.Second,
	}
	if ratePerSec < 1 {
		ratePerSec = 1
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		baseURL:    baseURL,
		creds:      creds,
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec*2),
		retryCount: retryCount,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

// GetQueue fetches the current snapshot of a queue.
func (c *Client) GetQueue(ctx context.Context, id string) (*queue.Queue, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/queues/"+id, nil)
	if err != nil {
		return nil, err
	}
	return queue.Decode(body)
}

// ListQueues fetches every visible queue.
func (c *Client) ListQueues(ctx context.Context) ([]*queue.Queue, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/queues/all", nil)
	if err != nil {
		return nil, err
	}
	return queue.DecodeList(body)
}

// Activate resumes a paused queue and returns the updated snapshot.
func (c *Client) Activate(ctx context.Context, id string) (*queue.Queue, error) {
	body, err := c.do(ctx, http.MethodPut, "/api/queues/"+id+"/activate", nil)
	if err != nil {
		return nil, err
	}
	return queue.Decode(body)
}

// Deactivate pauses a queue and returns the updated snapshot.
func (c *Client) Deactivate(ctx context.Context, id string) (*queue.Queue, error) {
	body, err := c.do(ctx, http.MethodPut, "/api/queues/"+id+"/deactivate", nil)
	if err != nil {
		return nil, err
	}
	return queue.Decode(body)
}

// AddToken joins the queue as userID and returns the new token.
func (c *Client) AddToken(ctx context.Context, queueID, userID string) (*queue.Token, error) {
	body, err := c.do(ctx, http.MethodPost, "/api/queues/"+queueID+"/add-token",
		map[string]string{"userId": userID})
	if err != nil {
		return nil, err
	}
	return queue.DecodeToken(body)
}

// AddGroupToken joins the queue with a group token.
func (c *Client) AddGroupToken(ctx context.Context, queueID, userID string, members []queue.GroupMember) (*queue.Token, error) {
	body, err := c.do(ctx, http.MethodPost, "/api/queues/"+queueID+"/add-group-token",
		map[string]any{"userId": userID, "groupMembers": members})
	if err != nil {
		return nil, err
	}
	return queue.DecodeToken(body)
}

// AddEmergencyToken joins the queue with an emergency token.
func (c *Client) AddEmergencyToken(ctx context.Context, queueID, userID, details string) (*queue.Token, error) {
	body, err := c.do(ctx, http.MethodPost, "/api/queues/"+queueID+"/add-emergency-token",
		map[string]string{"userId": userID, "emergencyDetails": details})
	if err != nil {
		return nil, err
	}
	return queue.DecodeToken(body)
}

// AddTokenWithDetails joins the queue attaching a details block.
func (c *Client) AddTokenWithDetails(ctx context.Context, queueID string, req TokenDetailsRequest) (*queue.Token, error) {
	body, err := c.do(ctx, http.MethodPost, "/api/queues/"+queueID+"/add-token-with-details", req)
	if err != nil {
		return nil, err
	}
	return queue.DecodeToken(body)
}

// CancelToken removes a WAITING token from the queue.
func (c *Client) CancelToken(ctx context.Context, queueID, tokenID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/queues/"+queueID+"/cancel-token/"+tokenID, nil)
	return err
}

// CompleteToken completes the token currently in service.
func (c *Client) CompleteToken(ctx context.Context, queueID, tokenID string) error {
	_, err := c.do(ctx, http.MethodPost, "/api/queues/"+queueID+"/complete-token",
		map[string]string{"tokenId": tokenID})
	return err
}

// Reorder submits the full desired token ordering and returns the updated
// snapshot. The backend validates the list and becomes the new source of
// truth.
func (c *Client) Reorder(ctx context.Context, queueID string, tokens []queue.Token) (*queue.Queue, error) {
	body, err := c.do(ctx, http.MethodPut, "/api/queues/"+queueID+"/reorder", tokens)
	if err != nil {
		return nil, err
	}
	return queue.Decode(body)
}

// do executes one request with auth, rate limiting and bounded retries on
// server errors. 4xx statuses map to typed sentinels and are never retried.
func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var encoded []byte
	if payload != nil {
		var err error
		if encoded, err = json.Marshal(payload); err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
	}

	url := c.baseURL + path
	c.logger.Debug("rest request", zap.String("method", method), zap.String("url", url))

	var lastErr error
	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<(attempt-1)) // Exponential backoff
			c.logger.Debug("retrying request", zap.Int("attempt", attempt), zap.Duration("delay", delay))

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		var reqBody io.Reader
		if encoded != nil {
			reqBody = bytes.NewReader(encoded)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		if credential := c.creds.Credential(); credential != "" {
			req.Header.Set("Authorization", "Bearer "+credential)
		}
		req.Header.Set("Accept", "application/json")
		if encoded != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		switch {
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		case resp.StatusCode == http.StatusConflict:
			return nil, ErrConflict
		case resp.StatusCode == http.StatusBadRequest:
			return nil, ErrBadRequest
		case resp.StatusCode == http.StatusForbidden:
			return nil, ErrForbidden
		case resp.StatusCode == http.StatusUnauthorized:
			return nil, ErrUnauthorized
		case resp.StatusCode == http.StatusNotFound:
			return nil, ErrNotFound
		case resp.StatusCode >= 300:
			return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
		}

		return body, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
