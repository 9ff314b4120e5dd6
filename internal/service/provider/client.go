package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nkiryanov/billpay/internal/logger"
)

const (
	maxResponseSize   = 1 << 20
	defaultRetryAfter = 60
)

// client sends JSON requests to one provider and classifies transport failures
type client struct {
	name    string
	baseURL string
	timeout time.Duration
	auth    func(*http.Request)

	http   *http.Client
	logger logger.Logger
}

func newClient(name string, baseURL string, timeout time.Duration, auth func(*http.Request), l logger.Logger) *client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		auth:    auth,
		http:    &http.Client{},
		logger:  l.With("provider", name),
	}
}

// do sends request and decodes response into out
// Returns raw response body, it is kept in the ledger as is
// 4xx responses with JSON body are returned without error: providers report declines this way
func (c *client) do(ctx context.Context, method string, path string, payload any, out any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, NewError(c.name, CodeBadResponse, 0, fmt.Errorf("failed to encode request: %w", err))
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, NewError(c.name, CodeUnavailable, 0, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.auth != nil {
		c.auth(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, NewError(c.name, CodeUnavailable, 0, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close() // nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, NewError(c.name, CodeUnavailable, 0, fmt.Errorf("failed to read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return raw, c.tooManyRequests(resp)
	case resp.StatusCode >= http.StatusInternalServerError:
		c.logger.Warn("Provider failed", "status_code", resp.StatusCode, "path", path)
		return raw, NewError(c.name, CodeUnavailable, 0, fmt.Errorf("unexpected status code %d", resp.StatusCode))
	}

	err = json.Unmarshal(raw, out)
	if err != nil {
		c.logger.Warn("Failed to decode response", "status_code", resp.StatusCode, "path", path, "error", err)
		return raw, NewError(c.name, CodeBadResponse, 0, fmt.Errorf("failed to decode response with status %d: %w", resp.StatusCode, err))
	}

	c.logger.Debug("Provider response", "status_code", resp.StatusCode, "path", path)
	return raw, nil
}

func (c *client) tooManyRequests(resp *http.Response) error {
	header := resp.Header.Get("Retry-After")
	retryAfter, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil {
		retryAfter = defaultRetryAfter
	}

	c.logger.Warn("Provider throttled", "retry_after", retryAfter)
	return NewError(c.name, CodeRetryAfter, retryAfter, fmt.Errorf("retry after %d seconds", retryAfter))
}

func bearer(token string) func(*http.Request) {
	return func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	}
}
