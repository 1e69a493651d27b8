// Package fetch retrieves article pages and feed documents over HTTP with
// bounded retry and exponential backoff.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/shiranui/newsdigest/internal/apperr"
	"github.com/shiranui/newsdigest/internal/logger"
)

// retryableStatusCodes are transient by convention; every other HTTP error
// propagates immediately.
var retryableStatusCodes = map[int]bool{
	http.StatusRequestTimeout:      true, // 408
	http.StatusTooManyRequests:     true, // 429
	http.StatusInternalServerError: true, // 500
	http.StatusBadGateway:          true, // 502
	http.StatusServiceUnavailable:  true, // 503
	http.StatusGatewayTimeout:      true, // 504
}

// ResponseMeta carries enough response metadata for the caller to decode the
// body correctly.
type ResponseMeta struct {
	StatusCode int
	Charset    string
}

type HTTPStatusError struct {
	StatusCode int
	URL        string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d for %s", e.StatusCode, e.URL)
}

type Client struct {
	httpClient  *http.Client
	userAgent   string
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

type Options struct {
	UserAgent   string
	Timeout     time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func NewClient(opts Options) *Client {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 500 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 8 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Client{
		httpClient:  &http.Client{Timeout: opts.Timeout},
		userAgent:   opts.UserAgent,
		maxAttempts: opts.MaxAttempts,
		baseDelay:   opts.BaseDelay,
		maxDelay:    opts.MaxDelay,
	}
}

// Fetch retrieves the raw bytes at url. Timeouts, connection errors and
// retryable status codes are retried with exponential backoff; other HTTP
// errors return an HTTPStatusError immediately.
func (c *Client) Fetch(ctx context.Context, url string, headers map[string]string) ([]byte, ResponseMeta, error) {
	var lastErr error
	delay := c.baseDelay

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		body, meta, err := c.fetchOnce(ctx, url, headers)
		if err == nil {
			return body, meta, nil
		}
		lastErr = err

		var statusErr *HTTPStatusError
		retryable := true
		if errors.As(err, &statusErr) {
			retryable = retryableStatusCodes[statusErr.StatusCode]
		}
		if !retryable {
			return nil, meta, err
		}

		logger.Warn("fetch attempt failed", "url", url, "attempt", attempt, "max", c.maxAttempts, "error", err)
		if attempt == c.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ResponseMeta{}, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > c.maxDelay {
			delay = c.maxDelay
		}
	}

	var statusErr *HTTPStatusError
	if errors.As(lastErr, &statusErr) {
		return nil, ResponseMeta{StatusCode: statusErr.StatusCode}, lastErr
	}
	return nil, ResponseMeta{}, &apperr.TransientError{Err: lastErr}
}

func (c *Client) fetchOnce(ctx context.Context, url string, headers map[string]string) ([]byte, ResponseMeta, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, ResponseMeta{}, fmt.Errorf("building request for %s: %w", url, err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, ResponseMeta{}, err
	}
	defer resp.Body.Close()

	meta := ResponseMeta{
		StatusCode: resp.StatusCode,
		Charset:    charsetFromContentType(resp.Header.Get("Content-Type")),
	}
	if resp.StatusCode >= 400 {
		return nil, meta, &HTTPStatusError{StatusCode: resp.StatusCode, URL: url}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, meta, fmt.Errorf("reading body of %s: %w", url, err)
	}
	return body, meta, nil
}

func charsetFromContentType(contentType string) string {
	if contentType == "" {
		return "utf-8"
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "utf-8"
	}
	if cs := strings.ToLower(params["charset"]); cs != "" {
		return cs
	}
	return "utf-8"
}
