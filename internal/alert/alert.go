// Package alert delivers failure notifications to a Telegram chat. Alerting
// is best-effort: callers log delivery errors and move on.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shiranui/newsdigest/internal/logger"
)

const defaultAPIBase = "https://api.telegram.org"

// Notifier posts messages to one Telegram chat with bounded retry. A zero
// token or chat id leaves it disabled.
type Notifier struct {
	token       string
	chatID      string
	apiBase     string
	client      *http.Client
	maxAttempts int
	baseDelay   time.Duration
}

func New(token, chatID string) *Notifier {
	return &Notifier{
		token:       token,
		chatID:      chatID,
		apiBase:     defaultAPIBase,
		client:      &http.Client{Timeout: 30 * time.Second},
		maxAttempts: 3,
		baseDelay:   time.Second,
	}
}

func (n *Notifier) Enabled() bool {
	return n != nil && n.token != "" && n.chatID != ""
}

// Notify sends text to the configured chat, retrying with exponential
// backoff. Returns the last error when every attempt fails.
func (n *Notifier) Notify(ctx context.Context, text string) error {
	if !n.Enabled() {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= n.maxAttempts; attempt++ {
		if err := n.sendOnce(ctx, text); err == nil {
			logger.Debug("alert delivered", "attempt", attempt)
			return nil
		} else {
			lastErr = err
			logger.Warn("alert delivery failed", "attempt", attempt, "max", n.maxAttempts, "error", err)
		}

		if attempt < n.maxAttempts {
			wait := time.Duration(1<<attempt) * n.baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	return fmt.Errorf("alert not delivered after %d attempts: %w", n.maxAttempts, lastErr)
}

func (n *Notifier) sendOnce(ctx context.Context, text string) error {
	payload := map[string]any{
		"chat_id":                  n.chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding alert payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API error: status %d", resp.StatusCode)
	}
	return nil
}
