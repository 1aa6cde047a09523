package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"MailPrompter/internal/ports"
	"MailPrompter/internal/retry"
)

// WebhookOptions configures the HTTP automator.
type WebhookOptions struct {
	URL     string
	APIKey  string
	Timeout time.Duration
	Settle  time.Duration
}

// WebhookAutomator posts each prompt to an automation service.
type WebhookAutomator struct {
	opts   WebhookOptions
	http   *http.Client
	logger *slog.Logger
}

var _ ports.Automator = (*WebhookAutomator)(nil)

// NewWebhookAutomator creates a reusable HTTP client.
func NewWebhookAutomator(opts WebhookOptions, logger *slog.Logger) (*WebhookAutomator, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("webhook automator: url is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookAutomator{
		opts:   opts,
		http:   &http.Client{Timeout: opts.Timeout},
		logger: logger,
	}, nil
}

type webhookResult struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// Automate submits the command. A 2xx answer is success unless its JSON body reports
// status "failed".
func (w *WebhookAutomator) Automate(ctx context.Context, command string, policy retry.Policy) error {
	policy.OnRetry = func(err error, wait time.Duration) {
		w.logger.Debug("webhook attempt failed", "error", err, "retry_in", wait)
	}
	err := policy.Do(ctx, func(ctx context.Context) error {
		var res webhookResult
		if err := w.post(ctx, map[string]any{"command": command}, &res); err != nil {
			return err
		}
		if strings.EqualFold(res.Status, "failed") {
			return fmt.Errorf("automation reported failure: %s", res.Error)
		}
		return nil
	})
	if err != nil {
		return err
	}
	sleep(ctx, w.opts.Settle)
	return nil
}

func (w *WebhookAutomator) post(ctx context.Context, payload any, v *webhookResult) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return retry.Permanent(fmt.Errorf("marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.opts.URL, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("new request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if w.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.opts.APIKey)
	}

	resp, err := w.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
