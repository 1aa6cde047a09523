package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"MailPrompter/internal/retry"
)

// StatusError is a non-2xx answer from a generation backend.
type StatusError struct {
	Provider string
	Status   string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s error %s: %s", e.Provider, e.Status, e.Body)
}

// postJSON sends payload and decodes the answer into v. Client errors other than
// rate limiting are marked permanent so the retry policy gives up immediately.
func postJSON(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, payload, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", provider, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, val := range headers {
		req.Header.Set(k, val)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		statusErr := &StatusError{
			Provider: provider,
			Status:   resp.Status,
			Code:     resp.StatusCode,
			Body:     strings.TrimSpace(string(snippet)),
		}
		if resp.StatusCode < http.StatusInternalServerError && resp.StatusCode != http.StatusTooManyRequests {
			return retry.Permanent(statusErr)
		}
		return statusErr
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s response: %w", provider, err)
	}
	return nil
}

// userMessage fences the fetched content the way the instructions refer to it.
func userMessage(source string) string {
	return "Email Content:\n---\n" + source + "\n---"
}

func safeInstructions(instructions string) string {
	instructions = strings.TrimSpace(instructions)
	if instructions == "" {
		return "Rewrite the email content below as a single instruction for an automation tool. Provide only the instruction."
	}
	return instructions
}
