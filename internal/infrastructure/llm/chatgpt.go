package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"MailPrompter/internal/config"
	"MailPrompter/internal/ports"
)

// ChatGPTClient implements ports.Transformer backed by OpenAI-compatible chat completion APIs.
type ChatGPTClient struct {
	endpoint   string
	model      string
	apiKey     string
	httpClient *http.Client
}

var _ ports.Transformer = (*ChatGPTClient)(nil)

// NewChatGPTClient builds a client from configuration.
func NewChatGPTClient(cfg config.TransformConfig) (*ChatGPTClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai transformer: api key is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1/chat/completions"
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &ChatGPTClient{
		endpoint:   endpoint,
		model:      model,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type chatCompletion struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate sends the instructions as the system message and the fetched content as
// the user message, returning the first choice.
func (c *ChatGPTClient) Generate(ctx context.Context, instructions, source string) (string, error) {
	payload := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": safeInstructions(instructions)},
			{"role": "user", "content": userMessage(source)},
		},
	}

	var resp chatCompletion
	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}
	if err := postJSON(ctx, c.httpClient, "openai", c.endpoint, headers, payload, &resp); err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", ports.ErrEmptyResult
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ports.ErrEmptyResult
	}
	return text, nil
}
