package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"MailPrompter/internal/config"
	"MailPrompter/internal/ports"
)

const defaultGeminiEndpoint = "https://generativelanguage.googleapis.com/v1beta"

// GeminiClient implements ports.Transformer over the Gemini generateContent API.
type GeminiClient struct {
	endpoint   string
	model      string
	apiKey     string
	httpClient *http.Client
}

var _ ports.Transformer = (*GeminiClient)(nil)

// NewGeminiClient builds a client from configuration.
func NewGeminiClient(cfg config.TransformConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini transformer: api key is required")
	}
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = defaultGeminiEndpoint
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &GeminiClient{
		endpoint:   endpoint,
		model:      model,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Generate concatenates the text parts of the first candidate.
func (g *GeminiClient) Generate(ctx context.Context, instructions, source string) (string, error) {
	payload := map[string]any{
		"systemInstruction": geminiContent{Parts: []geminiPart{{Text: safeInstructions(instructions)}}},
		"contents": []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: userMessage(source)}}},
		},
	}

	target := fmt.Sprintf("%s/models/%s:generateContent", g.endpoint, url.PathEscape(g.model))
	headers := map[string]string{"x-goog-api-key": g.apiKey}

	var resp geminiResponse
	if err := postJSON(ctx, g.httpClient, "gemini", target, headers, payload, &resp); err != nil {
		return "", err
	}

	if len(resp.Candidates) == 0 {
		return "", ports.ErrEmptyResult
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", ports.ErrEmptyResult
	}
	return text, nil
}
