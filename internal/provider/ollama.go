package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// OllamaProvider completes prompts against Ollama's /api/chat.
// See: https://github.com/ollama/ollama/blob/main/docs/api.md
type OllamaProvider struct {
	endpoint    string
	model       string
	temperature float32
	client      *http.Client
}

func NewOllamaProvider(endpoint, model string, temperature float32, timeout time.Duration) *OllamaProvider {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OllamaProvider{
		endpoint:    strings.TrimSuffix(endpoint, "/"),
		model:       model,
		temperature: temperature,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  struct {
		Temperature float32 `json:"temperature,omitempty"`
	} `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Model   string      `json:"model"`
	Message ChatMessage `json:"message"`
	Done    bool        `json:"done"`
}

func (p *OllamaProvider) Complete(ctx context.Context, system, prompt string) (string, error) {
	url := fmt.Sprintf("%s/api/chat", p.endpoint)
	model := strings.TrimSpace(p.model)
	if model == "" {
		return "", fmt.Errorf("model is required")
	}

	req := ollamaChatRequest{
		Model:    model,
		Messages: messages(system, prompt),
	}
	req.Options.Temperature = p.temperature

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(respBody))
	}

	var out ollamaChatResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if out.Message.Content == "" {
		return "", ErrEmptyResponse
	}
	return out.Message.Content, nil
}
