// Package provider talks to the language model that writes and repairs
// file sets. Two wire protocols are supported: OpenAI-compatible chat
// completions and Ollama's native chat API.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jordanhubbard/healloop/pkg/config"
)

var (
	// ErrMissingAPIKey is returned by New when the OpenAI backend has no key.
	ErrMissingAPIKey = errors.New("model API key is not set")
	// ErrEmptyResponse is returned when the model answers with no choices.
	ErrEmptyResponse = errors.New("model returned no content")
)

// Completer sends one system+user exchange to a model and returns the
// assistant's text.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// ChatMessage represents a message in the chat
type ChatMessage struct {
	Role    string `json:"role"`    // system, user, assistant
	Content string `json:"content"` // message content
}

func messages(system, prompt string) []ChatMessage {
	var msgs []ChatMessage
	if strings.TrimSpace(system) != "" {
		msgs = append(msgs, ChatMessage{Role: "system", Content: system})
	}
	return append(msgs, ChatMessage{Role: "user", Content: prompt})
}

// New builds the completer selected by cfg, wrapped in a rate limiter when
// RequestsPerMinute is positive. Provider "none" yields a nil Completer and
// no error; callers then fall back to templates.
func New(cfg config.ModelConfig) (Completer, error) {
	var c Completer
	switch cfg.Provider {
	case "none", "":
		return nil, nil
	case "openai":
		if cfg.APIKey == "" {
			return nil, ErrMissingAPIKey
		}
		c = NewOpenAIProvider(cfg.Endpoint, cfg.APIKey, cfg.Model, cfg.Temperature, cfg.Timeout)
	case "ollama":
		c = NewOllamaProvider(cfg.Endpoint, cfg.Model, cfg.Temperature, cfg.Timeout)
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", cfg.Provider)
	}
	if cfg.RequestsPerMinute > 0 {
		c = NewLimited(c, cfg.RequestsPerMinute)
	}
	return c, nil
}
