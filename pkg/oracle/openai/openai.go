// Package openai implements pkg/oracle's completion transport against any
// OpenAI-compatible chat-completions API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/parchmentco/ledger/pkg/oracle"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "gpt-4o-mini"

	// DefaultBaseURL is the OpenAI API URL. Point it at any
	// OpenAI-compatible server (e.g. Ollama's /v1) to swap providers.
	DefaultBaseURL = "https://api.openai.com"

	// DefaultTimeout bounds one completion round-trip. Oracle calls are
	// never retried; a timed-out call surfaces as a failed batch.
	DefaultTimeout = 60 * time.Second
)

// Config holds configuration for the chat-completions transport.
type Config struct {
	// BaseURL is the API root, without the /v1/chat/completions suffix.
	// Defaults to DefaultBaseURL if empty.
	BaseURL string

	// APIKey is sent as a bearer token when non-empty.
	APIKey string

	// Model is the completion model. Defaults to DefaultModel if empty.
	Model string

	// Timeout bounds each call. Defaults to DefaultTimeout if zero.
	Timeout time.Duration
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewCaller creates an oracle.CompleteFunc backed by the configured
// chat-completions endpoint. JSON-object response mode is always requested.
func NewCaller(cfg Config) oracle.CompleteFunc {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	client := &http.Client{Timeout: timeout}

	return func(ctx context.Context, prompt string) (string, error) {
		reqBody := chatRequest{
			Model: model,
			Messages: []chatMessage{
				{Role: "user", Content: prompt},
			},
			ResponseFormat: &responseFormat{Type: "json_object"},
		}

		data, err := json.Marshal(reqBody)
		if err != nil {
			return "", fmt.Errorf("%w: marshaling request: %v", oracle.ErrOracle, err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/chat/completions", bytes.NewReader(data))
		if err != nil {
			return "", fmt.Errorf("%w: creating request: %v", oracle.ErrOracle, err)
		}
		req.Header.Set("Content-Type", "application/json")
		if cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
		}

		resp, err := client.Do(req)
		if err != nil {
			return "", fmt.Errorf("%w: sending request: %v", oracle.ErrOracle, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", fmt.Errorf("%w: reading response: %v", oracle.ErrOracle, err)
		}

		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("%w: completion API returned status %d: %s", oracle.ErrOracle, resp.StatusCode, string(body))
		}

		var result chatResponse
		if err := json.Unmarshal(body, &result); err != nil {
			return "", fmt.Errorf("%w: unmarshaling response: %v", oracle.ErrOracle, err)
		}

		if result.Error != nil {
			return "", fmt.Errorf("%w: completion API error: %s", oracle.ErrOracle, result.Error.Message)
		}

		if len(result.Choices) == 0 {
			return "", fmt.Errorf("%w: completion API returned no choices", oracle.ErrOracle)
		}

		return result.Choices[0].Message.Content, nil
	}
}
