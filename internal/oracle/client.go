// Package oracle implements the reasoning-oracle client: a single-shot
// chat-completions call against an OpenAI-compatible endpoint. The
// client never retries; callers treat any error as the agent abstaining
// from the current market event.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Message is a role-tagged chat message.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// Provider is an optional routing hint for gateways that multiplex
// upstream providers (OpenRouter-style). Setting Order with
// AllowFallbacks=false pins the request to a single provider.
type Provider struct {
	Order          []string `json:"order"`
	AllowFallbacks bool     `json:"allow_fallbacks"`
}

// AskOptions carries per-request overrides.
type AskOptions struct {
	Model    string
	Provider *Provider
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Provider *Provider `json:"provider,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Client issues completion requests to the oracle endpoint.
type Client struct {
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
}

// ClientConfig contains configuration for the oracle client.
type ClientConfig struct {
	Endpoint          string
	APIKey            string
	Model             string
	Timeout           time.Duration
	RequestsPerSecond float64
}

// NewClient creates a new oracle client.
func NewClient(config ClientConfig) *Client {
	if config.Endpoint == "" {
		config.Endpoint = "https://openrouter.ai/api/v1/chat/completions"
	}
	if config.Model == "" {
		config.Model = "openai/gpt-5-mini"
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	if config.RequestsPerSecond == 0 {
		config.RequestsPerSecond = 5
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "oracle",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Oracle circuit breaker state change")
		},
	})

	return &Client{
		endpoint:   config.Endpoint,
		apiKey:     config.APIKey,
		model:      config.Model,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1),
		breaker:    breaker,
	}
}

// Model returns the default model identifier.
func (c *Client) Model() string {
	return c.model
}

// Ask sends the messages and returns the assistant text of the first
// choice. A single attempt is made; any failure (rate limit wait,
// open breaker, network, non-2xx status, malformed body, empty
// choices) is returned as an error.
func (c *Client) Ask(ctx context.Context, messages []Message, opts *AskOptions) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("oracle rate limit wait: %w", err)
	}

	request := chatRequest{
		Model:    c.model,
		Messages: messages,
	}
	if opts != nil {
		if opts.Model != "" {
			request.Model = opts.Model
		}
		request.Provider = opts.Provider
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.complete(ctx, request)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (c *Client) complete(ctx context.Context, request chatRequest) (string, error) {
	requestBody, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(requestBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	log.Debug().
		Str("endpoint", c.endpoint).
		Str("model", request.Model).
		Int("message_count", len(request.Messages)).
		Msg("Sending oracle request")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp errorResponse
		if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error.Message == "" {
			return "", fmt.Errorf("oracle API error (status %d): %s", resp.StatusCode, string(body))
		}
		return "", fmt.Errorf("oracle API error: %s", errResp.Error.Message)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in oracle response")
	}

	log.Debug().
		Str("model", chatResp.Model).
		Int("prompt_tokens", chatResp.Usage.PromptTokens).
		Int("completion_tokens", chatResp.Usage.CompletionTokens).
		Dur("duration", time.Since(start)).
		Msg("Oracle request completed")

	return chatResp.Choices[0].Message.Content, nil
}
