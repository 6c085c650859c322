// Package openai implements llm.Client against an OpenAI-compatible chat
// completions endpoint.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/JakeFAU/tagops-pipeline/internal/llm"
	"github.com/JakeFAU/tagops-pipeline/internal/pipeline"
)

var _ llm.Client = (*Client)(nil)

const (
	endpointChatCompletions = "chat/completions"
	errorSnippetLimit       = 400
)

// Config selects the endpoint and model.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Client calls POST {BaseURL}/chat/completions.
type Client struct {
	http        *http.Client
	endpoint    string
	apiKey      string
	model       string
	temperature *float64
	maxTokens   *int
}

// New validates cfg and builds a Client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("llm model is required")
	}
	endpoint, err := url.JoinPath(strings.TrimRight(cfg.BaseURL, "/"), endpointChatCompletions)
	if err != nil {
		return nil, fmt.Errorf("join llm url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	c := &Client{
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		endpoint: endpoint,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
	}
	if cfg.Temperature != 0 {
		t := cfg.Temperature
		c.temperature = &t
	}
	if cfg.MaxTokens > 0 {
		n := cfg.MaxTokens
		c.maxTokens = &n
	}
	return c, nil
}

// Complete sends req and returns the first choice's content.
func (c *Client) Complete(ctx context.Context, req llm.Request) (string, error) {
	body := chatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	if req.JSON {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.apiKey) != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: llm request: %w", pipeline.ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("%w: llm status %d: %s",
			pipeline.ErrUnavailable, resp.StatusCode, truncate(string(respBytes), errorSnippetLimit))
	}

	var comp chatCompletionResponse
	if err := json.Unmarshal(respBytes, &comp); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if len(comp.Choices) == 0 || strings.TrimSpace(comp.Choices[0].Message.Content) == "" {
		return "", errors.New("empty completion")
	}
	return comp.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

type chatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      *int            `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}
