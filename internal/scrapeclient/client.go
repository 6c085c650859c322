// Package scrapeclient forwards scrape tasks to the scraper service.
package scrapeclient

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

	"github.com/JakeFAU/tagops-pipeline/internal/pipeline"
)

const maxErrorBody = 2 << 10

// Config points the client at the scraper service.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client posts tasks to POST {BaseURL}/scrape.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

// New builds a Client with a traced transport.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("scraper base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint: base + "/scrape",
		apiKey:   cfg.APIKey,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

// Forward submits task. Transport failures and non-2xx answers wrap pipeline.ErrUnavailable.
func (c *Client) Forward(ctx context.Context, task pipeline.ScrapeTask) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode scrape task: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build scrape request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: post to scraper: %w", pipeline.ErrUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return fmt.Errorf("%w: scraper answered %d: %s",
		pipeline.ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(snippet)))
}
