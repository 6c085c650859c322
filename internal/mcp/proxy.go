// Package mcp forwards agent tool calls to the external MCP workflow endpoint
// and normalizes whatever it answers.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/tagops-pipeline/internal/metrics"
	"github.com/JakeFAU/tagops-pipeline/internal/pipeline"
)

// Tool names accepted by the proxy.
const (
	ToolAnalysis = "GeminiAnalisis"
	ToolTagging  = "GuiaTaggeo"
)

// Result statuses.
const (
	StatusSuccess = "success"
	StatusRaw     = "raw"
	StatusError   = "error"
)

const maxResponseBytes = 8 << 20

// Call is one tool invocation.
type Call struct {
	Tool      string         `json:"tool"`
	SessionID string         `json:"sessionId"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Result is the normalized answer returned to the dashboard.
type Result struct {
	Status    string `json:"status"`
	Tool      string `json:"tool"`
	SessionID string `json:"sessionId"`
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp"`
	RawOutput bool   `json:"raw_output,omitempty"`
}

// Config points the proxy at the tool server.
type Config struct {
	Endpoint string
	Timeout  time.Duration
}

// Proxy calls the tool server.
type Proxy struct {
	endpoint string
	http     *http.Client
	clock    pipeline.Clock
	logger   *zap.Logger
}

// New builds a Proxy.
func New(cfg Config, clock pipeline.Clock, logger *zap.Logger) (*Proxy, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("mcp endpoint is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Proxy{
		endpoint: cfg.Endpoint,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		clock:  clock,
		logger: logger.Named("mcp"),
	}, nil
}

// Validate checks the tool name and session.
func (c Call) Validate() error {
	if c.Tool != ToolAnalysis && c.Tool != ToolTagging {
		return fmt.Errorf("%w: tool must be %q or %q", pipeline.ErrInvalidInput, ToolAnalysis, ToolTagging)
	}
	if strings.TrimSpace(c.SessionID) == "" {
		return fmt.Errorf("%w: sessionId is required", pipeline.ErrInvalidInput)
	}
	return nil
}

// Call forwards c. Upstream failures are reported inside the Result with
// status "error"; only invalid calls return an error.
func (p *Proxy) Call(ctx context.Context, c Call) (Result, error) {
	if err := c.Validate(); err != nil {
		return Result{}, err
	}
	now := p.clock.Now().UTC().Format(time.RFC3339Nano)
	res := Result{Status: StatusError, Tool: c.Tool, SessionID: c.SessionID, Timestamp: now}

	// Payload keys override the envelope fields.
	body := map[string]any{
		"sessionId": c.SessionID,
		"tool":      c.Tool,
		"timestamp": now,
	}
	for k, v := range c.Payload {
		body[k] = v
	}

	data, status, err := p.post(ctx, body)
	switch {
	case err != nil:
		res.Data = map[string]any{"message": err.Error()}
	case status < 200 || status > 299:
		res.Data = map[string]any{"message": string(data.raw), "statusCode": status}
	case data.isJSON:
		res.Status = StatusSuccess
		res.Data = data.decoded
	default:
		res.Status = StatusRaw
		res.Data = string(data.raw)
		res.RawOutput = true
	}
	metrics.ObserveMCPCall(c.Tool, res.Status)
	p.logger.Info("tool call finished",
		zap.String("tool", c.Tool),
		zap.String("session_id", c.SessionID),
		zap.String("status", res.Status),
		zap.Int("http_status", status),
	)
	return res, nil
}

type response struct {
	raw     []byte
	decoded any
	isJSON  bool
}

func (p *Proxy) post(ctx context.Context, body map[string]any) (response, int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return response{}, 0, fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return response{}, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "tagops-mcp-proxy/1.0")

	resp, err := p.http.Do(req)
	if err != nil {
		return response{}, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return response{}, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	out := response{raw: raw}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return out, resp.StatusCode, nil
	}
	// JSON is accepted whatever the content type says.
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err == nil {
		out.decoded, out.isJSON = decoded, true
	} else if isJSONContentType(resp.Header.Get("Content-Type")) {
		return response{}, resp.StatusCode, fmt.Errorf("decode json response: %w", err)
	}
	return out, resp.StatusCode, nil
}

func isJSONContentType(v string) bool {
	mt, _, err := mime.ParseMediaType(v)
	return err == nil && (mt == "application/json" || strings.HasSuffix(mt, "+json"))
}
