package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/tagops-pipeline/internal/metrics"
	"github.com/JakeFAU/tagops-pipeline/internal/pipeline"
)

const (
	purposeSEO     = "seo"
	purposeTagging = "tagging"
)

// TaggingInput is the data rendered into the tagging prompt.
type TaggingInput struct {
	URL         string
	Device      pipeline.Device
	SEO         pipeline.SEOReport
	ScrapedData string
}

// Analyst runs the two prompts of the Analytic Core stage.
type Analyst struct {
	client  Client
	prompts *Prompts
	schema  *jsonschema.Schema
	logger  *zap.Logger
}

// NewAnalyst wires a Client with the prompt set.
func NewAnalyst(client Client, prompts *Prompts, logger *zap.Logger) (*Analyst, error) {
	if client == nil {
		return nil, errors.New("llm client is required")
	}
	if prompts == nil {
		return nil, errors.New("prompts are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	schema, err := compileSchema("seo_report.json", seoReportSchema)
	if err != nil {
		return nil, err
	}
	return &Analyst{client: client, prompts: prompts, schema: schema, logger: logger.Named("llm")}, nil
}

// SEOReport asks for a score and recommendations and validates the answer.
func (a *Analyst) SEOReport(ctx context.Context, scrapedData string) (pipeline.SEOReport, error) {
	prompt, err := render(a.prompts.seo, map[string]any{"ScrapedData": scrapedData})
	if err != nil {
		return pipeline.SEOReport{}, err
	}
	out, err := a.complete(ctx, purposeSEO, prompt, true)
	if err != nil {
		return pipeline.SEOReport{}, err
	}
	raw := []byte(stripFences(out))
	if err := validateJSON(a.schema, raw); err != nil {
		return pipeline.SEOReport{}, fmt.Errorf("seo report: %w", err)
	}
	var decoded struct {
		Score           float64  `json:"seo_score"`
		Recommendations []string `json:"recommendations"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return pipeline.SEOReport{}, fmt.Errorf("decode seo report: %w", err)
	}
	return pipeline.SEOReport{
		Score:           int(math.Round(decoded.Score)),
		Recommendations: decoded.Recommendations,
	}, nil
}

// TaggingReport asks for the Markdown tagging guide.
func (a *Analyst) TaggingReport(ctx context.Context, in TaggingInput) (string, error) {
	prompt, err := render(a.prompts.tagging, in)
	if err != nil {
		return "", err
	}
	out, err := a.complete(ctx, purposeTagging, prompt, false)
	if err != nil {
		return "", err
	}
	md := strings.TrimSpace(out)
	if strings.HasPrefix(md, "```markdown") || strings.HasPrefix(md, "```md") {
		md = stripFences(md)
	}
	if md == "" {
		return "", errors.New("tagging report is empty")
	}
	return md, nil
}

func (a *Analyst) complete(ctx context.Context, purpose, prompt string, asJSON bool) (string, error) {
	start := time.Now()
	out, err := a.client.Complete(ctx, Request{
		Messages: []Message{
			{Role: RoleSystem, Content: a.prompts.system},
			{Role: RoleUser, Content: prompt},
		},
		JSON: asJSON,
	})
	dur := time.Since(start)
	metrics.ObserveLLMRequest(purpose, err, dur)
	if err != nil {
		a.logger.Warn("completion failed", zap.String("purpose", purpose), zap.Duration("duration", dur), zap.Error(err))
		return "", fmt.Errorf("%s completion: %w", purpose, err)
	}
	a.logger.Debug("completion finished", zap.String("purpose", purpose), zap.Duration("duration", dur), zap.Int("chars", len(out)))
	return out, nil
}
