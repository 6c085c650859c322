package llm

import (
	"bytes"
	"fmt"
	"os"
	"text/template"
)

const defaultSystemPrompt = "You are a senior web analytics consultant. Answer in the language of the scraped site."

const defaultSEOPrompt = `You are an SEO expert analyzing a website's scraped data to provide recommendations for improvement.

Analyze the following scraped data and provide an SEO score (0-100) and a list of specific recommendations to improve the website's search engine ranking.

Scraped Data:
{{.ScrapedData}}

Ensure the recommendations are actionable and specific.
Respond only with JSON in the following format: {"seo_score": number, "recommendations": string[]}

Consider the following aspects during the analysis:
- Tagging consistency
- Semantic structure
- Accessibility
- GA4 parameter usage
- dataLayer structure
`

const defaultTaggingPrompt = `Write a tagging implementation guide in Markdown for {{.URL}} ({{.Device}} experience).

Use the page inventory and component maps below. For every page describe the
page type, the components worth tracking, and the GA4 events and dataLayer
pushes to implement, with example parameter values. Finish with a checklist.

SEO score: {{.SEO.Score}}
SEO recommendations:
{{- range .SEO.Recommendations}}
- {{.}}
{{- end}}

Scraped Data:
{{.ScrapedData}}
`

// Prompts holds the parsed prompt templates.
type Prompts struct {
	system  string
	seo     *template.Template
	tagging *template.Template
}

// PromptFiles optionally overrides the built-in templates.
type PromptFiles struct {
	SEO     string
	Tagging string
}

// LoadPrompts parses the default templates, replacing each with the file
// named in files when set.
func LoadPrompts(files PromptFiles) (*Prompts, error) {
	seoSrc, err := readOr(files.SEO, defaultSEOPrompt)
	if err != nil {
		return nil, err
	}
	taggingSrc, err := readOr(files.Tagging, defaultTaggingPrompt)
	if err != nil {
		return nil, err
	}
	seo, err := template.New("seo").Option("missingkey=error").Parse(seoSrc)
	if err != nil {
		return nil, fmt.Errorf("parse seo prompt: %w", err)
	}
	tagging, err := template.New("tagging").Option("missingkey=error").Parse(taggingSrc)
	if err != nil {
		return nil, fmt.Errorf("parse tagging prompt: %w", err)
	}
	return &Prompts{system: defaultSystemPrompt, seo: seo, tagging: tagging}, nil
}

func readOr(path, fallback string) (string, error) {
	if path == "" {
		return fallback, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prompt %s: %w", path, err)
	}
	return string(data), nil
}

func render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}
