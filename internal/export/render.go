package export

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

const documentTemplate = `<!DOCTYPE html>
<html>
  <head>
    <meta charset="utf-8">
    <title>{{.Title}}</title>
    <style>
      body { font-family: sans-serif; padding: 2rem; }
      h1, h2, h3 { color: #333; }
      code { background-color: #f4f4f4; padding: 2px 4px; border-radius: 4px; }
      pre { background-color: #f4f4f4; padding: 1rem; border-radius: 4px; white-space: pre-wrap; word-wrap: break-word; }
      table { border-collapse: collapse; width: 100%; }
      th, td { border: 1px solid #ddd; padding: 4px 8px; text-align: left; }
    </style>
  </head>
  <body>
{{.Body}}
  </body>
</html>
`

// Renderer turns Markdown into a self-contained, sanitized HTML page.
type Renderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
	page   *template.Template
}

// NewRenderer builds a GitHub-flavoured Markdown renderer.
func NewRenderer() *Renderer {
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(html.WithUnsafe()),
	)
	return &Renderer{
		md:     md,
		policy: bluemonday.UGCPolicy(),
		page:   template.Must(template.New("document").Parse(documentTemplate)),
	}
}

// HTML renders markdown into the report document.
func (r *Renderer) HTML(title, markdown string) (string, error) {
	var body bytes.Buffer
	if err := r.md.Convert([]byte(markdown), &body); err != nil {
		return "", fmt.Errorf("convert markdown: %w", err)
	}
	clean := r.policy.SanitizeBytes(body.Bytes())

	var doc bytes.Buffer
	err := r.page.Execute(&doc, struct {
		Title string
		Body  template.HTML
	}{
		Title: title,
		// #nosec G203 -- sanitized by bluemonday above
		Body: template.HTML(clean),
	})
	if err != nil {
		return "", fmt.Errorf("render document: %w", err)
	}
	return doc.String(), nil
}
