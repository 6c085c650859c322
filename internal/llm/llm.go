// Package llm turns scraped page data into the SEO report and the Markdown
// tagging draft using a chat completion backend.
package llm

import (
	"context"
	"strings"
)

// Message roles understood by chat completion backends.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Message is one chat turn.
type Message struct {
	Role    string
	Content string
}

// Request is a single completion call.
type Request struct {
	Messages []Message
	// JSON asks the backend for a JSON object response.
	JSON bool
}

// Client produces completions.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// stripFences removes a surrounding ``` or ```json fence that models often
// add around structured output.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
