package chat

import (
	"context"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/harshtiwari/haral/internal/session"
)

const (
	defaultTitle    = "New Chat"
	titleContextMax = 1000
	titleTimeout    = 15 * time.Second
)

const titlePrompt = `Generate a very concise 3-5 word title for this conversation context. Return ONLY the title.

Context: %s`

// GenerateTitle summarizes the last few messages into a short chat
// title. Failures fall back to a fixed default; titling is never worth
// failing a request over.
func (s *Service) GenerateTitle(ctx context.Context, messages []session.Message) string {
	tail := messages
	if len(tail) > 4 {
		tail = tail[len(tail)-4:]
	}

	var parts []string
	for _, msg := range tail {
		for _, item := range msg.Content {
			if item.Type == session.ContentTypeText && item.Value != "" {
				parts = append(parts, item.Value)
			}
		}
	}
	summary := strings.Join(parts, " ")
	if len(summary) > titleContextMax {
		summary = summary[:titleContextMax]
	}
	if strings.TrimSpace(summary) == "" {
		return defaultTitle
	}

	ctx, cancel := context.WithTimeout(ctx, titleTimeout)
	defer cancel()

	resp, err := genkit.Generate(ctx, s.g,
		ai.WithModelName(s.models.Tooling),
		ai.WithPrompt(titlePrompt, summary),
	)
	if err != nil {
		s.logger.Warn("title generation failed", "error", err)
		return defaultTitle
	}

	title := strings.TrimSpace(strings.ReplaceAll(resp.Text(), `"`, ""))
	if title == "" {
		return defaultTitle
	}
	return title
}
