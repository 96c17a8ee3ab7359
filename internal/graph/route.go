package graph

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

const routeTimeout = 10 * time.Second

// Keyword heuristics checked before spending a model call on routing.
var (
	videoKeywords = []string{"video", "youtube", "watch", "play", "transcript", "trailer", "song"}
	imageKeywords = []string{"generate", "draw", "paint", "imagine", "create a picture", "image of"}
)

const routePrompt = `You are a supervisor routing a user request to one specialist.
Specialists:
- researcher: questions needing current information, web lookups, or videos
- coder: writing, explaining, or debugging code
- artist: creating images or visual art
- general: everything else (conversation, knowledge, advice)

Reply with ONLY a JSON object: {"next": "<specialist>"}

Conversation:
%s`

// route decides the turn's specialist. Routing happens exactly once per
// run; there is no re-entry to the supervisor.
func (g *Graph) route(ctx context.Context, messages []*ai.Message) Node {
	latest := latestUserMessage(messages)
	if latest == nil {
		return NodeGeneral
	}

	if hasImagePart(latest) {
		return NodeVisionary
	}

	text := strings.ToLower(messageText(latest))
	for _, kw := range videoKeywords {
		if strings.Contains(text, kw) {
			return NodeResearcher
		}
	}
	for _, kw := range imageKeywords {
		if strings.Contains(text, kw) {
			return NodeArtist
		}
	}

	return g.classifyRoute(ctx, messages)
}

// classifyRoute asks the tooling model for a 4-way decision over the
// last few messages. Any failure routes to general.
func (g *Graph) classifyRoute(ctx context.Context, messages []*ai.Message) Node {
	ctx, cancel := context.WithTimeout(ctx, routeTimeout)
	defer cancel()

	tail := messages
	if len(tail) > 3 {
		tail = tail[len(tail)-3:]
	}
	var transcript strings.Builder
	for _, m := range tail {
		transcript.WriteString(string(m.Role))
		transcript.WriteString(": ")
		transcript.WriteString(messageText(m))
		transcript.WriteString("\n")
	}

	resp, err := genkit.Generate(ctx, g.g,
		ai.WithModelName(g.models.Tooling),
		ai.WithPrompt(routePrompt, transcript.String()),
	)
	if err != nil {
		g.logger.Warn("route classification failed", "error", err)
		return NodeGeneral
	}

	return parseRoute(resp.Text())
}

// parseRoute extracts {"next": ...} from model output, tolerating prose
// or fences around the JSON object.
func parseRoute(raw string) Node {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end <= start {
		return NodeGeneral
	}

	var decision struct {
		Next string `json:"next"`
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &decision); err != nil {
		return NodeGeneral
	}

	switch next := strings.ToLower(strings.TrimSpace(decision.Next)); {
	case strings.Contains(next, "research"):
		return NodeResearcher
	case strings.Contains(next, "coder") || strings.Contains(next, "code"):
		return NodeCoder
	case strings.Contains(next, "artist"):
		return NodeArtist
	default:
		return NodeGeneral
	}
}

// latestUserMessage returns the most recent user-authored message.
func latestUserMessage(messages []*ai.Message) *ai.Message {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == ai.RoleUser {
			return messages[i]
		}
	}
	return nil
}

// hasImagePart reports whether any content part carries media.
func hasImagePart(m *ai.Message) bool {
	for _, p := range m.Content {
		if p.IsMedia() {
			return true
		}
	}
	return false
}

// messageText concatenates the text parts of a message.
func messageText(m *ai.Message) string {
	if m == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range m.Content {
		if p.IsText() {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}
