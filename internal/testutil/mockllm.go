// Package testutil provides deterministic test doubles for the model
// and provider boundaries: a scriptable Genkit model plus stub
// implementations of the search, video, and image providers.
package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// MockLLM is a scriptable Genkit model. Replies are selected by
// case-insensitive substring match against the last user message; rules
// are checked in registration order and the first live rule wins.
//
// Thread-safe for concurrent use.
type MockLLM struct {
	mu       sync.Mutex
	rules    []mockRule
	fallback string
	calls    []Call

	// ChunkSize streams replies in chunks of this many runes, so
	// consumers exercise their token reassembly. Zero streams each
	// reply as a single chunk.
	ChunkSize int
}

type mockRule struct {
	pattern string
	text    string
	tools   []*ai.ToolRequest
	once    bool
	used    bool
}

// Call records one generation request served by the mock.
type Call struct {
	Model    string // model name the request came in under
	UserText string // last user message text
	Reply    string // reply text returned
}

// NewMockLLM creates a mock with the given fallback reply, returned
// when no rule matches.
func NewMockLLM(fallback string) *MockLLM {
	return &MockLLM{fallback: fallback}
}

// Reply registers a persistent pattern/reply rule.
func (m *MockLLM) Reply(pattern, text string) {
	m.addRule(mockRule{pattern: strings.ToLower(pattern), text: text})
}

// ReplyOnce registers a rule consumed by its first match. Later calls
// fall through to the remaining rules, which scripts turns that hit the
// same model more than once.
func (m *MockLLM) ReplyOnce(pattern, text string) {
	m.addRule(mockRule{pattern: strings.ToLower(pattern), text: text, once: true})
}

// ReplyWithTools registers a one-shot rule whose reply carries tool
// requests alongside the text.
func (m *MockLLM) ReplyWithTools(pattern, text string, reqs ...*ai.ToolRequest) {
	m.addRule(mockRule{pattern: strings.ToLower(pattern), text: text, tools: reqs, once: true})
}

func (m *MockLLM) addRule(r mockRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, r)
}

// Calls returns a copy of all served calls.
func (m *MockLLM) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// Register defines the mock under the given model name. One mock may
// back several names; the name is recorded per call.
func (m *MockLLM) Register(g *genkit.Genkit, name string) ai.Model {
	return genkit.DefineModel(g, name, &ai.ModelOptions{
		Label: "Scripted Test Model",
		Supports: &ai.ModelSupports{
			Multiturn:  true,
			Tools:      true,
			SystemRole: true,
			Media:      true,
		},
	}, func(ctx context.Context, req *ai.ModelRequest, cb ai.ModelStreamCallback) (*ai.ModelResponse, error) {
		return m.generate(ctx, name, req, cb)
	})
}

func (m *MockLLM) generate(ctx context.Context, model string, req *ai.ModelRequest, cb ai.ModelStreamCallback) (*ai.ModelResponse, error) {
	var userText string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == ai.RoleUser {
			userText = req.Messages[i].Text()
			break
		}
	}

	m.mu.Lock()
	var matched *mockRule
	lower := strings.ToLower(userText)
	for i := range m.rules {
		r := &m.rules[i]
		if r.used || !strings.Contains(lower, r.pattern) {
			continue
		}
		if r.once {
			r.used = true
		}
		matched = r
		break
	}

	text := m.fallback
	var toolReqs []*ai.ToolRequest
	if matched != nil {
		text = matched.text
		toolReqs = matched.tools
	}
	chunkSize := m.ChunkSize
	m.calls = append(m.calls, Call{Model: model, UserText: userText, Reply: text})
	m.mu.Unlock()

	if cb != nil && len(toolReqs) == 0 {
		for _, piece := range splitRunes(text, chunkSize) {
			if err := cb(ctx, &ai.ModelResponseChunk{
				Content: []*ai.Part{ai.NewTextPart(piece)},
			}); err != nil {
				return nil, err
			}
		}
	}

	parts := make([]*ai.Part, 0, len(toolReqs)+1)
	for _, tr := range toolReqs {
		parts = append(parts, ai.NewToolRequestPart(tr))
	}
	if text != "" || len(parts) == 0 {
		parts = append(parts, ai.NewTextPart(text))
	}

	return &ai.ModelResponse{
		Request: req,
		Message: &ai.Message{Role: ai.RoleModel, Content: parts},
	}, nil
}

// splitRunes cuts s into chunks of at most n runes each. n <= 0 yields
// a single chunk.
func splitRunes(s string, n int) []string {
	if n <= 0 || s == "" {
		return []string{s}
	}
	runes := []rune(s)
	var out []string
	for len(runes) > n {
		out = append(out, string(runes[:n]))
		runes = runes[n:]
	}
	return append(out, string(runes))
}
