// Package session manages short-term conversational state.
//
// Each session owns a bounded, ordered message history used to
// reconstruct model context. Histories are created lazily on first
// reference and live for the process lifetime, or until the external
// store re-hydrates them. Long-term semantic memory is delegated to a
// vector store collaborator and is strictly best-effort.
package session

import (
	"context"
	"strings"
	"sync"

	"github.com/firebase/genkit/go/ai"

	"github.com/harshtiwari/haral/internal/log"
)

// Content item types accepted from the external store.
const (
	ContentTypeText  = "text"
	ContentTypeImage = "image"
)

// ContentItem is a single ordered item of a message (text or image).
// Image values are data URIs or URLs.
type ContentItem struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Message is the transport shape of a persisted chat message.
// Sender is "user" or "ai". Content order is significant.
type Message struct {
	Sender  string        `json:"sender"`
	Content []ContentItem `json:"content"`
}

// Retriever is the long-term memory collaborator consumed by Manager.
// Implemented by memory.Store; interface defined here per consumer.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]string, error)
	Add(ctx context.Context, texts []string) error
}

// retrieveTopK is the number of long-term snippets injected per turn.
const retrieveTopK = 3

// Manager owns all in-memory session histories.
//
// Manager is safe for concurrent use across sessions. Concurrent
// hydration and turn execution on the same session serialize on the
// history lock; interleaving beyond that is last-write-wins by design.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*History

	window    int
	retriever Retriever // nil = long-term memory disabled
	logger    log.Logger
}

// NewManager creates a session manager with the given sliding-window
// size. retriever may be nil, which disables long-term memory.
func NewManager(window int, retriever Retriever, logger log.Logger) *Manager {
	if window <= 0 {
		window = 20
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Manager{
		sessions:  make(map[string]*History),
		window:    window,
		retriever: retriever,
		logger:    logger,
	}
}

// History returns the history for a session, creating it on first access.
func (m *Manager) History(sessionID string) *History {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.sessions[sessionID]
	if !ok {
		h = NewHistory()
		m.sessions[sessionID] = h
	}
	return h
}

// Hydrate replaces a session's in-memory history with the last W entries
// of the supplied persisted messages.
//
// User messages keep their full content (text plus image parts); AI
// messages are collapsed to text-only to control context size. Older
// entries are reachable only through long-term memory retrieval.
func (m *Manager) Hydrate(sessionID string, messages []Message) {
	recent := messages
	if len(recent) > m.window {
		recent = recent[len(recent)-m.window:]
	}

	converted := make([]*ai.Message, 0, len(recent))
	for _, msg := range recent {
		if conv := convertMessage(msg); conv != nil {
			converted = append(converted, conv)
		}
	}

	h := m.History(sessionID)
	h.SetMessages(converted)

	m.logger.Debug("session hydrated",
		"session_id", sessionID,
		"supplied", len(messages),
		"kept", len(converted))
}

// RetrieveContext returns long-term memory snippets relevant to the
// query, joined for prompt injection. Never returns an error: retrieval
// failure yields an empty string.
func (m *Manager) RetrieveContext(ctx context.Context, query string) string {
	if m.retriever == nil || strings.TrimSpace(query) == "" {
		return ""
	}

	snippets, err := m.retriever.Retrieve(ctx, query, retrieveTopK)
	if err != nil {
		m.logger.Debug("long-term memory retrieval failed", "error", err)
		return ""
	}
	return strings.Join(snippets, "\n\n")
}

// AddDocuments persists texts to long-term memory. Best-effort: failures
// are logged and swallowed.
func (m *Manager) AddDocuments(ctx context.Context, texts []string) {
	if m.retriever == nil || len(texts) == 0 {
		return
	}

	if err := m.retriever.Add(ctx, texts); err != nil {
		m.logger.Warn("long-term memory write failed", "error", err, "count", len(texts))
	}
}

// convertMessage maps a persisted message to a role-tagged model message.
// Returns nil when the message carries no usable content.
func convertMessage(msg Message) *ai.Message {
	switch msg.Sender {
	case "user":
		parts := make([]*ai.Part, 0, len(msg.Content))
		for _, item := range msg.Content {
			switch item.Type {
			case ContentTypeText:
				if item.Value != "" {
					parts = append(parts, ai.NewTextPart(item.Value))
				}
			case ContentTypeImage, "image_url":
				if item.Value != "" {
					parts = append(parts, ai.NewMediaPart("", item.Value))
				}
			}
		}
		if len(parts) == 0 {
			return nil
		}
		return ai.NewUserMessage(parts...)

	case "ai":
		// Text-only reconstruction keeps the context window small.
		var texts []string
		for _, item := range msg.Content {
			if item.Type == ContentTypeText && item.Value != "" {
				texts = append(texts, item.Value)
			}
		}
		if len(texts) == 0 {
			return nil
		}
		return ai.NewModelMessage(ai.NewTextPart(strings.Join(texts, " ")))

	default:
		return nil
	}
}
