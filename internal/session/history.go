package session

import (
	"sync"

	"github.com/firebase/genkit/go/ai"
)

// History encapsulates one session's conversation history with
// thread-safe access. Messages are append-only between hydrations.
//
// The zero value is NOT useful — use NewHistory().
type History struct {
	mu       sync.RWMutex
	messages []*ai.Message
}

// NewHistory creates an empty History.
func NewHistory() *History {
	return &History{messages: make([]*ai.Message, 0)}
}

// SetMessages replaces all messages. Used by Manager during hydration.
// Makes a defensive copy to prevent external modification.
func (h *History) SetMessages(messages []*ai.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = make([]*ai.Message, len(messages))
	copy(h.messages, messages)
}

// Messages returns a copy of all messages for thread-safe access.
func (h *History) Messages() []*ai.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	result := make([]*ai.Message, len(h.messages))
	copy(result, h.messages)
	return result
}

// Append adds messages to the history.
func (h *History) Append(msgs ...*ai.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, msg := range msgs {
		if msg != nil {
			h.messages = append(h.messages, msg)
		}
	}
}

// AddTurn appends a user message and the assistant's reply.
func (h *History) AddTurn(userInput, assistantResponse string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages,
		ai.NewUserMessage(ai.NewTextPart(userInput)),
		ai.NewModelMessage(ai.NewTextPart(assistantResponse)),
	)
}

// Count returns the number of messages.
func (h *History) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}

// Clear removes all messages.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = h.messages[:0]
}
