package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/harshtiwari/haral/internal/chat"
	"github.com/harshtiwari/haral/internal/log"
	"github.com/harshtiwari/haral/internal/policy"
	"github.com/harshtiwari/haral/internal/session"
)

const maxRequestBytes = 16 << 20 // images arrive inline as data URIs

// streamRequest is the POST /api/chat/stream body.
type streamRequest struct {
	Message     string            `json:"message"`
	SessionID   string            `json:"session_id"`
	ImageData   string            `json:"image_data,omitempty"`
	Images      []string          `json:"images,omitempty"`
	Language    string            `json:"language,omitempty"`
	UserName    string            `json:"user_name,omitempty"`
	Preferences map[string]string `json:"preferences,omitempty"`
}

// hydrateRequest repopulates a session window from the client's store.
type hydrateRequest struct {
	ChatID   string            `json:"chat_id"`
	Messages []session.Message `json:"messages"`
}

type titleRequest struct {
	Messages []session.Message `json:"messages"`
}

type titleResponse struct {
	Title string `json:"title"`
}

// Chat exposes the turn orchestrator over HTTP.
type Chat struct {
	service *chat.Service
	logger  log.Logger
}

// NewChat creates the chat handler.
func NewChat(service *chat.Service, logger log.Logger) *Chat {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Chat{service: service, logger: logger}
}

// Stream handles POST /api/chat/stream: it runs one turn and writes
// the tagged protocol as a chunked plain-text response, flushing after
// every fragment.
func (h *Chat) Stream(w http.ResponseWriter, r *http.Request) {
	var req streamRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	images := req.Images
	if req.ImageData != "" {
		images = append(images, req.ImageData)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	writer := func(fragment string) error {
		if _, err := w.Write([]byte(fragment)); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	err := h.service.StreamTurn(r.Context(), chat.TurnRequest{
		SessionID: req.SessionID,
		Text:      req.Message,
		Images:    images,
		Language:  req.Language,
		User: policy.UserContext{
			Name:        req.UserName,
			Preferences: req.Preferences,
		},
	}, writer)
	if err != nil {
		// Headers are long gone; the client either cancelled or
		// stopped reading. Nothing left to send.
		h.logger.Debug("stream aborted",
			"session_id", req.SessionID,
			"request_id", RequestID(r.Context()),
			"error", err,
		)
	}
}

// Hydrate handles POST /api/chat/hydrate-history.
func (h *Chat) Hydrate(w http.ResponseWriter, r *http.Request) {
	var req hydrateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.ChatID == "" {
		http.Error(w, "chat_id is required", http.StatusBadRequest)
		return
	}

	h.service.Hydrate(req.ChatID, req.Messages)
	writeJSON(w, http.StatusOK, map[string]string{"status": "hydrated"})
}

// Title handles POST /api/chat/generate-title.
func (h *Chat) Title(w http.ResponseWriter, r *http.Request) {
	var req titleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	title := h.service.GenerateTitle(r.Context(), req.Messages)
	writeJSON(w, http.StatusOK, titleResponse{Title: title})
}

// Health answers liveness probes.
func Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
