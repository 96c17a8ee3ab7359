// Package chat orchestrates one conversational turn: intent
// classification, routing between the direct model paths and the agent
// graph, streaming the tagged protocol, and best-effort long-term
// memory write-back.
package chat

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/harshtiwari/haral/internal/graph"
	"github.com/harshtiwari/haral/internal/intent"
	"github.com/harshtiwari/haral/internal/log"
	"github.com/harshtiwari/haral/internal/policy"
	"github.com/harshtiwari/haral/internal/session"
	"github.com/harshtiwari/haral/internal/stream"
	"github.com/harshtiwari/haral/internal/tools"
)

const (
	// visionTextLimit: image turns with less text than this skip the
	// graph and go straight to the vision model.
	visionTextLimit = 50

	// memoryMinChars gates write-back; trivial answers are not worth
	// remembering.
	memoryMinChars = 20

	modelCallTimeout = 60 * time.Second
)

// Config wires a Service.
type Config struct {
	Genkit   *genkit.Genkit
	Models   graph.Models
	Graph    *graph.Graph
	Sessions *session.Manager
	Intents  *intent.Classifier
	Images   *tools.ImageGenerator
	Search   *tools.Searcher
	Logger   log.Logger

	// BGCtx outlives requests so memory write-back survives client
	// disconnects. WG tracks those goroutines for shutdown.
	BGCtx context.Context
	WG    *sync.WaitGroup
}

func (c *Config) validate() error {
	switch {
	case c == nil:
		return fmt.Errorf("chat config is nil")
	case c.Genkit == nil:
		return fmt.Errorf("genkit instance is required")
	case c.Graph == nil:
		return fmt.Errorf("agent graph is required")
	case c.Sessions == nil:
		return fmt.Errorf("session manager is required")
	case c.Intents == nil:
		return fmt.Errorf("intent classifier is required")
	case c.Images == nil:
		return fmt.Errorf("image generator is required")
	case c.Search == nil:
		return fmt.Errorf("searcher is required")
	case c.WG == nil:
		return fmt.Errorf("wait group is required")
	}
	return nil
}

// Service is the turn orchestrator.
type Service struct {
	g        *genkit.Genkit
	models   graph.Models
	graph    *graph.Graph
	sessions *session.Manager
	intents  *intent.Classifier
	images   *tools.ImageGenerator
	search   *tools.Searcher
	logger   log.Logger

	bgCtx context.Context
	wg    *sync.WaitGroup
}

// New creates a Service.
func New(cfg Config) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	if cfg.BGCtx == nil {
		cfg.BGCtx = context.Background()
	}
	return &Service{
		g:        cfg.Genkit,
		models:   cfg.Models,
		graph:    cfg.Graph,
		sessions: cfg.Sessions,
		intents:  cfg.Intents,
		images:   cfg.Images,
		search:   cfg.Search,
		logger:   cfg.Logger,
		bgCtx:    cfg.BGCtx,
		wg:       cfg.WG,
	}, nil
}

// TurnRequest is one client turn.
type TurnRequest struct {
	SessionID string
	Text      string
	// Images are data URIs or URLs attached to the message.
	Images []string
	// Language is the stored language preference, if any.
	Language string
	User     policy.UserContext
}

// StreamTurn runs one turn and writes the tagged protocol to w. The
// turn always ends with renderable answer content; internal failures
// surface as a system-error fragment, never as a dropped stream. The
// returned error is non-nil only when the client is gone (writer or
// context failure).
func (s *Service) StreamTurn(ctx context.Context, req TurnRequest, w stream.Writer) error {
	mux := stream.NewMux(stream.NewEncoder(w), s.images, s.logger)

	var err error
	if s.isVisionTurn(req) {
		err = s.visionTurn(ctx, req, mux)
	} else {
		err = s.textTurn(ctx, req, mux)
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Error("turn failed", "session_id", req.SessionID, "error", err)
		return mux.SystemError(err.Error())
	}

	answer, err := mux.Finish(ctx)
	if err != nil {
		return err
	}

	s.recordTurn(req, answer)
	s.persistMemory(req.Text, answer)
	return nil
}

func (s *Service) isVisionTurn(req TurnRequest) bool {
	return len(req.Images) > 0 && len(strings.TrimSpace(req.Text)) < visionTextLimit
}

// visionTurn answers directly from the vision model, bypassing the
// graph entirely.
func (s *Service) visionTurn(ctx context.Context, req TurnRequest, mux *stream.Mux) error {
	enc := mux.Encoder()
	if err := enc.Status("Analyzing Visual Content..."); err != nil {
		return err
	}
	if err := enc.Icon("image"); err != nil {
		return err
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		text = "Analyze this image."
	}
	parts := []*ai.Part{ai.NewTextPart(text)}
	for _, img := range req.Images {
		parts = append(parts, ai.NewMediaPart("", img))
	}
	userMsg := ai.NewUserMessage(parts...)

	history := s.sessions.History(req.SessionID).Messages()
	system := policy.BuildSystemPrompt(policy.RoleVision, req.Language, req.User)

	return s.generate(ctx, s.models.Vision, system, append(history, userMsg), mux)
}

// textTurn classifies the utterance and dispatches to a direct path or
// the agent graph.
func (s *Service) textTurn(ctx context.Context, req TurnRequest, mux *stream.Mux) error {
	enc := mux.Encoder()
	if err := enc.Status("Analyzing Request..."); err != nil {
		return err
	}

	cls := s.intents.Classify(ctx, req.Text)
	if err := enc.Status(cls.StatusText); err != nil {
		return err
	}

	language := req.Language
	if language == "" {
		language = cls.InputLanguage
	}

	memoryCtx := s.sessions.RetrieveContext(ctx, req.Text)

	switch cls.Intent {
	case intent.IntentChangePreference:
		return s.preferenceTurn(ctx, req, cls, language, mux)
	case intent.IntentSearch:
		return s.searchTurn(ctx, req, language, memoryCtx, mux)
	case intent.IntentReasoning:
		return s.reasoningTurn(ctx, req, language, memoryCtx, mux)
	default:
		return s.graphTurn(ctx, req, language, memoryCtx, mux)
	}
}

// preferenceTurn announces the change and streams a short confirmation
// in the newly effective mode.
func (s *Service) preferenceTurn(ctx context.Context, req TurnRequest, cls intent.Classification, language string, mux *stream.Mux) error {
	patch := cls.Preference
	if err := mux.Encoder().UpdatePreference(patch.Key, patch.Value); err != nil {
		return err
	}

	user := req.User
	prefs := make(map[string]string, len(user.Preferences)+1)
	for k, v := range user.Preferences {
		prefs[k] = v
	}
	prefs[patch.Key] = patch.Value
	user.Preferences = prefs
	if patch.Key == "language" {
		language = patch.Value
	}

	system := policy.BuildSystemPrompt(policy.RoleGeneral, language, user) +
		fmt.Sprintf("\n\nThe user just changed their %q preference to %q. Briefly confirm the change and continue naturally.", patch.Key, patch.Value)

	history := s.sessions.History(req.SessionID).Messages()
	msgs := append(history, ai.NewUserMessage(ai.NewTextPart(req.Text)))
	return s.generate(ctx, s.models.Tooling, system, msgs, mux)
}

// searchTurn is the search-intent fast path: one web search up front,
// sources emitted as a side channel, then a grounded summarization
// call.
func (s *Service) searchTurn(ctx context.Context, req TurnRequest, language, memoryCtx string, mux *stream.Mux) error {
	enc := mux.Encoder()
	if err := enc.Thought(fmt.Sprintf("Initiating web search for: '%s'", req.Text)); err != nil {
		return err
	}

	result := s.search.Search(ctx, req.Text)

	var searchContext string
	if len(result.Sources) > 0 {
		if err := enc.Thought(fmt.Sprintf("Found %d relevant sources.", len(result.Sources))); err != nil {
			return err
		}
		if err := enc.Sources(result.Sources); err != nil {
			return err
		}
		snippets := strings.Split(result.Summary, "\n\n")
		numbered := make([]string, 0, len(snippets))
		for i, snippet := range snippets {
			numbered = append(numbered, fmt.Sprintf("[%d] %s", i+1, snippet))
		}
		searchContext = strings.Join(numbered, "\n\n")
	} else {
		if err := enc.Thought("No direct external sources found."); err != nil {
			return err
		}
		searchContext = "No results found."
	}

	system := policy.BuildSystemPrompt(policy.RoleSearch, language, req.User) + memoryBlock(memoryCtx)
	input := fmt.Sprintf("User Question: %s\n\n[Live Search Results]:\n%s\n\nAnswer:", req.Text, searchContext)

	history := s.sessions.History(req.SessionID).Messages()
	msgs := append(history, ai.NewUserMessage(ai.NewTextPart(input)))
	return s.generate(ctx, s.models.Tooling, system, msgs, mux)
}

// reasoningTurn routes complex analytical questions to the stronger
// model with chain-of-thought directives.
func (s *Service) reasoningTurn(ctx context.Context, req TurnRequest, language, memoryCtx string, mux *stream.Mux) error {
	system := policy.BuildSystemPrompt(policy.RoleReasoning, language, req.User) + memoryBlock(memoryCtx)
	history := s.sessions.History(req.SessionID).Messages()
	msgs := append(history, ai.NewUserMessage(ai.NewTextPart(req.Text)))
	return s.generate(ctx, s.models.Reasoning, system, msgs, mux)
}

// graphTurn hands the turn to the agent graph; the supervisor picks the
// specialist.
func (s *Service) graphTurn(ctx context.Context, req TurnRequest, language, memoryCtx string, mux *stream.Mux) error {
	history := s.sessions.History(req.SessionID).Messages()
	msgs := append(history, ai.NewUserMessage(ai.NewTextPart(req.Text)))

	_, err := s.graph.Run(ctx, graph.Input{
		Messages: msgs,
		Language: language,
		User:     req.User,
		Memory:   memoryCtx,
	}, mux.Sink())
	return err
}

// generate runs one streaming model call, feeding deltas through the
// mux state machine.
func (s *Service) generate(ctx context.Context, model, system string, msgs []*ai.Message, mux *stream.Mux) error {
	ctx, cancel := context.WithTimeout(ctx, modelCallTimeout)
	defer cancel()

	_, err := genkit.Generate(ctx, s.g,
		ai.WithModelName(model),
		ai.WithSystem(system),
		ai.WithMessages(msgs...),
		ai.WithStreaming(func(_ context.Context, chunk *ai.ModelResponseChunk) error {
			text := chunk.Text()
			if text == "" {
				return nil
			}
			return mux.Feed(text)
		}),
	)
	if err != nil {
		return fmt.Errorf("model call: %w", err)
	}
	return nil
}

func memoryBlock(memoryCtx string) string {
	if memoryCtx == "" {
		return ""
	}
	return "\n\n[MEMORY]:\n" + memoryCtx + "\n"
}

// recordTurn appends the completed exchange to the session window. Only
// the rendered answer text is kept; tool traffic is not persisted.
func (s *Service) recordTurn(req TurnRequest, answer string) {
	if strings.TrimSpace(answer) == "" {
		return
	}

	history := s.sessions.History(req.SessionID)
	if len(req.Images) > 0 {
		parts := []*ai.Part{ai.NewTextPart(req.Text)}
		for _, img := range req.Images {
			parts = append(parts, ai.NewMediaPart("", img))
		}
		history.Append(ai.NewUserMessage(parts...), ai.NewModelMessage(ai.NewTextPart(answer)))
		return
	}
	history.AddTurn(req.Text, answer)
}

var (
	imageMarkdownRe = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	imageDirective  = regexp.MustCompile(`\[\[GENERATE_IMAGE:[^\]]*\]\]`)
)

// persistMemory schedules a best-effort long-term memory write. It runs
// detached from the request so client cancellation cannot abort it.
func (s *Service) persistMemory(userText, answer string) {
	record := imageMarkdownRe.ReplaceAllString(answer, "")
	record = imageDirective.ReplaceAllString(record, "")
	record = strings.TrimSpace(record)
	if len(record) < memoryMinChars {
		return
	}

	doc := fmt.Sprintf("User: %s\nAssistant: %s", userText, record)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sessions.AddDocuments(s.bgCtx, []string{doc})
	}()
}

// Hydrate replaces a session's in-memory window from an external store.
func (s *Service) Hydrate(sessionID string, messages []session.Message) {
	s.sessions.Hydrate(sessionID, messages)
}
