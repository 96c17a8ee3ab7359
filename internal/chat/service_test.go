package chat

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/firebase/genkit/go/genkit"
	"go.uber.org/goleak"

	"github.com/harshtiwari/haral/internal/graph"
	"github.com/harshtiwari/haral/internal/intent"
	"github.com/harshtiwari/haral/internal/log"
	"github.com/harshtiwari/haral/internal/session"
	"github.com/harshtiwari/haral/internal/tools"
)

func TestMain(m *testing.M) {
	// genkit.Init installs a signal.NotifyContext whose goroutine lives
	// for the life of the process; it is not a leak from code under test.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("os/signal.NotifyContext.func1"))
}

// recordingRetriever captures long-term memory writes.
type recordingRetriever struct {
	mu    sync.Mutex
	added []string
}

func (r *recordingRetriever) Retrieve(context.Context, string, int) ([]string, error) {
	return nil, nil
}

func (r *recordingRetriever) Add(_ context.Context, texts []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.added = append(r.added, texts...)
	return nil
}

func (r *recordingRetriever) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.added...)
}

func newTestService(retriever session.Retriever) (*Service, *sync.WaitGroup) {
	wg := &sync.WaitGroup{}
	return &Service{
		sessions: session.NewManager(20, retriever, log.NewNop()),
		logger:   log.NewNop(),
		bgCtx:    context.Background(),
		wg:       wg,
	}, wg
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	base := func() Config {
		return Config{
			Genkit:   &genkit.Genkit{},
			Graph:    &graph.Graph{},
			Sessions: session.NewManager(20, nil, nil),
			Intents:  intent.NewClassifier(nil, "m", nil),
			Images:   &tools.ImageGenerator{},
			Search:   &tools.Searcher{},
			WG:       &sync.WaitGroup{},
		}
	}

	if err := func() error { cfg := base(); return cfg.validate() }(); err != nil {
		t.Fatalf("complete config rejected: %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing genkit", func(c *Config) { c.Genkit = nil }, "genkit"},
		{"missing graph", func(c *Config) { c.Graph = nil }, "graph"},
		{"missing sessions", func(c *Config) { c.Sessions = nil }, "session"},
		{"missing intents", func(c *Config) { c.Intents = nil }, "classifier"},
		{"missing images", func(c *Config) { c.Images = nil }, "image"},
		{"missing search", func(c *Config) { c.Search = nil }, "searcher"},
		{"missing wait group", func(c *Config) { c.WG = nil }, "wait group"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.validate()
			if err == nil {
				t.Fatal("validate accepted incomplete config")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestIsVisionTurn(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(nil)

	tests := []struct {
		name   string
		req    TurnRequest
		want   bool
	}{
		{"image with no text", TurnRequest{Images: []string{"data:x"}}, true},
		{"image with short text", TurnRequest{Images: []string{"data:x"}, Text: "what is this?"}, true},
		{"image with 49 chars", TurnRequest{Images: []string{"data:x"}, Text: strings.Repeat("a", 49)}, true},
		{"image with 50 chars", TurnRequest{Images: []string{"data:x"}, Text: strings.Repeat("a", 50)}, false},
		{"image with long text", TurnRequest{Images: []string{"data:x"}, Text: strings.Repeat("a", 200)}, false},
		{"padded text is trimmed", TurnRequest{Images: []string{"data:x"}, Text: "  hi  " + strings.Repeat(" ", 60)}, true},
		{"no images", TurnRequest{Text: "hi"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := s.isVisionTurn(tt.req); got != tt.want {
				t.Errorf("isVisionTurn = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPersistMemorySanitizesAnswer(t *testing.T) {
	t.Parallel()
	r := &recordingRetriever{}
	s, wg := newTestService(r)

	answer := "Here is your picture! ![Generated Image](data:image/png;base64,QUJD) " +
		"[[GENERATE_IMAGE: a sunset]] I hope you like this rendering of the scene."
	s.persistMemory("draw me a sunset", answer)
	wg.Wait()

	added := r.all()
	if len(added) != 1 {
		t.Fatalf("got %d documents, want 1", len(added))
	}
	doc := added[0]
	if strings.Contains(doc, "![Generated Image](") {
		t.Error("image markdown survived sanitization")
	}
	if strings.Contains(doc, "[[GENERATE_IMAGE:") {
		t.Error("image directive survived sanitization")
	}
	if !strings.HasPrefix(doc, "User: draw me a sunset\nAssistant: ") {
		t.Errorf("document shape wrong: %q", doc)
	}
}

func TestPersistMemorySkipsShortAnswers(t *testing.T) {
	t.Parallel()
	r := &recordingRetriever{}
	s, wg := newTestService(r)

	s.persistMemory("hi", "Hello!")
	// An answer that is all image markdown sanitizes to nothing.
	s.persistMemory("draw", "![Generated Image](data:image/png;base64,QUJD)")
	wg.Wait()

	if added := r.all(); len(added) != 0 {
		t.Errorf("short answers persisted: %v", added)
	}
}

func TestRecordTurnSkipsEmptyAnswer(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(nil)

	s.recordTurn(TurnRequest{SessionID: "s1", Text: "hello"}, "   ")
	if got := s.sessions.History("s1").Count(); got != 0 {
		t.Errorf("history count = %d, want 0", got)
	}
}

func TestRecordTurnKeepsImageParts(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(nil)

	s.recordTurn(TurnRequest{
		SessionID: "s1",
		Text:      "what is in this photo?",
		Images:    []string{"data:image/png;base64,QUJD"},
	}, "A lighthouse at dusk.")

	msgs := s.sessions.History("s1").Messages()
	if len(msgs) != 2 {
		t.Fatalf("history has %d messages, want 2", len(msgs))
	}
	user := msgs[0]
	if len(user.Content) != 2 || !user.Content[1].IsMedia() {
		t.Errorf("user message lost its image part: %+v", user.Content)
	}
	if msgs[1].Content[0].Text != "A lighthouse at dusk." {
		t.Errorf("assistant message = %q", msgs[1].Content[0].Text)
	}
}

func TestMemoryBlock(t *testing.T) {
	t.Parallel()
	if got := memoryBlock(""); got != "" {
		t.Errorf("empty memory produced %q", got)
	}
	got := memoryBlock("likes hiking")
	if !strings.Contains(got, "[MEMORY]:") || !strings.Contains(got, "likes hiking") {
		t.Errorf("memory block = %q", got)
	}
}

func TestGenerateTitleEmptyContext(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(nil)

	tests := []struct {
		name     string
		messages []session.Message
	}{
		{"nil messages", nil},
		{"no text items", []session.Message{
			{Sender: "user", Content: []session.ContentItem{{Type: session.ContentTypeImage, Value: "data:x"}}},
		}},
		{"blank text", []session.Message{
			{Sender: "user", Content: []session.ContentItem{{Type: session.ContentTypeText, Value: "   "}}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			// No model is configured; an empty context must short-circuit
			// before any call is attempted.
			if got := s.GenerateTitle(context.Background(), tt.messages); got != defaultTitle {
				t.Errorf("GenerateTitle = %q, want %q", got, defaultTitle)
			}
		})
	}
}
