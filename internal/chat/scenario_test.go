package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/harshtiwari/haral/internal/graph"
	"github.com/harshtiwari/haral/internal/intent"
	"github.com/harshtiwari/haral/internal/log"
	"github.com/harshtiwari/haral/internal/session"
	"github.com/harshtiwari/haral/internal/stream"
	"github.com/harshtiwari/haral/internal/testutil"
	"github.com/harshtiwari/haral/internal/tools"
)

// fragmentLog collects protocol fragments written during a turn.
type fragmentLog struct {
	mu    sync.Mutex
	frags []string
}

func (f *fragmentLog) writer() stream.Writer {
	return func(s string) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.frags = append(f.frags, s)
		return nil
	}
}

func (f *fragmentLog) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.frags...)
}

// answerText joins the bare fragments emitted after the answer
// sentinel, skipping control lines.
func (f *fragmentLog) answerText() string {
	var b strings.Builder
	seen := false
	for _, fr := range f.all() {
		if fr == "__ANSWER__:" {
			seen = true
			continue
		}
		if strings.HasPrefix(fr, "__") {
			continue
		}
		if seen {
			b.WriteString(fr)
		}
	}
	return b.String()
}

func indexOf(frags []string, want string) int {
	for i, fr := range frags {
		if fr == want {
			return i
		}
	}
	return -1
}

// scenarioEnv assembles a full Service over scripted models and stub
// providers so turns run end to end without network access.
type scenarioEnv struct {
	svc        *Service
	assistant  *testutil.MockLLM
	classifier *testutil.MockLLM
	search     *testutil.StubSearchProvider
	video      *testutil.StubVideoProvider
	image      *testutil.StubImageProvider
	retriever  *recordingRetriever
	wg         *sync.WaitGroup
}

func newScenarioEnv(t *testing.T) *scenarioEnv {
	t.Helper()
	g := genkit.Init(context.Background())

	env := &scenarioEnv{
		assistant:  testutil.NewMockLLM("OK."),
		classifier: testutil.NewMockLLM(`{"intent": "general", "dynamic_status": "Thinking...", "input_language": "English"}`),
		search:     &testutil.StubSearchProvider{},
		video:      &testutil.StubVideoProvider{},
		image:      &testutil.StubImageProvider{MIME: "image/png", Data: []byte("PNG")},
		retriever:  &recordingRetriever{},
		wg:         &sync.WaitGroup{},
	}
	// Small chunks force the thought/answer machinery to reassemble
	// split tags.
	env.assistant.ChunkSize = 7

	env.assistant.Register(g, "mock/assistant")
	env.assistant.Register(g, "mock/vision")
	env.assistant.Register(g, "mock/reasoning")
	env.classifier.Register(g, "mock/classifier")

	logger := log.NewNop()
	searcher := tools.NewSearcher(env.search, logger)
	videos := tools.NewVideoClient(env.video, logger)
	images := tools.NewImageGenerator(env.image, logger)
	registry := tools.Register(g, searcher, videos, images)

	models := graph.Models{Tooling: "mock/assistant", Reasoning: "mock/reasoning", Vision: "mock/vision"}
	agents := graph.New(g, models, registry, searcher, images, logger)

	svc, err := New(Config{
		Genkit:   g,
		Models:   models,
		Graph:    agents,
		Sessions: session.NewManager(20, env.retriever, logger),
		Intents:  intent.NewClassifier(g, "mock/classifier", logger),
		Images:   images,
		Search:   searcher,
		Logger:   logger,
		WG:       env.wg,
	})
	if err != nil {
		t.Fatalf("building service: %v", err)
	}
	env.svc = svc
	return env
}

func TestStreamTurnVisionScenario(t *testing.T) {
	t.Parallel()
	env := newScenarioEnv(t)
	env.assistant.Reply("what is in this photo",
		"THOUGHT: Looking closely at the image.\nIt is a tall white lighthouse overlooking the sea.")

	out := &fragmentLog{}
	err := env.svc.StreamTurn(context.Background(), TurnRequest{
		SessionID: "vision-1",
		Text:      "what is in this photo?",
		Images:    []string{"data:image/png;base64,QUJD"},
	}, out.writer())
	if err != nil {
		t.Fatalf("StreamTurn: %v", err)
	}
	env.wg.Wait()

	frags := out.all()
	status := indexOf(frags, "__STATUS__:Analyzing Visual Content...")
	icon := indexOf(frags, "__ICON__:image")
	thought := indexOf(frags, "__THOUGHT__:Looking closely at the image.")
	answer := indexOf(frags, "__ANSWER__:")
	if status == -1 || icon == -1 || thought == -1 || answer == -1 {
		t.Fatalf("missing control fragments: %q", frags)
	}
	if !(status < icon && icon < thought && thought < answer) {
		t.Errorf("fragment order: status=%d icon=%d thought=%d answer=%d", status, icon, thought, answer)
	}
	for _, fr := range frags {
		if strings.HasPrefix(fr, "__AGENT__:") {
			t.Errorf("vision turn emitted agent tag %q", fr)
		}
	}
	if got := out.answerText(); got != "It is a tall white lighthouse overlooking the sea." {
		t.Errorf("answer = %q", got)
	}

	if got := env.svc.sessions.History("vision-1").Count(); got != 2 {
		t.Errorf("history count = %d, want 2", got)
	}
	docs := env.retriever.all()
	if len(docs) != 1 || !strings.HasPrefix(docs[0], "User: what is in this photo?\nAssistant: ") {
		t.Errorf("memory documents = %q", docs)
	}
}

func TestStreamTurnPreferenceScenario(t *testing.T) {
	t.Parallel()
	env := newScenarioEnv(t)
	env.classifier.Reply("call me boss",
		`{"intent": "change_preference", "dynamic_status": "Updating your preferences...", "input_language": "English", "preference_key": "nickname", "preference_value": "Boss"}`)
	env.assistant.Reply("call me boss",
		"THOUGHT: Updating how I address you.\nYou got it, Boss!")

	out := &fragmentLog{}
	err := env.svc.StreamTurn(context.Background(), TurnRequest{
		SessionID: "pref-1",
		Text:      "call me Boss from now on",
	}, out.writer())
	if err != nil {
		t.Fatalf("StreamTurn: %v", err)
	}
	env.wg.Wait()

	frags := out.all()
	pref := indexOf(frags, `__UPDATE_PREF__:{"nickname":"Boss"}`)
	answer := indexOf(frags, "__ANSWER__:")
	if pref == -1 {
		t.Fatalf("no preference update fragment: %q", frags)
	}
	if answer == -1 || pref > answer {
		t.Errorf("preference update must precede the answer: pref=%d answer=%d", pref, answer)
	}
	if indexOf(frags, "__STATUS__:Updating your preferences...") == -1 {
		t.Errorf("classifier status not surfaced: %q", frags)
	}
	if got := out.answerText(); got != "You got it, Boss!" {
		t.Errorf("answer = %q", got)
	}
}

func TestStreamTurnSearchScenario(t *testing.T) {
	t.Parallel()
	env := newScenarioEnv(t)
	env.classifier.Reply("latest go release",
		`{"intent": "search", "dynamic_status": "Scanning the web...", "input_language": "English"}`)
	env.search.Results = []tools.RawResult{
		{Title: "Go Blog", Link: "https://go.dev/blog/go1.25", Snippet: "Go 1.25 is released."},
	}
	env.assistant.Reply("latest go release", "Go 1.25 is the latest release.")

	out := &fragmentLog{}
	err := env.svc.StreamTurn(context.Background(), TurnRequest{
		SessionID: "search-1",
		Text:      "what is the latest Go release?",
	}, out.writer())
	if err != nil {
		t.Fatalf("StreamTurn: %v", err)
	}
	env.wg.Wait()

	frags := out.all()
	if indexOf(frags, "__THOUGHT__:Initiating web search for: 'what is the latest Go release?'") == -1 {
		t.Errorf("no search thought: %q", frags)
	}
	if indexOf(frags, "__THOUGHT__:Found 1 relevant sources.") == -1 {
		t.Errorf("no source-count thought: %q", frags)
	}
	var sources string
	for _, fr := range frags {
		if strings.HasPrefix(fr, "__SOURCES__:") {
			sources = fr
			break
		}
	}
	if !strings.Contains(sources, `"Go Blog"`) {
		t.Errorf("sources fragment = %q", sources)
	}
	if got := out.answerText(); got != "Go 1.25 is the latest release." {
		t.Errorf("answer = %q", got)
	}
	if queries := env.search.Queries(); len(queries) != 1 || queries[0] != "what is the latest Go release?" {
		t.Errorf("search queries = %q", queries)
	}
}

func TestStreamTurnResearcherToolFailureScenario(t *testing.T) {
	t.Parallel()
	env := newScenarioEnv(t)
	env.video.SearchErr = errors.New("quota exceeded")
	env.assistant.ReplyWithTools("video about lighthouses", "",
		&ai.ToolRequest{Name: tools.NameSearchYouTube, Input: map[string]any{"query": "lighthouses"}})
	env.assistant.Reply("video about lighthouses",
		"THOUGHT: Reviewing what the search returned.\nI could not reach the video service, so I have no results to share.")

	out := &fragmentLog{}
	err := env.svc.StreamTurn(context.Background(), TurnRequest{
		SessionID: "research-1",
		Text:      "find me a video about lighthouses",
	}, out.writer())
	if err != nil {
		t.Fatalf("StreamTurn: %v", err)
	}
	env.wg.Wait()

	frags := out.all()
	researcher := indexOf(frags, "__AGENT__:researcher")
	general := indexOf(frags, "__AGENT__:general")
	if researcher == -1 || general == -1 || researcher > general {
		t.Fatalf("agent handoff order wrong: researcher=%d general=%d in %q", researcher, general, frags)
	}
	if indexOf(frags, "__STATUS__:Looking up videos...") == -1 || indexOf(frags, "__ICON__:video") == -1 {
		t.Errorf("tool progress not surfaced: %q", frags)
	}
	for _, fr := range frags {
		if strings.Contains(fr, "[System Error]") {
			t.Errorf("tool failure escalated to a system error: %q", fr)
		}
	}
	if got := out.answerText(); got != "I could not reach the video service, so I have no results to share." {
		t.Errorf("answer = %q", got)
	}
	if got := env.svc.sessions.History("research-1").Count(); got != 2 {
		t.Errorf("history count = %d, want 2", got)
	}
}
