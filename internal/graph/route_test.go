package graph

import (
	"context"
	"testing"

	"github.com/firebase/genkit/go/ai"

	"github.com/harshtiwari/haral/internal/log"
)

func TestRouteHeuristics(t *testing.T) {
	t.Parallel()
	g := &Graph{logger: log.NewNop()}

	tests := []struct {
		name     string
		messages []*ai.Message
		want     Node
	}{
		{
			name: "image part routes to visionary",
			messages: []*ai.Message{
				ai.NewUserMessage(
					ai.NewTextPart("what is this?"),
					ai.NewMediaPart("", "data:image/png;base64,QUJD"),
				),
			},
			want: NodeVisionary,
		},
		{
			name: "image part wins over image keywords",
			messages: []*ai.Message{
				ai.NewUserMessage(
					ai.NewTextPart("draw something like this"),
					ai.NewMediaPart("", "data:image/png;base64,QUJD"),
				),
			},
			want: NodeVisionary,
		},
		{
			name:     "video keyword routes to researcher",
			messages: []*ai.Message{ai.NewUserMessage(ai.NewTextPart("find me a YouTube video about sourdough"))},
			want:     NodeResearcher,
		},
		{
			name:     "transcript keyword routes to researcher",
			messages: []*ai.Message{ai.NewUserMessage(ai.NewTextPart("get the transcript of that talk"))},
			want:     NodeResearcher,
		},
		{
			name:     "image keyword routes to artist",
			messages: []*ai.Message{ai.NewUserMessage(ai.NewTextPart("please draw a cat wearing a hat"))},
			want:     NodeArtist,
		},
		{
			name:     "image of phrase routes to artist",
			messages: []*ai.Message{ai.NewUserMessage(ai.NewTextPart("I want an image of the night sky"))},
			want:     NodeArtist,
		},
		{
			name: "video keyword beats image keyword",
			messages: []*ai.Message{
				ai.NewUserMessage(ai.NewTextPart("play the video where they draw landscapes")),
			},
			want: NodeResearcher,
		},
		{
			name:     "no user message routes to general",
			messages: []*ai.Message{ai.NewModelMessage(ai.NewTextPart("hello"))},
			want:     NodeGeneral,
		},
		{
			name:     "empty conversation routes to general",
			messages: nil,
			want:     NodeGeneral,
		},
		{
			name: "keywords checked on latest user message only",
			messages: []*ai.Message{
				ai.NewUserMessage(ai.NewTextPart("search youtube for lo-fi")),
				ai.NewModelMessage(ai.NewTextPart("done")),
				ai.NewUserMessage(ai.NewTextPart("now paint that scene")),
			},
			want: NodeArtist,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := g.route(context.Background(), tt.messages); got != tt.want {
				t.Errorf("route = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseRoute(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
		want Node
	}{
		{"researcher", `{"next": "researcher"}`, NodeResearcher},
		{"coder", `{"next": "coder"}`, NodeCoder},
		{"code variant", `{"next": "code"}`, NodeCoder},
		{"artist", `{"next": "artist"}`, NodeArtist},
		{"general", `{"next": "general"}`, NodeGeneral},
		{"fenced", "```json\n{\"next\": \"researcher\"}\n```", NodeResearcher},
		{"prose wrapped", `The best fit is {"next": "artist"} here.`, NodeArtist},
		{"upper case", `{"next": "RESEARCHER"}`, NodeResearcher},
		{"unknown specialist", `{"next": "astronaut"}`, NodeGeneral},
		{"empty next", `{"next": ""}`, NodeGeneral},
		{"malformed", `{"next": researcher}`, NodeGeneral},
		{"no json", `researcher`, NodeGeneral},
		{"empty", ``, NodeGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := parseRoute(tt.raw); got != tt.want {
				t.Errorf("parseRoute(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestLatestUserMessage(t *testing.T) {
	t.Parallel()
	first := ai.NewUserMessage(ai.NewTextPart("first"))
	second := ai.NewUserMessage(ai.NewTextPart("second"))
	msgs := []*ai.Message{first, ai.NewModelMessage(ai.NewTextPart("reply")), second}

	if got := latestUserMessage(msgs); got != second {
		t.Errorf("latestUserMessage picked %v", got)
	}
	if got := latestUserMessage(nil); got != nil {
		t.Errorf("latestUserMessage(nil) = %v", got)
	}
}

func TestCopyMessagesIsolation(t *testing.T) {
	t.Parallel()
	orig := []*ai.Message{ai.NewUserMessage(ai.NewTextPart("hello"))}
	cp := copyMessages(orig)

	cp[0].Content = append(cp[0].Content, ai.NewTextPart("extra"))
	if len(orig[0].Content) != 1 {
		t.Error("mutating the copy changed the original message")
	}
}
