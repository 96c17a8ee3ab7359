package tools

import (
	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// Tool names as registered with the model. The graph correlates tool
// requests back to implementations by these names.
const (
	NameGoogleSearch    = "google_search"
	NameSearchYouTube   = "search_youtube"
	NameVideoDetails    = "get_video_details"
	NameVideoTranscript = "get_video_transcript"
	NameGenerateImage   = "generate_image"
)

// Registry holds the tool references exposed to the agent graph.
type Registry struct {
	GoogleSearch    ai.Tool
	SearchYouTube   ai.Tool
	VideoDetails    ai.Tool
	VideoTranscript ai.Tool
	GenerateImage   ai.Tool

	byName map[string]ai.Tool
}

// Lookup resolves a registered tool by name.
func (r *Registry) Lookup(name string) (ai.Tool, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// ResearchTools returns the tools bound to the research node: web
// search plus the three video tools. Image generation is deliberately
// excluded; images are produced via the inline directive instead.
func (r *Registry) ResearchTools() []ai.ToolRef {
	return []ai.ToolRef{r.GoogleSearch, r.SearchYouTube, r.VideoDetails, r.VideoTranscript}
}

// SearchInput is the input schema for text search tools.
type SearchInput struct {
	Query string `json:"query" jsonschema_description:"The search query."`
}

// VideoIDInput is the input schema for tools keyed by a single video.
type VideoIDInput struct {
	VideoID string `json:"video_id" jsonschema_description:"The video ID or a full watch URL."`
}

// ImagePromptInput is the input schema for image generation.
type ImagePromptInput struct {
	Prompt string `json:"prompt" jsonschema_description:"A detailed description of the image to generate."`
}

// Register defines all agent tools on the Genkit instance and returns
// their references. Every tool returns a string payload; failures are
// encoded in the payload rather than returned as errors, so one broken
// integration never aborts a generation turn.
func Register(g *genkit.Genkit, searcher *Searcher, video *VideoClient, images *ImageGenerator) *Registry {
	r := &Registry{}

	r.GoogleSearch = genkit.DefineTool(g, NameGoogleSearch,
		"Search the web for current information, news, facts, and general knowledge. "+
			"Returns a JSON object with a summary, numbered sources, and related images.",
		func(toolCtx *ai.ToolContext, input SearchInput) (string, error) {
			result := searcher.Search(toolCtx.Context, input.Query)
			return MarshalResult(result), nil
		})

	r.SearchYouTube = genkit.DefineTool(g, NameSearchYouTube,
		"Search YouTube for videos. Returns a JSON array of videos with title, id, link, and duration. "+
			"Use this when the user asks about videos, songs, trailers, or anything to watch.",
		func(toolCtx *ai.ToolContext, input SearchInput) (string, error) {
			return video.SearchVideos(toolCtx.Context, input.Query, 5), nil
		})

	r.VideoDetails = genkit.DefineTool(g, NameVideoDetails,
		"Get metadata for a specific YouTube video: title, channel, views, likes, publish date, and description. "+
			"Accepts a video ID or a full watch URL.",
		func(toolCtx *ai.ToolContext, input VideoIDInput) (string, error) {
			return video.Details(toolCtx.Context, input.VideoID), nil
		})

	r.VideoTranscript = genkit.DefineTool(g, NameVideoTranscript,
		"Fetch the spoken transcript of a YouTube video. Use this to summarize or answer questions "+
			"about a video's content. Accepts a video ID or a full watch URL.",
		func(toolCtx *ai.ToolContext, input VideoIDInput) (string, error) {
			return video.Transcript(toolCtx.Context, input.VideoID), nil
		})

	r.GenerateImage = genkit.DefineTool(g, NameGenerateImage,
		"Generate an image from a text description. Returns a markdown image that can be embedded "+
			"directly in the answer.",
		func(toolCtx *ai.ToolContext, input ImagePromptInput) (string, error) {
			return images.Generate(toolCtx.Context, input.Prompt), nil
		})

	r.byName = map[string]ai.Tool{
		NameGoogleSearch:    r.GoogleSearch,
		NameSearchYouTube:   r.SearchYouTube,
		NameVideoDetails:    r.VideoDetails,
		NameVideoTranscript: r.VideoTranscript,
		NameGenerateImage:   r.GenerateImage,
	}

	return r
}
