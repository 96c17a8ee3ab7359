package testutil

import (
	"context"
	"sync"

	"github.com/harshtiwari/haral/internal/tools"
)

// StubSearchProvider implements tools.SearchProvider with canned hits.
type StubSearchProvider struct {
	Results []tools.RawResult
	Err     error

	mu      sync.Mutex
	queries []string
}

// Search records the query and returns the canned results or error.
func (p *StubSearchProvider) Search(_ context.Context, query string, _ int) ([]tools.RawResult, error) {
	p.mu.Lock()
	p.queries = append(p.queries, query)
	p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	return p.Results, nil
}

// Queries returns a copy of the recorded search queries.
func (p *StubSearchProvider) Queries() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.queries...)
}

// StubVideoProvider implements tools.VideoProvider with canned data per
// method.
type StubVideoProvider struct {
	Hits      []tools.VideoHit
	SearchErr error

	Meta     tools.VideoDetails
	MetaErr  error
	Basic    tools.VideoDetails
	BasicErr error

	TranscriptText string
	TranscriptErr  error
}

func (p *StubVideoProvider) Search(context.Context, string, int) ([]tools.VideoHit, error) {
	if p.SearchErr != nil {
		return nil, p.SearchErr
	}
	return p.Hits, nil
}

func (p *StubVideoProvider) Details(context.Context, string) (tools.VideoDetails, error) {
	if p.MetaErr != nil {
		return tools.VideoDetails{}, p.MetaErr
	}
	return p.Meta, nil
}

func (p *StubVideoProvider) BasicLookup(context.Context, string) (tools.VideoDetails, error) {
	if p.BasicErr != nil {
		return tools.VideoDetails{}, p.BasicErr
	}
	return p.Basic, nil
}

func (p *StubVideoProvider) Transcript(context.Context, string) (string, error) {
	if p.TranscriptErr != nil {
		return "", p.TranscriptErr
	}
	return p.TranscriptText, nil
}

// StubImageProvider implements tools.ImageProvider and records the
// prompts it was asked to render.
type StubImageProvider struct {
	Data []byte
	MIME string
	Err  error

	mu      sync.Mutex
	prompts []string
}

// Generate records the prompt and returns the canned image or error.
func (p *StubImageProvider) Generate(_ context.Context, prompt string) ([]byte, string, error) {
	p.mu.Lock()
	p.prompts = append(p.prompts, prompt)
	p.mu.Unlock()
	if p.Err != nil {
		return nil, "", p.Err
	}
	return p.Data, p.MIME, nil
}

// Prompts returns a copy of the recorded prompts.
func (p *StubImageProvider) Prompts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.prompts...)
}
