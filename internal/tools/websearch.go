// Package tools implements the assistant's capability tools: web
// search, video search/metadata/transcripts, and image generation.
//
// Every tool converts provider failures into descriptive string or
// struct results instead of errors. The calling agent inspects result
// text to decide how to proceed, so nothing here may panic or propagate
// an error past the tool boundary.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/harshtiwari/haral/internal/log"
)

// searchTopK is the number of results requested per query.
const searchTopK = 5

// maxInlineImages caps pagemap image extraction per search.
const maxInlineImages = 2

// NoResultsSummary is returned when the provider finds nothing.
const NoResultsSummary = "No results found on the web."

// Source is one cited search result.
type Source struct {
	Title           string `json:"title"`
	URI             string `json:"uri"`
	Icon            string `json:"icon,omitempty"`
	CitationIndices []int  `json:"citation_indices"`
}

// ResultImage is an inline image lifted from a result's content map.
type ResultImage struct {
	URL         string `json:"url"`
	SourceIndex int    `json:"source_index"`
	Alt         string `json:"alt"`
}

// SearchResult is the structured output of a web search.
type SearchResult struct {
	Summary string        `json:"summary"`
	Sources []Source      `json:"sources"`
	Images  []ResultImage `json:"images"`
}

// RawResult is one provider hit before formatting.
type RawResult struct {
	Title   string
	Link    string
	Snippet string
	// ImageURL is the first content-map image, when present.
	ImageURL string
}

// SearchProvider abstracts the external web search API.
// Implemented by CSEProvider in production and by stubs in tests.
type SearchProvider interface {
	Search(ctx context.Context, query string, k int) ([]RawResult, error)
}

// Searcher formats provider hits into the structured SearchResult.
type Searcher struct {
	provider SearchProvider
	logger   log.Logger
}

// NewSearcher creates a Searcher. provider may not be nil.
func NewSearcher(provider SearchProvider, logger log.Logger) *Searcher {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Searcher{provider: provider, logger: logger}
}

// Search performs a web search and returns structured results.
// Never returns an error: zero hits yield NoResultsSummary, provider
// failures yield an error-message summary, both with empty sources.
func (s *Searcher) Search(ctx context.Context, query string) SearchResult {
	raw, err := s.provider.Search(ctx, query, searchTopK)
	if err != nil {
		s.logger.Warn("web search failed", "error", err)
		return SearchResult{Summary: fmt.Sprintf("Search Error: %v", err)}
	}

	if len(raw) == 0 {
		return SearchResult{Summary: NoResultsSummary}
	}

	var (
		sources  []Source
		images   []ResultImage
		snippets []string
	)

	for i, res := range raw {
		title := res.Title
		if title == "" {
			title = "Unknown Source"
		}

		sources = append(sources, Source{
			Title:           title,
			URI:             res.Link,
			Icon:            faviconURL(res.Link),
			CitationIndices: []int{i + 1},
		})
		snippets = append(snippets, fmt.Sprintf("Source: %s\nContent: %s", title, res.Snippet))

		if res.ImageURL != "" && len(images) < maxInlineImages {
			images = append(images, ResultImage{
				URL:         res.ImageURL,
				SourceIndex: i,
				Alt:         title,
			})
		}
	}

	return SearchResult{
		Summary: strings.Join(snippets, "\n\n"),
		Sources: sources,
		Images:  images,
	}
}

// faviconURL derives a favicon URL from a result's domain.
func faviconURL(link string) string {
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return ""
	}
	return "https://www.google.com/s2/favicons?domain=" + u.Host + "&sz=64"
}

// cseEndpoint is the Google Custom Search JSON API endpoint.
const cseEndpoint = "https://www.googleapis.com/customsearch/v1"

// searchTimeout bounds one provider call.
const searchTimeout = 10 * time.Second

// CSEProvider implements SearchProvider against the Google Custom
// Search JSON API.
type CSEProvider struct {
	apiKey string
	cseID  string
	client *http.Client
}

// NewCSEProvider creates a provider. client may be nil, in which case a
// timeout-bounded default is used.
func NewCSEProvider(apiKey, cseID string, client *http.Client) *CSEProvider {
	if client == nil {
		client = &http.Client{Timeout: searchTimeout}
	}
	return &CSEProvider{apiKey: apiKey, cseID: cseID, client: client}
}

// cseResponse mirrors the subset of the CSE payload we consume.
type cseResponse struct {
	Items []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
		Pagemap struct {
			CSEImage []struct {
				Src string `json:"src"`
			} `json:"cse_image"`
		} `json:"pagemap"`
	} `json:"items"`
}

// Search queries the CSE API for the top-k results.
func (p *CSEProvider) Search(ctx context.Context, query string, k int) ([]RawResult, error) {
	if p.apiKey == "" || p.cseID == "" {
		return nil, fmt.Errorf("google search keys missing (GOOGLE_API_KEY, GOOGLE_CSE_ID)")
	}

	params := url.Values{}
	params.Set("key", p.apiKey)
	params.Set("cx", p.cseID)
	params.Set("q", query)
	params.Set("num", fmt.Sprintf("%d", k))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cseEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building search request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling search API: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("search API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload cseResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	results := make([]RawResult, 0, len(payload.Items))
	for _, item := range payload.Items {
		r := RawResult{Title: item.Title, Link: item.Link, Snippet: item.Snippet}
		if len(item.Pagemap.CSEImage) > 0 {
			r.ImageURL = item.Pagemap.CSEImage[0].Src
		}
		results = append(results, r)
	}
	return results, nil
}

// MarshalResult encodes a SearchResult as the JSON string embedded in
// tool-result messages. Encoding a plain struct cannot fail; the error
// path exists for completeness.
func MarshalResult(res SearchResult) string {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Sprintf(`{"summary": "Search Error: %v"}`, err)
	}
	return string(data)
}
