package tools

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/harshtiwari/haral/internal/log"
)

// Transcript handling limits.
const (
	transcriptMaxChars = 5000
	transcriptMarker   = "... (truncated)"
)

// Transcript error strings. The researcher node inspects these to decide
// whether to retry with a different tool, so the exact prefixes are part
// of the tool contract.
const (
	ErrTextTranscriptsDisabled = "ERROR: NO_TRANSCRIPT_AVAILABLE. (Captions disabled)"
	ErrTextNoLanguage          = "ERROR: NO_TRANSCRIPT_AVAILABLE. (No language found)"
	errTextTranscriptPrefix    = "ERROR: Could not fetch transcript. Reason: "
)

// Sentinel errors surfaced by VideoProvider implementations.
var (
	ErrTranscriptsDisabled = errors.New("transcripts disabled")
	ErrNoTranscriptFound   = errors.New("no transcript in requested language")
)

// VideoHit is one video search result.
type VideoHit struct {
	Title    string `json:"title"`
	ID       string `json:"id"`
	Link     string `json:"link"`
	Duration string `json:"duration"`
}

// VideoDetails is rich (or reduced-fidelity fallback) video metadata.
type VideoDetails struct {
	Title       string `json:"title"`
	Channel     string `json:"channel"`
	Views       string `json:"views"`
	Likes       string `json:"likes"`
	PublishDate string `json:"publish_date"`
	Description string `json:"description"`
	Source      string `json:"source"`
}

// VideoProvider abstracts the external video platform.
type VideoProvider interface {
	Search(ctx context.Context, query string, maxResults int) ([]VideoHit, error)
	// Details is the rich metadata path; it may fail when the video is
	// blocked or sign-in-walled.
	Details(ctx context.Context, videoID string) (VideoDetails, error)
	// BasicLookup is the reduced-fidelity fallback used when Details fails.
	BasicLookup(ctx context.Context, videoID string) (VideoDetails, error)
	Transcript(ctx context.Context, videoID string) (string, error)
}

// VideoClient wraps a VideoProvider with the string-result tool contract.
// All methods return JSON or plain text; none return a Go error.
type VideoClient struct {
	provider VideoProvider
	logger   log.Logger
}

// NewVideoClient creates a VideoClient.
func NewVideoClient(provider VideoProvider, logger log.Logger) *VideoClient {
	if logger == nil {
		logger = log.NewNop()
	}
	return &VideoClient{provider: provider, logger: logger}
}

// SearchVideos returns a JSON array of hits, or a JSON error object.
func (c *VideoClient) SearchVideos(ctx context.Context, query string, maxResults int) string {
	if maxResults <= 0 {
		maxResults = 5
	}

	hits, err := c.provider.Search(ctx, query, maxResults)
	if err != nil {
		c.logger.Warn("video search failed", "error", err)
		return errorJSON(fmt.Sprintf("Search failed: %v", err))
	}
	if len(hits) == 0 {
		return errorJSON("No videos found.")
	}

	for i := range hits {
		hits[i].Link = watchURL(hits[i].ID)
	}

	data, err := json.Marshal(hits)
	if err != nil {
		return errorJSON(fmt.Sprintf("Search failed: %v", err))
	}
	return string(data)
}

// Details returns JSON metadata for a video. The rich path is tried
// first; on failure a basic search-based lookup supplies reduced
// fidelity data with likes "N/A"; if both fail, an explicit error
// object is returned.
func (c *VideoClient) Details(ctx context.Context, videoID string) string {
	id := NormalizeVideoID(videoID)

	details, err := c.provider.Details(ctx, id)
	if err == nil {
		details.PublishDate = humanizeDate(details.PublishDate)
		return marshalDetails(details)
	}
	c.logger.Warn("rich metadata lookup failed, using fallback", "video_id", id, "error", err)

	details, err = c.provider.BasicLookup(ctx, id)
	if err != nil {
		c.logger.Warn("fallback metadata lookup failed", "video_id", id, "error", err)
		return errorJSON("Video details could not be retrieved.")
	}

	details.Likes = "N/A"
	details.Source = "search_fallback"
	details.PublishDate = humanizeDate(details.PublishDate)
	return marshalDetails(details)
}

// Transcript returns the video transcript truncated to a bounded
// length, or one of three recognizable error strings.
func (c *VideoClient) Transcript(ctx context.Context, videoID string) string {
	id := NormalizeVideoID(videoID)

	text, err := c.provider.Transcript(ctx, id)
	switch {
	case errors.Is(err, ErrTranscriptsDisabled):
		return ErrTextTranscriptsDisabled
	case errors.Is(err, ErrNoTranscriptFound):
		return ErrTextNoLanguage
	case err != nil:
		return errTextTranscriptPrefix + err.Error()
	}

	if cut, ok := cutRunes(text, transcriptMaxChars); ok {
		text = cut + transcriptMarker
	}
	return text
}

// NormalizeVideoID extracts a bare video id from a full watch or
// youtu.be URL. Bare ids pass through unchanged.
func NormalizeVideoID(videoID string) string {
	id := strings.TrimSpace(videoID)
	if idx := strings.Index(id, "v="); idx != -1 {
		id = id[idx+2:]
		if amp := strings.Index(id, "&"); amp != -1 {
			id = id[:amp]
		}
		return id
	}
	if strings.Contains(id, "youtu.be") {
		id = id[strings.LastIndex(id, "/")+1:]
		if q := strings.Index(id, "?"); q != -1 {
			id = id[:q]
		}
	}
	return id
}

// watchURL is the canonical watch URL for a video id.
func watchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}

// compactDate matches 8-digit upload dates (YYYYMMDD).
var compactDate = regexp.MustCompile(`^\d{8}$`)

// humanizeDate reformats provider dates into a human-readable form.
// 8-digit compact dates and RFC 3339 timestamps are converted; anything
// else passes through unchanged.
func humanizeDate(date string) string {
	if compactDate.MatchString(date) {
		if t, err := time.Parse("20060102", date); err == nil {
			return t.Format("January 2, 2006")
		}
		return date
	}
	if t, err := time.Parse(time.RFC3339, date); err == nil {
		return t.Format("January 2, 2006")
	}
	return date
}

func marshalDetails(d VideoDetails) string {
	data, err := json.Marshal(d)
	if err != nil {
		return errorJSON("Could not fetch metadata")
	}
	return string(data)
}

func errorJSON(msg string) string {
	data, _ := json.Marshal(map[string]string{"error": msg})
	return string(data)
}

// --- YouTube Data API provider ---

const (
	youtubeSearchEndpoint = "https://www.googleapis.com/youtube/v3/search"
	youtubeVideosEndpoint = "https://www.googleapis.com/youtube/v3/videos"
	timedtextEndpoint     = "https://video.google.com/timedtext"

	videoCallTimeout = 10 * time.Second

	descriptionMaxChars = 500
)

// YouTubeProvider implements VideoProvider against the YouTube Data API
// v3 and the timedtext endpoint for transcripts.
type YouTubeProvider struct {
	apiKey string
	client *http.Client
}

// NewYouTubeProvider creates a provider. client may be nil.
func NewYouTubeProvider(apiKey string, client *http.Client) *YouTubeProvider {
	if client == nil {
		client = &http.Client{Timeout: videoCallTimeout}
	}
	return &YouTubeProvider{apiKey: apiKey, client: client}
}

type ytSearchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			Title        string `json:"title"`
			ChannelTitle string `json:"channelTitle"`
			Description  string `json:"description"`
			PublishedAt  string `json:"publishedAt"`
		} `json:"snippet"`
	} `json:"items"`
}

type ytVideosResponse struct {
	Items []struct {
		Snippet struct {
			Title        string `json:"title"`
			ChannelTitle string `json:"channelTitle"`
			Description  string `json:"description"`
			PublishedAt  string `json:"publishedAt"`
		} `json:"snippet"`
		ContentDetails struct {
			Duration string `json:"duration"`
		} `json:"contentDetails"`
		Statistics struct {
			ViewCount string `json:"viewCount"`
			LikeCount string `json:"likeCount"`
		} `json:"statistics"`
	} `json:"items"`
}

// Search queries the search endpoint, then resolves durations via the
// videos endpoint.
func (p *YouTubeProvider) Search(ctx context.Context, query string, maxResults int) ([]VideoHit, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("youtube API key missing (YOUTUBE_API_KEY)")
	}

	params := url.Values{}
	params.Set("key", p.apiKey)
	params.Set("part", "snippet")
	params.Set("type", "video")
	params.Set("q", query)
	params.Set("maxResults", strconv.Itoa(maxResults))

	var payload ytSearchResponse
	if err := p.getJSON(ctx, youtubeSearchEndpoint, params, &payload); err != nil {
		return nil, err
	}

	hits := make([]VideoHit, 0, len(payload.Items))
	ids := make([]string, 0, len(payload.Items))
	for _, item := range payload.Items {
		if item.ID.VideoID == "" {
			continue
		}
		hits = append(hits, VideoHit{
			Title: item.Snippet.Title,
			ID:    item.ID.VideoID,
			Link:  watchURL(item.ID.VideoID),
		})
		ids = append(ids, item.ID.VideoID)
	}

	// Durations come from a second endpoint; a failure here degrades to
	// "0:00" rather than failing the search.
	durations, err := p.durations(ctx, ids)
	if err != nil {
		durations = nil
	}
	for i := range hits {
		if d, ok := durations[hits[i].ID]; ok {
			hits[i].Duration = d
		} else {
			hits[i].Duration = "0:00"
		}
	}

	return hits, nil
}

// durations resolves ISO 8601 durations for a batch of video ids.
func (p *YouTubeProvider) durations(ctx context.Context, ids []string) (map[string]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	params := url.Values{}
	params.Set("key", p.apiKey)
	params.Set("part", "contentDetails")
	params.Set("id", strings.Join(ids, ","))

	var payload struct {
		Items []struct {
			ID             string `json:"id"`
			ContentDetails struct {
				Duration string `json:"duration"`
			} `json:"contentDetails"`
		} `json:"items"`
	}
	if err := p.getJSON(ctx, youtubeVideosEndpoint, params, &payload); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(payload.Items))
	for _, item := range payload.Items {
		out[item.ID] = formatISODuration(item.ContentDetails.Duration)
	}
	return out, nil
}

// Details fetches rich metadata from the videos endpoint.
func (p *YouTubeProvider) Details(ctx context.Context, videoID string) (VideoDetails, error) {
	if p.apiKey == "" {
		return VideoDetails{}, fmt.Errorf("youtube API key missing (YOUTUBE_API_KEY)")
	}

	params := url.Values{}
	params.Set("key", p.apiKey)
	params.Set("part", "snippet,statistics")
	params.Set("id", videoID)

	var payload ytVideosResponse
	if err := p.getJSON(ctx, youtubeVideosEndpoint, params, &payload); err != nil {
		return VideoDetails{}, err
	}
	if len(payload.Items) == 0 {
		return VideoDetails{}, fmt.Errorf("video %s not found", videoID)
	}

	item := payload.Items[0]
	likes := "N/A" // hidden like counts come back empty
	if item.Statistics.LikeCount != "" {
		likes = groupDigits(item.Statistics.LikeCount)
	}

	return VideoDetails{
		Title:       item.Snippet.Title,
		Channel:     item.Snippet.ChannelTitle,
		Views:       groupDigits(item.Statistics.ViewCount),
		Likes:       likes,
		PublishDate: item.Snippet.PublishedAt,
		Description: truncate(item.Snippet.Description, descriptionMaxChars),
		Source:      "youtube_api",
	}, nil
}

// BasicLookup searches by video id and returns snippet-only metadata.
func (p *YouTubeProvider) BasicLookup(ctx context.Context, videoID string) (VideoDetails, error) {
	params := url.Values{}
	params.Set("key", p.apiKey)
	params.Set("part", "snippet")
	params.Set("type", "video")
	params.Set("q", videoID)
	params.Set("maxResults", "1")

	var payload ytSearchResponse
	if err := p.getJSON(ctx, youtubeSearchEndpoint, params, &payload); err != nil {
		return VideoDetails{}, err
	}
	if len(payload.Items) == 0 {
		return VideoDetails{}, fmt.Errorf("video %s not found in search", videoID)
	}

	item := payload.Items[0]
	desc := item.Snippet.Description
	if desc == "" {
		desc = "Description unavailable in fallback mode."
	}

	return VideoDetails{
		Title:       item.Snippet.Title,
		Channel:     item.Snippet.ChannelTitle,
		Views:       "N/A",
		Likes:       "N/A",
		PublishDate: item.Snippet.PublishedAt,
		Description: truncate(desc, descriptionMaxChars),
	}, nil
}

// timedtextTranscript is the XML shape of a timedtext response.
type timedtextTranscript struct {
	Texts []struct {
		Value string `xml:",chardata"`
	} `xml:"text"`
}

// timedtextTrackList is the XML shape of a timedtext track listing.
type timedtextTrackList struct {
	Tracks []struct {
		LangCode string `xml:"lang_code,attr"`
	} `xml:"track"`
}

// Transcript fetches the caption track for a video. English is tried
// first; when absent, the first listed track is fetched. An empty track
// list means captions are disabled.
func (p *YouTubeProvider) Transcript(ctx context.Context, videoID string) (string, error) {
	if text, err := p.fetchTrack(ctx, videoID, "en"); err == nil && text != "" {
		return text, nil
	}

	langs, err := p.listTracks(ctx, videoID)
	if err != nil {
		return "", fmt.Errorf("listing caption tracks: %w", err)
	}
	if len(langs) == 0 {
		return "", ErrTranscriptsDisabled
	}

	for _, lang := range langs {
		if text, err := p.fetchTrack(ctx, videoID, lang); err == nil && text != "" {
			return text, nil
		}
	}
	return "", ErrNoTranscriptFound
}

// fetchTrack downloads one caption track and joins its cues.
func (p *YouTubeProvider) fetchTrack(ctx context.Context, videoID, lang string) (string, error) {
	params := url.Values{}
	params.Set("v", videoID)
	params.Set("lang", lang)

	body, err := p.getRaw(ctx, timedtextEndpoint, params)
	if err != nil {
		return "", err
	}
	if len(body) == 0 {
		return "", fmt.Errorf("empty caption track for lang %s", lang)
	}

	var tt timedtextTranscript
	if err := xml.Unmarshal(body, &tt); err != nil {
		return "", fmt.Errorf("parsing caption track: %w", err)
	}

	parts := make([]string, 0, len(tt.Texts))
	for _, t := range tt.Texts {
		if v := strings.TrimSpace(t.Value); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " "), nil
}

// listTracks returns the language codes of available caption tracks.
func (p *YouTubeProvider) listTracks(ctx context.Context, videoID string) ([]string, error) {
	params := url.Values{}
	params.Set("type", "list")
	params.Set("v", videoID)

	body, err := p.getRaw(ctx, timedtextEndpoint, params)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, nil
	}

	var list timedtextTrackList
	if err := xml.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("parsing track list: %w", err)
	}

	langs := make([]string, 0, len(list.Tracks))
	for _, t := range list.Tracks {
		langs = append(langs, t.LangCode)
	}
	return langs, nil
}

// getJSON performs a GET request and decodes a JSON payload.
func (p *YouTubeProvider) getJSON(ctx context.Context, endpoint string, params url.Values, v any) error {
	body, err := p.getRaw(ctx, endpoint, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// getRaw performs a GET request and returns the response body.
func (p *YouTubeProvider) getRaw(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", endpoint, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s returned %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return io.ReadAll(io.LimitReader(resp.Body, 4<<20))
}

// isoDuration matches the subset of ISO 8601 durations YouTube emits.
var isoDuration = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

// formatISODuration converts "PT4M13S" into "4:13".
func formatISODuration(iso string) string {
	m := isoDuration.FindStringSubmatch(iso)
	if m == nil {
		return "0:00"
	}

	h, _ := strconv.Atoi(zeroDefault(m[1]))
	min, _ := strconv.Atoi(zeroDefault(m[2]))
	s, _ := strconv.Atoi(zeroDefault(m[3]))

	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, min, s)
	}
	return fmt.Sprintf("%d:%02d", min, s)
}

func zeroDefault(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

// groupDigits inserts thousands separators into a numeric string.
func groupDigits(s string) string {
	if s == "" {
		return "0"
	}
	n := len(s)
	if n <= 3 {
		return s
	}
	var b strings.Builder
	rem := n % 3
	if rem > 0 {
		b.WriteString(s[:rem])
	}
	for i := rem; i < n; i += 3 {
		if b.Len() > 0 {
			b.WriteString(",")
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// truncate shortens s to max characters with an ellipsis.
func truncate(s string, max int) string {
	cut, ok := cutRunes(s, max)
	if !ok {
		return s
	}
	return cut + "..."
}

// cutRunes returns the prefix of s holding at most max runes and
// whether anything was cut. Cuts fall on rune boundaries so multi-byte
// text stays valid UTF-8.
func cutRunes(s string, max int) (string, bool) {
	if len(s) <= max {
		return s, false
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i], true
		}
		n++
	}
	return s, false
}
