package stream

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/firebase/genkit/go/ai"

	"github.com/harshtiwari/haral/internal/graph"
	"github.com/harshtiwari/haral/internal/log"
	"github.com/harshtiwari/haral/internal/tools"
)

const (
	thoughtTag = "THOUGHT:"

	directiveOpen   = "[["
	directiveClose  = "]]"
	imageDirective  = "GENERATE_IMAGE:"
	imageMarkerOpen = "![Generated Image]("
)

// ImageGenerator resolves a captured inline image directive after the
// graph finishes.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) string
}

// Mux consumes graph events and renders the tagged output protocol.
// One Mux serves exactly one turn; it is not safe for concurrent use.
type Mux struct {
	enc    *Encoder
	images ImageGenerator
	logger log.Logger

	answering bool
	answered  bool
	buffer    string

	pendingImage string
	finalAnswer  strings.Builder
}

// NewMux creates a Mux for one turn.
func NewMux(enc *Encoder, images ImageGenerator, logger log.Logger) *Mux {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Mux{enc: enc, images: images, logger: logger}
}

// Sink adapts the mux to the graph's event feed.
func (m *Mux) Sink() graph.Sink {
	return func(ev graph.Event) error {
		return m.handle(ev)
	}
}

func (m *Mux) handle(ev graph.Event) error {
	switch ev.Kind {
	case graph.EventNodeStart:
		return m.onNodeStart(ev.Node)
	case graph.EventNodeEnd:
		return m.onNodeEnd(ev.Node, ev.Delta)
	case graph.EventToolStart:
		return m.onToolStart(ev.Tool)
	case graph.EventToolEnd:
		return m.onToolEnd(ev.Tool, ev.Text)
	case graph.EventToken:
		if ev.Node == graph.NodeSupervisor {
			return nil
		}
		return m.onToken(ev.Text)
	default:
		return nil
	}
}

// nodeIcons maps specialist nodes to client icon names.
var nodeIcons = map[graph.Node]string{
	graph.NodeResearcher: "search",
	graph.NodeCoder:      "code",
	graph.NodeArtist:     "image",
	graph.NodeVisionary:  "image",
	graph.NodeGeneral:    "chat",
}

func (m *Mux) onNodeStart(node graph.Node) error {
	if node == graph.NodeSupervisor {
		return nil
	}
	if err := m.enc.Agent(string(node)); err != nil {
		return err
	}
	if err := m.enc.Status(titleCase(string(node)) + " is working..."); err != nil {
		return err
	}
	if icon, ok := nodeIcons[node]; ok {
		if err := m.enc.Icon(icon); err != nil {
			return err
		}
	}
	if node == graph.NodeArtist {
		return m.enc.SkeletonStart()
	}
	return nil
}

func (m *Mux) onToolStart(tool string) error {
	switch tool {
	case tools.NameGoogleSearch:
		if err := m.enc.Icon("search"); err != nil {
			return err
		}
		return m.enc.Status("Searching the web...")
	case tools.NameSearchYouTube, tools.NameVideoDetails, tools.NameVideoTranscript:
		if err := m.enc.Icon("video"); err != nil {
			return err
		}
		return m.enc.Status("Looking up videos...")
	case tools.NameGenerateImage:
		if err := m.enc.Icon("image"); err != nil {
			return err
		}
		if err := m.enc.Status("Generating image..."); err != nil {
			return err
		}
		return m.enc.SkeletonStart()
	default:
		return m.enc.Status("Running " + tool + "...")
	}
}

func (m *Mux) onToolEnd(tool, result string) error {
	if tool != tools.NameGenerateImage {
		return nil
	}
	if err := m.enc.SkeletonEnd(); err != nil {
		return err
	}
	if !strings.Contains(result, imageMarkerOpen) {
		return nil
	}
	if err := m.ensureAnswerStart(); err != nil {
		return err
	}
	m.finalAnswer.WriteString(result)
	return m.enc.Text(result)
}

func (m *Mux) onNodeEnd(node graph.Node, delta []*ai.Message) error {
	switch node {
	case graph.NodeResearcher:
		return m.researcherEnd(delta)
	case graph.NodeArtist:
		return m.artistEnd(delta)
	default:
		return nil
	}
}

// researcherEnd surfaces the node's side channel: citation sources from
// tool results and the thought line from the synthetic assistant
// message.
func (m *Mux) researcherEnd(delta []*ai.Message) error {
	for _, msg := range delta {
		switch msg.Role {
		case ai.RoleTool:
			for _, p := range msg.Content {
				if p.ToolResponse == nil {
					continue
				}
				out, _ := p.ToolResponse.Output.(string)
				if err := m.emitSources(out); err != nil {
					return err
				}
			}
		case ai.RoleModel:
			text := messageText(msg)
			thought, rest := splitThought(text)
			if thought != "" {
				if err := m.enc.Thought(thought); err != nil {
					return err
				}
			}
			// Direct-search fallback embeds the result payload after
			// the thought line.
			if rest != "" {
				if err := m.emitSources(rest); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// emitSources decodes a search result payload and emits its sources, if
// any. Non-search payloads are silently skipped.
func (m *Mux) emitSources(raw string) error {
	start := strings.Index(raw, "{")
	if start == -1 {
		return nil
	}
	var result tools.SearchResult
	if err := json.Unmarshal([]byte(raw[start:]), &result); err != nil {
		return nil
	}
	if len(result.Sources) == 0 {
		return nil
	}
	return m.enc.Sources(result.Sources)
}

// artistEnd closes the skeleton and splits the node's single message
// into thought narration and answer content.
func (m *Mux) artistEnd(delta []*ai.Message) error {
	if err := m.enc.SkeletonEnd(); err != nil {
		return err
	}
	for _, msg := range delta {
		if msg.Role != ai.RoleModel {
			continue
		}
		thought, rest := splitThought(messageText(msg))
		if thought != "" {
			if err := m.enc.Thought(thought); err != nil {
				return err
			}
		}
		if rest == "" {
			continue
		}
		if err := m.ensureAnswerStart(); err != nil {
			return err
		}
		m.finalAnswer.WriteString(rest)
		if err := m.enc.Text(rest); err != nil {
			return err
		}
	}
	return nil
}

// Feed pushes a raw token produced outside the graph (direct model
// calls) through the same thought/answer machinery.
func (m *Mux) Feed(text string) error { return m.onToken(text) }

// onToken feeds one raw model token through the two-mode state machine.
func (m *Mux) onToken(text string) error {
	m.buffer += text
	if m.answering {
		return m.drainAnswer(false)
	}
	return m.drainThought()
}

// drainThought decides whether the stream opens with a thought line.
// While the buffer is a strict prefix of the tag we cannot decide yet
// and keep buffering.
func (m *Mux) drainThought() error {
	b := m.buffer

	if len(b) < len(thoughtTag) {
		if strings.HasPrefix(thoughtTag, b) {
			return nil
		}
		return m.enterAnswering()
	}

	if !strings.HasPrefix(b, thoughtTag) {
		return m.enterAnswering()
	}

	nl := strings.Index(b, "\n")
	if nl == -1 {
		return nil
	}

	thought := strings.TrimSpace(b[len(thoughtTag):nl])
	m.buffer = b[nl+1:]
	if err := m.enc.Thought(thought); err != nil {
		return err
	}
	return m.enterAnswering()
}

// enterAnswering emits the answer sentinel and reprocesses whatever is
// buffered as answer text.
func (m *Mux) enterAnswering() error {
	m.answering = true
	if err := m.ensureAnswerStart(); err != nil {
		return err
	}
	if m.buffer == "" {
		return nil
	}
	return m.drainAnswer(false)
}

// drainAnswer flushes buffered answer text, holding back anything that
// may be (part of) an inline image directive until its close marker
// arrives. final relaxes the holds for end-of-stream.
func (m *Mux) drainAnswer(final bool) error {
	for {
		b := m.buffer

		open := strings.Index(b, directiveOpen)
		if open == -1 {
			// A trailing "[" may be a split open marker.
			if !final && strings.HasSuffix(b, "[") {
				m.buffer = "["
				return m.flush(b[:len(b)-1])
			}
			m.buffer = ""
			return m.flush(b)
		}

		if err := m.flush(b[:open]); err != nil {
			return err
		}
		b = b[open:]
		m.buffer = b

		closeIdx := strings.Index(b, directiveClose)
		if closeIdx == -1 {
			if !final {
				return nil
			}
			// Stream ended inside a directive. Capture an image prompt
			// rather than leaking the directive text; anything else is
			// flushed as-is.
			inner := strings.TrimPrefix(b, directiveOpen)
			if strings.HasPrefix(inner, imageDirective) {
				m.capturePrompt(strings.TrimPrefix(inner, imageDirective))
				m.buffer = ""
				return nil
			}
			m.buffer = ""
			return m.flush(b)
		}

		inner := b[len(directiveOpen):closeIdx]
		m.buffer = b[closeIdx+len(directiveClose):]
		if strings.HasPrefix(inner, imageDirective) {
			m.capturePrompt(strings.TrimPrefix(inner, imageDirective))
			continue
		}
		// Not ours (e.g. a video embed marker); pass through verbatim.
		if err := m.flush(b[:closeIdx+len(directiveClose)]); err != nil {
			return err
		}
	}
}

func (m *Mux) capturePrompt(prompt string) {
	m.pendingImage = strings.TrimSpace(prompt)
}

// flush emits a bare answer fragment and records it for memory
// write-back.
func (m *Mux) flush(text string) error {
	if text == "" {
		return nil
	}
	if err := m.ensureAnswerStart(); err != nil {
		return err
	}
	m.finalAnswer.WriteString(text)
	return m.enc.Text(text)
}

func (m *Mux) ensureAnswerStart() error {
	if m.answered {
		return nil
	}
	m.answered = true
	return m.enc.AnswerStart()
}

// Finish closes out the turn: flushes any held text, resolves a
// captured image directive, and guarantees the answer sentinel was
// emitted. It returns the accumulated final answer text.
func (m *Mux) Finish(ctx context.Context) (string, error) {
	if m.buffer != "" {
		// An unterminated thought line degrades to answer text.
		m.answering = true
		if err := m.drainAnswer(true); err != nil {
			return m.finalAnswer.String(), err
		}
	}

	if m.pendingImage != "" {
		if err := m.resolveImage(ctx); err != nil {
			return m.finalAnswer.String(), err
		}
	}

	if err := m.ensureAnswerStart(); err != nil {
		return m.finalAnswer.String(), err
	}
	return m.finalAnswer.String(), nil
}

// resolveImage generates the image captured from an inline directive
// and splices the result into the answer.
func (m *Mux) resolveImage(ctx context.Context) error {
	prompt := m.pendingImage
	m.pendingImage = ""

	if err := m.enc.Icon("image"); err != nil {
		return err
	}
	if err := m.enc.Thought("Generating visual: " + prompt); err != nil {
		return err
	}
	if err := m.enc.SkeletonStart(); err != nil {
		return err
	}
	result := m.images.Generate(ctx, prompt)
	if err := m.enc.SkeletonEnd(); err != nil {
		return err
	}
	return m.flush(result)
}

// SystemError renders a total failure as answer content so the client
// never sees a bare connection drop.
func (m *Mux) SystemError(msg string) error {
	if err := m.ensureAnswerStart(); err != nil {
		return err
	}
	return m.enc.Text("[System Error]: " + msg)
}

// Encoder exposes the underlying encoder for control tags emitted
// outside the graph, such as status lines before the run starts.
func (m *Mux) Encoder() *Encoder { return m.enc }

// splitThought separates a leading "THOUGHT:" line from the remaining
// text. Both returns are trimmed; either may be empty.
func splitThought(text string) (thought, rest string) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, thoughtTag) {
		return "", trimmed
	}
	body := trimmed[len(thoughtTag):]
	if nl := strings.Index(body, "\n"); nl != -1 {
		return strings.TrimSpace(body[:nl]), strings.TrimSpace(body[nl+1:])
	}
	return strings.TrimSpace(body), ""
}

func messageText(m *ai.Message) string {
	var b strings.Builder
	for _, p := range m.Content {
		if p.IsText() {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// titleCase upper-cases the first byte of an ASCII node name.
func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
