package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/harshtiwari/haral/internal/policy"
	"github.com/harshtiwari/haral/internal/tools"
)

const (
	modelCallTimeout = 60 * time.Second
	rewriteTimeout   = 10 * time.Second

	// imagePromptPrefix is stripped from artist requests before the
	// remainder goes to the image model.
	imagePromptPrefix = "generate image of"
)

const rewritePrompt = `Rewrite the user's latest request as a single standalone search query.
Resolve pronouns and references using the conversation. Reply with ONLY the query, no quotes.

Conversation:
%s`

const researcherSystem = `You are a research assistant with access to web search and video tools.
Pick the single most relevant tool for the user's request and call it once.
For anything about videos, songs, or trailers use the video tools; otherwise use web search.`

// researcherNode issues one tool-calling model turn. A tool election is
// executed exactly once and recorded as a thought plus a tool-result
// message; when the model declines, web search runs directly with the
// rewritten query.
func (g *Graph) researcherNode(ctx context.Context, messages []*ai.Message, in Input, sink Sink) ([]*ai.Message, error) {
	query := g.rewriteQuery(ctx, messages)

	callCtx, cancel := context.WithTimeout(ctx, modelCallTimeout)
	defer cancel()

	resp, err := genkit.Generate(callCtx, g.g,
		ai.WithModelName(g.models.Tooling),
		ai.WithSystem(researcherSystem),
		ai.WithMessages(ai.NewUserMessage(ai.NewTextPart(query))),
		ai.WithTools(g.tools.ResearchTools()...),
		ai.WithReturnToolRequests(true),
	)
	if err != nil {
		return nil, fmt.Errorf("research model call: %w", err)
	}

	reqs := resp.ToolRequests()
	if len(reqs) == 0 {
		// No election. Search directly so the general node still has
		// something to summarize.
		result := g.search.Search(ctx, query)
		text := fmt.Sprintf("THOUGHT: Searching the web for %q.\n%s", query, tools.MarshalResult(result))
		return []*ai.Message{ai.NewModelMessage(ai.NewTextPart(text))}, nil
	}

	req := reqs[0]
	if err := sink(Event{Kind: EventToolStart, Node: NodeResearcher, Tool: req.Name}); err != nil {
		return nil, err
	}

	result := g.executeTool(ctx, req)
	if err := sink(Event{Kind: EventToolEnd, Node: NodeResearcher, Tool: req.Name, Text: result}); err != nil {
		return nil, err
	}

	thought := "THOUGHT: Using " + req.Name + " to find what you need."
	return []*ai.Message{
		ai.NewModelMessage(ai.NewTextPart(thought), ai.NewToolRequestPart(req)),
		ai.NewMessage(ai.RoleTool, nil, ai.NewToolResponsePart(&ai.ToolResponse{
			Name:   req.Name,
			Ref:    req.Ref,
			Output: result,
		})),
	}, nil
}

// executeTool runs exactly one requested tool and stringifies its
// output. Tool failures become descriptive strings, never errors.
func (g *Graph) executeTool(ctx context.Context, req *ai.ToolRequest) string {
	tool, ok := g.tools.Lookup(req.Name)
	if !ok {
		return fmt.Sprintf("Error: unknown tool %q requested.", req.Name)
	}

	out, err := tool.RunRaw(ctx, req.Input)
	if err != nil {
		g.logger.Warn("tool execution failed", "tool", req.Name, "error", err)
		return fmt.Sprintf("Error: tool %s failed: %v", req.Name, err)
	}

	if s, ok := out.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", out)
}

// rewriteQuery condenses recent context into a standalone query. Short
// conversations skip the extra model call; any failure falls back to
// the raw user text.
func (g *Graph) rewriteQuery(ctx context.Context, messages []*ai.Message) string {
	raw := messageText(latestUserMessage(messages))
	if len(messages) <= 2 {
		return raw
	}

	tail := messages
	if len(tail) > 4 {
		tail = tail[len(tail)-4:]
	}
	var transcript strings.Builder
	for _, m := range tail {
		transcript.WriteString(string(m.Role))
		transcript.WriteString(": ")
		transcript.WriteString(messageText(m))
		transcript.WriteString("\n")
	}

	ctx, cancel := context.WithTimeout(ctx, rewriteTimeout)
	defer cancel()

	resp, err := genkit.Generate(ctx, g.g,
		ai.WithModelName(g.models.Tooling),
		ai.WithPrompt(rewritePrompt, transcript.String()),
	)
	if err != nil {
		g.logger.Debug("query rewrite failed, using raw text", "error", err)
		return raw
	}

	rewritten := strings.TrimSpace(resp.Text())
	if rewritten == "" {
		return raw
	}
	return rewritten
}

// artistNode calls image generation directly and reports the result as
// a thought-prefixed message. The skeleton brackets come from the node
// lifecycle events, not from tool events.
func (g *Graph) artistNode(ctx context.Context, messages []*ai.Message) ([]*ai.Message, error) {
	// Excise the command phrase, keeping any text around it.
	prompt := messageText(latestUserMessage(messages))
	if idx := strings.Index(strings.ToLower(prompt), imagePromptPrefix); idx != -1 {
		prompt = prompt[:idx] + prompt[idx+len(imagePromptPrefix):]
	}
	prompt = strings.TrimSpace(prompt)

	result := g.images.Generate(ctx, prompt)
	text := "THOUGHT: Generating image.\n" + result
	return []*ai.Message{ai.NewModelMessage(ai.NewTextPart(text))}, nil
}

// generalNode is the conversational terminal. It carries the answer
// formatting convention so the multiplexer can separate thought from
// answer, and the inline image directive the model may embed.
func (g *Graph) generalNode(ctx context.Context, messages []*ai.Message, in Input, sink Sink) ([]*ai.Message, error) {
	system := policy.BuildSystemPrompt(policy.RoleGeneral, in.Language, in.User) + "\n\n" + policy.AnswerFormatRules
	return g.generate(ctx, NodeGeneral, g.models.Tooling, system, messages, in, sink)
}

// textNode is the shared single-call terminal used by coder.
func (g *Graph) textNode(ctx context.Context, node Node, model string, role policy.Role, messages []*ai.Message, in Input, sink Sink) ([]*ai.Message, error) {
	system := policy.BuildSystemPrompt(role, in.Language, in.User)
	return g.generate(ctx, node, model, system, messages, in, sink)
}

// visionaryNode answers from the latest image-bearing message only, not
// the full history, keeping multimodal context small.
func (g *Graph) visionaryNode(ctx context.Context, messages []*ai.Message, in Input, sink Sink) ([]*ai.Message, error) {
	latest := latestUserMessage(messages)
	if latest == nil {
		return nil, fmt.Errorf("no user message to analyze")
	}
	system := policy.BuildSystemPrompt(policy.RoleVision, in.Language, in.User)
	return g.generate(ctx, NodeVisionary, g.models.Vision, system, []*ai.Message{latest}, in, sink)
}

// generate runs one streaming model call and returns the full response
// as a single appended assistant message.
func (g *Graph) generate(ctx context.Context, node Node, model, system string, messages []*ai.Message, in Input, sink Sink) ([]*ai.Message, error) {
	if in.Memory != "" {
		system += "\n\nRelevant context from past conversations:\n" + in.Memory
	}

	ctx, cancel := context.WithTimeout(ctx, modelCallTimeout)
	defer cancel()

	resp, err := genkit.Generate(ctx, g.g,
		ai.WithModelName(model),
		ai.WithSystem(system),
		ai.WithMessages(messages...),
		ai.WithStreaming(func(_ context.Context, chunk *ai.ModelResponseChunk) error {
			text := chunk.Text()
			if text == "" {
				return nil
			}
			return sink(Event{Kind: EventToken, Node: node, Text: text})
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%s model call: %w", node, err)
	}

	return []*ai.Message{ai.NewModelMessage(ai.NewTextPart(resp.Text()))}, nil
}
