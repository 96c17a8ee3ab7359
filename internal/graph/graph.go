// Package graph implements the agent routing state machine: a
// supervisor picks one specialist node per turn, the node calls models
// and tools against the accumulated conversation, and every node
// reports its progress through an ordered event stream.
package graph

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/harshtiwari/haral/internal/log"
	"github.com/harshtiwari/haral/internal/policy"
	"github.com/harshtiwari/haral/internal/tools"
)

// Node identifies one step of the agent graph.
type Node string

const (
	NodeSupervisor Node = "supervisor"
	NodeResearcher Node = "researcher"
	NodeCoder      Node = "coder"
	NodeArtist     Node = "artist"
	NodeVisionary  Node = "visionary"
	NodeGeneral    Node = "general"

	// nodeEnd terminates the run. Not a real node.
	nodeEnd Node = ""
)

// EventKind discriminates graph events.
type EventKind int

const (
	EventNodeStart EventKind = iota
	EventNodeEnd
	EventToolStart
	EventToolEnd
	EventToken
)

// Event is one unit of the graph's ordered progress stream.
type Event struct {
	Kind EventKind
	Node Node

	// Tool is set on EventToolStart and EventToolEnd.
	Tool string

	// Text carries a token delta (EventToken) or a tool result
	// (EventToolEnd).
	Text string

	// Delta holds the messages the node appended, set on EventNodeEnd.
	Delta []*ai.Message
}

// Sink receives graph events in order. A non-nil return aborts the run;
// it is how client disconnects propagate back into the graph.
type Sink func(Event) error

// Models names the model per capability tier.
type Models struct {
	// Tooling handles routing, query rewriting, and general chat.
	Tooling string
	// Reasoning handles the coder node.
	Reasoning string
	// Vision handles image-bearing messages.
	Vision string
}

// Input is one graph run's request.
type Input struct {
	Messages []*ai.Message
	Language string
	User     policy.UserContext

	// Memory is retrieved long-term context, injected into the system
	// prompt of text nodes when non-empty.
	Memory string
}

// Graph wires the supervisor and specialist nodes to their models and
// tools.
type Graph struct {
	g      *genkit.Genkit
	models Models
	tools  *tools.Registry
	search *tools.Searcher
	images *tools.ImageGenerator
	logger log.Logger
}

// New creates a Graph.
func New(g *genkit.Genkit, models Models, registry *tools.Registry, search *tools.Searcher, images *tools.ImageGenerator, logger log.Logger) *Graph {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Graph{
		g:      g,
		models: models,
		tools:  registry,
		search: search,
		images: images,
		logger: logger,
	}
}

// edges is the static transition table. Research output always flows
// into the general node so findings get summarized in prose; every
// other specialist terminates the run.
var edges = map[Node]Node{
	NodeResearcher: NodeGeneral,
	NodeCoder:      nodeEnd,
	NodeArtist:     nodeEnd,
	NodeVisionary:  nodeEnd,
	NodeGeneral:    nodeEnd,
}

// state is the per-run conversation accumulator. Nodes return deltas;
// only the runner appends.
type state struct {
	messages []*ai.Message
	appended []*ai.Message
}

func (s *state) append(delta []*ai.Message) {
	s.messages = append(s.messages, delta...)
	s.appended = append(s.appended, delta...)
}

// Run executes one turn: route once at the supervisor, then walk the
// transition table until a terminal node. The returned messages are the
// run's appended delta, for the caller to persist. Node failures are
// contained as assistant messages; only context cancellation and sink
// errors escape.
func (g *Graph) Run(ctx context.Context, in Input, sink Sink) ([]*ai.Message, error) {
	st := &state{messages: copyMessages(in.Messages)}

	next := g.route(ctx, st.messages)
	g.logger.Debug("supervisor routed turn", "node", next)

	for next != nodeEnd {
		if err := ctx.Err(); err != nil {
			return st.appended, err
		}
		if err := sink(Event{Kind: EventNodeStart, Node: next}); err != nil {
			return st.appended, err
		}

		delta, err := g.runNode(ctx, next, st, in, sink)
		if err != nil {
			if ctx.Err() != nil {
				return st.appended, ctx.Err()
			}
			g.logger.Warn("node failed, recovering", "node", next, "error", err)
			delta, err = g.recoverNode(next, err, sink)
			if err != nil {
				return st.appended, err
			}
		}
		st.append(delta)

		if err := sink(Event{Kind: EventNodeEnd, Node: next, Delta: delta}); err != nil {
			return st.appended, err
		}
		next = edges[next]
	}

	return st.appended, nil
}

// runNode dispatches to one node implementation.
func (g *Graph) runNode(ctx context.Context, node Node, st *state, in Input, sink Sink) ([]*ai.Message, error) {
	switch node {
	case NodeResearcher:
		return g.researcherNode(ctx, st.messages, in, sink)
	case NodeArtist:
		return g.artistNode(ctx, st.messages)
	case NodeCoder:
		return g.textNode(ctx, NodeCoder, g.models.Reasoning, policy.RoleCoder, st.messages, in, sink)
	case NodeGeneral:
		return g.generalNode(ctx, st.messages, in, sink)
	case NodeVisionary:
		return g.visionaryNode(ctx, st.messages, in, sink)
	default:
		return nil, fmt.Errorf("unknown node %q", node)
	}
}

// recoverNode converts a node failure into a single assistant message.
// Terminal nodes additionally stream the text, since nothing downstream
// would otherwise surface it to the client.
func (g *Graph) recoverNode(node Node, nodeErr error, sink Sink) ([]*ai.Message, error) {
	text := fmt.Sprintf("I ran into a problem while working on that: %v", nodeErr)
	if edges[node] == nodeEnd {
		if err := sink(Event{Kind: EventToken, Node: node, Text: text}); err != nil {
			return nil, err
		}
	}
	return []*ai.Message{ai.NewModelMessage(ai.NewTextPart(text))}, nil
}

// copyMessages shallow-copies the slice and each message so the run can
// append without racing the session history.
func copyMessages(msgs []*ai.Message) []*ai.Message {
	out := make([]*ai.Message, len(msgs))
	for i, m := range msgs {
		cp := *m
		cp.Content = append([]*ai.Part(nil), m.Content...)
		out[i] = &cp
	}
	return out
}
