// Package graph implements the Graph Runtime: a typed-state, node-indexed,
// condition-branched executor. Nodes are plain functions over the full
// core.AgentState rather than partial-dict patches — each node reads the
// fields it needs and returns a state value with only the fields it owns
// changed, which has the same observable effect as the field-wise-overwrite
// merge without a separate merge step.
package graph

import (
	"context"
	"fmt"

	"github.com/hearthai/hearth/internal/core"
)

// EventType distinguishes the two event kinds a run streams to its caller.
type EventType string

const (
	EventChatModelStream EventType = "on_chat_model_stream"
	EventGraphEnd        EventType = "on_graph_end"
)

// Event is one item streamed out of Run. Content is set for stream chunks;
// State is set on the terminal on_graph_end event.
type Event struct {
	Type    EventType
	Node    string
	Content string
	State   core.AgentState
	Err     error
}

// Emit lets a node push intermediate stream events (typically token deltas
// from a chat model call) without owning the run's event channel directly.
type Emit func(Event)

// NodeFunc is one graph node: given the current state, produce the next
// state. Node errors abort the run; the runtime reports them via an
// on_graph_end event with Err set.
type NodeFunc func(ctx context.Context, state core.AgentState, emit Emit) (core.AgentState, error)

// RouteFunc picks the next node name given the current state.
type RouteFunc func(state core.AgentState) string

const endNode = "__end__"

// Builder assembles a Graph's node and edge tables before compilation.
type Builder struct {
	nodes            map[string]NodeFunc
	staticEdges      map[string]string
	conditionalEdges map[string]conditionalEdge
	entryRoute       RouteFunc
	entryTable       map[string]string
	recursionLimit   int
}

type conditionalEdge struct {
	route RouteFunc
	table map[string]string
}

// NewBuilder returns an empty Builder with the default recursion limit.
func NewBuilder() *Builder {
	return &Builder{
		nodes:            map[string]NodeFunc{},
		staticEdges:      map[string]string{},
		conditionalEdges: map[string]conditionalEdge{},
		recursionLimit:   defaultRecursionLimit,
	}
}

// AddNode registers a node under name, overwriting any prior registration —
// this is how the two compiled variants share most of one node registry
// while swapping a handful of entries (e.g. memory-formation).
func (b *Builder) AddNode(name string, fn NodeFunc) *Builder {
	b.nodes[name] = fn
	return b
}

// AddEdge wires an unconditional from → to transition. Passing "" as to
// routes to the graph's end.
func (b *Builder) AddEdge(from, to string) *Builder {
	if to == "" {
		to = endNode
	}
	b.staticEdges[from] = to
	return b
}

// AddConditionalEdge wires from → route(state) → table[routeKey].
func (b *Builder) AddConditionalEdge(from string, route RouteFunc, table map[string]string) *Builder {
	b.conditionalEdges[from] = conditionalEdge{route: route, table: table}
	return b
}

// SetEntry wires the graph's entry point to a routing function and table,
// mirroring the four entry routes (direct/search/agent/stats).
func (b *Builder) SetEntry(route RouteFunc, table map[string]string) *Builder {
	b.entryRoute = route
	b.entryTable = table
	return b
}

// SetRecursionLimit overrides the default react-reason entry cap.
func (b *Builder) SetRecursionLimit(n int) *Builder {
	b.recursionLimit = n
	return b
}

// Build validates every declared edge target is a registered node (or the
// end sentinel) and returns a compiled Graph.
func (b *Builder) Build() (*Graph, error) {
	if b.entryRoute == nil {
		return nil, fmt.Errorf("graph: no entry point set")
	}
	for key, target := range b.entryTable {
		if target != endNode {
			if _, ok := b.nodes[target]; !ok {
				return nil, fmt.Errorf("graph: entry route %q targets unregistered node %q", key, target)
			}
		}
	}
	for from, target := range b.staticEdges {
		if target != endNode {
			if _, ok := b.nodes[target]; !ok {
				return nil, fmt.Errorf("graph: edge from %q targets unregistered node %q", from, target)
			}
		}
	}
	for from, edge := range b.conditionalEdges {
		if _, ok := b.nodes[from]; !ok {
			return nil, fmt.Errorf("graph: conditional edge declared from unregistered node %q", from)
		}
		for key, target := range edge.table {
			if target != endNode {
				if _, ok := b.nodes[target]; !ok {
					return nil, fmt.Errorf("graph: conditional edge from %q route %q targets unregistered node %q", from, key, target)
				}
			}
		}
	}

	limit := b.recursionLimit
	if limit <= 0 {
		limit = defaultRecursionLimit
	}

	return &Graph{
		nodes:            b.nodes,
		staticEdges:      b.staticEdges,
		conditionalEdges: b.conditionalEdges,
		entryRoute:       b.entryRoute,
		entryTable:       b.entryTable,
		recursionLimit:   limit,
	}, nil
}

// Graph is a compiled, immutable executor. A single Graph value is safe to
// run concurrently from multiple goroutines since Run never mutates it.
type Graph struct {
	nodes            map[string]NodeFunc
	staticEdges      map[string]string
	conditionalEdges map[string]conditionalEdge
	entryRoute       RouteFunc
	entryTable       map[string]string
	recursionLimit   int
}

const defaultRecursionLimit = 50

// Run executes the graph from the given initial state, streaming events on
// the returned channel. The channel is closed after the terminal
// on_graph_end event. Run never panics on a node error; it reports the
// error on the terminal event and stops.
func (g *Graph) Run(ctx context.Context, initial core.AgentState) <-chan Event {
	out := make(chan Event, 8)
	go g.run(ctx, initial, out)
	return out
}

func (g *Graph) run(ctx context.Context, state core.AgentState, out chan<- Event) {
	defer close(out)

	emit := func(e Event) {
		select {
		case out <- e:
		case <-ctx.Done():
		}
	}

	entryKey := g.entryRoute(state)
	current, ok := g.entryTable[entryKey]
	if !ok {
		emit(Event{Type: EventGraphEnd, State: state, Err: fmt.Errorf("graph: entry route key %q has no target", entryKey)})
		return
	}

	for current != endNode && current != "" {
		if err := ctx.Err(); err != nil {
			emit(Event{Type: EventGraphEnd, State: state, Err: err})
			return
		}

		if current == "react-reason" {
			state.ReactEntries++
			if state.ReactEntries > g.recursionLimit {
				state = summarizeOnRecursionLimit(state)
				current = endNode
				break
			}
		}

		node, ok := g.nodes[current]
		if !ok {
			emit(Event{Type: EventGraphEnd, State: state, Err: fmt.Errorf("graph: no node registered for %q", current)})
			return
		}

		next, err := node(ctx, state, emit)
		if err != nil {
			emit(Event{Type: EventGraphEnd, State: state, Err: fmt.Errorf("graph: node %q: %w", current, err)})
			return
		}
		state = next

		if edge, ok := g.conditionalEdges[current]; ok {
			key := edge.route(state)
			target, ok := edge.table[key]
			if !ok {
				emit(Event{Type: EventGraphEnd, State: state, Err: fmt.Errorf("graph: node %q route key %q has no target", current, key)})
				return
			}
			current = target
			continue
		}

		target, ok := g.staticEdges[current]
		if !ok {
			current = endNode
			continue
		}
		current = target
	}

	emit(Event{Type: EventGraphEnd, State: state})
}

// summarizeOnRecursionLimit is invoked when react-reason has run past the
// recursion limit: the scratchpad is folded into agentOutcome so the graph
// still produces a usable answer instead of looping forever.
func summarizeOnRecursionLimit(state core.AgentState) core.AgentState {
	out := state.Clone()
	summary := "Reached the reasoning step limit before finishing; returning the best answer so far."
	for i := len(out.Scratchpad) - 1; i >= 0; i-- {
		if out.Scratchpad[i].Kind == core.KindAI && out.Scratchpad[i].Content != "" {
			summary = out.Scratchpad[i].Content
			break
		}
	}
	out.AgentOutcome = &summary
	return out
}
