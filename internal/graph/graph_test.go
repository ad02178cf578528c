package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hearthai/hearth/internal/core"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, e)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for graph events")
		}
	}
}

func simpleGraph(t *testing.T) *Graph {
	t.Helper()
	b := NewBuilder()
	b.SetEntry(func(core.AgentState) string { return "only" }, map[string]string{"only": "a"})
	b.AddNode("a", func(ctx context.Context, s core.AgentState, emit Emit) (core.AgentState, error) {
		s.Messages = append(s.Messages, core.NewAI("from-a"))
		return s, nil
	})
	b.AddEdge("a", "")
	g, err := b.Build()
	require.NoError(t, err)
	return g
}

func TestRunEmitsGraphEndWithFinalState(t *testing.T) {
	g := simpleGraph(t)
	events := drain(t, g.Run(context.Background(), core.AgentState{SessionID: "s1"}))
	require.Len(t, events, 1)
	require.Equal(t, EventGraphEnd, events[0].Type)
	require.Len(t, events[0].State.Messages, 1)
	require.Equal(t, "from-a", events[0].State.Messages[0].Content)
}

func TestBuildRejectsUnregisteredEdgeTarget(t *testing.T) {
	b := NewBuilder()
	b.SetEntry(func(core.AgentState) string { return "x" }, map[string]string{"x": "missing"})
	_, err := b.Build()
	require.Error(t, err)
}

func TestBuildRejectsMissingEntry(t *testing.T) {
	b := NewBuilder()
	_, err := b.Build()
	require.Error(t, err)
}

func TestRunPropagatesNodeError(t *testing.T) {
	b := NewBuilder()
	b.SetEntry(func(core.AgentState) string { return "only" }, map[string]string{"only": "a"})
	b.AddNode("a", func(ctx context.Context, s core.AgentState, emit Emit) (core.AgentState, error) {
		return s, errors.New("boom")
	})
	b.AddEdge("a", "")
	g, err := b.Build()
	require.NoError(t, err)

	events := drain(t, g.Run(context.Background(), core.AgentState{}))
	require.Len(t, events, 1)
	require.Error(t, events[0].Err)
}

func TestRunFollowsConditionalEdge(t *testing.T) {
	b := NewBuilder()
	b.SetEntry(func(core.AgentState) string { return "only" }, map[string]string{"only": "a"})
	b.AddNode("a", func(ctx context.Context, s core.AgentState, emit Emit) (core.AgentState, error) {
		return s, nil
	})
	b.AddNode("b", func(ctx context.Context, s core.AgentState, emit Emit) (core.AgentState, error) {
		s.Messages = append(s.Messages, core.NewAI("reached-b"))
		return s, nil
	})
	b.AddConditionalEdge("a", func(core.AgentState) string { return "go-b" }, map[string]string{"go-b": "b"})
	b.AddEdge("b", "")
	g, err := b.Build()
	require.NoError(t, err)

	events := drain(t, g.Run(context.Background(), core.AgentState{}))
	require.Equal(t, "reached-b", events[0].State.Messages[0].Content)
}

func TestRunEnforcesRecursionLimitOnReactReason(t *testing.T) {
	b := NewBuilder()
	b.SetEntry(func(core.AgentState) string { return "only" }, map[string]string{"only": "react-reason"})
	b.AddNode("react-reason", func(ctx context.Context, s core.AgentState, emit Emit) (core.AgentState, error) {
		s.Scratchpad = append(s.Scratchpad, core.Message{Kind: core.KindAI, ToolCalls: []core.ToolCall{{ID: "1", Name: "noop"}}})
		return s, nil
	})
	b.AddConditionalEdge("react-reason", ReactRoute, ReactTable)
	b.AddNode("tool-exec", func(ctx context.Context, s core.AgentState, emit Emit) (core.AgentState, error) { return s, nil })
	b.AddNode("synthesize-final", func(ctx context.Context, s core.AgentState, emit Emit) (core.AgentState, error) { return s, nil })
	b.AddEdge("tool-exec", "react-reason")
	b.AddEdge("synthesize-final", "")
	b.SetRecursionLimit(3)
	g, err := b.Build()
	require.NoError(t, err)

	events := drain(t, g.Run(context.Background(), core.AgentState{}))
	require.Len(t, events, 1)
	require.NotNil(t, events[0].State.AgentOutcome)
}

func TestReactRouteFinishWhenOutcomeSet(t *testing.T) {
	outcome := "done"
	require.Equal(t, "finish", ReactRoute(core.AgentState{AgentOutcome: &outcome}))
}

func TestReactRouteContinueWhenLastScratchpadHasToolCalls(t *testing.T) {
	state := core.AgentState{Scratchpad: []core.Message{{Kind: core.KindAI, ToolCalls: []core.ToolCall{{ID: "1"}}}}}
	require.Equal(t, "continue", ReactRoute(state))
}

func TestReactRouteFinishWhenNoToolCalls(t *testing.T) {
	state := core.AgentState{Scratchpad: []core.Message{{Kind: core.KindAI, Content: "ok"}}}
	require.Equal(t, "finish", ReactRoute(state))
}

func TestEntryRouteDispatchesByMode(t *testing.T) {
	require.Equal(t, "direct", EntryRoute(core.AgentState{Mode: "chat"}))
	require.Equal(t, "search", EntryRoute(core.AgentState{Mode: "search"}))
	require.Equal(t, "agent", EntryRoute(core.AgentState{Mode: "agent"}))
	require.Equal(t, "stats", EntryRoute(core.AgentState{Mode: "stats"}))
}
