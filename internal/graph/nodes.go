package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/hearthai/hearth/internal/core"
	"github.com/hearthai/hearth/internal/observability"
	"github.com/hearthai/hearth/internal/rag"
)

// ChatModel is the subset of the LLM Service a graph node needs: produce one
// assistant turn from a message history, optionally offering tool schemas.
type ChatModel interface {
	Complete(ctx context.Context, messages []core.Message, toolNames []string, onDelta func(string)) (core.Message, []core.TokenLogprob, error)
}

// Searcher performs a web search for one query and returns a flat list of
// result snippets.
type Searcher interface {
	Search(ctx context.Context, query string) ([]string, error)
}

// ToolExecutor runs one tool call by name, returning its raw result — never
// a Go error, matching the tool fabric's envelope-on-failure contract.
type ToolExecutor interface {
	ExecuteToolCall(ctx context.Context, name string, args map[string]any) any
}

// EpisodicMemory is the subset of the episodic store a graph needs to form
// and recall memory for a turn. A nil EpisodicMemory disables the memory
// subsystem entirely, giving the no-memory compiled variant.
type EpisodicMemory interface {
	FormFromTurn(ctx context.Context, sessionID string, messages []core.Message, logprobs []core.TokenLogprob) error
	Recall(ctx context.Context, query string, k int) ([]core.RetrievedEpisode, error)
}

// ContextBuilder is the subset of *rag.Engine a graph node needs: collect
// attachment/web chunks and rank them into a context block for a query.
// A nil ContextBuilder disables RAG entirely — search-summarize falls
// back to search results only.
type ContextBuilder interface {
	CollectChunks(ctx context.Context, opts rag.CollectOptions) []rag.Chunk
	BuildContext(ctx context.Context, chunks []rag.Chunk, query string) (string, error)
}

// Registry holds the dependencies every node closure needs. Build populates
// a Builder's node table from it; the same Registry backs both compiled
// variants, distinguished only by whether Memory is non-nil.
type Registry struct {
	Chat    ChatModel
	Search  Searcher
	Tools   ToolExecutor
	Memory  EpisodicMemory
	RAG     ContextBuilder
	System  string
	RecallK int
}

// EntryRoute maps state.Mode to the four entry routes: direct, search,
// agent, stats. Unrecognized modes fall back to direct.
func EntryRoute(state core.AgentState) string {
	switch state.Mode {
	case "search":
		return "search"
	case "agent":
		return "agent"
	case "stats":
		return "stats"
	default:
		return "direct"
	}
}

// EntryTable is the fixed dispatch table for EntryRoute's keys.
var EntryTable = map[string]string{
	"direct": "direct-answer",
	"search": "search-query-gen",
	"agent":  "order-gen",
	"stats":  "stats",
}

// ReactRoute implements the ReAct termination rule: if agentOutcome is set,
// finish; else if the last scratchpad message is an AI message with tool
// calls, continue to tool-exec; else finish.
func ReactRoute(state core.AgentState) string {
	if state.AgentOutcome != nil {
		return "finish"
	}
	if n := len(state.Scratchpad); n > 0 {
		last := state.Scratchpad[n-1]
		if last.Kind == core.KindAI && len(last.ToolCalls) > 0 {
			return "continue"
		}
	}
	return "finish"
}

// ReactTable is the fixed dispatch table for ReactRoute's keys.
var ReactTable = map[string]string{
	"continue": "tool-exec",
	"finish":   "synthesize-final",
}

// entryStart is the single routing key the graph's literal entry point
// resolves to; memory-retrieval is always the first node to run, before
// state.Mode picks a pipeline.
const entryStart = "start"

// startRoute is the Builder's entry RouteFunc: there is only ever one
// target, memory-retrieval, regardless of state.
func startRoute(core.AgentState) string { return entryStart }

// Build registers every shared node under reg into b, including
// memory-formation (a no-op when reg.Memory is nil), and wires the route
// table from spec.
func (reg *Registry) Build(b *Builder) *Builder {
	b.SetEntry(startRoute, map[string]string{entryStart: "memory-retrieval"})

	b.AddNode("memory-retrieval", reg.memoryRetrieval)
	b.AddNode("direct-answer", reg.directAnswer)
	b.AddNode("search-query-gen", reg.searchQueryGen)
	b.AddNode("search-exec", reg.searchExec)
	b.AddNode("search-summarize", reg.searchSummarize)
	b.AddNode("order-gen", reg.orderGen)
	b.AddNode("react-reason", reg.reactReason)
	b.AddNode("tool-exec", reg.toolExec)
	b.AddNode("scratchpad-update", reg.scratchpadUpdate)
	b.AddNode("synthesize-final", reg.synthesizeFinal)
	b.AddNode("stats", reg.stats)
	b.AddNode("memory-formation", reg.memoryFormation)
	b.AddNode("stats-after-memory", reg.stats)

	// memory-retrieval runs once before the mode route picks a pipeline,
	// then dispatches by the same EntryRoute/EntryTable state.Mode would
	// have used directly — so synthesizedMemory is populated before any
	// node generates a reply.
	b.AddConditionalEdge("memory-retrieval", EntryRoute, EntryTable)

	b.AddEdge("search-query-gen", "search-exec")
	b.AddEdge("search-exec", "search-summarize")
	b.AddEdge("order-gen", "react-reason")
	b.AddConditionalEdge("react-reason", ReactRoute, ReactTable)
	b.AddEdge("tool-exec", "scratchpad-update")
	b.AddEdge("scratchpad-update", "react-reason")

	for _, terminal := range []string{"direct-answer", "search-summarize", "synthesize-final", "stats"} {
		b.AddEdge(terminal, "memory-formation")
	}
	b.AddConditionalEdge("memory-formation", statsOrEndRoute, map[string]string{
		"stats": "stats-after-memory",
		"end":   "",
	})
	b.AddEdge("stats-after-memory", "")

	return b
}

// statsOrEndRoute implements memory-formation's "stats-or-end" branch: a
// turn that entered via the stats route re-renders stats once after memory
// is committed (so the reported counts include this turn) and then ends;
// every other mode simply ends.
func statsOrEndRoute(state core.AgentState) string {
	if state.Mode == "stats" {
		return "stats"
	}
	return "end"
}

// defaultRecallK is used when a Registry doesn't set RecallK explicitly.
const defaultRecallK = 10

// noMemoryPlaceholder is the synthesizedMemory value used whenever
// retrieval is unavailable, fails, or finds nothing — per spec, retrieval
// failure yields [] and a placeholder string rather than an empty one.
const noMemoryPlaceholder = "No relevant memory is available for this turn."

// memoryRetrieval is the graph's literal entry node: it recalls episodes
// relevant to the turn's input and renders them into synthesizedMemory
// before any pipeline-specific node generates a reply, matching the
// retrieval-before-generation control flow.
func (reg *Registry) memoryRetrieval(ctx context.Context, state core.AgentState, emit Emit) (core.AgentState, error) {
	out := state.Clone()
	if reg.Memory == nil || out.Input == "" {
		out.RecalledEpisodes = nil
		placeholder := noMemoryPlaceholder
		out.SynthesizedMemory = &placeholder
		return out, nil
	}

	k := reg.RecallK
	if k <= 0 {
		k = defaultRecallK
	}
	episodes, err := reg.Memory.Recall(ctx, out.Input, k)
	if err != nil {
		out.RecalledEpisodes = nil
		placeholder := noMemoryPlaceholder
		out.SynthesizedMemory = &placeholder
		return out, nil
	}

	out.RecalledEpisodes = episodes
	synthesized := renderSynthesizedMemory(episodes)
	out.SynthesizedMemory = &synthesized
	return out, nil
}

// renderSynthesizedMemory folds recalled episodes into the text injected
// into a node's prompt, preferring each episode's summary over its raw
// content.
func renderSynthesizedMemory(episodes []core.RetrievedEpisode) string {
	if len(episodes) == 0 {
		return noMemoryPlaceholder
	}
	var sb strings.Builder
	for _, ep := range episodes {
		text := ep.Summary
		if text == "" {
			text = ep.Content
		}
		if text == "" {
			continue
		}
		sb.WriteString("- " + text + "\n")
	}
	if sb.Len() == 0 {
		return noMemoryPlaceholder
	}
	return strings.TrimSpace(sb.String())
}

// composedSystem folds the turn's recalled memory into a system prompt
// base, so every generating node sees the same memory context the spec
// requires be available before generation.
func composedSystem(system string, out core.AgentState) string {
	mem := ""
	if out.SynthesizedMemory != nil {
		mem = *out.SynthesizedMemory
	}
	if mem == "" {
		return system
	}
	block := "Relevant memory from past turns:\n" + mem
	if system == "" {
		return block
	}
	return system + "\n\n" + block
}

func (reg *Registry) directAnswer(ctx context.Context, state core.AgentState, emit Emit) (core.AgentState, error) {
	out := state.Clone()
	history := append(systemPrefix(composedSystem(reg.System, out)), out.Messages...)
	history = append(history, core.NewHuman(out.Input))

	reply, _, err := reg.Chat.Complete(ctx, history, nil, func(delta string) {
		emit(Event{Type: EventChatModelStream, Node: "direct-answer", Content: delta})
	})
	if err != nil {
		return out, fmt.Errorf("direct-answer: %w", err)
	}
	out.Messages = append(out.Messages, reply)
	return out, nil
}

func (reg *Registry) searchQueryGen(ctx context.Context, state core.AgentState, emit Emit) (core.AgentState, error) {
	out := state.Clone()
	if out.SkipWebSearch {
		out.SearchQueries = []string{out.Input}
		return out, nil
	}
	history := append(systemPrefix("Produce a short list of focused web search queries for the user's request. Respond with one query per line."), core.NewHuman(out.Input))
	reply, _, err := reg.Chat.Complete(ctx, history, nil, nil)
	if err != nil {
		return out, fmt.Errorf("search-query-gen: %w", err)
	}
	var queries []string
	for _, line := range strings.Split(reply.Content, "\n") {
		if q := strings.TrimSpace(line); q != "" {
			queries = append(queries, q)
		}
	}
	if len(queries) == 0 {
		queries = []string{out.Input}
	}
	out.SearchQueries = queries
	return out, nil
}

func (reg *Registry) searchExec(ctx context.Context, state core.AgentState, emit Emit) (core.AgentState, error) {
	out := state.Clone()
	if reg.Search == nil || out.SkipWebSearch {
		return out, nil
	}
	for _, q := range out.SearchQueries {
		results, err := reg.Search.Search(ctx, q)
		if err != nil {
			continue
		}
		out.SearchResults = append(out.SearchResults, core.SearchGroup{Query: q, Results: results})
	}
	return out, nil
}

func (reg *Registry) searchSummarize(ctx context.Context, state core.AgentState, emit Emit) (core.AgentState, error) {
	out := state.Clone()
	var sb strings.Builder
	for _, g := range out.SearchResults {
		sb.WriteString("Query: " + g.Query + "\n")
		for _, r := range g.Results {
			sb.WriteString("- " + r + "\n")
		}
	}

	base := "Using the material below, answer the user's question concisely, citing nothing beyond what is given.\n\n"
	if sb.Len() > 0 {
		base += "Search results:\n" + sb.String() + "\n"
	}
	if ragContext := reg.buildRAGContext(ctx, out); ragContext != "" {
		base += "Retrieved context:\n" + ragContext + "\n"
	}

	instructions := composedSystem(base, out)
	history := append(systemPrefix(instructions), core.NewHuman(out.Input))
	reply, _, err := reg.Chat.Complete(ctx, history, nil, func(delta string) {
		emit(Event{Type: EventChatModelStream, Node: "search-summarize", Content: delta})
	})
	if err != nil {
		return out, fmt.Errorf("search-summarize: %w", err)
	}
	out.Messages = append(out.Messages, reply)
	return out, nil
}

// buildRAGContext collects chunks from the turn's attachments, plus the
// input URL's fetched content when web search was not skipped, and ranks
// them against the input — letting the attachment-only path (web search
// skipped, no search results) still produce grounded content.
func (reg *Registry) buildRAGContext(ctx context.Context, out core.AgentState) string {
	if reg.RAG == nil {
		return ""
	}
	opts := rag.CollectOptions{
		Attachments:  out.Attachments,
		SkipWebFetch: out.SkipWebSearch,
	}
	if !out.SkipWebSearch && isFetchableURL(out.Input) {
		opts.TopURL = out.Input
	}
	chunks := reg.RAG.CollectChunks(ctx, opts)
	if len(chunks) == 0 {
		return ""
	}
	context, err := reg.RAG.BuildContext(ctx, chunks, out.Input)
	if err != nil {
		return ""
	}
	return context
}

func isFetchableURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func (reg *Registry) orderGen(ctx context.Context, state core.AgentState, emit Emit) (core.AgentState, error) {
	out := state.Clone()
	if sys := composedSystem(reg.System, out); sys != "" {
		out.Scratchpad = append(out.Scratchpad, core.NewSystem(sys))
	}
	out.Scratchpad = append(out.Scratchpad, core.NewHuman(out.Input))
	return out, nil
}

func (reg *Registry) reactReason(ctx context.Context, state core.AgentState, emit Emit) (core.AgentState, error) {
	out := state.Clone()
	reply, logprobs, err := reg.Chat.Complete(ctx, out.Scratchpad, toolNames(reg.Tools), func(delta string) {
		emit(Event{Type: EventChatModelStream, Node: "react-reason", Content: delta})
	})
	if err != nil {
		return out, fmt.Errorf("react-reason: %w", err)
	}
	out.Scratchpad = append(out.Scratchpad, reply)
	out.GenerationLogprobs = append(out.GenerationLogprobs, logprobs...)
	if !reply.HasToolCalls() {
		outcome := reply.Content
		out.AgentOutcome = &outcome
	}
	return out, nil
}

func (reg *Registry) toolExec(ctx context.Context, state core.AgentState, emit Emit) (core.AgentState, error) {
	out := state.Clone()
	if len(out.Scratchpad) == 0 || reg.Tools == nil {
		return out, nil
	}
	last := out.Scratchpad[len(out.Scratchpad)-1]
	for _, tc := range last.ToolCalls {
		result := reg.Tools.ExecuteToolCall(ctx, tc.Name, tc.Args)
		content := resultToString(result)
		out.Scratchpad = append(out.Scratchpad, core.NewToolResult(tc.ID, content))
	}
	return out, nil
}

func (reg *Registry) scratchpadUpdate(ctx context.Context, state core.AgentState, emit Emit) (core.AgentState, error) {
	return state.Clone(), nil
}

func (reg *Registry) synthesizeFinal(ctx context.Context, state core.AgentState, emit Emit) (core.AgentState, error) {
	out := state.Clone()
	content := ""
	if out.AgentOutcome != nil {
		content = *out.AgentOutcome
	}
	out.Messages = append(out.Messages, core.NewAI(content))
	return out, nil
}

func (reg *Registry) stats(ctx context.Context, state core.AgentState, emit Emit) (core.AgentState, error) {
	out := state.Clone()
	summary := fmt.Sprintf("session %s: %d scratchpad entries, %d messages", out.SessionID, len(out.Scratchpad), len(out.Messages))
	out.Messages = append(out.Messages, core.NewAI(summary))
	return out, nil
}

// memoryFormation runs once generation is complete, folding the turn's
// messages into new episodic events. Retrieval already happened in
// memory-retrieval before generation; formation failures are logged and
// swallowed per spec, never failing the turn.
func (reg *Registry) memoryFormation(ctx context.Context, state core.AgentState, emit Emit) (core.AgentState, error) {
	out := state.Clone()
	if reg.Memory == nil {
		return out, nil
	}
	if err := reg.Memory.FormFromTurn(ctx, out.SessionID, out.Messages, out.GenerationLogprobs); err != nil {
		observability.LoggerWithTrace(ctx).Error().Err(err).Str("session_id", out.SessionID).Msg("memory formation failed")
	}
	return out, nil
}

func systemPrefix(system string) []core.Message {
	if system == "" {
		return nil
	}
	return []core.Message{core.NewSystem(system)}
}

func toolNames(tools ToolExecutor) []string {
	if tools == nil {
		return nil
	}
	type namer interface{ ToolNames() []string }
	if n, ok := tools.(namer); ok {
		return n.ToolNames()
	}
	return nil
}

func resultToString(result any) string {
	if s, ok := result.(string); ok {
		return s
	}
	b, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(b)
}
