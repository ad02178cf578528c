package facade

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/hearthai/hearth/internal/core"
	"github.com/hearthai/hearth/internal/graph"
	"github.com/hearthai/hearth/internal/session"
	"github.com/stretchr/testify/require"
)

func echoGraph(t *testing.T) *graph.Graph {
	t.Helper()
	b := graph.NewBuilder()
	b.SetEntry(func(core.AgentState) string { return "only" }, map[string]string{"only": "reply"})
	b.AddNode("reply", func(ctx context.Context, s core.AgentState, emit graph.Emit) (core.AgentState, error) {
		emit(graph.Event{Type: graph.EventChatModelStream, Content: "echo: " + s.Input})
		s.Messages = append(s.Messages, core.NewAI("echo: "+s.Input))
		return s, nil
	})
	b.AddEdge("reply", "")
	g, err := b.Build()
	require.NoError(t, err)
	return g
}

func drainEvents(t *testing.T, events <-chan graph.Event) []graph.Event {
	t.Helper()
	var out []graph.Event
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, e)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for facade events")
		}
	}
}

func TestProcessUserRequestAppendsHumanAndAIToHistory(t *testing.T) {
	store := session.NewInMemoryHistoryStore()
	f := New(session.NewManager(store), echoGraph(t), true)

	events := drainEvents(t, f.ProcessUserRequest(context.Background(), Request{Input: "hello", Mode: "direct", SessionID: "s1"}))
	require.NotEmpty(t, events)

	history, err := store.Load(context.Background(), "s1", 10)
	require.NoError(t, err)
	require.Len(t, history.Messages, 2)
	require.Equal(t, core.KindHuman, history.Messages[0].Kind)
	require.Equal(t, "hello", history.Messages[0].Content)
	require.Equal(t, core.KindAI, history.Messages[1].Kind)
}

func TestProcessUserRequestExtractsRoutingTag(t *testing.T) {
	store := session.NewInMemoryHistoryStore()
	f := New(session.NewManager(store), echoGraph(t), true)

	drainEvents(t, f.ProcessUserRequest(context.Background(), Request{Input: "<fast>hi</fast> do this", Mode: "chat", SessionID: "s1"}))

	history, _ := store.Load(context.Background(), "s1", 10)
	require.NotContains(t, history.Messages[0].Content, "<fast>")
	require.Contains(t, history.Messages[0].Content, "do this")
}

func TestProcessUserRequestForcesSkipWebSearchWhenPolicyDisallows(t *testing.T) {
	store := session.NewInMemoryHistoryStore()

	var sawSkip bool
	b := graph.NewBuilder()
	b.SetEntry(func(core.AgentState) string { return "only" }, map[string]string{"only": "capture"})
	b.AddNode("capture", func(ctx context.Context, s core.AgentState, emit graph.Emit) (core.AgentState, error) {
		sawSkip = s.SkipWebSearch
		return s, nil
	})
	b.AddEdge("capture", "")
	g, err := b.Build()
	require.NoError(t, err)

	f := New(session.NewManager(store), g, false)
	drainEvents(t, f.ProcessUserRequest(context.Background(), Request{Input: "search this", Mode: "search", SessionID: "s1"}))
	require.True(t, sawSkip)
}

func TestProcessAttachmentsRejectsOversizedContent(t *testing.T) {
	f := New(session.NewManager(nil), echoGraph(t), true)
	huge := strings.Repeat("a", searchAttachmentSizeCap*2)
	out := f.processAttachments([]core.Attachment{{Name: "big.txt", Content: huge}})
	require.Empty(t, out)
}

func TestProcessAttachmentsDecodesBase64Content(t *testing.T) {
	f := New(session.NewManager(nil), echoGraph(t), true)
	encoded := "aGVsbG8gd29ybGQgdGhpcyBpcyBhIGxvbmcgZW5vdWdoIHBheWxvYWQgdG8gdHJpZ2dlciBkZXRlY3Rpb24gb2YgYSBiYXNlNjQgZW5jb2RlZCBhdHRhY2htZW50"
	out := f.processAttachments([]core.Attachment{{Name: "a.txt", Content: encoded}})
	require.Len(t, out, 1)
	require.Contains(t, out[0].Content, "hello world")
}

func TestProcessAttachmentsPassesThroughPlainText(t *testing.T) {
	f := New(session.NewManager(nil), echoGraph(t), true)
	out := f.processAttachments([]core.Attachment{{Name: "a.txt", Content: "plain text content"}})
	require.Len(t, out, 1)
	require.Equal(t, "plain text content", out[0].Content)
}

func TestSanitizeUserInputTruncatesLongInput(t *testing.T) {
	long := strings.Repeat("x", maxUserInputChars+500)
	out := sanitizeUserInput(long)
	require.Len(t, out, maxUserInputChars)
}

func TestSanitizeUserInputStripsNullBytes(t *testing.T) {
	out := sanitizeUserInput("abc\x00def")
	require.Equal(t, "abcdef", out)
}

func TestExtractRoutingTagMapsPlanningToHigh(t *testing.T) {
	cleaned, mode := extractRoutingTag("<planning>plan this</planning> go")
	require.Equal(t, "high", mode)
	require.Equal(t, "go", cleaned)
}

func TestExtractRoutingTagReturnsEmptyModeWhenAbsent(t *testing.T) {
	cleaned, mode := extractRoutingTag("just a normal message")
	require.Equal(t, "", mode)
	require.Equal(t, "just a normal message", cleaned)
}

func TestProcessUserRequestTrimsHistoryToTokenBudget(t *testing.T) {
	store := session.NewInMemoryHistoryStore()
	require.NoError(t, store.Save(context.Background(), core.ChatHistory{
		SessionID: "s1",
		Messages: []core.Message{
			core.NewHuman(strings.Repeat("a", 4000)),
			core.NewAI(strings.Repeat("b", 4000)),
		},
	}))

	var seenMessages int
	b := graph.NewBuilder()
	b.SetEntry(func(core.AgentState) string { return "only" }, map[string]string{"only": "capture"})
	b.AddNode("capture", func(ctx context.Context, s core.AgentState, emit graph.Emit) (core.AgentState, error) {
		seenMessages = len(s.Messages)
		return s, nil
	})
	b.AddEdge("capture", "")
	g, err := b.Build()
	require.NoError(t, err)

	f := New(session.NewManager(store), g, true)
	f.MaxContextTokens = 10
	drainEvents(t, f.ProcessUserRequest(context.Background(), Request{Input: "hi", Mode: "direct", SessionID: "s1"}))
	require.LessOrEqual(t, seenMessages, 1)
}
