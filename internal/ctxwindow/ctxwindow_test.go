package ctxwindow

import (
	"context"
	"errors"
	"testing"

	"github.com/hearthai/hearth/internal/core"
	"github.com/stretchr/testify/require"
)

func historyOf(contents ...string) core.ChatHistory {
	var msgs []core.Message
	for _, c := range contents {
		msgs = append(msgs, core.NewHuman(c))
	}
	return core.ChatHistory{SessionID: "s1", Messages: msgs}
}

func TestBuildLocalContextEmptyHistory(t *testing.T) {
	out, total := BuildLocalContext(context.Background(), core.ChatHistory{}, 100, nil)
	require.Empty(t, out.Messages)
	require.Equal(t, 0, total)
}

func TestBuildLocalContextKeepsAtLeastNewestMessage(t *testing.T) {
	history := historyOf("short", "a very very very very very very very long message indeed")
	out, _ := BuildLocalContext(context.Background(), history, 1, nil)
	require.Len(t, out.Messages, 1)
	require.Equal(t, "a very very very very very very very long message indeed", out.Messages[0].Content)
}

func TestBuildLocalContextKeepsOldestFirstOrder(t *testing.T) {
	history := historyOf("one", "two", "three")
	out, total := BuildLocalContext(context.Background(), history, 1000, nil)
	require.Equal(t, []string{"one", "two", "three"}, contents(out))
	require.Greater(t, total, 0)
}

func TestBuildLocalContextStopsBeforeExceedingBudget(t *testing.T) {
	history := historyOf("aaaa", "bbbb", "cccc")
	out, total := BuildLocalContext(context.Background(), history, 2, nil)
	require.Equal(t, []string{"bbbb", "cccc"}, contents(out))
	require.LessOrEqual(t, total, 2)
}

func TestBuildLocalContextFallsBackToEstimateOnCounterError(t *testing.T) {
	history := historyOf("abcd")
	failing := func(ctx context.Context, content string) (int, error) { return 0, errors.New("unreachable") }
	out, total := BuildLocalContext(context.Background(), history, 10, failing)
	require.Len(t, out.Messages, 1)
	require.Equal(t, 1, total)
}

func TestEstimateTokensCeilsOverFour(t *testing.T) {
	require.Equal(t, 0, estimateTokens(""))
	require.Equal(t, 1, estimateTokens("abc"))
	require.Equal(t, 2, estimateTokens("abcde"))
}

func contents(h core.ChatHistory) []string {
	out := make([]string, len(h.Messages))
	for i, m := range h.Messages {
		out[i] = m.Content
	}
	return out
}
