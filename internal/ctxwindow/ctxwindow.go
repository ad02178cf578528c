// Package ctxwindow trims chat history to fit a token budget ahead of a
// model call. It is a pure function over its inputs: no I/O beyond the
// caller-supplied token counter, and no side effects.
package ctxwindow

import (
	"context"
	"math"

	"github.com/hearthai/hearth/internal/core"
)

// Counter estimates the token cost of a message, typically backed by a
// runner's tokenize RPC. It may return an error (e.g. the backend is
// unreachable); callers fall back to estimateTokens on any failure.
type Counter func(ctx context.Context, content string) (int, error)

// BuildLocalContext walks history newest-first, keeping messages until
// adding the next one would exceed maxTokens — but always keeps at least
// the newest message so a non-empty history never trims to nothing. It
// returns the kept messages in original (oldest-first) order and their
// total estimated token count.
func BuildLocalContext(ctx context.Context, history core.ChatHistory, maxTokens int, counter Counter) (core.ChatHistory, int) {
	messages := history.Messages
	if len(messages) == 0 {
		return history, 0
	}

	var kept []core.Message
	total := 0
	for i := len(messages) - 1; i >= 0; i-- {
		cost := countTokens(ctx, messages[i].Content, counter)
		if len(kept) > 0 && total+cost > maxTokens {
			break
		}
		kept = append(kept, messages[i])
		total += cost
	}

	out := history
	out.Messages = reverse(kept)
	return out, total
}

func countTokens(ctx context.Context, content string, counter Counter) int {
	if counter != nil {
		if n, err := counter(ctx, content); err == nil {
			return n
		}
	}
	return estimateTokens(content)
}

// estimateTokens is a character-count fallback used when no counter is set
// or the counter fails: ceil(len/4), and 0 for empty content (unlike the
// Process Runner's estimate, which never goes below 1).
func estimateTokens(content string) int {
	if content == "" {
		return 0
	}
	return int(math.Ceil(float64(len(content)) / 4))
}

func reverse(msgs []core.Message) []core.Message {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs
}
