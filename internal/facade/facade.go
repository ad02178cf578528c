// Package facade wires every component into the single entry point a
// caller drives a conversational turn through: Facade.ProcessUserRequest.
package facade

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/hearthai/hearth/internal/core"
	"github.com/hearthai/hearth/internal/ctxwindow"
	"github.com/hearthai/hearth/internal/graph"
	"github.com/hearthai/hearth/internal/observability"
	"github.com/hearthai/hearth/internal/session"
)

const (
	defaultHistoryLimit     = 20
	maxUserInputChars       = 8000
	base64DetectMinLen      = 100
	searchAttachmentSizeCap = 200_000
)

var base64Pattern = regexp.MustCompile(`^[A-Za-z0-9+/]+={0,2}$`)

var routingTagPattern = regexp.MustCompile(`<(planning|high|fast|direct|chat)>.*?</(?:planning|high|fast|direct|chat)>`)
var routingTagOpen = regexp.MustCompile(`<(planning|high|fast|direct|chat)>`)

// routingTagMode maps a routing tag to the agent mode it forces.
var routingTagMode = map[string]string{
	"planning": "high",
	"high":     "high",
	"fast":     "fast",
	"direct":   "direct",
	"chat":     "chat",
}

// Facade is the single entry point for processing a conversational turn.
type Facade struct {
	Sessions *session.Manager
	Graph    *graph.Graph

	// AllowWebSearch mirrors the privacy policy flag: when false, search
	// mode is forced to skip the web fetch regardless of the caller's
	// request.
	AllowWebSearch bool

	// HistoryLimit overrides defaultHistoryLimit when non-zero.
	HistoryLimit int

	// MaxContextTokens, when non-zero, bounds the history handed to the
	// graph to this many tokens via ctxwindow.BuildLocalContext.
	MaxContextTokens int

	// TokenCounter estimates a message's token cost for MaxContextTokens
	// trimming. Nil falls back to ctxwindow's character-count estimate.
	TokenCounter ctxwindow.Counter
}

// New builds a Facade. Construction order documents the dependency chain
// the rest of the system follows: logging is expected to already be
// initialized by the caller (observability.InitLogger) before building a
// Facade, since every downstream component logs through it.
func New(sessions *session.Manager, g *graph.Graph, allowWebSearch bool) *Facade {
	return &Facade{Sessions: sessions, Graph: g, AllowWebSearch: allowWebSearch, HistoryLimit: defaultHistoryLimit}
}

// Shutdown releases resources in the reverse of the Facade's conceptual
// build order (graph has nothing to close; session manager's history store
// is owned by the caller, so only session bookkeeping is cleared here).
func (f *Facade) Shutdown(ctx context.Context) {
	for _, id := range f.Sessions.ListActive() {
		f.Sessions.Release(id)
	}
}

// Request is the full set of inputs to ProcessUserRequest.
type Request struct {
	Input            string
	Mode             string
	Attachments      []core.Attachment
	SkipWebSearch    bool
	SessionID        string
	ApprovalCallback func(toolName string, args map[string]any) bool
}

// ProcessUserRequest runs the eight-step pipeline documented on the Graph
// Runtime's caller contract: sanitize, extract routing tag, process
// attachments, assemble search metadata, load history, run the graph
// streaming events to the returned channel, then commit the resulting
// history and touch the session.
func (f *Facade) ProcessUserRequest(ctx context.Context, req Request) <-chan graph.Event {
	out := make(chan graph.Event, 8)
	go f.processUserRequest(ctx, req, out)
	return out
}

func (f *Facade) processUserRequest(ctx context.Context, req Request, out chan<- graph.Event) {
	defer close(out)
	logger := observability.LoggerWithTrace(ctx)

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = "default"
	}
	logger.Info().Str("session_id", sessionID).Str("mode", req.Mode).Msg("process_user_request")

	input := sanitizeUserInput(req.Input)
	input, taggedMode := extractRoutingTag(input)

	mode := req.Mode
	if taggedMode != "" {
		mode = taggedMode
	}

	attachments := f.processAttachments(req.Attachments)

	skipWebSearch := req.SkipWebSearch
	if mode == "search" && !f.AllowWebSearch {
		skipWebSearch = true
	}

	limit := f.HistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	history, err := f.Sessions.LoadHistory(ctx, sessionID, limit)
	if err != nil {
		out <- graph.Event{Type: graph.EventGraphEnd, Err: fmt.Errorf("facade: loading history: %w", err)}
		return
	}

	if f.MaxContextTokens > 0 {
		history, _ = ctxwindow.BuildLocalContext(ctx, history, f.MaxContextTokens, f.TokenCounter)
	}

	initial := core.CreateInitialState(sessionID, input, mode, attachments, skipWebSearch)
	initial.Messages = append([]core.Message(nil), history.Messages...)
	initial.ApprovalCallback = req.ApprovalCallback

	var final core.AgentState
	var fullResponse strings.Builder
	var runErr error

	for event := range f.Graph.Run(ctx, initial) {
		switch event.Type {
		case graph.EventChatModelStream:
			fullResponse.WriteString(event.Content)
		case graph.EventGraphEnd:
			final = event.State
			runErr = event.Err
		}
		select {
		case out <- event:
		case <-ctx.Done():
			return
		}
	}
	if runErr != nil {
		logger.Error().Err(runErr).Str("session_id", sessionID).Msg("graph run failed")
	}

	f.commitHistory(ctx, sessionID, mode, input, fullResponse.String(), final)
	f.Sessions.Touch(sessionID)
}

// commitHistory implements step 7 of the pipeline: if the graph produced an
// updated history, annotate its tail two messages and overwrite; otherwise
// append a Human/AI pair built from the accumulated response.
func (f *Facade) commitHistory(ctx context.Context, sessionID, mode, input, accumulated string, final core.AgentState) {
	logger := observability.LoggerWithTrace(ctx)
	now := time.Now()

	if final.UpdatedHistory != nil {
		h := *final.UpdatedHistory
		annotateTail(h.Messages, mode, now)
		if err := f.Sessions.SaveHistory(ctx, h); err != nil {
			logger.Error().Err(err).Msg("facade: saving updated history")
		}
		return
	}

	existing, err := f.Sessions.LoadHistory(ctx, sessionID, 0)
	if err != nil {
		existing = core.ChatHistory{SessionID: sessionID}
	}

	human := core.NewHuman(input)
	human.Attributes["mode"] = mode
	human.Attributes["timestamp"] = now
	ai := core.NewAI(accumulated)
	ai.Attributes["mode"] = mode
	ai.Attributes["timestamp"] = now

	existing.Messages = append(existing.Messages, human, ai)
	if err := f.Sessions.SaveHistory(ctx, existing); err != nil {
		logger.Error().Err(err).Msg("facade: appending history")
	}
}

func annotateTail(messages []core.Message, mode string, at time.Time) {
	tailStart := len(messages) - 2
	if tailStart < 0 {
		tailStart = 0
	}
	for i := tailStart; i < len(messages); i++ {
		if messages[i].Attributes == nil {
			messages[i].Attributes = map[string]any{}
		}
		if _, ok := messages[i].Attributes["mode"]; !ok {
			messages[i].Attributes["mode"] = mode
		}
		if _, ok := messages[i].Attributes["timestamp"]; !ok {
			messages[i].Attributes["timestamp"] = at
		}
	}
}

// sanitizeUserInput strips null bytes and bounds the input length before
// the input ever reaches a prompt; other control characters are kept.
func sanitizeUserInput(input string) string {
	input = strings.Map(func(r rune) rune {
		if r == 0 {
			return -1
		}
		return r
	}, input)
	if len(input) > maxUserInputChars {
		input = input[:maxUserInputChars]
	}
	return input
}

// extractRoutingTag looks for a <tag>...</tag> marker and, if found, strips
// it from the input and returns the mode it forces.
func extractRoutingTag(input string) (string, string) {
	if loc := routingTagPattern.FindStringIndex(input); loc != nil {
		tagName := routingTagOpen.FindStringSubmatch(input[loc[0]:loc[1]])
		cleaned := strings.TrimSpace(input[:loc[0]] + input[loc[1]:])
		if len(tagName) > 1 {
			return cleaned, routingTagMode[tagName[1]]
		}
		return cleaned, ""
	}
	return input, ""
}

// processAttachments rejects attachments whose content exceeds the safe
// size limit, and opportunistically base64-decodes any string content that
// looks like base64 and is long enough to bother checking.
func (f *Facade) processAttachments(attachments []core.Attachment) []core.Attachment {
	safeLimit := int(float64(searchAttachmentSizeCap) * 1.35)
	out := make([]core.Attachment, 0, len(attachments))
	for _, a := range attachments {
		if len(a.Content) > safeLimit {
			continue
		}
		if decoded, ok := tryDecodeBase64(a.Content); ok {
			a.Content = decoded
		}
		out = append(out, a)
	}
	return out
}

func tryDecodeBase64(content string) (string, bool) {
	if len(content) <= base64DetectMinLen {
		return "", false
	}
	stripped := strings.NewReplacer("\n", "", "\r", "").Replace(content)
	if !base64Pattern.MatchString(stripped) {
		return "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(stripped)
	if err != nil {
		return "", false
	}
	if !isValidUTF8(decoded) {
		return "", false
	}
	return string(decoded), true
}

func isValidUTF8(b []byte) bool {
	return strings.ToValidUTF8(string(b), "�") == string(b)
}
