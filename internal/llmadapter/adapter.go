// Package llmadapter adapts the LLM Service's role-scoped OpenAI-compatible
// clients to the narrow interfaces the Graph Runtime and RAG Engine depend
// on (graph.ChatModel, rag.Embedder), so neither package needs to know
// about model roles, client caching, or the OpenAI wire format.
package llmadapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hearthai/hearth/internal/core"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/shared"
)

// ClientResolver is the subset of llmservice.Service an adapter needs: a
// role-scoped client plus the model key to pass as the request's Model
// field.
type ClientResolver interface {
	ClientFor(ctx context.Context, role string) (*openai.Client, string, error)
}

// ChatModel adapts a ClientResolver into a graph.ChatModel bound to one
// role (typically llmservice.RoleCharacter or an ExecutorRole).
type ChatModel struct {
	Resolver ClientResolver
	Role     string
}

// Complete sends messages as a single non-streaming chat completion
// request; onDelta, if set, is invoked once with the full response content
// (and not at all when that content is empty) since the underlying client
// call here is non-streaming. A streaming
// variant can be layered in later without changing this interface.
func (c ChatModel) Complete(ctx context.Context, messages []core.Message, toolNames []string, onDelta func(string)) (core.Message, []core.TokenLogprob, error) {
	client, modelKey, err := c.Resolver.ClientFor(ctx, c.Role)
	if err != nil {
		return core.Message{}, nil, fmt.Errorf("llmadapter: resolving client for role %q: %w", c.Role, err)
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(modelKey),
		Messages: toOpenAIMessages(messages),
	}
	if len(toolNames) > 0 {
		params.Tools = toOpenAITools(toolNames)
	}

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return core.Message{}, nil, fmt.Errorf("llmadapter: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return core.Message{}, nil, fmt.Errorf("llmadapter: no choices returned")
	}

	choice := resp.Choices[0]
	msg := core.NewAI(choice.Message.Content)
	for _, tc := range choice.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, core.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: decodeToolArgs(tc.Function.Arguments),
		})
	}
	if onDelta != nil && msg.Content != "" {
		onDelta(msg.Content)
	}

	logprobs := extractLogprobs(choice)
	return msg, logprobs, nil
}

// Embedder adapts a ClientResolver into a rag.Embedder bound to the
// embedding role.
type Embedder struct {
	Resolver ClientResolver
	Role     string
}

// Embed requests one embedding per text in a single request.
func (e Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	client, modelKey, err := e.Resolver.ClientFor(ctx, e.Role)
	if err != nil {
		return nil, fmt.Errorf("llmadapter: resolving embedding client: %w", err)
	}

	params := openai.EmbeddingNewParams{
		Model: modelKey,
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	}
	resp, err := client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("llmadapter: embeddings request: %w", err)
	}

	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out[d.Index] = vec
	}
	return out, nil
}

func toOpenAIMessages(messages []core.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Kind {
		case core.KindSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case core.KindAI:
			out = append(out, openai.AssistantMessage(m.Content))
		case core.KindTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func toOpenAITools(names []string) []openai.ChatCompletionToolUnionParam {
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(names))
	for _, n := range names {
		out = append(out, openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
			Name: n,
		}))
	}
	return out
}

func decodeToolArgs(raw string) map[string]any {
	args := map[string]any{}
	if raw == "" {
		return args
	}
	_ = json.Unmarshal([]byte(raw), &args)
	return args
}

func extractLogprobs(choice openai.ChatCompletionChoice) []core.TokenLogprob {
	if choice.Logprobs.Content == nil {
		return nil
	}
	out := make([]core.TokenLogprob, 0, len(choice.Logprobs.Content))
	for _, c := range choice.Logprobs.Content {
		out = append(out, core.TokenLogprob{Token: c.Token, Logprob: c.Logprob})
	}
	return out
}
