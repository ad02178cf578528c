// Package rag implements the RAG Engine: collecting web and attachment
// content into chunks, then ranking those chunks against a query by
// embedding cosine similarity.
package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/hearthai/hearth/internal/core"
	"github.com/hearthai/hearth/internal/textsplitters"
	"github.com/hearthai/hearth/internal/toolfabric"
	"golang.org/x/sync/errgroup"
)

const (
	defaultChunkSize         = 500
	defaultChunkOverlap      = 50
	defaultEmbeddingBatch    = 32
	defaultTopK              = 5
	defaultMaxContextChars   = 3000
	contextChunkSeparator    = "\n\n---\n\n"
)

// ToolExecutor is the subset of toolfabric.Fabric the RAG Engine needs:
// just enough to invoke the native web-fetch tool without importing a
// concrete fabric type.
type ToolExecutor interface {
	Execute(ctx context.Context, profile toolfabric.Profile, name string, args json.RawMessage) any
}

// Embedder produces one embedding per input text, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Chunk is one piece of collected content, tagged with the source it came
// from so a context block can cite it.
type Chunk struct {
	Text   string
	Source string
}

// Engine collects and ranks content for retrieval-augmented prompts.
type Engine struct {
	tools        ToolExecutor
	profile      toolfabric.Profile
	embedder     Embedder
	chunkSize    int
	chunkOverlap int
	batchSize    int
	topK         int
	maxChars     int
}

// New builds an Engine with the spec's documented defaults; override fields
// on the returned *Engine directly for non-default tuning.
func New(tools ToolExecutor, profile toolfabric.Profile, embedder Embedder) *Engine {
	return &Engine{
		tools:        tools,
		profile:      profile,
		embedder:     embedder,
		chunkSize:    defaultChunkSize,
		chunkOverlap: defaultChunkOverlap,
		batchSize:    defaultEmbeddingBatch,
		topK:         defaultTopK,
		maxChars:     defaultMaxContextChars,
	}
}

// CollectOptions parameterizes CollectChunks.
type CollectOptions struct {
	TopURL       string
	Attachments  []core.Attachment
	SkipWebFetch bool
}

// CollectChunks fetches the top URL (unless skipped or empty) and chunks
// every attachment's content, tagging each chunk with its origin: the
// fetched page's final URL, or "file:{name}" for an attachment. Fetch
// failures and non-HTML/empty responses are skipped rather than propagated,
// matching the engine's best-effort retrieval contract.
func (e *Engine) CollectChunks(ctx context.Context, opts CollectOptions) []Chunk {
	splitter := textsplitters.NewRecursiveCascade(e.chunkSize, e.chunkOverlap)
	var chunks []Chunk

	if opts.TopURL != "" && !opts.SkipWebFetch && e.tools != nil {
		if text, source, ok := e.fetchWebText(ctx, opts.TopURL); ok {
			for _, c := range splitter.Split(text) {
				chunks = append(chunks, Chunk{Text: c, Source: source})
			}
		}
	}

	for _, a := range opts.Attachments {
		if strings.TrimSpace(a.Content) == "" {
			continue
		}
		source := "file:" + a.Name
		for _, c := range splitter.Split(a.Content) {
			chunks = append(chunks, Chunk{Text: c, Source: source})
		}
	}

	return chunks
}

func (e *Engine) fetchWebText(ctx context.Context, rawURL string) (text, source string, ok bool) {
	args, err := json.Marshal(map[string]string{"url": rawURL})
	if err != nil {
		return "", "", false
	}
	result := e.tools.Execute(ctx, e.profile, "native_web_fetch", args)

	fetched, isResult := result.(*toolfabric.WebFetchResult)
	if !isResult || fetched == nil {
		return "", "", false
	}
	if strings.TrimSpace(fetched.Markdown) == "" {
		return "", "", false
	}
	return fetched.Markdown, fetched.FinalURL, true
}

// RankedChunk is a Chunk annotated with its cosine similarity to the query.
type RankedChunk struct {
	Chunk
	Score float64
}

// BuildContext embeds query and chunks (chunks in batches of batchSize,
// tolerating per-batch embedding failures), ranks by cosine similarity
// descending, keeps the top topK, and renders a separator-joined context
// block with each chunk prefixed by its source, truncated to maxChars.
func (e *Engine) BuildContext(ctx context.Context, chunks []Chunk, query string) (string, error) {
	if len(chunks) == 0 || e.embedder == nil {
		return "", nil
	}

	queryEmbeddings, err := e.embedder.Embed(ctx, []string{query})
	if err != nil || len(queryEmbeddings) == 0 {
		return "", fmt.Errorf("rag: embedding query: %w", err)
	}
	queryEmbedding := queryEmbeddings[0]

	ranked := e.embedAndScore(ctx, chunks, queryEmbedding)
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	topK := e.topK
	if topK <= 0 || topK > len(ranked) {
		topK = len(ranked)
	}
	ranked = ranked[:topK]

	return renderContext(ranked, e.maxChars), nil
}

// embedAndScore dispatches embedding batches concurrently via errgroup,
// skipping any batch whose embedding call fails rather than aborting the
// whole context build.
func (e *Engine) embedAndScore(ctx context.Context, chunks []Chunk, queryEmbedding []float32) []RankedChunk {
	batchSize := e.batchSize
	if batchSize <= 0 {
		batchSize = defaultEmbeddingBatch
	}

	results := make([][]RankedChunk, (len(chunks)+batchSize-1)/batchSize)
	var failed atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i*batchSize < len(chunks); i++ {
		i := i
		start := i * batchSize
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		g.Go(func() error {
			texts := make([]string, len(batch))
			for j, c := range batch {
				texts[j] = c.Text
			}
			embeddings, err := e.embedder.Embed(gctx, texts)
			if err != nil {
				failed.Add(1)
				return nil
			}
			var out []RankedChunk
			for j, emb := range embeddings {
				if j >= len(batch) {
					break
				}
				out = append(out, RankedChunk{Chunk: batch[j], Score: cosineSimilarity(queryEmbedding, emb)})
			}
			results[i] = out
			return nil
		})
	}
	_ = g.Wait()

	var ranked []RankedChunk
	for _, r := range results {
		ranked = append(ranked, r...)
	}
	return ranked
}

func renderContext(ranked []RankedChunk, maxChars int) string {
	parts := make([]string, 0, len(ranked))
	for _, r := range ranked {
		parts = append(parts, fmt.Sprintf("[Source: %s]\n%s", r.Source, r.Text))
	}
	out := strings.Join(parts, contextChunkSeparator)
	if maxChars > 0 && len(out) > maxChars {
		out = out[:maxChars]
	}
	return out
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
