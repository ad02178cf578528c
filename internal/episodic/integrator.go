package episodic

import (
	"context"
	"strings"

	"github.com/hearthai/hearth/internal/core"
)

// Integrator combines the segmenter, boundary refiner, representative-token
// selection, and the vector-backed Store into the single operation a turn
// needs: fold the turn's generated text into episodic events and recall
// relevant ones for a query. The spec's original source sometimes reuses
// one integrator instance under two different roles; since this type never
// branches on role internally, dispatch between roles is entirely a matter
// of which Integrator a caller holds — not something this type needs to
// know about.
type Integrator struct {
	segmenter *Segmenter
	refiner   *Refiner
	store     *Store
	embed     Embedder
	cfg       core.EMConfig
}

// NewIntegrator wires a Segmenter, Refiner, and Store sharing cfg.
func NewIntegrator(cfg core.EMConfig, store *Store, embed Embedder) *Integrator {
	return &Integrator{
		segmenter: NewSegmenter(cfg),
		refiner:   NewRefiner(cfg),
		store:     store,
		embed:     embed,
		cfg:       cfg,
	}
}

// FormFromTurn segments the turn's assistant-authored text into events
// (using generation logprobs when available, falling back to
// semantic-change segmentation over the concatenated text), refines
// boundaries when refinement is enabled and sentence embeddings exist (the
// semantic-change path only; logprob-based events are not refined),
// selects and embeds representative tokens, and persists the resulting
// events to the store.
func (it *Integrator) FormFromTurn(ctx context.Context, sessionID string, messages []core.Message, logprobs []core.TokenLogprob) error {
	text := assistantText(messages)
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var events []core.EpisodicEvent
	var vectors [][]float32

	if len(logprobs) > 0 {
		tokens := make([]string, len(logprobs))
		for i, lp := range logprobs {
			tokens[i] = lp.Token
		}
		surprise := it.segmenter.SurpriseFromLogprobs(logprobs)
		events = it.segmenter.SegmentFromSurprise(tokens, surprise)
	} else {
		var err error
		events, vectors, err = it.segmenter.SegmentBySemanticChange(ctx, text, it.embed)
		if err != nil {
			return err
		}
	}
	if len(events) == 0 {
		return nil
	}

	if it.cfg.UseBoundaryRefinement && len(vectors) > 0 {
		events = it.refiner.Refine(events, vectors)
	}

	embedded := make([]core.EpisodicEvent, 0, len(events))
	for _, ev := range events {
		out, err := EmbedRepresentativeTokens(ctx, ev, it.embed, it.cfg.ReprTopK)
		if err != nil {
			continue
		}
		embedded = append(embedded, out)
	}
	if len(embedded) == 0 {
		return nil
	}

	return it.store.AddEvents(ctx, embedded)
}

// Recall embeds query and retrieves up to k relevant episodes via the
// store's two-stage retrieval.
func (it *Integrator) Recall(ctx context.Context, query string, k int) ([]core.RetrievedEpisode, error) {
	embeddings, err := it.embed.Embed(ctx, []string{query})
	if err != nil || len(embeddings) == 0 {
		return nil, err
	}
	return it.store.RetrieveRelevantEvents(ctx, embeddings[0], k)
}

func assistantText(messages []core.Message) string {
	var sb strings.Builder
	for _, m := range messages {
		if m.Kind == core.KindAI && m.Content != "" {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(m.Content)
		}
	}
	return sb.String()
}
