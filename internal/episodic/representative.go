package episodic

import (
	"context"
	"fmt"
	"sort"

	"github.com/hearthai/hearth/internal/core"
)

// SelectRepresentativeTokens picks up to reprTopK token indices from an
// event, ranked by descending surprise, then re-sorted ascending so
// callers can read them back in original token order. Ties keep the
// earlier index first, matching a stable sort over surprise descending.
func SelectRepresentativeTokens(event core.EpisodicEvent, reprTopK int) []int {
	n := len(event.Tokens)
	if n == 0 {
		return nil
	}
	if reprTopK <= 0 || reprTopK > n {
		reprTopK = n
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		return surpriseAt(event, idx[i]) > surpriseAt(event, idx[j])
	})
	idx = idx[:reprTopK]
	sort.Ints(idx)
	return idx
}

func surpriseAt(event core.EpisodicEvent, i int) float64 {
	if i < len(event.SurpriseScores) {
		return event.SurpriseScores[i]
	}
	return 0
}

// EmbedRepresentativeTokens selects representative token indices, embeds
// the corresponding token strings, and sets both
// RepresentativeTokenIndices and RepresentativeEmbeddings on the event so
// it is ready for Store.AddEvents.
func EmbedRepresentativeTokens(ctx context.Context, event core.EpisodicEvent, embed Embedder, reprTopK int) (core.EpisodicEvent, error) {
	indices := SelectRepresentativeTokens(event, reprTopK)
	if len(indices) == 0 {
		return event, nil
	}

	texts := make([]string, len(indices))
	for i, idx := range indices {
		texts[i] = event.Tokens[idx]
	}
	embeddings, err := embed.Embed(ctx, texts)
	if err != nil {
		return event, fmt.Errorf("episodic: embedding representative tokens: %w", err)
	}

	out := event
	out.RepresentativeTokenIndices = indices
	out.RepresentativeEmbeddings = embeddings
	return out, nil
}
