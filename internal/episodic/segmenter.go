// Package episodic implements EM-LLM-style episodic memory: surprise- and
// semantic-change-based event segmentation, graph-theoretic boundary
// refinement, and two-stage (similarity + contiguity) retrieval over a
// vectorstore.Store collection.
package episodic

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/hearthai/hearth/internal/core"
	"github.com/hearthai/hearth/internal/textsplitters"
)

// Embedder produces one embedding per input text, in order. Implementations
// typically wrap an llmservice.Service client bound to the embedding role.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Segmenter turns a token stream or raw text into EpisodicEvents using the
// surprise-window boundary test: a position is a boundary when its score
// exceeds mean+gamma*stddev over the preceding surprise_window scores.
type Segmenter struct {
	cfg core.EMConfig
}

// NewSegmenter builds a Segmenter bound to cfg.
func NewSegmenter(cfg core.EMConfig) *Segmenter {
	return &Segmenter{cfg: cfg}
}

// SurpriseFromLogprobs converts a generation's per-token logprob trace into
// surprise scores (-logP), the primary segmentation signal when the backend
// exposes logprobs.
func (s *Segmenter) SurpriseFromLogprobs(logprobs []core.TokenLogprob) []float64 {
	if len(logprobs) == 0 {
		return nil
	}
	out := make([]float64, len(logprobs))
	for i, lp := range logprobs {
		out[i] = -lp.Logprob
	}
	return out
}

// SegmentFromSurprise builds events directly from per-token surprise scores,
// used when the LLM backend returned logprobs for this generation.
func (s *Segmenter) SegmentFromSurprise(tokens []string, surprise []float64) []core.EpisodicEvent {
	if len(tokens) == 0 {
		return nil
	}
	boundaries := s.identifyEventBoundaries(surprise)
	boundaries = s.applySizeBounds(boundaries)
	return buildEvents(tokens, surprise, boundaries)
}

// SegmentBySemanticChange is the fallback path used when no logprobs are
// available: it splits text into sentences, embeds each, and treats the
// cosine distance between adjacent sentence embeddings as the surprise
// signal. It returns the resulting events along with the sentence embedding
// matrix, which the caller should pass to Refiner.Refine as the
// context-vector fallback input.
func (s *Segmenter) SegmentBySemanticChange(ctx context.Context, text string, embed Embedder) ([]core.EpisodicEvent, [][]float32, error) {
	if strings.TrimSpace(text) == "" || embed == nil {
		return nil, nil, nil
	}

	sentences := textsplitters.SplitSentences(text)
	if len(sentences) < 2 {
		tokens := strings.Fields(text)
		event := core.EpisodicEvent{
			Tokens:         tokens,
			StartPos:       0,
			EndPos:         len(tokens),
			SurpriseScores: make([]float64, len(tokens)),
		}
		return []core.EpisodicEvent{event}, nil, nil
	}

	embeddings, err := embed.Embed(ctx, sentences)
	if err != nil {
		return nil, nil, fmt.Errorf("episodic: embedding sentences: %w", err)
	}

	changeScores := make([]float64, len(sentences))
	for i := 1; i < len(sentences); i++ {
		changeScores[i] = cosineDistance(embeddings[i-1], embeddings[i])
	}

	boundaries := s.identifyEventBoundaries(changeScores)
	boundaries = s.applySizeBounds(boundaries)

	var events []core.EpisodicEvent
	tokenOffset := 0
	for i := 0; i < len(boundaries)-1; i++ {
		startSentence, endSentence := boundaries[i], boundaries[i+1]
		eventText := strings.Join(sentences[startSentence:endSentence], " ")
		eventTokens := strings.Fields(eventText)
		eventSurprise := changeScores[startSentence]

		scores := make([]float64, len(eventTokens))
		for j := range scores {
			scores[j] = eventSurprise
		}
		events = append(events, core.EpisodicEvent{
			Tokens:         eventTokens,
			StartPos:       tokenOffset,
			EndPos:         tokenOffset + len(eventTokens),
			SurpriseScores: scores,
		})
		tokenOffset += len(eventTokens)
	}

	return events, embeddings, nil
}

// identifyEventBoundaries implements the paper's T = mu(t-tau) + gamma*sigma(t-tau)
// threshold test over a sliding window of width SurpriseWindow. When there
// are fewer scores than the window width, the whole span is a single event.
func (s *Segmenter) identifyEventBoundaries(scores []float64) []int {
	if len(scores) < s.cfg.SurpriseWindow {
		return []int{0, len(scores)}
	}

	boundaries := []int{0}
	window := s.cfg.SurpriseWindow
	for i := window; i < len(scores); i++ {
		wnd := scores[i-window : i]
		mean, std := meanStd(wnd)
		threshold := mean + s.cfg.SurpriseGamma*std
		if scores[i] > threshold {
			boundaries = append(boundaries, i)
		}
	}
	boundaries = append(boundaries, len(scores))
	return dedupeSortedInts(boundaries)
}

// applySizeBounds merges spans shorter than MinEventSize into their
// following neighbor (a short final span into its preceding one) and splits
// spans longer than MaxEventSize into roughly-equal pieces of at most
// MaxEventSize, keeping segmentation within the configured bounds without a
// second pass over the raw scores.
func (s *Segmenter) applySizeBounds(boundaries []int) []int {
	if len(boundaries) < 2 {
		return boundaries
	}

	merged := []int{boundaries[0]}
	for i := 1; i < len(boundaries)-1; i++ {
		if s.cfg.MinEventSize > 0 && boundaries[i]-merged[len(merged)-1] < s.cfg.MinEventSize {
			continue
		}
		merged = append(merged, boundaries[i])
	}
	merged = append(merged, boundaries[len(boundaries)-1])
	if n := len(merged); s.cfg.MinEventSize > 0 && n > 2 && merged[n-1]-merged[n-2] < s.cfg.MinEventSize {
		merged = append(merged[:n-2], merged[n-1])
	}

	if s.cfg.MaxEventSize <= 0 {
		return merged
	}
	var out []int
	out = append(out, merged[0])
	for i := 1; i < len(merged); i++ {
		start, end := merged[i-1], merged[i]
		span := end - start
		if span <= s.cfg.MaxEventSize {
			out = append(out, end)
			continue
		}
		pieces := int(math.Ceil(float64(span) / float64(s.cfg.MaxEventSize)))
		for p := 1; p < pieces; p++ {
			out = append(out, start+p*span/pieces)
		}
		out = append(out, end)
	}
	return dedupeSortedInts(out)
}

func buildEvents(tokens []string, surprise []float64, boundaries []int) []core.EpisodicEvent {
	var events []core.EpisodicEvent
	for i := 0; i < len(boundaries)-1; i++ {
		start, end := boundaries[i], boundaries[i+1]
		if start >= end {
			continue
		}
		var scores []float64
		if len(surprise) >= end {
			scores = append([]float64(nil), surprise[start:end]...)
		}
		events = append(events, core.EpisodicEvent{
			Tokens:         append([]string(nil), tokens[start:end]...),
			StartPos:       start,
			EndPos:         end,
			SurpriseScores: scores,
		})
	}
	return events
}

func meanStd(xs []float64) (mean, std float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	for _, x := range xs {
		d := x - mean
		std += d * d
	}
	std = math.Sqrt(std / float64(len(xs)))
	return mean, std
}

func dedupeSortedInts(xs []int) []int {
	seen := make(map[int]bool, len(xs))
	var out []int
	for _, x := range xs {
		if !seen[x] {
			seen[x] = true
			out = append(out, x)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

func cosineDistance(a, b []float32) float64 {
	return 1 - cosineSimilarity(a, b)
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
