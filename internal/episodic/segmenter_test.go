package episodic

import (
	"context"
	"testing"

	"github.com/hearthai/hearth/internal/core"
	"github.com/stretchr/testify/require"
)

func TestSurpriseFromLogprobsNegates(t *testing.T) {
	s := NewSegmenter(core.DefaultEMConfig())
	scores := s.SurpriseFromLogprobs([]core.TokenLogprob{{Logprob: -0.5}, {Logprob: -2.0}})
	require.Equal(t, []float64{0.5, 2.0}, scores)
}

func TestIdentifyEventBoundariesShortSequenceIsSingleEvent(t *testing.T) {
	cfg := core.DefaultEMConfig()
	cfg.SurpriseWindow = 5
	s := NewSegmenter(cfg)
	boundaries := s.identifyEventBoundaries([]float64{0.1, 0.2, 0.1})
	require.Equal(t, []int{0, 3}, boundaries)
}

func TestIdentifyEventBoundariesDetectsSpike(t *testing.T) {
	cfg := core.DefaultEMConfig()
	cfg.SurpriseWindow = 3
	cfg.SurpriseGamma = 1.0
	cfg.MinEventSize = 0
	cfg.MaxEventSize = 0
	s := NewSegmenter(cfg)
	scores := []float64{0.1, 0.1, 0.1, 5.0, 0.1, 0.1}
	boundaries := s.identifyEventBoundaries(scores)
	require.Contains(t, boundaries, 3)
	require.Equal(t, 0, boundaries[0])
	require.Equal(t, len(scores), boundaries[len(boundaries)-1])
}

func TestApplySizeBoundsMergesShortSpans(t *testing.T) {
	cfg := core.DefaultEMConfig()
	cfg.MinEventSize = 4
	cfg.MaxEventSize = 0
	s := NewSegmenter(cfg)
	out := s.applySizeBounds([]int{0, 1, 2, 10})
	require.Equal(t, []int{0, 10}, out)
}

func TestApplySizeBoundsSplitsLongSpans(t *testing.T) {
	cfg := core.DefaultEMConfig()
	cfg.MinEventSize = 0
	cfg.MaxEventSize = 4
	s := NewSegmenter(cfg)
	out := s.applySizeBounds([]int{0, 10})
	require.Equal(t, 0, out[0])
	require.Equal(t, 10, out[len(out)-1])
	for i := 1; i < len(out); i++ {
		require.LessOrEqual(t, out[i]-out[i-1], 4)
	}
}

func TestSegmentFromSurpriseBuildsEventsFromTokens(t *testing.T) {
	cfg := core.DefaultEMConfig()
	cfg.SurpriseWindow = 100
	s := NewSegmenter(cfg)
	tokens := []string{"a", "b", "c"}
	events := s.SegmentFromSurprise(tokens, []float64{0.1, 0.2, 0.3})
	require.Len(t, events, 1)
	require.Equal(t, tokens, events[0].Tokens)
	require.Equal(t, 0, events[0].StartPos)
	require.Equal(t, 3, events[0].EndPos)
}

type fakeEmbedder struct {
	vectors map[string][]float32
}

func (f fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := f.vectors[t]; ok {
			out[i] = v
			continue
		}
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func TestSegmentBySemanticChangeSingleSentenceIsSingleEvent(t *testing.T) {
	s := NewSegmenter(core.DefaultEMConfig())
	events, embeddings, err := s.SegmentBySemanticChange(context.Background(), "one sentence only", fakeEmbedder{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Nil(t, embeddings)
}

func TestSegmentBySemanticChangeEmptyTextReturnsNothing(t *testing.T) {
	s := NewSegmenter(core.DefaultEMConfig())
	events, embeddings, err := s.SegmentBySemanticChange(context.Background(), "", fakeEmbedder{})
	require.NoError(t, err)
	require.Nil(t, events)
	require.Nil(t, embeddings)
}

func TestSegmentBySemanticChangeProducesEventsAcrossSentences(t *testing.T) {
	cfg := core.DefaultEMConfig()
	cfg.SurpriseWindow = 1
	cfg.SurpriseGamma = 0.0
	s := NewSegmenter(cfg)

	embedder := fakeEmbedder{vectors: map[string][]float32{
		"First sentence here.":  {1, 0},
		"Second totally different topic.": {0, 1},
	}}
	events, embeddings, err := s.SegmentBySemanticChange(
		context.Background(),
		"First sentence here. Second totally different topic.",
		embedder,
	)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	require.Len(t, embeddings, 2)
}

func TestCosineSimilarityIdenticalVectorsIsOne(t *testing.T) {
	require.InDelta(t, 1.0, cosineSimilarity([]float32{1, 2, 3}, []float32{1, 2, 3}), 1e-9)
}

func TestCosineSimilarityOrthogonalVectorsIsZero(t *testing.T) {
	require.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
}
