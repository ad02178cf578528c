package episodic

import (
	"context"
	"testing"

	"github.com/hearthai/hearth/internal/core"
	"github.com/stretchr/testify/require"
)

func TestIntegratorFormFromTurnSkipsEmptyAssistantText(t *testing.T) {
	vs := newFakeVectorStore()
	store := NewStore(vs, "episodes", core.DefaultEMConfig())
	it := NewIntegrator(core.DefaultEMConfig(), store, fakeEmbedder{})

	err := it.FormFromTurn(context.Background(), "s1", []core.Message{core.NewHuman("hi")}, nil)
	require.NoError(t, err)
	require.Empty(t, vs.records)
}

func TestIntegratorFormFromTurnSegmentsBySemanticChangeWithoutLogprobs(t *testing.T) {
	vs := newFakeVectorStore()
	cfg := core.DefaultEMConfig()
	cfg.MinEventSize = 0
	store := NewStore(vs, "episodes", cfg)
	embedder := fakeEmbedder{vectors: map[string][]float32{}}
	it := NewIntegrator(cfg, store, embedder)

	messages := []core.Message{core.NewAI("This is a long enough answer. It has more than one sentence. That is the point.")}
	err := it.FormFromTurn(context.Background(), "s1", messages, nil)
	require.NoError(t, err)
}

func TestIntegratorFormFromTurnUsesSurpriseSegmentationWhenLogprobsPresent(t *testing.T) {
	vs := newFakeVectorStore()
	cfg := core.DefaultEMConfig()
	cfg.MinEventSize = 0
	cfg.SurpriseWindow = 2
	store := NewStore(vs, "episodes", cfg)
	it := NewIntegrator(cfg, store, fakeEmbedder{})

	logprobs := []core.TokenLogprob{
		{Token: "a", Logprob: -0.1}, {Token: "b", Logprob: -0.1},
		{Token: "c", Logprob: -5.0}, {Token: "d", Logprob: -0.1},
	}
	messages := []core.Message{core.NewAI("a b c d")}
	err := it.FormFromTurn(context.Background(), "s1", messages, logprobs)
	require.NoError(t, err)
}

func TestIntegratorRecallEmbedsQueryAndRetrieves(t *testing.T) {
	vs := newFakeVectorStore()
	cfg := core.DefaultEMConfig()
	store := NewStore(vs, "episodes", cfg)
	embedder := fakeEmbedder{vectors: map[string][]float32{"find this": {1, 0}}}
	it := NewIntegrator(cfg, store, embedder)

	episodes, err := it.Recall(context.Background(), "find this", 5)
	require.NoError(t, err)
	require.Empty(t, episodes)
}
