package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MAX_INPUT_LENGTH", "")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 8000, cfg.MaxInputLength)
	require.Equal(t, 50, cfg.GraphRecursionLimit)
	require.Equal(t, "postgres", cfg.VectorStore.Backend)
	require.Equal(t, 0.7, cfg.EM.SimilarityBufferRatio)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv("MAX_INPUT_LENGTH", "4000")
	t.Setenv("VECTOR_STORE_BACKEND", "qdrant")
	t.Setenv("EM_SURPRISE_GAMMA", "2.5")
	t.Setenv("URL_DENYLIST", "evil.example, also-evil.example")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 4000, cfg.MaxInputLength)
	require.Equal(t, "qdrant", cfg.VectorStore.Backend)
	require.Equal(t, 2.5, cfg.EM.SurpriseGamma)
	require.Equal(t, []string{"evil.example", "also-evil.example"}, cfg.URLDenylist)
}

func TestValidateRejectsBadSimilarityRatio(t *testing.T) {
	cfg := defaults()
	cfg.EM.SimilarityBufferRatio = 1.5
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownVectorStoreBackend(t *testing.T) {
	cfg := defaults()
	cfg.VectorStore.Backend = "sqlite"
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsInvertedEventSizeBounds(t *testing.T) {
	cfg := defaults()
	cfg.EM.MinEventSize = 100
	cfg.EM.MaxEventSize = 10
	require.Error(t, cfg.Validate())
}
