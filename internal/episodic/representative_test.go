package episodic

import (
	"context"
	"testing"

	"github.com/hearthai/hearth/internal/core"
	"github.com/stretchr/testify/require"
)

func TestSelectRepresentativeTokensRanksBySurpriseThenSortsAscending(t *testing.T) {
	event := core.EpisodicEvent{
		Tokens:         []string{"a", "b", "c", "d"},
		SurpriseScores: []float64{0.1, 5.0, 0.2, 3.0},
	}
	idx := SelectRepresentativeTokens(event, 2)
	require.Equal(t, []int{1, 3}, idx)
}

func TestSelectRepresentativeTokensCapsAtTokenCount(t *testing.T) {
	event := core.EpisodicEvent{Tokens: []string{"a", "b"}, SurpriseScores: []float64{1, 2}}
	idx := SelectRepresentativeTokens(event, 10)
	require.Len(t, idx, 2)
}

func TestEmbedRepresentativeTokensSetsFields(t *testing.T) {
	event := core.EpisodicEvent{
		Tokens:         []string{"a", "b", "c"},
		SurpriseScores: []float64{0.1, 5.0, 0.2},
	}
	out, err := EmbedRepresentativeTokens(context.Background(), event, fakeEmbedder{}, 1)
	require.NoError(t, err)
	require.Equal(t, []int{1}, out.RepresentativeTokenIndices)
	require.Len(t, out.RepresentativeEmbeddings, 1)
}
