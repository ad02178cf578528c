package episodic

import (
	"testing"

	"github.com/hearthai/hearth/internal/core"
	"github.com/stretchr/testify/require"
)

func twoBlockEvents() []core.EpisodicEvent {
	return []core.EpisodicEvent{
		{Tokens: []string{"a", "b", "c", "d"}, StartPos: 0, EndPos: 4, SurpriseScores: []float64{0, 0, 0, 0}},
		{Tokens: []string{"e", "f", "g", "h"}, StartPos: 4, EndPos: 8, SurpriseScores: []float64{0, 0, 0, 0}},
	}
}

func twoBlockVectors() [][]float32 {
	return [][]float32{
		{1, 0}, {1, 0}, {1, 0}, {1, 0},
		{0, 1}, {0, 1}, {0, 1}, {0, 1},
	}
}

func TestRefineNoopWhenDisabled(t *testing.T) {
	cfg := core.DefaultEMConfig()
	cfg.UseBoundaryRefinement = false
	r := NewRefiner(cfg)
	events := twoBlockEvents()
	out := r.Refine(events, twoBlockVectors())
	require.Equal(t, events, out)
}

func TestRefineNoopForSingleEvent(t *testing.T) {
	r := NewRefiner(core.DefaultEMConfig())
	events := []core.EpisodicEvent{{StartPos: 0, EndPos: 4}}
	out := r.Refine(events, twoBlockVectors())
	require.Equal(t, events, out)
}

func TestRefineKeepsBoundaryAtCleanCut(t *testing.T) {
	cfg := core.DefaultEMConfig()
	cfg.RefinementSearchRange = 2
	r := NewRefiner(cfg)
	out := r.Refine(twoBlockEvents(), twoBlockVectors())
	require.Len(t, out, 2)
	require.Equal(t, 0, out[0].StartPos)
	require.Equal(t, 4, out[0].EndPos)
	require.Equal(t, 8, out[1].EndPos)
}

func TestModularitySingleCommunityIsZero(t *testing.T) {
	sim := similarityMatrix(twoBlockVectors())
	require.Equal(t, 0.0, modularity(sim, []int{0, 8}))
}

func TestConductanceEmptyBoundariesIsBadScoreSentinel(t *testing.T) {
	require.Equal(t, 1.0, conductance(nil, nil))
}

func TestConductanceLowerForCleanCut(t *testing.T) {
	sim := similarityMatrix(twoBlockVectors())
	clean := conductance(sim, []int{0, 4, 8})
	messy := conductance(sim, []int{0, 2, 8})
	require.Less(t, clean, messy)
}

func TestEvaluateBoundaryPositionNegatesConductance(t *testing.T) {
	cfg := core.DefaultEMConfig()
	cfg.RefinementMetric = core.RefinementConductance
	r := NewRefiner(cfg)
	sim := similarityMatrix(twoBlockVectors())
	score := r.evaluateBoundaryPosition(sim, []int{0, 4, 8})
	require.LessOrEqual(t, score, 0.0)
}

func TestRebuildEventsFromBoundariesPreservesTokenOrder(t *testing.T) {
	events := twoBlockEvents()
	rebuilt := rebuildEventsFromBoundaries(events, []int{0, 3, 8})
	require.Len(t, rebuilt, 2)
	require.Equal(t, []string{"a", "b", "c"}, rebuilt[0].Tokens)
	require.Equal(t, []string{"d", "e", "f", "g", "h"}, rebuilt[1].Tokens)
}
