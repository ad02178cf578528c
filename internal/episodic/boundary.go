package episodic

import "github.com/hearthai/hearth/internal/core"

// Refiner adjusts event boundaries found by Segmenter using graph-theoretic
// cohesion scores (modularity or conductance) over a similarity matrix built
// from per-position vectors — attention keys when available, sentence or
// token embeddings as a fallback.
type Refiner struct {
	cfg core.EMConfig
}

// NewRefiner builds a Refiner bound to cfg.
func NewRefiner(cfg core.EMConfig) *Refiner {
	return &Refiner{cfg: cfg}
}

// Refine searches a small neighborhood around each interior boundary for the
// position that maximizes the configured cohesion metric, then rebuilds
// events from the adjusted boundary list. It is a no-op when refinement is
// disabled, when there is at most one event, or when fewer than two vectors
// are supplied (nothing to compare).
func (r *Refiner) Refine(events []core.EpisodicEvent, vectors [][]float32) []core.EpisodicEvent {
	if !r.cfg.UseBoundaryRefinement || len(events) <= 1 || len(vectors) <= 1 {
		return events
	}

	sim := similarityMatrix(vectors)

	current := make([]int, 0, len(events)+1)
	for _, e := range events {
		current = append(current, e.StartPos)
	}
	current = append(current, events[len(events)-1].EndPos)

	refined := []int{current[0]}
	for i := 0; i < len(current)-2; i++ {
		startBoundary := refined[len(refined)-1]
		endBoundary := current[i+2]
		currentPos := current[i+1]

		bestPos := currentPos
		bestScore := r.evaluateBoundaryPosition(sim, append(append([]int{}, refined...), currentPos, endBoundary))

		pairLength := endBoundary - startBoundary
		searchRange := r.cfg.RefinementSearchRange
		if dynamic := pairLength / 4; dynamic < searchRange {
			searchRange = dynamic
		}

		for offset := -searchRange; offset <= searchRange; offset++ {
			testPos := currentPos + offset
			if testPos <= startBoundary || testPos >= endBoundary {
				continue
			}
			testBoundaries := append(append([]int{}, refined...), testPos, endBoundary)
			score := r.evaluateBoundaryPosition(sim, testBoundaries)
			if score > bestScore {
				bestScore = score
				bestPos = testPos
			}
		}

		refined = append(refined, bestPos)
	}
	refined = append(refined, current[len(current)-1])

	return rebuildEventsFromBoundaries(events, refined)
}

// evaluateBoundaryPosition returns a score where higher is always better:
// modularity is used directly, conductance is negated since lower
// conductance means a better cut.
func (r *Refiner) evaluateBoundaryPosition(sim [][]float64, boundaries []int) float64 {
	if r.cfg.RefinementMetric == core.RefinementConductance {
		return -conductance(sim, boundaries)
	}
	return modularity(sim, boundaries)
}

// modularity scores a partition of [0,len(sim)) into communities delimited
// by boundaries against the weighted-graph modularity equation. It returns
// 0.0 (the original algorithm's failure sentinel) when the partition
// collapses to a single community or the graph has no edge weight at all.
func modularity(sim [][]float64, boundaries []int) float64 {
	communities := communitiesFromBoundaries(boundaries)
	if len(communities) <= 1 {
		return 0.0
	}

	n := len(sim)
	total := 0.0
	deg := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			total += sim[i][j]
			deg[i] += sim[i][j]
		}
	}
	if total == 0 {
		return 0.0
	}

	q := 0.0
	for _, community := range communities {
		for _, i := range community {
			for _, j := range community {
				q += sim[i][j] - deg[i]*deg[j]/total
			}
		}
	}
	return q / total
}

// conductance averages, over every community delimited by boundaries, the
// ratio of edge weight crossing the community boundary to total edge
// weight touching it. It returns 1.0 (the original algorithm's "bad score"
// sentinel) on an empty boundary list.
func conductance(sim [][]float64, boundaries []int) float64 {
	numCommunities := len(boundaries) - 1
	if numCommunities <= 0 {
		return 1.0
	}

	total := 0.0
	for i := 0; i < numCommunities; i++ {
		start, end := boundaries[i], boundaries[i+1]

		internal := 0.0
		for a := start; a < end; a++ {
			for b := start; b < end; b++ {
				internal += sim[a][b]
			}
		}
		external := 0.0
		for a := start; a < end; a++ {
			for b := 0; b < start; b++ {
				external += sim[a][b]
			}
			for b := end; b < len(sim); b++ {
				external += sim[a][b]
			}
		}
		weight := internal + external
		if weight > 0 {
			total += external / weight
		}
	}
	return total / float64(numCommunities)
}

func communitiesFromBoundaries(boundaries []int) [][]int {
	var communities [][]int
	for i := 0; i < len(boundaries)-1; i++ {
		start, end := boundaries[i], boundaries[i+1]
		if end <= start {
			continue
		}
		community := make([]int, 0, end-start)
		for p := start; p < end; p++ {
			community = append(community, p)
		}
		communities = append(communities, community)
	}
	return communities
}

func similarityMatrix(vectors [][]float32) [][]float64 {
	n := len(vectors)
	sim := make([][]float64, n)
	for i := range sim {
		sim[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		sim[i][i] = 1
		for j := i + 1; j < n; j++ {
			s := cosineSimilarity(vectors[i], vectors[j])
			sim[i][j] = s
			sim[j][i] = s
		}
	}
	return sim
}

func rebuildEventsFromBoundaries(original []core.EpisodicEvent, boundaries []int) []core.EpisodicEvent {
	var allTokens []string
	var allSurprise []float64
	for _, e := range original {
		allTokens = append(allTokens, e.Tokens...)
		allSurprise = append(allSurprise, e.SurpriseScores...)
	}

	var rebuilt []core.EpisodicEvent
	for i := 0; i < len(boundaries)-1; i++ {
		start, end := boundaries[i], boundaries[i+1]
		if start >= end {
			continue
		}
		event := core.EpisodicEvent{
			StartPos: start,
			EndPos:   end,
			Tokens:   append([]string(nil), allTokens[start:end]...),
		}
		if len(allSurprise) >= end {
			event.SurpriseScores = append([]float64(nil), allSurprise[start:end]...)
		}
		rebuilt = append(rebuilt, event)
	}
	return rebuilt
}
