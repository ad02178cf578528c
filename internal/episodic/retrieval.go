package episodic

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hearthai/hearth/internal/core"
	"github.com/hearthai/hearth/internal/vectorstore"
)

// Store is the two-stage (similarity + contiguity) retrieval system backing
// episodic memory: a similarity buffer of the ks nearest events by query
// embedding, widened by a contiguity buffer of the kc events immediately
// adjacent to those matches, deduplicated and returned oldest-first.
type Store struct {
	vs         vectorstore.Store
	collection string
	cfg        core.EMConfig
}

// NewStore binds a vectorstore.Store collection to episodic retrieval.
func NewStore(vs vectorstore.Store, collection string, cfg core.EMConfig) *Store {
	return &Store{vs: vs, collection: collection, cfg: cfg}
}

func eventDocID(startPos, endPos int) string {
	return fmt.Sprintf("em_event_%d_%d", startPos, endPos)
}

// AddEvents persists events, embedding each by the mean of its
// representative embeddings (set by the caller after selecting a
// representative token subset; an event with none is skipped since it
// cannot be placed in the similarity index).
func (s *Store) AddEvents(ctx context.Context, events []core.EpisodicEvent) error {
	var records []vectorstore.Record
	for _, e := range events {
		if len(e.RepresentativeEmbeddings) == 0 {
			continue
		}
		records = append(records, vectorstore.Record{
			ID:        eventDocID(e.StartPos, e.EndPos),
			Embedding: meanEmbedding(e.RepresentativeEmbeddings),
			Content:   strings.Join(e.Tokens, " "),
			Metadata: map[string]any{
				"start_position": e.StartPos,
				"end_position":   e.EndPos,
				"avg_surprise":   meanFloat(e.SurpriseScores),
				"token_count":    len(e.Tokens),
			},
			CreatedAt: time.Now(),
		})
	}
	if len(records) == 0 {
		return nil
	}
	return s.vs.Add(ctx, s.collection, records)
}

// RetrieveRelevantEvents runs the two-stage retrieval algorithm: a
// similarity-ranked buffer of size ks = total_k*SimilarityBufferRatio,
// widened with a contiguity buffer of size kc = total_k-ks built from events
// immediately adjacent (by token position) to the similarity matches,
// deduplicated by (start,end) and returned sorted oldest-first, truncated to
// total_k. k overrides the configured TotalRetrievedEvents when positive.
func (s *Store) RetrieveRelevantEvents(ctx context.Context, queryEmbedding []float32, k int) ([]core.RetrievedEpisode, error) {
	totalK := k
	if totalK <= 0 {
		totalK = s.cfg.TotalRetrievedEvents
	}
	count, err := s.vs.Count(ctx, s.collection, vectorstore.Filter{})
	if err != nil {
		return nil, fmt.Errorf("episodic: counting events: %w", err)
	}
	if count == 0 {
		return nil, nil
	}

	ks := int(float64(totalK) * s.cfg.SimilarityBufferRatio)
	kc := totalK - ks

	similar, err := s.similarityRetrieval(ctx, queryEmbedding, ks)
	if err != nil {
		return nil, err
	}
	contiguous, err := s.contiguityRetrieval(ctx, similar, kc)
	if err != nil {
		return nil, err
	}

	all := append(append([]vectorstore.ScoredRecord(nil), similar...), contiguous...)
	unique := deduplicateByPosition(all)

	sort.Slice(unique, func(i, j int) bool {
		return startPosition(unique[i]) < startPosition(unique[j])
	})
	if len(unique) > totalK {
		unique = unique[:totalK]
	}

	out := make([]core.RetrievedEpisode, 0, len(unique))
	for rank, r := range unique {
		out = append(out, retrievedEpisodeFromRecord(r, rank))
	}
	return out, nil
}

// similarityRetrieval ranks by cosine distance, then applies a recency
// boost (score += RecencyWeight * (ts/maxTs)) before truncating to ks. It
// overfetches ahead of the backend's distance ranking so the recency boost
// has a pool of near-miss candidates to potentially promote.
func (s *Store) similarityRetrieval(ctx context.Context, queryEmbedding []float32, ks int) ([]vectorstore.ScoredRecord, error) {
	if ks <= 0 {
		return nil, nil
	}
	overfetch := ks * 3
	recs, err := s.vs.Query(ctx, s.collection, queryEmbedding, overfetch, vectorstore.Filter{})
	if err != nil {
		return nil, fmt.Errorf("episodic: similarity query: %w", err)
	}
	recs = applyRecencyBoost(recs, s.cfg.RecencyWeight)
	if len(recs) > ks {
		recs = recs[:ks]
	}
	return recs, nil
}

// applyRecencyBoost re-scores cosine similarity (1-distance) with a linear
// recency term and re-sorts descending by the boosted score, storing the
// boosted value back as Distance (1-score) for a uniform "lower is
// better" contract with the unboosted path.
func applyRecencyBoost(recs []vectorstore.ScoredRecord, recencyWeight float64) []vectorstore.ScoredRecord {
	if len(recs) == 0 {
		return recs
	}
	var maxTs int64
	for _, r := range recs {
		if ts := r.CreatedAt.Unix(); ts > maxTs {
			maxTs = ts
		}
	}
	out := append([]vectorstore.ScoredRecord(nil), recs...)
	if maxTs > 0 {
		for i := range out {
			similarity := 1 - out[i].Distance
			boost := recencyWeight * (float64(out[i].CreatedAt.Unix()) / float64(maxTs))
			out[i].Distance = 1 - (similarity + boost)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out
}

// contiguityRetrieval widens the similarity matches with their immediate
// token-position neighbors, using the vectorstore's Or-group filter to
// batch every adjacency check ({"end_position": start} OR
// {"start_position": end}, for each similarity match) into one query.
func (s *Store) contiguityRetrieval(ctx context.Context, similar []vectorstore.ScoredRecord, kc int) ([]vectorstore.ScoredRecord, error) {
	if kc <= 0 || len(similar) == 0 {
		return nil, nil
	}

	var orGroups []map[string]any
	similarIDs := make(map[string]bool, len(similar))
	for _, r := range similar {
		start, end := startPosition(r), endPosition(r)
		orGroups = append(orGroups, map[string]any{"end_position": start})
		orGroups = append(orGroups, map[string]any{"start_position": end})
		similarIDs[r.ID] = true
	}

	filter := vectorstore.Filter{Or: orGroups}
	count, err := s.vs.Count(ctx, s.collection, filter)
	if err != nil {
		return nil, fmt.Errorf("episodic: contiguity count: %w", err)
	}
	if count == 0 {
		return nil, nil
	}

	recs, err := s.vs.Query(ctx, s.collection, contiguityQueryEmbedding(similar), count, filter)
	if err != nil {
		return nil, fmt.Errorf("episodic: contiguity query: %w", err)
	}

	var out []vectorstore.ScoredRecord
	for _, r := range recs {
		if !similarIDs[r.ID] {
			out = append(out, r)
		}
	}
	out = deduplicateByPosition(out)
	if len(out) > kc {
		out = out[:kc]
	}
	return out, nil
}

func deduplicateByPosition(recs []vectorstore.ScoredRecord) []vectorstore.ScoredRecord {
	type posKey struct{ start, end int }
	seen := make(map[posKey]bool, len(recs))
	var out []vectorstore.ScoredRecord
	for _, r := range recs {
		key := posKey{startPosition(r), endPosition(r)}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}

func retrievedEpisodeFromRecord(r vectorstore.ScoredRecord, rank int) core.RetrievedEpisode {
	avgSurprise := metaFloat(r.Metadata, "avg_surprise")
	tokens := strings.Fields(r.Content)
	return core.RetrievedEpisode{
		ID:                   r.ID,
		Content:              r.Content,
		Summary:              r.Content,
		SurpriseMean:         avgSurprise,
		SurpriseMax:          avgSurprise,
		Size:                 len(tokens),
		RepresentativeTokens: tokens,
		RetrievalRank:        rank,
	}
}

func startPosition(r vectorstore.ScoredRecord) int { return metaInt(r.Metadata, "start_position") }
func endPosition(r vectorstore.ScoredRecord) int    { return metaInt(r.Metadata, "end_position") }

func metaInt(meta map[string]any, key string) int {
	switch v := meta[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return 0
	}
}

func metaFloat(meta map[string]any, key string) float64 {
	switch v := meta[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	default:
		return 0
	}
}

// contiguityQueryEmbedding hands Query a query vector even though the
// contiguity stage has no semantic-similarity component of its own: using
// the similarity stage's top match keeps results ordered consistently
// should a backend use the vector in its scan plan, while the Or-filter is
// what actually restricts the result set.
func contiguityQueryEmbedding(similar []vectorstore.ScoredRecord) []float32 {
	if len(similar) == 0 {
		return nil
	}
	return similar[0].Embedding
}

func meanEmbedding(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	out := make([]float32, len(vectors[0]))
	for _, v := range vectors {
		for i, x := range v {
			if i < len(out) {
				out[i] += x
			}
		}
	}
	for i := range out {
		out[i] /= float32(len(vectors))
	}
	return out
}

func meanFloat(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
