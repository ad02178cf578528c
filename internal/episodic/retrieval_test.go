package episodic

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/hearthai/hearth/internal/core"
	"github.com/hearthai/hearth/internal/vectorstore"
	"github.com/stretchr/testify/require"
)

// fakeVectorStore is an in-memory vectorstore.Store stand-in covering the
// predicate shapes episodic retrieval relies on (Eq and Or groups).
type fakeVectorStore struct {
	records map[string]vectorstore.Record
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{records: map[string]vectorstore.Record{}}
}

func (f *fakeVectorStore) Add(ctx context.Context, collection string, records []vectorstore.Record) error {
	for _, r := range records {
		f.records[r.ID] = r
	}
	return nil
}

func (f *fakeVectorStore) matches(filter vectorstore.Filter, meta map[string]any) bool {
	if filter.IsEmpty() {
		return true
	}
	for k, v := range filter.Eq {
		if meta[k] != v {
			return false
		}
	}
	if len(filter.Or) == 0 {
		return true
	}
	for _, group := range filter.Or {
		allMatch := true
		for k, v := range group {
			if meta[k] != v {
				allMatch = false
				break
			}
		}
		if allMatch {
			return true
		}
	}
	return false
}

func (f *fakeVectorStore) Query(ctx context.Context, collection string, embedding []float32, topK int, filter vectorstore.Filter) ([]vectorstore.ScoredRecord, error) {
	var out []vectorstore.ScoredRecord
	var ids []string
	for id := range f.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		r := f.records[id]
		if f.matches(filter, r.Metadata) {
			out = append(out, vectorstore.ScoredRecord{Record: r})
		}
	}
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (f *fakeVectorStore) Count(ctx context.Context, collection string, filter vectorstore.Filter) (int, error) {
	recs, _ := f.Query(ctx, collection, nil, 0, filter)
	return len(recs), nil
}

func (f *fakeVectorStore) Delete(ctx context.Context, collection string, ids []string) error {
	for _, id := range ids {
		delete(f.records, id)
	}
	return nil
}

func (f *fakeVectorStore) OldestIDs(ctx context.Context, collection string, n int) ([]string, error) {
	return nil, nil
}

func (f *fakeVectorStore) Close() error { return nil }

func eventWithEmbedding(start, end int, embedding []float32) core.EpisodicEvent {
	return core.EpisodicEvent{
		Tokens:                   []string{"tok"},
		StartPos:                 start,
		EndPos:                   end,
		SurpriseScores:           []float64{0.1},
		RepresentativeEmbeddings: [][]float32{embedding},
	}
}

func TestAddEventsSkipsEventsWithoutEmbeddings(t *testing.T) {
	vs := newFakeVectorStore()
	store := NewStore(vs, "episodic_test", core.DefaultEMConfig())
	err := store.AddEvents(context.Background(), []core.EpisodicEvent{{StartPos: 0, EndPos: 1}})
	require.NoError(t, err)
	require.Empty(t, vs.records)
}

func TestAddEventsPersistsMeanEmbeddingAndMetadata(t *testing.T) {
	vs := newFakeVectorStore()
	store := NewStore(vs, "episodic_test", core.DefaultEMConfig())
	err := store.AddEvents(context.Background(), []core.EpisodicEvent{eventWithEmbedding(0, 4, []float32{1, 0})})
	require.NoError(t, err)
	rec, ok := vs.records[eventDocID(0, 4)]
	require.True(t, ok)
	require.Equal(t, 0, rec.Metadata["start_position"])
	require.Equal(t, 4, rec.Metadata["end_position"])
}

func TestRetrieveRelevantEventsEmptyStoreReturnsNothing(t *testing.T) {
	vs := newFakeVectorStore()
	store := NewStore(vs, "episodic_test", core.DefaultEMConfig())
	out, err := store.RetrieveRelevantEvents(context.Background(), []float32{1, 0}, 4)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestRetrieveRelevantEventsWidensWithContiguousNeighbors(t *testing.T) {
	vs := newFakeVectorStore()
	cfg := core.DefaultEMConfig()
	cfg.SimilarityBufferRatio = 0.5
	store := NewStore(vs, "episodic_test", cfg)

	now := time.Now()
	_ = vs.Add(context.Background(), "episodic_test", []vectorstore.Record{
		{ID: eventDocID(0, 4), Embedding: []float32{1, 0}, Content: "a b c d",
			Metadata: map[string]any{"start_position": 0, "end_position": 4, "avg_surprise": 0.2}, CreatedAt: now},
		{ID: eventDocID(4, 8), Embedding: []float32{0.9, 0.1}, Content: "e f g h",
			Metadata: map[string]any{"start_position": 4, "end_position": 8, "avg_surprise": 0.3}, CreatedAt: now},
		{ID: eventDocID(20, 24), Embedding: []float32{0, 1}, Content: "x y z w",
			Metadata: map[string]any{"start_position": 20, "end_position": 24, "avg_surprise": 0.1}, CreatedAt: now},
	})

	out, err := store.RetrieveRelevantEvents(context.Background(), []float32{1, 0}, 4)
	require.NoError(t, err)
	require.NotEmpty(t, out)
	for i := 1; i < len(out); i++ {
		require.LessOrEqual(t, out[i-1].RetrievalRank, out[i].RetrievalRank)
	}
}

func TestDeduplicateByPositionRemovesDuplicates(t *testing.T) {
	recs := []vectorstore.ScoredRecord{
		{Record: vectorstore.Record{ID: "a", Metadata: map[string]any{"start_position": 0, "end_position": 4}}},
		{Record: vectorstore.Record{ID: "b", Metadata: map[string]any{"start_position": 0, "end_position": 4}}},
	}
	out := deduplicateByPosition(recs)
	require.Len(t, out, 1)
}
