package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/qdrant/go-client/qdrant"
)

type idAt struct {
	id string
	at time.Time
}

// QdrantStore is the alternate Vector Store backend for deployments that
// already run Qdrant rather than Postgres.
type QdrantStore struct {
	client *qdrant.Client
	dim    uint64
}

// NewQdrantStore connects to a Qdrant instance at addr (host:port of its
// gRPC interface). dim is the embedding dimension every collection is
// created with.
func NewQdrantStore(addr string, dim int) (*QdrantStore, error) {
	host, port, err := splitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: parsing qdrant address: %w", err)
	}
	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: connecting to qdrant: %w", err)
	}
	return &QdrantStore{client: client, dim: uint64(dim)}, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context, collection string) error {
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("vectorstore: checking collection %q: %w", collection, err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.dim,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("vectorstore: creating collection %q: %w", collection, err)
	}
	return nil
}

// Add implements Store.
func (s *QdrantStore) Add(ctx context.Context, collection string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx, collection); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, r := range records {
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		payload := map[string]any{"content": r.Content, "created_at": createdAt.Format(time.RFC3339Nano)}
		for k, v := range r.Metadata {
			payload[k] = v
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(r.ID),
			Vectors: qdrant.NewVectors(r.Embedding...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("vectorstore: upserting points: %w", err)
	}
	return nil
}

// Query implements Store.
func (s *QdrantStore) Query(ctx context.Context, collection string, embedding []float32, topK int, filter Filter) ([]ScoredRecord, error) {
	if err := s.ensureCollection(ctx, collection); err != nil {
		return nil, err
	}

	limit := uint64(topK)
	req := &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(embedding...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	}
	if f := buildQdrantFilter(filter); f != nil {
		req.Filter = f
	}

	resp, err := s.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: query: %w", err)
	}

	out := make([]ScoredRecord, 0, len(resp))
	for _, p := range resp {
		out = append(out, scoredRecordFromPoint(p))
	}
	return out, nil
}

// Count implements Store.
func (s *QdrantStore) Count(ctx context.Context, collection string, filter Filter) (int, error) {
	if err := s.ensureCollection(ctx, collection); err != nil {
		return 0, err
	}
	req := &qdrant.CountPoints{CollectionName: collection}
	if f := buildQdrantFilter(filter); f != nil {
		req.Filter = f
	}
	n, err := s.client.Count(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("vectorstore: count: %w", err)
	}
	return int(n), nil
}

// Delete implements Store.
func (s *QdrantStore) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	for _, batch := range chunkIDs(ids) {
		pointIDs := make([]*qdrant.PointId, 0, len(batch))
		for _, id := range batch {
			pointIDs = append(pointIDs, qdrant.NewID(id))
		}
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collection,
			Points:         qdrant.NewPointsSelector(pointIDs...),
		})
		if err != nil {
			return fmt.Errorf("vectorstore: delete: %w", err)
		}
	}
	return nil
}

// OldestIDs implements Store. Qdrant has no native sort-by-payload-field
// scroll, so this scrolls the full collection's created_at payload field
// and sorts client-side; acceptable for the bounded collection sizes the
// Episodic Memory and RAG Engine operate at.
func (s *QdrantStore) OldestIDs(ctx context.Context, collection string, n int) ([]string, error) {
	if err := s.ensureCollection(ctx, collection); err != nil {
		return nil, err
	}

	var all []idAt

	var offset *qdrant.PointId
	for {
		limit := uint32(256)
		resp, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: collection,
			Limit:          &limit,
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, fmt.Errorf("vectorstore: scroll: %w", err)
		}
		if len(resp) == 0 {
			break
		}
		for _, p := range resp {
			id := pointIDToString(p.Id)
			at := time.Time{}
			if v, ok := p.Payload["created_at"]; ok {
				if t, err := time.Parse(time.RFC3339Nano, v.GetStringValue()); err == nil {
					at = t
				}
			}
			all = append(all, idAt{id: id, at: at})
		}
		if len(resp) < int(limit) {
			break
		}
		offset = resp[len(resp)-1].Id
	}

	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })
	if n > len(all) {
		n = len(all)
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, all[i].id)
	}
	return out, nil
}

// Close implements Store.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func buildQdrantFilter(filter Filter) *qdrant.Filter {
	if filter.IsEmpty() {
		return nil
	}
	f := &qdrant.Filter{}
	for k, v := range filter.Eq {
		f.Must = append(f.Must, qdrant.NewMatch(k, fmt.Sprintf("%v", v)))
	}
	for _, group := range filter.Or {
		and := &qdrant.Filter{}
		for k, v := range group {
			and.Must = append(and.Must, qdrant.NewMatch(k, fmt.Sprintf("%v", v)))
		}
		f.Should = append(f.Should, qdrant.NewFilterAsCondition(and))
	}
	return f
}

func scoredRecordFromPoint(p *qdrant.ScoredPoint) ScoredRecord {
	content := ""
	meta := map[string]any{}
	var createdAt time.Time
	for k, v := range p.Payload {
		switch k {
		case "content":
			content = v.GetStringValue()
		case "created_at":
			if t, err := time.Parse(time.RFC3339Nano, v.GetStringValue()); err == nil {
				createdAt = t
			}
		default:
			meta[k] = qdrantValueToAny(v)
		}
	}
	return ScoredRecord{
		Record: Record{
			ID:        pointIDToString(p.Id),
			Embedding: qdrantVectorsToFloats(p.Vectors),
			Content:   content,
			Metadata:  meta,
			CreatedAt: createdAt,
		},
		Distance: 1 - float64(p.Score), // Qdrant cosine "score" is similarity; store distance for a uniform contract.
	}
}

func qdrantValueToAny(v *qdrant.Value) any {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out any
	_ = json.Unmarshal(b, &out)
	return out
}

func qdrantVectorsToFloats(v *qdrant.VectorsOutput) []float32 {
	if v == nil {
		return nil
	}
	if dense := v.GetVector(); dense != nil {
		return dense.GetData()
	}
	return nil
}

func pointIDToString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return fmt.Sprintf("%d", id.GetNum())
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid address %q, expected host:port: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in address %q: %w", addr, err)
	}
	return host, port, nil
}
