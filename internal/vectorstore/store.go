// Package vectorstore abstracts the embedding-indexed storage the RAG
// Engine and Episodic Memory both depend on, behind a single interface
// with two interchangeable backends: Postgres+pgvector (default) and
// Qdrant.
package vectorstore

import (
	"context"
	"time"
)

// Record is one embedding-indexed row. Metadata values must be JSON
// round-trippable; both backends store them as a JSON document.
type Record struct {
	ID        string
	Embedding []float32
	Content   string
	Metadata  map[string]any
	CreatedAt time.Time
}

// ScoredRecord is a Record returned from Query, annotated with its
// distance from the query embedding (cosine distance: 0 = identical, 2 =
// opposite).
type ScoredRecord struct {
	Record
	Distance float64
}

// Filter restricts Query and Count to records matching metadata
// predicates. Eq entries are AND'd together. Or holds alternative AND
// groups; a record matches Or if it satisfies at least one group. Two-stage
// episodic retrieval's contiguity buffer is built by passing two Or groups:
// {"end_position": e.start_position} and {"start_position": e.end_position}.
type Filter struct {
	Eq map[string]any
	Or []map[string]any
}

// IsEmpty reports whether the filter constrains nothing, letting a
// backend skip filter-clause construction entirely.
func (f Filter) IsEmpty() bool { return len(f.Eq) == 0 && len(f.Or) == 0 }

// deleteBatchSize caps how many IDs either backend sends in a single
// delete call. Both Postgres and Qdrant chunk Delete's ids into batches
// of at most this size.
const deleteBatchSize = 1000

// chunkIDs splits ids into slices of at most deleteBatchSize.
func chunkIDs(ids []string) [][]string {
	var batches [][]string
	for len(ids) > 0 {
		n := deleteBatchSize
		if n > len(ids) {
			n = len(ids)
		}
		batches = append(batches, ids[:n])
		ids = ids[n:]
	}
	return batches
}

// Store is the uniform surface both backends implement. Every operation
// takes an explicit collection name: the RAG Engine and Episodic Memory
// each use their own collection within one physical store.
type Store interface {
	// Add inserts or replaces records by ID.
	Add(ctx context.Context, collection string, records []Record) error

	// Query returns the topK records nearest embedding by cosine distance,
	// restricted to records matching filter.
	Query(ctx context.Context, collection string, embedding []float32, topK int, filter Filter) ([]ScoredRecord, error)

	// Count returns how many records in collection match filter. An empty
	// filter counts every record.
	Count(ctx context.Context, collection string, filter Filter) (int, error)

	// Delete removes records by ID. Deleting an unknown ID is not an error.
	Delete(ctx context.Context, collection string, ids []string) error

	// OldestIDs returns the IDs of the n oldest records by CreatedAt,
	// ascending, the eviction candidate list for a capacity-bounded
	// collection.
	OldestIDs(ctx context.Context, collection string, n int) ([]string, error)

	// Close releases any held connections.
	Close() error
}
