package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PostgresStore is the default Vector Store backend: one table per
// collection, a pgvector column holding the embedding, and a jsonb column
// holding metadata so Filter predicates can be pushed into SQL.
type PostgresStore struct {
	pool *pgxpool.Pool
	dim  int
}

// NewPostgresStore connects to dsn and returns a store that creates its
// collection tables lazily on first use. dim is the embedding dimension
// every collection's vector column is declared with.
func NewPostgresStore(ctx context.Context, dsn string, dim int) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("vectorstore: pinging postgres: %w", err)
	}
	return &PostgresStore{pool: pool, dim: dim}, nil
}

func tableName(collection string) string {
	return "vs_" + collection
}

func (s *PostgresStore) ensureTable(ctx context.Context, collection string) error {
	table := tableName(collection)
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id         TEXT PRIMARY KEY,
			embedding  vector(%d) NOT NULL,
			content    TEXT NOT NULL,
			metadata   JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL
		);`, table, s.dim))
	if err != nil {
		return fmt.Errorf("vectorstore: creating table %s: %w", table, err)
	}
	_, _ = s.pool.Exec(ctx, fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s_created_at_idx ON %s (created_at ASC);`, table, table))
	return nil
}

// Add implements Store.
func (s *PostgresStore) Add(ctx context.Context, collection string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.ensureTable(ctx, collection); err != nil {
		return err
	}
	table := tableName(collection)

	batch := &pgx.Batch{}
	for _, r := range records {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("vectorstore: encoding metadata for %q: %w", r.ID, err)
		}
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		batch.Queue(fmt.Sprintf(`
			INSERT INTO %s (id, embedding, content, metadata, created_at)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (id) DO UPDATE SET
				embedding = EXCLUDED.embedding,
				content = EXCLUDED.content,
				metadata = EXCLUDED.metadata`, table),
			r.ID, pgvector.NewVector(r.Embedding), r.Content, meta, createdAt)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range records {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("vectorstore: inserting record: %w", err)
		}
	}
	return nil
}

// Query implements Store.
func (s *PostgresStore) Query(ctx context.Context, collection string, embedding []float32, topK int, filter Filter) ([]ScoredRecord, error) {
	if err := s.ensureTable(ctx, collection); err != nil {
		return nil, err
	}
	table := tableName(collection)

	where, args := buildWhereClause(filter, 2)
	args = append([]any{pgvector.NewVector(embedding)}, args...)
	args = append(args, topK)

	query := fmt.Sprintf(`
		SELECT id, embedding, content, metadata, created_at, embedding <=> $1 AS distance
		FROM %s
		%s
		ORDER BY distance ASC
		LIMIT $%d`, table, where, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: query: %w", err)
	}
	defer rows.Close()

	var out []ScoredRecord
	for rows.Next() {
		var (
			id        string
			vec       pgvector.Vector
			content   string
			metaBytes []byte
			createdAt time.Time
			distance  float64
		)
		if err := rows.Scan(&id, &vec, &content, &metaBytes, &createdAt, &distance); err != nil {
			return nil, fmt.Errorf("vectorstore: scanning row: %w", err)
		}
		var meta map[string]any
		_ = json.Unmarshal(metaBytes, &meta)
		out = append(out, ScoredRecord{
			Record: Record{
				ID:        id,
				Embedding: vec.Slice(),
				Content:   content,
				Metadata:  meta,
				CreatedAt: createdAt,
			},
			Distance: distance,
		})
	}
	return out, rows.Err()
}

// Count implements Store.
func (s *PostgresStore) Count(ctx context.Context, collection string, filter Filter) (int, error) {
	if err := s.ensureTable(ctx, collection); err != nil {
		return 0, err
	}
	table := tableName(collection)
	where, args := buildWhereClause(filter, 1)
	var n int
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s %s`, table, where), args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("vectorstore: count: %w", err)
	}
	return n, nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.ensureTable(ctx, collection); err != nil {
		return err
	}
	table := tableName(collection)
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, table)
	for _, batch := range chunkIDs(ids) {
		if _, err := s.pool.Exec(ctx, query, batch); err != nil {
			return fmt.Errorf("vectorstore: delete: %w", err)
		}
	}
	return nil
}

// OldestIDs implements Store.
func (s *PostgresStore) OldestIDs(ctx context.Context, collection string, n int) ([]string, error) {
	if err := s.ensureTable(ctx, collection); err != nil {
		return nil, err
	}
	table := tableName(collection)
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT id FROM %s ORDER BY created_at ASC LIMIT $1`, table), n)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: oldest ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// buildWhereClause renders a Filter into a SQL WHERE clause (including the
// leading "WHERE" keyword, or "" when the filter is empty) and its
// positional arguments, starting numbering at startArg.
func buildWhereClause(filter Filter, startArg int) (string, []any) {
	if filter.IsEmpty() {
		return "", nil
	}

	var clauses []string
	var args []any
	n := startArg

	for k, v := range filter.Eq {
		clauses = append(clauses, fmt.Sprintf("metadata->>'%s' = $%d", k, n))
		args = append(args, fmt.Sprintf("%v", v))
		n++
	}

	if len(filter.Or) > 0 {
		var orClauses []string
		for _, group := range filter.Or {
			var andClauses []string
			for k, v := range group {
				andClauses = append(andClauses, fmt.Sprintf("metadata->>'%s' = $%d", k, n))
				args = append(args, fmt.Sprintf("%v", v))
				n++
			}
			if len(andClauses) > 0 {
				orClauses = append(orClauses, "("+strings.Join(andClauses, " AND ")+")")
			}
		}
		if len(orClauses) > 0 {
			clauses = append(clauses, "("+strings.Join(orClauses, " OR ")+")")
		}
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}
