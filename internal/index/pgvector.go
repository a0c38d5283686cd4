package index

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PgVectorIndex stores one job's vectors in a shared Postgres table with
// the pgvector extension, isolated by job id. Ordering uses the cosine
// distance operator with insertion sequence as the tie-breaker, matching
// the memory index contract.
type PgVectorIndex struct {
	pool      *pgxpool.Pool
	jobID     string
	dimension int
}

// EnsurePgVectorSchema prepares the extension and chunk table. Embedding
// vectors are stored untyped-dimension so one table serves all models; the
// per-index dimension check stays in Go.
func EnsurePgVectorSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS kb_chunks (
			job_id    TEXT NOT NULL,
			chunk_id  TEXT NOT NULL,
			seq       BIGSERIAL,
			embedding VECTOR,
			PRIMARY KEY (job_id, chunk_id)
		)
	`)
	if err != nil {
		return fmt.Errorf("create kb_chunks table: %w", err)
	}
	return nil
}

func NewPgVectorIndex(pool *pgxpool.Pool, jobID string) *PgVectorIndex {
	return &PgVectorIndex{pool: pool, jobID: jobID}
}

func (p *PgVectorIndex) Add(ctx context.Context, chunkID string, vector []float32) error {
	if p.dimension == 0 {
		p.dimension = len(vector)
	}
	if len(vector) != p.dimension {
		return fmt.Errorf("%w: index holds %d-dimensional vectors, got %d", ErrDimensionMismatch, p.dimension, len(vector))
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO kb_chunks (job_id, chunk_id, embedding)
		VALUES ($1, $2, $3)
		ON CONFLICT (job_id, chunk_id)
		DO UPDATE SET embedding = EXCLUDED.embedding
	`, p.jobID, chunkID, pgvector.NewVector(vector))
	if err != nil {
		return fmt.Errorf("upsert chunk vector: %w", err)
	}
	return nil
}

func (p *PgVectorIndex) Remove(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	_, err := p.pool.Exec(ctx, `
		DELETE FROM kb_chunks WHERE job_id = $1 AND chunk_id = ANY($2)
	`, p.jobID, chunkIDs)
	if err != nil {
		return fmt.Errorf("delete chunk vectors: %w", err)
	}
	return nil
}

func (p *PgVectorIndex) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	if k <= 0 {
		return nil, nil
	}
	if p.dimension != 0 && len(query) != p.dimension {
		return nil, fmt.Errorf("%w: index holds %d-dimensional vectors, query has %d", ErrDimensionMismatch, p.dimension, len(query))
	}

	rows, err := p.pool.Query(ctx, `
		SELECT chunk_id, 1 - (embedding <=> $2) AS similarity
		FROM kb_chunks
		WHERE job_id = $1
		ORDER BY embedding <=> $2, seq
		LIMIT $3
	`, p.jobID, pgvector.NewVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("search chunk vectors: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0, k)
	for rows.Next() {
		var result Result
		if err := rows.Scan(&result.ChunkID, &result.Score); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		results = append(results, result)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate search hits: %w", rows.Err())
	}
	return results, nil
}
