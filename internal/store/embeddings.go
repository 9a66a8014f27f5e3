package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"
)

// LookupEmbeddings returns the cached vectors for hashes under model. Misses are
// simply absent from the map.
func (s *Store) LookupEmbeddings(ctx context.Context, model string, hashes []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(hashes))
	if len(hashes) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT hash, embedding FROM chunk_embeddings
		WHERE model = $1 AND hash = ANY($2)`,
		model, hashes,
	)
	if err != nil {
		return nil, fmt.Errorf("lookup embeddings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var hash string
		var vec pgvector.Vector
		if err := rows.Scan(&hash, &vec); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		out[hash] = vec.Slice()
	}
	return out, rows.Err()
}

// StoreEmbeddings caches vectors under model. Existing entries are kept.
func (s *Store) StoreEmbeddings(ctx context.Context, model string, vectors map[string][]float32) error {
	if len(vectors) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for hash, v := range vectors {
		batch.Queue(`
			INSERT INTO chunk_embeddings (model, hash, embedding)
			VALUES ($1, $2, $3)
			ON CONFLICT (model, hash) DO NOTHING`,
			model, hash, pgvector.NewVector(v),
		)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("store embeddings: %w", err)
	}
	return nil
}
