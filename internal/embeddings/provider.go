// Package embeddings maps transcript chunks to dense vectors.
//
// Providers must be safe for concurrent use. Vectors from different providers (or
// models) are never compared against each other.
package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// Provider is the abstraction over a text-embedding backend.
type Provider interface {
	// EmbedBatch embeds texts in one call. The i-th vector corresponds to texts[i].
	// On error no partial result is returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// ModelID identifies the model, and with it the vector space.
	ModelID() string
}

// Hash is the cache key of a chunk: the hex SHA-256 of its text.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
