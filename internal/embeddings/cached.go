package embeddings

import (
	"context"
	"fmt"
	"log/slog"
)

// Cache stores vectors keyed by model and chunk hash.
type Cache interface {
	LookupEmbeddings(ctx context.Context, model string, hashes []string) (map[string][]float32, error)
	StoreEmbeddings(ctx context.Context, model string, vectors map[string][]float32) error
}

// Cached wraps a Provider so chunks that were embedded before (a sibling compared on
// a previous run, an unchanged transcript being rechecked) are read from the cache.
// Cache errors are logged and fall back to the wrapped provider.
type Cached struct {
	next   Provider
	cache  Cache
	logger *slog.Logger
}

var _ Provider = (*Cached)(nil)

func NewCached(next Provider, cache Cache, logger *slog.Logger) *Cached {
	return &Cached{next: next, cache: cache, logger: logger}
}

func (c *Cached) ModelID() string {
	return c.next.ModelID()
}

// EmbedBatch returns cached vectors where available and embeds the rest in a single
// call to the wrapped provider.
func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	model := c.next.ModelID()

	hashes := make([]string, len(texts))
	for i, t := range texts {
		hashes[i] = Hash(t)
	}

	hits, err := c.cache.LookupEmbeddings(ctx, model, hashes)
	if err != nil {
		c.logger.Warn("embedding cache lookup failed", "error", err)
		hits = nil
	}

	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	seen := make(map[string]int)
	for i, h := range hashes {
		if v, ok := hits[h]; ok {
			out[i] = v
			continue
		}
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = len(missTexts)
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, texts[i])
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.next.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embed batch: expected %d vectors, got %d", len(missTexts), len(vecs))
	}

	fresh := make(map[string][]float32, len(vecs))
	for k, i := range missIdx {
		fresh[hashes[i]] = vecs[k]
	}
	for i, h := range hashes {
		if out[i] == nil {
			out[i] = fresh[h]
		}
	}

	if err := c.cache.StoreEmbeddings(ctx, model, fresh); err != nil {
		c.logger.Warn("embedding cache store failed", "error", err)
	}

	c.logger.Debug("embedded chunks",
		"model", model,
		"cached", len(texts)-len(missIdx),
		"embedded", len(missIdx),
	)
	return out, nil
}
