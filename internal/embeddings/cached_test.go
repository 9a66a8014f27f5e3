package embeddings

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeProvider struct {
	calls [][]string
	err   error
}

func (f *fakeProvider) ModelID() string { return "fake-model" }

func (f *fakeProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.calls = append(f.calls, append([]string(nil), texts...))
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

type memCache struct {
	mu        sync.Mutex
	vectors   map[string][]float32
	lookupErr error
	storeErr  error
}

func newMemCache() *memCache {
	return &memCache{vectors: make(map[string][]float32)}
}

func (m *memCache) LookupEmbeddings(_ context.Context, model string, hashes []string) (map[string][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	out := make(map[string][]float32)
	for _, h := range hashes {
		if v, ok := m.vectors[model+"/"+h]; ok {
			out[h] = v
		}
	}
	return out, nil
}

func (m *memCache) StoreEmbeddings(_ context.Context, model string, vectors map[string][]float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.storeErr != nil {
		return m.storeErr
	}
	for h, v := range vectors {
		m.vectors[model+"/"+h] = v
	}
	return nil
}

func TestCached_EmbedsMissesOnce(t *testing.T) {
	p := &fakeProvider{}
	c := NewCached(p, newMemCache(), discardLogger())
	ctx := context.Background()

	first, err := c.EmbedBatch(ctx, []string{"a", "bb"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 1}, {2, 1}}, first)

	second, err := c.EmbedBatch(ctx, []string{"bb", "ccc"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{2, 1}, {3, 1}}, second)

	require.Len(t, p.calls, 2)
	assert.Equal(t, []string{"ccc"}, p.calls[1], "only the miss is sent to the provider")
}

func TestCached_DeduplicatesWithinBatch(t *testing.T) {
	p := &fakeProvider{}
	c := NewCached(p, newMemCache(), discardLogger())

	out, err := c.EmbedBatch(context.Background(), []string{"x", "x", "yy"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 1}, {1, 1}, {2, 1}}, out)
	require.Len(t, p.calls, 1)
	assert.Equal(t, []string{"x", "yy"}, p.calls[0])
}

func TestCached_FullHitSkipsProvider(t *testing.T) {
	p := &fakeProvider{}
	cache := newMemCache()
	cache.vectors["fake-model/"+Hash("hello")] = []float32{9, 9}
	c := NewCached(p, cache, discardLogger())

	out, err := c.EmbedBatch(context.Background(), []string{"hello"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{9, 9}}, out)
	assert.Empty(t, p.calls)
}

func TestCached_CacheFailuresDegrade(t *testing.T) {
	p := &fakeProvider{}
	cache := newMemCache()
	cache.lookupErr = errors.New("db down")
	cache.storeErr = errors.New("db down")
	c := NewCached(p, cache, discardLogger())

	out, err := c.EmbedBatch(context.Background(), []string{"abc"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{3, 1}}, out)
}

func TestCached_ProviderErrorPropagates(t *testing.T) {
	p := &fakeProvider{err: errors.New("rate limited")}
	c := NewCached(p, newMemCache(), discardLogger())

	_, err := c.EmbedBatch(context.Background(), []string{"abc"})
	assert.Error(t, err)
}

func TestCached_Empty(t *testing.T) {
	p := &fakeProvider{}
	c := NewCached(p, newMemCache(), discardLogger())

	out, err := c.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Empty(t, p.calls)
}

func TestHash_Stable(t *testing.T) {
	assert.Equal(t, Hash("deploy on friday"), Hash("deploy on friday"))
	assert.NotEqual(t, Hash("deploy on friday"), Hash("deploy on tuesday"))
	assert.Len(t, Hash(""), 64)
}
