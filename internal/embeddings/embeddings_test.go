package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type countingProvider struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (p *countingProvider) Embed(_ context.Context, _ string, _ Task, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, texts)
	if p.err != nil {
		return nil, p.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func TestLocalLRUEvictsAndExpires(t *testing.T) {
	ctx := context.Background()
	l := NewLocalLRU(2)
	now := time.Unix(100, 0)
	l.now = func() time.Time { return now }

	l.Set(ctx, "a", []float32{1}, time.Minute)
	l.Set(ctx, "b", []float32{2}, time.Minute)
	_, _ = l.Get(ctx, "a")
	l.Set(ctx, "c", []float32{3}, time.Minute)

	_, ok := l.Get(ctx, "b")
	assert.False(t, ok, "least recently used entry is evicted")
	_, ok = l.Get(ctx, "a")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = l.Get(ctx, "c")
	assert.False(t, ok, "expired entry is dropped")
	assert.Equal(t, 1, l.Len())
}

func TestRedisCacheRoundTrip(t *testing.T) {
	s := miniredis.RunT(t)
	cli := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer cli.Close()
	c := NewRedisCache(cli)
	ctx := context.Background()

	c.Set(ctx, "k", []float32{0.5, -1.25, 3}, time.Minute)
	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []float32{0.5, -1.25, 3}, got)

	require.NoError(t, s.Set("bad", "abc"))
	_, ok = c.Get(ctx, "bad")
	assert.False(t, ok)
}

func TestServiceCachesPerText(t *testing.T) {
	p := &countingProvider{}
	s := miniredis.RunT(t)
	cli := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer cli.Close()
	svc := New(Config{Model: "m"}, p, NewRedisCache(cli))
	ctx := context.Background()

	_, err := svc.GenerateBatchEmbeddings(ctx, []string{"alpha", "be"}, TaskDocument)
	require.NoError(t, err)
	out, err := svc.GenerateBatchEmbeddings(ctx, []string{"be", "gamma"}, TaskDocument)
	require.NoError(t, err)

	assert.Equal(t, []float32{2, 1}, out[0])
	assert.Equal(t, []float32{5, 1}, out[1])
	require.Len(t, p.calls, 2)
	assert.Equal(t, []string{"gamma"}, p.calls[1])

	// A fresh process sees the shared tier.
	other := New(Config{Model: "m"}, p, NewRedisCache(cli))
	_, err = other.GenerateEmbedding(ctx, "alpha", TaskDocument)
	require.NoError(t, err)
	assert.Len(t, p.calls, 2)

	// Query and document embeddings are cached separately.
	_, err = svc.GenerateEmbedding(ctx, "alpha", TaskQuery)
	require.NoError(t, err)
	assert.Len(t, p.calls, 3)
}

func TestServicePropagatesProviderError(t *testing.T) {
	svc := New(Config{}, &countingProvider{err: errors.New("down")}, nil)
	_, err := svc.GenerateEmbedding(context.Background(), "x", TaskQuery)
	assert.EqualError(t, err, "down")
}

func TestServiceProviderHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings/", r.URL.Path)
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req.Model)
		resp := embedResponse{Dimensions: 2}
		for range req.Texts {
			resp.Embeddings = append(resp.Embeddings, []float64{0.25, 0.75})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p := NewServiceProvider(srv.URL, srv.Client(), zaptest.NewLogger(t))
	out, err := p.Embed(context.Background(), "text-embedding-3-small", TaskDocument, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.25, 0.75}, {0.25, 0.75}}, out)
}

func TestServiceProviderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no model", http.StatusBadRequest)
	}))
	defer srv.Close()

	p := NewServiceProvider(srv.URL, srv.Client(), zaptest.NewLogger(t))
	_, err := p.Embed(context.Background(), "m", TaskQuery, []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestChunker(t *testing.T) {
	c := NewChunker(ChunkingConfig{MaxTokens: 4, OverlapTokens: 1})
	chunks := c.ChunkText("one two three four five six seven")

	require.Len(t, chunks, 2)
	assert.Equal(t, "one two three four", chunks[0].Text)
	assert.Equal(t, "four five six seven", chunks[1].Text)
	assert.Equal(t, 2, chunks[1].TotalCount)

	assert.Len(t, c.ChunkText("short text"), 1)
	assert.Empty(t, c.ChunkText("   "))
	assert.Equal(t, 3, c.CountTokens(strings.Repeat("w ", 3)))
}
