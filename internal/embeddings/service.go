package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Kocoro-lab/deepresearch/internal/interceptors"
	ometrics "github.com/Kocoro-lab/deepresearch/internal/metrics"
	"go.uber.org/zap"
)

// lruTTL bounds how long a vector lives in the process-local tier.
const lruTTL = 30 * time.Minute

// Service provides embedding generation with a two-tier cache: an
// in-process LRU in front of an optional shared cache.
type Service struct {
	cfg      Config
	provider Provider
	cache    EmbeddingCache
	lru      *LocalLRU
}

// New builds the service around provider. cache may be nil.
func New(cfg Config, provider Provider, cache EmbeddingCache) *Service {
	cfg = cfg.withDefaults()
	return &Service{cfg: cfg, provider: provider, cache: cache, lru: NewLocalLRU(cfg.MaxLRU)}
}

// NewFromConfig picks the provider named by cfg.Provider.
func NewFromConfig(ctx context.Context, cfg Config, cache EmbeddingCache, logger *zap.Logger) (*Service, error) {
	cfg = cfg.withDefaults()
	var provider Provider
	switch cfg.Provider {
	case ProviderGenAI:
		p, err := NewGenAIProvider(ctx, cfg.APIKey)
		if err != nil {
			return nil, err
		}
		provider = p
	case ProviderService:
		if cfg.BaseURL == "" {
			return nil, errors.New("embeddings: base_url is required for the llm-service provider")
		}
		provider = NewServiceProvider(cfg.BaseURL, interceptors.NewHTTPClient(cfg.Timeout), logger)
	default:
		return nil, fmt.Errorf("embeddings: unknown provider %q", cfg.Provider)
	}
	return New(cfg, provider, cache), nil
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

// GenerateEmbedding returns the vector for a single text.
func (s *Service) GenerateEmbedding(ctx context.Context, text string, task Task) ([]float32, error) {
	out, err := s.GenerateBatchEmbeddings(ctx, []string{text}, task)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// GenerateBatchEmbeddings embeds texts, calling the provider only for the
// texts neither cache tier holds.
func (s *Service) GenerateBatchEmbeddings(ctx context.Context, texts []string, task Task) ([][]float32, error) {
	if s == nil || s.provider == nil {
		return nil, errors.New("embedding service not initialized")
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	m := s.cfg.Model

	results := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, text := range texts {
		key := MakeKey(m+"|"+string(task), text)
		if v, ok := s.lru.Get(ctx, key); ok {
			results[i] = v
			ometrics.EmbeddingCacheHits.WithLabelValues("lru").Inc()
			continue
		}
		if s.cache != nil {
			if v, ok := s.cache.Get(ctx, key); ok {
				results[i] = v
				s.lru.Set(ctx, key, v, lruTTL)
				ometrics.EmbeddingCacheHits.WithLabelValues("shared").Inc()
				continue
			}
		}
		ometrics.EmbeddingCacheMisses.Inc()
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return results, nil
	}

	start := time.Now()
	vecs, err := s.provider.Embed(ctx, m, task, missing)
	if err != nil {
		ometrics.RecordEmbeddingMetrics(m, "error", time.Since(start).Seconds())
		return nil, err
	}
	if len(vecs) != len(missing) {
		ometrics.RecordEmbeddingMetrics(m, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("embedding provider returned %d embeddings for %d texts", len(vecs), len(missing))
	}
	ometrics.RecordEmbeddingMetrics(m, "ok", time.Since(start).Seconds())

	for i, vec := range vecs {
		results[missingIdx[i]] = vec
		key := MakeKey(m+"|"+string(task), missing[i])
		s.lru.Set(ctx, key, vec, lruTTL)
		if s.cache != nil {
			s.cache.Set(ctx, key, vec, s.cfg.CacheTTL)
		}
	}
	return results, nil
}
