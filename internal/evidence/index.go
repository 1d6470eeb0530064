package evidence

import (
	"context"
	"fmt"

	"github.com/Kocoro-lab/deepresearch/internal/embeddings"
	"github.com/Kocoro-lab/deepresearch/internal/research"
	"github.com/Kocoro-lab/deepresearch/internal/vectordb"
)

// Payload keys read from index points. Ingestion writes the same keys.
const (
	PayloadSource  = "source"
	PayloadTitle   = "title"
	PayloadContent = "content"
)

// Embedder turns a query into a vector.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string, task embeddings.Task) ([]float32, error)
}

// VectorSearcher finds the nearest points in a collection.
type VectorSearcher interface {
	Search(ctx context.Context, collection string, vec []float32, limit int) ([]vectordb.Point, error)
	CollectionInfo(ctx context.Context, collection string) (*vectordb.CollectionInfo, error)
}

// IndexSource searches one vector collection, named by the job's index id.
type IndexSource struct {
	collection string
	embedder   Embedder
	store      VectorSearcher
}

// NewIndexFactory returns a constructor for index sessions. Opening a
// session checks that the collection exists.
func NewIndexFactory(embedder Embedder, store VectorSearcher) func(ctx context.Context, indexID string) (Source, error) {
	return func(ctx context.Context, indexID string) (Source, error) {
		if indexID == "" {
			return nil, ErrNoIndex
		}
		if _, err := store.CollectionInfo(ctx, indexID); err != nil {
			return nil, fmt.Errorf("index %s: %w", indexID, err)
		}
		return &IndexSource{collection: indexID, embedder: embedder, store: store}, nil
	}
}

func (s *IndexSource) Search(ctx context.Context, query string, limit int) ([]research.Document, error) {
	vec, err := s.embedder.GenerateEmbedding(ctx, query, embeddings.TaskQuery)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	points, err := s.store.Search(ctx, s.collection, vec, limit)
	if err != nil {
		return nil, fmt.Errorf("search index %s: %w", s.collection, err)
	}
	docs := make([]research.Document, 0, len(points))
	for _, p := range points {
		src := p.String(PayloadSource)
		if src == "" {
			src = s.collection + "#" + p.ID
		}
		docs = append(docs, research.Document{Source: src, Title: p.String(PayloadTitle), Content: p.String(PayloadContent)})
	}
	return docs, nil
}

func (s *IndexSource) Close() error { return nil }
