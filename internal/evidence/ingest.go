package evidence

import (
	"context"
	"fmt"

	"github.com/Kocoro-lab/deepresearch/internal/embeddings"
	"github.com/Kocoro-lab/deepresearch/internal/research"
	"github.com/Kocoro-lab/deepresearch/internal/vectordb"
)

// BatchEmbedder embeds many texts in one call.
type BatchEmbedder interface {
	GenerateBatchEmbeddings(ctx context.Context, texts []string, task embeddings.Task) ([][]float32, error)
}

// VectorWriter creates collections and stores points.
type VectorWriter interface {
	EnsureCollection(ctx context.Context, collection string, dim int) error
	Upsert(ctx context.Context, collection string, points []vectordb.UpsertItem) (*vectordb.UpsertResponse, error)
}

// Ingester loads documents into an index so IndexSource can search them.
type Ingester struct {
	embedder BatchEmbedder
	store    VectorWriter
	chunker  *embeddings.Chunker
	batch    int
}

func NewIngester(embedder BatchEmbedder, store VectorWriter, chunking embeddings.ChunkingConfig) *Ingester {
	return &Ingester{embedder: embedder, store: store, chunker: embeddings.NewChunker(chunking), batch: 32}
}

// Ingest chunks docs and writes one point per chunk to indexID, creating
// the collection on first use. It returns the number of points written.
func (in *Ingester) Ingest(ctx context.Context, indexID string, docs []research.Document) (int, error) {
	if indexID == "" {
		return 0, ErrNoIndex
	}
	var items []vectordb.UpsertItem
	var texts []string
	for _, d := range docs {
		for _, c := range in.chunker.ChunkText(d.Content) {
			texts = append(texts, c.Text)
			items = append(items, vectordb.UpsertItem{Payload: map[string]any{
				PayloadSource:  d.Source,
				PayloadTitle:   d.Title,
				PayloadContent: c.Text,
				"chunk_index":  c.Index,
				"chunk_count":  c.TotalCount,
			}})
		}
	}

	written := 0
	ensured := false
	for start := 0; start < len(items); start += in.batch {
		end := min(start+in.batch, len(items))
		vecs, err := in.embedder.GenerateBatchEmbeddings(ctx, texts[start:end], embeddings.TaskDocument)
		if err != nil {
			return written, fmt.Errorf("embed chunks: %w", err)
		}
		if !ensured && len(vecs) > 0 {
			if err := in.store.EnsureCollection(ctx, indexID, len(vecs[0])); err != nil {
				return written, err
			}
			ensured = true
		}
		batch := items[start:end]
		for i := range batch {
			batch[i].Vector = vecs[i]
		}
		if _, err := in.store.Upsert(ctx, indexID, batch); err != nil {
			return written, fmt.Errorf("upsert chunks: %w", err)
		}
		written += len(batch)
	}
	return written, nil
}
