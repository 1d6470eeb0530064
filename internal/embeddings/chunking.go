package embeddings

import "strings"

// ChunkingConfig controls text chunking behavior
type ChunkingConfig struct {
	MaxTokens     int `mapstructure:"max_tokens" yaml:"max_tokens"`
	OverlapTokens int `mapstructure:"overlap_tokens" yaml:"overlap_tokens"`
}

// DefaultChunkingConfig returns the defaults used for index ingestion.
func DefaultChunkingConfig() ChunkingConfig {
	return ChunkingConfig{MaxTokens: 400, OverlapTokens: 50}
}

// Chunk is one window of a document.
type Chunk struct {
	Text       string
	Index      int // 0-based position
	TotalCount int
}

// Chunker splits text into overlapping word windows. Words approximate
// tokens closely enough for sizing embedding inputs.
type Chunker struct {
	maxTokens     int
	overlapTokens int
}

func NewChunker(cfg ChunkingConfig) *Chunker {
	d := DefaultChunkingConfig()
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = d.MaxTokens
	}
	if cfg.OverlapTokens < 0 || cfg.OverlapTokens >= cfg.MaxTokens {
		cfg.OverlapTokens = cfg.MaxTokens / 4
	}
	return &Chunker{maxTokens: cfg.MaxTokens, overlapTokens: cfg.OverlapTokens}
}

// ChunkText splits text into chunks. Text that fits in one window yields a
// single chunk; blank text yields none.
func (c *Chunker) ChunkText(text string) []Chunk {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	step := c.maxTokens - c.overlapTokens

	var chunks []Chunk
	for i := 0; i < len(words); i += step {
		end := min(i+c.maxTokens, len(words))
		chunks = append(chunks, Chunk{Text: strings.Join(words[i:end], " "), Index: len(chunks)})
		if end == len(words) {
			break
		}
	}
	for i := range chunks {
		chunks[i].TotalCount = len(chunks)
	}
	return chunks
}

// CountTokens estimates the token count of text.
func (c *Chunker) CountTokens(text string) int {
	return len(strings.Fields(text))
}
