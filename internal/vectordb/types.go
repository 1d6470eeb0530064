package vectordb

import "time"

// Config controls Qdrant client behavior
type Config struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	// Search params
	TopK      int           `mapstructure:"top_k"`
	Threshold float64       `mapstructure:"threshold"`
	Timeout   time.Duration `mapstructure:"timeout"`
	// ExpectedEmbeddingDim is checked against collections when > 0
	ExpectedEmbeddingDim int `mapstructure:"expected_embedding_dim"`
}

// Point is a scored search hit.
type Point struct {
	ID      string         `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// String returns payload[key] when it is a string.
func (p Point) String(key string) string {
	s, _ := p.Payload[key].(string)
	return s
}

// UpsertItem represents a single point to insert into Qdrant
type UpsertItem struct {
	ID      any            `json:"id,omitempty"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// UpsertResponse captures basic Qdrant upsert response
type UpsertResponse struct {
	Status string  `json:"status"`
	Time   float64 `json:"time"`
}
