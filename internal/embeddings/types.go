package embeddings

import "time"

// Provider names accepted in Config.Provider.
const (
	ProviderGenAI   = "genai"
	ProviderService = "llm-service"
)

// Config controls the embedding service behavior
type Config struct {
	Provider string `mapstructure:"provider"`
	// Model is the embedding model, e.g. gemini-embedding-001
	Model string `mapstructure:"model"`
	// APIKey authenticates the genai provider
	APIKey string `mapstructure:"api_key"`
	// BaseURL points to the llm-service providing /embeddings/
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	// CacheTTL sets TTL for the shared (Redis) cache tier
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	// MaxLRU controls in-process LRU size
	MaxLRU   int            `mapstructure:"max_lru"`
	Chunking ChunkingConfig `mapstructure:"chunking"`
}

func (c Config) withDefaults() Config {
	if c.Provider == "" {
		c.Provider = ProviderGenAI
	}
	if c.Model == "" {
		c.Model = "gemini-embedding-001"
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = time.Hour
	}
	if c.MaxLRU == 0 {
		c.MaxLRU = 2048
	}
	return c
}
