package ratecontrol

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

// Config is the rate_limits block of the models file.
type Config struct {
	RateLimits struct {
		DefaultRPM        int            `yaml:"default_rpm"`
		ModelOverrides    map[string]int `yaml:"model_overrides"`
		ProviderOverrides map[string]int `yaml:"provider_overrides"`
	} `yaml:"rate_limits"`
}

// RateLimit is requests per minute; zero means unlimited.
type RateLimit struct {
	RPM int
}

// Parse decodes a models YAML document.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal rate limit config: %w", err)
	}
	return cfg, nil
}

// LoadFile reads and parses path. A missing file yields an empty config.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, nil
		}
		return Config{}, err
	}
	return Parse(data)
}

// LimitFor resolves the limit for a provider/model pair. Model overrides win
// over provider overrides, which win over the default.
func (c Config) LimitFor(provider, model string) RateLimit {
	if rpm, ok := c.RateLimits.ModelOverrides[normalize(model)]; ok {
		return RateLimit{RPM: rpm}
	}
	if rpm, ok := c.RateLimits.ProviderOverrides[normalize(provider)]; ok {
		return RateLimit{RPM: rpm}
	}
	return RateLimit{RPM: c.RateLimits.DefaultRPM}
}

// CombineLimits returns the stricter of two limits.
func CombineLimits(a, b RateLimit) RateLimit {
	switch {
	case a.RPM == 0:
		return b
	case b.RPM == 0:
		return a
	case b.RPM < a.RPM:
		return b
	default:
		return a
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Limiters hands out one token bucket per key and can be reconfigured at
// runtime; existing buckets pick up new limits.
type Limiters struct {
	mu      sync.Mutex
	cfg     Config
	buckets map[string]*rate.Limiter
}

// NewLimiters builds a limiter set from cfg.
func NewLimiters(cfg Config) *Limiters {
	return &Limiters{cfg: cfg, buckets: make(map[string]*rate.Limiter)}
}

// Update swaps the configuration.
func (l *Limiters) Update(cfg Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg = cfg
	for key, lim := range l.buckets {
		provider, model, _ := strings.Cut(key, "|")
		limit := l.cfg.LimitFor(provider, model)
		lim.SetLimit(toRate(limit))
		lim.SetBurst(burst(limit))
	}
}

// Wait blocks until a request for provider/model may proceed.
func (l *Limiters) Wait(ctx context.Context, provider, model string) error {
	if l == nil {
		return nil
	}
	return l.get(provider, model).Wait(ctx)
}

func (l *Limiters) get(provider, model string) *rate.Limiter {
	key := normalize(provider) + "|" + normalize(model)
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.buckets[key]; ok {
		return lim
	}
	limit := l.cfg.LimitFor(provider, model)
	lim := rate.NewLimiter(toRate(limit), burst(limit))
	l.buckets[key] = lim
	return lim
}

func toRate(limit RateLimit) rate.Limit {
	if limit.RPM <= 0 {
		return rate.Inf
	}
	return rate.Limit(float64(limit.RPM) / 60.0)
}

func burst(limit RateLimit) int {
	if limit.RPM <= 0 {
		return 1
	}
	b := limit.RPM / 10
	if b < 1 {
		b = 1
	}
	return b
}
