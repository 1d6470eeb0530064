package config

import (
	"fmt"
	"os"

	"github.com/Kocoro-lab/deepresearch/internal/llm"
	"github.com/Kocoro-lab/deepresearch/internal/ratecontrol"
	"gopkg.in/yaml.v3"
)

// ModelsConfig is the hot-reloadable models file: the identities used for
// generation plus per-provider and per-model rate limits.
type ModelsConfig struct {
	Identities         llm.Identities `yaml:"identities"`
	ratecontrol.Config `yaml:",inline"`
}

// ParseModels decodes a models YAML document and fills missing identities.
func ParseModels(data []byte) (ModelsConfig, error) {
	var mc ModelsConfig
	if err := yaml.Unmarshal(data, &mc); err != nil {
		return ModelsConfig{}, fmt.Errorf("failed to parse models config: %w", err)
	}
	if err := mc.Validate(); err != nil {
		return ModelsConfig{}, err
	}
	mc.Identities = mc.Identities.WithDefaults()
	return mc, nil
}

// LoadModels reads path. A missing file yields the default identities with
// no rate limits.
func LoadModels(path string) (ModelsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ModelsConfig{Identities: llm.DefaultIdentities()}, nil
		}
		return ModelsConfig{}, err
	}
	return ParseModels(data)
}

func (mc ModelsConfig) Validate() error {
	for _, id := range []llm.Identity{mc.Identities.Primary, mc.Identities.Fallback, mc.Identities.Deep} {
		switch id.Provider {
		case "", llm.ProviderGemini, llm.ProviderLLMService:
		default:
			return fmt.Errorf("identity %s: unknown provider %q", id, id.Provider)
		}
	}
	if mc.RateLimits.DefaultRPM < 0 {
		return fmt.Errorf("rate_limits.default_rpm must be non-negative")
	}
	for model, rpm := range mc.RateLimits.ModelOverrides {
		if rpm < 0 {
			return fmt.Errorf("rate_limits.model_overrides[%s] must be non-negative", model)
		}
	}
	for provider, rpm := range mc.RateLimits.ProviderOverrides {
		if rpm < 0 {
			return fmt.Errorf("rate_limits.provider_overrides[%s] must be non-negative", provider)
		}
	}
	return nil
}
