package llm

import (
	"fmt"
	"sync/atomic"
)

// Provider names a generation backend.
type Provider string

const (
	ProviderGemini     Provider = "gemini"
	ProviderLLMService Provider = "llm-service"
)

// Identity is one backend configuration a call can be routed to.
type Identity struct {
	Name     string   `json:"name" mapstructure:"name" yaml:"name"`
	Provider Provider `json:"provider" mapstructure:"provider" yaml:"provider"`
	Model    string   `json:"model" mapstructure:"model" yaml:"model"`
}

func (i Identity) String() string {
	if i.Name != "" {
		return i.Name
	}
	return fmt.Sprintf("%s/%s", i.Provider, i.Model)
}

// Identities groups the roles the engine selects between.
type Identities struct {
	Primary  Identity `json:"primary" mapstructure:"primary" yaml:"primary"`
	Fallback Identity `json:"fallback" mapstructure:"fallback" yaml:"fallback"`
	// Deep is the primary identity for report synthesis.
	Deep Identity `json:"deep" mapstructure:"deep" yaml:"deep"`
}

// DefaultIdentities mirrors the hosted Gemini setup.
func DefaultIdentities() Identities {
	return Identities{
		Primary:  Identity{Name: "primary", Provider: ProviderGemini, Model: "gemini-2.5-flash-preview-05-20"},
		Fallback: Identity{Name: "fallback", Provider: ProviderGemini, Model: "gemini-2.0-flash"},
		Deep:     Identity{Name: "deep", Provider: ProviderGemini, Model: "gemini-2.5-flash-preview-05-20"},
	}
}

// WithDefaults fills empty roles from DefaultIdentities.
func (ids Identities) WithDefaults() Identities {
	def := DefaultIdentities()
	if ids.Primary.Model == "" {
		ids.Primary = def.Primary
	}
	if ids.Fallback.Model == "" {
		ids.Fallback = def.Fallback
	}
	if ids.Deep.Model == "" {
		ids.Deep = ids.Primary
		ids.Deep.Name = "deep"
	}
	for _, id := range []*Identity{&ids.Primary, &ids.Fallback, &ids.Deep} {
		if id.Provider == "" {
			id.Provider = ProviderGemini
		}
	}
	return ids
}

// IdentitySet holds Identities that can be swapped while calls are in flight.
type IdentitySet struct {
	v atomic.Pointer[Identities]
}

func NewIdentitySet(ids Identities) *IdentitySet {
	s := &IdentitySet{}
	s.Store(ids)
	return s
}

func (s *IdentitySet) Load() Identities { return *s.v.Load() }

func (s *IdentitySet) Store(ids Identities) {
	ids = ids.WithDefaults()
	s.v.Store(&ids)
}
