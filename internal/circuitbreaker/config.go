package circuitbreaker

import (
	"sync"
	"time"
)

// Settings configures the breakers guarding one kind of dependency. Zero
// fields fall back to the built-in defaults for that kind.
type Settings struct {
	MaxRequests      uint32        `mapstructure:"max_requests" yaml:"max_requests"`
	Interval         time.Duration `mapstructure:"interval" yaml:"interval"`
	Timeout          time.Duration `mapstructure:"timeout" yaml:"timeout"`
	FailureThreshold uint32        `mapstructure:"failure_threshold" yaml:"failure_threshold"`
	SuccessThreshold uint32        `mapstructure:"success_threshold" yaml:"success_threshold"`
}

// Dependency kinds with their own breaker settings.
const (
	KindHTTP     = "http"
	KindRedis    = "redis"
	KindDatabase = "database"
)

var builtin = map[string]Settings{
	KindHTTP:     {MaxRequests: 5, Interval: 30 * time.Second, Timeout: 15 * time.Second, FailureThreshold: 3, SuccessThreshold: 2},
	KindRedis:    {MaxRequests: 5, Interval: 30 * time.Second, Timeout: 15 * time.Second, FailureThreshold: 3, SuccessThreshold: 2},
	KindDatabase: {MaxRequests: 3, Interval: 60 * time.Second, Timeout: 30 * time.Second, FailureThreshold: 5, SuccessThreshold: 2},
}

var (
	overridesMu sync.RWMutex
	overrides   = map[string]Settings{}
)

// Configure replaces the per-kind overrides. Breakers created afterwards
// pick them up; existing breakers keep their settings.
func Configure(byKind map[string]Settings) {
	overridesMu.Lock()
	defer overridesMu.Unlock()
	overrides = make(map[string]Settings, len(byKind))
	for k, v := range byKind {
		overrides[k] = v
	}
}

// SettingsFor returns the effective settings for kind.
func SettingsFor(kind string) Settings {
	s, ok := builtin[kind]
	if !ok {
		d := DefaultConfig()
		s = Settings{MaxRequests: d.MaxRequests, Interval: d.Interval, Timeout: d.Timeout, FailureThreshold: d.FailureThreshold, SuccessThreshold: d.SuccessThreshold}
	}
	overridesMu.RLock()
	o, ok := overrides[kind]
	overridesMu.RUnlock()
	if !ok {
		return s
	}
	if o.MaxRequests > 0 {
		s.MaxRequests = o.MaxRequests
	}
	if o.Interval > 0 {
		s.Interval = o.Interval
	}
	if o.Timeout > 0 {
		s.Timeout = o.Timeout
	}
	if o.FailureThreshold > 0 {
		s.FailureThreshold = o.FailureThreshold
	}
	if o.SuccessThreshold > 0 {
		s.SuccessThreshold = o.SuccessThreshold
	}
	return s
}

// ToConfig converts s to a breaker Config.
func (s Settings) ToConfig() Config {
	return Config{
		MaxRequests:      s.MaxRequests,
		Interval:         s.Interval,
		Timeout:          s.Timeout,
		FailureThreshold: s.FailureThreshold,
		SuccessThreshold: s.SuccessThreshold,
	}
}
