package health

import (
	"context"
	"time"
)

// Status is the health of one dependency or of the whole service.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	// StatusUnknown is reported while no checker is enabled.
	StatusUnknown Status = "unknown"
)

// CheckResult is one dependency's answer. The manager stamps Component,
// Critical, Latency and CheckedAt after Check returns.
type CheckResult struct {
	Component string         `json:"component"`
	Status    Status         `json:"status"`
	Critical  bool           `json:"critical"`
	Message   string         `json:"message,omitempty"`
	Error     string         `json:"error,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Latency   time.Duration  `json:"latency_ns"`
	CheckedAt time.Time      `json:"checked_at"`
}

// Checker checks one dependency of the research service: the job store,
// the Redis event mirror, Temporal, a model endpoint or the archive bucket.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
	// Critical dependencies mark the service unready when unhealthy.
	Critical() bool
	Timeout() time.Duration
}

// Report aggregates component results. Components is empty on the
// summary endpoints.
type Report struct {
	Status     Status                 `json:"status"`
	Message    string                 `json:"message,omitempty"`
	Ready      bool                   `json:"ready"`
	CheckedAt  time.Time              `json:"checked_at"`
	Latency    time.Duration          `json:"latency_ns"`
	Counts     Counts                 `json:"counts"`
	Components map[string]CheckResult `json:"components,omitempty"`
}

// Counts tallies enabled checkers by their last status.
type Counts struct {
	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Degraded  int `json:"degraded"`
	Unhealthy int `json:"unhealthy"`
	Critical  int `json:"critical"`
}
