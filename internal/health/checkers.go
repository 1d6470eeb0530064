package health

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/deepresearch/internal/circuitbreaker"
	"github.com/Kocoro-lab/deepresearch/internal/db"
)

const slowThreshold = 100 * time.Millisecond

func breakerOpen(cb *circuitbreaker.CircuitBreaker) bool {
	return cb != nil && cb.State() == circuitbreaker.StateOpen
}

// RedisHealthChecker checks Redis connectivity
type RedisHealthChecker struct {
	client  redis.UniversalClient
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
	timeout time.Duration
}

// NewRedisHealthChecker creates a Redis health checker. breaker may be nil.
func NewRedisHealthChecker(client redis.UniversalClient, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *RedisHealthChecker {
	return &RedisHealthChecker{client: client, breaker: breaker, logger: logger, timeout: 5 * time.Second}
}

func (r *RedisHealthChecker) Name() string { return "redis" }

// Redis only mirrors streams and caches embeddings; jobs still run without it.
func (r *RedisHealthChecker) Critical() bool         { return false }
func (r *RedisHealthChecker) Timeout() time.Duration { return r.timeout }

func (r *RedisHealthChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Component: "redis", CheckedAt: start}

	if breakerOpen(r.breaker) {
		result.Status = StatusUnhealthy
		result.Error = "circuit breaker open"
		result.Message = "Redis circuit breaker is open"
		result.Latency = time.Since(start)
		return result
	}

	err := r.client.Ping(ctx).Err()
	result.Latency = time.Since(start)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Redis ping failed"
		return result
	}

	if result.Latency > slowThreshold {
		result.Status = StatusDegraded
		result.Message = "Redis responding but with high latency"
	} else {
		result.Status = StatusHealthy
		result.Message = "Redis healthy"
	}
	result.Details = map[string]any{"latency_ms": result.Latency.Milliseconds()}
	return result
}

// DatabaseHealthChecker checks the job store
type DatabaseHealthChecker struct {
	client  *db.Client
	logger  *zap.Logger
	timeout time.Duration
}

// NewDatabaseHealthChecker creates a database health checker
func NewDatabaseHealthChecker(client *db.Client, logger *zap.Logger) *DatabaseHealthChecker {
	return &DatabaseHealthChecker{client: client, logger: logger, timeout: 5 * time.Second}
}

func (d *DatabaseHealthChecker) Name() string           { return "database" }
func (d *DatabaseHealthChecker) Critical() bool         { return true }
func (d *DatabaseHealthChecker) Timeout() time.Duration { return d.timeout }

func (d *DatabaseHealthChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Component: "database", Critical: true, CheckedAt: start}

	if breakerOpen(d.client.Breaker()) {
		result.Status = StatusUnhealthy
		result.Error = "circuit breaker open"
		result.Message = "Database circuit breaker is open"
		result.Latency = time.Since(start)
		return result
	}

	err := d.client.Ping(ctx)
	result.Latency = time.Since(start)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Database ping failed"
		return result
	}

	stats := d.client.Stats()
	switch {
	case stats.MaxOpenConnections > 1 && stats.InUse >= stats.MaxOpenConnections:
		result.Status = StatusDegraded
		result.Message = "Database connection pool exhausted"
	case result.Latency > slowThreshold:
		result.Status = StatusDegraded
		result.Message = "Database responding but with high latency"
	default:
		result.Status = StatusHealthy
		result.Message = "Database healthy"
	}
	result.Details = map[string]any{
		"driver":               d.client.DriverName(),
		"latency_ms":           result.Latency.Milliseconds(),
		"open_connections":     stats.OpenConnections,
		"max_open_connections": stats.MaxOpenConnections,
		"in_use_connections":   stats.InUse,
	}
	return result
}

// TemporalHealthChecker checks the Temporal frontend
type TemporalHealthChecker struct {
	client  client.Client
	timeout time.Duration
}

func NewTemporalHealthChecker(c client.Client) *TemporalHealthChecker {
	return &TemporalHealthChecker{client: c, timeout: 5 * time.Second}
}

func (t *TemporalHealthChecker) Name() string           { return "temporal" }
func (t *TemporalHealthChecker) Critical() bool         { return true }
func (t *TemporalHealthChecker) Timeout() time.Duration { return t.timeout }

func (t *TemporalHealthChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	_, err := t.client.CheckHealth(ctx, &client.CheckHealthRequest{})
	result := CheckResult{Component: "temporal", Critical: true, CheckedAt: start, Latency: time.Since(start)}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Temporal health check failed"
		return result
	}
	result.Status = StatusHealthy
	result.Message = "Temporal healthy"
	return result
}

// HTTPHealthChecker calls an HTTP health endpoint of a dependency such as
// llm-service or the vector store.
type HTTPHealthChecker struct {
	name     string
	url      string
	critical bool
	client   *http.Client
	timeout  time.Duration
}

func NewHTTPHealthChecker(name, url string, critical bool) *HTTPHealthChecker {
	return &HTTPHealthChecker{
		name:     name,
		url:      url,
		critical: critical,
		client:   &http.Client{},
		timeout:  5 * time.Second,
	}
}

func (h *HTTPHealthChecker) Name() string           { return h.name }
func (h *HTTPHealthChecker) Critical() bool         { return h.critical }
func (h *HTTPHealthChecker) Timeout() time.Duration { return h.timeout }

func (h *HTTPHealthChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Component: h.name, Critical: h.critical, CheckedAt: start}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		return result
	}
	resp, err := h.client.Do(req)
	result.Latency = time.Since(start)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = fmt.Sprintf("%s unreachable", h.name)
		return result
	}
	resp.Body.Close()

	result.Details = map[string]any{
		"url":         h.url,
		"status_code": resp.StatusCode,
		"latency_ms":  result.Latency.Milliseconds(),
	}
	switch {
	case resp.StatusCode >= 500:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("%s returned %d", h.name, resp.StatusCode)
	case resp.StatusCode >= 400:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("%s returned %d", h.name, resp.StatusCode)
	default:
		result.Status = StatusHealthy
		result.Message = fmt.Sprintf("%s healthy", h.name)
	}
	return result
}

// JoinURL appends path to base without doubling slashes.
func JoinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// CustomHealthChecker allows for custom health check logic
type CustomHealthChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	checkFn  func(ctx context.Context) error
}

// NewCustomHealthChecker wraps checkFn; a nil error is healthy.
func NewCustomHealthChecker(name string, critical bool, timeout time.Duration, checkFn func(ctx context.Context) error) *CustomHealthChecker {
	return &CustomHealthChecker{name: name, critical: critical, timeout: timeout, checkFn: checkFn}
}

func (c *CustomHealthChecker) Name() string           { return c.name }
func (c *CustomHealthChecker) Critical() bool         { return c.critical }
func (c *CustomHealthChecker) Timeout() time.Duration { return c.timeout }

func (c *CustomHealthChecker) Check(ctx context.Context) CheckResult {
	if err := c.checkFn(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: fmt.Sprintf("%s check failed", c.name)}
	}
	return CheckResult{Status: StatusHealthy, Message: fmt.Sprintf("%s healthy", c.name)}
}
