package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	circuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "research_circuit_breaker_state",
			Help: "Current state of circuit breaker (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name", "service"},
	)

	circuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "service", "state", "result"},
	)

	circuitBreakerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_circuit_breaker_failures_total",
			Help: "Total number of failures in circuit breaker",
		},
		[]string{"name", "service"},
	)

	circuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_circuit_breaker_state_changes_total",
			Help: "Total number of state changes in circuit breaker",
		},
		[]string{"name", "service", "from_state", "to_state"},
	)
)

type breakerKey struct {
	name    string
	service string
}

// MetricsCollector exports breaker state for every registered breaker.
type MetricsCollector struct {
	mu       sync.RWMutex
	breakers map[breakerKey]*CircuitBreaker
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{breakers: make(map[breakerKey]*CircuitBreaker)}
}

// RegisterCircuitBreaker tracks cb and chains a state-change callback that
// updates the gauges.
func (mc *MetricsCollector) RegisterCircuitBreaker(name, service string, cb *CircuitBreaker) {
	mc.mu.Lock()
	mc.breakers[breakerKey{name: name, service: service}] = cb
	mc.mu.Unlock()

	cb.mu.Lock()
	prev := cb.config.OnStateChange
	cb.config.OnStateChange = func(cbName string, from, to State) {
		if prev != nil {
			prev(cbName, from, to)
		}
		circuitBreakerStateChanges.WithLabelValues(name, service, from.String(), to.String()).Inc()
		circuitBreakerState.WithLabelValues(name, service).Set(float64(to))
	}
	cb.mu.Unlock()
	circuitBreakerState.WithLabelValues(name, service).Set(float64(StateClosed))
}

// RecordRequest records one call outcome.
func (mc *MetricsCollector) RecordRequest(name, service string, state State, success bool) {
	result := "success"
	if !success {
		result = "failure"
		circuitBreakerFailures.WithLabelValues(name, service).Inc()
	}
	circuitBreakerRequests.WithLabelValues(name, service, state.String(), result).Inc()
}

// UpdateMetrics refreshes the state gauges, which moves open breakers whose
// timeout elapsed to half-open.
func (mc *MetricsCollector) UpdateMetrics() {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	for key, cb := range mc.breakers {
		circuitBreakerState.WithLabelValues(key.name, key.service).Set(float64(cb.State()))
	}
}

// GlobalMetricsCollector is shared by all wrappers.
var GlobalMetricsCollector = NewMetricsCollector()

// StartMetricsCollection refreshes breaker gauges until ctx is done.
func StartMetricsCollection(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = 10 * time.Second
	}
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				GlobalMetricsCollector.UpdateMetrics()
			}
		}
	}()
}
