package circuitbreaker

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPWrapper wraps an http.Client with a circuit breaker and records metrics consistently
type HTTPWrapper struct {
	client  *http.Client
	cb      *CircuitBreaker
	name    string
	service string
}

// NewHTTPWrapper creates a new HTTP wrapper with circuit breaker and metrics
func NewHTTPWrapper(client *http.Client, name, service string, logger *zap.Logger) *HTTPWrapper {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	cb := NewCircuitBreaker(name, SettingsFor(KindHTTP).ToConfig(), logger)
	GlobalMetricsCollector.RegisterCircuitBreaker(name, service, cb)
	return &HTTPWrapper{client: client, cb: cb, name: name, service: service}
}

// Breaker exposes the underlying breaker.
func (hw *HTTPWrapper) Breaker() *CircuitBreaker { return hw.cb }

// Do executes an HTTP request through the circuit breaker. 5xx responses
// count as breaker failures but are still returned to the caller; 4xx do
// not trip the breaker.
func (hw *HTTPWrapper) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := hw.cb.Execute(req.Context(), func() error {
		var err error
		resp, err = hw.client.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return &httpStatusError{code: resp.StatusCode}
		}
		return nil
	})

	GlobalMetricsCollector.RecordRequest(hw.name, hw.service, hw.cb.State(), err == nil)

	if _, ok := err.(*httpStatusError); ok {
		return resp, nil
	}
	return resp, err
}

type httpStatusError struct{ code int }

func (e *httpStatusError) Error() string { return http.StatusText(e.code) }
