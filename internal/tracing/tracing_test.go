package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"
)

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func TestInitializeDisabled(t *testing.T) {
	shutdown, err := Initialize(Config{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestTraceparentRoundTrip(t *testing.T) {
	installRecorder(t)

	ctx, span := StartSpan(context.Background(), "outer")
	defer span.End()

	req := httptest.NewRequest(http.MethodGet, "http://example.test", nil)
	InjectTraceparent(ctx, req)
	require.NotEmpty(t, req.Header.Get("traceparent"))

	remote := ExtractTraceparent(context.Background(), req.Header)
	_, child := StartSpan(remote, "inner")
	defer child.End()
	assert.Equal(t, span.SpanContext().TraceID(), child.SpanContext().TraceID())
}

func TestMiddlewareRecordsServerSpan(t *testing.T) {
	rec := installRecorder(t)

	h := Middleware("GET /api/research", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/research", nil))

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /api/research", spans[0].Name())
}
