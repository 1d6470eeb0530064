package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestServiceBackendSendsModelOverride(t *testing.T) {
	var got serviceRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/agent/query", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(serviceResponse{Success: true, Response: "report body"})
	}))
	defer srv.Close()

	b := NewServiceBackend(ServiceConfig{BaseURL: srv.URL}, zaptest.NewLogger(t))
	id := Identity{Name: "fallback", Provider: ProviderLLMService, Model: "small-model"}
	out, err := b.Generate(context.Background(), id, Request{System: "sys", Prompt: "write", Schema: StringArray("x", 3)})
	require.NoError(t, err)

	assert.Equal(t, "report body", out)
	assert.Equal(t, "small-model", got.ModelOverride)
	assert.Equal(t, "write", got.Query)
	assert.Equal(t, "sys", got.Context["system_prompt"])
	assert.Contains(t, got.Context, "response_format")
}

func TestServiceBackendKeepsQuotaMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"detail":"You exceeded your current quota, please check your plan"}`))
	}))
	defer srv.Close()

	b := NewServiceBackend(ServiceConfig{BaseURL: srv.URL}, zaptest.NewLogger(t))
	_, err := b.Generate(context.Background(), Identity{Provider: ProviderLLMService, Model: "m"}, Request{Prompt: "p"})

	var ce *CallError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, http.StatusTooManyRequests, ce.StatusCode)
	assert.Contains(t, err.Error(), "exceeded your current quota")
}

func TestServiceBackendEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(serviceResponse{Success: true})
	}))
	defer srv.Close()

	b := NewServiceBackend(ServiceConfig{BaseURL: srv.URL}, zaptest.NewLogger(t))
	_, err := b.Generate(context.Background(), Identity{Provider: ProviderLLMService}, Request{Prompt: "p"})
	assert.ErrorContains(t, err, "empty response")
}
