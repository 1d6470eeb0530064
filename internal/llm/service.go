package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Kocoro-lab/deepresearch/internal/circuitbreaker"
	"github.com/Kocoro-lab/deepresearch/internal/interceptors"
	"github.com/Kocoro-lab/deepresearch/internal/tracing"
	"go.uber.org/zap"
)

// ServiceConfig configures the llm-service HTTP backend.
type ServiceConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
}

// ServiceBackend talks to the shared llm-service over HTTP. Model selection
// is passed through as an override so fallback identities map to a different
// upstream model.
type ServiceBackend struct {
	cfg   ServiceConfig
	httpw *circuitbreaker.HTTPWrapper
}

// NewServiceBackend builds the HTTP backend.
func NewServiceBackend(cfg ServiceConfig, logger *zap.Logger) *ServiceBackend {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://llm-service:8000"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 8192
	}
	client := interceptors.NewHTTPClient(cfg.Timeout)
	return &ServiceBackend{
		cfg:   cfg,
		httpw: circuitbreaker.NewHTTPWrapper(client, "llm-service", "generation", logger),
	}
}

type serviceRequest struct {
	Query         string                 `json:"query"`
	MaxTokens     int                    `json:"max_tokens"`
	Temperature   float64                `json:"temperature"`
	AgentID       string                 `json:"agent_id"`
	ModelOverride string                 `json:"model_override,omitempty"`
	Context       map[string]interface{} `json:"context"`
}

type serviceResponse struct {
	Success   bool   `json:"success"`
	Response  string `json:"response"`
	Error     string `json:"error,omitempty"`
	ModelUsed string `json:"model_used"`
	Provider  string `json:"provider"`
}

// Generate implements Backend.
func (b *ServiceBackend) Generate(ctx context.Context, id Identity, req Request) (string, error) {
	url := fmt.Sprintf("%s/agent/query", strings.TrimRight(b.cfg.BaseURL, "/"))
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	defer span.End()

	reqCtx := map[string]interface{}{"system_prompt": req.System}
	if req.Schema != nil {
		reqCtx["response_format"] = map[string]interface{}{
			"type":   "json_schema",
			"schema": req.Schema,
		}
	}
	body, err := json.Marshal(serviceRequest{
		Query:         req.Prompt,
		MaxTokens:     b.cfg.MaxTokens,
		Temperature:   b.cfg.Temperature,
		AgentID:       "deep_research",
		ModelOverride: id.Model,
		Context:       reqCtx,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Agent-ID", "deep_research")
	tracing.InjectTraceparent(ctx, httpReq)

	resp, err := b.httpw.Do(httpReq)
	if err != nil {
		return "", &CallError{Identity: id, Message: err.Error(), Last: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return "", &CallError{Identity: id, StatusCode: resp.StatusCode, Message: err.Error(), Last: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &CallError{Identity: id, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}

	var out serviceResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", &CallError{Identity: id, StatusCode: resp.StatusCode, Message: "failed to parse LLM response", Last: err}
	}
	if !out.Success && out.Error != "" {
		return "", &CallError{Identity: id, StatusCode: resp.StatusCode, Message: out.Error}
	}
	if strings.TrimSpace(out.Response) == "" {
		return "", &CallError{Identity: id, StatusCode: resp.StatusCode, Message: "empty response"}
	}
	return out.Response, nil
}
