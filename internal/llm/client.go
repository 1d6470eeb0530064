package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Kocoro-lab/deepresearch/internal/metrics"
	"github.com/Kocoro-lab/deepresearch/internal/ratecontrol"
	"github.com/Kocoro-lab/deepresearch/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// Request is one generation call. A non-nil Schema asks for JSON output.
type Request struct {
	System string
	Prompt string
	Schema *Schema
}

// Backend performs a single call against one provider.
type Backend interface {
	Generate(ctx context.Context, id Identity, req Request) (string, error)
}

// Client is the generation capability the research engine consumes.
type Client interface {
	GenerateStructured(ctx context.Context, id Identity, system, prompt string, schema *Schema, out interface{}) error
	GenerateText(ctx context.Context, id Identity, system, prompt string) (string, error)
}

// Router dispatches calls to the backend named by the identity's provider.
type Router struct {
	backends map[Provider]Backend
	limiters *ratecontrol.Limiters
	logger   *zap.Logger
}

// NewRouter builds a Router. limiters may be nil.
func NewRouter(backends map[Provider]Backend, limiters *ratecontrol.Limiters, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{backends: backends, limiters: limiters, logger: logger}
}

// GenerateText implements Client.
func (r *Router) GenerateText(ctx context.Context, id Identity, system, prompt string) (string, error) {
	return r.call(ctx, id, Request{System: system, Prompt: prompt}, "text")
}

// GenerateStructured implements Client. The JSON reply is decoded into out.
func (r *Router) GenerateStructured(ctx context.Context, id Identity, system, prompt string, schema *Schema, out interface{}) error {
	text, err := r.call(ctx, id, Request{System: system, Prompt: prompt, Schema: schema}, "structured")
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(StripCodeFence(text)), out); err != nil {
		return &CallError{Identity: id, Message: "invalid structured response: " + err.Error(), Last: err}
	}
	return nil
}

func (r *Router) call(ctx context.Context, id Identity, req Request, kind string) (string, error) {
	backend, ok := r.backends[id.Provider]
	if !ok {
		return "", fmt.Errorf("%w %q (identity %s)", ErrNoBackend, id.Provider, id)
	}

	ctx, span := tracing.StartSpan(ctx, "llm.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.identity", id.String()),
		attribute.String("llm.model", id.Model),
		attribute.String("llm.kind", kind),
	)

	if err := r.limiters.Wait(ctx, string(id.Provider), id.Model); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	start := time.Now()
	text, err := backend.Generate(ctx, id, req)
	elapsed := time.Since(start)
	if err != nil {
		metrics.RecordGeneration(id.String(), string(id.Provider), kind, "error", elapsed.Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Debug("generation failed",
			zap.String("identity", id.String()),
			zap.String("model", id.Model),
			zap.String("kind", kind),
			zap.Error(err),
		)
		return "", err
	}
	metrics.RecordGeneration(id.String(), string(id.Provider), kind, "ok", elapsed.Seconds())
	return text, nil
}

// StripCodeFence removes a surrounding ```json fence some models emit even
// in JSON mode.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
