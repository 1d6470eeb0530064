package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/Kocoro-lab/deepresearch/internal/circuitbreaker"
	"github.com/Kocoro-lab/deepresearch/internal/tracing"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// Task says what an embedding is used for. Providers that support
// asymmetric retrieval embed queries and documents differently.
type Task string

const (
	TaskQuery    Task = "RETRIEVAL_QUERY"
	TaskDocument Task = "RETRIEVAL_DOCUMENT"
)

// Provider turns texts into vectors, one per text, in order.
type Provider interface {
	Embed(ctx context.Context, model string, task Task, texts []string) ([][]float32, error)
}

// GenAIProvider embeds through the Gemini API.
type GenAIProvider struct {
	client *genai.Client
}

func NewGenAIProvider(ctx context.Context, apiKey string) (*GenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("genai: api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GenAIProvider{client: client}, nil
}

func (p *GenAIProvider) Embed(ctx context.Context, model string, task Task, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}
	resp, err := p.client.Models.EmbedContent(ctx, model, contents, &genai.EmbedContentConfig{TaskType: string(task)})
	if err != nil {
		return nil, fmt.Errorf("genai embed failed: %w", err)
	}
	out := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}

// ServiceProvider calls the llm-service /embeddings/ endpoint.
type ServiceProvider struct {
	baseURL string
	httpw   *circuitbreaker.HTTPWrapper
}

func NewServiceProvider(baseURL string, client *http.Client, logger *zap.Logger) *ServiceProvider {
	return &ServiceProvider{
		baseURL: baseURL,
		httpw:   circuitbreaker.NewHTTPWrapper(client, "llm-service-embeddings", "embeddings", logger),
	}
}

type embedRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Dimensions int         `json:"dimensions"`
	ModelUsed  string      `json:"model_used"`
}

func (p *ServiceProvider) Embed(ctx context.Context, model string, _ Task, texts []string) ([][]float32, error) {
	url := fmt.Sprintf("%s/embeddings/", p.baseURL)
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	defer span.End()

	buf, err := json.Marshal(embedRequest{Texts: texts, Model: model})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := p.httpw.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, string(body))
	}

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, err
	}
	out := make([][]float32, len(er.Embeddings))
	for i, emb := range er.Embeddings {
		v := make([]float32, len(emb))
		for j, f := range emb {
			v[j] = float32(f)
		}
		out[i] = v
	}
	return out, nil
}
