package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// GenAIConfig configures the Gemini backend.
type GenAIConfig struct {
	APIKey string `mapstructure:"api_key"`
	// BaseURL routes calls through a gateway when set.
	BaseURL        string `mapstructure:"base_url"`
	GatewayAPIKey  string `mapstructure:"gateway_api_key"`
	GatewayHeader  string `mapstructure:"gateway_header"`
	MaxOutputToken int32  `mapstructure:"max_output_tokens"`
}

// GenAIBackend calls Gemini through google.golang.org/genai.
type GenAIBackend struct {
	client    *genai.Client
	maxTokens int32
}

// NewGenAIBackend builds a Gemini backend.
func NewGenAIBackend(ctx context.Context, cfg GenAIConfig) (*GenAIBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("genai: api key is required")
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
		if cfg.GatewayAPIKey != "" {
			header := cfg.GatewayHeader
			if header == "" {
				header = "cf-aig-authorization"
			}
			cc.HTTPOptions.Headers = http.Header{}
			cc.HTTPOptions.Headers.Set(header, "Bearer "+cfg.GatewayAPIKey)
		}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GenAIBackend{client: client, maxTokens: cfg.MaxOutputToken}, nil
}

// Generate implements Backend.
func (b *GenAIBackend) Generate(ctx context.Context, id Identity, req Request) (string, error) {
	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if b.maxTokens > 0 {
		cfg.MaxOutputTokens = b.maxTokens
	}
	if req.Schema != nil {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = toGenAISchema(req.Schema)
	}

	resp, err := b.client.Models.GenerateContent(ctx, id.Model, genai.Text(req.Prompt), cfg)
	if err != nil {
		return "", genaiCallError(id, err)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", &CallError{Identity: id, Message: "empty response"}
	}
	return text, nil
}

func genaiCallError(id Identity, err error) error {
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		apiErr = *apiErrPtr
	}
	if apiErr.Code != 0 || errors.As(err, &apiErr) {
		msg := apiErr.Message
		if apiErr.Status != "" {
			msg = apiErr.Status + ": " + msg
		}
		return &CallError{Identity: id, StatusCode: apiErr.Code, Message: msg, Last: err}
	}
	return &CallError{Identity: id, Message: err.Error(), Last: err}
}

func toGenAISchema(s *Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        genaiType(s.Type),
		Description: s.Description,
		Required:    s.Required,
		MaxItems:    s.MaxItems,
		Items:       toGenAISchema(s.Items),
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for k, v := range s.Properties {
			out.Properties[k] = toGenAISchema(v)
		}
		// stable property order keeps the model's output keys predictable
		out.PropertyOrdering = append([]string(nil), s.Required...)
	}
	return out
}

func genaiType(t Type) genai.Type {
	switch t {
	case TypeObject:
		return genai.TypeObject
	case TypeArray:
		return genai.TypeArray
	case TypeInteger:
		return genai.TypeInteger
	case TypeNumber:
		return genai.TypeNumber
	case TypeBoolean:
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}
