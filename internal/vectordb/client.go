package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Kocoro-lab/deepresearch/internal/circuitbreaker"
	"github.com/Kocoro-lab/deepresearch/internal/interceptors"
	ometrics "github.com/Kocoro-lab/deepresearch/internal/metrics"
	"github.com/Kocoro-lab/deepresearch/internal/tracing"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrCollectionNotFound is returned when the named collection does not exist.
var ErrCollectionNotFound = errors.New("vectordb: collection not found")

// Client is a minimal Qdrant HTTP client
type Client struct {
	cfg   Config
	base  string
	httpw *circuitbreaker.HTTPWrapper
	log   *zap.Logger
}

// NewClient builds a client. httpClient may be nil.
func NewClient(cfg Config, httpClient *http.Client, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:6333"
	}
	if cfg.TopK == 0 {
		cfg.TopK = 5
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if httpClient == nil {
		httpClient = interceptors.NewHTTPClient(cfg.Timeout)
	}
	return &Client{
		cfg:   cfg,
		base:  strings.TrimRight(cfg.BaseURL, "/"),
		httpw: circuitbreaker.NewHTTPWrapper(httpClient, "qdrant", "vectordb", logger),
		log:   logger,
	}
}

// Config returns the effective configuration.
func (c *Client) Config() Config { return c.cfg }

type qdrantQueryRequest struct {
	Query          []float32 `json:"query"`
	Limit          int       `json:"limit"`
	ScoreThreshold *float64  `json:"score_threshold,omitempty"`
	WithPayload    bool      `json:"with_payload"`
}

type qdrantPoint struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

type qdrantSearchResponse struct {
	Result []qdrantPoint `json:"result"`
}

// qdrantQueryResponse is the nested /points/query shape.
type qdrantQueryResponse struct {
	Result struct {
		Points []qdrantPoint `json:"points"`
	} `json:"result"`
}

func (c *Client) collectionURL(collection string, parts ...string) string {
	u := c.base + "/collections/" + url.PathEscape(collection)
	if len(parts) > 0 {
		u += "/" + strings.Join(parts, "/")
	}
	return u
}

func (c *Client) do(ctx context.Context, method, u string, body any) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("api-key", c.cfg.APIKey)
	}
	tracing.InjectTraceparent(ctx, req)
	return c.httpw.Do(req)
}

// Search returns up to limit points of collection nearest to vec. It
// prefers /points/query and falls back to the legacy /points/search.
func (c *Client) Search(ctx context.Context, collection string, vec []float32, limit int) ([]Point, error) {
	if limit <= 0 {
		limit = c.cfg.TopK
	}
	start := time.Now()
	points, err := c.search(ctx, collection, vec, limit)
	status := "ok"
	if err != nil {
		status = "error"
	}
	ometrics.RecordVectorSearchMetrics(collection, status, time.Since(start).Seconds())
	return points, err
}

func (c *Client) search(ctx context.Context, collection string, vec []float32, limit int) ([]Point, error) {
	queryURL := c.collectionURL(collection, "points", "query")
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, queryURL)
	defer span.End()

	var thr *float64
	if c.cfg.Threshold > 0 {
		t := c.cfg.Threshold
		thr = &t
	}
	resp, err := c.do(ctx, http.MethodPost, queryURL, qdrantQueryRequest{Query: vec, Limit: limit, ScoreThreshold: thr, WithPayload: true})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var qr qdrantQueryResponse
		if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
			return nil, err
		}
		return toPoints(qr.Result.Points), nil
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}

	legacy := map[string]any{"vector": vec, "limit": limit, "with_payload": true}
	if thr != nil {
		legacy["score_threshold"] = *thr
	}
	resp2, err := c.do(ctx, http.MethodPost, c.collectionURL(collection, "points", "search"), legacy)
	if err != nil {
		return nil, fmt.Errorf("qdrant query/search failed: %w", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("qdrant status %d", resp2.StatusCode)
	}
	var sr qdrantSearchResponse
	if err := json.NewDecoder(resp2.Body).Decode(&sr); err != nil {
		return nil, err
	}
	return toPoints(sr.Result), nil
}

func toPoints(in []qdrantPoint) []Point {
	out := make([]Point, 0, len(in))
	for _, p := range in {
		payload := p.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		out = append(out, Point{ID: fmt.Sprint(p.ID), Score: p.Score, Payload: payload})
	}
	return out
}

// Upsert inserts or updates points. Items without an ID get a random UUID.
func (c *Client) Upsert(ctx context.Context, collection string, points []UpsertItem) (*UpsertResponse, error) {
	u := c.collectionURL(collection, "points")
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPut, u)
	defer span.End()

	for i := range points {
		if points[i].ID == nil {
			points[i].ID = uuid.NewString()
		}
	}
	resp, err := c.do(ctx, http.MethodPut, u+"?wait=true", map[string]any{"points": points})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("qdrant upsert status %d", resp.StatusCode)
	}
	var r struct {
		Result UpsertResponse `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, err
	}
	return &r.Result, nil
}
