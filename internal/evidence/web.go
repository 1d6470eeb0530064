package evidence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Kocoro-lab/deepresearch/internal/research"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Web search modes.
const (
	ModeBrowser = "browser"
	ModeHTTP    = "http"
)

const (
	resultSelector  = `[data-testid="result-title-a"]`
	defaultAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	maxPageBytes    = 5 << 20
	maxLiteAttempts = 5
)

// WebConfig configures web evidence.
type WebConfig struct {
	// Mode is "browser" (headless Chromium) or "http" (plain requests
	// against the lite results page).
	Mode      string `mapstructure:"mode"`
	SearchURL string `mapstructure:"search_url"`
	LiteURL   string `mapstructure:"lite_url"`
	// ControlURL attaches to a running browser instead of launching one.
	ControlURL string `mapstructure:"control_url"`
	BrowserBin string `mapstructure:"browser_bin"`
	// Headful shows the browser window, for debugging.
	Headful           bool          `mapstructure:"headful"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	Concurrency       int           `mapstructure:"concurrency"`
	UserAgent         string        `mapstructure:"user_agent"`
	// SearchQPS limits result-page requests across all sessions.
	SearchQPS float64 `mapstructure:"search_qps"`
}

func (c WebConfig) withDefaults() WebConfig {
	if c.Mode == "" {
		c.Mode = ModeBrowser
	}
	if c.SearchURL == "" {
		c.SearchURL = "https://duckduckgo.com/"
	}
	if c.LiteURL == "" {
		c.LiteURL = "https://lite.duckduckgo.com/lite/"
	}
	if c.NavigationTimeout == 0 {
		c.NavigationTimeout = 20 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultAgent
	}
	if c.SearchQPS == 0 {
		c.SearchQPS = 1
	}
	return c
}

// Fetcher loads a URL and returns its HTML. waitSelector, when set, must
// appear before the HTML is captured.
type Fetcher interface {
	Fetch(ctx context.Context, url, waitSelector string) (string, error)
	Close() error
}

type searchFunc func(ctx context.Context, query string, limit int) ([]string, error)

// WebSource finds result URLs for a query and converts each page to
// markdown.
type WebSource struct {
	fetcher     Fetcher
	search      searchFunc
	concurrency int
	logger      *zap.Logger
}

// NewWebFactory returns a constructor for web sessions. Sessions created by
// one factory share its search rate limit.
func NewWebFactory(cfg WebConfig, logger *zap.Logger) (func(ctx context.Context) (Source, error), error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	limiter := rate.NewLimiter(rate.Limit(cfg.SearchQPS), 1)
	switch cfg.Mode {
	case ModeBrowser:
		return func(ctx context.Context) (Source, error) {
			f, err := newBrowserFetcher(cfg)
			if err != nil {
				return nil, err
			}
			return newWebSource(f, browserSearch(cfg, f, limiter), cfg.Concurrency, logger), nil
		}, nil
	case ModeHTTP:
		client := &http.Client{Timeout: cfg.NavigationTimeout}
		return func(ctx context.Context) (Source, error) {
			f := &httpFetcher{client: client, userAgent: cfg.UserAgent}
			return newWebSource(f, liteSearch(cfg, client, limiter), cfg.Concurrency, logger), nil
		}, nil
	}
	return nil, fmt.Errorf("evidence: unknown web mode %q", cfg.Mode)
}

func newWebSource(f Fetcher, search searchFunc, concurrency int, logger *zap.Logger) *WebSource {
	return &WebSource{fetcher: f, search: search, concurrency: concurrency, logger: logger}
}

// Search fetches the top limit results concurrently. Pages that fail to
// load are skipped; the search fails only when every page failed.
func (s *WebSource) Search(ctx context.Context, query string, limit int) ([]research.Document, error) {
	urls, err := s.search(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	if len(urls) == 0 {
		return nil, nil
	}

	docs := make([]*research.Document, len(urls))
	var mu sync.Mutex
	var failures []error

	var g errgroup.Group
	if s.concurrency > 0 {
		g.SetLimit(s.concurrency)
	}
	for i, u := range urls {
		g.Go(func() error {
			doc, err := s.extract(ctx, u)
			if err != nil {
				s.logger.Debug("Skipping page", zap.String("url", u), zap.Error(err))
				mu.Lock()
				failures = append(failures, err)
				mu.Unlock()
				return nil
			}
			docs[i] = &doc
			return nil
		})
	}
	_ = g.Wait()

	out := make([]research.Document, 0, len(urls))
	for _, d := range docs {
		if d != nil {
			out = append(out, *d)
		}
	}
	if len(out) == 0 && len(failures) > 0 {
		return nil, errors.Join(failures...)
	}
	return out, nil
}

func (s *WebSource) extract(ctx context.Context, u string) (research.Document, error) {
	raw, err := s.fetcher.Fetch(ctx, u, "")
	if err != nil {
		return research.Document{}, fmt.Errorf("content extraction failed for %s: %w", u, err)
	}
	page, err := ParsePage(raw)
	if err != nil {
		return research.Document{}, fmt.Errorf("content extraction failed for %s: %w", u, err)
	}
	return research.Document{Source: u, Title: page.Title, Content: page.Markdown}, nil
}

func (s *WebSource) Close() error { return s.fetcher.Close() }

// browserSearch loads the scripted results page in the session's browser.
func browserSearch(cfg WebConfig, f Fetcher, limiter *rate.Limiter) searchFunc {
	return func(ctx context.Context, query string, limit int) ([]string, error) {
		if strings.TrimSpace(query) == "" {
			return nil, errors.New("query is empty")
		}
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
		raw, err := f.Fetch(ctx, cfg.SearchURL+"?q="+url.QueryEscape(query), resultSelector)
		if err != nil {
			return nil, err
		}
		return ParseResultLinks(raw, limit)
	}
}

// liteSearch posts the query to the lite results page, backing off on 429.
func liteSearch(cfg WebConfig, client *http.Client, limiter *rate.Limiter) searchFunc {
	return func(ctx context.Context, query string, limit int) ([]string, error) {
		if strings.TrimSpace(query) == "" {
			return nil, errors.New("query is empty")
		}
		form := url.Values{"q": {query}}.Encode()
		delay := time.Second
		for attempt := 1; ; attempt++ {
			if err := limiter.Wait(ctx); err != nil {
				return nil, err
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.LiteURL, strings.NewReader(form))
			if err != nil {
				return nil, err
			}
			req.Header.Set("User-Agent", cfg.UserAgent)
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			resp, err := client.Do(req)
			if err != nil {
				return nil, err
			}
			if resp.StatusCode == http.StatusTooManyRequests && attempt < maxLiteAttempts {
				resp.Body.Close()
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(delay):
				}
				delay = min(delay*2, 30*time.Second)
				continue
			}
			body, err := readBody(resp)
			if err != nil {
				return nil, err
			}
			return ParseResultLinks(body, limit)
		}
	}
}

func readBody(resp *http.Response) (string, error) {
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("http %d", resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	return string(b), nil
}

type httpFetcher struct {
	client    *http.Client
	userAgent string
}

func (f *httpFetcher) Fetch(ctx context.Context, u, _ string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		resp.Body.Close()
		return "", fmt.Errorf("unsupported content type %q", ct)
	}
	return readBody(resp)
}

func (f *httpFetcher) Close() error { return nil }
