package evidence

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/Kocoro-lab/deepresearch/internal/research"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func liteServer(t *testing.T, throttle int32) (*httptest.Server, *atomic.Int32) {
	var searches atomic.Int32
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/lite/", func(w http.ResponseWriter, r *http.Request) {
		n := searches.Add(1)
		if n <= throttle {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "solid electrolytes", r.PostForm.Get("q"))
		fmt.Fprintf(w, `<table>
<tr><td><a class="result-link" href="%[1]s/ok">ok</a></td></tr>
<tr><td><a class="result-link" href="%[1]s/broken">broken</a></td></tr>
<tr><td><a class="result-link" href="%[1]s/json">json</a></td></tr>
<tr><td><a class="result-link" href="%[1]s/extra">extra</a></td></tr>
</table>`, srv.URL)
	})
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><head><title>OK page</title></head><body><p>Useful facts.</p></body></html>`)
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{}`)
	})
	return srv, &searches
}

func TestHTTPModeSearch(t *testing.T) {
	srv, _ := liteServer(t, 0)
	factory, err := NewWebFactory(WebConfig{Mode: ModeHTTP, LiteURL: srv.URL + "/lite/", SearchQPS: 1000}, zaptest.NewLogger(t))
	require.NoError(t, err)

	src, err := factory(context.Background())
	require.NoError(t, err)
	defer src.Close()

	docs, err := src.Search(context.Background(), "solid electrolytes", 3)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, srv.URL+"/ok", docs[0].Source)
	assert.Equal(t, "OK page", docs[0].Title)
	assert.Equal(t, "Useful facts.", docs[0].Content)
}

func TestHTTPModeRetriesThrottledSearch(t *testing.T) {
	srv, searches := liteServer(t, 1)
	factory, err := NewWebFactory(WebConfig{Mode: ModeHTTP, LiteURL: srv.URL + "/lite/", SearchQPS: 1000}, zaptest.NewLogger(t))
	require.NoError(t, err)
	src, err := factory(context.Background())
	require.NoError(t, err)

	docs, err := src.Search(context.Background(), "solid electrolytes", 1)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
	assert.Equal(t, int32(2), searches.Load())
}

func TestUnknownWebMode(t *testing.T) {
	_, err := NewWebFactory(WebConfig{Mode: "carrier-pigeon"}, nil)
	assert.Error(t, err)
}

type mapFetcher struct {
	pages  map[string]string
	closed bool
}

func (f *mapFetcher) Fetch(_ context.Context, u, _ string) (string, error) {
	if p, ok := f.pages[u]; ok {
		return p, nil
	}
	return "", errors.New("not found")
}

func (f *mapFetcher) Close() error { f.closed = true; return nil }

func staticSearch(urls ...string) searchFunc {
	return func(context.Context, string, int) ([]string, error) { return urls, nil }
}

func TestWebSourceKeepsResultOrder(t *testing.T) {
	f := &mapFetcher{pages: map[string]string{
		"u1": "<title>one</title><p>first</p>",
		"u2": "<title>two</title><p>second</p>",
		"u3": "<title>three</title><p>third</p>",
	}}
	src := newWebSource(f, staticSearch("u1", "u2", "u3"), 2, zaptest.NewLogger(t))

	docs, err := src.Search(context.Background(), "q", 3)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	for i, want := range []string{"one", "two", "three"} {
		assert.Equal(t, want, docs[i].Title)
	}

	require.NoError(t, src.Close())
	assert.True(t, f.closed)
}

func TestWebSourceAllPagesFail(t *testing.T) {
	src := newWebSource(&mapFetcher{}, staticSearch("a", "b"), 0, zaptest.NewLogger(t))
	_, err := src.Search(context.Background(), "q", 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "content extraction failed for a")
}

func TestWebSourceSearchFailure(t *testing.T) {
	failing := func(context.Context, string, int) ([]string, error) { return nil, errors.New("captcha") }
	src := newWebSource(&mapFetcher{}, failing, 0, zaptest.NewLogger(t))
	_, err := src.Search(context.Background(), "q", 2)
	assert.EqualError(t, err, "search failed: captcha")
}

func TestWebSourceNoResults(t *testing.T) {
	src := newWebSource(&mapFetcher{}, staticSearch(), 0, zaptest.NewLogger(t))
	docs, err := src.Search(context.Background(), "q", 2)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

var _ Source = (*WebSource)(nil)
var _ research.EvidencePool = (*Pool)(nil)
