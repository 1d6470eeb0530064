package interceptors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripperTagsJob(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer srv.Close()

	client := NewHTTPClient(time.Second)
	ctx := WithJobID(context.Background(), "job-1")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "job-1", got.Get(HeaderJobID))
	assert.Empty(t, got.Get(HeaderWorkflowID))
	assert.Empty(t, req.Header.Get(HeaderJobID), "caller's request must not be mutated")
}

func TestRoundTripperOutsideJob(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer srv.Close()

	resp, err := NewHTTPClient(time.Second).Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, got.Get(HeaderJobID))
}

func TestWithJobIDEmpty(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, ctx, WithJobID(ctx, ""))
	assert.Equal(t, "", JobID(ctx))
}
