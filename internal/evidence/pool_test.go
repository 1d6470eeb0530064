package evidence

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Kocoro-lab/deepresearch/internal/research"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeSource struct {
	name     string
	limits   []int
	closed   bool
	closeErr error
}

func (s *fakeSource) Search(_ context.Context, query string, limit int) ([]research.Document, error) {
	s.limits = append(s.limits, limit)
	return []research.Document{{Source: s.name + ":" + query, Content: "c"}}, nil
}

func (s *fakeSource) Close() error { s.closed = true; return s.closeErr }

type recordingOpener struct {
	mu     sync.Mutex
	opened []*fakeSource
	err    error
}

func (o *recordingOpener) open(_ context.Context, kind research.EvidenceKind, indexID string) (Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	s := &fakeSource{name: string(kind) + "/" + indexID}
	o.opened = append(o.opened, s)
	return s, nil
}

func TestPoolReusesSessionPerJob(t *testing.T) {
	o := &recordingOpener{}
	p := NewPool(o.open, zaptest.NewLogger(t))
	ctx := context.Background()

	for _, q := range []string{"a", "b"} {
		docs, err := p.Search(ctx, research.EvidenceInput{JobID: "j1", Kind: research.EvidenceWeb, Query: q, Limit: 3})
		require.NoError(t, err)
		assert.Equal(t, "web/:"+q, docs[0].Source)
	}
	_, err := p.Search(ctx, research.EvidenceInput{JobID: "j2", Kind: research.EvidenceWeb, Query: "c"})
	require.NoError(t, err)
	_, err = p.Search(ctx, research.EvidenceInput{JobID: "j1", Kind: research.EvidenceIndex, IndexID: "papers", Query: "d"})
	require.NoError(t, err)

	require.Len(t, o.opened, 3)
	assert.Equal(t, []int{3, 3}, o.opened[0].limits)
	assert.Equal(t, []int{research.DefaultResultLimit}, o.opened[1].limits)
	assert.Equal(t, 3, p.Open())

	require.NoError(t, p.Release("j1"))
	assert.True(t, o.opened[0].closed)
	assert.False(t, o.opened[1].closed)
	assert.True(t, o.opened[2].closed)
	assert.Equal(t, 1, p.Open())

	// Releasing an unknown job is a no-op.
	assert.NoError(t, p.Release("nope"))
}

func TestPoolRejectsBadInput(t *testing.T) {
	p := NewPool((&recordingOpener{}).open, nil)
	ctx := context.Background()

	_, err := p.Search(ctx, research.EvidenceInput{JobID: "j", Kind: "carrier-pigeon"})
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = p.Search(ctx, research.EvidenceInput{JobID: "j", Kind: research.EvidenceIndex})
	assert.ErrorIs(t, err, ErrNoIndex)
}

func TestPoolOpenFailure(t *testing.T) {
	boom := errors.New("no chromium")
	p := NewPool((&recordingOpener{err: boom}).open, nil)

	_, err := p.Search(context.Background(), research.EvidenceInput{JobID: "j", Kind: research.EvidenceWeb, Query: "q"})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, p.Open())
}

func TestPoolReleaseJoinsCloseErrors(t *testing.T) {
	boom := errors.New("stuck")
	p := NewPool(func(context.Context, research.EvidenceKind, string) (Source, error) {
		return &fakeSource{closeErr: boom}, nil
	}, nil)
	_, err := p.Search(context.Background(), research.EvidenceInput{JobID: "j", Kind: research.EvidenceWeb, Query: "q"})
	require.NoError(t, err)

	assert.ErrorIs(t, p.Release("j"), boom)
	assert.Zero(t, p.Open())
}

func TestPoolClose(t *testing.T) {
	o := &recordingOpener{}
	p := NewPool(o.open, nil)
	ctx := context.Background()
	_, err := p.Search(ctx, research.EvidenceInput{JobID: "j", Kind: research.EvidenceWeb, Query: "q"})
	require.NoError(t, err)

	require.NoError(t, p.Close())
	assert.True(t, o.opened[0].closed)

	_, err = p.Search(ctx, research.EvidenceInput{JobID: "j", Kind: research.EvidenceWeb, Query: "q"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNewOpener(t *testing.T) {
	web := func(context.Context) (Source, error) { return &fakeSource{name: "web"}, nil }
	open := NewOpener(web, nil)

	src, err := open(context.Background(), research.EvidenceWeb, "")
	require.NoError(t, err)
	assert.Equal(t, "web", src.(*fakeSource).name)

	_, err = open(context.Background(), research.EvidenceIndex, "x")
	assert.ErrorIs(t, err, ErrUnknownKind)
}
