// Package evidence gathers documents for a research query from the web or
// from a vector index.
package evidence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Kocoro-lab/deepresearch/internal/metrics"
	"github.com/Kocoro-lab/deepresearch/internal/research"
	"github.com/Kocoro-lab/deepresearch/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var (
	ErrUnknownKind = errors.New("evidence: unknown kind")
	ErrNoIndex     = errors.New("evidence: index id is required")
	ErrClosed      = errors.New("evidence: pool is closed")
)

// Source returns documents for a query. A Source is a session: it may hold
// a browser or an index handle until Close.
type Source interface {
	Search(ctx context.Context, query string, limit int) ([]research.Document, error)
	Close() error
}

// Opener creates a session for a kind. indexID is only set for the index
// kind.
type Opener func(ctx context.Context, kind research.EvidenceKind, indexID string) (Source, error)

type sessionKey struct {
	jobID   string
	kind    research.EvidenceKind
	indexID string
}

// Pool keeps one session per job, kind and index, opened on first use and
// closed by Release.
type Pool struct {
	open   Opener
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[sessionKey]Source
	closed   bool
}

func NewPool(open Opener, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{open: open, logger: logger, sessions: make(map[sessionKey]Source)}
}

// Search implements research.EvidencePool.
func (p *Pool) Search(ctx context.Context, in research.EvidenceInput) ([]research.Document, error) {
	ctx, span := tracing.StartSpan(ctx, "evidence.search",
		attribute.String("evidence.kind", string(in.Kind)),
		attribute.String("job.id", in.JobID),
	)
	defer span.End()

	start := time.Now()
	docs, err := p.search(ctx, in)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
	}
	metrics.RecordEvidenceSearch(string(in.Kind), outcome, time.Since(start).Seconds(), len(docs))
	return docs, err
}

func (p *Pool) search(ctx context.Context, in research.EvidenceInput) ([]research.Document, error) {
	src, err := p.session(ctx, in)
	if err != nil {
		return nil, err
	}
	limit := in.Limit
	if limit <= 0 {
		limit = research.DefaultResultLimit
	}
	return src.Search(ctx, in.Query, limit)
}

func (p *Pool) session(ctx context.Context, in research.EvidenceInput) (Source, error) {
	switch in.Kind {
	case research.EvidenceWeb:
		in.IndexID = ""
	case research.EvidenceIndex:
		if in.IndexID == "" {
			return nil, ErrNoIndex
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, in.Kind)
	}
	key := sessionKey{jobID: in.JobID, kind: in.Kind, indexID: in.IndexID}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	if src, ok := p.sessions[key]; ok {
		p.mu.Unlock()
		return src, nil
	}
	p.mu.Unlock()

	// Opening can be slow (a browser launch), so it runs unlocked.
	src, err := p.open(ctx, in.Kind, in.IndexID)
	if err != nil {
		return nil, fmt.Errorf("open %s evidence session: %w", in.Kind, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.sessions[key]; ok || p.closed {
		if cerr := src.Close(); cerr != nil {
			p.logger.Warn("Failed to close duplicate evidence session", zap.Error(cerr))
		}
		if p.closed {
			return nil, ErrClosed
		}
		return existing, nil
	}
	p.sessions[key] = src
	metrics.EvidenceSessionsOpen.WithLabelValues(string(in.Kind)).Inc()
	p.logger.Debug("Opened evidence session",
		zap.String("job_id", in.JobID),
		zap.String("kind", string(in.Kind)),
		zap.String("index_id", in.IndexID))
	return src, nil
}

// Release closes every session opened for jobID.
func (p *Pool) Release(jobID string) error {
	p.mu.Lock()
	var victims []sessionKey
	var srcs []Source
	for k, src := range p.sessions {
		if k.jobID == jobID {
			victims = append(victims, k)
			srcs = append(srcs, src)
		}
	}
	for _, k := range victims {
		delete(p.sessions, k)
	}
	p.mu.Unlock()

	var errs []error
	for i, src := range srcs {
		metrics.EvidenceSessionsOpen.WithLabelValues(string(victims[i].kind)).Dec()
		if err := src.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s session: %w", victims[i].kind, err))
		}
	}
	return errors.Join(errs...)
}

// Open reports the number of live sessions.
func (p *Pool) Open() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// Close releases every session and rejects further searches.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	jobs := map[string]bool{}
	for k := range p.sessions {
		jobs[k.jobID] = true
	}
	p.mu.Unlock()

	var errs []error
	for jobID := range jobs {
		errs = append(errs, p.Release(jobID))
	}
	return errors.Join(errs...)
}

// NewOpener dispatches to the web or index constructor by kind. Either may
// be nil when that kind is not configured.
func NewOpener(web func(ctx context.Context) (Source, error), index func(ctx context.Context, indexID string) (Source, error)) Opener {
	return func(ctx context.Context, kind research.EvidenceKind, indexID string) (Source, error) {
		switch kind {
		case research.EvidenceWeb:
			if web == nil {
				return nil, fmt.Errorf("%w: web search is not configured", ErrUnknownKind)
			}
			return web(ctx)
		case research.EvidenceIndex:
			if index == nil {
				return nil, fmt.Errorf("%w: index search is not configured", ErrUnknownKind)
			}
			return index(ctx, indexID)
		}
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}
