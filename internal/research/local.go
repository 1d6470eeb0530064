package research

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/Kocoro-lab/deepresearch/internal/interceptors"
	"github.com/Kocoro-lab/deepresearch/internal/temporal"
	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
)

// EvidencePool searches through per-job evidence sessions. One session per
// job and evidence kind is opened on first use and reused until Release.
type EvidencePool interface {
	Search(ctx context.Context, in EvidenceInput) ([]Document, error)
	Release(jobID string) error
}

// StatusSink persists status events.
type StatusSink interface {
	Record(ctx context.Context, jobID, message string) error
}

// JobUpdate is the terminal update written to the job store.
type JobUpdate struct {
	Status   Status
	Result   string
	Duration time.Duration
}

// JobStore receives the terminal job update.
type JobStore interface {
	UpdateStatus(ctx context.Context, jobID string, upd JobUpdate) error
}

// Components are the collaborators shared by every job.
type Components struct {
	Planner     *Planner
	Extractor   *Extractor
	Synthesizer *Synthesizer
	Evidence    EvidencePool
	Status      StatusSink
	Store       JobStore
}

// NewComponents wires the prompt-driven steps around gen.
func NewComponents(gen Generation, extractTimeout time.Duration, evidence EvidencePool, status StatusSink, store JobStore) Components {
	return Components{
		Planner:     NewPlanner(gen),
		Extractor:   NewExtractor(gen, extractTimeout),
		Synthesizer: NewSynthesizer(gen),
		Evidence:    evidence,
		Status:      status,
		Store:       store,
	}
}

// LocalRunner runs jobs in-process with plain context.Context steps.
type LocalRunner struct {
	components Components
	logger     *zap.Logger
}

func NewLocalRunner(c Components, logger *zap.Logger) *LocalRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalRunner{components: c, logger: logger}
}

// Run executes job to completion. A panic inside a step is converted into a
// failed job and returned as an error.
func (r *LocalRunner) Run(ctx context.Context, job JobSnapshot) (report string, err error) {
	ctx = interceptors.WithJobID(ctx, job.ID)
	steps := &localSteps{Components: r.components, logger: temporal.NewZapAdapter(r.logger.With(zap.String("job_id", job.ID)))}
	defer func() {
		if p := recover(); p != nil {
			steps.stack = debug.Stack()
			err = fmt.Errorf("research job panicked: %v", p)
			steps.RecordStatus(ctx, job.ID, fmt.Sprintf("research failed: %v", err))
			if ferr := steps.FailJob(ctx, job.ID, err); ferr != nil {
				r.logger.Error("failed to mark job failed", zap.String("job_id", job.ID), zap.Error(ferr))
			}
		}
	}()
	return RunJob[context.Context](ctx, steps, job)
}

// localSteps is the in-process executor for one job.
type localSteps struct {
	Components
	logger log.Logger
	// stack of the first failing step, attached to the failure report
	stack []byte
}

func (s *localSteps) fail(err error) error {
	if err != nil && s.stack == nil {
		s.stack = debug.Stack()
	}
	return err
}

func (s *localSteps) PlanQueries(ctx context.Context, in PlanInput) ([]PlannedQuery, error) {
	q, err := s.Planner.GenerateSerpQueries(ctx, in.Prompt, in.Learnings, in.NumQueries)
	return q, s.fail(err)
}

func (s *localSteps) FetchEvidence(ctx context.Context, in EvidenceInput) ([]Document, error) {
	if s.Evidence == nil {
		return nil, s.fail(fmt.Errorf("no evidence pool configured for %s search", in.Kind))
	}
	docs, err := s.Evidence.Search(ctx, in)
	return docs, s.fail(err)
}

func (s *localSteps) ExtractLearnings(ctx context.Context, in ExtractInput) (LearningBatch, error) {
	b, err := s.Extractor.ProcessSerpResult(ctx, in.Query, in.Documents, in.NumLearnings, in.NumFollowUps)
	return b, s.fail(err)
}

func (s *localSteps) WriteReport(ctx context.Context, in ReportInput) (string, error) {
	r, err := s.Synthesizer.WriteFinalReport(ctx, in.Prompt, in.Learnings, in.VisitedSources)
	return r, s.fail(err)
}

func (s *localSteps) RecordStatus(ctx context.Context, jobID, message string) {
	if s.Status == nil {
		return
	}
	if err := s.Status.Record(context.WithoutCancel(ctx), jobID, message); err != nil {
		s.logger.Warn("failed to record status", "job_id", jobID, "error", err)
	}
}

func (s *localSteps) CompleteJob(ctx context.Context, jobID, report string, duration time.Duration) error {
	return s.Store.UpdateStatus(ctx, jobID, JobUpdate{Status: StatusCompleted, Result: report, Duration: duration})
}

func (s *localSteps) FailJob(ctx context.Context, jobID string, cause error) error {
	// the job context may already be cancelled; the failure must still land
	ctx = context.WithoutCancel(ctx)
	if s.stack == nil {
		s.stack = debug.Stack()
	}
	return s.Store.UpdateStatus(ctx, jobID, JobUpdate{Status: StatusFailed, Result: FailureReport(cause, s.stack)})
}

func (s *localSteps) ReleaseEvidence(_ context.Context, jobID string) {
	if s.Evidence == nil {
		return
	}
	if err := s.Evidence.Release(jobID); err != nil {
		s.logger.Warn("failed to release evidence sessions", "job_id", jobID, "error", err)
	}
}

func (s *localSteps) Now(context.Context) time.Time { return time.Now() }

func (s *localSteps) Logger(context.Context) log.Logger { return s.logger }
