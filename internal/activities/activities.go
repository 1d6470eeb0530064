package activities

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/Kocoro-lab/deepresearch/internal/interceptors"
	"github.com/Kocoro-lab/deepresearch/internal/metrics"
	"github.com/Kocoro-lab/deepresearch/internal/research"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"
)

// StepErrorType tags step failures; their details carry the failing stack.
const StepErrorType = "ResearchStepError"

// Activities struct holds dependencies for activities
type Activities struct {
	components research.Components
	logger     *zap.Logger
}

// NewActivities creates a new activities instance with dependencies
func NewActivities(c research.Components, logger *zap.Logger) *Activities {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Activities{components: c, logger: logger}
}

// RecordStatusInput is one status message for a job.
type RecordStatusInput struct {
	JobID   string `json:"job_id"`
	Message string `json:"message"`
}

// CompleteJobInput is the successful terminal update.
type CompleteJobInput struct {
	JobID    string        `json:"job_id"`
	Report   string        `json:"report"`
	Duration time.Duration `json:"duration"`
}

// FailJobInput is the failed terminal update. Result is the rendered
// failure report.
type FailJobInput struct {
	JobID  string `json:"job_id"`
	Result string `json:"result"`
}

// stepError keeps the original message, so rate-limit classification still
// matches after the error crosses the workflow boundary.
func stepError(err error) error {
	if err == nil {
		return nil
	}
	return temporal.NewApplicationErrorWithOptions(err.Error(), StepErrorType, temporal.ApplicationErrorOptions{
		Details: []interface{}{string(debug.Stack())},
	})
}

func (a *Activities) jobLogger(ctx context.Context, jobID string) *zap.Logger {
	info := activity.GetInfo(ctx)
	return a.logger.With(
		zap.String("job_id", jobID),
		zap.String("activity", info.ActivityType.Name),
		zap.Int32("attempt", info.Attempt),
	)
}

// PlanQueries generates the SERP queries for one level.
func (a *Activities) PlanQueries(ctx context.Context, in research.PlanInput) ([]research.PlannedQuery, error) {
	ctx = interceptors.WithJobID(ctx, in.JobID)
	queries, err := a.components.Planner.GenerateSerpQueries(ctx, in.Prompt, in.Learnings, in.NumQueries)
	if err != nil {
		a.jobLogger(ctx, in.JobID).Warn("Query planning failed", zap.Error(err))
		return nil, stepError(err)
	}
	return queries, nil
}

// FetchEvidence searches through the worker's evidence pool. Sessions are
// keyed by job, so every query of a job on this worker reuses one session.
func (a *Activities) FetchEvidence(ctx context.Context, in research.EvidenceInput) ([]research.Document, error) {
	ctx = interceptors.WithJobID(ctx, in.JobID)
	if a.components.Evidence == nil {
		return nil, temporal.NewNonRetryableApplicationError("no evidence pool configured", StepErrorType, nil)
	}
	docs, err := a.components.Evidence.Search(ctx, in)
	if err != nil {
		a.jobLogger(ctx, in.JobID).Warn("Evidence search failed", zap.String("query", in.Query), zap.Error(err))
		return nil, stepError(err)
	}
	return docs, nil
}

// ExtractLearnings distils one query's documents.
func (a *Activities) ExtractLearnings(ctx context.Context, in research.ExtractInput) (research.LearningBatch, error) {
	ctx = interceptors.WithJobID(ctx, in.JobID)
	batch, err := a.components.Extractor.ProcessSerpResult(ctx, in.Query, in.Documents, in.NumLearnings, in.NumFollowUps)
	if err != nil {
		return research.LearningBatch{}, stepError(err)
	}
	return batch, nil
}

// WriteReport synthesizes the final report.
func (a *Activities) WriteReport(ctx context.Context, in research.ReportInput) (string, error) {
	ctx = interceptors.WithJobID(ctx, in.JobID)
	report, err := a.components.Synthesizer.WriteFinalReport(ctx, in.Prompt, in.Learnings, in.VisitedSources)
	if err != nil {
		return "", stepError(err)
	}
	return report, nil
}

// RecordStatus appends one status message.
func (a *Activities) RecordStatus(ctx context.Context, in RecordStatusInput) error {
	if a.components.Status == nil {
		return nil
	}
	return a.components.Status.Record(ctx, in.JobID, in.Message)
}

// CompleteJob stores the report.
func (a *Activities) CompleteJob(ctx context.Context, in CompleteJobInput) error {
	err := a.components.Store.UpdateStatus(ctx, in.JobID, research.JobUpdate{
		Status:   research.StatusCompleted,
		Result:   in.Report,
		Duration: in.Duration,
	})
	if err == nil {
		metrics.RecordJobMetrics("temporal", string(research.StatusCompleted), in.Duration.Seconds())
	}
	return err
}

// FailJob stores the failure report.
func (a *Activities) FailJob(ctx context.Context, in FailJobInput) error {
	err := a.components.Store.UpdateStatus(ctx, in.JobID, research.JobUpdate{
		Status: research.StatusFailed,
		Result: in.Result,
	})
	if err == nil {
		metrics.RecordJobMetrics("temporal", string(research.StatusFailed), 0)
	}
	return err
}

// ReleaseEvidence closes this worker's sessions for the job.
func (a *Activities) ReleaseEvidence(ctx context.Context, jobID string) error {
	if a.components.Evidence == nil {
		return nil
	}
	if err := a.components.Evidence.Release(jobID); err != nil {
		a.jobLogger(ctx, jobID).Warn("Failed to release evidence sessions", zap.Error(err))
	}
	return nil
}
