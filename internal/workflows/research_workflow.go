package workflows

import (
	"errors"
	"runtime/debug"
	"time"

	"go.temporal.io/sdk/log"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/Kocoro-lab/deepresearch/internal/activities"
	"github.com/Kocoro-lab/deepresearch/internal/constants"
	"github.com/Kocoro-lab/deepresearch/internal/research"
	"github.com/Kocoro-lab/deepresearch/internal/workflows/opts"
)

// ProgressQuery returns the job's latest status message.
const ProgressQuery = "progress"

// ResearchInput starts one research job.
type ResearchInput struct {
	Job research.JobSnapshot `json:"job"`
}

// ResearchResult is the finished report.
type ResearchResult struct {
	Report string `json:"report"`
}

// Progress is answered by the progress query.
type Progress struct {
	LastMessage string `json:"last_message"`
	Events      int    `json:"events"`
}

// ResearchWorkflow runs a research job with every step as an activity.
func ResearchWorkflow(ctx workflow.Context, input ResearchInput) (ResearchResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting ResearchWorkflow",
		"job_id", input.Job.ID,
		"breadth", input.Job.Breadth,
		"depth", input.Job.Depth,
		"web_search", input.Job.WebSearch,
		"index_id", input.Job.IndexID,
	)

	steps := &workflowSteps{}
	if err := workflow.SetQueryHandler(ctx, ProgressQuery, func() (Progress, error) {
		return steps.progress, nil
	}); err != nil {
		return ResearchResult{}, err
	}

	report, err := research.RunJob[workflow.Context](ctx, steps, input.Job)
	if err != nil {
		return ResearchResult{}, err
	}
	return ResearchResult{Report: report}, nil
}

// workflowSteps executes every research step as an activity.
type workflowSteps struct {
	progress Progress
}

var _ research.JobSteps[workflow.Context] = (*workflowSteps)(nil)

// detached keeps bookkeeping alive after the workflow context is cancelled.
func detached(ctx workflow.Context) workflow.Context {
	dctx, _ := workflow.NewDisconnectedContext(ctx)
	return opts.WithBookkeepingOptions(dctx)
}

func (s *workflowSteps) PlanQueries(ctx workflow.Context, in research.PlanInput) ([]research.PlannedQuery, error) {
	var out []research.PlannedQuery
	err := workflow.ExecuteActivity(opts.WithGenerationOptions(ctx), constants.PlanQueriesActivity, in).Get(ctx, &out)
	return out, unwrapStepError(err)
}

func (s *workflowSteps) FetchEvidence(ctx workflow.Context, in research.EvidenceInput) ([]research.Document, error) {
	var out []research.Document
	actx := workflow.WithActivityOptions(ctx, opts.EvidenceActivityOptions())
	err := workflow.ExecuteActivity(actx, constants.FetchEvidenceActivity, in).Get(ctx, &out)
	return out, unwrapStepError(err)
}

func (s *workflowSteps) ExtractLearnings(ctx workflow.Context, in research.ExtractInput) (research.LearningBatch, error) {
	var out research.LearningBatch
	err := workflow.ExecuteActivity(opts.WithGenerationOptions(ctx), constants.ExtractLearningsActivity, in).Get(ctx, &out)
	return out, unwrapStepError(err)
}

func (s *workflowSteps) WriteReport(ctx workflow.Context, in research.ReportInput) (string, error) {
	var out string
	actx := workflow.WithActivityOptions(ctx, opts.ReportActivityOptions())
	err := workflow.ExecuteActivity(actx, constants.WriteReportActivity, in).Get(ctx, &out)
	return out, unwrapStepError(err)
}

func (s *workflowSteps) RecordStatus(ctx workflow.Context, jobID, message string) {
	s.progress.LastMessage = message
	s.progress.Events++
	err := workflow.ExecuteActivity(detached(ctx), constants.RecordStatusActivity, activities.RecordStatusInput{
		JobID:   jobID,
		Message: message,
	}).Get(ctx, nil)
	if err != nil {
		workflow.GetLogger(ctx).Warn("Failed to record status", "job_id", jobID, "error", err)
	}
}

func (s *workflowSteps) CompleteJob(ctx workflow.Context, jobID, report string, duration time.Duration) error {
	return workflow.ExecuteActivity(opts.WithBookkeepingOptions(ctx), constants.CompleteJobActivity, activities.CompleteJobInput{
		JobID:    jobID,
		Report:   report,
		Duration: duration,
	}).Get(ctx, nil)
}

func (s *workflowSteps) FailJob(ctx workflow.Context, jobID string, cause error) error {
	var stack []byte
	var se *stepError
	if errors.As(cause, &se) {
		stack = se.stack
	}
	if stack == nil {
		stack = debug.Stack()
	}
	return workflow.ExecuteActivity(detached(ctx), constants.FailJobActivity, activities.FailJobInput{
		JobID:  jobID,
		Result: research.FailureReport(cause, stack),
	}).Get(ctx, nil)
}

func (s *workflowSteps) ReleaseEvidence(ctx workflow.Context, jobID string) {
	if err := workflow.ExecuteActivity(detached(ctx), constants.ReleaseEvidenceActivity, jobID).Get(ctx, nil); err != nil {
		workflow.GetLogger(ctx).Warn("Failed to release evidence", "job_id", jobID, "error", err)
	}
}

func (s *workflowSteps) Now(ctx workflow.Context) time.Time { return workflow.Now(ctx) }

func (s *workflowSteps) Logger(ctx workflow.Context) log.Logger { return workflow.GetLogger(ctx) }

// stepError is an activity failure reduced to the step's own message. The
// activity error stays reachable through Unwrap.
type stepError struct {
	msg   string
	stack []byte
	cause error
}

func (e *stepError) Error() string { return e.msg }
func (e *stepError) Unwrap() error { return e.cause }

func unwrapStepError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *temporal.ApplicationError
	if !errors.As(err, &appErr) {
		return err
	}
	se := &stepError{msg: appErr.Message(), cause: err}
	if appErr.Type() == activities.StepErrorType && appErr.HasDetails() {
		var stack string
		if derr := appErr.Details(&stack); derr == nil {
			se.stack = []byte(stack)
		}
	}
	return se
}
