package research

import (
	"errors"
	"fmt"
	"strings"
)

// RunJob runs one job end to end on any executor: a web pass and/or an index
// pass into one accumulator, then the report. Any failure is recorded as a
// status event, persisted as the job's result, and returned.
func RunJob[C any](ctx C, steps JobSteps[C], job JobSnapshot) (report string, err error) {
	start := steps.Now(ctx)
	logger := steps.Logger(ctx)
	defer steps.ReleaseEvidence(ctx, job.ID)

	defer func() {
		if err == nil {
			return
		}
		logger.Error("research job failed", "job_id", job.ID, "error", err)
		steps.RecordStatus(ctx, job.ID, fmt.Sprintf("research failed: %v", err))
		if ferr := steps.FailJob(ctx, job.ID, err); ferr != nil {
			logger.Error("failed to mark job failed", "job_id", job.ID, "error", ferr)
		}
	}()

	steps.RecordStatus(ctx, job.ID, fmt.Sprintf("starting research: %s", job.Query))

	fullQuery := FullQuery(job.Query, job.Questions)
	acc := NewAccumulator(job.SeedLearnings(), nil)
	driver := NewDriver[C](steps)

	for _, pass := range passes(job) {
		logger.Info("research pass", "job_id", job.ID, "kind", string(pass.Kind), "breadth", job.Breadth, "depth", job.Depth)
		pass.JobID = job.ID
		pass.Query = fullQuery
		pass.Breadth = job.Breadth
		pass.Depth = job.Depth
		if _, err = driver.DeepResearch(ctx, pass, acc); err != nil {
			return "", err
		}
	}

	steps.RecordStatus(ctx, job.ID, "writing final report")
	report, err = steps.WriteReport(ctx, ReportInput{
		JobID:          job.ID,
		Prompt:         fullQuery,
		Learnings:      acc.Learnings,
		VisitedSources: acc.VisitedSources,
	})
	if err != nil {
		return "", err
	}

	duration := steps.Now(ctx).Sub(start)
	if err = steps.CompleteJob(ctx, job.ID, report, duration); err != nil {
		return "", err
	}
	logger.Info("research job completed", "job_id", job.ID, "learnings", len(acc.Learnings), "sources", len(acc.VisitedSources), "duration", duration)
	return report, nil
}

func passes(job JobSnapshot) []Request {
	var out []Request
	if job.WebSearch {
		out = append(out, Request{Kind: EvidenceWeb})
	}
	if job.IndexID != "" {
		out = append(out, Request{Kind: EvidenceIndex, IndexID: job.IndexID})
	}
	return out
}

// FailureReport renders the text stored as a failed job's result: the error,
// each distinct cause in the chain, and the stack when one was captured.
func FailureReport(err error, stack []byte) string {
	var sb strings.Builder
	sb.WriteString("Error: ")
	sb.WriteString(err.Error())

	prev := err.Error()
	for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
		msg := cause.Error()
		if msg == prev || strings.HasSuffix(prev, msg) {
			prev = msg
			continue
		}
		sb.WriteString("\nCaused by: ")
		sb.WriteString(msg)
		prev = msg
	}
	if len(stack) > 0 {
		sb.WriteString("\n\nStack:\n")
		sb.Write(stack)
	}
	return sb.String()
}
