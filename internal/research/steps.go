package research

import (
	"time"

	"go.temporal.io/sdk/log"
)

// PlanInput is the planner step's input.
type PlanInput struct {
	JobID      string   `json:"job_id"`
	Prompt     string   `json:"prompt"`
	Learnings  []string `json:"learnings,omitempty"`
	NumQueries int      `json:"num_queries"`
}

// EvidenceInput is the evidence step's input.
type EvidenceInput struct {
	JobID string       `json:"job_id"`
	Kind  EvidenceKind `json:"kind"`
	// IndexID names the retrieval index for EvidenceIndex.
	IndexID string `json:"index_id,omitempty"`
	Query   string `json:"query"`
	Limit   int    `json:"limit"`
}

// ExtractInput is the extraction step's input.
type ExtractInput struct {
	JobID        string     `json:"job_id"`
	Query        string     `json:"query"`
	Documents    []Document `json:"documents"`
	NumLearnings int        `json:"num_learnings"`
	NumFollowUps int        `json:"num_follow_ups"`
}

// ReportInput is the synthesis step's input.
type ReportInput struct {
	JobID          string   `json:"job_id"`
	Prompt         string   `json:"prompt"`
	Learnings      []string `json:"learnings"`
	VisitedSources []string `json:"visited_sources"`
}

// Steps is what the recursive driver needs from an executor. C is the
// executor's context type: context.Context when running in-process, or a
// durable workflow context when each step is checkpointed.
type Steps[C any] interface {
	PlanQueries(ctx C, in PlanInput) ([]PlannedQuery, error)
	FetchEvidence(ctx C, in EvidenceInput) ([]Document, error)
	ExtractLearnings(ctx C, in ExtractInput) (LearningBatch, error)
	// RecordStatus is best effort; implementations log failures.
	RecordStatus(ctx C, jobID, message string)
	Logger(ctx C) log.Logger
}

// JobSteps adds the job-level steps the runner needs.
type JobSteps[C any] interface {
	Steps[C]
	WriteReport(ctx C, in ReportInput) (string, error)
	CompleteJob(ctx C, jobID, report string, duration time.Duration) error
	// FailJob persists cause as the job's result, see FailureReport.
	FailJob(ctx C, jobID string, cause error) error
	// ReleaseEvidence frees the job's evidence sessions.
	ReleaseEvidence(ctx C, jobID string)
	Now(ctx C) time.Time
}
