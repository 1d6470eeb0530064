package constants

// Activity names used for workflow registration and execution.
const (
	// Research step activities
	PlanQueriesActivity      = "PlanQueries"
	FetchEvidenceActivity    = "FetchEvidence"
	ExtractLearningsActivity = "ExtractLearnings"
	WriteReportActivity      = "WriteReport"

	// Job bookkeeping activities
	RecordStatusActivity    = "RecordStatus"
	CompleteJobActivity     = "CompleteJob"
	FailJobActivity         = "FailJob"
	ReleaseEvidenceActivity = "ReleaseEvidence"
)

// Workflow names and the task queue they run on.
const (
	ResearchWorkflowName = "ResearchWorkflow"
	DefaultTaskQueue     = "deep-research"
)
