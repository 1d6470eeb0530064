package opts

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// GenerationActivityOptions are used for planner and extractor calls. The
// generation client already substitutes the fallback identity once, so the
// activity itself is never retried.
func GenerationActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 3 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	}
}

// EvidenceActivityOptions are used for evidence searches. A failed search
// skips its query.
func EvidenceActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 3 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	}
}

// ReportActivityOptions are used for the final synthesis.
func ReportActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	}
}

// BookkeepingActivityOptions are used for status and job-store writes.
func BookkeepingActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    10 * time.Second,
			MaximumAttempts:    5,
		},
	}
}

// WithGenerationOptions applies GenerationActivityOptions to a context
func WithGenerationOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, GenerationActivityOptions())
}

// WithBookkeepingOptions applies BookkeepingActivityOptions to a context
func WithBookkeepingOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, BookkeepingActivityOptions())
}
