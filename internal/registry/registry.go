package registry

import (
	"github.com/Kocoro-lab/deepresearch/internal/activities"
	"github.com/Kocoro-lab/deepresearch/internal/constants"
	"github.com/Kocoro-lab/deepresearch/internal/research"
	"github.com/Kocoro-lab/deepresearch/internal/workflows"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"
)

// ResearchRegistry implements the Registry interface
type ResearchRegistry struct {
	components research.Components
	logger     *zap.Logger
}

var _ Registry = (*ResearchRegistry)(nil)

// NewResearchRegistry creates a new registry instance
func NewResearchRegistry(c research.Components, logger *zap.Logger) *ResearchRegistry {
	return &ResearchRegistry{components: c, logger: logger}
}

// RegisterWorkflows registers the research workflow
func (r *ResearchRegistry) RegisterWorkflows(w Target) error {
	w.RegisterWorkflowWithOptions(workflows.ResearchWorkflow, workflow.RegisterOptions{
		Name: constants.ResearchWorkflowName,
	})
	r.logger.Info("Registered workflows", zap.String("workflow", constants.ResearchWorkflowName))
	return nil
}

// RegisterActivities registers the research step and bookkeeping activities
func (r *ResearchRegistry) RegisterActivities(w Target) error {
	acts := activities.NewActivities(r.components, r.logger)

	named := []struct {
		fn   interface{}
		name string
	}{
		{acts.PlanQueries, constants.PlanQueriesActivity},
		{acts.FetchEvidence, constants.FetchEvidenceActivity},
		{acts.ExtractLearnings, constants.ExtractLearningsActivity},
		{acts.WriteReport, constants.WriteReportActivity},
		{acts.RecordStatus, constants.RecordStatusActivity},
		{acts.CompleteJob, constants.CompleteJobActivity},
		{acts.FailJob, constants.FailJobActivity},
		{acts.ReleaseEvidence, constants.ReleaseEvidenceActivity},
	}
	for _, a := range named {
		w.RegisterActivityWithOptions(a.fn, activity.RegisterOptions{Name: a.name})
	}
	r.logger.Info("Registered activities", zap.Int("count", len(named)))
	return nil
}
