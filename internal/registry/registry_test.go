package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/deepresearch/internal/constants"
	"github.com/Kocoro-lab/deepresearch/internal/llm"
	"github.com/Kocoro-lab/deepresearch/internal/research"
	"github.com/Kocoro-lab/deepresearch/internal/workflows"
)

type reportOnly struct{}

func (reportOnly) GenerateStructured(context.Context, llm.Identity, string, string, *llm.Schema, interface{}) error {
	return nil
}

func (reportOnly) GenerateText(context.Context, llm.Identity, string, string) (string, error) {
	return "# Findings", nil
}

type sink struct {
	statuses []string
	final    research.JobUpdate
}

func (s *sink) Record(_ context.Context, _ string, m string) error {
	s.statuses = append(s.statuses, m)
	return nil
}

func (s *sink) UpdateStatus(_ context.Context, _ string, u research.JobUpdate) error {
	s.final = u
	return nil
}

// A workflow driven entirely by the registered activities.
func TestRegisteredWorkerRunsWorkflow(t *testing.T) {
	s := &sink{}
	gen := research.Generation{Client: reportOnly{}, Identities: llm.DefaultIdentities()}
	reg := NewResearchRegistry(research.NewComponents(gen, time.Minute, nil, s, s), zaptest.NewLogger(t))

	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	require.NoError(t, reg.RegisterWorkflows(env))
	require.NoError(t, reg.RegisterActivities(env))

	job := research.JobSnapshot{ID: "j", Query: "q", InitialLearnings: "seed one\nseed two"}
	env.ExecuteWorkflow(constants.ResearchWorkflowName, workflows.ResearchInput{Job: job})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	assert.Equal(t, research.StatusCompleted, s.final.Status)
	assert.Contains(t, s.final.Result, "# Findings")
	assert.Equal(t, []string{"starting research: q", "writing final report"}, s.statuses)
}
