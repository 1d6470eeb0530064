package activities

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/deepresearch/internal/llm"
	"github.com/Kocoro-lab/deepresearch/internal/research"
)

// cannedClient answers every structured call with the same JSON.
type cannedClient struct {
	structured string
	text       string
	err        error
}

func (c *cannedClient) GenerateStructured(_ context.Context, _ llm.Identity, _, _ string, _ *llm.Schema, out interface{}) error {
	if c.err != nil {
		return c.err
	}
	return json.Unmarshal([]byte(c.structured), out)
}

func (c *cannedClient) GenerateText(context.Context, llm.Identity, string, string) (string, error) {
	return c.text, c.err
}

type memoryPool struct {
	docs     []research.Document
	err      error
	released []string
}

func (p *memoryPool) Search(context.Context, research.EvidenceInput) ([]research.Document, error) {
	return p.docs, p.err
}

func (p *memoryPool) Release(jobID string) error {
	p.released = append(p.released, jobID)
	return nil
}

type memoryStore struct {
	updates map[string]research.JobUpdate
	events  []string
}

func (m *memoryStore) UpdateStatus(_ context.Context, jobID string, upd research.JobUpdate) error {
	if m.updates == nil {
		m.updates = map[string]research.JobUpdate{}
	}
	m.updates[jobID] = upd
	return nil
}

func (m *memoryStore) Record(_ context.Context, _ string, message string) error {
	m.events = append(m.events, message)
	return nil
}

func newTestActivities(t *testing.T, client llm.Client, pool research.EvidencePool, store *memoryStore) (*Activities, *testsuite.TestActivityEnvironment) {
	gen := research.Generation{Client: client, Identities: llm.DefaultIdentities()}
	acts := NewActivities(research.NewComponents(gen, time.Minute, pool, store, store), zaptest.NewLogger(t))

	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestActivityEnvironment()
	env.RegisterActivity(acts)
	return acts, env
}

func TestPlanQueriesTruncates(t *testing.T) {
	client := &cannedClient{structured: `{"queries":[{"query":"a","researchGoal":"g"},{"query":"b","researchGoal":"g"},{"query":"c","researchGoal":"g"}]}`}
	acts, env := newTestActivities(t, client, &memoryPool{}, &memoryStore{})

	val, err := env.ExecuteActivity(acts.PlanQueries, research.PlanInput{JobID: "j", Prompt: "p", NumQueries: 2})
	require.NoError(t, err)
	var out []research.PlannedQuery
	require.NoError(t, val.Get(&out))
	assert.Len(t, out, 2)
}

func TestStepErrorKeepsMessageAndStack(t *testing.T) {
	client := &cannedClient{err: errors.New("You exceeded your current quota")}
	acts, env := newTestActivities(t, client, &memoryPool{}, &memoryStore{})

	_, err := env.ExecuteActivity(acts.PlanQueries, research.PlanInput{JobID: "j", Prompt: "p", NumQueries: 2})
	require.Error(t, err)
	assert.True(t, research.IsRateLimited(err))

	var appErr *temporal.ApplicationError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, StepErrorType, appErr.Type())
	var stack string
	require.NoError(t, appErr.Details(&stack))
	assert.Contains(t, stack, "goroutine")
}

func TestFetchEvidenceAndRelease(t *testing.T) {
	pool := &memoryPool{docs: []research.Document{{Source: "s", Content: "c"}}}
	acts, env := newTestActivities(t, &cannedClient{}, pool, &memoryStore{})

	val, err := env.ExecuteActivity(acts.FetchEvidence, research.EvidenceInput{JobID: "j", Kind: research.EvidenceWeb, Query: "q", Limit: 5})
	require.NoError(t, err)
	var docs []research.Document
	require.NoError(t, val.Get(&docs))
	assert.Equal(t, pool.docs, docs)

	_, err = env.ExecuteActivity(acts.ReleaseEvidence, "j")
	require.NoError(t, err)
	assert.Equal(t, []string{"j"}, pool.released)
}

func TestFetchEvidenceError(t *testing.T) {
	pool := &memoryPool{err: errors.New("search failed: timeout")}
	acts, env := newTestActivities(t, &cannedClient{}, pool, &memoryStore{})

	_, err := env.ExecuteActivity(acts.FetchEvidence, research.EvidenceInput{JobID: "j", Kind: research.EvidenceWeb, Query: "q"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search failed: timeout")
}

func TestBookkeeping(t *testing.T) {
	store := &memoryStore{}
	acts, env := newTestActivities(t, &cannedClient{}, &memoryPool{}, store)

	_, err := env.ExecuteActivity(acts.RecordStatus, RecordStatusInput{JobID: "j", Message: "hello"})
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, store.events)

	_, err = env.ExecuteActivity(acts.CompleteJob, CompleteJobInput{JobID: "j", Report: "r", Duration: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, research.JobUpdate{Status: research.StatusCompleted, Result: "r", Duration: time.Minute}, store.updates["j"])

	_, err = env.ExecuteActivity(acts.FailJob, FailJobInput{JobID: "k", Result: "Error: x"})
	require.NoError(t, err)
	assert.Equal(t, research.StatusFailed, store.updates["k"].Status)
}

func TestWriteReportAppendsSources(t *testing.T) {
	acts, env := newTestActivities(t, &cannedClient{text: "# R"}, &memoryPool{}, &memoryStore{})

	val, err := env.ExecuteActivity(acts.WriteReport, research.ReportInput{JobID: "j", Prompt: "p", Learnings: []string{"l"}, VisitedSources: []string{"a", "b", "a"}})
	require.NoError(t, err)
	var report string
	require.NoError(t, val.Get(&report))
	assert.Contains(t, report, "## Sources\n\n- a\n- b")
}
