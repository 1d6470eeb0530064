package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func reportFromInput(in ReportInput) (string, error) {
	return fmt.Sprintf("report(%d learnings)%s", len(in.Learnings), SourcesSection(in.VisitedSources)), nil
}

func TestRunJobCompletes(t *testing.T) {
	steps := newFakeSteps()
	steps.report = reportFromInput
	job := JobSnapshot{ID: "job-1", Query: "q", Breadth: 2, Depth: 1, WebSearch: true, InitialLearnings: "seed"}

	report, err := RunJob[context.Context](context.Background(), steps, job)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(report, "report(3 learnings)"))
	require.NotNil(t, steps.completed)
	assert.Equal(t, report, steps.completed.Result)
	assert.Equal(t, time.Second, steps.completed.Duration)
	assert.Nil(t, steps.failed)
	assert.Equal(t, []string{"job-1"}, steps.released)

	assert.Equal(t, "starting research: q", steps.statuses[0])
	assert.Equal(t, "writing final report", steps.statuses[len(steps.statuses)-1])
}

func TestRunJobMergesWebAndIndexPasses(t *testing.T) {
	steps := newFakeSteps()
	var got ReportInput
	steps.report = func(in ReportInput) (string, error) { got = in; return "r", nil }
	job := JobSnapshot{ID: "j", Query: "q", Breadth: 1, Depth: 1, WebSearch: true, IndexID: "papers",
		Questions: []QA{{Question: "scope?", Answer: "EU"}}}

	_, err := RunJob[context.Context](context.Background(), steps, job)
	require.NoError(t, err)

	require.Len(t, steps.searches, 2)
	assert.Equal(t, EvidenceWeb, steps.searches[0].Kind)
	assert.Equal(t, EvidenceIndex, steps.searches[1].Kind)
	assert.Equal(t, "papers", steps.searches[1].IndexID)
	assert.Len(t, got.Learnings, 2)
	assert.Len(t, got.VisitedSources, 2)
	assert.Equal(t, "Initial Query: q\nFollowup Q&A:\nQ: scope?\nA: EU", got.Prompt)
	assert.Equal(t, got.Prompt, steps.plans[0].Prompt)
}

func TestRunJobWithoutEvidenceUsesSeedsOnly(t *testing.T) {
	steps := newFakeSteps()
	var got ReportInput
	steps.report = func(in ReportInput) (string, error) { got = in; return "r", nil }

	_, err := RunJob[context.Context](context.Background(), steps, JobSnapshot{ID: "j", Query: "q", Breadth: 3, Depth: 2, InitialLearnings: "a\nb"})
	require.NoError(t, err)
	assert.Empty(t, steps.plans)
	assert.Equal(t, []string{"a", "b"}, got.Learnings)
}

func TestRunJobFailureIsRecordedAndReturned(t *testing.T) {
	steps := newFakeSteps()
	planErr := errors.New("planner exploded")
	steps.plan = func(PlanInput) ([]PlannedQuery, error) { return nil, planErr }

	_, err := RunJob[context.Context](context.Background(), steps, JobSnapshot{ID: "j", Query: "q", Breadth: 1, Depth: 1, WebSearch: true})
	assert.Same(t, planErr, err)
	assert.Same(t, planErr, steps.failed)
	assert.Nil(t, steps.completed)
	assert.Equal(t, "research failed: planner exploded", steps.statuses[len(steps.statuses)-1])
	assert.Equal(t, []string{"j"}, steps.released)
}

func TestRunJobReportFailure(t *testing.T) {
	steps := newFakeSteps()
	repErr := errors.New("deep model down")
	steps.report = func(ReportInput) (string, error) { return "", repErr }

	_, err := RunJob[context.Context](context.Background(), steps, JobSnapshot{ID: "j", Query: "q", Breadth: 1, Depth: 1, WebSearch: true})
	assert.Same(t, repErr, err)
	assert.Same(t, repErr, steps.failed)
}

func TestFailureReport(t *testing.T) {
	root := errors.New("connection refused")
	err := fmt.Errorf("activity error (type: PlanQueries): %w", fmt.Errorf("llm primary: %w", root))

	out := FailureReport(err, []byte("goroutine 1 [running]:"))
	assert.True(t, strings.HasPrefix(out, "Error: activity error (type: PlanQueries): llm primary: connection refused"))
	assert.Contains(t, out, "\n\nStack:\ngoroutine 1 [running]:")
	assert.NotContains(t, out, "Caused by", "suffix causes add nothing")

	opaque := &wrapped{msg: "step failed", cause: root}
	assert.Contains(t, FailureReport(opaque, nil), "Caused by: connection refused")
}

type wrapped struct {
	msg   string
	cause error
}

func (w *wrapped) Error() string { return w.msg }
func (w *wrapped) Unwrap() error { return w.cause }

// memoryStore and memorySink back the local runner test.
type memoryStore struct {
	mu      sync.Mutex
	updates map[string]JobUpdate
}

func (m *memoryStore) UpdateStatus(_ context.Context, id string, upd JobUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updates == nil {
		m.updates = map[string]JobUpdate{}
	}
	m.updates[id] = upd
	return nil
}

type memorySink struct {
	mu     sync.Mutex
	events []string
}

func (m *memorySink) Record(_ context.Context, _ string, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, msg)
	return nil
}

type staticPool struct {
	docs     []Document
	released []string
	panicOn  string
}

func (p *staticPool) Search(_ context.Context, in EvidenceInput) ([]Document, error) {
	if p.panicOn != "" && in.Query == p.panicOn {
		panic("driver crashed")
	}
	return p.docs, nil
}

func (p *staticPool) Release(jobID string) error {
	p.released = append(p.released, jobID)
	return nil
}

func TestLocalRunnerEndToEnd(t *testing.T) {
	c := newScriptedClient().
		push("primary", reply{value: map[string]interface{}{"queries": []PlannedQuery{{Query: "solid state", ResearchGoal: "g"}}}}).
		push("primary", reply{err: errQuota}).
		push("fallback", reply{value: LearningBatch{Learnings: []string{"Toyota targets 2027"}}}).
		push("deep", reply{text: "# Report"})
	store := &memoryStore{}
	sink := &memorySink{}
	pool := &staticPool{docs: []Document{{Source: "https://a.example", Content: "body"}, {Source: "https://a.example", Content: "again"}}}

	r := NewLocalRunner(NewComponents(testGeneration(c), 0, pool, sink, store), zaptest.NewLogger(t))
	report, err := r.Run(context.Background(), JobSnapshot{ID: "job", Query: "batteries", Breadth: 1, Depth: 1, WebSearch: true})
	require.NoError(t, err)

	assert.Equal(t, "# Report\n\n\n\n## Sources\n\n- https://a.example", report)
	assert.Equal(t, StatusCompleted, store.updates["job"].Status)
	assert.Equal(t, []string{"job"}, pool.released)
	assert.Equal(t, []string{
		"starting research: batteries",
		"executing search for query: solid state",
		"writing final report",
	}, sink.events)
}

func TestLocalRunnerRecoversPanics(t *testing.T) {
	c := newScriptedClient().
		push("primary", reply{value: map[string]interface{}{"queries": []PlannedQuery{{Query: "boom"}}}})
	store := &memoryStore{}
	pool := &staticPool{panicOn: "boom"}

	r := NewLocalRunner(NewComponents(testGeneration(c), 0, pool, &memorySink{}, store), zaptest.NewLogger(t))
	_, err := r.Run(context.Background(), JobSnapshot{ID: "job", Query: "q", Breadth: 1, Depth: 1, WebSearch: true})
	require.Error(t, err)

	upd := store.updates["job"]
	assert.Equal(t, StatusFailed, upd.Status)
	assert.Contains(t, upd.Result, "driver crashed")
	assert.Contains(t, upd.Result, "Stack:")
	assert.Equal(t, []string{"job"}, pool.released)
}

func TestLocalRunnerFailureWithoutStepStack(t *testing.T) {
	store := &memoryStore{}
	r := NewLocalRunner(NewComponents(testGeneration(newScriptedClient()), 0, &staticPool{}, &memorySink{}, store), zaptest.NewLogger(t))

	_, err := r.Run(context.Background(), JobSnapshot{ID: "job", Query: "q", Breadth: 1, Depth: -1, WebSearch: true})
	require.Error(t, err)

	upd := store.updates["job"]
	assert.Equal(t, StatusFailed, upd.Status)
	assert.True(t, strings.HasPrefix(upd.Result, "Error: "))
	assert.Contains(t, upd.Result, "Stack:")
	assert.Contains(t, upd.Result, "goroutine")
}
