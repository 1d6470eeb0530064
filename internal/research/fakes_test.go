package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Kocoro-lab/deepresearch/internal/llm"
	"github.com/Kocoro-lab/deepresearch/internal/temporal"
	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
)

// scriptedClient answers generation calls from a queue per identity name.
type scriptedClient struct {
	mu       sync.Mutex
	replies  map[string][]reply
	calls    []clientCall
	fallback func(id llm.Identity, prompt string) reply
}

type reply struct {
	value interface{}
	text  string
	err   error
}

type clientCall struct {
	Identity llm.Identity
	System   string
	Prompt   string
	Schema   *llm.Schema
}

func newScriptedClient() *scriptedClient {
	return &scriptedClient{replies: make(map[string][]reply)}
}

func (c *scriptedClient) push(identity string, r reply) *scriptedClient {
	c.replies[identity] = append(c.replies[identity], r)
	return c
}

func (c *scriptedClient) next(id llm.Identity, system, prompt string, schema *llm.Schema) reply {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, clientCall{Identity: id, System: system, Prompt: prompt, Schema: schema})
	q := c.replies[id.Name]
	if len(q) == 0 {
		if c.fallback != nil {
			return c.fallback(id, prompt)
		}
		return reply{err: fmt.Errorf("unexpected call for %s", id.Name)}
	}
	r := q[0]
	c.replies[id.Name] = q[1:]
	return r
}

func (c *scriptedClient) GenerateStructured(_ context.Context, id llm.Identity, system, prompt string, schema *llm.Schema, out interface{}) error {
	r := c.next(id, system, prompt, schema)
	if r.err != nil {
		return r.err
	}
	b, err := json.Marshal(r.value)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func (c *scriptedClient) GenerateText(_ context.Context, id llm.Identity, system, prompt string) (string, error) {
	r := c.next(id, system, prompt, nil)
	return r.text, r.err
}

func testGeneration(c llm.Client) Generation {
	return Generation{
		Client: c,
		Identities: llm.Identities{
			Primary:  llm.Identity{Name: "primary", Provider: llm.ProviderGemini, Model: "p"},
			Fallback: llm.Identity{Name: "fallback", Provider: llm.ProviderGemini, Model: "f"},
			Deep:     llm.Identity{Name: "deep", Provider: llm.ProviderGemini, Model: "d"},
		},
		Now: func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) },
	}
}

var errQuota = errors.New("You exceeded your current quota, please check your plan and billing details")

// fakeSteps is a scripted in-process executor recording every step.
type fakeSteps struct {
	plan     func(in PlanInput) ([]PlannedQuery, error)
	evidence func(in EvidenceInput) ([]Document, error)
	extract  func(in ExtractInput) (LearningBatch, error)
	report   func(in ReportInput) (string, error)

	plans    []PlanInput
	searches []EvidenceInput
	extracts []ExtractInput
	statuses []string
	released []string

	completed *JobUpdate
	failed    error
	clock     time.Time
}

func (f *fakeSteps) PlanQueries(_ context.Context, in PlanInput) ([]PlannedQuery, error) {
	f.plans = append(f.plans, in)
	return f.plan(in)
}

func (f *fakeSteps) FetchEvidence(_ context.Context, in EvidenceInput) ([]Document, error) {
	f.searches = append(f.searches, in)
	return f.evidence(in)
}

func (f *fakeSteps) ExtractLearnings(_ context.Context, in ExtractInput) (LearningBatch, error) {
	f.extracts = append(f.extracts, in)
	return f.extract(in)
}

func (f *fakeSteps) RecordStatus(_ context.Context, _ string, message string) {
	f.statuses = append(f.statuses, message)
}

func (f *fakeSteps) Logger(context.Context) log.Logger { return temporal.NewZapAdapter(zap.NewNop()) }

func (f *fakeSteps) WriteReport(_ context.Context, in ReportInput) (string, error) {
	return f.report(in)
}

func (f *fakeSteps) CompleteJob(_ context.Context, _ string, report string, d time.Duration) error {
	f.completed = &JobUpdate{Status: StatusCompleted, Result: report, Duration: d}
	return nil
}

func (f *fakeSteps) FailJob(_ context.Context, _ string, cause error) error {
	f.failed = cause
	return nil
}

func (f *fakeSteps) ReleaseEvidence(_ context.Context, jobID string) {
	f.released = append(f.released, jobID)
}

func (f *fakeSteps) Now(context.Context) time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

// numberedPlanner returns exactly n queries named after the prompt.
func numberedPlanner(in PlanInput) ([]PlannedQuery, error) {
	out := make([]PlannedQuery, in.NumQueries)
	for i := range out {
		out[i] = PlannedQuery{Query: fmt.Sprintf("q%d[%s]", i, in.Prompt), ResearchGoal: fmt.Sprintf("goal%d", i)}
	}
	return out, nil
}

func oneDoc(in EvidenceInput) ([]Document, error) {
	return []Document{{Source: "src:" + in.Query, Content: "content for " + in.Query}}, nil
}

func learnOne(in ExtractInput) (LearningBatch, error) {
	fu := make([]string, in.NumFollowUps)
	for i := range fu {
		fu[i] = fmt.Sprintf("follow-up %d", i)
	}
	return LearningBatch{Learnings: []string{"learned:" + in.Query}, FollowUpQuestions: fu}, nil
}
