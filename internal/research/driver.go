package research

import (
	"fmt"
)

// DefaultResultLimit is how many documents one evidence search returns.
const DefaultResultLimit = 5

// Request is one top-level driver invocation.
type Request struct {
	JobID   string
	Query   string
	Breadth int
	Depth   int
	Kind    EvidenceKind
	IndexID string
	// ResultLimit caps documents per search; defaults to DefaultResultLimit.
	ResultLimit int
}

// Driver runs the recursive plan, search, extract loop over any executor.
type Driver[C any] struct {
	steps Steps[C]
}

func NewDriver[C any](steps Steps[C]) *Driver[C] {
	return &Driver[C]{steps: steps}
}

// DeepResearch runs req and appends everything it learns to acc, which is
// also returned. A planner or extractor failure aborts and is returned
// untouched; evidence failures only skip their query.
func (d *Driver[C]) DeepResearch(ctx C, req Request, acc *Accumulator) (*Accumulator, error) {
	if req.Breadth < 0 || req.Depth < 0 {
		return acc, ErrInvalidBudget
	}
	if acc == nil {
		acc = NewAccumulator(nil, nil)
	}
	if req.ResultLimit <= 0 {
		req.ResultLimit = DefaultResultLimit
	}
	err := d.level(ctx, req, req.Query, req.Breadth, req.Depth, acc)
	return acc, err
}

func (d *Driver[C]) level(ctx C, req Request, prompt string, breadth, depth int, acc *Accumulator) error {
	if depth == 0 {
		return nil
	}
	logger := d.steps.Logger(ctx)

	queries, err := d.steps.PlanQueries(ctx, PlanInput{
		JobID:      req.JobID,
		Prompt:     prompt,
		Learnings:  acc.LearningsSnapshot(),
		NumQueries: breadth,
	})
	if err != nil {
		return err
	}
	if len(queries) > breadth {
		queries = queries[:breadth]
	}
	logger.Debug("planned queries", "job_id", req.JobID, "depth", depth, "breadth", breadth, "count", len(queries))

	for _, q := range queries {
		d.steps.RecordStatus(ctx, req.JobID, fmt.Sprintf("executing search for query: %s", q.Query))

		docs, err := d.steps.FetchEvidence(ctx, EvidenceInput{
			JobID:   req.JobID,
			Kind:    req.Kind,
			IndexID: req.IndexID,
			Query:   q.Query,
			Limit:   req.ResultLimit,
		})
		if err != nil {
			logger.Warn("evidence search failed", "job_id", req.JobID, "query", q.Query, "error", err)
			d.steps.RecordStatus(ctx, req.JobID, fmt.Sprintf("error searching for query: %s: %v", q.Query, err))
			continue
		}
		if len(docs) == 0 {
			logger.Debug("no evidence for query", "job_id", req.JobID, "query", q.Query)
			continue
		}

		newBreadth := NextBreadth(breadth)
		newDepth := depth - 1

		batch, err := d.steps.ExtractLearnings(ctx, ExtractInput{
			JobID:        req.JobID,
			Query:        q.Query,
			Documents:    docs,
			NumLearnings: DefaultNumLearnings,
			NumFollowUps: newBreadth,
		})
		if err != nil {
			return err
		}
		acc.AddBatch(batch, docs)

		if newDepth > 0 {
			next := ContinuationPrompt(q.ResearchGoal, batch.FollowUpQuestions)
			if err := d.level(ctx, req, next, newBreadth, newDepth, acc); err != nil {
				return err
			}
		}
	}
	return nil
}

// NextBreadth is ceil(breadth/2).
func NextBreadth(breadth int) int {
	return (breadth + 1) / 2
}
