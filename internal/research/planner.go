package research

import (
	"context"

	"github.com/Kocoro-lab/deepresearch/internal/llm"
)

// DefaultNumQueries is used when the caller passes no breadth.
const DefaultNumQueries = 5

// Planner turns a research prompt into search queries.
type Planner struct {
	gen Generation
}

func NewPlanner(gen Generation) *Planner {
	return &Planner{gen: gen}
}

type plannedQueries struct {
	Queries []PlannedQuery `json:"queries"`
}

func querySchema(numQueries int) *llm.Schema {
	list := &llm.Schema{
		Type:        llm.TypeArray,
		Description: "List of search queries",
		Items: llm.Object(map[string]*llm.Schema{
			"query":        {Type: llm.TypeString, Description: "The search query"},
			"researchGoal": {Type: llm.TypeString, Description: "What this query should find out, and how research should continue once results are in"},
		}, "query", "researchGoal"),
	}
	if numQueries > 0 {
		n := int64(numQueries)
		list.MaxItems = &n
	}
	return llm.Object(map[string]*llm.Schema{"queries": list}, "queries")
}

// GenerateSerpQueries asks for at most numQueries queries. The result is cut
// to numQueries whatever the model returns.
func (p *Planner) GenerateSerpQueries(ctx context.Context, prompt string, learnings []string, numQueries int) ([]PlannedQuery, error) {
	if numQueries < 0 {
		return nil, ErrInvalidBudget
	}
	if numQueries == 0 {
		return nil, nil
	}
	system := researchSystemPrompt(p.gen.now())
	user := plannerPrompt(prompt, learnings, numQueries)
	schema := querySchema(numQueries)

	ids := p.gen.ids()
	res, err := Invoke(ctx, ids.Primary, ids.Fallback,
		func(ctx context.Context, id llm.Identity) (plannedQueries, error) {
			var out plannedQueries
			err := p.gen.Client.GenerateStructured(ctx, id, system, user, schema, &out)
			return out, err
		})
	if err != nil {
		return nil, err
	}

	queries := make([]PlannedQuery, 0, len(res.Queries))
	for _, q := range res.Queries {
		if q.Query == "" {
			continue
		}
		queries = append(queries, q)
	}
	if len(queries) > numQueries {
		queries = queries[:numQueries]
	}
	return queries, nil
}
