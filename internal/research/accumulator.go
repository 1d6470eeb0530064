package research

// Accumulator collects learnings and visited sources across one top-level
// driver invocation. Learnings keep duplicates; sources are deduplicated only
// when the report is written.
type Accumulator struct {
	Learnings      []string `json:"learnings"`
	VisitedSources []string `json:"visited_sources"`
}

// NewAccumulator seeds an accumulator. The inputs are copied.
func NewAccumulator(learnings, visited []string) *Accumulator {
	acc := &Accumulator{}
	acc.Learnings = append(acc.Learnings, learnings...)
	acc.VisitedSources = append(acc.VisitedSources, visited...)
	return acc
}

// AddBatch appends the batch learnings and the documents' sources.
func (a *Accumulator) AddBatch(batch LearningBatch, docs []Document) {
	a.Learnings = append(a.Learnings, batch.Learnings...)
	for _, d := range docs {
		if d.Source != "" {
			a.VisitedSources = append(a.VisitedSources, d.Source)
		}
	}
}

// Merge appends another accumulator's contents.
func (a *Accumulator) Merge(other *Accumulator) {
	if other == nil {
		return
	}
	a.Learnings = append(a.Learnings, other.Learnings...)
	a.VisitedSources = append(a.VisitedSources, other.VisitedSources...)
}

// LearningsSnapshot returns a copy safe to hand to a step.
func (a *Accumulator) LearningsSnapshot() []string {
	if len(a.Learnings) == 0 {
		return nil
	}
	out := make([]string, len(a.Learnings))
	copy(out, a.Learnings)
	return out
}

// DedupSources keeps the first occurrence of each source, in order.
func DedupSources(sources []string) []string {
	seen := make(map[string]struct{}, len(sources))
	out := make([]string, 0, len(sources))
	for _, s := range sources {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
