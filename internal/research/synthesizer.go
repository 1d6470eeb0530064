package research

import (
	"context"
	"strings"

	"github.com/Kocoro-lab/deepresearch/internal/llm"
)

// SourcesHeader separates the generated report from the source list.
const SourcesHeader = "\n\n\n\n## Sources\n\n"

// Synthesizer writes the final report.
type Synthesizer struct {
	gen Generation
}

func NewSynthesizer(gen Generation) *Synthesizer {
	return &Synthesizer{gen: gen}
}

// WriteFinalReport generates the report with the deep identity (falling back
// on quota errors) and appends the deduplicated sources.
func (s *Synthesizer) WriteFinalReport(ctx context.Context, prompt string, learnings, visitedSources []string) (string, error) {
	system := researchSystemPrompt(s.gen.now())
	user := reportPrompt(prompt, learnings)

	ids := s.gen.ids()
	text, err := Invoke(ctx, ids.Deep, ids.Fallback,
		func(ctx context.Context, id llm.Identity) (string, error) {
			return s.gen.Client.GenerateText(ctx, id, system, user)
		})
	if err != nil {
		return "", err
	}
	return text + SourcesSection(visitedSources), nil
}

// SourcesSection renders the header and one "- <source>" line per distinct
// source, in first-seen order.
func SourcesSection(sources []string) string {
	deduped := DedupSources(sources)
	lines := make([]string, len(deduped))
	for i, s := range deduped {
		lines[i] = "- " + s
	}
	return SourcesHeader + strings.Join(lines, "\n")
}
