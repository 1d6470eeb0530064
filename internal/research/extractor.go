package research

import (
	"context"
	"strings"
	"time"

	"github.com/Kocoro-lab/deepresearch/internal/llm"
)

const (
	DefaultNumLearnings   = 5
	DefaultNumFollowUps   = 5
	DefaultExtractTimeout = 60 * time.Second
)

// Extractor turns one query's documents into learnings and follow-ups.
type Extractor struct {
	gen     Generation
	timeout time.Duration
}

// NewExtractor builds an Extractor. timeout <= 0 uses DefaultExtractTimeout.
func NewExtractor(gen Generation, timeout time.Duration) *Extractor {
	if timeout <= 0 {
		timeout = DefaultExtractTimeout
	}
	return &Extractor{gen: gen, timeout: timeout}
}

func learningSchema(numLearnings, numFollowUps int) *llm.Schema {
	return llm.Object(map[string]*llm.Schema{
		"learnings":         llm.StringArray("List of learnings", numLearnings),
		"followUpQuestions": llm.StringArray("Follow-up questions to research the topic further", numFollowUps),
	}, "learnings", "followUpQuestions")
}

// ProcessSerpResult extracts up to numLearnings learnings and numFollowUps
// follow-up questions from docs. Bounds <= 0 fall back to the defaults. Each
// generation call, the fallback included, gets the full extractor timeout.
func (e *Extractor) ProcessSerpResult(ctx context.Context, query string, docs []Document, numLearnings, numFollowUps int) (LearningBatch, error) {
	if numLearnings <= 0 {
		numLearnings = DefaultNumLearnings
	}
	if numFollowUps <= 0 {
		numFollowUps = DefaultNumFollowUps
	}

	contents := make([]string, 0, len(docs))
	for _, d := range docs {
		if strings.TrimSpace(d.Content) == "" {
			continue
		}
		contents = append(contents, d.Content)
	}

	system := researchSystemPrompt(e.gen.now())
	user := extractorPrompt(query, contents, numLearnings, numFollowUps)
	schema := learningSchema(numLearnings, numFollowUps)

	ids := e.gen.ids()
	batch, err := Invoke(ctx, ids.Primary, ids.Fallback,
		func(ctx context.Context, id llm.Identity) (LearningBatch, error) {
			ctx, cancel := context.WithTimeout(ctx, e.timeout)
			defer cancel()
			var out LearningBatch
			err := e.gen.Client.GenerateStructured(ctx, id, system, user, schema, &out)
			return out, err
		})
	if err != nil {
		return LearningBatch{}, err
	}

	if len(batch.Learnings) > numLearnings {
		batch.Learnings = batch.Learnings[:numLearnings]
	}
	if len(batch.FollowUpQuestions) > numFollowUps {
		batch.FollowUpQuestions = batch.FollowUpQuestions[:numFollowUps]
	}
	return batch, nil
}
