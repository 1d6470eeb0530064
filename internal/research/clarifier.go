package research

import (
	"context"
	"strings"

	"github.com/Kocoro-lab/deepresearch/internal/llm"
	"github.com/Kocoro-lab/deepresearch/internal/util"
)

// MaxClarifyingQuestions bounds Clarifier.Questions.
const MaxClarifyingQuestions = 5

const maxTitleLen = 80

// Clarifier produces the pre-research questions and a listing title.
type Clarifier struct {
	gen Generation
}

func NewClarifier(gen Generation) *Clarifier {
	return &Clarifier{gen: gen}
}

// Questions returns up to MaxClarifyingQuestions follow-up questions for query.
func (c *Clarifier) Questions(ctx context.Context, query string) ([]string, error) {
	system := clarifySystemPrompt(c.gen.now())
	user := clarifyPrompt(query, MaxClarifyingQuestions)
	schema := llm.Object(map[string]*llm.Schema{
		"questions": llm.StringArray("Follow-up questions to clarify the research direction", MaxClarifyingQuestions),
	}, "questions")

	ids := c.gen.ids()
	res, err := Invoke(ctx, ids.Primary, ids.Fallback,
		func(ctx context.Context, id llm.Identity) ([]string, error) {
			var out struct {
				Questions []string `json:"questions"`
			}
			err := c.gen.Client.GenerateStructured(ctx, id, system, user, schema, &out)
			return out.Questions, err
		})
	if err != nil {
		return nil, err
	}
	if len(res) > MaxClarifyingQuestions {
		res = res[:MaxClarifyingQuestions]
	}
	return res, nil
}

// Title summarizes query for listings. Generation failures fall back to a
// truncated query, so Title never fails.
func (c *Clarifier) Title(ctx context.Context, query string) string {
	ids := c.gen.ids()
	text, err := Invoke(ctx, ids.Primary, ids.Fallback,
		func(ctx context.Context, id llm.Identity) (string, error) {
			return c.gen.Client.GenerateText(ctx, id, "", titlePrompt(query))
		})
	title := strings.Trim(strings.TrimSpace(text), `"'.`)
	if err != nil || title == "" {
		title = strings.TrimSpace(query)
	}
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	return util.TruncateString(title, maxTitleLen, true)
}
