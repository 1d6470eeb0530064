package research

import (
	"time"

	"github.com/Kocoro-lab/deepresearch/internal/llm"
)

// Generation bundles what every prompt-driven step needs.
type Generation struct {
	Client     llm.Client
	Identities llm.Identities
	// Live, when set, replaces Identities and is read on every call so
	// reloaded model settings apply to running jobs.
	Live *llm.IdentitySet
	// Now stamps the system prompt; defaults to time.Now.
	Now func() time.Time
}

func (g Generation) ids() llm.Identities {
	if g.Live != nil {
		return g.Live.Load()
	}
	return g.Identities
}

func (g Generation) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}
