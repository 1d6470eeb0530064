package research

import (
	"context"

	"github.com/Kocoro-lab/deepresearch/internal/llm"
	"github.com/Kocoro-lab/deepresearch/internal/metrics"
)

// Invoke calls fn with the primary identity. If that fails with a rate-limit
// signature it calls fn exactly once more with the fallback identity and
// returns that outcome as is. Any other failure is returned unchanged.
func Invoke[T any](ctx context.Context, primary, fallback llm.Identity, fn func(context.Context, llm.Identity) (T, error)) (T, error) {
	out, err := fn(ctx, primary)
	if err == nil {
		return out, nil
	}
	if !IsRateLimited(err) {
		return out, err
	}
	metrics.FallbackSubstitutions.WithLabelValues(primary.String(), fallback.String()).Inc()
	return fn(ctx, fallback)
}
