package research

import (
	"errors"
	"strings"
)

// rateLimitSignatures are matched case-insensitively against every message in
// an error chain. This list is the only place the classification lives.
var rateLimitSignatures = []string{
	"exceeded your current quota",
	"quota exceeded",
	"resource_exhausted",
}

const maxChainWalk = 64

// lastErrorer is implemented by errors that carry the provider's last error.
type lastErrorer interface {
	LastError() error
}

// IsRateLimited reports whether err carries a quota-exhaustion signature in
// its message, any wrapped error, or an attached last error.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	// bounded walk; some error values are not comparable so no visited set
	queue := []error{err}
	for steps := 0; len(queue) > 0 && steps < maxChainWalk; steps++ {
		e := queue[0]
		queue = queue[1:]
		if e == nil {
			continue
		}

		if matchesRateLimit(e.Error()) {
			return true
		}
		if le, ok := e.(lastErrorer); ok {
			queue = append(queue, le.LastError())
		}
		switch u := e.(type) {
		case interface{ Unwrap() []error }:
			queue = append(queue, u.Unwrap()...)
		default:
			queue = append(queue, errors.Unwrap(e))
		}
	}
	return false
}

func matchesRateLimit(msg string) bool {
	msg = strings.ToLower(msg)
	for _, sig := range rateLimitSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
