package llm

import (
	"errors"
	"fmt"
)

// ErrNoBackend is returned when an identity names an unconfigured provider.
var ErrNoBackend = errors.New("llm: no backend for provider")

// CallError is a failed generation call. The provider's message is kept
// verbatim so quota signatures survive wrapping.
type CallError struct {
	Identity   Identity
	StatusCode int
	Message    string
	Last       error
}

func (e *CallError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("llm %s: status %d: %s", e.Identity, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("llm %s: %s", e.Identity, e.Message)
}

func (e *CallError) Unwrap() error { return e.Last }

// LastError returns the underlying error reported by the backend.
func (e *CallError) LastError() error { return e.Last }
