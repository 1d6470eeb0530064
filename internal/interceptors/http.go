// Package interceptors tags outgoing HTTP calls with the research job and
// workflow they were made for, so downstream services can correlate logs.
package interceptors

import (
	"context"
	"net/http"
	"time"

	"go.temporal.io/sdk/activity"
)

// Header names set on outgoing requests.
const (
	HeaderJobID      = "X-Research-Job-ID"
	HeaderWorkflowID = "X-Workflow-ID"
	HeaderRunID      = "X-Run-ID"
)

type jobIDKey struct{}

// WithJobID returns a context whose outgoing requests carry jobID.
func WithJobID(ctx context.Context, jobID string) context.Context {
	if jobID == "" {
		return ctx
	}
	return context.WithValue(ctx, jobIDKey{}, jobID)
}

// JobID returns the job id stored by WithJobID.
func JobID(ctx context.Context) string {
	id, _ := ctx.Value(jobIDKey{}).(string)
	return id
}

// WorkflowHTTPRoundTripper adds job and workflow metadata to outgoing HTTP requests
type WorkflowHTTPRoundTripper struct {
	base http.RoundTripper
}

// NewWorkflowHTTPRoundTripper wraps base; nil means http.DefaultTransport.
func NewWorkflowHTTPRoundTripper(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &WorkflowHTTPRoundTripper{base: base}
}

// RoundTrip implements http.RoundTripper. The request is cloned before its
// headers change.
func (w *WorkflowHTTPRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	headers := map[string]string{}
	if id := JobID(ctx); id != "" {
		headers[HeaderJobID] = id
	}
	if info, ok := activityInfo(ctx); ok {
		headers[HeaderWorkflowID] = info.WorkflowExecution.ID
		headers[HeaderRunID] = info.WorkflowExecution.RunID
	}
	if len(headers) == 0 {
		return w.base.RoundTrip(req)
	}
	out := req.Clone(ctx)
	for k, v := range headers {
		if v != "" {
			out.Header.Set(k, v)
		}
	}
	return w.base.RoundTrip(out)
}

// activityInfo reports the running activity, if any. GetInfo panics outside
// an activity context.
func activityInfo(ctx context.Context) (info activity.Info, ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	info = activity.GetInfo(ctx)
	return info, info.WorkflowExecution.ID != ""
}

// NewHTTPClient returns a client with timeout whose requests are tagged.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout, Transport: NewWorkflowHTTPRoundTripper(nil)}
}
