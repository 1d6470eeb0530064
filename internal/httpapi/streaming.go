package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/deepresearch/internal/streaming"
)

// Streams delivers live status events.
type Streams interface {
	Stream(ctx context.Context, jobID string, since uint64) <-chan streaming.Event
	Delete(ctx context.Context, jobID string) error
}

// lastEventID reads the resume point from the Last-Event-ID header or the
// last_event_id query parameter.
func lastEventID(r *http.Request) uint64 {
	for _, v := range []string{r.Header.Get("Last-Event-ID"), r.URL.Query().Get("last_event_id")} {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

// events returns the event source for a job. Finished jobs replay their
// persisted history followed by a done event; live jobs follow the stream.
func (h *ResearchHandler) events(ctx context.Context, jobID string, since uint64) (<-chan streaming.Event, error) {
	job, err := h.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.Status.Terminal() && h.streams != nil {
		return h.streams.Stream(ctx, jobID, since), nil
	}

	history, err := h.store.StatusHistory(ctx, jobID)
	if err != nil {
		return nil, err
	}
	out := make(chan streaming.Event, len(history)+1)
	var seq uint64
	for _, ev := range history {
		seq++
		if seq <= since {
			continue
		}
		out <- streaming.Event{JobID: jobID, Type: streaming.TypeStatus, Message: ev.Message, Timestamp: ev.Timestamp, Seq: seq}
	}
	if job.Status.Terminal() {
		seq++
		out <- streaming.Event{JobID: jobID, Type: streaming.TypeDone, Message: string(job.Status), Timestamp: time.Now(), Seq: seq}
	}
	close(out)
	return out, nil
}

// handleSSE streams status events via Server-Sent Events.
// GET /api/research/{id}/stream
func (h *ResearchHandler) handleSSE(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	ctx := r.Context()
	ch, err := h.events(ctx, id, lastEventID(r))
	if err != nil {
		h.writeStoreError(w, "stream", err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, ": connected to research job %s\n\n", id)
	flusher.Flush()

	hb := time.NewTicker(15 * time.Second)
	defer hb.Stop()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected", zap.String("job_id", id))
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "id: %d\n", evt.Seq)
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", evt.Marshal())
			flusher.Flush()
		case <-hb.C:
			// keeps proxies from closing idle connections
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}
