// Package status persists job progress and fans it out to live streams.
package status

import (
	"context"
	"time"

	"github.com/Kocoro-lab/deepresearch/internal/metrics"
	"github.com/Kocoro-lab/deepresearch/internal/research"
	"github.com/Kocoro-lab/deepresearch/internal/streaming"
	"go.uber.org/zap"
)

// Store is the persistence the recorder writes through.
type Store interface {
	AppendStatus(ctx context.Context, ev research.StatusEvent) error
	UpdateStatus(ctx context.Context, jobID string, upd research.JobUpdate) error
}

// Publisher receives live events. *streaming.Manager implements it.
type Publisher interface {
	Publish(ctx context.Context, evt streaming.Event) streaming.Event
}

// Archiver keeps a copy of completed reports.
type Archiver interface {
	PutReport(ctx context.Context, jobID, report string) error
}

// Recorder implements research.StatusSink and research.JobStore.
type Recorder struct {
	store     Store
	publisher Publisher
	archive   Archiver
	logger    *zap.Logger
	now       func() time.Time
}

var (
	_ research.StatusSink = (*Recorder)(nil)
	_ research.JobStore   = (*Recorder)(nil)
)

// NewRecorder builds a recorder. publisher and archive may be nil.
func NewRecorder(store Store, publisher Publisher, archive Archiver, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: store, publisher: publisher, archive: archive, logger: logger, now: time.Now}
}

// Record appends message to the job history and publishes it. The event is
// published even when the store write fails.
func (r *Recorder) Record(ctx context.Context, jobID, message string) error {
	ev := research.StatusEvent{JobID: jobID, Message: message, Timestamp: r.now().UTC()}
	metrics.StatusEvents.Inc()
	err := r.store.AppendStatus(ctx, ev)
	if r.publisher != nil {
		r.publisher.Publish(ctx, streaming.Event{
			JobID:     jobID,
			Type:      streaming.TypeStatus,
			Message:   message,
			Timestamp: ev.Timestamp,
		})
	}
	return err
}

// UpdateStatus writes the terminal update, archives a completed report and
// closes live streams with a done event.
func (r *Recorder) UpdateStatus(ctx context.Context, jobID string, upd research.JobUpdate) error {
	if err := r.store.UpdateStatus(ctx, jobID, upd); err != nil {
		return err
	}
	if upd.Status == research.StatusCompleted && r.archive != nil {
		if err := r.archive.PutReport(ctx, jobID, upd.Result); err != nil {
			// The database copy is authoritative.
			r.logger.Warn("Failed to archive report", zap.String("job_id", jobID), zap.Error(err))
		}
	}
	if r.publisher != nil && upd.Status.Terminal() {
		r.publisher.Publish(ctx, streaming.Event{
			JobID:     jobID,
			Type:      streaming.TypeDone,
			Message:   string(upd.Status),
			Timestamp: r.now().UTC(),
		})
	}
	return nil
}
