package db

import (
	"context"
	"fmt"
	"time"

	"github.com/Kocoro-lab/deepresearch/internal/research"
)

// AppendStatus appends one message to a job's history.
func (c *Client) AppendStatus(ctx context.Context, ev research.StatusEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	q := c.db.Rebind(`INSERT INTO research_status_history (job_id, message, created_at) VALUES (?, ?, ?)`)
	return c.guard(ctx, func() error {
		if _, err := c.db.ExecContext(ctx, q, ev.JobID, ev.Message, ev.Timestamp.UTC()); err != nil {
			return fmt.Errorf("failed to append status: %w", err)
		}
		return nil
	})
}

// StatusHistory returns a job's messages in insertion order.
func (c *Client) StatusHistory(ctx context.Context, jobID string) ([]research.StatusEvent, error) {
	var rows []struct {
		Message   string    `db:"message"`
		CreatedAt time.Time `db:"created_at"`
	}
	q := c.db.Rebind(`SELECT message, created_at FROM research_status_history WHERE job_id = ? ORDER BY id`)
	if err := c.guard(ctx, func() error { return c.db.SelectContext(ctx, &rows, q, jobID) }); err != nil {
		return nil, fmt.Errorf("failed to read status history: %w", err)
	}
	out := make([]research.StatusEvent, len(rows))
	for i, r := range rows {
		out[i] = research.StatusEvent{JobID: jobID, Message: r.Message, Timestamp: r.CreatedAt.UTC()}
	}
	return out, nil
}
