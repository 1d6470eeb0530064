package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Kocoro-lab/deepresearch/internal/research"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// jobRow is the research_jobs row shape.
type jobRow struct {
	ID               string    `db:"id"`
	Owner            string    `db:"owner"`
	Title            string    `db:"title"`
	Query            string    `db:"query"`
	Questions        string    `db:"questions"`
	Depth            int       `db:"depth"`
	Breadth          int       `db:"breadth"`
	InitialLearnings string    `db:"initial_learnings"`
	WebSearch        bool      `db:"web_search"`
	IndexID          string    `db:"index_id"`
	Status           string    `db:"status"`
	Result           string    `db:"result"`
	DurationMS       int64     `db:"duration_ms"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

func (r jobRow) toJob() (research.Job, error) {
	j := research.Job{
		ID:               r.ID,
		Owner:            r.Owner,
		Title:            r.Title,
		Query:            r.Query,
		Depth:            r.Depth,
		Breadth:          r.Breadth,
		InitialLearnings: r.InitialLearnings,
		WebSearch:        r.WebSearch,
		IndexID:          r.IndexID,
		Status:           research.Status(r.Status),
		Result:           r.Result,
		Duration:         time.Duration(r.DurationMS) * time.Millisecond,
		CreatedAt:        r.CreatedAt.UTC(),
	}
	if r.Questions != "" {
		if err := json.Unmarshal([]byte(r.Questions), &j.Questions); err != nil {
			return j, fmt.Errorf("job %s: malformed questions: %w", r.ID, err)
		}
	}
	return j, nil
}

const jobColumns = `id, owner, title, query, questions, depth, breadth, initial_learnings,
	web_search, index_id, status, result, duration_ms, created_at, updated_at`

// CreateJob inserts job. Missing id, status and creation time are filled in.
func (c *Client) CreateJob(ctx context.Context, job *research.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = research.StatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.Questions == nil {
		job.Questions = []research.QA{}
	}
	qs, err := json.Marshal(job.Questions)
	if err != nil {
		return fmt.Errorf("failed to encode questions: %w", err)
	}
	q := c.db.Rebind(`INSERT INTO research_jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	return c.guard(ctx, func() error {
		_, err := c.db.ExecContext(ctx, q,
			job.ID, job.Owner, job.Title, job.Query, string(qs), job.Depth, job.Breadth,
			job.InitialLearnings, job.WebSearch, job.IndexID, string(job.Status), job.Result,
			job.Duration.Milliseconds(), job.CreatedAt, job.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert job: %w", err)
		}
		return nil
	})
}

// GetJob returns ErrJobNotFound for an unknown id.
func (c *Client) GetJob(ctx context.Context, id string) (*research.Job, error) {
	var row jobRow
	q := c.db.Rebind(`SELECT ` + jobColumns + ` FROM research_jobs WHERE id = ?`)
	err := c.guard(ctx, func() error { return c.db.GetContext(ctx, &row, q, id) })
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	job, err := row.toJob()
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListOptions filters ListJobs. An empty Owner lists every owner.
type ListOptions struct {
	Owner  string
	Limit  int
	Offset int
}

// ListJobs returns jobs newest first without their report bodies.
func (c *Client) ListJobs(ctx context.Context, opts ListOptions) ([]research.Job, error) {
	if opts.Limit <= 0 || opts.Limit > 200 {
		opts.Limit = 50
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	query := `SELECT id, owner, title, query, questions, depth, breadth, initial_learnings,
		web_search, index_id, status, '' AS result, duration_ms, created_at, updated_at
		FROM research_jobs`
	args := []any{}
	if opts.Owner != "" {
		query += ` WHERE owner = ?`
		args = append(args, opts.Owner)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, opts.Offset)

	var rows []jobRow
	err := c.guard(ctx, func() error { return c.db.SelectContext(ctx, &rows, c.db.Rebind(query), args...) })
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	jobs := make([]research.Job, 0, len(rows))
	for _, r := range rows {
		j, err := r.toJob()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// MarkRunning moves a job to running.
func (c *Client) MarkRunning(ctx context.Context, id string) error {
	return c.setFields(ctx, id, `status = ?, updated_at = ?`, string(research.StatusRunning), time.Now().UTC())
}

// UpdateStatus writes a terminal update.
func (c *Client) UpdateStatus(ctx context.Context, id string, upd research.JobUpdate) error {
	return c.setFields(ctx, id, `status = ?, result = ?, duration_ms = ?, updated_at = ?`,
		string(upd.Status), upd.Result, upd.Duration.Milliseconds(), time.Now().UTC())
}

func (c *Client) setFields(ctx context.Context, id, set string, args ...any) error {
	q := c.db.Rebind(`UPDATE research_jobs SET ` + set + ` WHERE id = ?`)
	args = append(args, id)
	return c.guard(ctx, func() error {
		res, err := c.db.ExecContext(ctx, q, args...)
		if err != nil {
			return fmt.Errorf("failed to update job %s: %w", id, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return ErrJobNotFound
		}
		return nil
	})
}

// DeleteJob removes a job and its status history.
func (c *Client) DeleteJob(ctx context.Context, id string) error {
	return c.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM research_status_history WHERE job_id = ?`), id); err != nil {
			return fmt.Errorf("failed to delete status history: %w", err)
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM research_jobs WHERE id = ?`), id)
		if err != nil {
			return fmt.Errorf("failed to delete job: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return ErrJobNotFound
		}
		return nil
	})
}
