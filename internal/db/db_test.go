package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Kocoro-lab/deepresearch/internal/circuitbreaker"
	"github.com/Kocoro-lab/deepresearch/internal/research"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func openSQLite(t *testing.T) *Client {
	t.Helper()
	c, err := Open(context.Background(), Config{Driver: DriverSQLite, Path: ":memory:"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	_, err = c.Migrate(context.Background())
	require.NoError(t, err)
	return c
}

func TestMigrateIsIdempotent(t *testing.T) {
	c := openSQLite(t)
	ctx := context.Background()

	applied, err := c.Migrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, applied)

	v, err := c.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)
}

func TestJobLifecycleSQLite(t *testing.T) {
	c := openSQLite(t)
	ctx := context.Background()

	job := &research.Job{
		Owner:     "u1",
		Title:     "Solid-state batteries",
		Query:     "state of solid-state batteries",
		Questions: []research.QA{{Question: "Which markets?", Answer: "EV"}},
		Depth:     2,
		Breadth:   4,
		WebSearch: true,
	}
	require.NoError(t, c.CreateJob(ctx, job))
	require.NotEmpty(t, job.ID)
	assert.Equal(t, research.StatusPending, job.Status)

	got, err := c.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.Query, got.Query)
	assert.Equal(t, job.Questions, got.Questions)
	assert.True(t, got.WebSearch)
	assert.Equal(t, research.StatusPending, got.Status)

	require.NoError(t, c.MarkRunning(ctx, job.ID))
	require.NoError(t, c.AppendStatus(ctx, research.StatusEvent{JobID: job.ID, Message: "first"}))
	require.NoError(t, c.AppendStatus(ctx, research.StatusEvent{JobID: job.ID, Message: "second"}))

	require.NoError(t, c.UpdateStatus(ctx, job.ID, research.JobUpdate{
		Status:   research.StatusCompleted,
		Result:   "# Report",
		Duration: 90 * time.Second,
	}))

	got, err = c.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, research.StatusCompleted, got.Status)
	assert.Equal(t, "# Report", got.Result)
	assert.Equal(t, 90*time.Second, got.Duration)

	hist, err := c.StatusHistory(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "first", hist[0].Message)
	assert.Equal(t, "second", hist[1].Message)

	require.NoError(t, c.DeleteJob(ctx, job.ID))
	_, err = c.GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
	hist, err = c.StatusHistory(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestListJobsFiltersByOwner(t *testing.T) {
	c := openSQLite(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, owner := range []string{"a", "b", "a"} {
		require.NoError(t, c.CreateJob(ctx, &research.Job{
			Owner:     owner,
			Query:     "q",
			Result:    "long report",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	jobs, err := c.ListJobs(ctx, ListOptions{Owner: "a"})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.True(t, jobs[0].CreatedAt.After(jobs[1].CreatedAt))
	assert.Empty(t, jobs[0].Result)

	all, err := c.ListJobs(ctx, ListOptions{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestUnknownJobIsNotFound(t *testing.T) {
	c := openSQLite(t)
	ctx := context.Background()

	assert.ErrorIs(t, c.UpdateStatus(ctx, "missing", research.JobUpdate{Status: research.StatusFailed}), ErrJobNotFound)
	assert.ErrorIs(t, c.DeleteJob(ctx, "missing"), ErrJobNotFound)
}

func newMockClient(t *testing.T) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	return NewWithDB(sqlx.NewDb(raw, "postgres"), zaptest.NewLogger(t)), mock
}

func TestUpdateStatusUsesPostgresPlaceholders(t *testing.T) {
	c, mock := newMockClient(t)

	mock.ExpectExec(`UPDATE research_jobs SET status = \$1, result = \$2, duration_ms = \$3, updated_at = \$4 WHERE id = \$5`).
		WithArgs("failed", "boom", int64(0), sqlmock.AnyArg(), "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := c.UpdateStatus(context.Background(), "job-1", research.JobUpdate{Status: research.StatusFailed, Result: "boom"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobNotFoundDoesNotTripBreaker(t *testing.T) {
	c, mock := newMockClient(t)

	for i := 0; i < 10; i++ {
		mock.ExpectQuery(`SELECT .* FROM research_jobs WHERE id = \$1`).
			WithArgs("nope").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
	}
	for i := 0; i < 10; i++ {
		_, err := c.GetJob(context.Background(), "nope")
		require.ErrorIs(t, err, ErrJobNotFound)
	}
	assert.Equal(t, circuitbreaker.StateClosed, c.cb.State())
}

func TestBreakerOpensOnRepeatedFailures(t *testing.T) {
	c, mock := newMockClient(t)
	boom := errors.New("connection reset")

	for i := 0; i < 5; i++ {
		mock.ExpectExec(`INSERT INTO research_status_history`).WillReturnError(boom)
	}
	for i := 0; i < 5; i++ {
		err := c.AppendStatus(context.Background(), research.StatusEvent{JobID: "j", Message: "m"})
		require.ErrorIs(t, err, boom)
	}

	err := c.AppendStatus(context.Background(), research.StatusEvent{JobID: "j", Message: "m"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTransactionRollsBack(t *testing.T) {
	c, mock := newMockClient(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM research_status_history WHERE job_id = \$1`).
		WithArgs("j").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`DELETE FROM research_jobs WHERE id = \$1`).
		WithArgs("j").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	assert.ErrorIs(t, c.DeleteJob(context.Background(), "j"), ErrJobNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
