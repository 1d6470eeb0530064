// Package launcher starts research jobs in-process or on Temporal.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Kocoro-lab/deepresearch/internal/constants"
	"github.com/Kocoro-lab/deepresearch/internal/metrics"
	"github.com/Kocoro-lab/deepresearch/internal/research"
	"github.com/Kocoro-lab/deepresearch/internal/workflows"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"
)

// Launcher kinds.
const (
	KindLocal    = "local"
	KindTemporal = "temporal"
)

// ErrNotRunning is returned by Cancel for a job this launcher is not running.
var ErrNotRunning = errors.New("launcher: job is not running")

// Launcher starts a persisted job and returns without waiting for it.
type Launcher interface {
	Launch(ctx context.Context, job research.Job) error
	Cancel(ctx context.Context, jobID string) error
	Name() string
}

// Store is the job bookkeeping a launcher needs.
type Store interface {
	MarkRunning(ctx context.Context, jobID string) error
	UpdateStatus(ctx context.Context, jobID string, upd research.JobUpdate) error
}

// failStart records a job that never started.
func failStart(ctx context.Context, store Store, jobID string, cause error, logger *zap.Logger) {
	upd := research.JobUpdate{Status: research.StatusFailed, Result: research.FailureReport(cause, nil)}
	if err := store.UpdateStatus(context.WithoutCancel(ctx), jobID, upd); err != nil {
		logger.Error("Failed to mark unstarted job failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

// Runner executes one job to completion.
type Runner interface {
	Run(ctx context.Context, job research.JobSnapshot) (string, error)
}

// Local runs each job on its own goroutine.
type Local struct {
	runner Runner
	store  Store
	logger *zap.Logger

	base    context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running map[string]context.CancelFunc
}

func NewLocal(runner Runner, store Store, logger *zap.Logger) *Local {
	if logger == nil {
		logger = zap.NewNop()
	}
	base, stop := context.WithCancel(context.Background())
	return &Local{
		runner:  runner,
		store:   store,
		logger:  logger,
		base:    base,
		stop:    stop,
		running: make(map[string]context.CancelFunc),
	}
}

func (l *Local) Name() string { return KindLocal }

func (l *Local) Launch(ctx context.Context, job research.Job) error {
	if err := l.store.MarkRunning(ctx, job.ID); err != nil {
		return fmt.Errorf("failed to mark job running: %w", err)
	}
	jobCtx, cancel := context.WithCancel(l.base)
	l.mu.Lock()
	l.running[job.ID] = cancel
	l.mu.Unlock()

	metrics.JobsStarted.WithLabelValues(KindLocal).Inc()
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer func() {
			l.mu.Lock()
			delete(l.running, job.ID)
			l.mu.Unlock()
			cancel()
		}()
		start := time.Now()
		_, err := l.runner.Run(jobCtx, job.Snapshot())
		status := research.StatusCompleted
		if err != nil {
			status = research.StatusFailed
			l.logger.Warn("Research job failed", zap.String("job_id", job.ID), zap.Error(err))
		}
		metrics.RecordJobMetrics(KindLocal, string(status), time.Since(start).Seconds())
	}()
	return nil
}

// Cancel stops a running job; the job records its own failure.
func (l *Local) Cancel(_ context.Context, jobID string) error {
	l.mu.Lock()
	cancel, ok := l.running[jobID]
	l.mu.Unlock()
	if !ok {
		return ErrNotRunning
	}
	cancel()
	return nil
}

// Shutdown cancels running jobs and waits for them until ctx ends.
func (l *Local) Shutdown(ctx context.Context) error {
	l.stop()
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every launched job has finished.
func (l *Local) Wait() { l.wg.Wait() }

// Temporal starts ResearchWorkflow executions.
type Temporal struct {
	client    client.Client
	taskQueue string
	store     Store
	logger    *zap.Logger
}

func NewTemporal(c client.Client, taskQueue string, store Store, logger *zap.Logger) *Temporal {
	if taskQueue == "" {
		taskQueue = constants.DefaultTaskQueue
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Temporal{client: c, taskQueue: taskQueue, store: store, logger: logger}
}

func (t *Temporal) Name() string { return KindTemporal }

// WorkflowID is the workflow ID of a job.
func WorkflowID(jobID string) string { return "research-" + jobID }

func (t *Temporal) Launch(ctx context.Context, job research.Job) error {
	if err := t.store.MarkRunning(ctx, job.ID); err != nil {
		return fmt.Errorf("failed to mark job running: %w", err)
	}
	opts := client.StartWorkflowOptions{
		ID:                    WorkflowID(job.ID),
		TaskQueue:             t.taskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
		Memo: map[string]interface{}{
			"owner": job.Owner,
			"title": job.Title,
		},
	}
	run, err := t.client.ExecuteWorkflow(ctx, opts, constants.ResearchWorkflowName, workflows.ResearchInput{Job: job.Snapshot()})
	if err != nil {
		t.logger.Error("Failed to start workflow", zap.String("job_id", job.ID), zap.Error(err))
		failStart(ctx, t.store, job.ID, err, t.logger)
		return fmt.Errorf("failed to start workflow: %w", err)
	}
	metrics.JobsStarted.WithLabelValues(KindTemporal).Inc()
	t.logger.Info("Started research workflow",
		zap.String("job_id", job.ID),
		zap.String("workflow_id", run.GetID()),
		zap.String("run_id", run.GetRunID()),
		zap.String("task_queue", t.taskQueue))
	return nil
}

func (t *Temporal) Cancel(ctx context.Context, jobID string) error {
	return t.client.CancelWorkflow(ctx, WorkflowID(jobID), "")
}
