package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/postlyhq/postly/internal/models"
	"github.com/postlyhq/postly/internal/repository"
)

// Orchestrator owns job rows and the dedup guard. At most one job per kind
// may be pending or running for a (user, channel) scope; callers asking for
// reuse get the existing job back instead of a second row. The check-then-
// insert race between two concurrent enqueues is tolerated: both job kinds
// are idempotent per item, so a duplicate row costs duplicate reads only.
// A job dropped by a full pool must finish failed right away. Leaving the
// row pending would make reuse-existing enqueues hand the dead job back
// forever, wedging the scope.
const poolFullMessage = "worker pool queue full, job was not scheduled"

type Orchestrator struct {
	imports   repository.ImportJobRepository
	refreshes repository.RefreshJobRepository
	importer  *Importer
	refresher *RefreshEngine
	pool      *WorkerPool
	threshold int
}

func NewOrchestrator(
	imports repository.ImportJobRepository,
	refreshes repository.RefreshJobRepository,
	importer *Importer,
	refresher *RefreshEngine,
	pool *WorkerPool,
	autoRefreshThreshold int) *Orchestrator {
	if autoRefreshThreshold < 1 {
		autoRefreshThreshold = 1
	}
	return &Orchestrator{
		imports:   imports,
		refreshes: refreshes,
		importer:  importer,
		refresher: refresher,
		pool:      pool,
		threshold: autoRefreshThreshold,
	}
}

// EnqueueImport creates a pending import job and hands it to the pool. With
// reuseExisting, an active job for the same scope is returned as-is.
func (o *Orchestrator) EnqueueImport(ctx context.Context, scope models.JobScope, reuseExisting bool) (*models.ImportJob, error) {
	if reuseExisting {
		active, err := o.imports.GetActive(ctx, scope)
		if err != nil {
			return nil, err
		}
		if active != nil {
			return active, nil
		}
	}

	publicID, err := gonanoid.New()
	if err != nil {
		return nil, err
	}

	job := &models.ImportJob{
		PublicID:  publicID,
		UserID:    scope.UserID,
		ChannelID: scopeNullChannel(scope),
		Status:    models.JobStatusPending,
	}
	id, err := o.imports.Create(ctx, job)
	if err != nil {
		return nil, err
	}
	job.ID = id

	scheduled := o.pool.Submit(func() {
		o.RunImportJob(context.Background(), id, scope)
	})
	if !scheduled {
		if finErr := o.imports.Finish(ctx, id, models.JobStatusFailed, poolFullMessage, time.Now().UTC()); finErr != nil {
			slog.Error("failed to mark dropped import job failed", "job_id", id, "error", finErr)
			return nil, finErr
		}
		return nil, fmt.Errorf("import job %s: %s", publicID, poolFullMessage)
	}

	return job, nil
}

// EnqueueRefresh mirrors EnqueueImport for analytics-refresh jobs.
func (o *Orchestrator) EnqueueRefresh(ctx context.Context, scope models.JobScope, reuseExisting bool) (*models.AnalyticsRefreshJob, error) {
	if reuseExisting {
		active, err := o.refreshes.GetActive(ctx, scope)
		if err != nil {
			return nil, err
		}
		if active != nil {
			return active, nil
		}
	}

	publicID, err := gonanoid.New()
	if err != nil {
		return nil, err
	}

	job := &models.AnalyticsRefreshJob{
		PublicID:  publicID,
		UserID:    scope.UserID,
		ChannelID: scopeNullChannel(scope),
		Status:    models.JobStatusPending,
	}
	id, err := o.refreshes.Create(ctx, job)
	if err != nil {
		return nil, err
	}
	job.ID = id

	scheduled := o.pool.Submit(func() {
		o.RunRefreshJob(context.Background(), id, scope)
	})
	if !scheduled {
		if finErr := o.refreshes.Finish(ctx, id, models.JobStatusFailed, poolFullMessage, time.Now().UTC()); finErr != nil {
			slog.Error("failed to mark dropped refresh job failed", "job_id", id, "error", finErr)
			return nil, finErr
		}
		return nil, fmt.Errorf("refresh job %s: %s", publicID, poolFullMessage)
	}

	return job, nil
}

// MaybeAutoRefresh enqueues a reuse-existing refresh job when enough
// associations in scope have gone stale. Returns the job when one was
// enqueued or reused, nil when everything is fresh.
func (o *Orchestrator) MaybeAutoRefresh(ctx context.Context, scope models.JobScope) (*models.AnalyticsRefreshJob, error) {
	stale, err := o.refresher.CountStale(ctx, scope)
	if err != nil {
		return nil, err
	}
	if stale < o.threshold {
		return nil, nil
	}
	return o.EnqueueRefresh(ctx, scope, true)
}

// RunImportJob is the execution wrapper for one import job: running on
// start, terminal status plus error on the way out, finished_at always set.
func (o *Orchestrator) RunImportJob(ctx context.Context, jobID int64, scope models.JobScope) {
	if err := o.imports.MarkRunning(ctx, jobID, time.Now().UTC()); err != nil {
		slog.Error("failed to mark import job running", "job_id", jobID, "error", err)
		return
	}

	status := models.JobStatusCompleted
	var errMsg string

	defer func() {
		if r := recover(); r != nil {
			status = models.JobStatusFailed
			errMsg = fmt.Sprintf("panic: %v", r)
			slog.Error("import job panicked", "job_id", jobID, "panic", r)
		}
		if err := o.imports.Finish(ctx, jobID, status, errMsg, time.Now().UTC()); err != nil {
			slog.Error("failed to finish import job", "job_id", jobID, "error", err)
		}
	}()

	found, added, err := o.importer.Run(ctx, scope, func(found, added int) {
		if err := o.imports.UpdateCounts(ctx, jobID, found, added); err != nil {
			slog.Info(err.Error())
		}
	})

	if updErr := o.imports.UpdateCounts(ctx, jobID, found, added); updErr != nil {
		slog.Info(updErr.Error())
	}
	if err != nil {
		status = models.JobStatusFailed
		errMsg = err.Error()
	}
}

// RunRefreshJob executes one refresh job. The terminal status is completed
// when nothing eligible remains after the run and partial otherwise.
func (o *Orchestrator) RunRefreshJob(ctx context.Context, jobID int64, scope models.JobScope) {
	if err := o.refreshes.MarkRunning(ctx, jobID, time.Now().UTC()); err != nil {
		slog.Error("failed to mark refresh job running", "job_id", jobID, "error", err)
		return
	}

	status := models.JobStatusCompleted
	var errMsg string

	defer func() {
		if r := recover(); r != nil {
			status = models.JobStatusFailed
			errMsg = fmt.Sprintf("panic: %v", r)
			slog.Error("refresh job panicked", "job_id", jobID, "panic", r)
		}
		if err := o.refreshes.Finish(ctx, jobID, status, errMsg, time.Now().UTC()); err != nil {
			slog.Error("failed to finish refresh job", "job_id", jobID, "error", err)
		}
	}()

	run, err := o.refresher.RefreshAll(ctx, scope, func(totals BatchResult, remaining int) {
		total := totals.Processed + remaining
		if err := o.refreshes.UpdateProgress(ctx, jobID, total, totals.Processed, totals.Failed, totals.Skipped, time.Now().UTC()); err != nil {
			slog.Info(err.Error())
		}
	})
	if err != nil {
		status = models.JobStatusFailed
		errMsg = err.Error()
		return
	}

	if run.Remaining > 0 {
		status = models.JobStatusPartial
	}
}

// Poll helpers for the API surface.

func (o *Orchestrator) LatestImport(ctx context.Context, scope models.JobScope) (*models.ImportJob, error) {
	return o.imports.GetLatest(ctx, scope)
}

func (o *Orchestrator) LatestRefresh(ctx context.Context, scope models.JobScope) (*models.AnalyticsRefreshJob, error) {
	return o.refreshes.GetLatest(ctx, scope)
}

func (o *Orchestrator) ImportByPublicID(ctx context.Context, publicID string) (*models.ImportJob, error) {
	return o.imports.GetByPublicID(ctx, publicID)
}

func (o *Orchestrator) RefreshByPublicID(ctx context.Context, publicID string) (*models.AnalyticsRefreshJob, error) {
	return o.refreshes.GetByPublicID(ctx, publicID)
}

func scopeNullChannel(scope models.JobScope) sql.NullInt64 {
	if scope.ChannelID == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *scope.ChannelID, Valid: true}
}
