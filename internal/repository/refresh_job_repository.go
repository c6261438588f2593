package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/postlyhq/postly/internal/models"
)

const refreshJobColumns = `id, public_id, user_id, channel_id, status, total_eligible, processed, failed, skipped, COALESCE(error_message, ''), created_at, started_at, finished_at, last_progress_at`

type RefreshJobRepository interface {
	Create(ctx context.Context, job *models.AnalyticsRefreshJob) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.AnalyticsRefreshJob, error)
	GetByPublicID(ctx context.Context, publicID string) (*models.AnalyticsRefreshJob, error)
	GetLatest(ctx context.Context, scope models.JobScope) (*models.AnalyticsRefreshJob, error)
	GetActive(ctx context.Context, scope models.JobScope) (*models.AnalyticsRefreshJob, error)
	MarkRunning(ctx context.Context, id int64, now time.Time) error
	UpdateProgress(ctx context.Context, id int64, total, processed, failed, skipped int, now time.Time) error
	Finish(ctx context.Context, id int64, status, errorMessage string, now time.Time) error
}

type refreshJobRepository struct {
	db *sql.DB
}

func NewRefreshJobRepository(db *sql.DB) RefreshJobRepository {
	return &refreshJobRepository{db: db}
}

func (r *refreshJobRepository) Create(ctx context.Context, job *models.AnalyticsRefreshJob) (int64, error) {
	query := `
		INSERT INTO analytics_refresh_jobs (public_id, user_id, channel_id, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowContext(ctx, query, job.PublicID, job.UserID, job.ChannelID, job.Status).Scan(&id)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return id, nil
}

func (r *refreshJobRepository) GetByID(ctx context.Context, id int64) (*models.AnalyticsRefreshJob, error) {
	query := `SELECT ` + refreshJobColumns + ` FROM analytics_refresh_jobs WHERE id = $1`
	return r.get(ctx, query, id)
}

func (r *refreshJobRepository) GetByPublicID(ctx context.Context, publicID string) (*models.AnalyticsRefreshJob, error) {
	query := `SELECT ` + refreshJobColumns + ` FROM analytics_refresh_jobs WHERE public_id = $1`
	return r.get(ctx, query, publicID)
}

func (r *refreshJobRepository) GetLatest(ctx context.Context, scope models.JobScope) (*models.AnalyticsRefreshJob, error) {
	query := `SELECT ` + refreshJobColumns + ` FROM analytics_refresh_jobs
		WHERE user_id = $1 AND channel_id IS NOT DISTINCT FROM $2
		ORDER BY created_at DESC LIMIT 1`
	return r.get(ctx, query, scope.UserID, scopeChannel(scope))
}

func (r *refreshJobRepository) GetActive(ctx context.Context, scope models.JobScope) (*models.AnalyticsRefreshJob, error) {
	query := `SELECT ` + refreshJobColumns + ` FROM analytics_refresh_jobs
		WHERE user_id = $1 AND channel_id IS NOT DISTINCT FROM $2 AND status IN ('pending', 'running')
		ORDER BY created_at DESC LIMIT 1`
	return r.get(ctx, query, scope.UserID, scopeChannel(scope))
}

func (r *refreshJobRepository) MarkRunning(ctx context.Context, id int64, now time.Time) error {
	query := `UPDATE analytics_refresh_jobs SET status = 'running', started_at = $1, error_message = NULL WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, now, id)
	if err != nil {
		slog.Info(err.Error())
	}
	return err
}

// UpdateProgress runs after every batch, not just at the end, so a long job
// stays observable from the polling surface.
func (r *refreshJobRepository) UpdateProgress(ctx context.Context, id int64, total, processed, failed, skipped int, now time.Time) error {
	query := `UPDATE analytics_refresh_jobs
		SET total_eligible = $1, processed = $2, failed = $3, skipped = $4, last_progress_at = $5
		WHERE id = $6`
	_, err := r.db.ExecContext(ctx, query, total, processed, failed, skipped, now, id)
	if err != nil {
		slog.Info(err.Error())
	}
	return err
}

func (r *refreshJobRepository) Finish(ctx context.Context, id int64, status, errorMessage string, now time.Time) error {
	query := `UPDATE analytics_refresh_jobs SET status = $1, error_message = NULLIF($2, ''), finished_at = $3 WHERE id = $4`
	_, err := r.db.ExecContext(ctx, query, status, errorMessage, now, id)
	if err != nil {
		slog.Info(err.Error())
	}
	return err
}

func (r *refreshJobRepository) get(ctx context.Context, query string, args ...any) (*models.AnalyticsRefreshJob, error) {
	row := r.db.QueryRowContext(ctx, query, args...)

	var job models.AnalyticsRefreshJob
	err := row.Scan(&job.ID, &job.PublicID, &job.UserID, &job.ChannelID, &job.Status,
		&job.TotalEligible, &job.Processed, &job.Failed, &job.Skipped, &job.ErrorMessage,
		&job.CreatedAt, &job.StartedAt, &job.FinishedAt, &job.LastProgressAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return &job, nil
}
