package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/postlyhq/postly/internal/models"
)

const importJobColumns = `id, public_id, user_id, channel_id, status, posts_found, posts_added, COALESCE(error_message, ''), created_at, started_at, finished_at`

type ImportJobRepository interface {
	Create(ctx context.Context, job *models.ImportJob) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.ImportJob, error)
	GetByPublicID(ctx context.Context, publicID string) (*models.ImportJob, error)
	GetLatest(ctx context.Context, scope models.JobScope) (*models.ImportJob, error)
	GetActive(ctx context.Context, scope models.JobScope) (*models.ImportJob, error)
	MarkRunning(ctx context.Context, id int64, now time.Time) error
	UpdateCounts(ctx context.Context, id int64, found, added int) error
	Finish(ctx context.Context, id int64, status, errorMessage string, now time.Time) error
}

type importJobRepository struct {
	db *sql.DB
}

func NewImportJobRepository(db *sql.DB) ImportJobRepository {
	return &importJobRepository{db: db}
}

func (r *importJobRepository) Create(ctx context.Context, job *models.ImportJob) (int64, error) {
	query := `
		INSERT INTO import_jobs (public_id, user_id, channel_id, status)
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

func (r *importJobRepository) GetByID(ctx context.Context, id int64) (*models.ImportJob, error) {
	query := `SELECT ` + importJobColumns + ` FROM import_jobs WHERE id = $1`
	return r.get(ctx, query, id)
}

func (r *importJobRepository) GetByPublicID(ctx context.Context, publicID string) (*models.ImportJob, error) {
	query := `SELECT ` + importJobColumns + ` FROM import_jobs WHERE public_id = $1`
	return r.get(ctx, query, publicID)
}

// GetLatest returns the newest job for a scope, used for client polling.
func (r *importJobRepository) GetLatest(ctx context.Context, scope models.JobScope) (*models.ImportJob, error) {
	query := `SELECT ` + importJobColumns + ` FROM import_jobs
		WHERE user_id = $1 AND channel_id IS NOT DISTINCT FROM $2
		ORDER BY created_at DESC LIMIT 1`
	return r.get(ctx, query, scope.UserID, scopeChannel(scope))
}

// GetActive returns a pending or running job for a scope, or nil. This backs
// the orchestrator's dedup guard.
func (r *importJobRepository) GetActive(ctx context.Context, scope models.JobScope) (*models.ImportJob, error) {
	query := `SELECT ` + importJobColumns + ` FROM import_jobs
		WHERE user_id = $1 AND channel_id IS NOT DISTINCT FROM $2 AND status IN ('pending', 'running')
		ORDER BY created_at DESC LIMIT 1`
	return r.get(ctx, query, scope.UserID, scopeChannel(scope))
}

func (r *importJobRepository) MarkRunning(ctx context.Context, id int64, now time.Time) error {
	query := `UPDATE import_jobs SET status = 'running', started_at = $1, error_message = NULL WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, now, id)
	if err != nil {
		slog.Info(err.Error())
	}
	return err
}

func (r *importJobRepository) UpdateCounts(ctx context.Context, id int64, found, added int) error {
	query := `UPDATE import_jobs SET posts_found = $1, posts_added = $2 WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, found, added, id)
	if err != nil {
		slog.Info(err.Error())
	}
	return err
}

func (r *importJobRepository) Finish(ctx context.Context, id int64, status, errorMessage string, now time.Time) error {
	query := `UPDATE import_jobs SET status = $1, error_message = NULLIF($2, ''), finished_at = $3 WHERE id = $4`
	_, err := r.db.ExecContext(ctx, query, status, errorMessage, now, id)
	if err != nil {
		slog.Info(err.Error())
	}
	return err
}

func (r *importJobRepository) get(ctx context.Context, query string, args ...any) (*models.ImportJob, error) {
	row := r.db.QueryRowContext(ctx, query, args...)

	var job models.ImportJob
	err := row.Scan(&job.ID, &job.PublicID, &job.UserID, &job.ChannelID, &job.Status,
		&job.PostsFound, &job.PostsAdded, &job.ErrorMessage, &job.CreatedAt, &job.StartedAt, &job.FinishedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return &job, nil
}

func scopeChannel(scope models.JobScope) sql.NullInt64 {
	if scope.ChannelID == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *scope.ChannelID, Valid: true}
}
