package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/postlyhq/postly/internal/models"
)

// duePredicateSQL decides which posts a ticker may take: scheduled posts whose
// time has come, plus publishing posts whose lock outlived the timeout.
// $1 is now, $2 is now minus the lock timeout. The same fragment backs both
// the selection query and the conditional claim so the two cannot drift.
const duePredicateSQL = `((status = 'scheduled' AND scheduled_time IS NOT NULL AND scheduled_time <= $1)
		OR (status = 'publishing' AND scheduled_time IS NOT NULL AND scheduled_time <= $1 AND updated_at <= $2))`

const postColumns = `id, user_id, title, content, caption, status, scheduled_time, sent_time, approval_status, created_at, updated_at`

type PostRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Post, error)
	Create(ctx context.Context, tx *sql.Tx, post *models.Post) (int64, error)
	GetByUserID(ctx context.Context, userID int64) ([]*models.Post, error)
	CheckByUserID(ctx context.Context, postID, userID int64) (bool, error)
	ListDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]*models.Post, error)
	ClaimForPublishing(ctx context.Context, id int64, now, staleBefore time.Time) (bool, error)
	MarkSent(ctx context.Context, id int64, sentAt time.Time) error
	MarkFailed(ctx context.Context, id int64) error
	ResetToScheduled(ctx context.Context, id int64) error
	ScheduleNow(ctx context.Context, id int64, now time.Time) error
	SetApproval(ctx context.Context, id int64, approvalStatus, postStatus string) error
	Remove(ctx context.Context, id int64) error
}

type postRepository struct {
	db *sql.DB
}

func NewPostRepository(db *sql.DB) PostRepository {
	return &postRepository{db: db}
}

func (r *postRepository) Create(ctx context.Context, tx *sql.Tx, post *models.Post) (int64, error) {
	query := `
		INSERT INTO posts (user_id, title, content, caption, status, scheduled_time, sent_time, approval_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	var id int64
	var err error

	if tx != nil {
		err = tx.QueryRowContext(ctx, query, post.UserID, post.Title, post.Content, post.Caption, post.Status, post.ScheduledTime, post.SentTime, post.ApprovalStatus).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, query, post.UserID, post.Title, post.Content, post.Caption, post.Status, post.ScheduledTime, post.SentTime, post.ApprovalStatus).Scan(&id)
	}
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *postRepository) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE id = $1`
	row := r.db.QueryRowContext(ctx, query, id)

	post, err := scanPost(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	return post, nil
}

func (r *postRepository) GetByUserID(ctx context.Context, userID int64) ([]*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	return collectPosts(rows)
}

func (r *postRepository) CheckByUserID(ctx context.Context, postID, userID int64) (bool, error) {
	query := `SELECT 1 FROM posts WHERE id = $1 AND user_id = $2`

	var result int
	err := r.db.QueryRowContext(ctx, query, postID, userID).Scan(&result)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		slog.Info(err.Error())
		return false, err
	}

	return result == 1, nil
}

// ListDue returns claimable posts, oldest scheduled time first.
func (r *postRepository) ListDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE ` + duePredicateSQL + `
		ORDER BY scheduled_time ASC LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, now, staleBefore, limit)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	return collectPosts(rows)
}

// ClaimForPublishing is the only mutual-exclusion primitive in the engine.
// It moves a post to publishing if and only if the due/stale predicate still
// holds, and reports whether this caller won the row.
func (r *postRepository) ClaimForPublishing(ctx context.Context, id int64, now, staleBefore time.Time) (bool, error) {
	query := `UPDATE posts SET status = 'publishing', updated_at = $1 WHERE id = $3 AND ` + duePredicateSQL

	res, err := r.db.ExecContext(ctx, query, now, staleBefore, id)
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	return affected == 1, nil
}

func (r *postRepository) MarkSent(ctx context.Context, id int64, sentAt time.Time) error {
	query := `
		UPDATE posts
		SET status = 'sent',
			sent_time = $1,
			scheduled_time = NULL,
			updated_at = $1
		WHERE id = $2
	`
	_, err := r.db.ExecContext(ctx, query, sentAt, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *postRepository) MarkFailed(ctx context.Context, id int64) error {
	query := `UPDATE posts SET status = 'failed', updated_at = $1 WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// ResetToScheduled releases a held lock after an unexpected publish error so
// the next tick retries the post. Only touches rows still in publishing.
func (r *postRepository) ResetToScheduled(ctx context.Context, id int64) error {
	query := `UPDATE posts SET status = 'scheduled', updated_at = $1 WHERE id = $2 AND status = 'publishing'`
	_, err := r.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// ScheduleNow makes a post immediately due so publish-now can go through the
// regular claim path. Posts already sent or mid-publish are left alone.
func (r *postRepository) ScheduleNow(ctx context.Context, id int64, now time.Time) error {
	query := `UPDATE posts SET status = 'scheduled', scheduled_time = $1, updated_at = $1
		WHERE id = $2 AND status IN ('draft', 'scheduled', 'failed')`
	_, err := r.db.ExecContext(ctx, query, now, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *postRepository) SetApproval(ctx context.Context, id int64, approvalStatus, postStatus string) error {
	query := `UPDATE posts SET approval_status = $1, status = $2, updated_at = $3 WHERE id = $4`
	_, err := r.db.ExecContext(ctx, query, approvalStatus, postStatus, time.Now().UTC(), id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *postRepository) Remove(ctx context.Context, id int64) error {
	query := `DELETE FROM posts WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (*models.Post, error) {
	var post models.Post
	err := row.Scan(&post.ID, &post.UserID, &post.Title, &post.Content, &post.Caption, &post.Status,
		&post.ScheduledTime, &post.SentTime, &post.ApprovalStatus, &post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &post, nil
}

func collectPosts(rows *sql.Rows) ([]*models.Post, error) {
	var posts []*models.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}
