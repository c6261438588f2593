package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/postlyhq/postly/internal/models"
)

const associationColumns = `id, post_id, channel_id, COALESCE(platform_post_id, ''), status, COALESCE(error_message, ''), created_at`

type AssociationRepository interface {
	GetByID(ctx context.Context, id int64) (*models.PostChannelAssociation, error)
	ListByPostID(ctx context.Context, postID int64) ([]*models.PostChannelAssociation, error)
	Create(ctx context.Context, tx *sql.Tx, assoc *models.PostChannelAssociation) (int64, error)
	MarkSent(ctx context.Context, id int64, platformPostID string) error
	MarkFailed(ctx context.Context, id int64, errorMessage string) error
	ExistsByPlatformPostID(ctx context.Context, channelID int64, platformPostID string) (bool, error)
}

type associationRepository struct {
	db *sql.DB
}

func NewAssociationRepository(db *sql.DB) AssociationRepository {
	return &associationRepository{db: db}
}

func (r *associationRepository) Create(ctx context.Context, tx *sql.Tx, assoc *models.PostChannelAssociation) (int64, error) {
	query := `
		INSERT INTO post_channel_associations (post_id, channel_id, platform_post_id, status, error_message)
		VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''))
		RETURNING id
	`

	var id int64
	var err error

	if tx != nil {
		err = tx.QueryRowContext(ctx, query, assoc.PostID, assoc.ChannelID, assoc.PlatformPostID, assoc.Status, assoc.ErrorMessage).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, query, assoc.PostID, assoc.ChannelID, assoc.PlatformPostID, assoc.Status, assoc.ErrorMessage).Scan(&id)
	}
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *associationRepository) GetByID(ctx context.Context, id int64) (*models.PostChannelAssociation, error) {
	query := `SELECT ` + associationColumns + ` FROM post_channel_associations WHERE id = $1`
	row := r.db.QueryRowContext(ctx, query, id)

	var assoc models.PostChannelAssociation
	err := row.Scan(&assoc.ID, &assoc.PostID, &assoc.ChannelID, &assoc.PlatformPostID, &assoc.Status, &assoc.ErrorMessage, &assoc.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	return &assoc, nil
}

func (r *associationRepository) ListByPostID(ctx context.Context, postID int64) ([]*models.PostChannelAssociation, error) {
	query := `SELECT ` + associationColumns + ` FROM post_channel_associations WHERE post_id = $1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, postID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var assocs []*models.PostChannelAssociation
	for rows.Next() {
		var assoc models.PostChannelAssociation
		err := rows.Scan(&assoc.ID, &assoc.PostID, &assoc.ChannelID, &assoc.PlatformPostID, &assoc.Status, &assoc.ErrorMessage, &assoc.CreatedAt)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		assocs = append(assocs, &assoc)
	}
	return assocs, rows.Err()
}

func (r *associationRepository) MarkSent(ctx context.Context, id int64, platformPostID string) error {
	query := `UPDATE post_channel_associations SET status = 'sent', platform_post_id = $1, error_message = NULL WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, platformPostID, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *associationRepository) MarkFailed(ctx context.Context, id int64, errorMessage string) error {
	query := `UPDATE post_channel_associations SET status = 'failed', error_message = $1 WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, errorMessage, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// ExistsByPlatformPostID is the dedup check used by history import.
func (r *associationRepository) ExistsByPlatformPostID(ctx context.Context, channelID int64, platformPostID string) (bool, error) {
	query := `SELECT 1 FROM post_channel_associations WHERE channel_id = $1 AND platform_post_id = $2`

	var result int
	err := r.db.QueryRowContext(ctx, query, channelID, platformPostID).Scan(&result)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		slog.Info(err.Error())
		return false, err
	}

	return result == 1, nil
}
