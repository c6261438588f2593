package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/postlyhq/postly/internal/models"
)

type PostMediaRepository interface {
	ListByPostID(ctx context.Context, postID int64) ([]*models.PostMedia, error)
	Create(ctx context.Context, tx *sql.Tx, media *models.PostMedia) (int64, error)
}

type postMediaRepository struct {
	db *sql.DB
}

func NewPostMediaRepository(db *sql.DB) PostMediaRepository {
	return &postMediaRepository{db: db}
}

func (r *postMediaRepository) ListByPostID(ctx context.Context, postID int64) ([]*models.PostMedia, error) {
	query := `SELECT id, post_id, media_key, media_type, created_at FROM post_media WHERE post_id = $1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, postID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var media []*models.PostMedia
	for rows.Next() {
		var m models.PostMedia
		if err := rows.Scan(&m.ID, &m.PostID, &m.MediaKey, &m.MediaType, &m.CreatedAt); err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		media = append(media, &m)
	}
	return media, rows.Err()
}

func (r *postMediaRepository) Create(ctx context.Context, tx *sql.Tx, media *models.PostMedia) (int64, error) {
	query := `
		INSERT INTO post_media (post_id, media_key, media_type)
		VALUES ($1, $2, $3)
		RETURNING id
	`

	var id int64
	var err error

	if tx != nil {
		err = tx.QueryRowContext(ctx, query, media.PostID, media.MediaKey, media.MediaType).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, query, media.PostID, media.MediaKey, media.MediaType).Scan(&id)
	}
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return id, nil
}
