package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/postlyhq/postly/internal/models"
)

const channelColumns = `id, user_id, platform, platform_page_id, name, COALESCE(access_token, ''), is_active, created_at, updated_at`

// ChannelRepository is read-only from the engine's perspective. Connecting,
// disconnecting and token rotation live in the OAuth layer.
type ChannelRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Channel, error)
	ListByUserID(ctx context.Context, userID int64) ([]*models.Channel, error)
	ListByUserAndPlatform(ctx context.Context, userID int64, platform string) ([]*models.Channel, error)
}

type channelRepository struct {
	db *sql.DB
}

func NewChannelRepository(db *sql.DB) ChannelRepository {
	return &channelRepository{db: db}
}

func (r *channelRepository) GetByID(ctx context.Context, id int64) (*models.Channel, error) {
	query := `SELECT ` + channelColumns + ` FROM channels WHERE id = $1`
	row := r.db.QueryRowContext(ctx, query, id)

	var ch models.Channel
	err := row.Scan(&ch.ID, &ch.UserID, &ch.Platform, &ch.PlatformPageID, &ch.Name, &ch.AccessToken, &ch.IsActive, &ch.CreatedAt, &ch.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	return &ch, nil
}

func (r *channelRepository) ListByUserID(ctx context.Context, userID int64) ([]*models.Channel, error) {
	query := `SELECT ` + channelColumns + ` FROM channels WHERE user_id = $1 AND is_active = TRUE ORDER BY id`
	return r.list(ctx, query, userID)
}

func (r *channelRepository) ListByUserAndPlatform(ctx context.Context, userID int64, platform string) ([]*models.Channel, error) {
	query := `SELECT ` + channelColumns + ` FROM channels WHERE user_id = $1 AND platform = $2 AND is_active = TRUE ORDER BY id`
	return r.list(ctx, query, userID, platform)
}

func (r *channelRepository) list(ctx context.Context, query string, args ...any) ([]*models.Channel, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var channels []*models.Channel
	for rows.Next() {
		var ch models.Channel
		err := rows.Scan(&ch.ID, &ch.UserID, &ch.Platform, &ch.PlatformPageID, &ch.Name, &ch.AccessToken, &ch.IsActive, &ch.CreatedAt, &ch.UpdatedAt)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		channels = append(channels, &ch)
	}
	return channels, rows.Err()
}
