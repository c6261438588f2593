package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/postlyhq/postly/internal/models"
)

type AnalyticsRepository interface {
	GetByAssociationID(ctx context.Context, associationID int64) (*models.AnalyticsSnapshot, error)
	Upsert(ctx context.Context, snapshot *models.AnalyticsSnapshot) error
	TouchLastUpdated(ctx context.Context, associationID int64, now time.Time) error
	ListEligible(ctx context.Context, scope models.JobScope, staleBefore time.Time, limit int) ([]*models.RefreshCandidate, error)
	CountEligible(ctx context.Context, scope models.JobScope, staleBefore time.Time) (int, error)
}

type analyticsRepository struct {
	db *sql.DB
}

func NewAnalyticsRepository(db *sql.DB) AnalyticsRepository {
	return &analyticsRepository{db: db}
}

func (r *analyticsRepository) GetByAssociationID(ctx context.Context, associationID int64) (*models.AnalyticsSnapshot, error) {
	query := `
		SELECT id, association_id, impressions, reach, clicks, likes, comments, shares, saves, video_views, last_updated, created_at
		FROM analytics_snapshots WHERE association_id = $1
	`
	row := r.db.QueryRowContext(ctx, query, associationID)

	var s models.AnalyticsSnapshot
	err := row.Scan(&s.ID, &s.AssociationID, &s.Impressions, &s.Reach, &s.Clicks, &s.Likes, &s.Comments, &s.Shares, &s.Saves, &s.VideoViews, &s.LastUpdated, &s.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	return &s, nil
}

// Upsert refreshes the one live snapshot per association in place.
func (r *analyticsRepository) Upsert(ctx context.Context, snapshot *models.AnalyticsSnapshot) error {
	query := `
		INSERT INTO analytics_snapshots (association_id, impressions, reach, clicks, likes, comments, shares, saves, video_views, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (association_id) DO UPDATE SET
			impressions = EXCLUDED.impressions,
			reach = EXCLUDED.reach,
			clicks = EXCLUDED.clicks,
			likes = EXCLUDED.likes,
			comments = EXCLUDED.comments,
			shares = EXCLUDED.shares,
			saves = EXCLUDED.saves,
			video_views = EXCLUDED.video_views,
			last_updated = EXCLUDED.last_updated
	`
	_, err := r.db.ExecContext(ctx, query,
		snapshot.AssociationID, snapshot.Impressions, snapshot.Reach, snapshot.Clicks,
		snapshot.Likes, snapshot.Comments, snapshot.Shares, snapshot.Saves, snapshot.VideoViews,
		snapshot.LastUpdated)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// TouchLastUpdated advances the freshness clock without changing counters.
// Failed fetches go through here so a broken item leaves eligibility for one
// cooldown window instead of being retried every batch.
func (r *analyticsRepository) TouchLastUpdated(ctx context.Context, associationID int64, now time.Time) error {
	query := `
		INSERT INTO analytics_snapshots (association_id, last_updated)
		VALUES ($1, $2)
		ON CONFLICT (association_id) DO UPDATE SET last_updated = EXCLUDED.last_updated
	`
	_, err := r.db.ExecContext(ctx, query, associationID, now)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// eligibleWhere builds the shared eligibility predicate: association published
// with a platform post id, channel in scope, snapshot missing or stale.
func eligibleWhere(scope models.JobScope, staleBefore time.Time) (string, []any) {
	where := `a.status IN ('sent', 'published')
		AND a.platform_post_id IS NOT NULL
		AND c.is_active = TRUE
		AND (s.id IS NULL OR s.last_updated <= $1)`
	args := []any{staleBefore}

	if scope.UserID != 0 {
		args = append(args, scope.UserID)
		where += fmt.Sprintf(" AND c.user_id = $%d", len(args))
	}
	if scope.ChannelID != nil {
		args = append(args, *scope.ChannelID)
		where += fmt.Sprintf(" AND c.id = $%d", len(args))
	}
	return where, args
}

// ListEligible returns refresh candidates stalest-first; rows with no snapshot
// sort ahead of everything, ties broken by newest association first.
func (r *analyticsRepository) ListEligible(ctx context.Context, scope models.JobScope, staleBefore time.Time, limit int) ([]*models.RefreshCandidate, error) {
	where, args := eligibleWhere(scope, staleBefore)
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT a.id, a.platform_post_id, c.platform, c.id, COALESCE(c.access_token, ''), s.last_updated
		FROM post_channel_associations a
		JOIN channels c ON c.id = a.channel_id
		LEFT JOIN analytics_snapshots s ON s.association_id = a.id
		WHERE %s
		ORDER BY s.last_updated ASC NULLS FIRST, a.id DESC
		LIMIT $%d
	`, where, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var candidates []*models.RefreshCandidate
	for rows.Next() {
		var c models.RefreshCandidate
		err := rows.Scan(&c.AssociationID, &c.PlatformPostID, &c.Platform, &c.ChannelID, &c.AccessToken, &c.LastUpdated)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		candidates = append(candidates, &c)
	}
	return candidates, rows.Err()
}

func (r *analyticsRepository) CountEligible(ctx context.Context, scope models.JobScope, staleBefore time.Time) (int, error) {
	where, args := eligibleWhere(scope, staleBefore)

	query := fmt.Sprintf(`
		SELECT COUNT(*)
		FROM post_channel_associations a
		JOIN channels c ON c.id = a.channel_id
		LEFT JOIN analytics_snapshots s ON s.association_id = a.id
		WHERE %s
	`, where)

	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return count, nil
}
