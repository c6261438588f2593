package models

import (
	"database/sql"
	"time"
)

// AnalyticsSnapshot holds the latest engagement metrics for one post-channel
// association. At most one live snapshot per association; refreshed in place.
type AnalyticsSnapshot struct {
	ID            int64     `db:"id" json:"id"`
	AssociationID int64     `db:"association_id" json:"association_id"`
	Impressions   int64     `db:"impressions" json:"impressions"`
	Reach         int64     `db:"reach" json:"reach"`
	Clicks        int64     `db:"clicks" json:"clicks"`
	Likes         int64     `db:"likes" json:"likes"`
	Comments      int64     `db:"comments" json:"comments"`
	Shares        int64     `db:"shares" json:"shares"`
	Saves         int64     `db:"saves" json:"saves"`
	VideoViews    int64     `db:"video_views" json:"video_views"`
	LastUpdated   time.Time `db:"last_updated" json:"last_updated"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// RefreshCandidate is one association eligible for an analytics refresh,
// joined with the channel fields the fetcher needs.
type RefreshCandidate struct {
	AssociationID  int64
	PlatformPostID string
	Platform       string
	ChannelID      int64
	AccessToken    string
	LastUpdated    sql.NullTime
}

// EngagementRate is (likes+comments+shares+clicks)/reach as a percentage,
// zero when reach is zero.
func (a *AnalyticsSnapshot) EngagementRate() float64 {
	if a.Reach == 0 {
		return 0
	}
	engaged := a.Likes + a.Comments + a.Shares + a.Clicks
	return float64(engaged) / float64(a.Reach) * 100
}
