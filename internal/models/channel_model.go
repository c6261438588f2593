package models

import "time"

// Channel is a connected destination account on a platform. The job engine
// reads credentials from it but never mutates them; token rotation belongs
// to the OAuth layer.
type Channel struct {
	ID             int64     `db:"id" json:"id"`
	UserID         int64     `db:"user_id" json:"user_id"`
	Platform       string    `db:"platform" json:"platform"`
	PlatformPageID string    `db:"platform_page_id" json:"platform_page_id"`
	Name           string    `db:"name" json:"name"`
	AccessToken    string    `db:"access_token" json:"-"`
	IsActive       bool      `db:"is_active" json:"is_active"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// PostChannelAssociation links a post to one destination channel. Each
// association succeeds or fails independently of the post's other channels.
// Unique per (post_id, channel_id).
type PostChannelAssociation struct {
	ID             int64     `db:"id" json:"id"`
	PostID         int64     `db:"post_id" json:"post_id"`
	ChannelID      int64     `db:"channel_id" json:"channel_id"`
	PlatformPostID string    `db:"platform_post_id" json:"platform_post_id"`
	Status         string    `db:"status" json:"status"`
	ErrorMessage   string    `db:"error_message" json:"error_message"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

const (
	AssociationStatusPending = "pending"
	AssociationStatusSent    = "sent"
	AssociationStatusFailed  = "failed"
)

const (
	PlatformFacebook  = "facebook"
	PlatformInstagram = "instagram"
	PlatformTiktok    = "tiktok"
)
