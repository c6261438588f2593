package models

import (
	"database/sql"
	"time"
)

type Post struct {
	ID             int64        `db:"id" json:"id"`
	UserID         int64        `db:"user_id" json:"user_id"`
	Title          string       `db:"title" json:"title"`
	Content        string       `db:"content" json:"content"`
	Caption        string       `db:"caption" json:"caption"`
	Status         string       `db:"status" json:"status"`
	ScheduledTime  sql.NullTime `db:"scheduled_time" json:"scheduled_time"`
	SentTime       sql.NullTime `db:"sent_time" json:"sent_time"`
	ApprovalStatus string       `db:"approval_status" json:"approval_status"`
	CreatedAt      time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time    `db:"updated_at" json:"updated_at"`
}

type PostMedia struct {
	ID        int64     `db:"id" json:"id"`
	PostID    int64     `db:"post_id" json:"post_id"`
	MediaKey  string    `db:"media_key" json:"media_key"`
	MediaType string    `db:"media_type" json:"media_type"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

const (
	PostStatusDraft      = "draft"
	PostStatusScheduled  = "scheduled"
	PostStatusPublishing = "publishing"
	PostStatusSent       = "sent"
	PostStatusFailed     = "failed"
)

const (
	ApprovalNone     = "none"
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
)
