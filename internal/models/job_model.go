package models

import (
	"database/sql"
	"time"
)

const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusPartial   = "partial"
)

const (
	JobKindImport  = "import"
	JobKindRefresh = "refresh"
)

// ImportJob tracks one history-import run for a user, optionally scoped to a
// single channel. Mutated only by the worker executing it; terminal once the
// status leaves {pending, running}.
type ImportJob struct {
	ID           int64         `db:"id" json:"id"`
	PublicID     string        `db:"public_id" json:"public_id"`
	UserID       int64         `db:"user_id" json:"user_id"`
	ChannelID    sql.NullInt64 `db:"channel_id" json:"channel_id"`
	Status       string        `db:"status" json:"status"`
	PostsFound   int           `db:"posts_found" json:"posts_found"`
	PostsAdded   int           `db:"posts_added" json:"posts_added"`
	ErrorMessage string        `db:"error_message" json:"error_message"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
	StartedAt    sql.NullTime  `db:"started_at" json:"started_at"`
	FinishedAt   sql.NullTime  `db:"finished_at" json:"finished_at"`
}

// AnalyticsRefreshJob tracks one analytics-refresh run. Progress counters and
// last_progress_at advance after every batch so long runs stay observable.
type AnalyticsRefreshJob struct {
	ID             int64         `db:"id" json:"id"`
	PublicID       string        `db:"public_id" json:"public_id"`
	UserID         int64         `db:"user_id" json:"user_id"`
	ChannelID      sql.NullInt64 `db:"channel_id" json:"channel_id"`
	Status         string        `db:"status" json:"status"`
	TotalEligible  int           `db:"total_eligible" json:"total_eligible"`
	Processed      int           `db:"processed" json:"processed"`
	Failed         int           `db:"failed" json:"failed"`
	Skipped        int           `db:"skipped" json:"skipped"`
	ErrorMessage   string        `db:"error_message" json:"error_message"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	StartedAt      sql.NullTime  `db:"started_at" json:"started_at"`
	FinishedAt     sql.NullTime  `db:"finished_at" json:"finished_at"`
	LastProgressAt sql.NullTime  `db:"last_progress_at" json:"last_progress_at"`
}

func (j *ImportJob) Kind() string                { return JobKindImport }
func (j *ImportJob) JobStatus() string           { return j.Status }
func (j *ImportJob) IsActive() bool              { return jobActive(j.Status) }
func (j *AnalyticsRefreshJob) Kind() string      { return JobKindRefresh }
func (j *AnalyticsRefreshJob) JobStatus() string { return j.Status }
func (j *AnalyticsRefreshJob) IsActive() bool    { return jobActive(j.Status) }

func jobActive(status string) bool {
	return status == JobStatusPending || status == JobStatusRunning
}

// JobScope identifies who a job runs for. ChannelID nil means all of the
// user's channels; UserID zero means an unscoped system-wide run.
type JobScope struct {
	UserID    int64
	ChannelID *int64
}

// Job is the lifecycle surface shared by both job kinds.
type Job interface {
	Kind() string
	JobStatus() string
	IsActive() bool
}

// JobDescriptor is the polling shape returned to API callers for either kind.
type JobDescriptor struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	Status    string         `json:"status"`
	UserID    int64          `json:"user_id"`
	ChannelID *int64         `json:"channel_id,omitempty"`
	Counters  map[string]int `json:"counters"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	StartedAt *time.Time     `json:"started_at,omitempty"`
	DoneAt    *time.Time     `json:"finished_at,omitempty"`
}

func (j *ImportJob) Describe() *JobDescriptor {
	d := &JobDescriptor{
		ID:     j.PublicID,
		Kind:   JobKindImport,
		Status: j.Status,
		UserID: j.UserID,
		Counters: map[string]int{
			"found":    j.PostsFound,
			"imported": j.PostsAdded,
		},
		Error:     j.ErrorMessage,
		CreatedAt: j.CreatedAt,
	}
	fillScope(d, j.ChannelID, j.StartedAt, j.FinishedAt)
	return d
}

func (j *AnalyticsRefreshJob) Describe() *JobDescriptor {
	d := &JobDescriptor{
		ID:     j.PublicID,
		Kind:   JobKindRefresh,
		Status: j.Status,
		UserID: j.UserID,
		Counters: map[string]int{
			"total":     j.TotalEligible,
			"processed": j.Processed,
			"failed":    j.Failed,
			"skipped":   j.Skipped,
		},
		Error:     j.ErrorMessage,
		CreatedAt: j.CreatedAt,
	}
	fillScope(d, j.ChannelID, j.StartedAt, j.FinishedAt)
	return d
}

func fillScope(d *JobDescriptor, channelID sql.NullInt64, startedAt, finishedAt sql.NullTime) {
	if channelID.Valid {
		d.ChannelID = &channelID.Int64
	}
	if startedAt.Valid {
		t := startedAt.Time
		d.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		d.DoneAt = &t
	}
}
