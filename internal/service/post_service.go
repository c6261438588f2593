package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/postlyhq/postly/internal/engine"
	"github.com/postlyhq/postly/internal/models"
	"github.com/postlyhq/postly/internal/repository"
	"github.com/postlyhq/postly/internal/transfer"
)

type PostService interface {
	CreatePost(ctx context.Context, userID int64, pc *transfer.PostCreation) (int64, time.Duration, error)
	List(ctx context.Context, userID int64) ([]*models.Post, error)
	PostInfo(ctx context.Context, postID, userID int64) (*models.Post, error)
	Remove(ctx context.Context, userID, postID int64) error
	SubmitForApproval(ctx context.Context, userID, postID int64) error
	Approve(ctx context.Context, postID int64) error
	Reject(ctx context.Context, postID int64) error
	PublishNow(ctx context.Context, userID, postID int64) error
}

type postService struct {
	db          *sql.DB
	posts       repository.PostRepository
	assocs      repository.AssociationRepository
	channels    repository.ChannelRepository
	media       repository.PostMediaRepository
	pipeline    *engine.Pipeline
	lockTimeout time.Duration
}

func NewPostService(
	db *sql.DB,
	posts repository.PostRepository,
	assocs repository.AssociationRepository,
	channels repository.ChannelRepository,
	media repository.PostMediaRepository,
	pipeline *engine.Pipeline,
	lockTimeout time.Duration) PostService {
	return &postService{
		db:          db,
		posts:       posts,
		assocs:      assocs,
		channels:    channels,
		media:       media,
		pipeline:    pipeline,
		lockTimeout: lockTimeout,
	}
}

// CreatePost stores the post, its media references and one pending
// association per selected channel in a single transaction. The returned
// delay is how far in the future the post is scheduled, for the queue.
func (s *postService) CreatePost(ctx context.Context, userID int64, pc *transfer.PostCreation) (int64, time.Duration, error) {
	if pc == nil {
		err := errors.New("post creation data is nil")
		slog.Error(err.Error())
		return 0, 0, err
	}
	if pc.Content == "" && pc.Caption == "" {
		err := errors.New("post content cannot be empty")
		slog.Info(err.Error())
		return 0, 0, err
	}
	if len(pc.SelectedChannels) == 0 {
		err := errors.New("no channels selected")
		slog.Info(err.Error())
		return 0, 0, err
	}

	post := models.Post{
		UserID:         userID,
		Title:          pc.Title,
		Content:        pc.Content,
		Caption:        pc.Caption,
		Status:         models.PostStatusDraft,
		ApprovalStatus: models.ApprovalNone,
	}

	var delay time.Duration
	if pc.ScheduledTime != "" {
		scheduledTime, err := time.Parse("2006-01-02T15:04", pc.ScheduledTime)
		if err != nil {
			err = fmt.Errorf("invalid scheduled time format: %w", err)
			slog.Error(err.Error())
			return 0, 0, err
		}
		scheduledTime = scheduledTime.UTC()
		post.ScheduledTime = sql.NullTime{Time: scheduledTime, Valid: true}
		post.Status = models.PostStatusScheduled
		if d := time.Until(scheduledTime); d > 0 {
			delay = d
		}
	}
	if pc.RequestApproval {
		post.Status = models.PostStatusDraft
		post.ApprovalStatus = models.ApprovalPending
	}

	for _, channelID := range pc.SelectedChannels {
		channel, err := s.channels.GetByID(ctx, channelID)
		if err != nil {
			return 0, 0, err
		}
		if channel == nil || channel.UserID != userID {
			err := fmt.Errorf("channel %d not found", channelID)
			slog.Info(err.Error())
			return 0, 0, err
		}
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		}
	}()

	postID, err := s.posts.Create(ctx, tx, &post)
	if err != nil {
		return 0, 0, err
	}

	for _, channelID := range pc.SelectedChannels {
		assoc := models.PostChannelAssociation{
			PostID:    postID,
			ChannelID: channelID,
			Status:    models.AssociationStatusPending,
		}
		if _, err = s.assocs.Create(ctx, tx, &assoc); err != nil {
			return 0, 0, err
		}
	}

	for _, m := range pc.MediaKeys {
		media := models.PostMedia{
			PostID:    postID,
			MediaKey:  m.Key,
			MediaType: m.Type,
		}
		if _, err = s.media.Create(ctx, tx, &media); err != nil {
			return 0, 0, err
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return postID, delay, nil
}

func (s *postService) List(ctx context.Context, userID int64) ([]*models.Post, error) {
	return s.posts.GetByUserID(ctx, userID)
}

func (s *postService) PostInfo(ctx context.Context, postID, userID int64) (*models.Post, error) {
	owned, err := s.posts.CheckByUserID(ctx, postID, userID)
	if err != nil {
		return nil, err
	}
	if !owned {
		return nil, errors.New("post not found")
	}
	return s.posts.GetByID(ctx, postID)
}

func (s *postService) Remove(ctx context.Context, userID, postID int64) error {
	owned, err := s.posts.CheckByUserID(ctx, postID, userID)
	if err != nil {
		return err
	}
	if !owned {
		return errors.New("post not found")
	}
	return s.posts.Remove(ctx, postID)
}

// SubmitForApproval moves a draft into the approval queue. The post stays a
// draft until someone approves it.
func (s *postService) SubmitForApproval(ctx context.Context, userID, postID int64) error {
	post, err := s.PostInfo(ctx, postID, userID)
	if err != nil {
		return err
	}
	if post == nil {
		return errors.New("post not found")
	}
	if post.Status != models.PostStatusDraft {
		return fmt.Errorf("only drafts can be submitted for approval, post is %s", post.Status)
	}
	return s.posts.SetApproval(ctx, postID, models.ApprovalPending, models.PostStatusDraft)
}

// Approve accepts a pending draft and hands it to the scheduler.
func (s *postService) Approve(ctx context.Context, postID int64) error {
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return err
	}
	if post == nil {
		return errors.New("post not found")
	}
	if post.ApprovalStatus != models.ApprovalPending {
		return fmt.Errorf("post is not awaiting approval (approval_status=%s)", post.ApprovalStatus)
	}
	return s.posts.SetApproval(ctx, postID, models.ApprovalApproved, models.PostStatusScheduled)
}

// Reject sends a pending draft back to its author.
func (s *postService) Reject(ctx context.Context, postID int64) error {
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return err
	}
	if post == nil {
		return errors.New("post not found")
	}
	if post.ApprovalStatus != models.ApprovalPending {
		return fmt.Errorf("post is not awaiting approval (approval_status=%s)", post.ApprovalStatus)
	}
	return s.posts.SetApproval(ctx, postID, models.ApprovalRejected, models.PostStatusDraft)
}

// PublishNow pushes a post through the same claim-then-publish path the
// ticker uses, so a concurrent tick cannot double-publish it. The post is
// first rescheduled to now to satisfy the claim predicate.
func (s *postService) PublishNow(ctx context.Context, userID, postID int64) error {
	post, err := s.PostInfo(ctx, postID, userID)
	if err != nil {
		return err
	}
	if post == nil {
		return errors.New("post not found")
	}
	if post.Status == models.PostStatusSent {
		return errors.New("post already sent")
	}
	if post.ApprovalStatus == models.ApprovalPending {
		return errors.New("post is awaiting approval")
	}

	now := time.Now().UTC()
	if err := s.posts.ScheduleNow(ctx, postID, now); err != nil {
		return err
	}

	claimed, err := s.posts.ClaimForPublishing(ctx, postID, now, now.Add(-s.lockTimeout))
	if err != nil {
		return err
	}
	if !claimed {
		// A ticker got there first; the post is being published either way.
		return nil
	}

	post, err = s.posts.GetByID(ctx, postID)
	if err != nil || post == nil {
		return err
	}
	if err := s.pipeline.PublishClaimed(ctx, post); err != nil {
		if resetErr := s.posts.ResetToScheduled(ctx, postID); resetErr != nil {
			slog.Info(resetErr.Error())
		}
		return err
	}
	return nil
}
