package queue

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/hibiken/asynq"
)

// HandlePublishPostTask fires when a scheduled post's delay elapses. It goes
// through the same atomic claim as the tickers, so a post the ticker already
// took (or that was rescheduled or deleted) is a clean no-op here.
func (q *Queue) HandlePublishPostTask(ctx context.Context, task *asynq.Task) error {
	var payload PublishPostPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}

	now := time.Now().UTC()
	claimed, err := q.posts.ClaimForPublishing(ctx, payload.PostID, now, now.Add(-q.lockTimeout))
	if err != nil {
		return err
	}
	if !claimed {
		log.Printf("post %d not claimable, skipping queued publish", payload.PostID)
		return nil
	}

	post, err := q.posts.GetByID(ctx, payload.PostID)
	if err != nil {
		return err
	}
	if post == nil {
		return nil
	}

	if err := q.pipeline.PublishClaimed(ctx, post); err != nil {
		log.Printf("queued publish for post %d failed: %v", payload.PostID, err)
		if resetErr := q.posts.ResetToScheduled(ctx, payload.PostID); resetErr != nil {
			log.Printf("failed to reset post %d: %v", payload.PostID, resetErr)
		}
		return err
	}

	return nil
}
