package queue

import (
	"time"

	"github.com/postlyhq/postly/internal/engine"
	"github.com/postlyhq/postly/internal/repository"
)

// Queue holds what the asynq handlers need to publish a post when its
// one-shot task fires. The periodic ticker covers any task the queue loses.
type Queue struct {
	posts       repository.PostRepository
	pipeline    *engine.Pipeline
	lockTimeout time.Duration
}

func NewQueue(posts repository.PostRepository, pipeline *engine.Pipeline, lockTimeout time.Duration) *Queue {
	return &Queue{
		posts:       posts,
		pipeline:    pipeline,
		lockTimeout: lockTimeout,
	}
}

const TaskTypePublishPost = "publish:post"

type PublishPostPayload struct {
	PostID int64 `json:"post_id"`
}
