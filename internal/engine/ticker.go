package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/postlyhq/postly/internal/repository"
)

const tickBatchLimit = 50

// Ticker drives one pass of the scheduled-publish loop. Multiple tickers (the
// in-process cron, the external worker, publish-now requests) run against the
// same table concurrently; the atomic claim in the post repository is the only
// mutual-exclusion mechanism between them.
type Ticker struct {
	posts       repository.PostRepository
	pipeline    *Pipeline
	interval    time.Duration
	lockTimeout time.Duration

	mu     sync.Mutex
	stopCh chan struct{}
}

func NewTicker(posts repository.PostRepository, pipeline *Pipeline, interval, lockTimeout time.Duration) *Ticker {
	if interval < 5*time.Second {
		interval = 5 * time.Second
	}
	return &Ticker{
		posts:       posts,
		pipeline:    pipeline,
		interval:    interval,
		lockTimeout: lockTimeout,
	}
}

// Tick claims and publishes every currently due post, oldest first. Posts in
// a stale publishing lock count as due and get reclaimed here. Returns how
// many posts this caller actually won and processed.
func (t *Ticker) Tick(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	staleBefore := now.Add(-t.lockTimeout)

	due, err := t.posts.ListDue(ctx, now, staleBefore, tickBatchLimit)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, post := range due {
		claimed, err := t.posts.ClaimForPublishing(ctx, post.ID, now, staleBefore)
		if err != nil {
			slog.Info(err.Error())
			continue
		}
		if !claimed {
			// Another ticker won the row between the select and the update.
			continue
		}

		t.publishClaimed(ctx, post.ID)
		processed++
	}

	return processed, nil
}

// publishClaimed runs the pipeline under a reset guard: any unexpected error
// or panic puts the post back to scheduled so the next tick retries it
// instead of leaving it wedged in publishing until the stale timeout.
func (t *Ticker) publishClaimed(ctx context.Context, postID int64) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic while publishing post", "post_id", postID, "panic", r)
			if err := t.posts.ResetToScheduled(ctx, postID); err != nil {
				slog.Info(err.Error())
			}
		}
	}()

	post, err := t.posts.GetByID(ctx, postID)
	if err != nil || post == nil {
		if err != nil {
			slog.Info(err.Error())
		}
		return
	}

	if err := t.pipeline.PublishClaimed(ctx, post); err != nil {
		slog.Error("publish attempt failed", "post_id", postID, "error", err)
		if resetErr := t.posts.ResetToScheduled(ctx, postID); resetErr != nil {
			slog.Info(resetErr.Error())
		}
	}
}

// Start runs the tick loop until Stop. Used by the external worker binary;
// the API process drives Tick from its own cron instead.
func (t *Ticker) Start(ctx context.Context) {
	t.mu.Lock()
	if t.stopCh != nil {
		t.mu.Unlock()
		return
	}
	stopCh := make(chan struct{})
	t.stopCh = stopCh
	t.mu.Unlock()

	slog.Info("starting publish ticker", "interval", t.interval.String())

	go func() {
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()

		// First pass immediately, then on the interval.
		t.safeTick(ctx)
		for {
			select {
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.safeTick(ctx)
			}
		}
	}()
}

func (t *Ticker) safeTick(ctx context.Context) {
	if _, err := t.Tick(ctx); err != nil {
		slog.Error("publish tick failed", "error", err)
	}
}

func (t *Ticker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopCh != nil {
		close(t.stopCh)
		t.stopCh = nil
	}
}
