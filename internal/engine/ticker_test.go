package engine

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postlyhq/postly/internal/models"
)

func newTickerFixture(t *testing.T) (*pipelineFixture, *Ticker) {
	t.Helper()
	pub := &stubPublisher{id: "fb_1"}
	f := newPipelineFixture(
		stubPublisherRegistry{models.PlatformFacebook: pub},
		&models.Channel{ID: 1, UserID: 1, Platform: models.PlatformFacebook, PlatformPageID: "page1", Name: "FB Page", AccessToken: "tok", IsActive: true},
	)
	ticker := NewTicker(f.posts, f.pipeline, time.Minute, 5*time.Minute)
	return f, ticker
}

func duePost(f *pipelineFixture, at time.Time) *models.Post {
	post := f.posts.add(&models.Post{
		UserID:        1,
		Title:         "due",
		Status:        models.PostStatusScheduled,
		ScheduledTime: sql.NullTime{Time: at, Valid: true},
	})
	f.assocs.add(&models.PostChannelAssociation{PostID: post.ID, ChannelID: 1, Status: models.AssociationStatusPending})
	return post
}

func TestTickPublishesDuePost(t *testing.T) {
	f, ticker := newTickerFixture(t)
	post := duePost(f, time.Now().UTC().Add(-time.Minute))

	processed, err := ticker.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	got := f.posts.snapshot(post.ID)
	assert.Equal(t, models.PostStatusSent, got.Status)
	assert.True(t, got.SentTime.Valid)
}

func TestTickIgnoresFuturePosts(t *testing.T) {
	f, ticker := newTickerFixture(t)
	post := duePost(f, time.Now().UTC().Add(time.Hour))

	processed, err := ticker.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	assert.Equal(t, models.PostStatusScheduled, f.posts.snapshot(post.ID).Status)
}

func TestTickSingleWinnerUnderConcurrency(t *testing.T) {
	f, ticker := newTickerFixture(t)
	duePost(f, time.Now().UTC().Add(-time.Minute))
	pub := f.registry[models.PlatformFacebook].(*stubPublisher)

	const tickers = 8
	results := make([]int, tickers)
	errs := make([]error, tickers)

	var wg sync.WaitGroup
	wg.Add(tickers)
	for i := 0; i < tickers; i++ {
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = ticker.Tick(context.Background())
		}(i)
	}
	wg.Wait()

	total := 0
	for i := range results {
		require.NoError(t, errs[i])
		total += results[i]
	}
	assert.Equal(t, 1, total, "exactly one ticker may win the claim")
	assert.Equal(t, 1, pub.callCount(), "the post must be published exactly once")
}

func TestTickReclaimsStalePublishingLock(t *testing.T) {
	f, ticker := newTickerFixture(t)

	// A post wedged in publishing by a crashed worker ten minutes ago.
	post := f.posts.add(&models.Post{
		UserID:        1,
		Status:        models.PostStatusPublishing,
		ScheduledTime: sql.NullTime{Time: time.Now().UTC().Add(-10 * time.Minute), Valid: true},
		UpdatedAt:     time.Now().UTC().Add(-10 * time.Minute),
	})
	f.assocs.add(&models.PostChannelAssociation{PostID: post.ID, ChannelID: 1, Status: models.AssociationStatusPending})

	processed, err := ticker.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, models.PostStatusSent, f.posts.snapshot(post.ID).Status)
}

func TestTickLeavesFreshPublishingLockAlone(t *testing.T) {
	f, ticker := newTickerFixture(t)

	post := f.posts.add(&models.Post{
		UserID:        1,
		Status:        models.PostStatusPublishing,
		ScheduledTime: sql.NullTime{Time: time.Now().UTC().Add(-time.Minute), Valid: true},
		UpdatedAt:     time.Now().UTC(),
	})

	processed, err := ticker.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	assert.Equal(t, models.PostStatusPublishing, f.posts.snapshot(post.ID).Status)
}

func TestTickResetsPostOnPipelineError(t *testing.T) {
	f, ticker := newTickerFixture(t)
	f.resolver.err = errors.New("bucket unavailable")

	post := duePost(f, time.Now().UTC().Add(-time.Minute))
	_, err := f.media.Create(context.Background(), nil, &models.PostMedia{PostID: post.ID, MediaKey: "img.png", MediaType: "image"})
	require.NoError(t, err)

	_, err = ticker.Tick(context.Background())
	require.NoError(t, err)

	got := f.posts.snapshot(post.ID)
	assert.Equal(t, models.PostStatusScheduled, got.Status, "the post goes back to scheduled for the next tick")
	assert.Equal(t, 1, f.posts.resets)
}

func TestTickerStartStopIdempotent(t *testing.T) {
	_, ticker := newTickerFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticker.Start(ctx)
	ticker.Start(ctx) // second start is a no-op
	ticker.Stop()
	ticker.Stop() // and so is a second stop
}
