// Package platform wraps the external social-platform collaborators. The
// engine talks to the interfaces here; the concrete clients make blocking
// HTTP calls with explicit timeouts and are never invoked while a database
// transaction is open.
package platform

import (
	"context"
	"time"
)

type MediaRef struct {
	URL  string
	Type string // image, video
}

// PostContent is what a publisher needs to create a platform post.
type PostContent struct {
	Title   string
	Caption string
	Body    string
	Media   []MediaRef
}

// Metrics are engagement counts for one platform post. Absent values stay 0.
type Metrics struct {
	Impressions int64
	Reach       int64
	Clicks      int64
	Likes       int64
	Comments    int64
	Shares      int64
	Saves       int64
	VideoViews  int64
}

// Publisher posts content to one destination account.
type Publisher interface {
	Publish(ctx context.Context, pageID string, content *PostContent, accessToken string) (string, error)
}

// InsightsFetcher returns engagement metrics for an already-published post.
type InsightsFetcher interface {
	FetchInsights(ctx context.Context, platformPostID, accessToken string) (*Metrics, error)
}

// ExistenceChecker distinguishes a deleted post from a transient error before
// the multi-call family spends further requests on it.
type ExistenceChecker interface {
	CheckExists(ctx context.Context, platformPostID, accessToken string) (bool, error)
}

// HistoryPost is one already-published post discovered during history import.
type HistoryPost struct {
	PlatformPostID string
	Message        string
	CreatedTime    time.Time
}

// HistoryLister pages through a channel's published posts.
type HistoryLister interface {
	ListPagePosts(ctx context.Context, pageID, accessToken string, limit int) ([]*HistoryPost, error)
}

// Registry resolves a channel's platform to its client family.
type Registry struct {
	Facebook *FacebookClient
	Tiktok   *TiktokClient
}

func (r *Registry) PublisherFor(platformName string) (Publisher, bool) {
	switch platformName {
	case "facebook", "instagram":
		return r.Facebook, r.Facebook != nil
	case "tiktok":
		return r.Tiktok, r.Tiktok != nil
	}
	return nil, false
}

func (r *Registry) FetcherFor(platformName string) (InsightsFetcher, bool) {
	switch platformName {
	case "facebook", "instagram":
		return r.Facebook, r.Facebook != nil
	case "tiktok":
		return r.Tiktok, r.Tiktok != nil
	}
	return nil, false
}
