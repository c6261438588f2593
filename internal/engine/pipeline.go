package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/postlyhq/postly/internal/models"
	"github.com/postlyhq/postly/internal/platform"
	"github.com/postlyhq/postly/internal/repository"
)

// MediaURLResolver turns a stored media key into a URL a platform can fetch.
type MediaURLResolver interface {
	ResolveURL(ctx context.Context, key string) (string, error)
}

// PublisherRegistry resolves a channel's platform to its publisher client.
type PublisherRegistry interface {
	PublisherFor(platformName string) (platform.Publisher, bool)
}

// Pipeline publishes one claimed post to each of its pending channels.
// Associations already sent are never re-published; per-channel failures are
// recorded on the association and joined into the post-level error summary.
type Pipeline struct {
	posts    repository.PostRepository
	assocs   repository.AssociationRepository
	channels repository.ChannelRepository
	media    repository.PostMediaRepository
	registry PublisherRegistry
	resolver MediaURLResolver
}

func NewPipeline(
	posts repository.PostRepository,
	assocs repository.AssociationRepository,
	channels repository.ChannelRepository,
	media repository.PostMediaRepository,
	registry PublisherRegistry,
	resolver MediaURLResolver) *Pipeline {
	return &Pipeline{
		posts:    posts,
		assocs:   assocs,
		channels: channels,
		media:    media,
		registry: registry,
		resolver: resolver,
	}
}

// PublishClaimed runs the publish attempt for a post already moved to
// publishing by a claim. It resolves the post to sent when at least one
// channel succeeded and failed when none did. The returned error is reserved
// for engine-level trouble (the caller resets the post for retry on it);
// per-channel errors never surface here.
func (p *Pipeline) PublishClaimed(ctx context.Context, post *models.Post) error {
	assocs, err := p.assocs.ListByPostID(ctx, post.ID)
	if err != nil {
		return fmt.Errorf("listing associations for post %d: %w", post.ID, err)
	}
	if len(assocs) == 0 {
		slog.Warn("post has no channel associations", "post_id", post.ID)
		return p.posts.MarkFailed(ctx, post.ID)
	}

	content, err := p.buildContent(ctx, post)
	if err != nil {
		return fmt.Errorf("building content for post %d: %w", post.ID, err)
	}

	sentCount := 0
	var errs []string

	for _, assoc := range assocs {
		if assoc.Status == models.AssociationStatusSent {
			sentCount++
			continue
		}

		platformPostID, pubErr := p.publishOne(ctx, assoc, content)
		if pubErr != nil {
			errs = append(errs, pubErr.Error())
			if err := p.assocs.MarkFailed(ctx, assoc.ID, pubErr.Error()); err != nil {
				slog.Info(err.Error())
			}
			continue
		}

		if err := p.assocs.MarkSent(ctx, assoc.ID, platformPostID); err != nil {
			slog.Info(err.Error())
		}
		sentCount++
	}

	if len(errs) > 0 {
		slog.Warn("post published with channel errors", "post_id", post.ID, "errors", strings.Join(errs, " | "))
	}

	if sentCount > 0 {
		return p.posts.MarkSent(ctx, post.ID, time.Now().UTC())
	}
	return p.posts.MarkFailed(ctx, post.ID)
}

func (p *Pipeline) publishOne(ctx context.Context, assoc *models.PostChannelAssociation, content *platform.PostContent) (string, error) {
	channel, err := p.channels.GetByID(ctx, assoc.ChannelID)
	if err != nil {
		return "", fmt.Errorf("channel %d: %w", assoc.ChannelID, err)
	}
	if channel == nil {
		return "", fmt.Errorf("channel %d not found", assoc.ChannelID)
	}
	if channel.AccessToken == "" {
		return "", fmt.Errorf("no access token for channel %s", channel.Name)
	}

	publisher, ok := p.registry.PublisherFor(channel.Platform)
	if !ok {
		return "", fmt.Errorf("platform %s not supported for publishing", channel.Platform)
	}

	platformPostID, err := publisher.Publish(ctx, channel.PlatformPageID, content, channel.AccessToken)
	if err != nil {
		return "", fmt.Errorf("publishing to %s: %w", channel.Name, err)
	}
	return platformPostID, nil
}

func (p *Pipeline) buildContent(ctx context.Context, post *models.Post) (*platform.PostContent, error) {
	content := &platform.PostContent{
		Title:   post.Title,
		Caption: post.Caption,
		Body:    post.Content,
	}

	media, err := p.media.ListByPostID(ctx, post.ID)
	if err != nil {
		return nil, err
	}

	for _, m := range media {
		url, err := p.resolver.ResolveURL(ctx, m.MediaKey)
		if err != nil {
			// A broken media link fails the whole attempt; retried next tick.
			return nil, fmt.Errorf("resolving media %s: %w", m.MediaKey, err)
		}
		content.Media = append(content.Media, platform.MediaRef{URL: url, Type: m.MediaType})
	}

	return content, nil
}
