package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/postlyhq/postly/internal/models"
	"github.com/postlyhq/postly/internal/platform"
	"github.com/postlyhq/postly/internal/repository"
)

// Importer pulls a channel's already-published history into the database so
// analytics refresh can pick it up. Imported posts arrive as sent with a sent
// association; the dedup key is the platform post id, so re-running an import
// never duplicates rows.
type Importer struct {
	posts    repository.PostRepository
	assocs   repository.AssociationRepository
	channels repository.ChannelRepository
	lister   platform.HistoryLister
	maxPosts int
}

func NewImporter(
	posts repository.PostRepository,
	assocs repository.AssociationRepository,
	channels repository.ChannelRepository,
	lister platform.HistoryLister,
	maxPosts int) *Importer {
	if maxPosts < 1 {
		maxPosts = 200
	}
	return &Importer{
		posts:    posts,
		assocs:   assocs,
		channels: channels,
		lister:   lister,
		maxPosts: maxPosts,
	}
}

// Run walks the scoped channels and imports up to the per-job cap across all
// of them. report, when set, fires after each channel so the job row tracks
// mid-flight progress. Per-channel errors are logged and skipped; the run
// only fails when every channel the import could have read failed. Channels
// on platforms without history import do not count toward that check.
func (i *Importer) Run(ctx context.Context, scope models.JobScope, report func(found, added int)) (found, added int, err error) {
	channels, err := i.scopedChannels(ctx, scope)
	if err != nil {
		return 0, 0, err
	}
	if len(channels) == 0 {
		return 0, 0, fmt.Errorf("no connected channels to import from")
	}

	importable := 0
	channelErrors := 0
	for _, channel := range channels {
		if added >= i.maxPosts {
			break
		}
		if channel.Platform != models.PlatformFacebook {
			slog.Info("skipping channel for history import", "channel_id", channel.ID, "platform", channel.Platform)
			continue
		}
		importable++
		if channel.AccessToken == "" {
			slog.Warn("skipping channel with no access token", "channel_id", channel.ID)
			channelErrors++
			continue
		}

		history, listErr := i.lister.ListPagePosts(ctx, channel.PlatformPageID, channel.AccessToken, i.maxPosts-added)
		if listErr != nil {
			slog.Warn("failed to list page posts", "channel_id", channel.ID, "error", listErr)
			channelErrors++
			continue
		}
		found += len(history)

		for _, h := range history {
			imported, impErr := i.importOne(ctx, channel, h)
			if impErr != nil {
				slog.Info(impErr.Error())
				continue
			}
			if imported {
				added++
			}
			if added >= i.maxPosts {
				break
			}
		}

		if report != nil {
			report(found, added)
		}
	}

	if importable > 0 && channelErrors == importable {
		return found, added, fmt.Errorf("all %d importable channels failed during import", importable)
	}
	return found, added, nil
}

func (i *Importer) importOne(ctx context.Context, channel *models.Channel, h *platform.HistoryPost) (bool, error) {
	exists, err := i.assocs.ExistsByPlatformPostID(ctx, channel.ID, h.PlatformPostID)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	post := &models.Post{
		UserID:         channel.UserID,
		Content:        h.Message,
		Caption:        h.Message,
		Status:         models.PostStatusSent,
		SentTime:       sql.NullTime{Time: h.CreatedTime, Valid: !h.CreatedTime.IsZero()},
		ApprovalStatus: models.ApprovalNone,
	}
	postID, err := i.posts.Create(ctx, nil, post)
	if err != nil {
		return false, err
	}

	assoc := &models.PostChannelAssociation{
		PostID:         postID,
		ChannelID:      channel.ID,
		PlatformPostID: h.PlatformPostID,
		Status:         models.AssociationStatusSent,
	}
	if _, err := i.assocs.Create(ctx, nil, assoc); err != nil {
		return false, err
	}

	return true, nil
}

func (i *Importer) scopedChannels(ctx context.Context, scope models.JobScope) ([]*models.Channel, error) {
	if scope.ChannelID != nil {
		channel, err := i.channels.GetByID(ctx, *scope.ChannelID)
		if err != nil {
			return nil, err
		}
		if channel == nil {
			return nil, fmt.Errorf("channel %d not found", *scope.ChannelID)
		}
		return []*models.Channel{channel}, nil
	}
	return i.channels.ListByUserID(ctx, scope.UserID)
}
