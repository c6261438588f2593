package handlers

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/postlyhq/postly/internal/engine"
	"github.com/postlyhq/postly/internal/models"
	"github.com/postlyhq/postly/internal/repository"
)

type AnalyticsHandler struct {
	posts     repository.PostRepository
	assocs    repository.AssociationRepository
	analytics repository.AnalyticsRepository
	o         *engine.Orchestrator
}

func NewAnalyticsHandler(
	posts repository.PostRepository,
	assocs repository.AssociationRepository,
	analytics repository.AnalyticsRepository,
	orchestrator *engine.Orchestrator) *AnalyticsHandler {
	return &AnalyticsHandler{
		posts:     posts,
		assocs:    assocs,
		analytics: analytics,
		o:         orchestrator,
	}
}

type associationAnalytics struct {
	AssociationID  int64                     `json:"association_id"`
	ChannelID      int64                     `json:"channel_id"`
	PlatformPostID string                    `json:"platform_post_id"`
	Status         string                    `json:"status"`
	HasAnalytics   bool                      `json:"has_analytics"`
	Metrics        *models.AnalyticsSnapshot `json:"metrics,omitempty"`
	EngagementRate float64                   `json:"engagement_rate"`
}

// GetPostAnalytics returns per-channel metrics for one post. Reading
// analytics also arms the auto-refresh trigger: when enough associations
// have gone stale, a reuse-existing refresh job is enqueued in the
// background and the read returns immediately with what is on hand.
func (h *AnalyticsHandler) GetPostAnalytics(c *fiber.Ctx) error {
	userID := GetUserID(c)
	postID := c.QueryInt("id", 0)

	owned, err := h.posts.CheckByUserID(c.Context(), int64(postID), userID)
	if err != nil || !owned {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Post not found",
		})
	}

	if _, err := h.o.MaybeAutoRefresh(c.Context(), models.JobScope{UserID: userID}); err != nil {
		slog.Info(err.Error())
	}

	assocs, err := h.assocs.ListByPostID(c.Context(), int64(postID))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to load analytics",
		})
	}

	results := make([]associationAnalytics, 0, len(assocs))
	for _, assoc := range assocs {
		item := associationAnalytics{
			AssociationID:  assoc.ID,
			ChannelID:      assoc.ChannelID,
			PlatformPostID: assoc.PlatformPostID,
			Status:         assoc.Status,
		}

		snapshot, err := h.analytics.GetByAssociationID(c.Context(), assoc.ID)
		if err == nil && snapshot != nil {
			item.HasAnalytics = true
			item.Metrics = snapshot
			item.EngagementRate = snapshot.EngagementRate()
		}
		results = append(results, item)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"post_id":  postID,
		"channels": results,
	})
}
