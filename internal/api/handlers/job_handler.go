package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/postlyhq/postly/internal/engine"
	"github.com/postlyhq/postly/internal/models"
)

// JobHandler is the polling surface for background jobs: enqueue returns a
// descriptor immediately, clients poll by scope or by job id.
type JobHandler struct {
	o *engine.Orchestrator
}

func NewJobHandler(orchestrator *engine.Orchestrator) *JobHandler {
	return &JobHandler{o: orchestrator}
}

func scopeFromQuery(c *fiber.Ctx) models.JobScope {
	scope := models.JobScope{UserID: GetUserID(c)}
	if channelID := c.QueryInt("channel_id", 0); channelID != 0 {
		id := int64(channelID)
		scope.ChannelID = &id
	}
	return scope
}

func (h *JobHandler) EnqueueImport(c *fiber.Ctx) error {
	scope := scopeFromQuery(c)
	reuse := c.QueryBool("reuse_existing", true)

	job, err := h.o.EnqueueImport(c.Context(), scope, reuse)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to start import job",
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(job.Describe())
}

func (h *JobHandler) EnqueueRefresh(c *fiber.Ctx) error {
	scope := scopeFromQuery(c)
	reuse := c.QueryBool("reuse_existing", true)

	job, err := h.o.EnqueueRefresh(c.Context(), scope, reuse)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to start refresh job",
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(job.Describe())
}

func (h *JobHandler) LatestImport(c *fiber.Ctx) error {
	job, err := h.o.LatestImport(c.Context(), scopeFromQuery(c))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to load import job",
		})
	}
	if job == nil {
		return c.Status(fiber.StatusOK).JSON(nil)
	}
	return c.Status(fiber.StatusOK).JSON(job.Describe())
}

func (h *JobHandler) LatestRefresh(c *fiber.Ctx) error {
	job, err := h.o.LatestRefresh(c.Context(), scopeFromQuery(c))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to load refresh job",
		})
	}
	if job == nil {
		return c.Status(fiber.StatusOK).JSON(nil)
	}
	return c.Status(fiber.StatusOK).JSON(job.Describe())
}

func (h *JobHandler) ImportByID(c *fiber.Ctx) error {
	userID := GetUserID(c)

	job, err := h.o.ImportByPublicID(c.Context(), c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to load import job",
		})
	}
	if job == nil || job.UserID != userID {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Job not found",
		})
	}
	return c.Status(fiber.StatusOK).JSON(job.Describe())
}

func (h *JobHandler) RefreshByID(c *fiber.Ctx) error {
	userID := GetUserID(c)

	job, err := h.o.RefreshByPublicID(c.Context(), c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to load refresh job",
		})
	}
	if job == nil || job.UserID != userID {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Job not found",
		})
	}
	return c.Status(fiber.StatusOK).JSON(job.Describe())
}
