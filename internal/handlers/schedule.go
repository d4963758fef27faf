package handlers

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"nodeflow/internal/models"
	"nodeflow/internal/services"
)

// ScheduleHandler handles schedule-related HTTP requests
type ScheduleHandler struct {
	schedulerService *services.SchedulerService
	workflowService  *services.WorkflowService
}

func NewScheduleHandler(schedulerService *services.SchedulerService, workflowService *services.WorkflowService) *ScheduleHandler {
	return &ScheduleHandler{
		schedulerService: schedulerService,
		workflowService:  workflowService,
	}
}

// Set creates or replaces a workflow's schedule
// PUT /api/workflows/:id/schedule
func (h *ScheduleHandler) Set(c *fiber.Ctx) error {
	workflowID := c.Params("id")

	if _, err := h.workflowService.Get(workflowID); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Workflow not found",
		})
	}

	var req models.SetScheduleRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.CronExpression == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "cronExpression is required",
		})
	}

	log.Printf("📅 [SCHEDULE] Setting schedule for workflow %s (cron: %s)", workflowID, req.CronExpression)

	if !h.schedulerService.SetSchedule(workflowID, &req) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid cron expression",
		})
	}

	cfg := h.schedulerService.GetSchedule(workflowID)
	return c.JSON(services.ScheduleResponse(cfg))
}

// Get returns a workflow's schedule
// GET /api/workflows/:id/schedule
func (h *ScheduleHandler) Get(c *fiber.Ctx) error {
	cfg := h.schedulerService.GetSchedule(c.Params("id"))
	if cfg == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Schedule not found",
		})
	}
	return c.JSON(services.ScheduleResponse(cfg))
}

// Toggle enables or disables a schedule without replacing it
// POST /api/workflows/:id/schedule/toggle
func (h *ScheduleHandler) Toggle(c *fiber.Ctx) error {
	var req models.ToggleScheduleRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if !h.schedulerService.ToggleSchedule(c.Params("id"), req.Enabled) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Schedule not found",
		})
	}

	cfg := h.schedulerService.GetSchedule(c.Params("id"))
	return c.JSON(services.ScheduleResponse(cfg))
}

// Delete removes a workflow's schedule
// DELETE /api/workflows/:id/schedule
func (h *ScheduleHandler) Delete(c *fiber.Ctx) error {
	if !h.schedulerService.RemoveSchedule(c.Params("id")) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Schedule not found",
		})
	}
	return c.JSON(fiber.Map{"deleted": true})
}

// List returns all schedules
// GET /api/schedules
func (h *ScheduleHandler) List(c *fiber.Ctx) error {
	schedules := h.schedulerService.GetAllSchedules()
	responses := make([]*models.ScheduleResponse, 0, len(schedules))
	for _, cfg := range schedules {
		responses = append(responses, services.ScheduleResponse(cfg))
	}
	return c.JSON(fiber.Map{"schedules": responses})
}

// Presets returns the named cron presets for the schedule picker
// GET /api/schedules/presets
func (h *ScheduleHandler) Presets(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"presets": services.CronPresets})
}
