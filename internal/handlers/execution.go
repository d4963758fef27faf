package handlers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"nodeflow/internal/execution"
	"nodeflow/internal/services"
)

// ExecutionHandler handles run and debug-session HTTP requests
type ExecutionHandler struct {
	executionService *services.ExecutionService
	registry         *execution.Registry
}

func NewExecutionHandler(executionService *services.ExecutionService, registry *execution.Registry) *ExecutionHandler {
	return &ExecutionHandler{
		executionService: executionService,
		registry:         registry,
	}
}

// NodeTypes returns the registered node palette
// GET /api/node-types
func (h *ExecutionHandler) NodeTypes(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"nodeTypes": h.registry.Definitions()})
}

// Execute runs a workflow. Without a debug mode the run is synchronous and
// the final result is returned; with one, the run starts in the background
// and the execution id is returned for the debug endpoints and the
// websocket stream.
// POST /api/workflows/:id/execute
func (h *ExecutionHandler) Execute(c *fiber.Ctx) error {
	workflowID := c.Params("id")

	req := new(services.ExecutionRequest)
	if len(c.Body()) > 0 {
		if err := c.BodyParser(req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
	}

	if req.DebugMode != "" && req.DebugMode != string(execution.DebugModeOff) {
		executionID, err := h.executionService.StartDebug(workflowID, req)
		if err != nil {
			return executionError(c, err)
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"execution_id": executionID,
			"status":       "started",
			"debug_mode":   req.DebugMode,
		})
	}

	result, err := h.executionService.Execute(workflowID, req.Input)
	if err != nil && result == nil {
		return executionError(c, err)
	}
	return c.JSON(result)
}

// Status returns the inspection surface of a run
// GET /api/executions/:id
func (h *ExecutionHandler) Status(c *fiber.Ctx) error {
	status, err := h.executionService.Status(c.Params("id"))
	if err != nil {
		return executionError(c, err)
	}
	return c.JSON(status)
}

// Step advances a paused debug session by one node
// POST /api/executions/:id/step
func (h *ExecutionHandler) Step(c *fiber.Ctx) error {
	if err := h.executionService.StepOver(c.Params("id")); err != nil {
		return executionError(c, err)
	}
	return c.JSON(fiber.Map{"status": "stepping"})
}

// Resume releases a paused debug session
// POST /api/executions/:id/resume
func (h *ExecutionHandler) Resume(c *fiber.Ctx) error {
	if err := h.executionService.Resume(c.Params("id")); err != nil {
		return executionError(c, err)
	}
	return c.JSON(fiber.Map{"status": "running"})
}

// Abort cancels a run
// POST /api/executions/:id/abort
func (h *ExecutionHandler) Abort(c *fiber.Ctx) error {
	if err := h.executionService.Abort(c.Params("id")); err != nil {
		return executionError(c, err)
	}
	log.Printf("🛑 [EXEC] Abort requested for execution %s", c.Params("id"))
	return c.JSON(fiber.Map{"status": "aborted"})
}

// SetBreakpoints replaces a live run's breakpoint set
// PUT /api/executions/:id/breakpoints
func (h *ExecutionHandler) SetBreakpoints(c *fiber.Ctx) error {
	var req struct {
		Breakpoints []string `json:"breakpoints"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := h.executionService.SetBreakpoints(c.Params("id"), req.Breakpoints); err != nil {
		return executionError(c, err)
	}
	return c.JSON(fiber.Map{"breakpoints": req.Breakpoints})
}

func executionError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrExecutionNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Execution not found",
		})
	case errors.Is(err, services.ErrWorkflowNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Workflow not found",
		})
	case errors.Is(err, services.ErrWorkflowBusy):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
		})
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
}
