package handlers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"nodeflow/internal/models"
	"nodeflow/internal/services"
)

// WorkflowHandler handles workflow CRUD and structure edits
type WorkflowHandler struct {
	workflowService *services.WorkflowService
}

func NewWorkflowHandler(workflowService *services.WorkflowService) *WorkflowHandler {
	return &WorkflowHandler{workflowService: workflowService}
}

// Create creates a new workflow
// POST /api/workflows
func (h *WorkflowHandler) Create(c *fiber.Ctx) error {
	var wf models.Workflow
	if err := c.BodyParser(&wf); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	created, err := h.workflowService.Create(&wf)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

// List returns all workflows
// GET /api/workflows
func (h *WorkflowHandler) List(c *fiber.Ctx) error {
	workflows, err := h.workflowService.List()
	if err != nil {
		log.Printf("❌ [WORKFLOW] Failed to list workflows: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list workflows",
		})
	}
	if workflows == nil {
		workflows = []*models.Workflow{}
	}
	return c.JSON(fiber.Map{"workflows": workflows})
}

// Get returns one workflow
// GET /api/workflows/:id
func (h *WorkflowHandler) Get(c *fiber.Ctx) error {
	wf, err := h.workflowService.Get(c.Params("id"))
	if err != nil {
		return workflowError(c, err)
	}
	return c.JSON(wf)
}

// Update replaces a workflow definition
// PUT /api/workflows/:id
func (h *WorkflowHandler) Update(c *fiber.Ctx) error {
	var wf models.Workflow
	if err := c.BodyParser(&wf); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	updated, err := h.workflowService.Update(c.Params("id"), &wf)
	if err != nil {
		return workflowError(c, err)
	}
	return c.JSON(updated)
}

// Delete removes a workflow
// DELETE /api/workflows/:id
func (h *WorkflowHandler) Delete(c *fiber.Ctx) error {
	if err := h.workflowService.Delete(c.Params("id")); err != nil {
		return workflowError(c, err)
	}
	return c.JSON(fiber.Map{"deleted": true})
}

// AddNode appends a node
// POST /api/workflows/:id/nodes
func (h *WorkflowHandler) AddNode(c *fiber.Ctx) error {
	var node models.Node
	if err := c.BodyParser(&node); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	wf, err := h.workflowService.AddNode(c.Params("id"), node)
	if err != nil {
		return workflowError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(wf)
}

// UpdateNode replaces a node
// PUT /api/workflows/:id/nodes/:nodeId
func (h *WorkflowHandler) UpdateNode(c *fiber.Ctx) error {
	var node models.Node
	if err := c.BodyParser(&node); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	wf, err := h.workflowService.UpdateNode(c.Params("id"), c.Params("nodeId"), node)
	if err != nil {
		return workflowError(c, err)
	}
	return c.JSON(wf)
}

// DeleteNode removes a node and its incident edges
// DELETE /api/workflows/:id/nodes/:nodeId
func (h *WorkflowHandler) DeleteNode(c *fiber.Ctx) error {
	wf, err := h.workflowService.DeleteNode(c.Params("id"), c.Params("nodeId"))
	if err != nil {
		return workflowError(c, err)
	}
	return c.JSON(wf)
}

// AddEdge connects two nodes
// POST /api/workflows/:id/edges
func (h *WorkflowHandler) AddEdge(c *fiber.Ctx) error {
	var edge models.Edge
	if err := c.BodyParser(&edge); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	wf, err := h.workflowService.AddEdge(c.Params("id"), edge)
	if err != nil {
		return workflowError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(wf)
}

// DeleteEdge removes an edge
// DELETE /api/workflows/:id/edges/:edgeId
func (h *WorkflowHandler) DeleteEdge(c *fiber.Ctx) error {
	wf, err := h.workflowService.DeleteEdge(c.Params("id"), c.Params("edgeId"))
	if err != nil {
		return workflowError(c, err)
	}
	return c.JSON(wf)
}

func workflowError(c *fiber.Ctx, err error) error {
	if errors.Is(err, services.ErrWorkflowNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Workflow not found",
		})
	}
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": err.Error(),
	})
}
