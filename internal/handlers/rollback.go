package handlers

import (
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/tansy/pkg/models"
	"github.com/Ramsey-B/tansy/pkg/rollback"
)

// RollbackHandler handles the staged rollback workflow
type RollbackHandler struct {
	controller *rollback.Controller
}

// NewRollbackHandler creates a new rollback handler
func NewRollbackHandler(controller *rollback.Controller) *RollbackHandler {
	return &RollbackHandler{controller: controller}
}

// RegisterRoutes registers the rollback routes
func (h *RollbackHandler) RegisterRoutes(g *echo.Group) {
	r := g.Group("/rollback")
	r.GET("", h.View)
	r.POST("/apply", h.Apply)
	r.POST("/cancel", h.Cancel)
	g.POST("/policies/:jobType/rollback/stage", h.Stage)
}

// View handles GET /rollback
func (h *RollbackHandler) View(c echo.Context) error {
	return SuccessResponse(c, h.controller.View())
}

// Stage handles POST /policies/:jobType/rollback/stage
func (h *RollbackHandler) Stage(c echo.Context) error {
	jobType, err := ParseJobType(c)
	if err != nil {
		return err
	}

	var target models.RollbackRequest
	if err := c.Bind(&target); err != nil {
		return BadRequest("invalid request body")
	}

	view, err := h.controller.Stage(c.Request().Context(), jobType, target)
	if err != nil {
		return err
	}
	return SuccessResponse(c, view)
}

// Apply handles POST /rollback/apply
func (h *RollbackHandler) Apply(c echo.Context) error {
	view, err := h.controller.Apply(c.Request().Context(), GetActorID(c))
	if err != nil {
		return err
	}
	return SuccessResponse(c, view)
}

// Cancel handles POST /rollback/cancel
func (h *RollbackHandler) Cancel(c echo.Context) error {
	view, err := h.controller.Cancel()
	if err != nil {
		return err
	}
	return SuccessResponse(c, view)
}
