package handlers

import (
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/tansy/pkg/telemetry"
)

// TelemetryHandler serves queue health snapshots
type TelemetryHandler struct {
	poller *telemetry.Poller
}

// NewTelemetryHandler creates a new telemetry handler
func NewTelemetryHandler(poller *telemetry.Poller) *TelemetryHandler {
	return &TelemetryHandler{poller: poller}
}

// RegisterRoutes registers the telemetry routes
func (h *TelemetryHandler) RegisterRoutes(g *echo.Group) {
	t := g.Group("/telemetry")
	t.GET("", h.Get)
	t.POST("/refresh", h.Refresh)
}

// Get handles GET /telemetry
func (h *TelemetryHandler) Get(c echo.Context) error {
	return SuccessResponse(c, h.poller.Telemetry())
}

// Refresh handles POST /telemetry/refresh: one out-of-cycle poll.
func (h *TelemetryHandler) Refresh(c echo.Context) error {
	h.poller.Refresh(c.Request().Context())
	return SuccessResponse(c, h.poller.Telemetry())
}
