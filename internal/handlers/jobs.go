package handlers

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/tansy/pkg/models"
	"github.com/Ramsey-B/tansy/pkg/policy"
	"github.com/Ramsey-B/tansy/pkg/triage"
)

// JobHandler handles job triage requests
type JobHandler struct {
	controller *triage.Controller
}

// NewJobHandler creates a new job handler
func NewJobHandler(controller *triage.Controller) *JobHandler {
	return &JobHandler{controller: controller}
}

// RegisterRoutes registers the job triage routes
func (h *JobHandler) RegisterRoutes(g *echo.Group) {
	jobs := g.Group("/jobs")
	jobs.GET("", h.Load)
	jobs.GET("/view", h.View)
	jobs.POST("/:id/retry", h.Retry)
	jobs.PATCH("/:id/triage", h.Patch)
	jobs.GET("/:id/events", h.Events)
	jobs.POST("/selection/:id/toggle", h.ToggleSelect)
	jobs.POST("/selection/all", h.SelectAll)
	jobs.DELETE("/selection", h.ClearSelection)
	jobs.POST("/bulk/retry", h.BulkRetry)
	jobs.POST("/bulk/triage", h.BulkPatch)
}

// Load handles GET /jobs: fetches a page from the pipeline backend using the
// query string as filters and replaces the triage workspace.
func (h *JobHandler) Load(c echo.Context) error {
	filters, err := parseJobFilters(c)
	if err != nil {
		return err
	}

	view, err := h.controller.Load(c.Request().Context(), filters)
	if err != nil {
		return err
	}
	return SuccessResponse(c, view)
}

// View handles GET /jobs/view: the workspace as loaded, no refetch.
func (h *JobHandler) View(c echo.Context) error {
	return SuccessResponse(c, h.controller.View())
}

// Retry handles POST /jobs/:id/retry
func (h *JobHandler) Retry(c echo.Context) error {
	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	job, err := h.controller.Retry(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return SuccessResponse(c, job)
}

// Patch handles PATCH /jobs/:id/triage
func (h *JobHandler) Patch(c echo.Context) error {
	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	var patch models.TriagePatch
	if err := c.Bind(&patch); err != nil {
		return BadRequest("invalid request body")
	}

	job, err := h.controller.Patch(c.Request().Context(), id, patch)
	if err != nil {
		return fieldErrorsToHTTP(err)
	}
	return SuccessResponse(c, job)
}

// Events handles GET /jobs/:id/events
func (h *JobHandler) Events(c echo.Context) error {
	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	events, err := h.controller.Events(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return SuccessResponse(c, events)
}

// ToggleSelect handles POST /jobs/selection/:id/toggle
func (h *JobHandler) ToggleSelect(c echo.Context) error {
	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	view, err := h.controller.ToggleSelect(id)
	if err != nil {
		return err
	}
	return SuccessResponse(c, view)
}

// SelectAll handles POST /jobs/selection/all
func (h *JobHandler) SelectAll(c echo.Context) error {
	return SuccessResponse(c, h.controller.SelectAll())
}

// ClearSelection handles DELETE /jobs/selection
func (h *JobHandler) ClearSelection(c echo.Context) error {
	return SuccessResponse(c, h.controller.ClearSelection())
}

// BulkRetry handles POST /jobs/bulk/retry
func (h *JobHandler) BulkRetry(c echo.Context) error {
	result, err := h.controller.BulkRetry(c.Request().Context())
	if err != nil {
		return err
	}
	return SuccessResponse(c, result)
}

// BulkPatch handles POST /jobs/bulk/triage
func (h *JobHandler) BulkPatch(c echo.Context) error {
	var patch models.TriagePatch
	if err := c.Bind(&patch); err != nil {
		return BadRequest("invalid request body")
	}

	view, err := h.controller.BulkPatch(c.Request().Context(), patch)
	if err != nil {
		if policy.IsFieldErrors(err) {
			return fieldErrorsToHTTP(err)
		}
		// Partial failures still return the updated view so the caller sees
		// which jobs went through; the error rides along in the body.
		return c.JSON(207, map[string]any{
			"view":  view,
			"error": err.Error(),
		})
	}
	return SuccessResponse(c, view)
}

func fieldErrorsToHTTP(err error) error {
	if fieldErrs, ok := err.(policy.FieldErrors); ok {
		return fieldErrs.ToHTTPError()
	}
	return err
}

func parseJobFilters(c echo.Context) (models.JobFilters, error) {
	filters := models.JobFilters{
		Status:      models.JobStatus(c.QueryParam("status")),
		JobType:     models.JobType(c.QueryParam("job_type")),
		TriageState: models.TriageState(c.QueryParam("triage_state")),
		AssignedTo:  c.QueryParam("assigned_to"),
		Tag:         c.QueryParam("tag"),
	}

	if filters.JobType != "" && !filters.JobType.Valid() {
		return filters, BadRequest("unknown job type")
	}
	if filters.TriageState != "" && !filters.TriageState.Valid() {
		return filters, BadRequest("unknown triage state")
	}

	if v := c.QueryParam("sla_breached"); v != "" {
		filters.SLABreached = v == "true"
	}
	if v := c.QueryParam("dead_letter_only"); v != "" {
		filters.DeadLetterOnly = v == "true"
	}
	if v := c.QueryParam("asset_id"); v != "" {
		assetID, err := uuid.Parse(v)
		if err != nil {
			return filters, BadRequest("invalid asset_id")
		}
		filters.AssetID = &assetID
	}
	if v := c.QueryParam("created_after"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filters, BadRequest("invalid created_after: must be RFC3339")
		}
		filters.CreatedAfter = &t
	}
	if v := c.QueryParam("created_before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filters, BadRequest("invalid created_before: must be RFC3339")
		}
		filters.CreatedBefore = &t
	}
	if v := c.QueryParam("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 1 {
			return filters, BadRequest("invalid page")
		}
		filters.Page = page
	}
	if v := c.QueryParam("page_size"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil || size < 1 {
			return filters, BadRequest("invalid page_size")
		}
		filters.Limit = size
	}

	return filters, nil
}
