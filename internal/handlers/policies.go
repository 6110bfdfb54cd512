package handlers

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/tansy/pkg/history"
	"github.com/Ramsey-B/tansy/pkg/models"
	"github.com/Ramsey-B/tansy/pkg/policies"
	"github.com/Ramsey-B/tansy/pkg/policy"
	"github.com/Ramsey-B/tansy/pkg/schedule"
)

// PresetLister resolves all presets for a job type.
type PresetLister interface {
	List(ctx context.Context, jobType models.JobType) ([]models.RetryPolicyPreset, error)
}

// PolicyHandler handles retry policy governance requests
type PolicyHandler struct {
	store   *policies.Store
	history *history.Store
	presets PresetLister
}

// NewPolicyHandler creates a new policy handler
func NewPolicyHandler(store *policies.Store, historyStore *history.Store, presets PresetLister) *PolicyHandler {
	return &PolicyHandler{
		store:   store,
		history: historyStore,
		presets: presets,
	}
}

// DraftRequest is the request body for updating a policy draft. ScheduleText
// is raw operator input; it is not validated until save.
type DraftRequest struct {
	MaxAttempts  int     `json:"max_attempts"`
	ScheduleText string  `json:"schedule_text"`
	JitterRatio  float64 `json:"jitter_ratio"`
	Enabled      bool    `json:"enabled"`
}

// DraftView is a draft plus everything the edit surface renders live: the
// delay preview for the typed schedule and the diff against the saved policy.
type DraftView struct {
	Draft     policy.Draft       `json:"draft"`
	Preview   schedule.Preview   `json:"preview"`
	Diff      []policy.DiffRow   `json:"diff,omitempty"`
	DiffChips []string           `json:"diff_chips,omitempty"`
	Errors    policy.FieldErrors `json:"errors,omitempty"`
}

// PreviewRequest is the request body for a standalone schedule preview
type PreviewRequest struct {
	ScheduleText string `json:"schedule_text"`
	MaxAttempts  int    `json:"max_attempts"`
}

// RegisterRoutes registers the policy routes
func (h *PolicyHandler) RegisterRoutes(g *echo.Group) {
	p := g.Group("/policies")
	p.GET("", h.List)
	p.POST("/reset-all", h.ResetAll)
	p.POST("/preview-schedule", h.PreviewSchedule)
	p.GET("/:jobType", h.Get)
	p.POST("/:jobType/draft", h.BeginDraft)
	p.PUT("/:jobType/draft", h.UpdateDraft)
	p.DELETE("/:jobType/draft", h.CancelDraft)
	p.POST("/:jobType/save", h.Save)
	p.POST("/:jobType/reset", h.Reset)
	p.POST("/:jobType/mark-known-good", h.MarkKnownGood)
	p.GET("/:jobType/presets", h.Presets)
	p.GET("/:jobType/history", h.History)
	p.POST("/:jobType/history/toggle", h.ToggleHistory)
	p.POST("/:jobType/history/load-more", h.LoadMoreHistory)
}

// List handles GET /policies
func (h *PolicyHandler) List(c echo.Context) error {
	return SuccessResponse(c, h.store.Policies())
}

// Get handles GET /policies/:jobType
func (h *PolicyHandler) Get(c echo.Context) error {
	jobType, err := ParseJobType(c)
	if err != nil {
		return err
	}

	p, ok := h.store.Policy(jobType)
	if !ok {
		return BadRequest("retry policy not loaded")
	}
	return SuccessResponse(c, p)
}

// BeginDraft handles POST /policies/:jobType/draft
func (h *PolicyHandler) BeginDraft(c echo.Context) error {
	jobType, err := ParseJobType(c)
	if err != nil {
		return err
	}

	draft, err := h.store.BeginDraft(jobType)
	if err != nil {
		return err
	}
	return SuccessResponse(c, h.draftView(draft))
}

// UpdateDraft handles PUT /policies/:jobType/draft
func (h *PolicyHandler) UpdateDraft(c echo.Context) error {
	jobType, err := ParseJobType(c)
	if err != nil {
		return err
	}

	var req DraftRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}

	draft := policy.Draft{
		JobType:      jobType,
		MaxAttempts:  req.MaxAttempts,
		ScheduleText: req.ScheduleText,
		JitterRatio:  req.JitterRatio,
		Enabled:      req.Enabled,
	}
	h.store.UpdateDraft(jobType, draft)
	return SuccessResponse(c, h.draftView(draft))
}

// CancelDraft handles DELETE /policies/:jobType/draft
func (h *PolicyHandler) CancelDraft(c echo.Context) error {
	jobType, err := ParseJobType(c)
	if err != nil {
		return err
	}

	h.store.CancelDraft(jobType)
	return NoContentResponse(c)
}

// Save handles POST /policies/:jobType/save
func (h *PolicyHandler) Save(c echo.Context) error {
	jobType, err := ParseJobType(c)
	if err != nil {
		return err
	}

	updated, err := h.store.Save(c.Request().Context(), jobType, GetActorID(c))
	if err != nil {
		if fieldErrs, ok := err.(policy.FieldErrors); ok {
			return fieldErrs.ToHTTPError()
		}
		return err
	}
	return SuccessResponse(c, updated)
}

// Reset handles POST /policies/:jobType/reset
func (h *PolicyHandler) Reset(c echo.Context) error {
	jobType, err := ParseJobType(c)
	if err != nil {
		return err
	}

	updated, err := h.store.Reset(c.Request().Context(), jobType, GetActorID(c))
	if err != nil {
		return err
	}
	return SuccessResponse(c, updated)
}

// ResetAll handles POST /policies/reset-all
func (h *PolicyHandler) ResetAll(c echo.Context) error {
	updated, err := h.store.ResetAll(c.Request().Context(), GetActorID(c))
	if err != nil {
		return err
	}
	return SuccessResponse(c, updated)
}

// MarkKnownGood handles POST /policies/:jobType/mark-known-good
func (h *PolicyHandler) MarkKnownGood(c echo.Context) error {
	jobType, err := ParseJobType(c)
	if err != nil {
		return err
	}

	snapshot, err := h.store.MarkKnownGood(c.Request().Context(), jobType, GetActorID(c))
	if err != nil {
		return err
	}
	return SuccessResponse(c, snapshot)
}

// Presets handles GET /policies/:jobType/presets
func (h *PolicyHandler) Presets(c echo.Context) error {
	jobType, err := ParseJobType(c)
	if err != nil {
		return err
	}

	presets, err := h.presets.List(c.Request().Context(), jobType)
	if err != nil {
		return err
	}
	return SuccessResponse(c, presets)
}

// History handles GET /policies/:jobType/history
func (h *PolicyHandler) History(c echo.Context) error {
	jobType, err := ParseJobType(c)
	if err != nil {
		return err
	}
	return SuccessResponse(c, h.history.History(jobType))
}

// ToggleHistory handles POST /policies/:jobType/history/toggle
func (h *PolicyHandler) ToggleHistory(c echo.Context) error {
	jobType, err := ParseJobType(c)
	if err != nil {
		return err
	}

	view, err := h.history.Toggle(c.Request().Context(), jobType)
	if err != nil {
		return err
	}
	return SuccessResponse(c, view)
}

// LoadMoreHistory handles POST /policies/:jobType/history/load-more
func (h *PolicyHandler) LoadMoreHistory(c echo.Context) error {
	jobType, err := ParseJobType(c)
	if err != nil {
		return err
	}

	view, err := h.history.LoadMore(c.Request().Context(), jobType)
	if err != nil {
		return err
	}
	return SuccessResponse(c, view)
}

// PreviewSchedule handles POST /policies/preview-schedule
func (h *PolicyHandler) PreviewSchedule(c echo.Context) error {
	var req PreviewRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}
	return SuccessResponse(c, schedule.PreviewDelays(schedule.Parse(req.ScheduleText)))
}

// draftView decorates a draft with its live preview and, when the draft
// parses cleanly, the diff against the saved policy.
func (h *PolicyHandler) draftView(draft policy.Draft) DraftView {
	view := DraftView{
		Draft:   draft,
		Preview: schedule.PreviewDelays(schedule.Parse(draft.ScheduleText)),
	}

	steps, errs := policy.ValidateDraft(&draft)
	if len(errs) > 0 {
		view.Errors = errs
		return view
	}

	if current, ok := h.store.Policy(draft.JobType); ok {
		after := models.RetryPolicySnapshot{
			MaxAttempts:            draft.MaxAttempts,
			BackoffScheduleSeconds: steps,
			JitterRatio:            draft.JitterRatio,
			Enabled:                draft.Enabled,
		}
		before := current.Snapshot()
		view.Diff = policy.Diff(before, after)
		view.DiffChips = policy.DiffChips(before, after)
	}
	return view
}
