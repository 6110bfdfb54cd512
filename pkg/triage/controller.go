// Package triage holds the in-process job triage workspace: the loaded job
// page, the operator's selection and the single and bulk actions over it.
//
// Job status transitions are owned by the pipeline backend. This package
// only requests them and mirrors what the backend reports back.
package triage

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/tansy/pkg/metrics"
	"github.com/Ramsey-B/tansy/pkg/models"
	"github.com/Ramsey-B/tansy/pkg/policy"
	"github.com/Ramsey-B/tansy/pkg/tracing"
)

// bulkPatchConcurrency caps how many per-job patch requests run at once
// during a bulk action.
const bulkPatchConcurrency = 8

// Service is the pipeline backend surface the controller drives.
type Service interface {
	ListJobs(ctx context.Context, filters models.JobFilters) (*models.JobPage, error)
	RetryJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	BulkRetry(ctx context.Context, ids []uuid.UUID) (*models.BulkRetryResult, error)
	PatchTriage(ctx context.Context, id uuid.UUID, patch models.TriagePatch) (*models.Job, error)
	JobEvents(ctx context.Context, id uuid.UUID) ([]models.JobEvent, error)
}

// TelemetryRefresher triggers an out-of-cycle telemetry poll. Retry actions
// change queue shape immediately, so the dashboard refreshes without waiting
// for the next tick.
type TelemetryRefresher interface {
	Refresh(ctx context.Context)
}

// View is a read snapshot of the triage workspace.
type View struct {
	Jobs        []models.Job      `json:"jobs"`
	Page        int               `json:"page"`
	TotalPages  int               `json:"total_pages"`
	TotalCount  int               `json:"total_count"`
	Filters     models.JobFilters `json:"filters"`
	SelectedIDs []uuid.UUID       `json:"selected_ids"`
}

// Controller owns the triage workspace state.
type Controller struct {
	mu        sync.Mutex
	svc       Service
	telemetry TelemetryRefresher
	logger    ectologger.Logger

	jobs       []models.Job
	page       int
	totalPages int
	totalCount int
	filters    models.JobFilters
	selected   map[uuid.UUID]struct{}
}

// NewController creates an empty triage controller.
func NewController(svc Service, telemetry TelemetryRefresher, logger ectologger.Logger) *Controller {
	return &Controller{
		svc:       svc,
		telemetry: telemetry,
		logger:    logger,
		selected:  make(map[uuid.UUID]struct{}),
	}
}

// Load fetches a job page and replaces the workspace. This is the only place
// the selection is cleared: actions over a selection never silently drop it.
func (c *Controller) Load(ctx context.Context, filters models.JobFilters) (View, error) {
	ctx, span := tracing.StartSpan(ctx, "triage.Controller.Load")
	defer span.End()

	page, err := c.svc.ListJobs(ctx, filters)
	if err != nil {
		c.logger.WithContext(ctx).WithError(err).Error("Failed to load jobs")
		return c.View(), err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobs = page.Jobs
	c.page = page.Page
	c.totalPages = page.TotalPages
	c.totalCount = page.TotalCount
	c.filters = filters
	c.selected = make(map[uuid.UUID]struct{})
	return c.viewLocked(), nil
}

// View returns a snapshot of the workspace.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// ToggleSelect adds or removes one loaded job from the selection.
func (c *Controller) ToggleSelect(id uuid.UUID) (View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.selected[id]; ok {
		delete(c.selected, id)
		return c.viewLocked(), nil
	}
	if c.indexOfLocked(id) < 0 {
		return c.viewLocked(), httperror.NewHTTPError(http.StatusNotFound, "job is not in the loaded page")
	}
	c.selected[id] = struct{}{}
	return c.viewLocked(), nil
}

// SelectAll selects every job in the loaded page.
func (c *Controller) SelectAll() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, job := range c.jobs {
		c.selected[job.ID] = struct{}{}
	}
	return c.viewLocked()
}

// ClearSelection deselects everything without touching the loaded page.
func (c *Controller) ClearSelection() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = make(map[uuid.UUID]struct{})
	return c.viewLocked()
}

// Retry requests a retry for one job and mirrors the backend's updated row.
func (c *Controller) Retry(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	ctx, span := tracing.StartSpan(ctx, "triage.Controller.Retry")
	defer span.End()

	job, err := c.svc.RetryJob(ctx, id)
	if err != nil {
		metrics.RecordTriageAction("retry", "error")
		c.logger.WithContext(ctx).WithError(err).Errorf("Failed to retry job %s", id)
		return nil, err
	}

	c.replaceJob(*job)
	metrics.RecordTriageAction("retry", "ok")
	c.refreshTelemetry(ctx)
	return job, nil
}

// Patch applies a triage mutation to one job and mirrors the result.
func (c *Controller) Patch(ctx context.Context, id uuid.UUID, patch models.TriagePatch) (*models.Job, error) {
	ctx, span := tracing.StartSpan(ctx, "triage.Controller.Patch")
	defer span.End()

	if errs := validatePatch(patch); len(errs) > 0 {
		return nil, errs
	}

	job, err := c.svc.PatchTriage(ctx, id, patch)
	if err != nil {
		metrics.RecordTriageAction("patch", "error")
		c.logger.WithContext(ctx).WithError(err).Errorf("Failed to patch job %s", id)
		return nil, err
	}

	c.replaceJob(*job)
	metrics.RecordTriageAction("patch", "ok")
	// Triage-state transitions can requeue or park a job, so the queue
	// counters refresh; notes and tag edits cannot.
	if patch.TriageState != nil {
		c.refreshTelemetry(ctx)
	}
	return job, nil
}

// Events fetches the audit trail for one job.
func (c *Controller) Events(ctx context.Context, id uuid.UUID) ([]models.JobEvent, error) {
	ctx, span := tracing.StartSpan(ctx, "triage.Controller.Events")
	defer span.End()
	return c.svc.JobEvents(ctx, id)
}

// BulkRetry requests a retry for the whole selection in one batched call.
// The backend may accept a subset; accepted jobs are mirrored from the
// returned rows, declined jobs stay exactly as they were. The selection is
// left alone either way so the operator can see what was acted on.
func (c *Controller) BulkRetry(ctx context.Context) (*models.BulkRetryResult, error) {
	ctx, span := tracing.StartSpan(ctx, "triage.Controller.BulkRetry")
	defer span.End()

	ids := c.selectedIDs()
	if len(ids) == 0 {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "no jobs selected")
	}
	metrics.BulkActionSize.WithLabelValues("retry").Observe(float64(len(ids)))

	result, err := c.svc.BulkRetry(ctx, ids)
	if err != nil {
		metrics.RecordTriageAction("bulk_retry", "error")
		c.logger.WithContext(ctx).WithError(err).Error("Bulk retry failed")
		return nil, err
	}

	c.mu.Lock()
	for _, job := range result.Jobs {
		if i := c.indexOfLocked(job.ID); i >= 0 {
			c.jobs[i] = job
		}
	}
	c.mu.Unlock()

	metrics.RecordTriageAction("bulk_retry", "ok")
	c.logger.WithContext(ctx).Infof("Bulk retry accepted %d of %d jobs", len(result.Jobs), result.RequestedCount)
	c.refreshTelemetry(ctx)
	return result, nil
}

// BulkPatch applies one triage mutation to every selected job, one request
// per job with bounded concurrency. Jobs that fail keep their previous state;
// the aggregated error reports every failure. The selection survives intact
// until the next Load regardless of outcome.
func (c *Controller) BulkPatch(ctx context.Context, patch models.TriagePatch) (View, error) {
	ctx, span := tracing.StartSpan(ctx, "triage.Controller.BulkPatch")
	defer span.End()

	if errs := validatePatch(patch); len(errs) > 0 {
		return c.View(), errs
	}

	ids := c.selectedIDs()
	if len(ids) == 0 {
		return c.View(), httperror.NewHTTPError(http.StatusBadRequest, "no jobs selected")
	}
	metrics.BulkActionSize.WithLabelValues("patch").Observe(float64(len(ids)))

	var (
		wg      sync.WaitGroup
		sem     = make(chan struct{}, bulkPatchConcurrency)
		results = make([]*models.Job, len(ids))
		errs    = make([]error, len(ids))
	)
	for i, id := range ids {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i], errs[i] = c.svc.PatchTriage(ctx, id, patch)
		}(i, id)
	}
	wg.Wait()

	c.mu.Lock()
	for _, job := range results {
		if job == nil {
			continue
		}
		if idx := c.indexOfLocked(job.ID); idx >= 0 {
			c.jobs[idx] = *job
		}
	}
	view := c.viewLocked()
	c.mu.Unlock()

	if err := errors.Join(errs...); err != nil {
		metrics.RecordTriageAction("bulk_patch", "partial")
		c.logger.WithContext(ctx).WithError(err).Error("Bulk patch completed with failures")
		c.refreshTelemetry(ctx)
		return view, err
	}

	metrics.RecordTriageAction("bulk_patch", "ok")
	c.refreshTelemetry(ctx)
	return view, nil
}

func (c *Controller) selectedIDs() []uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Preserve page order so batched requests and declared sizes are stable.
	ids := make([]uuid.UUID, 0, len(c.selected))
	for _, job := range c.jobs {
		if _, ok := c.selected[job.ID]; ok {
			ids = append(ids, job.ID)
		}
	}
	return ids
}

// replaceJob swaps the loaded row with the same ID. Jobs from other pages
// are ignored: the workspace only mirrors what is loaded.
func (c *Controller) replaceJob(job models.Job) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.indexOfLocked(job.ID); i >= 0 {
		c.jobs[i] = job
	}
}

func (c *Controller) indexOfLocked(id uuid.UUID) int {
	for i, job := range c.jobs {
		if job.ID == id {
			return i
		}
	}
	return -1
}

func (c *Controller) refreshTelemetry(ctx context.Context) {
	if c.telemetry != nil {
		c.telemetry.Refresh(ctx)
	}
}

func (c *Controller) viewLocked() View {
	jobs := make([]models.Job, len(c.jobs))
	copy(jobs, c.jobs)

	ids := make([]uuid.UUID, 0, len(c.selected))
	for _, job := range c.jobs {
		if _, ok := c.selected[job.ID]; ok {
			ids = append(ids, job.ID)
		}
	}

	return View{
		Jobs:        jobs,
		Page:        c.page,
		TotalPages:  c.totalPages,
		TotalCount:  c.totalCount,
		Filters:     c.filters,
		SelectedIDs: ids,
	}
}

func validatePatch(patch models.TriagePatch) policy.FieldErrors {
	var errs policy.FieldErrors
	if patch.TriageState != nil && !patch.TriageState.Valid() {
		errs = append(errs, policy.FieldError{Field: "triage_state", Message: "unknown triage state"})
	}
	if patch.AddTag != nil && strings.TrimSpace(*patch.AddTag) == "" {
		errs = append(errs, policy.FieldError{Field: "add_tag", Message: "tag must not be blank"})
	}
	if patch.RemoveTag != nil && strings.TrimSpace(*patch.RemoveTag) == "" {
		errs = append(errs, policy.FieldError{Field: "remove_tag", Message: "tag must not be blank"})
	}
	if patch.AssignedToUserID != nil && patch.ClearAssignee {
		errs = append(errs, policy.FieldError{Field: "assigned_to_user_id", Message: "cannot assign and clear the assignee in one patch"})
	}
	if patch.SLADueAt != nil && patch.ClearSLA {
		errs = append(errs, policy.FieldError{Field: "sla_due_at", Message: "cannot set and clear the SLA in one patch"})
	}
	if patch.IncidentURL != nil && patch.ClearIncident {
		errs = append(errs, policy.FieldError{Field: "incident_url", Message: "cannot set and clear the incident link in one patch"})
	}
	return errs
}
