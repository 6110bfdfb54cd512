package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/tansy/pkg/models"
	"github.com/Ramsey-B/tansy/pkg/tracing"
)

// ListJobs fetches one page of jobs matching the given filters.
func (c *Client) ListJobs(ctx context.Context, filters models.JobFilters) (*models.JobPage, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.ListJobs")
	defer span.End()

	query := url.Values{}
	if filters.Status != "" {
		query.Set("status", string(filters.Status))
	}
	if filters.JobType != "" {
		query.Set("job_type", string(filters.JobType))
	}
	if filters.TriageState != "" {
		query.Set("triage_state", string(filters.TriageState))
	}
	if filters.AssignedTo != "" {
		query.Set("assigned_to", filters.AssignedTo)
	}
	if filters.Tag != "" {
		query.Set("tag", filters.Tag)
	}
	if filters.SLABreached {
		query.Set("sla_breached", "true")
	}
	if filters.DeadLetterOnly {
		query.Set("dead_letter_only", "true")
	}
	if filters.AssetID != nil {
		query.Set("asset_id", filters.AssetID.String())
	}
	if filters.CreatedAfter != nil {
		query.Set("created_after", filters.CreatedAfter.Format(time.RFC3339))
	}
	if filters.CreatedBefore != nil {
		query.Set("created_before", filters.CreatedBefore.Format(time.RFC3339))
	}
	if filters.Page > 0 {
		query.Set("page", strconv.Itoa(filters.Page))
	}
	if filters.Limit > 0 {
		query.Set("page_size", strconv.Itoa(filters.Limit))
	}

	path := "/api/jobs"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var page models.JobPage
	if err := c.send(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetJob fetches a single job by ID.
func (c *Client) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.GetJob")
	defer span.End()

	var job models.Job
	if err := c.send(ctx, http.MethodGet, fmt.Sprintf("/api/jobs/%s", id), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// RetryJob asks the backend to requeue a failed or dead-lettered job. The
// backend owns the status transition; the returned job reflects its decision.
func (c *Client) RetryJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.RetryJob")
	defer span.End()

	var job models.Job
	if err := c.send(ctx, http.MethodPost, fmt.Sprintf("/api/jobs/%s/retry", id), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// BulkRetry asks the backend to requeue a batch of jobs in one call. Partial
// acceptance is normal; the result carries the updated rows for the jobs it
// retried and names the ones it declined.
func (c *Client) BulkRetry(ctx context.Context, ids []uuid.UUID) (*models.BulkRetryResult, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.BulkRetry")
	defer span.End()

	body := struct {
		JobIDs []uuid.UUID `json:"job_ids"`
	}{JobIDs: ids}

	var result models.BulkRetryResult
	if err := c.send(ctx, http.MethodPost, "/api/jobs/bulk-retry", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PatchTriage applies a triage mutation to a single job and returns the
// updated job.
func (c *Client) PatchTriage(ctx context.Context, id uuid.UUID, patch models.TriagePatch) (*models.Job, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.PatchTriage")
	defer span.End()

	var job models.Job
	if err := c.send(ctx, http.MethodPatch, fmt.Sprintf("/api/jobs/%s/triage", id), patch, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// JobEvents fetches the audit trail for a single job, newest first.
func (c *Client) JobEvents(ctx context.Context, id uuid.UUID) ([]models.JobEvent, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.JobEvents")
	defer span.End()

	var events []models.JobEvent
	if err := c.send(ctx, http.MethodGet, fmt.Sprintf("/api/jobs/%s/events", id), nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}
