package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the worker-owned lifecycle state of a job. This service only
// reads it; transitions happen in the pipeline backend.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusDeadLetter JobStatus = "dead_letter"
)

// TriageState is the human-workflow classification of a job, independent of
// its processing status.
type TriageState string

const (
	TriageStateOpen     TriageState = "open"
	TriageStateRetrying TriageState = "retrying"
	TriageStateIgnored  TriageState = "ignored"
	TriageStateResolved TriageState = "resolved"
)

// Valid reports whether s is a known triage state.
func (s TriageState) Valid() bool {
	switch s {
	case TriageStateOpen, TriageStateRetrying, TriageStateIgnored, TriageStateResolved:
		return true
	}
	return false
}

// Job is one unit of asynchronous media-processing work as reported by the
// pipeline backend.
type Job struct {
	ID               uuid.UUID   `json:"id"`
	JobType          JobType     `json:"job_type"`
	Status           JobStatus   `json:"status"`
	AssetID          *uuid.UUID  `json:"asset_id,omitempty"`
	Attempt          int         `json:"attempt"`
	MaxAttempts      int         `json:"max_attempts"`
	ProgressPct      int         `json:"progress_pct"`
	TriageState      TriageState `json:"triage_state"`
	Tags             []string    `json:"tags"`
	ErrorCode        *string     `json:"error_code,omitempty"`
	ErrorMessage     *string     `json:"error_message,omitempty"`
	AssignedToUserID *string     `json:"assigned_to_user_id,omitempty"`
	SLADueAt         *time.Time  `json:"sla_due_at,omitempty"`
	IncidentURL      *string     `json:"incident_url,omitempty"`
	NextRetryAt      *time.Time  `json:"next_retry_at,omitempty"`
	DeadLetteredAt   *time.Time  `json:"dead_lettered_at,omitempty"`
	LastErrorAt      *time.Time  `json:"last_error_at,omitempty"`
	StartedAt        *time.Time  `json:"started_at,omitempty"`
	CompletedAt      *time.Time  `json:"completed_at,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
}

// JobFilters narrows a job listing. Zero values mean "no filter".
type JobFilters struct {
	Status         JobStatus   `json:"status,omitempty"`
	JobType        JobType     `json:"job_type,omitempty"`
	TriageState    TriageState `json:"triage_state,omitempty"`
	AssignedTo     string      `json:"assigned_to,omitempty"`
	Tag            string      `json:"tag,omitempty"`
	SLABreached    bool        `json:"sla_breached,omitempty"`
	DeadLetterOnly bool        `json:"dead_letter_only,omitempty"`
	AssetID        *uuid.UUID  `json:"asset_id,omitempty"`
	CreatedAfter   *time.Time  `json:"created_after,omitempty"`
	CreatedBefore  *time.Time  `json:"created_before,omitempty"`
	Page           int         `json:"page,omitempty"`
	Limit          int         `json:"limit,omitempty"`
}

// JobPage is one page of a job listing.
type JobPage struct {
	Jobs       []Job `json:"jobs"`
	Page       int   `json:"page"`
	TotalPages int   `json:"total_pages"`
	TotalCount int   `json:"total_count"`
}

// TriagePatch is a minimal triage mutation: only set fields are sent, and
// clearing a field uses an explicit flag so "no change" and "set to empty"
// stay distinguishable.
type TriagePatch struct {
	TriageState      *TriageState `json:"triage_state,omitempty"`
	AssignedToUserID *string      `json:"assigned_to_user_id,omitempty"`
	ClearAssignee    bool         `json:"clear_assignee,omitempty"`
	SLADueAt         *time.Time   `json:"sla_due_at,omitempty"`
	ClearSLA         bool         `json:"clear_sla,omitempty"`
	IncidentURL      *string      `json:"incident_url,omitempty"`
	ClearIncident    bool         `json:"clear_incident,omitempty"`
	AddTag           *string      `json:"add_tag,omitempty"`
	RemoveTag        *string      `json:"remove_tag,omitempty"`
	Note             *string      `json:"note,omitempty"`
}

// BulkRetryFailure records one job the backend declined to retry and why.
type BulkRetryFailure struct {
	JobID  uuid.UUID `json:"job_id"`
	Reason string    `json:"reason"`
}

// BulkRetryResult is the outcome of a batched retry request. The backend may
// accept a subset of the requested jobs; accepted jobs come back as fully
// updated rows, declined jobs stay untouched.
type BulkRetryResult struct {
	RequestedCount int                `json:"requested_count"`
	Jobs           []Job              `json:"jobs"`
	Failures       []BulkRetryFailure `json:"failures,omitempty"`
}

// JobEvent is a read-only audit trail entry for a single job.
type JobEvent struct {
	ID        uuid.UUID `json:"id"`
	JobID     uuid.UUID `json:"job_id"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
