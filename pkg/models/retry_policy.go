package models

import (
	"time"

	"github.com/lib/pq"
)

// JobType identifies one stage of the media-processing pipeline. Retry
// policies are keyed by job type.
type JobType string

const (
	JobTypeIngest              JobType = "ingest"
	JobTypeVariantGeneration   JobType = "variant_generation"
	JobTypeEditRender          JobType = "edit_render"
	JobTypeAITagging           JobType = "ai_tagging"
	JobTypeDuplicateScan       JobType = "duplicate_scan"
	JobTypeUsageReconciliation JobType = "usage_reconciliation"
)

// AllJobTypes returns the known job types in display order.
func AllJobTypes() []JobType {
	return []JobType{
		JobTypeIngest,
		JobTypeVariantGeneration,
		JobTypeEditRender,
		JobTypeAITagging,
		JobTypeDuplicateScan,
		JobTypeUsageReconciliation,
	}
}

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	for _, known := range AllJobTypes() {
		if t == known {
			return true
		}
	}
	return false
}

const (
	// MaxAttemptsLimit is the upper bound for configured retry attempts
	MaxAttemptsLimit = 20
	// MaxScheduleSteps is the maximum number of backoff schedule entries
	MaxScheduleSteps = 20
)

// RetryPolicy controls how failed jobs of one type are retried by the
// workers: attempt budget, backoff schedule and jitter.
type RetryPolicy struct {
	JobType                JobType       `db:"job_type" json:"job_type"`
	MaxAttempts            int           `db:"max_attempts" json:"max_attempts"`
	BackoffScheduleSeconds pq.Int64Array `db:"backoff_schedule_seconds" json:"backoff_schedule_seconds"`
	JitterRatio            float64       `db:"jitter_ratio" json:"jitter_ratio"`
	Enabled                bool          `db:"enabled" json:"enabled"`
	UpdatedBy              *string       `db:"updated_by" json:"updated_by,omitempty"`
	UpdatedAt              time.Time     `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (RetryPolicy) TableName() string {
	return "retry_policies"
}

// Snapshot captures the four configurable fields as an immutable value copy.
func (p *RetryPolicy) Snapshot() RetryPolicySnapshot {
	schedule := make([]int64, len(p.BackoffScheduleSeconds))
	copy(schedule, p.BackoffScheduleSeconds)

	version := p.UpdatedAt
	return RetryPolicySnapshot{
		MaxAttempts:            p.MaxAttempts,
		BackoffScheduleSeconds: schedule,
		JitterRatio:            p.JitterRatio,
		Enabled:                p.Enabled,
		Version:                &version,
	}
}

// RetryPolicySnapshot is a value copy of a policy's configurable fields,
// used wherever a policy must be compared or recorded without aliasing the
// live row.
type RetryPolicySnapshot struct {
	MaxAttempts            int        `json:"max_attempts"`
	BackoffScheduleSeconds []int64    `json:"backoff_schedule_seconds"`
	JitterRatio            float64    `json:"jitter_ratio"`
	Enabled                bool       `json:"enabled"`
	Version                *time.Time `json:"version,omitempty"`
}

// Equal compares the four configurable fields. Version timestamps are
// intentionally ignored.
func (s RetryPolicySnapshot) Equal(other RetryPolicySnapshot) bool {
	if s.MaxAttempts != other.MaxAttempts ||
		s.JitterRatio != other.JitterRatio ||
		s.Enabled != other.Enabled ||
		len(s.BackoffScheduleSeconds) != len(other.BackoffScheduleSeconds) {
		return false
	}
	for i := range s.BackoffScheduleSeconds {
		if s.BackoffScheduleSeconds[i] != other.BackoffScheduleSeconds[i] {
			return false
		}
	}
	return true
}

// PolicyUpdate is the full set of configurable fields for a policy write.
type PolicyUpdate struct {
	MaxAttempts            int     `json:"max_attempts"`
	BackoffScheduleSeconds []int64 `json:"backoff_schedule_seconds"`
	JitterRatio            float64 `json:"jitter_ratio"`
	Enabled                bool    `json:"enabled"`
}

// FactoryDefaultPolicy returns the factory default snapshot for a job type.
// Every job type ships with the same conservative defaults until an operator
// tunes it.
func FactoryDefaultPolicy(jobType JobType) RetryPolicySnapshot {
	return RetryPolicySnapshot{
		MaxAttempts:            5,
		BackoffScheduleSeconds: []int64{30, 120, 600, 1800},
		JitterRatio:            0.15,
		Enabled:                true,
	}
}
