package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/tansy/pkg/database"
)

// PolicyAction identifies what kind of mutation produced a policy event.
type PolicyAction string

const (
	PolicyActionUpdate        PolicyAction = "update"
	PolicyActionReset         PolicyAction = "reset"
	PolicyActionRollback      PolicyAction = "rollback"
	PolicyActionMarkKnownGood PolicyAction = "mark_known_good"
)

// RetryPolicyEvent is the append-only audit record written alongside every
// successful policy mutation, carrying before/after snapshots.
type RetryPolicyEvent struct {
	ID           uuid.UUID                           `db:"id" json:"id"`
	JobType      JobType                             `db:"job_type" json:"job_type"`
	Action       PolicyAction                        `db:"action" json:"action"`
	PresetKey    *string                             `db:"preset_key" json:"preset_key,omitempty"`
	BeforePolicy database.JSONB[RetryPolicySnapshot] `db:"before_policy" json:"before_policy"`
	AfterPolicy  database.JSONB[RetryPolicySnapshot] `db:"after_policy" json:"after_policy"`
	ActorUserID  *string                             `db:"actor_user_id" json:"actor_user_id,omitempty"`
	Note         *string                             `db:"note" json:"note,omitempty"`
	CreatedAt    time.Time                           `db:"created_at" json:"created_at"`
}

// TableName returns the database table name
func (RetryPolicyEvent) TableName() string {
	return "retry_policy_events"
}

// RollbackRequest names a rollback target: a preset key or a history event
// id, never both.
type RollbackRequest struct {
	PresetKey *PresetKey `json:"preset_key,omitempty"`
	EventID   *uuid.UUID `json:"event_id,omitempty"`
}
