// Package policy implements local validation and structured diffing of retry
// policies. Both run synchronously before anything touches the network or
// the database.
package policy

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/Ramsey-B/tansy/pkg/models"
	"github.com/Ramsey-B/tansy/pkg/schedule"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Draft is an in-progress edit of one job type's retry policy. The schedule
// is held as the operator typed it; ValidateDraft parses it.
type Draft struct {
	JobType      models.JobType `json:"job_type" validate:"required"`
	MaxAttempts  int            `json:"max_attempts" validate:"min=1,max=20"`
	ScheduleText string         `json:"backoff_schedule" validate:"required"`
	JitterRatio  float64        `json:"jitter_ratio" validate:"min=0,max=1"`
	Enabled      bool           `json:"enabled"`
}

// DraftFromPolicy seeds a draft from the live policy.
func DraftFromPolicy(p *models.RetryPolicy) *Draft {
	return &Draft{
		JobType:      p.JobType,
		MaxAttempts:  p.MaxAttempts,
		ScheduleText: schedule.Format(p.BackoffScheduleSeconds),
		JitterRatio:  p.JitterRatio,
		Enabled:      p.Enabled,
	}
}

// ValidateDraft checks a draft against the domain bounds and returns the
// parsed schedule. Errors come back in field order (max_attempts, schedule,
// jitter_ratio); an invalid draft must never be submitted.
func ValidateDraft(d *Draft) ([]int64, FieldErrors) {
	var errs FieldErrors

	if d.MaxAttempts < 1 || d.MaxAttempts > models.MaxAttemptsLimit {
		errs = append(errs, FieldError{
			Field:   "max_attempts",
			Message: fmt.Sprintf("max attempts must be between 1 and %d", models.MaxAttemptsLimit),
		})
	}

	steps := schedule.Parse(d.ScheduleText)
	if len(steps) == 0 {
		errs = append(errs, FieldError{
			Field:   "schedule",
			Message: "backoff schedule must contain at least one positive integer delay in seconds",
		})
	}

	if d.JitterRatio < 0 || d.JitterRatio > 1 {
		errs = append(errs, FieldError{
			Field:   "jitter_ratio",
			Message: "jitter ratio must be between 0 and 1",
		})
	}

	if errs != nil {
		return nil, errs
	}

	// Struct tags are the backstop for anything the explicit checks miss
	if err := validate.Struct(d); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				errs = append(errs, FieldError{
					Field:   fe.StructField(),
					Message: fmt.Sprintf("failed validation rule '%s'", fe.Tag()),
				})
			}
			return nil, errs
		}
		return nil, FieldErrors{{Field: "draft", Message: err.Error()}}
	}

	return steps, nil
}

// UpdateFromDraft converts a validated draft into a policy write.
func UpdateFromDraft(d *Draft, steps []int64) models.PolicyUpdate {
	return models.PolicyUpdate{
		MaxAttempts:            d.MaxAttempts,
		BackoffScheduleSeconds: steps,
		JitterRatio:            d.JitterRatio,
		Enabled:                d.Enabled,
	}
}
