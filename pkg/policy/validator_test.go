package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/tansy/pkg/models"
)

func validDraft() *Draft {
	return &Draft{
		JobType:      models.JobTypeIngest,
		MaxAttempts:  5,
		ScheduleText: "30,120,600,1800",
		JitterRatio:  0.15,
		Enabled:      true,
	}
}

func TestValidateDraftAcceptsValid(t *testing.T) {
	steps, errs := ValidateDraft(validDraft())

	require.Nil(t, errs)
	assert.Equal(t, []int64{30, 120, 600, 1800}, steps)
}

func TestValidateDraftMaxAttemptsBounds(t *testing.T) {
	for _, attempts := range []int{1, 20} {
		d := validDraft()
		d.MaxAttempts = attempts
		_, errs := ValidateDraft(d)
		assert.Nil(t, errs, "max_attempts=%d should be accepted", attempts)
	}

	for _, attempts := range []int{0, 21} {
		d := validDraft()
		d.MaxAttempts = attempts
		_, errs := ValidateDraft(d)
		require.NotNil(t, errs, "max_attempts=%d should be rejected", attempts)
		assert.Equal(t, "max_attempts", errs[0].Field)
	}
}

func TestValidateDraftJitterBounds(t *testing.T) {
	for _, jitter := range []float64{0, 1} {
		d := validDraft()
		d.JitterRatio = jitter
		_, errs := ValidateDraft(d)
		assert.Nil(t, errs, "jitter_ratio=%v should be accepted", jitter)
	}

	for _, jitter := range []float64{-0.01, 1.01} {
		d := validDraft()
		d.JitterRatio = jitter
		_, errs := ValidateDraft(d)
		require.NotNil(t, errs, "jitter_ratio=%v should be rejected", jitter)
		assert.Equal(t, "jitter_ratio", errs[0].Field)
	}
}

func TestValidateDraftMalformedSchedule(t *testing.T) {
	d := validDraft()
	d.ScheduleText = "abc,0,-5"

	steps, errs := ValidateDraft(d)

	assert.Nil(t, steps)
	require.NotNil(t, errs)
	assert.Equal(t, "schedule", errs[0].Field)
}

func TestValidateDraftErrorOrdering(t *testing.T) {
	d := validDraft()
	d.MaxAttempts = 0
	d.ScheduleText = ""
	d.JitterRatio = 2

	_, errs := ValidateDraft(d)

	require.Len(t, errs, 3)
	assert.Equal(t, "max_attempts", errs[0].Field)
	assert.Equal(t, "schedule", errs[1].Field)
	assert.Equal(t, "jitter_ratio", errs[2].Field)
}

func TestDraftFromPolicyRoundTrip(t *testing.T) {
	p := &models.RetryPolicy{
		JobType:                models.JobTypeAITagging,
		MaxAttempts:            3,
		BackoffScheduleSeconds: []int64{10, 60},
		JitterRatio:            0.5,
		Enabled:                false,
	}

	d := DraftFromPolicy(p)
	assert.Equal(t, "10,60", d.ScheduleText)

	steps, errs := ValidateDraft(d)
	require.Nil(t, errs)

	update := UpdateFromDraft(d, steps)
	assert.Equal(t, models.PolicyUpdate{
		MaxAttempts:            3,
		BackoffScheduleSeconds: []int64{10, 60},
		JitterRatio:            0.5,
		Enabled:                false,
	}, update)
}
