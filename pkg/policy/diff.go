package policy

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Ramsey-B/tansy/pkg/models"
	"github.com/Ramsey-B/tansy/pkg/schedule"
)

// missingStep renders an absent schedule position when the two sides differ
// in length.
const missingStep = "—"

const (
	FieldMaxAttempts = "max_attempts"
	FieldSchedule    = "schedule"
	FieldJitterRatio = "jitter_ratio"
	FieldEnabled     = "enabled"
)

// DiffRow is one field-level difference between two policy snapshots.
type DiffRow struct {
	Field   string `json:"field"`
	Label   string `json:"label"`
	Before  string `json:"before"`
	After   string `json:"after"`
	Changed bool   `json:"changed"`
	Detail  string `json:"detail,omitempty"`
}

// Diff compares two snapshots field by field, always yielding exactly four
// rows in fixed order. It is pure and total: identical snapshots produce all
// rows with Changed=false.
func Diff(before, after models.RetryPolicySnapshot) []DiffRow {
	scheduleChanged, detail := diffSchedule(before.BackoffScheduleSeconds, after.BackoffScheduleSeconds)

	return []DiffRow{
		{
			Field:   FieldMaxAttempts,
			Label:   "Max attempts",
			Before:  strconv.Itoa(before.MaxAttempts),
			After:   strconv.Itoa(after.MaxAttempts),
			Changed: before.MaxAttempts != after.MaxAttempts,
		},
		{
			Field:   FieldSchedule,
			Label:   "Backoff schedule",
			Before:  schedule.Format(before.BackoffScheduleSeconds),
			After:   schedule.Format(after.BackoffScheduleSeconds),
			Changed: scheduleChanged,
			Detail:  detail,
		},
		{
			Field:   FieldJitterRatio,
			Label:   "Jitter ratio",
			Before:  formatJitter(before.JitterRatio),
			After:   formatJitter(after.JitterRatio),
			Changed: before.JitterRatio != after.JitterRatio,
		},
		{
			Field:   FieldEnabled,
			Label:   "Enabled",
			Before:  strconv.FormatBool(before.Enabled),
			After:   strconv.FormatBool(after.Enabled),
			Changed: before.Enabled != after.Enabled,
		},
	}
}

// DiffChips returns the labels of only the changed rows, for compact history
// summaries.
func DiffChips(before, after models.RetryPolicySnapshot) []string {
	var chips []string
	for _, row := range Diff(before, after) {
		if row.Changed {
			chips = append(chips, row.Label)
		}
	}
	return chips
}

// diffSchedule compares schedules positionally: step i of before against
// step i of after, with a missing position treated as an absent value.
func diffSchedule(before, after []int64) (bool, string) {
	steps := len(before)
	if len(after) > steps {
		steps = len(after)
	}

	var changes []string
	for i := 0; i < steps; i++ {
		beforeText := missingStep
		afterText := missingStep
		present := 0

		if i < len(before) {
			beforeText = strconv.FormatInt(before[i], 10)
			present++
		}
		if i < len(after) {
			afterText = strconv.FormatInt(after[i], 10)
			present++
		}

		if present == 2 && before[i] == after[i] {
			continue
		}

		changes = append(changes, fmt.Sprintf("#%d: %s -> %s", i+1, beforeText, afterText))
	}

	if len(changes) == 0 {
		return false, ""
	}
	return true, strings.Join(changes, "; ")
}

func formatJitter(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
