// Package schedule parses, formats and previews backoff schedules: the
// ordered delay-seconds lists that space out successive retry attempts.
package schedule

import (
	"strconv"
	"strings"

	"github.com/Ramsey-B/tansy/pkg/models"
)

// Parse converts a comma-separated delay list into an ordered schedule.
// Tokens that are not strictly positive integers are dropped rather than
// rejected, and the result is capped at models.MaxScheduleSteps entries.
// An empty result means the input was invalid, not "no schedule".
func Parse(text string) []int64 {
	parts := strings.Split(text, ",")
	steps := make([]int64, 0, len(parts))

	for _, part := range parts {
		token := strings.TrimSpace(part)
		if token == "" {
			continue
		}

		value, err := strconv.ParseInt(token, 10, 64)
		if err != nil || value <= 0 {
			continue
		}

		steps = append(steps, value)
		if len(steps) == models.MaxScheduleSteps {
			break
		}
	}

	return steps
}

// Format renders a schedule as the comma-separated form Parse accepts.
// Format(Parse(Format(xs))) == Format(xs) for any valid schedule.
func Format(steps []int64) string {
	parts := make([]string, len(steps))
	for i, step := range steps {
		parts[i] = strconv.FormatInt(step, 10)
	}
	return strings.Join(parts, ",")
}

// PreviewRow is the configured base delay before one retry attempt.
type PreviewRow struct {
	Attempt      int   `json:"attempt"`
	DelaySeconds int64 `json:"delay_seconds"`
}

// Preview distinguishes "no retries configured" from "can't parse": an
// invalid schedule yields Valid=false rather than an empty row list.
type Preview struct {
	Valid bool         `json:"valid"`
	Rows  []PreviewRow `json:"rows"`
}

// PreviewDelays derives the per-attempt base delays from a schedule. Jitter
// is applied by the workers at dispatch time, so only the configured values
// appear here. Attempts are 1-indexed.
func PreviewDelays(steps []int64) Preview {
	if len(steps) == 0 {
		return Preview{Valid: false}
	}

	rows := make([]PreviewRow, len(steps))
	for i, step := range steps {
		rows[i] = PreviewRow{Attempt: i + 1, DelaySeconds: step}
	}

	return Preview{Valid: true, Rows: rows}
}
