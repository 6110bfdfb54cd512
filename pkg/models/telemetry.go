package models

import "time"

// TelemetrySnapshot holds the aggregate queue counters shown on the triage
// dashboard. Advisory values: a stale snapshot is preferable to a blank one.
type TelemetrySnapshot struct {
	QueueDepth             int64     `json:"queue_depth"`
	StaleCount             int64     `json:"stale_count"`
	DeadLetterCount        int64     `json:"dead_letter_count"`
	OldestQueuedAgeSeconds int64     `json:"oldest_queued_age_seconds"`
	CollectedAt            time.Time `json:"collected_at"`
}
