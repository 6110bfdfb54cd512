package redisx

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Ramsey-B/tansy/pkg/models"
	"github.com/Ramsey-B/tansy/pkg/tracing"
)

// maxPendingScan bounds how many pending entries one snapshot inspects.
const maxPendingScan = 10000

// QueueConfig names the pipeline's job streams.
type QueueConfig struct {
	JobStream          string
	ConsumerGroup      string
	DLQStream          string
	StaleIdleThreshold time.Duration
}

// streamReader is the subset of the Redis API the inspector needs. The
// concrete client satisfies it; tests substitute a fake.
type streamReader interface {
	XLen(ctx context.Context, stream string) *redis.IntCmd
	XPendingExt(ctx context.Context, a *redis.XPendingExtArgs) *redis.XPendingExtCmd
	XRangeN(ctx context.Context, stream, start, stop string, count int64) *redis.XMessageSliceCmd
}

// Inspector reads queue health aggregates from the pipeline's job streams.
type Inspector struct {
	rdb streamReader
	cfg QueueConfig
	now func() time.Time
}

// NewInspector creates a stream inspector for the given queue layout.
func NewInspector(client *Client, cfg QueueConfig) *Inspector {
	return &Inspector{
		rdb: client.Redis(),
		cfg: cfg,
		now: time.Now,
	}
}

// Snapshot collects one telemetry snapshot from the streams. All four
// aggregates come from the same pass so the snapshot is internally
// consistent to within one round trip.
func (i *Inspector) Snapshot(ctx context.Context) (*models.TelemetrySnapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "redisx.Snapshot")
	defer span.End()

	depth, err := i.rdb.XLen(ctx, i.cfg.JobStream).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read job stream length: %w", err)
	}

	stale, err := i.staleCount(ctx)
	if err != nil {
		return nil, err
	}

	dlq, err := i.rdb.XLen(ctx, i.cfg.DLQStream).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dead letter stream length: %w", err)
	}

	oldestAge, err := i.oldestQueuedAge(ctx)
	if err != nil {
		return nil, err
	}

	return &models.TelemetrySnapshot{
		QueueDepth:             depth,
		StaleCount:             stale,
		DeadLetterCount:        dlq,
		OldestQueuedAgeSeconds: oldestAge,
		CollectedAt:            i.now().UTC(),
	}, nil
}

// staleCount counts pending entries idle longer than the configured
// threshold. These are jobs a consumer claimed but never acknowledged.
func (i *Inspector) staleCount(ctx context.Context) (int64, error) {
	pending, err := i.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: i.cfg.JobStream,
		Group:  i.cfg.ConsumerGroup,
		Idle:   i.cfg.StaleIdleThreshold,
		Start:  "-",
		End:    "+",
		Count:  maxPendingScan,
	}).Result()
	if err != nil {
		// NOGROUP means no consumer has attached yet, which is not an error
		// from the admin surface's point of view.
		if strings.HasPrefix(err.Error(), "NOGROUP") {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read pending entries: %w", err)
	}
	return int64(len(pending)), nil
}

// oldestQueuedAge derives the age of the oldest entry from its stream ID,
// whose first component is a millisecond timestamp.
func (i *Inspector) oldestQueuedAge(ctx context.Context) (int64, error) {
	messages, err := i.rdb.XRangeN(ctx, i.cfg.JobStream, "-", "+", 1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read oldest stream entry: %w", err)
	}
	if len(messages) == 0 {
		return 0, nil
	}

	ms, err := streamIDMillis(messages[0].ID)
	if err != nil {
		return 0, err
	}

	age := i.now().UnixMilli() - ms
	if age < 0 {
		age = 0
	}
	return age / 1000, nil
}

// streamIDMillis extracts the millisecond timestamp prefix of a stream ID
// such as "1724800000000-0".
func streamIDMillis(id string) (int64, error) {
	prefix, _, found := strings.Cut(id, "-")
	if !found {
		prefix = id
	}
	ms, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed stream ID %q: %w", id, err)
	}
	return ms, nil
}
