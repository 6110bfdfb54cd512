package redisx

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStreams struct {
	lengths    map[string]int64
	pending    []redis.XPendingExt
	pendingErr error
	oldest     []redis.XMessage
}

func (f *fakeStreams) XLen(ctx context.Context, stream string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(f.lengths[stream])
	return cmd
}

func (f *fakeStreams) XPendingExt(ctx context.Context, a *redis.XPendingExtArgs) *redis.XPendingExtCmd {
	cmd := redis.NewXPendingExtCmd(ctx)
	if f.pendingErr != nil {
		cmd.SetErr(f.pendingErr)
		return cmd
	}
	cmd.SetVal(f.pending)
	return cmd
}

func (f *fakeStreams) XRangeN(ctx context.Context, stream, start, stop string, count int64) *redis.XMessageSliceCmd {
	cmd := redis.NewXMessageSliceCmd(ctx)
	cmd.SetVal(f.oldest)
	return cmd
}

func testInspector(fake *fakeStreams, now time.Time) *Inspector {
	return &Inspector{
		rdb: fake,
		cfg: QueueConfig{
			JobStream:          "pipeline:jobs",
			ConsumerGroup:      "workers",
			DLQStream:          "pipeline:jobs:dlq",
			StaleIdleThreshold: 5 * time.Minute,
		},
		now: func() time.Time { return now },
	}
}

func TestSnapshotAggregates(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	oldestID := fmt.Sprintf("%d-0", now.Add(-90*time.Second).UnixMilli())

	fake := &fakeStreams{
		lengths: map[string]int64{
			"pipeline:jobs":     42,
			"pipeline:jobs:dlq": 7,
		},
		pending: []redis.XPendingExt{
			{ID: "1-0", Consumer: "worker-1", Idle: 10 * time.Minute},
			{ID: "2-0", Consumer: "worker-2", Idle: 6 * time.Minute},
		},
		oldest: []redis.XMessage{{ID: oldestID}},
	}

	snap, err := testInspector(fake, now).Snapshot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(42), snap.QueueDepth)
	assert.Equal(t, int64(2), snap.StaleCount)
	assert.Equal(t, int64(7), snap.DeadLetterCount)
	assert.Equal(t, int64(90), snap.OldestQueuedAgeSeconds)
	assert.Equal(t, now, snap.CollectedAt)
}

func TestSnapshotEmptyStreams(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	fake := &fakeStreams{lengths: map[string]int64{}}

	snap, err := testInspector(fake, now).Snapshot(context.Background())
	require.NoError(t, err)

	assert.Zero(t, snap.QueueDepth)
	assert.Zero(t, snap.StaleCount)
	assert.Zero(t, snap.DeadLetterCount)
	assert.Zero(t, snap.OldestQueuedAgeSeconds)
}

func TestSnapshotMissingConsumerGroup(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	fake := &fakeStreams{
		lengths:    map[string]int64{"pipeline:jobs": 3},
		pendingErr: errors.New("NOGROUP No such consumer group 'workers' for key name 'pipeline:jobs'"),
	}

	snap, err := testInspector(fake, now).Snapshot(context.Background())
	require.NoError(t, err)
	assert.Zero(t, snap.StaleCount)
}

func TestSnapshotFutureStreamIDClampsToZero(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	fake := &fakeStreams{
		lengths: map[string]int64{"pipeline:jobs": 1},
		oldest:  []redis.XMessage{{ID: fmt.Sprintf("%d-0", now.Add(time.Minute).UnixMilli())}},
	}

	snap, err := testInspector(fake, now).Snapshot(context.Background())
	require.NoError(t, err)
	assert.Zero(t, snap.OldestQueuedAgeSeconds)
}

func TestStreamIDMillis(t *testing.T) {
	ms, err := streamIDMillis("1724800000000-3")
	require.NoError(t, err)
	assert.Equal(t, int64(1724800000000), ms)

	_, err = streamIDMillis("not-a-stream-id")
	assert.Error(t, err)
}
