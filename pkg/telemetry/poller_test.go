package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/tansy/pkg/models"
)

type fakeSource struct {
	mu       sync.Mutex
	snapshot *models.TelemetrySnapshot
	err      error
	calls    int
}

func (f *fakeSource) Snapshot(ctx context.Context) (*models.TelemetrySnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	snap := *f.snapshot
	return &snap, nil
}

func (f *fakeSource) set(snapshot *models.TelemetrySnapshot, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshot = snapshot
	f.err = err
}

func testPoller(source Source) *Poller {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return NewPoller(source, time.Hour, logger)
}

func snapshotAt(depth int64, at time.Time) *models.TelemetrySnapshot {
	return &models.TelemetrySnapshot{
		QueueDepth:      depth,
		StaleCount:      1,
		DeadLetterCount: 2,
		CollectedAt:     at,
	}
}

func TestRefreshServesSnapshot(t *testing.T) {
	source := &fakeSource{snapshot: snapshotAt(10, time.Now())}
	p := testPoller(source)

	p.Refresh(context.Background())

	view := p.Telemetry()
	require.NotNil(t, view.Snapshot)
	assert.Equal(t, int64(10), view.Snapshot.QueueDepth)
	assert.False(t, view.Stale)
	assert.Empty(t, view.LastError)
}

func TestFailedPollRetainsLastGoodSnapshot(t *testing.T) {
	source := &fakeSource{snapshot: snapshotAt(10, time.Now())}
	p := testPoller(source)

	p.Refresh(context.Background())
	source.set(nil, errors.New("connection refused"))
	p.Refresh(context.Background())

	view := p.Telemetry()
	require.NotNil(t, view.Snapshot, "a failed poll must not blank the dashboard")
	assert.Equal(t, int64(10), view.Snapshot.QueueDepth)
	assert.True(t, view.Stale)
	assert.Contains(t, view.LastError, "connection refused")
}

func TestRecoveryClearsStaleness(t *testing.T) {
	source := &fakeSource{snapshot: snapshotAt(10, time.Now())}
	p := testPoller(source)

	p.Refresh(context.Background())
	source.set(nil, errors.New("timeout"))
	p.Refresh(context.Background())
	source.set(snapshotAt(25, time.Now()), nil)
	p.Refresh(context.Background())

	view := p.Telemetry()
	require.NotNil(t, view.Snapshot)
	assert.Equal(t, int64(25), view.Snapshot.QueueDepth)
	assert.False(t, view.Stale)
	assert.Empty(t, view.LastError)
}

func TestFailureBeforeAnySuccess(t *testing.T) {
	source := &fakeSource{err: errors.New("no route to host")}
	p := testPoller(source)

	p.Refresh(context.Background())

	view := p.Telemetry()
	assert.Nil(t, view.Snapshot)
	assert.False(t, view.Stale, "nothing retained means nothing is stale")
	assert.Contains(t, view.LastError, "no route to host")
}

func TestStartPollsImmediatelyAndStops(t *testing.T) {
	source := &fakeSource{snapshot: snapshotAt(3, time.Now())}
	p := testPoller(source)

	require.NoError(t, p.Start(context.Background()))
	assert.Error(t, p.Start(context.Background()), "double start must be rejected")

	// The loop polls once on startup before the first tick.
	deadline := time.After(2 * time.Second)
	for {
		source.mu.Lock()
		calls := source.calls
		source.mu.Unlock()
		if calls > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("poller never polled after start")
		case <-time.After(10 * time.Millisecond):
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))
	assert.False(t, p.IsRunning())
}
