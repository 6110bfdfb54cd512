// Package telemetry polls the pipeline's job streams on a fixed interval and
// serves the latest snapshot to the dashboard. A failed poll never blanks the
// dashboard: the last good snapshot is retained and served until a poll
// succeeds again.
package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/tansy/pkg/metrics"
	"github.com/Ramsey-B/tansy/pkg/models"
	"github.com/Ramsey-B/tansy/pkg/tracing"
)

var (
	// ErrPollerAlreadyRunning is returned when trying to start a running poller
	ErrPollerAlreadyRunning = errors.New("telemetry poller already running")
)

const (
	// DefaultPollInterval is the default interval between telemetry polls
	DefaultPollInterval = 8 * time.Second
)

// Source collects one telemetry snapshot.
type Source interface {
	Snapshot(ctx context.Context) (*models.TelemetrySnapshot, error)
}

// View is the poller's readable state: the snapshot being served plus
// whether it is stale because the most recent poll failed.
type View struct {
	Snapshot  *models.TelemetrySnapshot `json:"snapshot,omitempty"`
	Stale     bool                      `json:"stale"`
	LastError string                    `json:"last_error,omitempty"`
}

// Poller polls the source on a fixed interval.
type Poller struct {
	source   Source
	interval time.Duration
	logger   ectologger.Logger

	// Coordination
	stopCh   chan struct{}
	stoppedC chan struct{}
	running  bool
	mu       sync.RWMutex

	lastGood *models.TelemetrySnapshot
	lastErr  error
}

// NewPoller creates a telemetry poller.
func NewPoller(source Source, interval time.Duration, logger ectologger.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		source:   source,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
		stoppedC: make(chan struct{}),
	}
}

// Start starts the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrPollerAlreadyRunning
	}
	p.running = true
	p.mu.Unlock()

	p.logger.WithContext(ctx).Infof("Starting telemetry poller: interval=%s", p.interval)
	go p.pollLoop(ctx)
	return nil
}

// Stop stops the poller gracefully.
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopCh)

	select {
	case <-p.stoppedC:
		p.logger.WithContext(ctx).Info("Telemetry poller stopped")
	case <-ctx.Done():
		p.logger.WithContext(ctx).Warn("Telemetry poller shutdown timed out")
		return ctx.Err()
	}
	return nil
}

// IsRunning returns whether the poller is running.
func (p *Poller) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Refresh runs one poll immediately, outside the ticker cadence. Triage
// actions call this so the dashboard reflects a retry without waiting up to
// a full interval.
func (p *Poller) Refresh(ctx context.Context) {
	p.poll(ctx)
}

// Telemetry returns the snapshot being served. Stale is true when the most
// recent poll failed and the snapshot is a retained last-good value.
func (p *Poller) Telemetry() View {
	p.mu.RLock()
	defer p.mu.RUnlock()

	view := View{}
	if p.lastGood != nil {
		snap := *p.lastGood
		view.Snapshot = &snap
	}
	if p.lastErr != nil {
		view.Stale = p.lastGood != nil
		view.LastError = p.lastErr.Error()
	}
	return view
}

func (p *Poller) pollLoop(ctx context.Context) {
	defer close(p.stoppedC)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Poll immediately on start
	p.poll(ctx)

	for {
		select {
		case <-p.stopCh:
			p.logger.WithContext(ctx).Debug("Telemetry poll loop stopping")
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, "telemetry.Poller.poll")
	defer span.End()

	start := time.Now()
	snapshot, err := p.source.Snapshot(ctx)
	metrics.TelemetryPollDuration.Observe(time.Since(start).Seconds())

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.lastErr = err
		metrics.TelemetryPollFailures.Inc()
		p.logger.WithContext(ctx).WithError(err).Warn("Telemetry poll failed, retaining last good snapshot")
		return
	}
	p.lastGood = snapshot
	p.lastErr = nil
}
