// Package rollback stages and applies retry policy rollbacks. A rollback is
// previewed first: the operator sees the diff between the current policy and
// the resolved target before anything is written.
package rollback

import (
	"context"
	"net/http"
	"sync"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/tansy/pkg/metrics"
	"github.com/Ramsey-B/tansy/pkg/models"
	"github.com/Ramsey-B/tansy/pkg/policy"
	"github.com/Ramsey-B/tansy/pkg/tracing"
)

// State is the rollback workflow phase.
type State string

const (
	StateIdle       State = "idle"
	StatePreviewing State = "previewing"
	StateApplying   State = "applying"
)

// PresetResolver resolves preset keys to snapshots.
type PresetResolver interface {
	Resolve(ctx context.Context, jobType models.JobType, key models.PresetKey) (models.RetryPolicyPreset, error)
}

// EventGetter reads audit events by id.
type EventGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.RetryPolicyEvent, error)
}

// PolicyApplier is the policy store surface the controller writes through.
type PolicyApplier interface {
	Policy(jobType models.JobType) (models.RetryPolicy, bool)
	ApplyRollback(ctx context.Context, jobType models.JobType, snapshot models.RetryPolicySnapshot, presetKey *string, actorID string, note *string) (*models.RetryPolicy, error)
}

// Preview is a staged rollback awaiting confirmation.
type Preview struct {
	JobType      models.JobType             `json:"job_type"`
	Target       models.RollbackRequest     `json:"target"`
	TargetLabel  string                     `json:"target_label"`
	FallbackUsed bool                       `json:"fallback_used"`
	Current      models.RetryPolicySnapshot `json:"current"`
	Resolved     models.RetryPolicySnapshot `json:"resolved"`
	Diff         []policy.DiffRow           `json:"diff"`
	NoChange     bool                       `json:"no_change"`
}

// View is a read snapshot of the controller.
type View struct {
	State   State    `json:"state"`
	Preview *Preview `json:"preview,omitempty"`
}

// Controller owns the stage/apply/cancel workflow. One rollback can be
// staged at a time.
type Controller struct {
	mu       sync.Mutex
	store    PolicyApplier
	resolver PresetResolver
	events   EventGetter
	logger   ectologger.Logger

	state   State
	preview *Preview
}

// NewController creates an idle rollback controller.
func NewController(store PolicyApplier, resolver PresetResolver, events EventGetter, logger ectologger.Logger) *Controller {
	return &Controller{
		store:    store,
		resolver: resolver,
		events:   events,
		logger:   logger,
		state:    StateIdle,
	}
}

// View returns the current workflow state.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	view := View{State: c.state}
	if c.preview != nil {
		p := *c.preview
		view.Preview = &p
	}
	return view
}

// Stage resolves a rollback target and stores the preview. Staging while a
// previous preview exists replaces it; staging during an apply is rejected.
func (c *Controller) Stage(ctx context.Context, jobType models.JobType, target models.RollbackRequest) (View, error) {
	ctx, span := tracing.StartSpan(ctx, "rollback.Controller.Stage")
	defer span.End()

	if (target.PresetKey == nil) == (target.EventID == nil) {
		return c.View(), httperror.NewHTTPError(http.StatusBadRequest, "rollback target must name exactly one of preset_key or event_id")
	}

	c.mu.Lock()
	if c.state == StateApplying {
		c.mu.Unlock()
		return c.View(), httperror.NewHTTPError(http.StatusConflict, "a rollback is currently being applied")
	}
	c.mu.Unlock()

	current, ok := c.store.Policy(jobType)
	if !ok {
		return c.View(), httperror.NewHTTPError(http.StatusNotFound, "retry policy not found")
	}

	resolved, label, fallbackUsed, err := c.resolveTarget(ctx, jobType, target)
	if err != nil {
		return c.View(), err
	}

	currentSnap := current.Snapshot()
	preview := &Preview{
		JobType:      jobType,
		Target:       target,
		TargetLabel:  label,
		FallbackUsed: fallbackUsed,
		Current:      currentSnap,
		Resolved:     resolved,
		Diff:         policy.Diff(currentSnap, resolved),
		NoChange:     currentSnap.Equal(resolved),
	}

	c.mu.Lock()
	c.state = StatePreviewing
	c.preview = preview
	c.mu.Unlock()

	return c.View(), nil
}

// Apply writes the staged rollback. A target identical to the current policy
// succeeds without writing anything, so repeating an already-applied rollback
// is harmless. Failure keeps the preview staged so the operator can retry or
// cancel.
func (c *Controller) Apply(ctx context.Context, actorID string) (View, error) {
	ctx, span := tracing.StartSpan(ctx, "rollback.Controller.Apply")
	defer span.End()

	c.mu.Lock()
	if c.state == StateApplying {
		c.mu.Unlock()
		return c.View(), httperror.NewHTTPError(http.StatusConflict, "a rollback is already being applied")
	}
	if c.state != StatePreviewing || c.preview == nil {
		c.mu.Unlock()
		return c.View(), httperror.NewHTTPError(http.StatusConflict, "no rollback staged")
	}
	preview := *c.preview
	c.state = StateApplying
	c.mu.Unlock()

	target := targetKind(preview.Target)

	if preview.NoChange {
		c.mu.Lock()
		c.state = StateIdle
		c.preview = nil
		c.mu.Unlock()
		metrics.RecordRollback(string(preview.JobType), target, "noop")
		c.logger.WithContext(ctx).Infof("Rollback target for %s matches current policy, nothing to apply", preview.JobType)
		return c.View(), nil
	}

	var presetKey *string
	if preview.Target.PresetKey != nil {
		key := string(*preview.Target.PresetKey)
		presetKey = &key
	}
	note := "rolled back to " + preview.TargetLabel

	_, err := c.store.ApplyRollback(ctx, preview.JobType, preview.Resolved, presetKey, actorID, &note)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		// Back to previewing: the staged target survives a failed apply.
		c.state = StatePreviewing
		metrics.RecordRollback(string(preview.JobType), target, "error")
		c.logger.WithContext(ctx).WithError(err).Errorf("Failed to apply rollback for %s", preview.JobType)
		return c.viewLocked(), err
	}

	c.state = StateIdle
	c.preview = nil
	metrics.RecordRollback(string(preview.JobType), target, "ok")
	return c.viewLocked(), nil
}

// Cancel discards the staged preview. Cancelling mid-apply is rejected; the
// write is already in flight and pretending otherwise would lie about state.
func (c *Controller) Cancel() (View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateApplying {
		return c.viewLocked(), httperror.NewHTTPError(http.StatusConflict, "cannot cancel while a rollback is being applied")
	}
	c.state = StateIdle
	c.preview = nil
	return c.viewLocked(), nil
}

func (c *Controller) viewLocked() View {
	view := View{State: c.state}
	if c.preview != nil {
		p := *c.preview
		view.Preview = &p
	}
	return view
}

func (c *Controller) resolveTarget(ctx context.Context, jobType models.JobType, target models.RollbackRequest) (models.RetryPolicySnapshot, string, bool, error) {
	if target.PresetKey != nil {
		preset, err := c.resolver.Resolve(ctx, jobType, *target.PresetKey)
		if err != nil {
			return models.RetryPolicySnapshot{}, "", false, err
		}
		return preset.Policy, preset.Label, preset.FallbackUsed, nil
	}

	event, err := c.events.GetByID(ctx, *target.EventID)
	if err != nil {
		return models.RetryPolicySnapshot{}, "", false, err
	}
	if event.JobType != jobType {
		return models.RetryPolicySnapshot{}, "", false, httperror.NewHTTPError(http.StatusBadRequest, "event belongs to a different job type")
	}
	// Rolling back to an event restores the state as of that event, i.e. its
	// after snapshot.
	label := "event " + event.ID.String()
	return event.AfterPolicy.Data, label, false, nil
}

func targetKind(target models.RollbackRequest) string {
	if target.PresetKey != nil {
		return string(*target.PresetKey)
	}
	return "event"
}
