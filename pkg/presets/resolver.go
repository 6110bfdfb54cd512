// Package presets resolves named rollback targets (factory default, last
// change, known good) into concrete policy snapshots.
package presets

import (
	"context"
	"net/http"
	"sync"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/tansy/pkg/models"
	"github.com/Ramsey-B/tansy/pkg/tracing"
)

// PolicySource reads known-good snapshots from persistence.
type PolicySource interface {
	KnownGood(ctx context.Context, jobType models.JobType) (*models.RetryPolicySnapshot, error)
}

// EventSource reads the audit trail.
type EventSource interface {
	LatestByJobType(ctx context.Context, jobType models.JobType) (*models.RetryPolicyEvent, error)
}

func presetLabel(key models.PresetKey) string {
	switch key {
	case models.PresetFactoryDefault:
		return "Factory default"
	case models.PresetLastChange:
		return "Last change"
	case models.PresetKnownGood:
		return "Known good"
	}
	return string(key)
}

type cacheKey struct {
	jobType models.JobType
	preset  models.PresetKey
}

// Resolver resolves preset keys to snapshots, caching results until the next
// mutation invalidates them.
type Resolver struct {
	mu       sync.Mutex
	policies PolicySource
	events   EventSource
	logger   ectologger.Logger
	cache    map[cacheKey]models.RetryPolicyPreset
}

// NewResolver creates a preset resolver.
func NewResolver(policies PolicySource, events EventSource, logger ectologger.Logger) *Resolver {
	return &Resolver{
		policies: policies,
		events:   events,
		logger:   logger,
		cache:    make(map[cacheKey]models.RetryPolicyPreset),
	}
}

// Resolve returns the snapshot a preset names for a job type. When the
// preset has no recorded value the factory default is substituted and the
// result is flagged as a fallback; callers must not present it as the real
// preset.
func (r *Resolver) Resolve(ctx context.Context, jobType models.JobType, key models.PresetKey) (models.RetryPolicyPreset, error) {
	ctx, span := tracing.StartSpan(ctx, "presets.Resolver.Resolve")
	defer span.End()

	if !key.Valid() {
		return models.RetryPolicyPreset{}, httperror.NewHTTPError(http.StatusBadRequest, "unknown preset key")
	}

	r.mu.Lock()
	if preset, ok := r.cache[cacheKey{jobType, key}]; ok {
		r.mu.Unlock()
		return preset, nil
	}
	r.mu.Unlock()

	preset, err := r.resolve(ctx, jobType, key)
	if err != nil {
		return models.RetryPolicyPreset{}, err
	}

	r.mu.Lock()
	r.cache[cacheKey{jobType, key}] = preset
	r.mu.Unlock()
	return preset, nil
}

// List resolves all presets for a job type in display order.
func (r *Resolver) List(ctx context.Context, jobType models.JobType) ([]models.RetryPolicyPreset, error) {
	out := make([]models.RetryPolicyPreset, 0, len(models.AllPresetKeys()))
	for _, key := range models.AllPresetKeys() {
		preset, err := r.Resolve(ctx, jobType, key)
		if err != nil {
			return nil, err
		}
		out = append(out, preset)
	}
	return out, nil
}

// Invalidate drops cached presets for a job type. Called after any mutation
// to that job type's policy, since last-change and known-good may have moved.
func (r *Resolver) Invalidate(jobType models.JobType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range models.AllPresetKeys() {
		delete(r.cache, cacheKey{jobType, key})
	}
}

func (r *Resolver) resolve(ctx context.Context, jobType models.JobType, key models.PresetKey) (models.RetryPolicyPreset, error) {
	switch key {
	case models.PresetFactoryDefault:
		return models.RetryPolicyPreset{
			PresetKey: key,
			Label:     presetLabel(key),
			Policy:    models.FactoryDefaultPolicy(jobType),
		}, nil

	case models.PresetLastChange:
		event, err := r.events.LatestByJobType(ctx, jobType)
		if err != nil {
			return models.RetryPolicyPreset{}, err
		}
		if event == nil {
			return r.fallback(ctx, jobType, key), nil
		}
		return models.RetryPolicyPreset{
			PresetKey: key,
			Label:     presetLabel(key),
			Policy:    event.BeforePolicy.Data,
		}, nil

	case models.PresetKnownGood:
		snapshot, err := r.policies.KnownGood(ctx, jobType)
		if err != nil {
			return models.RetryPolicyPreset{}, err
		}
		if snapshot == nil {
			return r.fallback(ctx, jobType, key), nil
		}
		return models.RetryPolicyPreset{
			PresetKey: key,
			Label:     presetLabel(key),
			Policy:    *snapshot,
		}, nil
	}

	return models.RetryPolicyPreset{}, httperror.NewHTTPError(http.StatusBadRequest, "unknown preset key")
}

func (r *Resolver) fallback(ctx context.Context, jobType models.JobType, key models.PresetKey) models.RetryPolicyPreset {
	r.logger.WithContext(ctx).Warnf("Preset %s has no recorded value for %s, substituting factory default", key, jobType)
	return models.RetryPolicyPreset{
		PresetKey:    key,
		Label:        presetLabel(key) + " (fallback)",
		Policy:       models.FactoryDefaultPolicy(jobType),
		FallbackUsed: true,
	}
}
