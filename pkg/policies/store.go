// Package policies holds the in-process view of retry policy configuration:
// the cached policy table, per-job-type edit drafts and the save pipeline.
package policies

import (
	"context"
	"net/http"
	"sync"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/tansy/pkg/metrics"
	"github.com/Ramsey-B/tansy/pkg/models"
	"github.com/Ramsey-B/tansy/pkg/policy"
	"github.com/Ramsey-B/tansy/pkg/tracing"
)

// Repo is the persistence surface the store drives.
type Repo interface {
	List(ctx context.Context) ([]models.RetryPolicy, error)
	GetByJobType(ctx context.Context, jobType models.JobType) (*models.RetryPolicy, error)
	Update(ctx context.Context, jobType models.JobType, update models.PolicyUpdate, actorID string) (*models.RetryPolicy, error)
	Reset(ctx context.Context, jobType models.JobType, actorID string) (*models.RetryPolicy, error)
	ResetAll(ctx context.Context, actorID string) ([]models.RetryPolicy, error)
	ApplySnapshot(ctx context.Context, jobType models.JobType, snapshot models.RetryPolicySnapshot, presetKey *string, actorID string, note *string) (*models.RetryPolicy, error)
	MarkKnownGood(ctx context.Context, jobType models.JobType, actorID string) (*models.RetryPolicySnapshot, error)
}

// Mutation describes one applied policy change, handed to registered hooks
// after the change has committed.
type Mutation struct {
	JobType   models.JobType
	Action    models.PolicyAction
	PresetKey *string
	Before    models.RetryPolicySnapshot
	After     models.RetryPolicySnapshot
	ActorID   string
}

// MutationHook observes committed policy mutations.
type MutationHook func(ctx context.Context, m Mutation)

// Store is the in-process policy state. Reads serve from the cache; writes
// go through the repository and update the cache on success only.
type Store struct {
	mu     sync.RWMutex
	repo   Repo
	logger ectologger.Logger

	cache  map[models.JobType]models.RetryPolicy
	drafts map[models.JobType]policy.Draft
	saving map[models.JobType]bool
	hooks  []MutationHook
}

// NewStore creates an empty policy store. Call Load before serving reads.
func NewStore(repo Repo, logger ectologger.Logger) *Store {
	return &Store{
		repo:   repo,
		logger: logger,
		cache:  make(map[models.JobType]models.RetryPolicy),
		drafts: make(map[models.JobType]policy.Draft),
		saving: make(map[models.JobType]bool),
	}
}

// OnMutation registers a hook called after every committed mutation. Hooks
// must be registered before the store starts serving; registration is not
// synchronized against concurrent writes.
func (s *Store) OnMutation(hook MutationHook) {
	s.hooks = append(s.hooks, hook)
}

// Load replaces the cache with the persisted policy table. Any in-progress
// drafts are discarded: a reload means the operator wants fresh state.
func (s *Store) Load(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "policies.Store.Load")
	defer span.End()

	policies, err := s.repo.List(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[models.JobType]models.RetryPolicy, len(policies))
	for _, p := range policies {
		s.cache[p.JobType] = p
	}
	s.drafts = make(map[models.JobType]policy.Draft)
	return nil
}

// Policies returns the cached policies in display order.
func (s *Store) Policies() []models.RetryPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.RetryPolicy, 0, len(s.cache))
	for _, jobType := range models.AllJobTypes() {
		if p, ok := s.cache[jobType]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Policy returns the cached policy for one job type.
func (s *Store) Policy(jobType models.JobType) (models.RetryPolicy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.cache[jobType]
	return p, ok
}

// BeginDraft starts (or returns the existing) edit draft for a job type,
// seeded from the cached policy.
func (s *Store) BeginDraft(jobType models.JobType) (policy.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d, ok := s.drafts[jobType]; ok {
		return d, nil
	}
	p, ok := s.cache[jobType]
	if !ok {
		return policy.Draft{}, httperror.NewHTTPError(http.StatusNotFound, "retry policy not found")
	}
	d := *policy.DraftFromPolicy(&p)
	s.drafts[jobType] = d
	return d, nil
}

// UpdateDraft replaces the stored draft for a job type. Drafts hold raw
// operator input; nothing is validated until save.
func (s *Store) UpdateDraft(jobType models.JobType, d policy.Draft) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.JobType = jobType
	s.drafts[jobType] = d
}

// Draft returns the stored draft for a job type, if any.
func (s *Store) Draft(jobType models.JobType) (policy.Draft, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drafts[jobType]
	return d, ok
}

// CancelDraft discards the draft for a job type without saving.
func (s *Store) CancelDraft(jobType models.JobType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, jobType)
}

// Save validates and persists the draft for a job type. Validation failures
// keep the draft so the operator can correct it; nothing is written. A save
// already in flight for the same job type rejects the second attempt rather
// than racing it.
func (s *Store) Save(ctx context.Context, jobType models.JobType, actorID string) (*models.RetryPolicy, error) {
	ctx, span := tracing.StartSpan(ctx, "policies.Store.Save")
	defer span.End()

	s.mu.Lock()
	draft, ok := s.drafts[jobType]
	if !ok {
		s.mu.Unlock()
		return nil, httperror.NewHTTPError(http.StatusConflict, "no draft in progress for job type")
	}
	if s.saving[jobType] {
		s.mu.Unlock()
		return nil, httperror.NewHTTPError(http.StatusConflict, "save already in progress for job type")
	}
	before, hasBefore := s.cache[jobType]
	s.saving[jobType] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.saving, jobType)
		s.mu.Unlock()
	}()

	schedule, fieldErrs := policy.ValidateDraft(&draft)
	if len(fieldErrs) > 0 {
		metrics.PolicyValidationFailures.WithLabelValues(string(jobType), fieldErrs[0].Field).Inc()
		return nil, fieldErrs
	}

	update := policy.UpdateFromDraft(&draft, schedule)
	updated, err := s.repo.Update(ctx, jobType, update, actorID)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Errorf("Failed to save retry policy for %s", jobType)
		return nil, err
	}

	s.mu.Lock()
	s.cache[jobType] = *updated
	delete(s.drafts, jobType)
	s.mu.Unlock()

	metrics.RecordPolicyMutation(string(jobType), string(models.PolicyActionUpdate))
	if hasBefore {
		s.fireHooks(ctx, Mutation{
			JobType: jobType,
			Action:  models.PolicyActionUpdate,
			Before:  before.Snapshot(),
			After:   updated.Snapshot(),
			ActorID: actorID,
		})
	}
	return updated, nil
}

// Reset restores one job type to the factory default and discards its draft.
func (s *Store) Reset(ctx context.Context, jobType models.JobType, actorID string) (*models.RetryPolicy, error) {
	ctx, span := tracing.StartSpan(ctx, "policies.Store.Reset")
	defer span.End()

	s.mu.RLock()
	before, hasBefore := s.cache[jobType]
	s.mu.RUnlock()

	updated, err := s.repo.Reset(ctx, jobType, actorID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[jobType] = *updated
	delete(s.drafts, jobType)
	s.mu.Unlock()

	presetKey := string(models.PresetFactoryDefault)
	metrics.RecordPolicyMutation(string(jobType), string(models.PolicyActionReset))
	if hasBefore {
		s.fireHooks(ctx, Mutation{
			JobType:   jobType,
			Action:    models.PolicyActionReset,
			PresetKey: &presetKey,
			Before:    before.Snapshot(),
			After:     updated.Snapshot(),
			ActorID:   actorID,
		})
	}
	return updated, nil
}

// ResetAll restores every job type to the factory default and discards all
// drafts.
func (s *Store) ResetAll(ctx context.Context, actorID string) ([]models.RetryPolicy, error) {
	ctx, span := tracing.StartSpan(ctx, "policies.Store.ResetAll")
	defer span.End()

	s.mu.RLock()
	befores := make(map[models.JobType]models.RetryPolicySnapshot, len(s.cache))
	for jobType, p := range s.cache {
		befores[jobType] = p.Snapshot()
	}
	s.mu.RUnlock()

	updated, err := s.repo.ResetAll(ctx, actorID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	for _, p := range updated {
		s.cache[p.JobType] = p
	}
	s.drafts = make(map[models.JobType]policy.Draft)
	s.mu.Unlock()

	presetKey := string(models.PresetFactoryDefault)
	for _, p := range updated {
		metrics.RecordPolicyMutation(string(p.JobType), string(models.PolicyActionReset))
		if before, ok := befores[p.JobType]; ok {
			s.fireHooks(ctx, Mutation{
				JobType:   p.JobType,
				Action:    models.PolicyActionReset,
				PresetKey: &presetKey,
				Before:    before,
				After:     p.Snapshot(),
				ActorID:   actorID,
			})
		}
	}
	return updated, nil
}

// ApplyRollback writes a resolved rollback snapshot as the new policy for a
// job type and refreshes the cache.
func (s *Store) ApplyRollback(ctx context.Context, jobType models.JobType, snapshot models.RetryPolicySnapshot, presetKey *string, actorID string, note *string) (*models.RetryPolicy, error) {
	ctx, span := tracing.StartSpan(ctx, "policies.Store.ApplyRollback")
	defer span.End()

	s.mu.RLock()
	before, hasBefore := s.cache[jobType]
	s.mu.RUnlock()

	updated, err := s.repo.ApplySnapshot(ctx, jobType, snapshot, presetKey, actorID, note)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[jobType] = *updated
	delete(s.drafts, jobType)
	s.mu.Unlock()

	metrics.RecordPolicyMutation(string(jobType), string(models.PolicyActionRollback))
	if hasBefore {
		s.fireHooks(ctx, Mutation{
			JobType:   jobType,
			Action:    models.PolicyActionRollback,
			PresetKey: presetKey,
			Before:    before.Snapshot(),
			After:     updated.Snapshot(),
			ActorID:   actorID,
		})
	}
	return updated, nil
}

// MarkKnownGood records the current policy as the known-good snapshot.
func (s *Store) MarkKnownGood(ctx context.Context, jobType models.JobType, actorID string) (*models.RetryPolicySnapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "policies.Store.MarkKnownGood")
	defer span.End()

	snapshot, err := s.repo.MarkKnownGood(ctx, jobType, actorID)
	if err != nil {
		return nil, err
	}

	presetKey := string(models.PresetKnownGood)
	metrics.RecordPolicyMutation(string(jobType), string(models.PolicyActionMarkKnownGood))
	s.fireHooks(ctx, Mutation{
		JobType:   jobType,
		Action:    models.PolicyActionMarkKnownGood,
		PresetKey: &presetKey,
		Before:    *snapshot,
		After:     *snapshot,
		ActorID:   actorID,
	})
	return snapshot, nil
}

func (s *Store) fireHooks(ctx context.Context, m Mutation) {
	for _, hook := range s.hooks {
		hook(ctx, m)
	}
}
