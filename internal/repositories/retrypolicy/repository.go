package retrypolicy

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"

	"github.com/Ramsey-B/tansy/internal/repositories/policyevent"
	"github.com/Ramsey-B/tansy/pkg/database"
	"github.com/Ramsey-B/tansy/pkg/models"
	"github.com/Ramsey-B/tansy/pkg/tracing"
)

var policyColumns = []string{"job_type", "max_attempts", "backoff_schedule_seconds", "jitter_ratio", "enabled", "updated_by", "updated_at"}

// Repository handles retry policy persistence. Every mutation writes the
// policy row and its audit event in one transaction.
type Repository struct {
	db     database.DB
	events *policyevent.Repository
	logger ectologger.Logger
}

// NewRepository creates a new retry policy repository
func NewRepository(db database.DB, events *policyevent.Repository, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		events: events,
		logger: logger,
	}
}

// List retrieves the policies for all job types in display order.
func (r *Repository) List(ctx context.Context) ([]models.RetryPolicy, error) {
	ctx, span := tracing.StartSpan(ctx, "retrypolicy.Repository.List")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(policyColumns...)
	sb.From(models.RetryPolicy{}.TableName())

	query, args := sb.Build()
	var policies []models.RetryPolicy
	if err := r.db.SelectContext(ctx, &policies, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list retry policies")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list retry policies")
	}

	// Rows come back in whatever order the table gives; present them in the
	// fixed job type order the admin surface uses.
	byType := make(map[models.JobType]models.RetryPolicy, len(policies))
	for _, p := range policies {
		byType[p.JobType] = p
	}
	ordered := make([]models.RetryPolicy, 0, len(byType))
	for _, jobType := range models.AllJobTypes() {
		if p, ok := byType[jobType]; ok {
			ordered = append(ordered, p)
		}
	}
	return ordered, nil
}

// GetByJobType retrieves the policy for one job type.
func (r *Repository) GetByJobType(ctx context.Context, jobType models.JobType) (*models.RetryPolicy, error) {
	ctx, span := tracing.StartSpan(ctx, "retrypolicy.Repository.GetByJobType")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(policyColumns...)
	sb.From(models.RetryPolicy{}.TableName())
	sb.Where(sb.Equal("job_type", jobType))

	query, args := sb.Build()
	var policy models.RetryPolicy
	if err := r.db.GetContext(ctx, &policy, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, "retry policy not found")
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get retry policy")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get retry policy")
	}

	return &policy, nil
}

// Update applies an operator edit to one policy.
func (r *Repository) Update(ctx context.Context, jobType models.JobType, update models.PolicyUpdate, actorID string) (*models.RetryPolicy, error) {
	after := models.RetryPolicySnapshot{
		MaxAttempts:            update.MaxAttempts,
		BackoffScheduleSeconds: update.BackoffScheduleSeconds,
		JitterRatio:            update.JitterRatio,
		Enabled:                update.Enabled,
	}
	return r.mutate(ctx, jobType, after, models.PolicyActionUpdate, nil, actorID, nil)
}

// Reset restores one policy to the factory default.
func (r *Repository) Reset(ctx context.Context, jobType models.JobType, actorID string) (*models.RetryPolicy, error) {
	presetKey := string(models.PresetFactoryDefault)
	return r.mutate(ctx, jobType, models.FactoryDefaultPolicy(jobType), models.PolicyActionReset, &presetKey, actorID, nil)
}

// ResetAll restores every job type to the factory default. Each job type gets
// its own event; job types already at the default still get reset so the
// audit trail shows the operator's intent.
func (r *Repository) ResetAll(ctx context.Context, actorID string) ([]models.RetryPolicy, error) {
	ctx, span := tracing.StartSpan(ctx, "retrypolicy.Repository.ResetAll")
	defer span.End()

	policies := make([]models.RetryPolicy, 0, len(models.AllJobTypes()))
	for _, jobType := range models.AllJobTypes() {
		policy, err := r.Reset(ctx, jobType, actorID)
		if err != nil {
			return nil, err
		}
		policies = append(policies, *policy)
	}
	return policies, nil
}

// ApplySnapshot writes a resolved rollback target as the new policy.
func (r *Repository) ApplySnapshot(ctx context.Context, jobType models.JobType, snapshot models.RetryPolicySnapshot, presetKey *string, actorID string, note *string) (*models.RetryPolicy, error) {
	return r.mutate(ctx, jobType, snapshot, models.PolicyActionRollback, presetKey, actorID, note)
}

// MarkKnownGood records the current policy as the known-good snapshot for its
// job type, replacing any previous one.
func (r *Repository) MarkKnownGood(ctx context.Context, jobType models.JobType, actorID string) (*models.RetryPolicySnapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "retrypolicy.Repository.MarkKnownGood")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"method":   "MarkKnownGood",
		"job_type": jobType,
	})

	ctx, tx, err := database.GetTx(ctx, r.logger, r.db, nil)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to begin transaction")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	policy, err := r.getForUpdate(ctx, tx, jobType)
	if err != nil {
		return nil, err
	}
	snapshot := policy.Snapshot()
	now := time.Now().UTC()

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("retry_policy_known_good")
	sb.Cols("job_type", "policy", "marked_by", "marked_at")
	sb.Values(jobType, database.NewJSONB(snapshot), nilIfEmpty(actorID), now)
	sb.SQL("ON CONFLICT (job_type) DO UPDATE SET policy = EXCLUDED.policy, marked_by = EXCLUDED.marked_by, marked_at = EXCLUDED.marked_at")

	query, args := sb.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		log.WithError(err).Error("Failed to upsert known-good snapshot")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to mark policy as known good")
	}

	presetKey := string(models.PresetKnownGood)
	event := &models.RetryPolicyEvent{
		JobType:      jobType,
		Action:       models.PolicyActionMarkKnownGood,
		PresetKey:    &presetKey,
		BeforePolicy: database.NewJSONB(snapshot),
		AfterPolicy:  database.NewJSONB(snapshot),
		ActorUserID:  nilIfEmpty(actorID),
		CreatedAt:    now,
	}
	if err := r.events.Insert(ctx, tx, event); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		log.WithError(err).Error("Failed to commit known-good mark")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to mark policy as known good")
	}

	log.Info("Marked policy as known good")
	return &snapshot, nil
}

// KnownGood retrieves the known-good snapshot for a job type, or nil when
// none has been marked.
func (r *Repository) KnownGood(ctx context.Context, jobType models.JobType) (*models.RetryPolicySnapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "retrypolicy.Repository.KnownGood")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("policy")
	sb.From("retry_policy_known_good")
	sb.Where(sb.Equal("job_type", jobType))

	query, args := sb.Build()
	var stored database.JSONB[models.RetryPolicySnapshot]
	if err := r.db.GetContext(ctx, &stored, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get known-good snapshot")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get known-good snapshot")
	}

	snapshot := stored.Data
	return &snapshot, nil
}

// mutate is the single write path: lock the row, record before/after, update
// the policy and append the event, all in one transaction.
func (r *Repository) mutate(ctx context.Context, jobType models.JobType, after models.RetryPolicySnapshot, action models.PolicyAction, presetKey *string, actorID string, note *string) (*models.RetryPolicy, error) {
	ctx, span := tracing.StartSpan(ctx, "retrypolicy.Repository.mutate")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"method":   "mutate",
		"job_type": jobType,
		"action":   action,
	})

	ctx, tx, err := database.GetTx(ctx, r.logger, r.db, nil)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to begin transaction")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	current, err := r.getForUpdate(ctx, tx, jobType)
	if err != nil {
		return nil, err
	}
	before := current.Snapshot()
	now := time.Now().UTC()

	updated := models.RetryPolicy{
		JobType:                jobType,
		MaxAttempts:            after.MaxAttempts,
		BackoffScheduleSeconds: pq.Int64Array(after.BackoffScheduleSeconds),
		JitterRatio:            after.JitterRatio,
		Enabled:                after.Enabled,
		UpdatedBy:              nilIfEmpty(actorID),
		UpdatedAt:              now,
	}

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(models.RetryPolicy{}.TableName())
	ub.Set(
		ub.Assign("max_attempts", updated.MaxAttempts),
		ub.Assign("backoff_schedule_seconds", updated.BackoffScheduleSeconds),
		ub.Assign("jitter_ratio", updated.JitterRatio),
		ub.Assign("enabled", updated.Enabled),
		ub.Assign("updated_by", updated.UpdatedBy),
		ub.Assign("updated_at", updated.UpdatedAt),
	)
	ub.Where(ub.Equal("job_type", jobType))

	query, args := ub.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		log.WithError(err).Error("Failed to update retry policy")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update retry policy")
	}

	event := &models.RetryPolicyEvent{
		JobType:      jobType,
		Action:       action,
		PresetKey:    presetKey,
		BeforePolicy: database.NewJSONB(before),
		AfterPolicy:  database.NewJSONB(updated.Snapshot()),
		ActorUserID:  nilIfEmpty(actorID),
		Note:         note,
		CreatedAt:    now,
	}
	if err := r.events.Insert(ctx, tx, event); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		log.WithError(err).Error("Failed to commit policy mutation")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update retry policy")
	}

	log.Info("Applied retry policy mutation")
	return &updated, nil
}

// getForUpdate reads a policy row under a row lock inside the transaction.
func (r *Repository) getForUpdate(ctx context.Context, tx database.Tx, jobType models.JobType) (*models.RetryPolicy, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(policyColumns...)
	sb.From(models.RetryPolicy{}.TableName())
	sb.Where(sb.Equal("job_type", jobType))
	sb.SQL("FOR UPDATE")

	query, args := sb.Build()
	var policy models.RetryPolicy
	if err := tx.GetContext(ctx, &policy, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, "retry policy not found")
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to lock retry policy row")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get retry policy")
	}

	return &policy, nil
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
