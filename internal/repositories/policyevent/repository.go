package policyevent

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/tansy/pkg/database"
	"github.com/Ramsey-B/tansy/pkg/models"
	"github.com/Ramsey-B/tansy/pkg/tracing"
)

var columns = []string{"id", "job_type", "action", "preset_key", "before_policy", "after_policy", "actor_user_id", "note", "created_at"}

// Repository handles retry policy event persistence. Events are append-only;
// there is no update or delete path.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new policy event repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Insert writes one event inside the caller's transaction so the event and
// the policy row it describes commit or roll back together.
func (r *Repository) Insert(ctx context.Context, tx database.Tx, event *models.RetryPolicyEvent) error {
	ctx, span := tracing.StartSpan(ctx, "policyevent.Repository.Insert")
	defer span.End()

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(models.RetryPolicyEvent{}.TableName())
	sb.Cols(columns...)
	sb.Values(event.ID, event.JobType, event.Action, event.PresetKey, event.BeforePolicy, event.AfterPolicy, event.ActorUserID, event.Note, event.CreatedAt)

	query, args := sb.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to insert policy event")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to record policy event")
	}

	return nil
}

// GetByID retrieves a single event.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.RetryPolicyEvent, error) {
	ctx, span := tracing.StartSpan(ctx, "policyevent.Repository.GetByID")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(models.RetryPolicyEvent{}.TableName())
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var event models.RetryPolicyEvent
	if err := r.db.GetContext(ctx, &event, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, "policy event not found")
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get policy event")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get policy event")
	}

	return &event, nil
}

// ListByJobType retrieves one page of events for a job type, newest first.
func (r *Repository) ListByJobType(ctx context.Context, jobType models.JobType, page, pageSize int) ([]models.RetryPolicyEvent, int, error) {
	ctx, span := tracing.StartSpan(ctx, "policyevent.Repository.ListByJobType")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	// Count total
	countSb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	countSb.Select("COUNT(*)")
	countSb.From(models.RetryPolicyEvent{}.TableName())
	countSb.Where(countSb.Equal("job_type", jobType))

	countQuery, countArgs := countSb.Build()
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count policy events")
		return nil, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count policy events")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(models.RetryPolicyEvent{}.TableName())
	sb.Where(sb.Equal("job_type", jobType))
	sb.OrderBy("created_at DESC")
	sb.Limit(pageSize)
	sb.Offset(offset)

	query, args := sb.Build()
	var events []models.RetryPolicyEvent
	if err := r.db.SelectContext(ctx, &events, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list policy events")
		return nil, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list policy events")
	}

	return events, total, nil
}

// LatestByJobType retrieves the most recent event for a job type, or nil when
// the job type has never been mutated.
func (r *Repository) LatestByJobType(ctx context.Context, jobType models.JobType) (*models.RetryPolicyEvent, error) {
	ctx, span := tracing.StartSpan(ctx, "policyevent.Repository.LatestByJobType")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(models.RetryPolicyEvent{}.TableName())
	sb.Where(sb.Equal("job_type", jobType))
	sb.OrderBy("created_at DESC")
	sb.Limit(1)

	query, args := sb.Build()
	var event models.RetryPolicyEvent
	if err := r.db.GetContext(ctx, &event, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get latest policy event")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get latest policy event")
	}

	return &event, nil
}
